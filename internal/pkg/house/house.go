package house

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

// DefaultVoltage is the nominal supply voltage used to derive current.
const DefaultVoltage = 230.0

// BedroomsGroup names the list-shaped part of the layout.
const BedroomsGroup = "bedrooms"

var (
	ErrUnknownDevice = errors.New("unknown device")
	errDuplicateID   = errors.New("duplicate device id")
)

type Device struct {
	ID     string
	Kind   model.DeviceKind
	Name   string
	Watts  int
	Active bool
}

type Room struct {
	ID      string
	Name    string
	Group   string
	devices map[model.DeviceKind]*Device
	order   []model.DeviceKind
}

// Devices returns the room's devices in declaration order.
func (r *Room) Devices() []*Device {
	return lo.Map(r.order, func(k model.DeviceKind, _ int) *Device {
		return r.devices[k]
	})
}

// RoomPlan describes a room at construction time.
type RoomPlan struct {
	ID      string
	Name    string
	Group   string
	Devices []DevicePlan
}

type DevicePlan struct {
	Kind model.DeviceKind
	Name string // defaults to the catalog name.
}

// Topology is the fixed set of rooms and devices of the simulated house.
// It is not safe for concurrent use; the simulation serialises access.
type Topology struct {
	rooms   []*Room
	byID    map[string]*Room
	voltage float64
}

// Aggregate is the derived electrical load of the house.
type Aggregate struct {
	TotalPower    int
	TotalCurrent  float64
	ActiveDevices []model.ActiveDevice
}

func DefaultPlan() []RoomPlan {
	bedroom := func(id, name string) RoomPlan {
		return RoomPlan{ID: id, Name: name, Group: BedroomsGroup, Devices: []DevicePlan{
			{Kind: model.TubeLight}, {Kind: model.Fan}, {Kind: model.AC},
		}}
	}
	return []RoomPlan{
		bedroom("bedroom1", "Bedroom 1"),
		bedroom("bedroom2", "Bedroom 2"),
		{ID: "hall", Name: "Hall", Devices: []DevicePlan{
			{Kind: model.TubeLight}, {Kind: model.Fan},
		}},
		{ID: "kitchen", Name: "Kitchen", Devices: []DevicePlan{
			{Kind: model.TubeLight}, {Kind: model.Fridge}, {Kind: model.Grinder},
		}},
		{ID: "washroom", Name: "Washroom", Devices: []DevicePlan{
			{Kind: model.TubeLight}, {Kind: model.WaterHeater},
		}},
		{ID: "garden", Name: "Garden", Devices: []DevicePlan{
			{Kind: model.TubeLight, Name: "Garden Light"},
		}},
	}
}

// New builds a topology from plans. Device ids are "<roomId>_<kind>" and must be
// unique across the house.
func New(voltage float64, plans []RoomPlan) (*Topology, error) {
	if voltage <= 0 {
		voltage = DefaultVoltage
	}
	t := &Topology{
		byID:    make(map[string]*Room, len(plans)),
		voltage: voltage,
	}
	seen := map[string]struct{}{}
	for _, plan := range plans {
		if _, exists := t.byID[plan.ID]; exists {
			return nil, fmt.Errorf("%w: room %s", errDuplicateID, plan.ID)
		}
		room := &Room{
			ID:      plan.ID,
			Name:    plan.Name,
			Group:   plan.Group,
			devices: make(map[model.DeviceKind]*Device, len(plan.Devices)),
		}
		for _, dp := range plan.Devices {
			entry, ok := model.Catalog[dp.Kind]
			if !ok {
				return nil, fmt.Errorf("%w: %s in room %s", ErrUnknownDevice, dp.Kind, plan.ID)
			}
			id := fmt.Sprintf("%s_%s", plan.ID, dp.Kind)
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: %s", errDuplicateID, id)
			}
			seen[id] = struct{}{}
			name := dp.Name
			if name == "" {
				name = entry.Name
			}
			room.devices[dp.Kind] = &Device{ID: id, Kind: dp.Kind, Name: name, Watts: entry.Watts}
			room.order = append(room.order, dp.Kind)
		}
		t.rooms = append(t.rooms, room)
		t.byID[room.ID] = room
	}
	return t, nil
}

// NewDefault builds the standard house.
func NewDefault(voltage float64) *Topology {
	t, err := New(voltage, DefaultPlan())
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Topology) Voltage() float64 {
	return t.voltage
}

func (t *Topology) Rooms() []*Room {
	return t.rooms
}

func (t *Topology) devices() []*Device {
	return lo.FlatMap(t.rooms, func(r *Room, _ int) []*Device {
		return r.Devices()
	})
}

func (t *Topology) Lookup(roomID string, kind model.DeviceKind) (*Device, error) {
	room, ok := t.byID[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %q", ErrUnknownDevice, roomID)
	}
	device, ok := room.devices[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q in room %q", ErrUnknownDevice, kind, roomID)
	}
	return device, nil
}

// Toggle flips the active flag of a device and returns it.
func (t *Topology) Toggle(roomID string, kind model.DeviceKind) (*Device, error) {
	device, err := t.Lookup(roomID, kind)
	if err != nil {
		return nil, err
	}
	device.Active = !device.Active
	return device, nil
}

// Reset switches every device off.
func (t *Topology) Reset() {
	for _, d := range t.devices() {
		d.Active = false
	}
}

// Aggregate sums the rated power of all active devices.
func (t *Topology) Aggregate() Aggregate {
	active := lo.Filter(t.devices(), func(d *Device, _ int) bool {
		return d.Active
	})
	total := lo.SumBy(active, func(d *Device) int {
		return d.Watts
	})
	return Aggregate{
		TotalPower:   total,
		TotalCurrent: float64(total) / t.voltage,
		ActiveDevices: lo.Map(active, func(d *Device, _ int) model.ActiveDevice {
			return model.ActiveDevice{ID: d.ID, Kind: d.Kind, Power: d.Watts}
		}),
	}
}

// Layout renders the topology in its wire shape.
func (t *Topology) Layout() model.HouseLayout {
	layout := model.HouseLayout{
		Bedrooms: []model.RoomView{},
		Rooms:    map[string]model.RoomView{},
	}
	for _, room := range t.rooms {
		view := model.RoomView{
			ID:      room.ID,
			Name:    room.Name,
			Devices: make(map[model.DeviceKind]model.DeviceView, len(room.devices)),
		}
		for _, d := range room.Devices() {
			view.Devices[d.Kind] = model.DeviceView{ID: d.ID, Name: d.Name, Kind: d.Kind, Power: d.Watts, Active: d.Active}
		}
		if room.Group == BedroomsGroup {
			layout.Bedrooms = append(layout.Bedrooms, view)
			continue
		}
		layout.Rooms[room.ID] = view
	}
	return layout
}
