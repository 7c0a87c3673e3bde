package model

type DeviceKind string

func (k DeviceKind) String() string {
	return string(k)
}

const (
	TubeLight      DeviceKind = "tubeLight"
	Fan            DeviceKind = "fan"
	AC             DeviceKind = "ac"
	Fridge         DeviceKind = "fridge"
	Grinder        DeviceKind = "grinder"
	WashingMachine DeviceKind = "washingMachine"
	WaterHeater    DeviceKind = "waterHeater"
)

// CatalogEntry is the nominal rating of a device kind.
type CatalogEntry struct {
	Kind    DeviceKind
	Name    string
	Watts   int
	Penalty float64 // efficiency penalty weight per active device.
}

const defaultPenalty = 1.0

var Catalog = map[DeviceKind]CatalogEntry{
	TubeLight:      {Kind: TubeLight, Name: "Tube Light", Watts: 40, Penalty: defaultPenalty},
	Fan:            {Kind: Fan, Name: "Fan", Watts: 60, Penalty: defaultPenalty},
	AC:             {Kind: AC, Name: "AC", Watts: 1500, Penalty: 2.0},
	Fridge:         {Kind: Fridge, Name: "Fridge", Watts: 200, Penalty: defaultPenalty},
	Grinder:        {Kind: Grinder, Name: "Grinder", Watts: 500, Penalty: defaultPenalty},
	WashingMachine: {Kind: WashingMachine, Name: "Washing Machine", Watts: 1000, Penalty: defaultPenalty},
	WaterHeater:    {Kind: WaterHeater, Name: "Water Heater", Watts: 2000, Penalty: 1.8},
}

func (k DeviceKind) Valid() bool {
	_, ok := Catalog[k]
	return ok
}

// Penalty returns the efficiency penalty weight, 1.0 for kinds outside the catalog.
func (k DeviceKind) Penalty() float64 {
	if entry, ok := Catalog[k]; ok {
		return entry.Penalty
	}
	return defaultPenalty
}

type EfficiencyLevel string

func (l EfficiencyLevel) String() string {
	return string(l)
}

const (
	LevelExcellent EfficiencyLevel = "excellent"
	LevelGood      EfficiencyLevel = "good"
	LevelAverage   EfficiencyLevel = "average"
	LevelPoor      EfficiencyLevel = "poor"
)

var levelGlyphs = map[EfficiencyLevel]string{
	LevelExcellent: "🌱",
	LevelGood:      "🟢",
	LevelAverage:   "🟡",
	LevelPoor:      "🔴",
}

func (l EfficiencyLevel) Glyph() string {
	return levelGlyphs[l]
}

type BadgeKind string

func (b BadgeKind) String() string {
	return string(b)
}

const (
	PowerSaver  BadgeKind = "powerSaver"
	EcoWarrior  BadgeKind = "ecoWarrior"
	Minimalist  BadgeKind = "minimalist"
	GreenMaster BadgeKind = "greenMaster"
)

// EventType doubles as the websocket message type pushed to clients.
type EventType string

func (e EventType) String() string {
	return string(e)
}

const (
	EventInitialData          EventType = "initialData"
	EventPowerUpdate          EventType = "powerUpdate"
	EventFuseTripped          EventType = "fuseTripped"
	EventFuseReset            EventType = "fuseReset"
	EventFuseResetRejected    EventType = "fuseResetRejected"
	EventDeviceToggleRejected EventType = "deviceToggleRejected"
	EventSessionClosed        EventType = "sessionClosed"
)

// CommandType is the type of a message sent by a client.
type CommandType string

func (c CommandType) String() string {
	return string(c)
}

const (
	CommandInitialData     CommandType = "initialData"
	CommandPowerUpdate     CommandType = "powerUpdate"
	CommandToggleDevice    CommandType = "toggleDevice"
	CommandApplyScene      CommandType = "applyScene"
	CommandResetFuse       CommandType = "resetFuse"
	CommandResetSimulation CommandType = "resetSimulation"
)
