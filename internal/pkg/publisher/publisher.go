package publisher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/contxt"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

var errAlreadyRegistered = errors.New("publisher already registered")

const (
	DefaultQueueSize = 256
	DefaultTimeout   = 5 * time.Second
	maxBatch         = 64
)

// Batch is what a publisher receives per flush: the raw events, plus the house
// sensors whose value changed since the previous flush.
type Batch struct {
	Events  []model.Event
	Sensors []model.SensorState
}

type publisher interface {
	Write(ctx context.Context, batch Batch) error
}

// sensorRegistrar is implemented by publishers that announce sensors up front,
// such as Home Assistant discovery.
type sensorRegistrar interface {
	RegisterSensors(ctx context.Context, sensors []model.SensorState) error
}

// Registry fans simulation events out to named publishers. Publish never blocks
// the simulation; Run does the writes.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]publisher

	sensors sync.Map
	queue   chan model.Event
	timeout time.Duration
}

func New(queueSize int, timeout time.Duration) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		publishers: make(map[string]publisher),
		queue:      make(chan model.Event, queueSize),
		timeout:    timeout,
	}
}

func (r *Registry) RegisterPublisher(name string, p publisher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.publishers[name]; ok {
		return errAlreadyRegistered
	}
	r.publishers[name] = p
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.publishers)
}

// Publish queues an event. When the queue is full the event is dropped.
func (r *Registry) Publish(ev model.Event) {
	select {
	case r.queue <- ev:
	default:
		zap.L().Warn("publisher queue full, dropping event", zap.Stringer("type", ev.Type))
	}
}

// RegisterSensors announces the sensors derived from update to every publisher
// that supports it.
func (r *Registry) RegisterSensors(ctx context.Context, update model.PowerUpdate) error {
	sensors := Sensors(update)
	for name, p := range r.snapshot() {
		registrar, ok := p.(sensorRegistrar)
		if !ok {
			continue
		}
		if err := registrar.RegisterSensors(contxt.WithTimeout(ctx, r.timeout), sensors); err != nil {
			zap.L().Error("failed to register sensors", zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("registered sensors", zap.Int("count", len(sensors)), zap.String("publisher", name))
	}
	return nil
}

// Run writes queued events until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.queue:
			batch := []model.Event{ev}
		drain:
			for len(batch) < maxBatch {
				select {
				case ev := <-r.queue:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			r.flush(ctx, batch)
		}
	}
}

func (r *Registry) flush(ctx context.Context, events []model.Event) {
	batch := Batch{Events: events, Sensors: r.changedSensors(events)}
	for name, p := range r.snapshot() {
		if err := p.Write(contxt.WithTimeout(ctx, r.timeout), batch); err != nil {
			zap.L().Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		zap.L().Debug("published events", zap.Int("events", len(events)), zap.Int("sensors", len(batch.Sensors)), zap.String("publisher", name))
	}
}

func (r *Registry) snapshot() map[string]publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]publisher, len(r.publishers))
	for name, p := range r.publishers {
		out[name] = p
	}
	return out
}

// changedSensors derives sensor values from the latest snapshot in events and
// keeps only those that differ from what was last published.
func (r *Registry) changedSensors(events []model.Event) []model.SensorState {
	var latest *model.PowerUpdate
	for _, ev := range events {
		if ev.Type == model.EventPowerUpdate && ev.Update != nil {
			latest = ev.Update
		}
	}
	if latest == nil {
		return nil
	}
	changed := make([]model.SensorState, 0)
	for _, s := range Sensors(*latest) {
		if r.shouldUpdate(s.Slug, s.Value) {
			changed = append(changed, s)
		}
	}
	return changed
}

func (r *Registry) shouldUpdate(key, newValue string) bool {
	oldValue, exists := r.sensors.Load(key)
	if exists && strings.EqualFold(newValue, oldValue.(string)) {
		return false
	}
	if !exists {
		zap.L().Info("configured sensor", zap.String("sensor", key), zap.String("value", newValue))
	}
	r.sensors.Store(key, newValue)
	return true
}

// Sensors flattens a snapshot into the house-level and per-device sensors.
func Sensors(update model.PowerUpdate) []model.SensorState {
	status := update.OverloadStatus
	out := []model.SensorState{
		sensor("Power", strconv.Itoa(update.Power), "W", "power"),
		sensor("Current", decimal(update.Current, 2), "A", "current"),
		sensor("Load Percentage", decimal(status.Percentage, 1), "%", ""),
		sensor("Efficiency Score", strconv.Itoa(update.EfficiencyScore), "", ""),
		sensor("Efficiency Level", update.EfficiencyLevel.String(), "", ""),
		sensor("Fuse State", fuseState(status), "", ""),
		sensor("Overload Count", strconv.Itoa(update.SessionStats.OverloadCount), "", ""),
	}
	for _, room := range update.HouseLayout.Bedrooms {
		out = append(out, deviceSensors(room)...)
	}
	for _, id := range sortedKeys(update.HouseLayout.Rooms) {
		out = append(out, deviceSensors(update.HouseLayout.Rooms[id])...)
	}
	return out
}

func deviceSensors(room model.RoomView) []model.SensorState {
	out := make([]model.SensorState, 0, len(room.Devices))
	for _, kind := range sortedKeys(room.Devices) {
		d := room.Devices[kind]
		value := "off"
		if d.Active {
			value = "on"
		}
		out = append(out, sensor(fmt.Sprintf("%s %s", room.Name, d.Name), value, "", ""))
	}
	return out
}

func sensor(name, value, unit, class string) model.SensorState {
	return model.SensorState{
		Slug:  strings.ReplaceAll(slug.Make(name), "-", "_"),
		Name:  name,
		Value: value,
		Unit:  unit,
		Class: class,
	}
}

func decimal(v float64, places int) string {
	value := new(big.Rat)
	if value.SetFloat64(v) == nil {
		return "0"
	}
	return value.FloatString(places)
}

func fuseState(status model.OverloadStatus) string {
	switch {
	case status.FuseTripped && status.CanResetFuse:
		return "resettable"
	case status.FuseTripped:
		return "tripped"
	case status.OverloadWarning:
		return "warning"
	default:
		return "normal"
	}
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
