package simulation

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/badge"
	"github.com/anicoll/house-power-simulator/internal/pkg/efficiency"
	"github.com/anicoll/house-power-simulator/internal/pkg/fuse"
	"github.com/anicoll/house-power-simulator/internal/pkg/house"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/stats"
)

type Config struct {
	Voltage     float64
	Fuse        fuse.Settings
	Thresholds  efficiency.Thresholds
	HistorySize int
	Plan        []house.RoomPlan
}

func DefaultConfig() Config {
	return Config{
		Voltage:     house.DefaultVoltage,
		Fuse:        fuse.DefaultSettings(),
		Thresholds:  efficiency.DefaultThresholds(),
		HistorySize: efficiency.DefaultHistorySize,
		Plan:        house.DefaultPlan(),
	}
}

type Option func(*Simulation)

// WithClock overrides the wall clock used for scoring, history and events.
func WithClock(now func() time.Time) Option {
	return func(s *Simulation) {
		s.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulation) {
		s.logger = logger
	}
}

// Subscriber receives every event emitted by the simulation, in the order the
// state changes were applied. It is called after the simulation lock is
// released and must not issue commands back into the simulation.
type Subscriber func(model.Event)

type subscription struct {
	id int
	fn Subscriber
}

// Simulation owns the state of one simulated house. Commands are applied one at
// a time; each accepted command is evaluated once and its events are pushed to
// subscribers in subscription order.
type Simulation struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	topology *house.Topology
	breaker  *fuse.Breaker
	engine   *efficiency.Engine
	badges   *badge.Tracker
	session  *stats.Session
	closed   bool

	// pending holds events queued under mu; emitMu serialises their delivery.
	pending []model.Event
	emitMu  sync.Mutex

	subMu  sync.RWMutex
	subs   []subscription
	nextID int
}

func New(cfg Config, opts ...Option) (*Simulation, error) {
	if cfg.Plan == nil {
		cfg.Plan = house.DefaultPlan()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = efficiency.DefaultHistorySize
	}
	topology, err := house.New(cfg.Voltage, cfg.Plan)
	if err != nil {
		return nil, fmt.Errorf("building house: %w", err)
	}

	s := &Simulation{
		cfg:      cfg,
		logger:   zap.L(),
		now:      time.Now,
		topology: topology,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = fuse.New(cfg.Fuse,
		fuse.WithClock(s.now),
		fuse.WithLogger(s.logger),
		fuse.OnResettable(s.handleResettable),
	)
	s.engine = efficiency.NewEngine(cfg.Thresholds,
		efficiency.WithClock(s.now),
		efficiency.WithHistorySize(cfg.HistorySize),
	)
	s.badges = badge.NewTracker(cfg.Thresholds.Excellent)
	s.session = stats.NewSession()
	return s, nil
}

// Subscribe registers fn for all future events. The returned func removes it.
func (s *Simulation) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// queueLocked appends events in state order. Callers hold s.mu and call flush
// once it is released.
func (s *Simulation) queueLocked(events ...model.Event) {
	s.pending = append(s.pending, events...)
}

// flush delivers queued events until none are left. Only one flush runs at a
// time, so a later command never overtakes an earlier one at a subscriber.
func (s *Simulation) flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	for {
		s.mu.Lock()
		events := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(events) == 0 {
			return
		}

		s.subMu.RLock()
		subs := make([]subscription, len(s.subs))
		copy(subs, s.subs)
		s.subMu.RUnlock()

		for _, ev := range events {
			for _, sub := range subs {
				sub.fn(ev)
			}
		}
	}
}

// InitialState returns the full snapshot, including badges and history.
func (s *Simulation) InitialState() model.InitialData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.InitialData{
		PowerUpdate:       s.updateLocked(s.topology.Aggregate(), nil),
		Badges:            s.badges.Snapshot(),
		EfficiencyHistory: s.engine.History(0),
	}
}

// Refresh returns the current snapshot without history.
func (s *Simulation) Refresh() model.PowerUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(s.topology.Aggregate(), nil)
}

// ToggleDevice flips one device. Turning a device on is refused when the fuse
// is tripped or when the new total would exceed the overload threshold.
func (s *Simulation) ToggleDevice(roomID string, kind model.DeviceKind) (model.PowerUpdate, error) {
	s.mu.Lock()
	if s.breaker.Tripped() {
		s.mu.Unlock()
		s.logger.Info("device toggle rejected", zap.String("room", roomID), zap.Stringer("device", kind), zap.Error(ErrFuseTripped))
		return model.PowerUpdate{}, ErrFuseTripped
	}

	device, err := s.topology.Toggle(roomID, kind)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("device toggle ignored", zap.Error(err))
		return model.PowerUpdate{}, err
	}

	threshold := s.cfg.Fuse.Threshold
	if agg := s.topology.Aggregate(); agg.TotalPower > threshold {
		device.Active = !device.Active
		s.mu.Unlock()
		err := &OverloadError{Threshold: threshold}
		s.logger.Info("device toggle rejected",
			zap.String("device_id", device.ID),
			zap.Int("projected_power", agg.TotalPower),
			zap.Error(err),
		)
		return model.PowerUpdate{}, err
	}

	s.logger.Debug("device toggled", zap.String("device_id", device.ID), zap.Bool("active", device.Active))
	update, events := s.evaluateLocked()
	s.queueLocked(events...)
	s.mu.Unlock()

	s.flush()
	return update, nil
}

// ApplyScene switches every listed device on at once. There is no per-device
// pre-check, so a scene can overload the house and trip the fuse.
func (s *Simulation) ApplyScene(refs []model.DeviceRef) (model.PowerUpdate, error) {
	s.mu.Lock()
	if s.breaker.Tripped() {
		s.mu.Unlock()
		return model.PowerUpdate{}, ErrFuseTripped
	}

	applied := 0
	for _, ref := range refs {
		device, err := s.topology.Lookup(ref.RoomID, ref.DeviceType)
		if err != nil {
			s.logger.Warn("scene device skipped", zap.Error(err))
			continue
		}
		device.Active = true
		applied++
	}
	if applied == 0 {
		s.mu.Unlock()
		return model.PowerUpdate{}, fmt.Errorf("%w: scene has no known devices", ErrUnknownDevice)
	}

	s.logger.Debug("scene applied", zap.Int("devices", applied))
	update, events := s.evaluateLocked()
	s.queueLocked(events...)
	s.mu.Unlock()

	s.flush()
	return update, nil
}

// ResetFuse closes a tripped fuse once the trip delay has elapsed. The house is
// re-evaluated straight away, so a still overloaded house trips again.
func (s *Simulation) ResetFuse() (model.FuseReset, model.PowerUpdate, error) {
	s.mu.Lock()
	if err := s.breaker.Reset(); err != nil {
		s.mu.Unlock()
		s.logger.Info("fuse reset rejected", zap.Error(err))
		return model.FuseReset{}, model.PowerUpdate{}, err
	}

	reset := model.FuseReset{
		Message:  fuse.MessageReset,
		NewBadge: s.badges.ObserveFuseReset(s.session.OverloadCount()),
	}
	s.queueLocked(model.Event{Type: model.EventFuseReset, At: s.now(), Reset: &reset})
	update, events := s.evaluateLocked()
	s.queueLocked(events...)
	s.mu.Unlock()

	s.flush()
	return reset, update, nil
}

// ResetSimulation switches every device off and closes the fuse, cancelling a
// pending trip-delay timer. Badges, session counters and history are kept.
func (s *Simulation) ResetSimulation() model.PowerUpdate {
	s.mu.Lock()
	s.topology.Reset()
	s.breaker.Clear()
	s.engine.Reset()
	s.session.ResetDevices()
	update, events := s.evaluateLocked()
	s.queueLocked(events...)
	s.mu.Unlock()

	s.logger.Info("simulation reset")
	s.flush()
	return update
}

func (s *Simulation) OverloadReport() model.OverloadReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := s.topology.Aggregate()
	return model.OverloadReport{
		Settings: s.cfg.Fuse.Model(),
		Status:   s.breaker.Status(agg.TotalPower, agg.TotalCurrent),
	}
}

// EfficiencyReport returns the current score with up to limit history entries.
func (s *Simulation) EfficiencyReport(limit int) model.EfficiencyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.engine.Current()
	return model.EfficiencyReport{
		Score:        current.Score,
		Level:        current.Level,
		Badge:        current.Glyph(),
		Badges:       s.badges.Snapshot(),
		SessionStats: s.session.Snapshot(),
		History:      s.engine.History(limit),
	}
}

// RolloverSession closes the running usage session.
func (s *Simulation) RolloverSession() model.SessionStats {
	s.mu.Lock()
	efficient := s.session.Rollover()
	snapshot := s.session.Snapshot()
	s.queueLocked(model.Event{Type: model.EventSessionClosed, At: s.now(), Session: &snapshot})
	s.mu.Unlock()

	s.logger.Info("session closed",
		zap.Bool("efficient", efficient),
		zap.Int("total_sessions", snapshot.TotalSessions),
		zap.Int("efficient_sessions", snapshot.EfficientSessions),
	)
	s.flush()
	return snapshot
}

// Close stops the trip-delay timer and drops all subscribers.
func (s *Simulation) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.breaker.Close()
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = nil
	s.subMu.Unlock()
}

func (s *Simulation) handleResettable() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	update := s.updateLocked(s.topology.Aggregate(), nil)
	s.queueLocked(model.Event{Type: model.EventPowerUpdate, At: s.now(), Update: &update})
	s.mu.Unlock()

	s.flush()
}

// evaluateLocked runs the breaker, scoring, badges and session counters over the
// current topology and returns the resulting snapshot and events.
func (s *Simulation) evaluateLocked() (model.PowerUpdate, []model.Event) {
	agg := s.topology.Aggregate()
	deviceCount := len(agg.ActiveDevices)

	outcome := s.breaker.Evaluate(agg.TotalPower)
	if outcome.JustTripped {
		s.session.RecordOverload()
	}
	sample := s.engine.Evaluate(agg.TotalPower, agg.ActiveDevices, s.breaker.Tripped())
	s.session.Observe(deviceCount, sample.Score)
	unlocked := s.badges.ObserveEvaluation(agg.TotalPower, deviceCount)

	update := s.updateLocked(agg, unlocked)
	at := s.now()
	events := []model.Event{{Type: model.EventPowerUpdate, At: at, Update: &update, Sample: &sample}}
	if outcome.JustTripped {
		events = append(events, model.Event{
			Type: model.EventFuseTripped,
			At:   at,
			Trip: &model.FuseTripped{Tripped: true, Message: outcome.Message},
		})
	}
	for _, b := range unlocked {
		s.logger.Info("badge unlocked", zap.Stringer("badge", b.Type))
	}
	return update, events
}

func (s *Simulation) updateLocked(agg house.Aggregate, unlocked []model.NewBadge) model.PowerUpdate {
	current := s.engine.Current()
	update := model.PowerUpdate{
		HouseLayout:     s.topology.Layout(),
		Power:           agg.TotalPower,
		Current:         agg.TotalCurrent,
		OverloadStatus:  s.breaker.Status(agg.TotalPower, agg.TotalCurrent),
		EfficiencyScore: current.Score,
		EfficiencyLevel: current.Level,
		EfficiencyBadge: current.Glyph(),
		SessionStats:    s.session.Snapshot(),
	}
	if len(unlocked) > 0 {
		update.NewBadge = &unlocked[0]
		update.NewBadges = unlocked
	}
	return update
}
