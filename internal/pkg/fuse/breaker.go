package fuse

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

type State int

const (
	Normal State = iota
	Warning
	Tripped
	Resettable // tripped, and the cool-down delay has elapsed.
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Tripped:
		return "tripped"
	case Resettable:
		return "resettable"
	default:
		return "unknown"
	}
}

const (
	MessageTripped       = "Overload! Fuse triggered to prevent damage."
	MessageStillTripped  = "Fuse is tripped. Power usage too high."
	MessageWarning       = "High power usage detected. Consider turning off some devices."
	MessageNormal        = "System operating normally"
	MessageReset         = "Fuse reset successfully. Power restored."
	MessageNotResettable = "Cannot reset fuse yet. Please wait."
)

const (
	DefaultThreshold    = 4000
	DefaultSafetyMargin = 500
	DefaultTripDelay    = 5 * time.Second
)

var ErrNotResettable = errors.New("fuse is not resettable yet")

type Settings struct {
	Threshold    int
	SafetyMargin int
	TripDelay    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Threshold:    DefaultThreshold,
		SafetyMargin: DefaultSafetyMargin,
		TripDelay:    DefaultTripDelay,
	}
}

// Model returns the settings in their wire shape.
func (s Settings) Model() model.OverloadSettings {
	return model.OverloadSettings{
		Threshold:    s.Threshold,
		TripDelay:    s.TripDelay.Milliseconds(),
		SafetyMargin: s.SafetyMargin,
	}
}

// Outcome is the result of evaluating a power reading.
type Outcome struct {
	State       State
	JustTripped bool
	Message     string
}

type Option func(*Breaker)

// WithClock overrides the wall clock used for trip timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// OnResettable registers a callback invoked, outside the breaker lock, once the
// trip delay has elapsed.
func OnResettable(fn func()) Option {
	return func(b *Breaker) {
		b.onResettable = fn
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// Breaker simulates the house fuse. It trips when power exceeds the threshold and
// only accepts a manual reset once the trip delay has passed.
type Breaker struct {
	settings     Settings
	logger       *zap.Logger
	now          func() time.Time
	onResettable func()

	mu         sync.Mutex
	tripped    bool
	resettable bool
	warning    bool
	trippedAt  time.Time
	timer      *time.Timer
	generation uint64
}

func New(settings Settings, opts ...Option) *Breaker {
	b := &Breaker{
		settings: settings,
		logger:   zap.L(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Settings() Settings {
	return b.settings
}

// Evaluate feeds the current total power into the state machine.
func (b *Breaker) Evaluate(power int) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	if power > b.settings.Threshold {
		if b.tripped {
			return Outcome{State: b.stateLocked(), Message: MessageStillTripped}
		}
		b.tripped = true
		b.resettable = false
		b.trippedAt = b.now()
		b.scheduleLocked()
		b.logger.Warn("fuse tripped",
			zap.Int("power", power),
			zap.Int("threshold", b.settings.Threshold),
			zap.Duration("trip_delay", b.settings.TripDelay),
		)
		return Outcome{State: Tripped, JustTripped: true, Message: MessageTripped}
	}
	if b.tripped {
		return Outcome{State: b.stateLocked(), Message: MessageStillTripped}
	}
	b.warning = power > b.settings.Threshold-b.settings.SafetyMargin
	if b.warning {
		return Outcome{State: Warning, Message: MessageWarning}
	}
	return Outcome{State: Normal, Message: MessageNormal}
}

func (b *Breaker) scheduleLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.generation++
	gen := b.generation
	b.timer = time.AfterFunc(b.settings.TripDelay, func() {
		b.fire(gen)
	})
}

func (b *Breaker) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || !b.tripped {
		b.mu.Unlock()
		return
	}
	b.resettable = true
	b.timer = nil
	b.mu.Unlock()

	b.logger.Info("fuse resettable")
	if b.onResettable != nil {
		b.onResettable()
	}
}

// Reset closes a tripped fuse. It fails with ErrNotResettable until the trip
// delay has elapsed.
func (b *Breaker) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.resettable {
		return ErrNotResettable
	}
	b.clearLocked()
	b.logger.Info("fuse reset")
	return nil
}

// Clear returns the breaker to Normal unconditionally and cancels a pending
// trip-delay timer.
func (b *Breaker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

func (b *Breaker) clearLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
	b.tripped = false
	b.resettable = false
	b.warning = false
	b.trippedAt = time.Time{}
}

func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	switch {
	case b.tripped && b.resettable:
		return Resettable
	case b.tripped:
		return Tripped
	case b.warning:
		return Warning
	default:
		return Normal
	}
}

// Status reports the breaker state for the given reading without changing it.
func (b *Breaker) Status(power int, amps float64) model.OverloadStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := model.OverloadStatus{
		CurrentPower:    power,
		CurrentAmps:     amps,
		Threshold:       b.settings.Threshold,
		SafetyMargin:    b.settings.SafetyMargin,
		FuseTripped:     b.tripped,
		CanResetFuse:    b.resettable,
		OverloadWarning: b.warning,
		Message:         MessageNormal,
	}
	if b.settings.Threshold > 0 {
		status.Percentage = float64(power) / float64(b.settings.Threshold) * 100
	}
	if b.tripped {
		at := b.trippedAt.UnixMilli()
		status.FuseTripTime = &at
		status.Message = MessageStillTripped
	} else if b.warning {
		status.Message = MessageWarning
	}
	return status
}

// Close stops a pending timer. The breaker must not be used afterwards.
func (b *Breaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
}
