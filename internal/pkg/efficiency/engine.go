package efficiency

import (
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

const (
	DefaultHistorySize = 100
	maxScore           = 100

	peakMultiplier    = 1.2
	offPeakMultiplier = 0.8
	normalMultiplier  = 1.0
)

// Thresholds are the power boundaries, in watts, between efficiency levels.
type Thresholds struct {
	Excellent int
	Average   int
	Poor      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 2500, Average: 4000, Poor: 4000}
}

// Result is the most recent efficiency evaluation.
type Result struct {
	Score int
	Level model.EfficiencyLevel
}

func (r Result) Glyph() string {
	return r.Level.Glyph()
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithHistorySize(n int) Option {
	return func(e *Engine) {
		e.history = NewRing[model.HistoryEntry](n)
	}
}

// Engine scores power usage and keeps a bounded history of evaluations.
// It is not safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	now        func() time.Time
	history    *Ring[model.HistoryEntry]
	current    Result
}

func NewEngine(thresholds Thresholds, opts ...Option) *Engine {
	e := &Engine{
		thresholds: thresholds,
		now:        time.Now,
		history:    NewRing[model.HistoryEntry](DefaultHistorySize),
		current:    Result{Score: maxScore, Level: model.LevelExcellent},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// TimeMultiplier weights device penalties by local hour. The evening peak wins
// where it overlaps the off-peak window at 22:00.
func TimeMultiplier(hour int) float64 {
	switch {
	case hour >= 18 && hour <= 22:
		return peakMultiplier
	case hour >= 22 || hour <= 6:
		return offPeakMultiplier
	default:
		return normalMultiplier
	}
}

// Score computes the 0-100 efficiency score for a reading taken at the given hour.
func (e *Engine) Score(power int, active []model.ActiveDevice, hour int) int {
	score := float64(maxScore)
	switch {
	case power > e.thresholds.Poor:
		score -= 40
	case power > e.thresholds.Average:
		score -= 20
	case power > e.thresholds.Excellent:
		score -= 10
	}

	penalty := lo.SumBy(active, func(d model.ActiveDevice) float64 {
		return d.Kind.Penalty()
	})
	score -= penalty * TimeMultiplier(hour)

	return int(math.Round(math.Max(0, math.Min(maxScore, score))))
}

func (e *Engine) LevelFor(power int, tripped bool) model.EfficiencyLevel {
	switch {
	case power > e.thresholds.Poor || tripped:
		return model.LevelPoor
	case power > e.thresholds.Average:
		return model.LevelAverage
	case power > e.thresholds.Excellent:
		return model.LevelGood
	default:
		return model.LevelExcellent
	}
}

// Evaluate scores the reading, records it as the current result and appends it
// to the history.
func (e *Engine) Evaluate(power int, active []model.ActiveDevice, tripped bool) model.HistoryEntry {
	now := e.now()
	e.current = Result{
		Score: e.Score(power, active, now.Hour()),
		Level: e.LevelFor(power, tripped),
	}
	entry := model.HistoryEntry{
		Timestamp:   now.UnixMilli(),
		Power:       power,
		Score:       e.current.Score,
		Level:       e.current.Level,
		DeviceCount: len(active),
	}
	e.history.Push(entry)
	return entry
}

func (e *Engine) Current() Result {
	return e.current
}

// History returns up to n of the latest entries, oldest first. n <= 0 returns
// the whole buffer.
func (e *Engine) History(n int) []model.HistoryEntry {
	return e.history.Tail(n)
}

// Reset restores a perfect score. The history is kept.
func (e *Engine) Reset() {
	e.current = Result{Score: maxScore, Level: model.LevelExcellent}
}
