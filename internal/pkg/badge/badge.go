package badge

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

// Definition describes an achievement and how much progress unlocks it.
type Definition struct {
	Kind        model.BadgeKind
	Name        string
	Description string
	Required    int
}

var Definitions = []Definition{
	{Kind: model.PowerSaver, Name: "Power Saver", Description: "Achieved 5+ efficient sessions", Required: 5},
	{Kind: model.EcoWarrior, Name: "Eco Warrior", Description: "3 days without overload", Required: 3},
	{Kind: model.Minimalist, Name: "Minimalist", Description: "Used max 3 devices simultaneously", Required: 3},
	{Kind: model.GreenMaster, Name: "Green Master", Description: "Achieved 10+ efficient sessions", Required: 10},
}

type progress struct {
	def      Definition
	count    int
	unlocked atomic.Bool
}

// unlock latches the badge. It reports true only for the call that flipped it.
func (p *progress) unlock() bool {
	return p.unlocked.CompareAndSwap(false, true)
}

func (p *progress) announce() model.NewBadge {
	return model.NewBadge{Type: p.def.Kind, Name: p.def.Name, Description: p.def.Description}
}

// Tracker counts progress towards each badge. Unlocks are permanent; a badge is
// announced exactly once. Callers serialise access.
type Tracker struct {
	efficientWatts int
	badges         map[model.BadgeKind]*progress
}

// NewTracker builds a tracker that counts readings at or below efficientWatts as
// efficient.
func NewTracker(efficientWatts int) *Tracker {
	return &Tracker{
		efficientWatts: efficientWatts,
		badges: lo.SliceToMap(Definitions, func(d Definition) (model.BadgeKind, *progress) {
			return d.Kind, &progress{def: d}
		}),
	}
}

// ObserveEvaluation records one efficiency evaluation and returns the badges it
// unlocked, in definition order.
func (t *Tracker) ObserveEvaluation(power, deviceCount int) []model.NewBadge {
	efficient := power <= t.efficientWatts

	var unlocked []model.NewBadge
	for _, def := range Definitions {
		p := t.badges[def.Kind]
		switch def.Kind {
		case model.PowerSaver, model.GreenMaster:
			if !efficient {
				continue
			}
			p.count++
			if p.count < def.Required {
				continue
			}
		case model.Minimalist:
			if deviceCount <= 0 || deviceCount > 3 {
				continue
			}
			p.count = max(p.count, deviceCount)
			if deviceCount < def.Required {
				continue
			}
		default:
			continue
		}
		if p.unlock() {
			unlocked = append(unlocked, p.announce())
		}
	}
	return unlocked
}

// ObserveFuseReset counts a successful fuse reset towards Eco Warrior. Progress
// is only made while no overload has been recorded.
func (t *Tracker) ObserveFuseReset(overloadCount int) *model.NewBadge {
	if overloadCount != 0 {
		return nil
	}
	p := t.badges[model.EcoWarrior]
	p.count++
	if p.count >= p.def.Required && p.unlock() {
		b := p.announce()
		return &b
	}
	return nil
}

func (t *Tracker) Snapshot() model.Badges {
	out := make(model.Badges, len(t.badges))
	for kind, p := range t.badges {
		out[kind] = model.BadgeState{
			Unlocked: p.unlocked.Load(),
			Count:    p.count,
			Required: p.def.Required,
		}
	}
	return out
}
