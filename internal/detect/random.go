package detect

import (
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// RandomDetector emits a driverless random event with probability P each
// tick it runs, up to MaxOccurrences total. It exists to inject caution
// variety independent of car behavior. MaxOccurrences is a soft cap on
// attempted trips, not delivered cautions — the hard cap on delivered
// cautions lives in the Supervisor's eligibility gate.
type RandomDetector struct {
	Enabled        bool
	P              float64
	MaxOccurrences int

	// EarliestMinute and LatestMinute bound the race-time window inside
	// which the detector runs at all; they mirror the Supervisor's
	// eligibility gate so a random draw cannot occur before the race is
	// old enough for a caution to be deliverable.
	EarliestMinute int
	LatestMinute   int

	// Rand returns a uniform draw in [0,1). NewRandomDetector stores the
	// function it is given; supervisor.New defaults it to math/rand's
	// top-level Float64, and tests pass a fixed draw.
	Rand func() float64

	remaining int
	seeded    bool
}

// NewRandomDetector returns a RandomDetector configured with the given
// probability and occurrence budget.
func NewRandomDetector(enabled bool, p float64, maxOccurrences int, rand func() float64) *RandomDetector {
	return &RandomDetector{
		Enabled:        enabled,
		P:              p,
		MaxOccurrences: maxOccurrences,
		Rand:           rand,
	}
}

func (d *RandomDetector) ShouldRun(state State) bool {
	if !d.Enabled {
		return false
	}
	if !d.seeded {
		d.remaining = d.MaxOccurrences
		d.seeded = true
	}
	if d.remaining <= 0 {
		return false
	}
	if !state.RaceStartKnown {
		return false
	}
	minutes := int(state.Now.Sub(state.RaceStartTime).Minutes())
	if minutes < d.EarliestMinute {
		return false
	}
	if d.LatestMinute > 0 && minutes > d.LatestMinute {
		return false
	}
	return true
}

func (d *RandomDetector) Detect(_ snapshot.Pair, now time.Time) []Event {
	if d.remaining <= 0 {
		return nil
	}
	if d.Rand() >= d.P {
		return nil
	}
	d.remaining--
	return []Event{{
		Type:      EventRandom,
		Driver:    snapshot.Driver{SlotIndex: NoDriverSlot},
		Timestamp: now,
	}}
}
