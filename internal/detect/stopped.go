package detect

import (
	"log/slog"
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// DefaultStoppedLagFraction is the fraction of the fleet size used to
// derive a default lag threshold when one is not configured: if a tick's
// zero-delta count exceeds this fraction of the field, the tick is treated
// as a telemetry stall rather than a fleet full of stopped cars.
const DefaultStoppedLagFraction = 0.75

// StoppedDetector flags drivers whose composite progress is bitwise
// unchanged between the previous and current snapshot, excluding anyone in
// the pit area (on pit road, in a pit stall, or approaching the pits). A
// tick where an implausibly large share of the field reports zero delta is
// treated as a telemetry stall and suppressed entirely, defending against
// a frozen shared-memory block masquerading as a frozen field.
type StoppedDetector struct {
	Enabled      bool
	LagThreshold int
}

// NewStoppedDetector returns a StoppedDetector. If lagThreshold <= 0, it is
// derived from fleetSize using DefaultStoppedLagFraction.
func NewStoppedDetector(enabled bool, lagThreshold, fleetSize int) *StoppedDetector {
	if lagThreshold <= 0 {
		lagThreshold = int(float64(fleetSize) * DefaultStoppedLagFraction)
	}
	return &StoppedDetector{Enabled: enabled, LagThreshold: lagThreshold}
}

func (d *StoppedDetector) ShouldRun(State) bool {
	return d.Enabled
}

func (d *StoppedDetector) Detect(pair snapshot.Pair, now time.Time) []Event {
	if pair.FirstTick {
		// Previous mirrors Current on the first tick; the trivial zero
		// deltas are not evidence of a stopped car.
		return nil
	}
	previousBySlot := make(map[int]snapshot.Driver, len(pair.Previous))
	for _, p := range pair.Previous {
		previousBySlot[p.SlotIndex] = p
	}

	var candidates []snapshot.Driver
	for _, cur := range pair.Current {
		if cur.InPitArea() {
			continue
		}
		prev, ok := previousBySlot[cur.SlotIndex]
		if !ok {
			continue
		}
		if cur.CompositeProgress == prev.CompositeProgress {
			candidates = append(candidates, cur)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	if d.LagThreshold > 0 && len(candidates) > d.LagThreshold {
		slog.Warn("suspected telemetry stall: suppressing stopped events",
			"component", "detect.stopped", "zero_delta_count", len(candidates), "lag_threshold", d.LagThreshold)
		return nil
	}

	events := make([]Event, 0, len(candidates))
	for _, c := range candidates {
		events = append(events, Event{Type: EventStopped, Driver: c, Timestamp: now})
	}
	return events
}
