package detect

import (
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

// TowDetector flags drivers that teleported to their pit stall via the
// simulator's tow interface. The tow signature is a surface transition
// straight to in-pit-stall without passing through approaching-pits or pit
// road. The emitted event carries the PREVIOUS frame's driver record: its
// lap progress reflects where the incident happened, which is the position
// the aggregator's proximity clustering cares about.
type TowDetector struct {
	Enabled bool
}

func NewTowDetector(enabled bool) *TowDetector {
	return &TowDetector{Enabled: enabled}
}

func (d *TowDetector) ShouldRun(State) bool {
	return d.Enabled
}

func (d *TowDetector) Detect(pair snapshot.Pair, now time.Time) []Event {
	if pair.FirstTick {
		return nil
	}
	previousBySlot := make(map[int]snapshot.Driver, len(pair.Previous))
	for _, p := range pair.Previous {
		previousBySlot[p.SlotIndex] = p
	}

	var events []Event
	for _, cur := range pair.Current {
		if cur.Surface != telemetry.SurfaceInPitStall {
			continue
		}
		prev, ok := previousBySlot[cur.SlotIndex]
		if !ok {
			continue
		}
		if prev.Surface == telemetry.SurfaceInPitStall || prev.Surface == telemetry.SurfaceApproachingPits {
			continue
		}
		if prev.OnPitRoad {
			continue
		}
		events = append(events, Event{Type: EventTowing, Driver: prev, Timestamp: now})
	}
	return events
}
