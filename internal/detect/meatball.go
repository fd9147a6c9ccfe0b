package detect

import (
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// MeatballDetector flags every driver shown the meatball (repairs
// required) flag.
type MeatballDetector struct {
	Enabled bool
}

func NewMeatballDetector(enabled bool) *MeatballDetector {
	return &MeatballDetector{Enabled: enabled}
}

func (d *MeatballDetector) ShouldRun(State) bool {
	return d.Enabled
}

func (d *MeatballDetector) Detect(pair snapshot.Pair, now time.Time) []Event {
	var events []Event
	for _, cur := range pair.Current {
		if !cur.HasRepairFlag() {
			continue
		}
		events = append(events, Event{Type: EventMeatball, Driver: cur, Timestamp: now})
	}
	return events
}
