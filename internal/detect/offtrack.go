package detect

import (
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

// OffTrackDetector flags every driver whose surface classification is
// off-track and who is not on pit road.
type OffTrackDetector struct {
	Enabled bool
}

func NewOffTrackDetector(enabled bool) *OffTrackDetector {
	return &OffTrackDetector{Enabled: enabled}
}

func (d *OffTrackDetector) ShouldRun(State) bool {
	return d.Enabled
}

func (d *OffTrackDetector) Detect(pair snapshot.Pair, now time.Time) []Event {
	var events []Event
	for _, cur := range pair.Current {
		if cur.Surface != telemetry.SurfaceOffTrack {
			continue
		}
		if cur.OnPitRoad {
			continue
		}
		events = append(events, Event{Type: EventOffTrack, Driver: cur, Timestamp: now})
	}
	return events
}
