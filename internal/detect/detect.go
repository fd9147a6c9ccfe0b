// Package detect holds the controller's detection pipeline: a small set of
// stateless-or-nearly-so probes that each inspect a snapshot.Pair and emit
// typed events for drivers that look like they need a caution.
package detect

import (
	"time"

	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// EventType identifies what a Detector observed. The enumeration is closed
// for this controller's five concrete detectors but nothing prevents a
// further implementation of Detector from introducing a new type value.
type EventType string

const (
	EventRandom   EventType = "random"
	EventStopped  EventType = "stopped"
	EventOffTrack EventType = "off-track"
	EventTowing   EventType = "towing"
	EventMeatball EventType = "meatball"
)

// NoDriverSlot is the sentinel slot index used by the Random Detector,
// which has no offending driver to point at.
const NoDriverSlot = -1

// Event is a single detection: what was observed, against which driver
// (snapshot.Driver, copied — not a live reference), and when.
type Event struct {
	Type      EventType
	Driver    snapshot.Driver
	Timestamp time.Time
}

// IsDriverless reports whether this event carries no real driver, which is
// true only for random events. Driverless events are cluster-neutral: the
// aggregator assigns them to every cluster rather than trying to place them
// spatially.
func (e Event) IsDriverless() bool {
	return e.Driver.SlotIndex == NoDriverSlot
}

// State bundles the information a Detector needs to decide whether it
// should run at all this tick.
type State struct {
	Now              time.Time
	LapsSinceStart   int
	SupervisorState  string
	RaceStartTime    time.Time
	RaceStartKnown   bool
}

// Detector is the uniform capability every detection probe implements.
// ShouldRun lets the pipeline skip a detector outside its configured
// window (e.g. Random only runs once the race-start eligibility window is
// known); Detect performs the actual inspection.
type Detector interface {
	ShouldRun(state State) bool
	Detect(pair snapshot.Pair, now time.Time) []Event
}
