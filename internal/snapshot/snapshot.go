// Package snapshot builds the double-buffered (previous, current) driver
// view that every detector reads from. It owns no long-lived driver
// objects: each tick it is rebuilt wholesale from the telemetry source.
package snapshot

import (
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

// Driver is one fleet slot's derived state for a single tick. It is a
// value type so snapshots can be copied freely between detectors without
// risking shared mutation.
type Driver struct {
	SlotIndex        int
	CarNumber        string
	ClassID          int
	ClassLapTime     float64
	LapsCompleted    int
	CurrentLap       int
	LapProgress      float64
	CompositeProgress float64
	Surface          telemetry.Surface
	OnPitRoad        bool
	Flags            uint32
}

// HasRepairFlag reports whether the driver's meatball (repairs required)
// flag is set.
func (d Driver) HasRepairFlag() bool {
	return d.Flags&telemetry.FlagRepair != 0
}

// InPitArea reports whether the driver is on pit road, in a pit stall, or
// approaching the pits — the union the Stopped Detector excludes.
func (d Driver) InPitArea() bool {
	return d.OnPitRoad || d.Surface == telemetry.SurfaceInPitStall || d.Surface == telemetry.SurfaceApproachingPits
}

// Pair is the (previous, current) view handed to every detector each tick.
// On the first tick Previous equals Current, so delta-based detectors see
// no deltas yet.
type Pair struct {
	Previous []Driver
	Current  []Driver

	// PaceCarSlot is the slot index of the pace car, or -1 if no pace car
	// was present in this tick's telemetry. It is retained out-of-band
	// because the Sequencer needs it even though the pace car is excluded
	// from Current/Previous.
	PaceCarSlot int

	// PaceCar is the pace car's own record for this tick, valid only when
	// PaceCarSlot >= 0. The wave-around ordering is measured relative to
	// its composite progress.
	PaceCar Driver

	// SessionType and SessionFlags mirror the World this pair was built
	// from, so the Supervisor does not need to keep its own copy of raw
	// telemetry around.
	SessionType  telemetry.SessionType
	SessionFlags uint32

	// FirstTick marks the pair built on the Snapshotter's first poll,
	// where Previous mirrors Current and zero deltas carry no meaning.
	FirstTick bool
}

// IsGreen reports whether the green-flag bit was set on the telemetry poll
// this pair was built from.
func (p Pair) IsGreen() bool {
	return p.SessionFlags&telemetry.FlagGreen != 0
}

// ByLapProgress is a less function ordering drivers by LapProgress,
// ascending.
func ByLapProgress(a, b Driver) bool { return a.LapProgress < b.LapProgress }

// Snapshotter turns a raw telemetry poll into a Pair. The pace car and
// anyone with surface not-in-world or a negative lap_progress never appear
// in Current/Previous.
type Snapshotter struct {
	source  telemetry.Source
	current []Driver
}

// New returns a Snapshotter reading from source.
func New(source telemetry.Source) *Snapshotter {
	return &Snapshotter{source: source}
}

// Tick polls the telemetry source once and returns the resulting Pair. If
// the source reports no data, Tick returns the zero Pair and ok=false; the
// caller must not advance detection state on that tick.
func (s *Snapshotter) Tick() (Pair, bool) {
	world, ok := s.source.Poll()
	if !ok {
		return Pair{}, false
	}

	previous := s.current
	current := make([]Driver, 0, len(world.Drivers))
	paceCarSlot := -1
	var paceCar Driver

	for _, rd := range world.Drivers {
		if rd.IsPaceCar {
			paceCarSlot = rd.SlotIndex
			paceCar = Driver{
				SlotIndex:         rd.SlotIndex,
				CarNumber:         rd.CarNumber,
				ClassID:           rd.ClassID,
				LapsCompleted:     rd.LapsCompleted,
				CurrentLap:        rd.CurrentLap,
				LapProgress:       rd.LapProgress,
				CompositeProgress: float64(rd.LapsCompleted) + rd.LapProgress,
				Surface:           rd.Surface,
				OnPitRoad:         rd.OnPitRoad,
			}
			continue
		}
		if rd.Surface == telemetry.SurfaceNotInWorld {
			continue
		}
		if rd.LapProgress < 0 {
			continue
		}

		current = append(current, Driver{
			SlotIndex:         rd.SlotIndex,
			CarNumber:         rd.CarNumber,
			ClassID:           rd.ClassID,
			ClassLapTime:      rd.ClassLapTime,
			LapsCompleted:     rd.LapsCompleted,
			CurrentLap:        rd.CurrentLap,
			LapProgress:       rd.LapProgress,
			CompositeProgress: float64(rd.LapsCompleted) + rd.LapProgress,
			Surface:           rd.Surface,
			OnPitRoad:         rd.OnPitRoad,
			Flags:             rd.SessionFlags,
		})
	}

	firstTick := previous == nil
	if firstTick {
		// First tick: no deltas possible, so previous mirrors current.
		previous = current
	}

	s.current = current

	return Pair{
		Previous:     previous,
		Current:      current,
		PaceCarSlot:  paceCarSlot,
		PaceCar:      paceCar,
		SessionType:  world.SessionType,
		SessionFlags: world.SessionFlags,
		FirstTick:    firstTick,
	}, true
}

// MaxLapsCompleted returns the highest LapsCompleted among drivers for
// which pred returns true, or 0 if no driver matches.
func MaxLapsCompleted(drivers []Driver, pred func(Driver) bool) int {
	max := 0
	found := false
	for _, d := range drivers {
		if !pred(d) {
			continue
		}
		if !found || d.LapsCompleted > max {
			max = d.LapsCompleted
			found = true
		}
	}
	return max
}

// Leader returns the driver with the highest CompositeProgress among
// on-world, non-pit drivers, and whether one was found.
func Leader(drivers []Driver) (Driver, bool) {
	var leader Driver
	found := false
	for _, d := range drivers {
		if d.OnPitRoad {
			continue
		}
		if !found || d.CompositeProgress > leader.CompositeProgress {
			leader = d
			found = true
		}
	}
	return leader, found
}
