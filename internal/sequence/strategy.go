package sequence

import (
	"math"
	"sort"

	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// Standings bundles the field and the pace car for one instant, the inputs
// every wave-around strategy needs. Drivers is the snapshot's Current
// slice: the pace car and not-in-world slots are already excluded.
type Standings struct {
	Drivers []snapshot.Driver
	PaceCar snapshot.Driver
}

// DistanceToPace is the forward lap-fraction the driver would travel to
// catch the pace car from behind: (pace − driver) modulo one lap. A driver
// just behind the pace car has a small distance; a driver just ahead of it
// has a distance close to a full lap.
func (st Standings) DistanceToPace(d snapshot.Driver) float64 {
	dist := math.Mod(st.PaceCar.CompositeProgress-d.CompositeProgress, 1)
	if dist < 0 {
		dist += 1
	}
	return dist
}

// OrderBehindSafetyCar returns the field sorted by DistanceToPace
// ascending, closest to the pace car first. Ties break by slot index so
// the order is deterministic.
func (st Standings) OrderBehindSafetyCar() []snapshot.Driver {
	ordered := make([]snapshot.Driver, len(st.Drivers))
	copy(ordered, st.Drivers)
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := st.DistanceToPace(ordered[i]), st.DistanceToPace(ordered[j])
		if di != dj {
			return di < dj
		}
		return ordered[i].SlotIndex < ordered[j].SlotIndex
	})
	return ordered
}

// byRunningPosition returns the field sorted by composite progress
// descending, i.e. overall running order with the leader first.
func (st Standings) byRunningPosition() []snapshot.Driver {
	ordered := make([]snapshot.Driver, len(st.Drivers))
	copy(ordered, st.Drivers)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].CompositeProgress != ordered[j].CompositeProgress {
			return ordered[i].CompositeProgress > ordered[j].CompositeProgress
		}
		return ordered[i].SlotIndex < ordered[j].SlotIndex
	})
	return ordered
}

// classLeaders maps class ID to that class's best-placed driver by
// composite progress.
func (st Standings) classLeaders() map[int]snapshot.Driver {
	leaders := make(map[int]snapshot.Driver)
	for _, d := range st.Drivers {
		best, ok := leaders[d.ClassID]
		if !ok || d.CompositeProgress > best.CompositeProgress {
			leaders[d.ClassID] = d
		}
	}
	return leaders
}

// Strategy selects which drivers receive a wave-around. Implementations
// return the set only; the caller orders it behind the safety car before
// emitting commands.
type Strategy func(st Standings) []snapshot.Driver

// ForStrategy resolves a configured strategy name to its implementation.
func ForStrategy(ws config.WaveStrategy) Strategy {
	switch ws {
	case config.WaveStrategyAheadOfClassLead:
		return AheadOfClassLead
	case config.WaveStrategyCombined:
		return Combined
	default:
		return LappedCars
	}
}

// LappedCars selects every driver at least two laps down, plus drivers one
// lap down who are running behind their own class leader overall.
func LappedCars(st Standings) []snapshot.Driver {
	running := st.byRunningPosition()
	position := make(map[int]int, len(running))
	maxLaps := 0
	for i, d := range running {
		position[d.SlotIndex] = i
		if d.LapsCompleted > maxLaps {
			maxLaps = d.LapsCompleted
		}
	}
	leaders := st.classLeaders()

	var selected []snapshot.Driver
	for _, d := range st.Drivers {
		behind := maxLaps - d.LapsCompleted
		if behind >= 2 {
			selected = append(selected, d)
			continue
		}
		if behind == 1 {
			leader := leaders[d.ClassID]
			if position[d.SlotIndex] > position[leader.SlotIndex] {
				selected = append(selected, d)
			}
		}
	}
	return selected
}

// AheadOfClassLead selects drivers that, in order behind the safety car,
// sit ahead of their class leader yet behind the overall leader — cars
// that would restart out of position relative to their own class.
func AheadOfClassLead(st Standings) []snapshot.Driver {
	if len(st.Drivers) == 0 {
		return nil
	}
	running := st.byRunningPosition()
	overallLeader := running[0]
	leaders := st.classLeaders()

	var selected []snapshot.Driver
	for _, d := range st.Drivers {
		if d.SlotIndex == overallLeader.SlotIndex {
			continue
		}
		leader := leaders[d.ClassID]
		if d.SlotIndex == leader.SlotIndex {
			continue
		}
		if st.DistanceToPace(d) < st.DistanceToPace(leader) &&
			st.DistanceToPace(d) > st.DistanceToPace(overallLeader) {
			selected = append(selected, d)
		}
	}
	return selected
}

// Combined is the union of LappedCars and AheadOfClassLead.
func Combined(st Standings) []snapshot.Driver {
	seen := make(map[int]bool)
	var selected []snapshot.Driver
	for _, d := range LappedCars(st) {
		if !seen[d.SlotIndex] {
			seen[d.SlotIndex] = true
			selected = append(selected, d)
		}
	}
	for _, d := range AheadOfClassLead(st) {
		if !seen[d.SlotIndex] {
			seen[d.SlotIndex] = true
			selected = append(selected, d)
		}
	}
	return selected
}
