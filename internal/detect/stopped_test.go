package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cartersuite/racecontrol/internal/snapshot"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

func driver(slot int, composite float64) snapshot.Driver {
	laps := int(composite)
	return snapshot.Driver{
		SlotIndex:         slot,
		LapsCompleted:     laps,
		LapProgress:       composite - float64(laps),
		CompositeProgress: composite,
		Surface:           telemetry.SurfaceOnTrack,
	}
}

func TestStoppedDetector_ZeroDelta(t *testing.T) {
	d := NewStoppedDetector(true, 10, 64)
	now := time.Now()

	pair := snapshot.Pair{
		Previous: []snapshot.Driver{driver(1, 10.50), driver(2, 10.50), driver(3, 10.50)},
		Current:  []snapshot.Driver{driver(1, 10.50), driver(2, 10.50), driver(3, 10.80)},
	}

	events := d.Detect(pair, now)
	assert.Len(t, events, 2)
	slots := []int{events[0].Driver.SlotIndex, events[1].Driver.SlotIndex}
	assert.ElementsMatch(t, []int{1, 2}, slots)
	for _, e := range events {
		assert.Equal(t, EventStopped, e.Type)
		assert.Equal(t, now, e.Timestamp)
	}
}

func TestStoppedDetector_FirstTickSuppressed(t *testing.T) {
	d := NewStoppedDetector(true, 10, 64)
	current := []snapshot.Driver{driver(1, 10.50), driver(2, 10.50)}
	pair := snapshot.Pair{Previous: current, Current: current, FirstTick: true}

	assert.Empty(t, d.Detect(pair, time.Now()))
}

func TestStoppedDetector_PitAreaExcluded(t *testing.T) {
	d := NewStoppedDetector(true, 10, 64)

	onPitRoad := driver(1, 10.50)
	onPitRoad.OnPitRoad = true
	inStall := driver(2, 10.50)
	inStall.Surface = telemetry.SurfaceInPitStall
	approaching := driver(3, 10.50)
	approaching.Surface = telemetry.SurfaceApproachingPits

	pair := snapshot.Pair{
		Previous: []snapshot.Driver{onPitRoad, inStall, approaching},
		Current:  []snapshot.Driver{onPitRoad, inStall, approaching},
	}
	assert.Empty(t, d.Detect(pair, time.Now()))
}

func TestStoppedDetector_NewDriverIgnored(t *testing.T) {
	d := NewStoppedDetector(true, 10, 64)
	pair := snapshot.Pair{
		Previous: []snapshot.Driver{},
		Current:  []snapshot.Driver{driver(1, 10.50)},
	}
	assert.Empty(t, d.Detect(pair, time.Now()))
}

func TestStoppedDetector_LagThresholdSuppresses(t *testing.T) {
	d := NewStoppedDetector(true, 2, 64)
	frame := []snapshot.Driver{driver(1, 10.50), driver(2, 10.50), driver(3, 10.50)}
	pair := snapshot.Pair{Previous: frame, Current: frame}

	assert.Empty(t, d.Detect(pair, time.Now()))
}

func TestStoppedDetector_DefaultLagThreshold(t *testing.T) {
	d := NewStoppedDetector(true, 0, 40)
	assert.Equal(t, 30, d.LagThreshold)
}

func TestStoppedDetector_ShouldRun(t *testing.T) {
	assert.True(t, NewStoppedDetector(true, 0, 64).ShouldRun(State{}))
	assert.False(t, NewStoppedDetector(false, 0, 64).ShouldRun(State{}))
}
