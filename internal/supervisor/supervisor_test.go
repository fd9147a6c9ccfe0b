package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cartersuite/racecontrol/internal/command"
	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

func onTrack(slot int, number string, laps int, progress float64) telemetry.RawDriver {
	return telemetry.RawDriver{
		SlotIndex:     slot,
		CarNumber:     number,
		ClassID:       1,
		LapsCompleted: laps,
		LapProgress:   progress,
		Surface:       telemetry.SurfaceOnTrack,
	}
}

func pace(laps int, progress float64) telemetry.RawDriver {
	return telemetry.RawDriver{
		SlotIndex:     0,
		CarNumber:     "SC",
		IsPaceCar:     true,
		LapsCompleted: laps,
		LapProgress:   progress,
		Surface:       telemetry.SurfaceOnTrack,
	}
}

func greenRace(drivers ...telemetry.RawDriver) telemetry.World {
	return telemetry.World{
		SessionType:  telemetry.SessionRace,
		SessionFlags: telemetry.FlagGreen,
		Drivers:      drivers,
	}
}

// sourceFunc adapts a function to the telemetry.Source interface.
type sourceFunc func() (telemetry.World, bool)

func (f sourceFunc) Poll() (telemetry.World, bool) { return f() }

func startSupervisor(t *testing.T, sup *Supervisor) (cancel context.CancelFunc, done chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancelFn()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return cancelFn, done
}

func TestRun_StoppedCarsTripCaution(t *testing.T) {
	steady := greenRace(pace(10, 0.3), onTrack(1, "11", 10, 0.5), onTrack(2, "22", 10, 0.5), onTrack(3, "33", 10, 0.5))
	source := telemetry.NewFixedSource(
		steady, steady, steady, steady, // connecting through awaiting-green
		steady, // first monitoring tick: baseline
		greenRace(pace(10, 0.3), onTrack(1, "11", 10, 0.5), onTrack(2, "22", 10, 0.5), onTrack(3, "33", 10, 0.8)),
		greenRace(pace(11, 0.0), onTrack(1, "11", 11, 0.2), onTrack(2, "22", 11, 0.2), onTrack(3, "33", 11, 0.2)),
		greenRace(pace(12, 0.4), onTrack(1, "11", 12, 0.6), onTrack(2, "22", 12, 0.6), onTrack(3, "33", 12, 0.6)),
	)

	sink := &command.RecordingSink{}
	cfg := config.Default()
	cfg.MaxCautions = 1
	sup := New(source, sink, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond

	startSupervisor(t, sup)

	assert.Eventually(t, func() bool {
		return len(sink.Sent()) == 2 && sup.State() == StateMonitoring
	}, 5*time.Second, time.Millisecond)

	sent := sink.Sent()
	assert.Equal(t, "!y stopped threshold reached (2/2)", sent[0])
	assert.Equal(t, "!p 3", sent[1])

	c := sup.Counters()
	assert.Equal(t, 1, c.TotalCautions)
	assert.Equal(t, 10, c.LapAtTrigger)
	assert.False(t, c.LastCaution.IsZero())
}

func TestRun_EligibilityGateSuppressesTrip(t *testing.T) {
	steady := greenRace(pace(10, 0.3), onTrack(1, "11", 10, 0.5), onTrack(2, "22", 10, 0.5))
	source := telemetry.NewFixedSource(steady)

	sink := &command.RecordingSink{}
	cfg := config.Default()
	cfg.EarliestMinute = 30
	sup := New(source, sink, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond

	startSupervisor(t, sup)

	assert.Eventually(t, func() bool { return sup.State() == StateMonitoring }, 5*time.Second, time.Millisecond)

	// The repeated world freezes every composite, so stopped events pile
	// up each tick, yet no caution may start this early in the race.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.Sent())
	assert.Equal(t, StateMonitoring, sup.State())
	assert.Zero(t, sup.Counters().TotalCautions)
}

func TestRun_ManualTripBypassesGates(t *testing.T) {
	var polls atomic.Int64
	source := sourceFunc(func() (telemetry.World, bool) {
		laps := 10 + int(polls.Add(1)/20)
		return greenRace(
			pace(laps, 0.4),
			onTrack(1, "11", laps, 0.6),
			onTrack(2, "22", laps, 0.7),
		), true
	})

	sink := &command.RecordingSink{}
	cfg := config.Default()
	cfg.EarliestMinute = 30 // ordinary trips are ineligible
	cfg.StoppedEnabled = false
	cfg.OffTrackEnabled = false
	sup := New(source, sink, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond

	startSupervisor(t, sup)

	assert.Eventually(t, func() bool { return sup.State() == StateMonitoring }, 5*time.Second, time.Millisecond)
	sup.RequestManualTrip()

	assert.Eventually(t, func() bool {
		sent := sink.Sent()
		return len(sent) >= 2 && sent[0] == "!y manual caution"
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, sup.Counters().TotalCautions)
}

func TestRun_ManualTripRespectsMaxCautions(t *testing.T) {
	steady := greenRace(pace(10, 0.3), onTrack(1, "11", 10, 0.5))
	source := telemetry.NewFixedSource(steady)

	sink := &command.RecordingSink{}
	cfg := config.Default()
	cfg.MaxCautions = 0
	cfg.StoppedEnabled = false
	cfg.OffTrackEnabled = false
	sup := New(source, sink, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond

	startSupervisor(t, sup)

	assert.Eventually(t, func() bool { return sup.State() == StateMonitoring }, 5*time.Second, time.Millisecond)
	sup.RequestManualTrip()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.Sent())
	assert.Zero(t, sup.Counters().TotalCautions)
}

func TestRun_SkipWaitForGreen(t *testing.T) {
	// Race session loaded but the green flag never comes.
	world := telemetry.World{
		SessionType: telemetry.SessionRace,
		Drivers:     []telemetry.RawDriver{pace(0, 0.0), onTrack(1, "11", 0, 0.1)},
	}
	source := telemetry.NewFixedSource(world)

	cfg := config.Default()
	cfg.StoppedEnabled = false
	cfg.OffTrackEnabled = false
	sup := New(source, &command.RecordingSink{}, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond
	sup.SkipWaitForGreen()

	startSupervisor(t, sup)

	assert.Eventually(t, func() bool { return sup.State() == StateMonitoring }, 5*time.Second, time.Millisecond)
}

func TestRun_ShutdownUnwindsToStopped(t *testing.T) {
	steady := greenRace(pace(10, 0.3), onTrack(1, "11", 10, 0.5))
	source := telemetry.NewFixedSource(steady)

	cfg := config.Default()
	cfg.StoppedEnabled = false
	cfg.OffTrackEnabled = false
	sup := New(source, &command.RecordingSink{}, func() config.Config { return cfg })
	sup.TickInterval = time.Millisecond

	cancel, _ := startSupervisor(t, sup)

	assert.Eventually(t, func() bool { return sup.State() == StateMonitoring }, 5*time.Second, time.Millisecond)
	cancel()

	assert.Eventually(t, func() bool { return sup.State() == StateStopped }, 5*time.Second, time.Millisecond)
}

func TestRun_UnhandledFault(t *testing.T) {
	source := sourceFunc(func() (telemetry.World, bool) { panic("telemetry exploded") })

	sup := New(source, &command.RecordingSink{}, config.Default)
	sup.TickInterval = time.Millisecond

	err := sup.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unhandled fault")
	assert.Equal(t, StateFaulted, sup.State())
}

func TestRun_InvalidConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.WindowSeconds = 0
	sup := New(telemetry.NewFixedSource(), &command.RecordingSink{}, func() config.Config { return cfg })

	err := sup.Run(context.Background())
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateStopped, "stopped"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateAwaitingRaceSession, "awaiting-race-session"},
		{StateAwaitingGreen, "awaiting-green"},
		{StateMonitoring, "monitoring"},
		{StateCautionActive, "caution-active"},
		{StateFaulted, "faulted"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.state.String())
	}
}
