// Package sequence implements the Procedure Sequencer: the multi-phase
// caution procedure that throws the yellow, waves lapped cars around,
// optionally re-orders the field by class, and counts down the pace laps.
// Phase advancement is gated on telemetry observations, never on timers,
// so the procedure tracks the real race no matter how slowly it unfolds.
package sequence

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cartersuite/racecontrol/internal/command"
	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/snapshot"
)

// Ticker is the slice of the Snapshotter the Sequencer needs: one fresh
// snapshot pair per call. The Supervisor hands its own Snapshotter in so
// both share the same previous-frame state.
type Ticker interface {
	Tick() (snapshot.Pair, bool)
}

// Sequencer drives one caution cycle through its phases. It is built fresh
// per cycle from the configuration read at trip time, so a mid-cycle
// settings change cannot perturb the procedure in flight.
type Sequencer struct {
	Cfg    config.Config
	Sink   command.Sink
	Ticker Ticker

	// TickInterval is the pause between telemetry polls while waiting for
	// a lap gate. Defaults to one second.
	TickInterval time.Duration

	// Confirm, if non-nil, gates the class-split phase: the phase runs
	// only if a confirmation has already been supplied when the phase is
	// reached. A nil Confirm means no gate and the phase runs whenever
	// class split is enabled.
	Confirm <-chan struct{}

	// Sleep suspends for d or until ctx is done. Overridable so tests run
	// without wall-clock delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Sequencer for one caution cycle.
func New(cfg config.Config, sink command.Sink, ticker Ticker) *Sequencer {
	return &Sequencer{
		Cfg:          cfg,
		Sink:         sink,
		Ticker:       ticker,
		TickInterval: time.Second,
		Sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes phases A through E in order and returns when the pace-lap
// command has been emitted or ctx is cancelled. The pair argument is the
// snapshot the trip was decided on; later phases re-tick for fresh data.
func (s *Sequencer) Run(ctx context.Context, cycleID uuid.UUID, message string, pair snapshot.Pair) error {
	// Phase A: throw the yellow and pin the reference lap.
	command.SendOrLog(s.Sink, command.Yellow(message))
	l0 := snapshot.MaxLapsCompleted(pair.Current, func(d snapshot.Driver) bool { return !d.OnPitRoad })
	slog.Info("yellow thrown", "component", "sequence", "cycle", cycleID, "lap", l0, "message", message)

	// Phase B: wait for the field to bunch up, then wave.
	waveGate := l0 + s.Cfg.WaveDelayAfterSC + 1
	pair, err := s.waitForLap(ctx, pair, waveGate)
	if err != nil {
		return err
	}
	if err := s.waveArounds(ctx, cycleID, pair); err != nil {
		return err
	}

	// Phase C: optional class split, gated on confirmation.
	if s.Cfg.ClassSplitEnabled {
		if s.confirmed() {
			if err := s.classSplit(ctx, cycleID, pair); err != nil {
				return err
			}
		} else {
			slog.Info("class split not confirmed, skipping", "component", "sequence", "cycle", cycleID)
		}
	}

	// Phase D: pace-lap countdown once the half-lap guard clears.
	pair, err = s.waitForPaceGate(ctx, pair, l0)
	if err != nil {
		return err
	}
	n := s.Cfg.LapsUnderSafetyCar - 1
	if s.Cfg.LapsUnderSafetyCar == 0 {
		// Defer to the simulator's own default pace-lap count.
		n = 0
	}
	command.SendOrLog(s.Sink, command.PaceLaps(n))
	slog.Info("pace laps set", "component", "sequence", "cycle", cycleID, "pace_laps", n)

	// Phase E: hand control back to the Supervisor.
	return nil
}

// waitForLap ticks until max laps completed reaches gate. An empty
// snapshot retries on the next tick; the phase never advances on stale
// data.
func (s *Sequencer) waitForLap(ctx context.Context, pair snapshot.Pair, gate int) (snapshot.Pair, error) {
	for {
		if maxLaps(pair) >= gate {
			return pair, nil
		}
		if err := s.Sleep(ctx, s.TickInterval); err != nil {
			return pair, err
		}
		if next, ok := s.Ticker.Tick(); ok {
			pair = next
		}
	}
}

// waitForPaceGate ticks until max laps completed reaches l0+2 and the
// leader has crossed the half-lap mark, the guard that keeps the pit-close
// from landing while the leaders are mid-pitlane.
func (s *Sequencer) waitForPaceGate(ctx context.Context, pair snapshot.Pair, l0 int) (snapshot.Pair, error) {
	for {
		if maxLaps(pair) >= l0+2 {
			if leader, ok := snapshot.Leader(pair.Current); ok && leader.LapProgress > 0.5 {
				return pair, nil
			}
		}
		if err := s.Sleep(ctx, s.TickInterval); err != nil {
			return pair, err
		}
		if next, ok := s.Ticker.Tick(); ok {
			pair = next
		}
	}
}

func maxLaps(pair snapshot.Pair) int {
	return snapshot.MaxLapsCompleted(pair.Current, func(snapshot.Driver) bool { return true })
}

// waveArounds computes the wave list via the configured strategy and emits
// one wave command per car in order behind the safety car. Cancellation is
// honored between commands, never mid-command.
func (s *Sequencer) waveArounds(ctx context.Context, cycleID uuid.UUID, pair snapshot.Pair) error {
	if pair.PaceCarSlot < 0 {
		slog.Warn("no pace car in telemetry, skipping wave-arounds", "component", "sequence", "cycle", cycleID)
		return nil
	}
	st := Standings{Drivers: pair.Current, PaceCar: pair.PaceCar}
	selected := ForStrategy(s.Cfg.WaveStrategy)(st)
	sort.Slice(selected, func(i, j int) bool {
		return st.DistanceToPace(selected[i]) < st.DistanceToPace(selected[j])
	})

	slog.Info("waving cars", "component", "sequence", "cycle", cycleID,
		"strategy", s.Cfg.WaveStrategy, "count", len(selected))
	for _, d := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		command.SendOrLog(s.Sink, command.Wave(d.CarNumber))
	}
	return nil
}

// classSplit walks the field in order behind the safety car and sends to
// the end of the line every driver running in front of a car whose class
// should be ahead of theirs, where the desired class order is by ascending
// expected lap time.
func (s *Sequencer) classSplit(ctx context.Context, cycleID uuid.UUID, pair snapshot.Pair) error {
	if pair.PaceCarSlot < 0 {
		slog.Warn("no pace car in telemetry, skipping class split", "component", "sequence", "cycle", cycleID)
		return nil
	}
	st := Standings{Drivers: pair.Current, PaceCar: pair.PaceCar}
	rank := classRanks(pair.Current)
	grid := st.OrderBehindSafetyCar()

	// A driver is early if any car behind it belongs to a faster class.
	early := make([]bool, len(grid))
	bestBehind := len(rank) + 1
	for i := len(grid) - 1; i >= 0; i-- {
		if rank[grid[i].ClassID] > bestBehind {
			early[i] = true
		}
		if r := rank[grid[i].ClassID]; r < bestBehind {
			bestBehind = r
		}
	}

	for i, d := range grid {
		if !early[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		command.SendOrLog(s.Sink, command.EndOfLine(d.CarNumber))
	}
	return nil
}

// classRanks orders the classes present in the field by ascending expected
// lap time and returns class ID → rank, zero being the fastest class.
func classRanks(drivers []snapshot.Driver) map[int]int {
	lapTime := make(map[int]float64)
	for _, d := range drivers {
		if _, ok := lapTime[d.ClassID]; !ok {
			lapTime[d.ClassID] = d.ClassLapTime
		}
	}
	classes := make([]int, 0, len(lapTime))
	for id := range lapTime {
		classes = append(classes, id)
	}
	sort.Slice(classes, func(i, j int) bool {
		if lapTime[classes[i]] != lapTime[classes[j]] {
			return lapTime[classes[i]] < lapTime[classes[j]]
		}
		return classes[i] < classes[j]
	})
	rank := make(map[int]int, len(classes))
	for i, id := range classes {
		rank[id] = i
	}
	return rank
}

func (s *Sequencer) confirmed() bool {
	if s.Confirm == nil {
		return true
	}
	select {
	case <-s.Confirm:
		return true
	default:
		return false
	}
}
