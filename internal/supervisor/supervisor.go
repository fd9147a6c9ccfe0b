// Package supervisor implements the controller's top-level state machine:
// it owns the telemetry connection, gates activity on session type and
// flags, runs the per-tick detection pipeline, enforces the caution
// eligibility window, and hands off to the Procedure Sequencer when a
// threshold trips.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cartersuite/racecontrol/internal/aggregate"
	"github.com/cartersuite/racecontrol/internal/command"
	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/detect"
	"github.com/cartersuite/racecontrol/internal/metrics"
	"github.com/cartersuite/racecontrol/internal/sequence"
	"github.com/cartersuite/racecontrol/internal/snapshot"
	"github.com/cartersuite/racecontrol/internal/telemetry"
)

// State is the supervisor's single observable value. Writable only by the
// supervisor's own task; everyone else reads it.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateAwaitingRaceSession
	StateAwaitingGreen
	StateMonitoring
	StateCautionActive
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAwaitingRaceSession:
		return "awaiting-race-session"
	case StateAwaitingGreen:
		return "awaiting-green"
	case StateMonitoring:
		return "monitoring"
	case StateCautionActive:
		return "caution-active"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Counters are the caution-cycle counters, mutated only by the supervisor
// during a trip and snapshotted for readers.
type Counters struct {
	TotalCautions int
	LastCaution   time.Time
	LapAtTrigger  int
}

// Supervisor drives the detection/procedure loop. Construct with New, then
// call Run from exactly one goroutine; the signal methods and State may be
// called from any goroutine.
type Supervisor struct {
	// ConfigFn yields the current settings. It is consulted once at Run
	// and once at each caution cycle start, never mid-cycle.
	ConfigFn func() config.Config

	Source telemetry.Source
	Sink   command.Sink

	// TickInterval is the nominal cadence of the detection loop. Defaults
	// to one second.
	TickInterval time.Duration

	// Sleep suspends for d or until ctx is done; overridable for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// RandFloat feeds the random detector; defaults to math/rand.
	RandFloat func() float64

	// Metrics, when non-nil, receives detection and caution counters.
	Metrics *metrics.Metrics

	state      atomic.Int32
	manualTrip atomic.Bool
	skipGreen  atomic.Bool

	classSplitConfirm chan struct{}

	mu       sync.Mutex
	counters Counters

	cfg            config.Config
	snap           *snapshot.Snapshotter
	agg            *aggregate.Aggregator
	detectors      []detect.Detector
	raceStart      time.Time
	raceStartKnown bool
}

// New returns a Supervisor reading telemetry from source, emitting
// commands to sink, and reading settings through configFn.
func New(source telemetry.Source, sink command.Sink, configFn func() config.Config) *Supervisor {
	return &Supervisor{
		ConfigFn:          configFn,
		Source:            source,
		Sink:              sink,
		TickInterval:      time.Second,
		Sleep:             sleepContext,
		RandFloat:         rand.Float64,
		classSplitConfirm: make(chan struct{}, 1),
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

// State returns the current supervisor state. Eventually consistent: a
// reader may briefly observe the previous state during a transition.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		slog.Info("state transition", "component", "supervisor", "from", prev, "to", next)
	}
}

// Counters returns a snapshot of the caution-cycle counters.
func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// RequestManualTrip latches the manual-trip signal. It is consumed at the
// top of the next iteration and bypasses every eligibility gate except the
// max-cautions ceiling.
func (s *Supervisor) RequestManualTrip() {
	s.manualTrip.Store(true)
}

// SkipWaitForGreen latches the developer aid that lets the supervisor move
// from awaiting-green to monitoring without seeing the green flag.
func (s *Supervisor) SkipWaitForGreen() {
	s.skipGreen.Store(true)
}

// ConfirmClassSplit supplies the human confirmation the class-split phase
// gates on. Latching: a confirmation supplied before the phase is reached
// still counts; at most one is buffered.
func (s *Supervisor) ConfirmClassSplit() {
	select {
	case s.classSplitConfirm <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is cancelled. On a clean
// shutdown the state unwinds to stopped and Run returns nil; an unhandled
// fault parks the state at faulted and returns the fault.
func (s *Supervisor) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.setState(StateFaulted)
			err = fmt.Errorf("supervisor: unhandled fault: %v", r)
			slog.Error("unhandled fault", "component", "supervisor", "panic", r)
			return
		}
		s.setState(StateStopped)
	}()

	s.cfg = s.ConfigFn()
	if verr := s.cfg.Validate(); verr != nil {
		return fmt.Errorf("supervisor: invalid configuration: %w", verr)
	}
	s.snap = snapshot.New(s.Source)
	s.agg = aggregate.New(s.cfg)
	s.detectors = buildDetectors(s.cfg, s.RandFloat)

	s.setState(StateConnecting)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.step(ctx)
		if s.Sleep(ctx, s.TickInterval) != nil {
			return nil
		}
	}
}

func buildDetectors(cfg config.Config, randFloat func() float64) []detect.Detector {
	random := detect.NewRandomDetector(cfg.RandomEnabled, cfg.RandomProbability, cfg.RandomMaxOccurrences, randFloat)
	random.EarliestMinute = cfg.EarliestMinute
	random.LatestMinute = cfg.LatestMinute
	return []detect.Detector{
		random,
		detect.NewStoppedDetector(cfg.StoppedEnabled, cfg.StoppedLagThreshold, 64),
		detect.NewOffTrackDetector(cfg.OffTrackEnabled),
		detect.NewTowDetector(cfg.TowEnabled),
		detect.NewMeatballDetector(cfg.MeatballEnabled),
	}
}

// step runs one iteration of the coarse loop for the current state.
func (s *Supervisor) step(ctx context.Context) {
	switch s.State() {
	case StateConnecting:
		if _, ok := s.Source.Poll(); ok {
			s.setState(StateConnected)
		}
	case StateConnected:
		if _, ok := s.Source.Poll(); ok {
			s.setState(StateAwaitingRaceSession)
		}
	case StateAwaitingRaceSession:
		if world, ok := s.Source.Poll(); ok && world.SessionType == telemetry.SessionRace {
			s.setState(StateAwaitingGreen)
		}
	case StateAwaitingGreen:
		world, ok := s.Source.Poll()
		green := ok && world.IsGreen()
		if green || s.skipGreen.CompareAndSwap(true, false) {
			s.raceStart = time.Now()
			s.raceStartKnown = true
			s.agg.SetRaceStart(s.raceStart)
			slog.Info("race_started", "component", "supervisor")
			s.setState(StateMonitoring)
		}
	case StateMonitoring:
		s.monitorTick(ctx)
	case StateFaulted, StateStopped:
		// Terminal until restarted; nothing to do.
	}
}

// monitorTick runs one Snapshot → Detect → Aggregate pass and begins a
// caution when a threshold trips inside the eligibility window or a manual
// trip was requested.
func (s *Supervisor) monitorTick(ctx context.Context) {
	pair, ok := s.snap.Tick()
	if !ok {
		// Transient telemetry failure: skip detection this iteration.
		slog.Debug("telemetry unavailable, skipping tick", "component", "supervisor")
		return
	}

	manual := s.manualTrip.CompareAndSwap(true, false)

	now := time.Now()
	st := detect.State{
		Now:             now,
		LapsSinceStart:  snapshot.MaxLapsCompleted(pair.Current, func(snapshot.Driver) bool { return true }),
		SupervisorState: s.State().String(),
		RaceStartTime:   s.raceStart,
		RaceStartKnown:  s.raceStartKnown,
	}
	var events []detect.Event
	for _, d := range s.detectors {
		if !d.ShouldRun(st) {
			continue
		}
		events = append(events, d.Detect(pair, now)...)
	}
	if s.Metrics != nil {
		perType := make(map[detect.EventType]int)
		for _, e := range events {
			perType[e.Type]++
		}
		for t, n := range perType {
			s.Metrics.IncDetectionEvents(string(t), n)
		}
	}
	result := s.agg.Tick(events, now)

	switch {
	case manual:
		if s.Counters().TotalCautions >= s.cfg.MaxCautions {
			slog.Warn("manual trip refused: max cautions reached", "component", "supervisor",
				"total", s.Counters().TotalCautions, "max", s.cfg.MaxCautions)
			return
		}
		s.beginCaution(ctx, pair, "manual caution", now)
	case result.Tripped:
		if !s.eligible(now) {
			slog.Info("trip suppressed by eligibility gate", "component", "supervisor", "reason", result.Reason)
			if s.Metrics != nil {
				s.Metrics.IncTripsSuppressed()
			}
			return
		}
		s.beginCaution(ctx, pair, result.Reason, now)
	}
}

// eligible applies the eligibility gate of the monitoring state.
func (s *Supervisor) eligible(now time.Time) bool {
	if !s.raceStartKnown {
		return false
	}
	minutes := int(now.Sub(s.raceStart).Minutes())
	if minutes < s.cfg.EarliestMinute || minutes > s.cfg.LatestMinute {
		return false
	}
	c := s.Counters()
	if c.TotalCautions >= s.cfg.MaxCautions {
		return false
	}
	if !c.LastCaution.IsZero() {
		spacing := time.Duration(s.cfg.MinimumMinutesBetween) * time.Minute
		if now.Sub(c.LastCaution) < spacing {
			return false
		}
	}
	return true
}

// beginCaution runs one full caution cycle: refresh the configuration,
// clear the aggregator so this cycle's events cannot retrigger, run the
// Sequencer, then wait for the green flag before resuming monitoring.
func (s *Supervisor) beginCaution(ctx context.Context, pair snapshot.Pair, reason string, now time.Time) {
	if fresh := s.ConfigFn(); fresh.Validate() == nil {
		s.cfg = fresh
	} else {
		slog.Warn("settings invalid at cycle start, keeping previous", "component", "supervisor")
	}

	cycleID := uuid.New()
	s.setState(StateCautionActive)
	s.mu.Lock()
	s.counters.TotalCautions++
	s.counters.LastCaution = now
	s.counters.LapAtTrigger = snapshot.MaxLapsCompleted(pair.Current, func(snapshot.Driver) bool { return true })
	s.mu.Unlock()

	// Post-trip clear, plus a rebuild so next cycle's thresholds come from
	// the settings read at this cycle start.
	s.agg.Clear()
	s.agg = aggregate.New(s.cfg)
	if s.raceStartKnown {
		s.agg.SetRaceStart(s.raceStart)
	}

	if s.Metrics != nil {
		s.Metrics.IncCautions()
	}
	slog.Info("caution begins", "component", "supervisor", "cycle", cycleID,
		"reason", reason, "total_cautions", s.Counters().TotalCautions)

	seq := sequence.New(s.cfg, s.Sink, s.snap)
	seq.TickInterval = s.TickInterval
	seq.Sleep = s.Sleep
	seq.Confirm = s.classSplitConfirm
	if err := seq.Run(ctx, cycleID, reason, pair); err != nil {
		slog.Info("caution cycle interrupted", "component", "supervisor", "cycle", cycleID, "err", err)
		return
	}

	// Phase E hand-off: hold in caution-active until green is restored.
	for ctx.Err() == nil {
		// A manual trip latched during the cycle is consumed and dropped;
		// only one caution may be in flight.
		s.manualTrip.Store(false)
		if p, ok := s.snap.Tick(); ok && p.IsGreen() {
			break
		}
		if s.Sleep(ctx, s.TickInterval) != nil {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	slog.Info("green restored", "component", "supervisor", "cycle", cycleID)
	s.setState(StateMonitoring)
}
