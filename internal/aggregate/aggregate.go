// Package aggregate implements the Threshold Aggregator: a bounded-time
// queue of detection events, deduplicated per driver/event-type, optionally
// grouped into proximity clusters, and evaluated against per-type and
// accumulative thresholds that scale up during a configurable race-start
// window.
package aggregate

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cartersuite/racecontrol/internal/config"
	"github.com/cartersuite/racecontrol/internal/detect"
)

type key struct {
	slot      int
	eventType detect.EventType
}

type queuedEvent struct {
	id    uint64
	event detect.Event
}

// Result describes the outcome of a single evaluation.
type Result struct {
	Tripped bool
	// Reason is a short human-readable summary of what tripped the
	// aggregator, suitable for embedding in the `!y <message>` command the
	// Supervisor sends in Phase A.
	Reason string
}

// Aggregator accumulates detection events over a sliding time window and
// decides when they add up to a caution. It is not safe for concurrent
// use; the Supervisor is its only caller.
type Aggregator struct {
	cfg config.Config

	queue  []queuedEvent
	nextID uint64

	raceStart      time.Time
	raceStartKnown bool
}

// New returns an Aggregator configured from cfg.
func New(cfg config.Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// SetRaceStart records the wall-clock time the race session began, which
// anchors the dynamic threshold-scaling window.
func (a *Aggregator) SetRaceStart(t time.Time) {
	a.raceStart = t
	a.raceStartKnown = true
}

// Clear discards every queued event. The Supervisor calls this immediately
// after a successful trip so the same events cannot retrigger the next
// cycle.
func (a *Aggregator) Clear() {
	a.queue = nil
}

// Tick ages the queue, ingests this tick's newly observed events, and
// evaluates whether any threshold has been met.
func (a *Aggregator) Tick(events []detect.Event, now time.Time) Result {
	a.ageOut(now)
	a.ingest(events)
	return a.evaluate(now)
}

func (a *Aggregator) ageOut(now time.Time) {
	cutoff := now.Add(-a.cfg.Window())
	kept := a.queue[:0:0]
	for _, qe := range a.queue {
		if !qe.event.Timestamp.Before(cutoff) {
			kept = append(kept, qe)
		}
	}
	a.queue = kept
}

func (a *Aggregator) ingest(events []detect.Event) {
	for _, e := range events {
		a.nextID++
		a.queue = append(a.queue, queuedEvent{id: a.nextID, event: e})
	}
}

// latestPerKey returns, for each (slot, type) still in the window, the most
// recent queued event, so a driver re-reported every tick counts once.
func (a *Aggregator) latestPerKey() map[key]queuedEvent {
	latest := make(map[key]queuedEvent)
	for _, qe := range a.queue {
		k := key{slot: qe.event.Driver.SlotIndex, eventType: qe.event.Type}
		existing, ok := latest[k]
		if !ok || qe.event.Timestamp.After(existing.event.Timestamp) {
			latest[k] = qe
		}
	}
	return latest
}

// cluster is an ephemeral grouping of deduplicated events whose driver
// positions lie within the proximity distance on track.
type cluster struct {
	members []queuedEvent
}

func (a *Aggregator) evaluate(now time.Time) Result {
	latest := a.latestPerKey()
	if len(latest) == 0 {
		return Result{}
	}

	var driverless []queuedEvent
	var positional []queuedEvent
	for _, qe := range latest {
		if qe.event.IsDriverless() {
			driverless = append(driverless, qe)
		} else {
			positional = append(positional, qe)
		}
	}

	clusters := a.buildClusters(positional)
	if len(clusters) == 0 {
		// Only driverless events are in-window: they still form one global
		// cluster since a random event represents a global trip.
		clusters = []cluster{{}}
	}
	for i := range clusters {
		clusters[i].members = append(clusters[i].members, driverless...)
	}

	perTypeThreshold, accumulativeThreshold := a.scaledThresholds(now)

	for _, c := range clusters {
		if res, ok := a.evaluateCluster(c, perTypeThreshold, accumulativeThreshold); ok {
			return res
		}
	}
	return Result{}
}

// buildClusters groups positional (non-driverless) events by on-track
// proximity, or returns a single group containing all of them when
// proximity clustering is disabled.
func (a *Aggregator) buildClusters(positional []queuedEvent) []cluster {
	if len(positional) == 0 {
		return nil
	}
	if !a.cfg.ProximityEnabled {
		return []cluster{{members: positional}}
	}

	// Tracks wrap: duplicate every event at lap_progress+1 so a cluster
	// spanning the start/finish line is still found as contiguous.
	type wrapped struct {
		qe  queuedEvent
		pos float64
	}
	entries := make([]wrapped, 0, len(positional)*2)
	for _, qe := range positional {
		entries = append(entries, wrapped{qe, qe.event.Driver.LapProgress})
		entries = append(entries, wrapped{qe, qe.event.Driver.LapProgress + 1})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	var clusters []cluster
	// Duplicated entries make the same member set appear twice in the
	// walk; track each cluster's identity so it is evaluated at most once.
	evaluated := make(map[string]bool)

	var members []queuedEvent
	memberIDs := make(map[uint64]bool)
	flush := func() {
		if len(members) == 0 {
			return
		}
		ids := make([]uint64, 0, len(memberIDs))
		for id := range memberIDs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		sig := fmt.Sprint(ids)
		if !evaluated[sig] {
			evaluated[sig] = true
			clusters = append(clusters, cluster{members: members})
		}
		members = nil
		memberIDs = make(map[uint64]bool)
	}

	var prevPos float64
	for i, e := range entries {
		if i > 0 && e.pos-prevPos > a.cfg.ProximityDistance {
			flush()
		}
		if !memberIDs[e.qe.id] {
			memberIDs[e.qe.id] = true
			members = append(members, e.qe)
		}
		prevPos = e.pos
	}
	flush()

	return clusters
}

func (a *Aggregator) scaledThresholds(now time.Time) (perType map[detect.EventType]int, accumulative int) {
	multiplier := 1.0
	if a.raceStartKnown && a.cfg.RaceStartMultiplierSeconds > 0 {
		if now.Sub(a.raceStart) <= a.cfg.RaceStartWindow() {
			multiplier = a.cfg.RaceStartMultiplier
		}
	}

	perType = make(map[detect.EventType]int, len(a.cfg.PerTypeThresholds))
	for t, v := range a.cfg.PerTypeThresholds {
		perType[detect.EventType(t)] = int(float64(v) * multiplier)
	}
	accumulative = int(float64(a.cfg.AccumulativeThreshold) * multiplier)
	return perType, accumulative
}

func (a *Aggregator) evaluateCluster(c cluster, perType map[detect.EventType]int, accumulative int) (Result, bool) {
	counts := make(map[detect.EventType]int)
	for _, qe := range c.members {
		counts[qe.event.Type]++
	}
	for t, count := range counts {
		threshold, ok := perType[t]
		if ok && threshold > 0 && count >= threshold {
			return Result{Tripped: true, Reason: fmt.Sprintf("%s threshold reached (%d/%d)", t, count, threshold)}, true
		}
	}

	bestWeightPerDriver := make(map[int]int)
	for _, qe := range c.members {
		if qe.event.IsDriverless() {
			continue
		}
		w := a.cfg.PerTypeWeights[string(qe.event.Type)]
		slot := qe.event.Driver.SlotIndex
		if w > bestWeightPerDriver[slot] {
			bestWeightPerDriver[slot] = w
		}
	}
	sum := 0
	for _, w := range bestWeightPerDriver {
		sum += w
	}
	if accumulative > 0 && sum >= accumulative {
		return Result{Tripped: true, Reason: fmt.Sprintf("accumulative threshold reached (%d/%d)", sum, accumulative)}, true
	}

	return Result{}, false
}
