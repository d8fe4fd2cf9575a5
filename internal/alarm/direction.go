package alarm

import (
	"sync"
	"time"
)

const directionHistoryCap = 100

type directionEntry struct {
	Timestamp  time.Time
	ZoneType   ZoneType
	SignalType SignalType
}

// DirectionInferencer infers whether a door/window-open event originated
// from inside or outside, from a bounded rolling window of recent evidence.
// The history itself is a fixed-capacity slice trimmed on every Observe.
type DirectionInferencer struct {
	mu      sync.Mutex
	history []directionEntry
	window  time.Duration
}

// NewDirectionInferencer returns an inferencer using window as its default
// look-back. window <= 0 falls back to a 10 second default.
func NewDirectionInferencer(window time.Duration) *DirectionInferencer {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &DirectionInferencer{window: window}
}

// Observe records one accepted piece of evidence into the rolling history.
// Called for every accepted signal, not only door-opens, so later
// inferences can see preceding interior motion or exterior person
// detections.
func (d *DirectionInferencer) Observe(ev Evidence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, directionEntry{
		Timestamp:  ev.Signal.Timestamp,
		ZoneType:   ev.ZoneType,
		SignalType: ev.Signal.Type,
	})
	if len(d.history) > directionHistoryCap {
		d.history = d.history[len(d.history)-directionHistoryCap:]
	}
}

// Infer determines from_inside for a door/window-open event at time t,
// using the inferencer's configured default window.
func (d *DirectionInferencer) Infer(t time.Time) bool {
	return d.InferWithWindow(t, d.window)
}

// InferWithWindow allows a caller (Process, in night-occupied mode) to widen
// the look-back window for preceding-activity gating without altering the
// inferencer's own default.
//
// Rule: exterior person-detected with no matching interior motion in
// the window means from_inside=false; interior motion with no matching
// exterior person means from_inside=true; both or neither present defers to
// whichever evidence is more recent, and "neither" defaults to false (the
// more alarming reading).
func (d *DirectionInferencer) InferWithWindow(t time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := t.Add(-window)
	var latestExtPerson, latestIntMotion time.Time
	hasExtPerson, hasIntMotion := false, false

	for _, e := range d.history {
		if e.Timestamp.Before(start) || e.Timestamp.After(t) {
			continue
		}
		if e.ZoneType == ZoneExterior && e.SignalType == SignalPersonDetected {
			hasExtPerson = true
			if e.Timestamp.After(latestExtPerson) {
				latestExtPerson = e.Timestamp
			}
		}
		if e.ZoneType == ZoneInterior && e.SignalType == SignalMotionActive {
			hasIntMotion = true
			if e.Timestamp.After(latestIntMotion) {
				latestIntMotion = e.Timestamp
			}
		}
	}

	switch {
	case hasIntMotion && !hasExtPerson:
		return true
	case hasExtPerson && !hasIntMotion:
		return false
	case hasExtPerson && hasIntMotion:
		return latestIntMotion.After(latestExtPerson)
	default:
		return false
	}
}
