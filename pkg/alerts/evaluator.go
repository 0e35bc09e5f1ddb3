// Package alerts implements the consecutive-threshold state machine that
// decides when a city's temperature alert is raised or cleared.
//
// Evaluate is a pure transition function: it never touches the clock, the
// database, or delivery concerns. Rate limiting and deduplication of
// outbound notifications belong to the notification layer.
package alerts

import "time"

// Status is the alert status of a single city.
type Status int

const (
	StatusNormal Status = iota + 1
	StatusAlerting
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusAlerting:
		return "ALERTING"
	default:
		return "Unknown"
	}
}

// EventKind distinguishes the two alert-worthy transitions.
type EventKind int

const (
	EventRaised EventKind = iota + 1
	EventCleared
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventRaised:
		return "RAISED"
	case EventCleared:
		return "CLEARED"
	default:
		return "Unknown"
	}
}

// State is the per-city evaluator state. ConsecutiveCount is the length of
// the trailing run of readings strictly above the threshold.
type State struct {
	ConsecutiveCount int
	Status           Status
}

// NewState returns the initial state for a city that has never been
// evaluated: NORMAL with an empty streak.
func NewState() State {
	return State{ConsecutiveCount: 0, Status: StatusNormal}
}

// Event describes a RAISED or CLEARED transition together with the reading
// that triggered it.
type Event struct {
	Kind        EventKind
	Temperature float64
	Threshold   float64
	Timestamp   time.Time
}

// Evaluate applies one reading to the current state and reports whether a
// status transition occurred.
//
// The comparison is strict: a reading exactly equal to the threshold does
// not extend the streak, and while ALERTING it counts as the qualifying
// drop that clears the alert. required must be >= 1; that is enforced by
// configuration validation, not here.
//
// Exactly one RAISED event is returned per NORMAL->ALERTING transition and
// exactly one CLEARED event per ALERTING->NORMAL transition. A reading that
// keeps the city hot while it is already alerting returns no event.
func Evaluate(state State, temperature float64, at time.Time, threshold float64, required int) (State, *Event) {
	next := state
	if temperature > threshold {
		next.ConsecutiveCount++
	} else {
		next.ConsecutiveCount = 0
	}

	switch {
	case state.Status != StatusAlerting && next.ConsecutiveCount >= required:
		next.Status = StatusAlerting
		return next, &Event{
			Kind:        EventRaised,
			Temperature: temperature,
			Threshold:   threshold,
			Timestamp:   at,
		}
	case state.Status == StatusAlerting && next.ConsecutiveCount == 0:
		next.Status = StatusNormal
		return next, &Event{
			Kind:        EventCleared,
			Temperature: temperature,
			Threshold:   threshold,
			Timestamp:   at,
		}
	}

	return next, nil
}
