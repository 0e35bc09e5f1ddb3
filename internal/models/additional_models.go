package models

import (
	"fmt"
	"time"
)

// String methods for enums

func (s AlertStatus) String() string {
	switch s {
	case AlertStatusNormal:
		return "NORMAL"
	case AlertStatusAlerting:
		return "ALERTING"
	default:
		return "Unknown"
	}
}

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

// DisplayName returns the label used in notifications and API payloads.
func (c *City) DisplayName() string {
	if c.Country == "" {
		return c.Name
	}
	return fmt.Sprintf("%s, %s", c.Name, c.Country)
}

// IsSnoozed reports whether the event is currently snoozed.
func (e *AlertEvent) IsSnoozed(now time.Time) bool {
	return e.SnoozedUntil != nil && e.SnoozedUntil.After(now)
}
