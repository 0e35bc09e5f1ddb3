package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// City is the tracking configuration for a monitored city. Removing a city
// flips IsActive to false (soft delete); readings and alert history are kept
// for audit and chart continuity.
type City struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name    string    `gorm:"uniqueIndex" json:"name"`
	Country string    `gorm:"default:'IN'" json:"country"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Per-city overrides; nil means the global default applies.
	Threshold   *float64 `json:"threshold,omitempty"`
	Consecutive *int     `json:"consecutive,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Readings []WeatherRecord `json:"readings,omitempty"`
	Events   []AlertEvent    `json:"events,omitempty"`
}

// EffectiveThreshold resolves the alert threshold for this city, falling
// back to the global default when no override is set.
func (c *City) EffectiveThreshold(def float64) float64 {
	if c.Threshold != nil {
		return *c.Threshold
	}
	return def
}

// EffectiveConsecutive resolves the consecutive-sample requirement for this
// city, falling back to the global default when no override is set.
func (c *City) EffectiveConsecutive(def int) int {
	if c.Consecutive != nil {
		return *c.Consecutive
	}
	return def
}

// WeatherRecord is one immutable weather sample (stored in UTC, append-only).
type WeatherRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CityID      uuid.UUID `gorm:"type:uuid;index:idx_readings_city_timestamp" json:"city_id"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feels_like"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	Condition   string    `json:"condition"` // e.g. Clear, Clouds, Rain
	Timestamp   time.Time `gorm:"index:idx_readings_city_timestamp" json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`

	// Relationships
	City City `json:"city,omitempty"`
}

// AlertStatus mirrors the evaluator status for persistence.
type AlertStatus int

const (
	AlertStatusNormal AlertStatus = iota + 1
	AlertStatusAlerting
)

// AlertState is the persisted evaluator state, exactly one row per city.
// It is mutated only through the threshold evaluator, serially per city.
type AlertState struct {
	CityID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"city_id"`
	ConsecutiveCount int         `json:"consecutive_count"`
	Status           AlertStatus `gorm:"default:1" json:"status"`
	LastAlertSentAt  *time.Time  `json:"last_alert_sent_at,omitempty"` // UTC
	UpdatedAt        time.Time   `json:"updated_at"`
}

// EventKind distinguishes raised from cleared alert transitions.
type EventKind int

const (
	EventRaised EventKind = iota + 1
	EventCleared
)

// AlertEvent is one RAISED or CLEARED transition. Immutable once created
// except for the operator-facing acknowledgment/snooze fields and the
// delivery outcome; never deleted.
type AlertEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CityID      uuid.UUID `gorm:"type:uuid;index:idx_events_city_timestamp" json:"city_id"`
	Kind        EventKind `json:"kind"`
	Temperature float64   `json:"temperature"` // the triggering reading
	Threshold   float64   `json:"threshold"`
	Timestamp   time.Time `gorm:"index:idx_events_city_timestamp" json:"timestamp"` // UTC

	Acknowledged   bool       `gorm:"default:false;index" json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	SnoozedUntil   *time.Time `json:"snoozed_until,omitempty"`

	// Delivery outcome, recorded by the notifier. A failed delivery never
	// rolls back the transition that produced this event.
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	DeliveryError string     `json:"delivery_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Relationships
	City City `json:"city,omitempty"`
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&City{},
		&WeatherRecord{},
		&AlertState{},
		&AlertEvent{},
	)
}
