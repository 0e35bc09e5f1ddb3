package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opanasenko/meteotrack/internal/models"
)

const latestReadingTTL = 10 * time.Minute

// ErrEventNotFound is returned when acknowledging or snoozing an unknown
// alert event.
var ErrEventNotFound = errors.New("alert event not found")

// StoreError wraps a persistence failure. Callers can rely on the store
// leaving state untouched whenever one is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// StoreService owns all Postgres access for readings, alert state and alert
// events, plus the Redis hot cache for latest readings.
type StoreService struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *zerolog.Logger
}

func NewStoreService(db *gorm.DB, redis *redis.Client, logger *zerolog.Logger) *StoreService {
	return &StoreService{
		db:     db,
		redis:  redis,
		logger: logger,
	}
}

// AppendReading persists one immutable weather sample and refreshes the
// latest-reading cache. Records are never updated or deleted.
func (s *StoreService) AppendReading(ctx context.Context, record *models.WeatherRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return storeErr("append reading", err)
	}

	if data, err := json.Marshal(record); err == nil {
		cacheKey := fmt.Sprintf("reading:latest:%s", record.CityID)
		if err := s.redis.Set(ctx, cacheKey, data, latestReadingTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("city_id", record.CityID.String()).Msg("Failed to cache latest reading")
		}
	}

	return nil
}

// LatestReading returns the most recent stored sample for a city, preferring
// the Redis cache.
func (s *StoreService) LatestReading(ctx context.Context, cityID uuid.UUID) (*models.WeatherRecord, error) {
	cacheKey := fmt.Sprintf("reading:latest:%s", cityID)
	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var record models.WeatherRecord
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			return &record, nil
		}
		s.redis.Del(ctx, cacheKey)
	}

	var record models.WeatherRecord
	err := s.db.WithContext(ctx).
		Where("city_id = ?", cityID).
		Order("timestamp DESC").
		First(&record).Error
	if err != nil {
		return nil, storeErr("latest reading", err)
	}
	return &record, nil
}

// ReadingsWindow returns all samples for a city inside [from, to], oldest
// first.
func (s *StoreService) ReadingsWindow(ctx context.Context, cityID uuid.UUID, from, to time.Time) ([]models.WeatherRecord, error) {
	var records []models.WeatherRecord
	err := s.db.WithContext(ctx).
		Where("city_id = ? AND timestamp BETWEEN ? AND ?", cityID, from, to).
		Order("timestamp ASC").
		Find(&records).Error
	if err != nil {
		return nil, storeErr("readings window", err)
	}
	return records, nil
}

// GetAlertState loads the persisted evaluator state for a city. A city that
// has never been evaluated gets a fresh NORMAL state; the row is created on
// the first committed transition or count change.
func (s *StoreService) GetAlertState(ctx context.Context, cityID uuid.UUID) (*models.AlertState, error) {
	var state models.AlertState
	err := s.db.WithContext(ctx).Where("city_id = ?", cityID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AlertState{
			CityID:           cityID,
			ConsecutiveCount: 0,
			Status:           models.AlertStatusNormal,
		}, nil
	}
	if err != nil {
		return nil, storeErr("get alert state", err)
	}
	return &state, nil
}

// SaveAlertState upserts the evaluator state row for a city.
func (s *StoreService) SaveAlertState(ctx context.Context, state *models.AlertState) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "city_id"}},
			UpdateAll: true,
		}).
		Create(state).Error
	return storeErr("save alert state", err)
}

// CommitTransition writes the new evaluator state and its alert event in one
// transaction: either both are visible or neither is.
func (s *StoreService) CommitTransition(ctx context.Context, state *models.AlertState, event *models.AlertEvent) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "city_id"}},
			UpdateAll: true,
		})
		if err := upsert.Create(state).Error; err != nil {
			return err
		}
		return tx.Create(event).Error
	})
	return storeErr("commit transition", err)
}

// AckEvent sets or clears the acknowledged flag on an alert event. Clearing
// it also clears the acknowledgment timestamp.
func (s *StoreService) AckEvent(ctx context.Context, eventID uuid.UUID, acknowledged bool) error {
	updates := map[string]interface{}{
		"acknowledged":    acknowledged,
		"acknowledged_at": nil,
	}
	if acknowledged {
		updates["acknowledged_at"] = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("id = ?", eventID).
		Updates(updates)
	if result.Error != nil {
		return storeErr("ack event", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// SnoozeEvent suppresses an alert event from the active count until the
// given time. Duration bounds are enforced by the caller.
func (s *StoreService) SnoozeEvent(ctx context.Context, eventID uuid.UUID, until time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("id = ?", eventID).
		Update("snoozed_until", until)
	if result.Error != nil {
		return storeErr("snooze event", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// EventFilter narrows EventHistory results. Zero values mean "no filter".
type EventFilter struct {
	CityID       uuid.UUID
	From         time.Time
	To           time.Time
	Acknowledged *bool
	Limit        int
}

// EventHistory returns alert events newest first, optionally filtered.
func (s *StoreService) EventHistory(ctx context.Context, filter EventFilter) ([]models.AlertEvent, error) {
	query := s.db.WithContext(ctx).Model(&models.AlertEvent{}).Preload("City")

	if filter.CityID != uuid.Nil {
		query = query.Where("city_id = ?", filter.CityID)
	}
	if !filter.From.IsZero() {
		query = query.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("timestamp <= ?", filter.To)
	}
	if filter.Acknowledged != nil {
		query = query.Where("acknowledged = ?", *filter.Acknowledged)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var events []models.AlertEvent
	if err := query.Order("timestamp DESC").Find(&events).Error; err != nil {
		return nil, storeErr("event history", err)
	}
	return events, nil
}

// ActiveAlerts returns unacknowledged RAISED events whose snooze window (if
// any) has expired.
func (s *StoreService) ActiveAlerts(ctx context.Context, now time.Time) ([]models.AlertEvent, error) {
	var events []models.AlertEvent
	err := s.db.WithContext(ctx).
		Preload("City").
		Where("kind = ? AND acknowledged = ?", models.EventRaised, false).
		Where("snoozed_until IS NULL OR snoozed_until <= ?", now).
		Order("timestamp DESC").
		Find(&events).Error
	if err != nil {
		return nil, storeErr("active alerts", err)
	}
	return events, nil
}

// AlertingCityCount counts cities currently in ALERTING state.
func (s *StoreService) AlertingCityCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AlertState{}).
		Where("status = ?", models.AlertStatusAlerting).
		Count(&count).Error
	if err != nil {
		return 0, storeErr("alerting city count", err)
	}
	return count, nil
}

// CityStats aggregates a time window of readings for one city.
type CityStats struct {
	CityID         uuid.UUID `json:"city_id"`
	Samples        int64     `json:"samples"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

// Stats computes min/max/avg temperature and humidity for a window in SQL.
func (s *StoreService) Stats(ctx context.Context, cityID uuid.UUID, from, to time.Time) (*CityStats, error) {
	stats := CityStats{CityID: cityID, From: from, To: to}
	err := s.db.WithContext(ctx).
		Model(&models.WeatherRecord{}).
		Select("COUNT(*) as samples, COALESCE(MIN(temperature), 0) as min_temperature, COALESCE(MAX(temperature), 0) as max_temperature, COALESCE(AVG(temperature), 0) as avg_temperature, COALESCE(AVG(humidity), 0) as avg_humidity").
		Where("city_id = ? AND timestamp BETWEEN ? AND ?", cityID, from, to).
		Scan(&stats).Error
	if err != nil {
		return nil, storeErr("stats", err)
	}
	return &stats, nil
}

// DominantWeather is the weighted condition ranking inside a summary window.
type DominantWeather struct {
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"` // percent of total weight
	Hours      float64 `json:"hours"`      // observed duration
}

// DailySummary aggregates one UTC day of readings for a city.
type DailySummary struct {
	CityID   uuid.UUID        `json:"city_id"`
	Date     string           `json:"date"`
	Stats    CityStats        `json:"stats"`
	Dominant *DominantWeather `json:"dominant_weather,omitempty"`
}

// conditionSeverity ranks how disruptive a condition is; used to break near
// ties in favor of the harsher weather.
var conditionSeverity = map[string]float64{
	"Thunderstorm": 5,
	"Snow":         4,
	"Rain":         3,
	"Drizzle":      2,
	"Fog":          2,
	"Mist":         2,
}

func severityOf(condition string) float64 {
	if s, ok := conditionSeverity[condition]; ok {
		return s
	}
	return 1
}

// DailySummary builds the summary for the UTC day containing `day`, scoring
// each condition by recency-weighted occurrence times severity. Recent
// observations count more: a reading h hours before the window end carries
// weight 1/(1+h).
func (s *StoreService) DailySummary(ctx context.Context, cityID uuid.UUID, day time.Time) (*DailySummary, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	records, err := s.ReadingsWindow(ctx, cityID, from, to)
	if err != nil {
		return nil, err
	}

	stats, err := s.Stats(ctx, cityID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &DailySummary{
		CityID: cityID,
		Date:   from.Format("2006-01-02"),
		Stats:  *stats,
	}
	summary.Dominant = dominantWeather(records, to)
	return summary, nil
}

// dominantWeather picks the condition with the highest recency- and
// severity-weighted score, and estimates how long it lasted by chaining
// consecutive observations with gaps of at most six hours.
func dominantWeather(records []models.WeatherRecord, windowEnd time.Time) *DominantWeather {
	if len(records) == 0 {
		return nil
	}

	scores := make(map[string]float64)
	var total float64
	for _, r := range records {
		hours := windowEnd.Sub(r.Timestamp).Hours()
		if hours < 0 {
			hours = 0
		}
		w := (1 / (1 + hours)) * severityOf(r.Condition)
		scores[r.Condition] += w
		total += w
	}

	var best string
	for cond, score := range scores {
		if best == "" || score > scores[best] {
			best = cond
		}
	}

	// Duration: sum gaps between consecutive sightings of the dominant
	// condition, treating gaps over six hours as separate episodes.
	var stamps []time.Time
	for _, r := range records {
		if r.Condition == best {
			stamps = append(stamps, r.Timestamp)
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	var hours float64
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1]).Hours()
		if gap <= 6 {
			hours += gap
		}
	}

	return &DominantWeather{
		Condition:  best,
		Confidence: scores[best] / total * 100,
		Hours:      hours,
	}
}

// TrendDirection summarizes whether a metric is rising or falling across a
// window.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendSteady  TrendDirection = "steady"
)

// MetricTrend holds the min/max/avg and direction for a single metric.
type MetricTrend struct {
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Avg       float64        `json:"avg"`
	Direction TrendDirection `json:"direction"`
}

// Trends summarizes a window of readings per metric plus the condition mix.
type Trends struct {
	CityID      uuid.UUID      `json:"city_id"`
	Samples     int            `json:"samples"`
	Temperature MetricTrend    `json:"temperature"`
	Humidity    MetricTrend    `json:"humidity"`
	WindSpeed   MetricTrend    `json:"wind_speed"`
	Conditions  map[string]int `json:"conditions"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
}

// Trends computes per-metric trends over [from, to]. Direction compares the
// averages of the first and second half of the window.
func (s *StoreService) Trends(ctx context.Context, cityID uuid.UUID, from, to time.Time) (*Trends, error) {
	records, err := s.ReadingsWindow(ctx, cityID, from, to)
	if err != nil {
		return nil, err
	}

	trends := &Trends{
		CityID:     cityID,
		Samples:    len(records),
		Conditions: make(map[string]int),
		From:       from,
		To:         to,
	}
	if len(records) == 0 {
		return trends, nil
	}

	temps := make([]float64, len(records))
	hums := make([]float64, len(records))
	winds := make([]float64, len(records))
	for i, r := range records {
		temps[i] = r.Temperature
		hums[i] = float64(r.Humidity)
		winds[i] = r.WindSpeed
		trends.Conditions[r.Condition]++
	}

	trends.Temperature = metricTrend(temps)
	trends.Humidity = metricTrend(hums)
	trends.WindSpeed = metricTrend(winds)
	return trends, nil
}

func metricTrend(values []float64) MetricTrend {
	t := MetricTrend{Min: values[0], Max: values[0], Direction: TrendSteady}
	var sum float64
	for _, v := range values {
		if v < t.Min {
			t.Min = v
		}
		if v > t.Max {
			t.Max = v
		}
		sum += v
	}
	t.Avg = sum / float64(len(values))

	if len(values) >= 2 {
		mid := len(values) / 2
		firstAvg := avg(values[:mid])
		secondAvg := avg(values[mid:])
		switch {
		case secondAvg > firstAvg+0.1:
			t.Direction = TrendRising
		case secondAvg < firstAvg-0.1:
			t.Direction = TrendFalling
		}
	}
	return t
}

func avg(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// RecordDelivery stores the notifier outcome on an alert event. Called after
// the transition is committed; a delivery failure never undoes it.
func (s *StoreService) RecordDelivery(ctx context.Context, eventID uuid.UUID, deliveredAt *time.Time, deliveryErr string) error {
	updates := map[string]interface{}{
		"delivery_error": deliveryErr,
	}
	if deliveredAt != nil {
		updates["delivered_at"] = *deliveredAt
	}
	err := s.db.WithContext(ctx).
		Model(&models.AlertEvent{}).
		Where("id = ?", eventID).
		Updates(updates).Error
	return storeErr("record delivery", err)
}

// MarkAlertSent stamps last_alert_sent_at on the city's state row. Written
// only by the notification path, after a successful RAISED delivery.
func (s *StoreService) MarkAlertSent(ctx context.Context, cityID uuid.UUID, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.AlertState{}).
		Where("city_id = ?", cityID).
		Update("last_alert_sent_at", at).Error
	return storeErr("mark alert sent", err)
}
