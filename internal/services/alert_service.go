package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/models"
	"github.com/opanasenko/meteotrack/pkg/alerts"
	"github.com/opanasenko/meteotrack/pkg/metrics"
)

// AlertService runs the threshold evaluator against stored per-city state.
// Each reading passes through exactly once, serially per city.
type AlertService struct {
	store   *StoreService
	config  *config.AlertsConfig
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewAlertService(store *StoreService, cfg *config.AlertsConfig, logger *zerolog.Logger, m *metrics.Metrics) *AlertService {
	return &AlertService{
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

func toEvaluatorState(state *models.AlertState) alerts.State {
	status := alerts.StatusNormal
	if state.Status == models.AlertStatusAlerting {
		status = alerts.StatusAlerting
	}
	return alerts.State{
		ConsecutiveCount: state.ConsecutiveCount,
		Status:           status,
	}
}

func fromEvaluatorStatus(status alerts.Status) models.AlertStatus {
	if status == alerts.StatusAlerting {
		return models.AlertStatusAlerting
	}
	return models.AlertStatusNormal
}

// ProcessReading evaluates one sample against the city's effective threshold
// and commits the resulting state, together with the transition event if one
// fired. A persistence failure leaves the stored state untouched and the
// reading is simply not reflected in it.
func (s *AlertService) ProcessReading(ctx context.Context, city *models.City, record *models.WeatherRecord) (*models.AlertEvent, error) {
	state, err := s.store.GetAlertState(ctx, city.ID)
	if err != nil {
		return nil, err
	}

	threshold := city.EffectiveThreshold(s.config.Threshold)
	required := city.EffectiveConsecutive(s.config.Consecutive)

	next, transition := alerts.Evaluate(toEvaluatorState(state), record.Temperature, record.Timestamp, threshold, required)

	state.ConsecutiveCount = next.ConsecutiveCount
	state.Status = fromEvaluatorStatus(next.Status)

	if transition == nil {
		if err := s.store.SaveAlertState(ctx, state); err != nil {
			return nil, err
		}
		return nil, nil
	}

	event := &models.AlertEvent{
		CityID:      city.ID,
		Kind:        models.EventKind(transition.Kind),
		Temperature: transition.Temperature,
		Threshold:   transition.Threshold,
		Timestamp:   transition.Timestamp,
	}
	if err := s.store.CommitTransition(ctx, state, event); err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("alert_events_total", event.Kind.String())
	s.logger.Info().
		Str("city", city.Name).
		Str("kind", event.Kind.String()).
		Float64("temperature", event.Temperature).
		Float64("threshold", event.Threshold).
		Msg("Alert transition")

	return event, nil
}
