package services

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/pkg/metrics"
)

// Services wires together all application services.
type Services struct {
	City         *CityService
	Weather      *WeatherService
	Store        *StoreService
	Alert        *AlertService
	Notification *NotificationService
	Scheduler    *SchedulerService

	Config  *config.Config
	Metrics *metrics.Metrics
	logger  *zerolog.Logger
}

func New(db *gorm.DB, redis *redis.Client, cfg *config.Config, logger *zerolog.Logger, m *metrics.Metrics) *Services {
	store := NewStoreService(db, redis, logger)
	city := NewCityService(db, logger)
	weatherSvc := NewWeatherService(&cfg.Weather, redis, logger, m)
	alert := NewAlertService(store, &cfg.Alerts, logger, m)
	notification := NewNotificationService(store, &cfg.SMTP, &cfg.Integrations, logger, m)
	scheduler := NewSchedulerService(city, weatherSvc, store, alert, notification, &cfg.Alerts, logger, m)

	return &Services{
		City:         city,
		Weather:      weatherSvc,
		Store:        store,
		Alert:        alert,
		Notification: notification,
		Scheduler:    scheduler,
		Config:       cfg,
		Metrics:      m,
		logger:       logger,
	}
}

// StartScheduler begins periodic collection.
func (s *Services) StartScheduler(ctx context.Context) error {
	return s.Scheduler.Start(ctx)
}

// Stop shuts the scheduler down, letting an in-flight cycle finish.
func (s *Services) Stop() {
	s.Scheduler.Stop()
}
