package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/models"
	"github.com/opanasenko/meteotrack/pkg/metrics"
	"github.com/opanasenko/meteotrack/pkg/weather"
)

// Narrow views of the collaborating services, so cycle behavior can be
// tested with fakes.
type cityLister interface {
	ListActive(ctx context.Context) ([]models.City, error)
}

type readingFetcher interface {
	Fetch(ctx context.Context, city, country string) (*weather.Reading, error)
}

type readingSink interface {
	AppendReading(ctx context.Context, record *models.WeatherRecord) error
	AlertingCityCount(ctx context.Context) (int64, error)
}

type readingEvaluator interface {
	ProcessReading(ctx context.Context, city *models.City, record *models.WeatherRecord) (*models.AlertEvent, error)
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, event *models.AlertEvent, city *models.City) error
}

// CityFailure records one city that could not be collected this cycle.
type CityFailure struct {
	CityID uuid.UUID
	Name   string
	Err    error
}

// CycleReport summarizes one collection cycle. One city failing never
// affects the others.
type CycleReport struct {
	Succeeded int
	Failed    []CityFailure
	Duration  time.Duration
}

// SchedulerService drives periodic collection cycles. Cycles run on a fixed
// interval; if a cycle overruns the interval, the next tick is skipped
// rather than run concurrently.
type SchedulerService struct {
	cities     cityLister
	weather    readingFetcher
	store      readingSink
	alerts     readingEvaluator
	dispatcher eventDispatcher
	config     *config.AlertsConfig
	logger     *zerolog.Logger
	metrics    *metrics.Metrics

	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	cycleWG   sync.WaitGroup
}

func NewSchedulerService(
	cities *CityService,
	weatherSvc *WeatherService,
	store *StoreService,
	alerts *AlertService,
	notifier *NotificationService,
	cfg *config.AlertsConfig,
	logger *zerolog.Logger,
	m *metrics.Metrics,
) *SchedulerService {
	return &SchedulerService{
		cities:     cities,
		weather:    weatherSvc,
		store:      store,
		alerts:     alerts,
		dispatcher: notifier,
		config:     cfg,
		logger:     logger,
		metrics:    m,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the periodic collection job and runs the first cycle
// immediately. Returns once the scheduler is running.
func (s *SchedulerService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	_, err := s.scheduler.Every(s.config.Interval).
		SingletonMode(). // skip ticks while a cycle is still running
		StartImmediately().
		Do(func() {
			report := s.RunCycle(ctx)
			s.logger.Info().
				Int("succeeded", report.Succeeded).
				Int("failed", len(report.Failed)).
				Dur("duration", report.Duration).
				Msg("Collection cycle finished")
		})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("workers", s.config.Workers).
		Msg("Collection scheduler started")
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish its
// per-city tasks before releasing the collection context.
func (s *SchedulerService) Stop() {
	s.scheduler.Stop()
	s.cycleWG.Wait()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("Collection scheduler stopped")
}

// RunCycle collects every active city once through a bounded worker pool.
// Failures are recorded per city and never fail the cycle.
func (s *SchedulerService) RunCycle(ctx context.Context) *CycleReport {
	s.cycleWG.Add(1)
	defer s.cycleWG.Done()

	start := time.Now()
	report := &CycleReport{}

	cities, err := s.cities.ListActive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot list cities, skipping cycle")
		report.Duration = time.Since(start)
		return report
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for i := range cities {
		city := cities[i]
		g.Go(func() error {
			if err := s.collectCity(gctx, &city); err != nil {
				s.metrics.IncrementCounter("collection_cities_total", "failure")
				s.logger.Error().Err(err).Str("city", city.Name).Msg("City collection failed")
				mu.Lock()
				report.Failed = append(report.Failed, CityFailure{CityID: city.ID, Name: city.Name, Err: err})
				mu.Unlock()
				return nil // isolate per-city failures
			}
			s.metrics.IncrementCounter("collection_cities_total", "success")
			mu.Lock()
			report.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(start)
	s.metrics.IncrementCounter("collection_cycles_total")
	s.metrics.ObserveHistogram("collection_cycle_duration_seconds", report.Duration.Seconds())
	s.metrics.SetGauge("tracked_cities", float64(len(cities)))
	if count, err := s.store.AlertingCityCount(ctx); err == nil {
		s.metrics.SetGauge("alerting_cities", float64(count))
	}

	return report
}

// collectCity runs the fetch → store → evaluate → notify pipeline for one
// city. A fetch or store failure leaves the city's alert state untouched; a
// delivery failure does not undo the committed transition.
func (s *SchedulerService) collectCity(ctx context.Context, city *models.City) error {
	reading, err := s.weather.Fetch(ctx, city.Name, city.Country)
	if err != nil {
		return err
	}

	record := &models.WeatherRecord{
		CityID:      city.ID,
		Temperature: reading.Temperature,
		FeelsLike:   reading.FeelsLike,
		Humidity:    reading.Humidity,
		WindSpeed:   reading.WindSpeed,
		Condition:   reading.Condition,
		Timestamp:   reading.Timestamp,
	}
	if err := s.store.AppendReading(ctx, record); err != nil {
		return err
	}

	event, err := s.alerts.ProcessReading(ctx, city, record)
	if err != nil {
		return err
	}
	if event != nil {
		// Delivery outcome is recorded on the event; the transition
		// already stands regardless.
		if err := s.dispatcher.Dispatch(ctx, event, city); err != nil {
			s.logger.Warn().Err(err).Str("city", city.Name).Msg("Alert notification failed")
		}
	}
	return nil
}
