package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/pkg/metrics"
	"github.com/opanasenko/meteotrack/pkg/weather"
)

const currentWeatherTTL = 5 * time.Minute

// readingSource is the slice of the weather client the service needs.
type readingSource interface {
	CurrentByCity(ctx context.Context, city, country string) (*weather.Reading, error)
}

// WeatherService fetches current conditions through the upstream client,
// caching successful responses in Redis so repeated queries inside one
// interval do not burn API quota.
type WeatherService struct {
	source  readingSource
	redis   *redis.Client
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewWeatherService(cfg *config.WeatherConfig, redis *redis.Client, logger *zerolog.Logger, m *metrics.Metrics) *WeatherService {
	return &WeatherService{
		source:  weather.NewClient(cfg.OpenWeatherAPIKey, cfg.UserAgent, cfg.FetchTimeout),
		redis:   redis,
		logger:  logger,
		metrics: m,
	}
}

// Fetch always queries the upstream source. The sampling pipeline depends on
// every cycle seeing a fresh reading, so this path never consults the cache;
// successful responses still refresh it for dashboard reads.
func (s *WeatherService) Fetch(ctx context.Context, city, country string) (*weather.Reading, error) {
	start := time.Now()
	reading, err := s.source.CurrentByCity(ctx, city, country)
	if err != nil {
		s.metrics.ObserveHistogram("weather_fetch_duration_seconds", time.Since(start).Seconds(), "failure")
		return nil, err
	}
	s.metrics.ObserveHistogram("weather_fetch_duration_seconds", time.Since(start).Seconds(), "success")

	cacheKey := fmt.Sprintf("weather:current:%s", city)
	if data, err := json.Marshal(reading); err == nil {
		if err := s.redis.Set(ctx, cacheKey, data, currentWeatherTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("city", city).Msg("Failed to cache weather reading")
		}
	}

	return reading, nil
}

// Current returns the latest conditions for a city, served from cache when
// fresh. Only user-facing queries take this path; the scheduler uses Fetch.
func (s *WeatherService) Current(ctx context.Context, city, country string) (*weather.Reading, error) {
	cacheKey := fmt.Sprintf("weather:current:%s", city)

	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var reading weather.Reading
		if err := json.Unmarshal([]byte(cached), &reading); err == nil {
			return &reading, nil
		}
		// Corrupt cache entry, fall through to a live fetch.
		s.redis.Del(ctx, cacheKey)
	}

	return s.Fetch(ctx, city, country)
}
