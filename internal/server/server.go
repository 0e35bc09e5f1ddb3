package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/services"
	"github.com/opanasenko/meteotrack/internal/version"
	"github.com/opanasenko/meteotrack/pkg/weather"
)

const (
	minSnooze = 15 * time.Minute
	maxSnooze = 24 * time.Hour
)

// Server exposes the query and management API over HTTP.
type Server struct {
	services *services.Services
	logger   *zerolog.Logger
	http     *http.Server
}

func New(svc *services.Services, cfg *config.ServerConfig, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		services: svc,
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.services.Metrics.Handler()))

	api := router.Group("/api")
	{
		api.GET("/cities", s.handleListCities)
		api.POST("/cities", s.handleAddCity)
		api.DELETE("/cities/:name", s.handleRemoveCity)
		api.PUT("/cities/:name/config", s.handleUpdateCityConfig)

		api.GET("/weather/current/:city", s.handleCurrentWeather)
		api.GET("/weather/series/:city", s.handleWeatherSeries)
		api.GET("/weather/summary/:city", s.handleDailySummary)
		api.GET("/weather/trends/:city", s.handleWeatherTrends)

		api.GET("/alerts/status", s.handleAlertStatus)
		api.GET("/alerts/history", s.handleAlertHistory)
		api.GET("/alerts/state/:city", s.handleAlertState)
		api.POST("/alerts/:id/acknowledge", s.handleAcknowledge)
		api.POST("/alerts/:id/snooze", s.handleSnooze)
	}
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleListCities(c *gin.Context) {
	cities, err := s.services.City.ListActive(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cities": cities})
}

type addCityRequest struct {
	Name        string   `json:"name" binding:"required"`
	Country     string   `json:"country"`
	Threshold   *float64 `json:"threshold"`
	Consecutive *int     `json:"consecutive"`
}

func (s *Server) handleAddCity(c *gin.Context) {
	var req addCityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	city, err := s.services.City.AddCity(c.Request.Context(), req.Name, req.Country, req.Threshold, req.Consecutive)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, city)
}

type updateCityConfigRequest struct {
	Threshold   *float64 `json:"threshold"`
	Consecutive *int     `json:"consecutive"`
}

func (s *Server) handleUpdateCityConfig(c *gin.Context) {
	var req updateCityConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	city, err := s.services.City.UpdateAlertConfig(c.Request.Context(), c.Param("name"), req.Threshold, req.Consecutive)
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	var storeError *services.StoreError
	if errors.As(err, &storeError) {
		s.internalError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, city)
}

func (s *Server) handleRemoveCity(c *gin.Context) {
	err := s.services.City.RemoveCity(c.Request.Context(), c.Param("name"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("name")})
}

func (s *Server) handleCurrentWeather(c *gin.Context) {
	city, err := s.services.City.GetCity(c.Request.Context(), c.Param("city"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	reading, err := s.services.Weather.Current(c.Request.Context(), city.Name, city.Country)
	if err != nil {
		switch weather.KindOf(err) {
		case weather.ErrNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "city unknown to weather source"})
		case weather.ErrRateLimited:
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "weather source rate limited"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "weather source unavailable"})
		}
		return
	}
	c.JSON(http.StatusOK, reading)
}

// windowFromQuery parses ?hours=N (default 24) into a [from, to] window.
func windowFromQuery(c *gin.Context) (time.Time, time.Time, error) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 24*30 {
			return time.Time{}, time.Time{}, fmt.Errorf("hours must be an integer between 1 and %d", 24*30)
		}
		hours = parsed
	}
	to := time.Now().UTC()
	return to.Add(-time.Duration(hours) * time.Hour), to, nil
}

func (s *Server) handleWeatherSeries(c *gin.Context) {
	city, err := s.services.City.GetCity(c.Request.Context(), c.Param("city"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.services.Store.ReadingsWindow(c.Request.Context(), city.ID, from, to)
	if err != nil {
		s.internalError(c, err)
		return
	}

	stats, err := s.services.Store.Stats(c.Request.Context(), city.ID, from, to)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"city":     city.Name,
		"readings": records,
		"stats":    stats,
	})
}

func (s *Server) handleDailySummary(c *gin.Context) {
	city, err := s.services.City.GetCity(c.Request.Context(), c.Param("city"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	summary, err := s.services.Store.DailySummary(c.Request.Context(), city.ID, day)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleWeatherTrends(c *gin.Context) {
	city, err := s.services.City.GetCity(c.Request.Context(), c.Param("city"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	from, to, err := windowFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trends, err := s.services.Store.Trends(c.Request.Context(), city.ID, from, to)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, trends)
}

func (s *Server) handleAlertStatus(c *gin.Context) {
	active, err := s.services.Store.ActiveAlerts(c.Request.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(c, err)
		return
	}

	alerting, err := s.services.Store.AlertingCityCount(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active_alerts":      active,
		"alerting_cities":    alerting,
		"cycle_success_rate": s.services.Metrics.CycleSuccessRate(),
	})
}

func (s *Server) handleAlertHistory(c *gin.Context) {
	filter := services.EventFilter{Limit: 100}

	if name := c.Query("city"); name != "" {
		city, err := s.services.City.GetCity(c.Request.Context(), name)
		if errors.Is(err, services.ErrCityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
		filter.CityID = city.ID
	}

	events, err := s.services.Store.EventHistory(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleAlertState(c *gin.Context) {
	city, err := s.services.City.GetCity(c.Request.Context(), c.Param("city"))
	if errors.Is(err, services.ErrCityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	state, err := s.services.Store.GetAlertState(c.Request.Context(), city.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type acknowledgeRequest struct {
	Acknowledged *bool `json:"acknowledged"`
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	// Empty body acknowledges; {"acknowledged": false} reverses one.
	acknowledged := true
	if c.Request.ContentLength > 0 {
		var req acknowledgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Acknowledged != nil {
			acknowledged = *req.Acknowledged
		}
	}

	err = s.services.Store.AckEvent(c.Request.Context(), id, acknowledged)
	if errors.Is(err, services.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert event not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "acknowledged": acknowledged})
}

type snoozeRequest struct {
	Duration string `json:"duration" binding:"required"` // e.g. "30m", "2h"
}

func (s *Server) handleSnooze(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req snoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil || d < minSnooze || d > maxSnooze {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("duration must be between %s and %s", minSnooze, maxSnooze)})
		return
	}

	until := time.Now().UTC().Add(d)
	err = s.services.Store.SnoozeEvent(c.Request.Context(), id, until)
	if errors.Is(err, services.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert event not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snoozed_until": until})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
