package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/opanasenko/meteotrack/internal/models"
)

// ErrCityNotFound is returned for lookups and removals of unknown cities.
var ErrCityNotFound = errors.New("city not found")

// CityService manages the set of tracked cities. Removal is a soft delete so
// historical readings and alert events stay queryable.
type CityService struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

func NewCityService(db *gorm.DB, logger *zerolog.Logger) *CityService {
	return &CityService{
		db:     db,
		logger: logger,
	}
}

func validateOverrides(threshold *float64, consecutive *int) error {
	if threshold != nil && (math.IsNaN(*threshold) || math.IsInf(*threshold, 0)) {
		return fmt.Errorf("invalid city config: threshold must be a finite number")
	}
	if consecutive != nil && *consecutive < 1 {
		return fmt.Errorf("invalid city config: consecutive must be >= 1, got %d", *consecutive)
	}
	return nil
}

// AddCity starts tracking a city. Re-adding a previously removed city
// reactivates it in place, keeping its history.
func (s *CityService) AddCity(ctx context.Context, name, country string, threshold *float64, consecutive *int) (*models.City, error) {
	if name == "" {
		return nil, fmt.Errorf("invalid city config: name must not be empty")
	}
	if err := validateOverrides(threshold, consecutive); err != nil {
		return nil, err
	}

	var city models.City
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&city).Error
	switch {
	case err == nil:
		if city.IsActive {
			return nil, fmt.Errorf("city %s is already tracked", name)
		}
		city.IsActive = true
		if country != "" {
			city.Country = country
		}
		city.Threshold = threshold
		city.Consecutive = consecutive
		if err := s.db.WithContext(ctx).Save(&city).Error; err != nil {
			return nil, storeErr("reactivate city", err)
		}
		s.logger.Info().Str("city", name).Msg("Reactivated city")
		return &city, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		city = models.City{
			Name:        name,
			Country:     country,
			IsActive:    true,
			Threshold:   threshold,
			Consecutive: consecutive,
		}
		if err := s.db.WithContext(ctx).Create(&city).Error; err != nil {
			return nil, storeErr("create city", err)
		}
		s.logger.Info().Str("city", name).Msg("Added city")
		return &city, nil

	default:
		return nil, storeErr("lookup city", err)
	}
}

// RemoveCity stops sampling a city without deleting its history.
func (s *CityService) RemoveCity(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).
		Model(&models.City{}).
		Where("name = ? AND is_active = ?", name, true).
		Update("is_active", false)
	if result.Error != nil {
		return storeErr("remove city", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCityNotFound
	}
	s.logger.Info().Str("city", name).Msg("Removed city")
	return nil
}

// GetCity returns an active city by name.
func (s *CityService) GetCity(ctx context.Context, name string) (*models.City, error) {
	var city models.City
	err := s.db.WithContext(ctx).
		Where("name = ? AND is_active = ?", name, true).
		First(&city).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCityNotFound
	}
	if err != nil {
		return nil, storeErr("get city", err)
	}
	return &city, nil
}

// ListActive returns all cities currently being sampled, ordered by name.
func (s *CityService) ListActive(ctx context.Context) ([]models.City, error) {
	var cities []models.City
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&cities).Error
	if err != nil {
		return nil, storeErr("list cities", err)
	}
	return cities, nil
}

// UpdateAlertConfig changes a city's threshold/consecutive overrides. Nil
// clears an override back to the global default.
func (s *CityService) UpdateAlertConfig(ctx context.Context, name string, threshold *float64, consecutive *int) (*models.City, error) {
	if err := validateOverrides(threshold, consecutive); err != nil {
		return nil, err
	}

	city, err := s.GetCity(ctx, name)
	if err != nil {
		return nil, err
	}

	city.Threshold = threshold
	city.Consecutive = consecutive
	if err := s.db.WithContext(ctx).Save(city).Error; err != nil {
		return nil, storeErr("update city config", err)
	}
	return city, nil
}
