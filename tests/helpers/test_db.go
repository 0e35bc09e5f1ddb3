package helpers

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opanasenko/meteotrack/internal/models"
)

// FixedNow is the deterministic clock used by mocked databases.
var FixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// MockDB represents a mocked database connection for testing
type MockDB struct {
	DB   *gorm.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a new mock database connection
func NewMockDB(t *testing.T) *MockDB {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return FixedNow
		},
	})
	require.NoError(t, err)

	return &MockDB{
		DB:   gormDB,
		Mock: mock,
	}
}

// Close closes the mock database connection
func (m *MockDB) Close() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ExpectationsWereMet checks if all expected database interactions were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	require.NoError(t, m.Mock.ExpectationsWereMet())
}

// MockCity creates a mock tracked city for testing
func MockCity(name string) *models.City {
	return &models.City{
		ID:        uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Name:      name,
		Country:   "IN",
		IsActive:  true,
		CreatedAt: FixedNow,
		UpdatedAt: FixedNow,
	}
}

// MockWeatherRecord creates a mock weather sample for testing
func MockWeatherRecord(cityID uuid.UUID, temperature float64) *models.WeatherRecord {
	return &models.WeatherRecord{
		ID:          uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		CityID:      cityID,
		Temperature: temperature,
		FeelsLike:   temperature + 1.5,
		Humidity:    60,
		WindSpeed:   12.5,
		Condition:   "Clear",
		Timestamp:   FixedNow,
		CreatedAt:   FixedNow,
	}
}

// MockAlertState creates a mock evaluator state row for testing
func MockAlertState(cityID uuid.UUID, count int, status models.AlertStatus) *models.AlertState {
	return &models.AlertState{
		CityID:           cityID,
		ConsecutiveCount: count,
		Status:           status,
		UpdatedAt:        FixedNow,
	}
}

// MockAlertEvent creates a mock alert transition for testing
func MockAlertEvent(cityID uuid.UUID, kind models.EventKind) *models.AlertEvent {
	return &models.AlertEvent{
		ID:          uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		CityID:      cityID,
		Kind:        kind,
		Temperature: 38.2,
		Threshold:   35.0,
		Timestamp:   FixedNow,
		CreatedAt:   FixedNow,
	}
}

// AnyTime is a custom matcher for time values in SQL mocks
type AnyTime struct{}

// Match implements the driver.Valuer interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// AnyUUID is a custom matcher for UUID values in SQL mocks
type AnyUUID struct{}

// Match implements the driver.Valuer interface
func (a AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-'
}
