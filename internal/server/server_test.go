package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/services"
	"github.com/opanasenko/meteotrack/pkg/metrics"
	"github.com/opanasenko/meteotrack/tests/helpers"
)

func newTestServer(t *testing.T) (*Server, *helpers.MockDB) {
	mockDB := helpers.NewMockDB(t)
	mockRedis := helpers.NewMockRedis()
	logger := helpers.NewSilentTestLogger()

	cfg := &config.Config{
		Alerts: config.AlertsConfig{Threshold: 35, Consecutive: 2, Interval: 300 * time.Second, Workers: 4},
		Server: config.ServerConfig{Port: 8080},
	}
	svc := services.New(mockDB.DB, mockRedis.Client, cfg, logger, metrics.New())
	return New(svc, &cfg.Server, logger), mockDB
}

func cityRows(id uuid.UUID, name string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "country", "is_active"}).
		AddRow(id, name, "IN", true)
}

func (s *Server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListCities(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "country", "is_active"}).
		AddRow(uuid.New(), "Mumbai", "IN", true)
	mockDB.Mock.ExpectQuery(`SELECT \* FROM "cities" WHERE is_active = \$1`).
		WithArgs(true).
		WillReturnRows(rows)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/cities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mumbai")
	mockDB.ExpectationsWereMet(t)
}

func TestAddCityRejectsBadBody(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/cities", strings.NewReader(`{"country":"IN"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddCityRejectsBadConsecutive(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/cities", strings.NewReader(`{"name":"Mumbai","consecutive":0}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "consecutive")
}

func TestRemoveCityNotFound(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "cities" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectCommit()

	rec := srv.do(httptest.NewRequest(http.MethodDelete, "/api/cities/Atlantis", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestAlertStateUnknownCity(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`SELECT \* FROM "cities"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/alerts/state/Atlantis", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestUpdateCityConfig(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	id := uuid.New()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM "cities"`).
		WillReturnRows(cityRows(id, "Mumbai"))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "cities" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	req := httptest.NewRequest(http.MethodPut, "/api/cities/Mumbai/config", strings.NewReader(`{"threshold":40.5,"consecutive":3}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "40.5")
	mockDB.ExpectationsWereMet(t)
}

func TestUpdateCityConfigRejectsBadConsecutive(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/cities/Mumbai/config", strings.NewReader(`{"consecutive":0}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "consecutive")
	// Validation fires before any database access.
	mockDB.ExpectationsWereMet(t)
}

func TestUpdateCityConfigUnknownCity(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`SELECT \* FROM "cities"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodPut, "/api/cities/Atlantis/config", strings.NewReader(`{"threshold":40.0}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	mockDB.ExpectationsWereMet(t)
}

func TestWeatherSeriesRejectsMalformedHours(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	id := uuid.New()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM "cities"`).
		WillReturnRows(cityRows(id, "Mumbai"))

	// Trailing garbage must not parse as a window.
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/weather/series/Mumbai?hours=12abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "hours must be an integer")
	mockDB.ExpectationsWereMet(t)
}

func TestAcknowledgeToggleOff(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "alert_events" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+id.String()+"/acknowledge", strings.NewReader(`{"acknowledged":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acknowledged":false`)
	mockDB.ExpectationsWereMet(t)
}

func TestAcknowledgeRejectsInvalidID(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/alerts/not-a-uuid/acknowledge", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnoozeRejectsOutOfRangeDuration(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+id.String()+"/snooze", strings.NewReader(`{"duration":"5m"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "duration must be between")
}

func TestSnoozeHappyPath(t *testing.T) {
	srv, mockDB := newTestServer(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "alert_events" SET "snoozed_until"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+id.String()+"/snooze", strings.NewReader(`{"duration":"2h"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := srv.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "snoozed_until")
	mockDB.ExpectationsWereMet(t)
}
