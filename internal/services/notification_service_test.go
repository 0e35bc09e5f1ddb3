package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/models"
	"github.com/opanasenko/meteotrack/pkg/metrics"
	"github.com/opanasenko/meteotrack/tests/helpers"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	body string
}

func newTestNotificationService(t *testing.T, smtpCfg *config.SMTPConfig, slack *config.IntegrationsConfig) (*NotificationService, *helpers.MockDB, *capturedMail) {
	mockDB := helpers.NewMockDB(t)
	logger := helpers.NewSilentTestLogger()
	store := NewStoreService(mockDB.DB, helpers.NewMockRedis().Client, logger)

	svc := NewNotificationService(store, smtpCfg, slack, logger, metrics.New())
	svc.now = func() time.Time { return helpers.FixedNow }

	mail := &capturedMail{}
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		mail.addr = addr
		mail.from = from
		mail.to = to
		mail.body = string(msg)
		return nil
	}
	return svc, mockDB, mail
}

func configuredSMTP() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "alerts@example.com",
		Password: "secret",
		From:     "alerts@example.com",
		To:       "ops@example.com",
	}
}

func expectDeliveryRecorded(mockDB *helpers.MockDB) {
	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "alert_events" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()
}

func expectAlertSentStamped(mockDB *helpers.MockDB) {
	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectExec(`UPDATE "alert_states" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()
}

func TestDispatchSendsRaisedEmail(t *testing.T) {
	svc, mockDB, mail := newTestNotificationService(t, configuredSMTP(), &config.IntegrationsConfig{})
	defer mockDB.Close()

	city := helpers.MockCity("Mumbai")
	event := helpers.MockAlertEvent(city.ID, models.EventRaised)

	expectDeliveryRecorded(mockDB)
	expectAlertSentStamped(mockDB)

	require.NoError(t, svc.Dispatch(context.Background(), event, city))

	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, []string{"ops@example.com"}, mail.to)
	assert.Contains(t, mail.body, "Subject: [ALERT] High temperature in Mumbai, IN")
	assert.Contains(t, mail.body, "38.2°C")
	assert.Contains(t, mail.body, "35.0°C")
	mockDB.ExpectationsWereMet(t)
}

func TestDispatchSendsClearedEmail(t *testing.T) {
	svc, mockDB, mail := newTestNotificationService(t, configuredSMTP(), &config.IntegrationsConfig{})
	defer mockDB.Close()

	city := helpers.MockCity("Mumbai")
	event := helpers.MockAlertEvent(city.ID, models.EventCleared)
	event.Temperature = 34.0

	// CLEARED records delivery but never stamps last_alert_sent_at.
	expectDeliveryRecorded(mockDB)

	require.NoError(t, svc.Dispatch(context.Background(), event, city))

	assert.Contains(t, mail.body, "Subject: [RESOLVED]")
	assert.Contains(t, mail.body, "34.0°C")
	mockDB.ExpectationsWereMet(t)
}

func TestDispatchDeliveryFailureIsRecorded(t *testing.T) {
	svc, mockDB, _ := newTestNotificationService(t, configuredSMTP(), &config.IntegrationsConfig{})
	defer mockDB.Close()

	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return fmt.Errorf("550 relay denied")
	}

	city := helpers.MockCity("Mumbai")
	event := helpers.MockAlertEvent(city.ID, models.EventRaised)

	// Only the failed outcome is written; the transition stands.
	expectDeliveryRecorded(mockDB)

	err := svc.Dispatch(context.Background(), event, city)
	require.Error(t, err)

	var delErr *DeliveryError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, "email", delErr.Channel)
	mockDB.ExpectationsWereMet(t)
}

func TestDispatchSkipsWhenSMTPUnconfigured(t *testing.T) {
	svc, mockDB, mail := newTestNotificationService(t, &config.SMTPConfig{}, &config.IntegrationsConfig{})
	defer mockDB.Close()

	city := helpers.MockCity("Mumbai")
	event := helpers.MockAlertEvent(city.ID, models.EventRaised)

	expectDeliveryRecorded(mockDB)

	err := svc.Dispatch(context.Background(), event, city)
	require.Error(t, err)
	assert.Empty(t, mail.body)
	mockDB.ExpectationsWereMet(t)
}

func TestDispatchMirrorsToSlack(t *testing.T) {
	var payload string
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload = r.Method + " " + string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	svc, mockDB, _ := newTestNotificationService(t, configuredSMTP(), &config.IntegrationsConfig{SlackWebhookURL: webhook.URL})
	defer mockDB.Close()

	city := helpers.MockCity("Mumbai")
	event := helpers.MockAlertEvent(city.ID, models.EventRaised)

	expectDeliveryRecorded(mockDB)
	expectAlertSentStamped(mockDB)

	require.NoError(t, svc.Dispatch(context.Background(), event, city))
	assert.Contains(t, payload, "POST")
	assert.Contains(t, payload, "Mumbai, IN")
	assert.Contains(t, payload, "38.2")
	mockDB.ExpectationsWereMet(t)
}
