package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/opanasenko/meteotrack/internal/config"
	"github.com/opanasenko/meteotrack/internal/models"
	"github.com/opanasenko/meteotrack/pkg/metrics"
)

// DeliveryError wraps a notification failure. It is recorded on the alert
// event and never rolls back the transition that produced it.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var raisedTemplate = template.Must(template.New("raised").Parse(
	`Subject: [ALERT] High temperature in {{.City}}

Temperature alert for {{.City}}:

Current temperature {{printf "%.1f" .Temperature}}°C exceeded the threshold of {{printf "%.1f" .Threshold}}°C.

Observed at {{.Timestamp.Format "2006-01-02 15:04 MST"}}.
`))

var clearedTemplate = template.Must(template.New("cleared").Parse(
	`Subject: [RESOLVED] Temperature back to normal in {{.City}}

Temperature alert for {{.City}} has cleared:

Current temperature {{printf "%.1f" .Temperature}}°C is at or below the threshold of {{printf "%.1f" .Threshold}}°C.

Observed at {{.Timestamp.Format "2006-01-02 15:04 MST"}}.
`))

type alertMessage struct {
	City        string
	Temperature float64
	Threshold   float64
	Timestamp   time.Time
}

// sendFunc matches smtp.SendMail; swapped out in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NotificationService delivers alert transitions over email, with an
// optional Slack webhook mirror. Delivery outcomes are recorded on the
// event; failures are logged and never retried within the cycle.
type NotificationService struct {
	store      *StoreService
	smtp       *config.SMTPConfig
	slack      *config.IntegrationsConfig
	logger     *zerolog.Logger
	metrics    *metrics.Metrics
	send       sendFunc
	httpClient *http.Client
	now        func() time.Time
}

func NewNotificationService(store *StoreService, smtpCfg *config.SMTPConfig, integrations *config.IntegrationsConfig, logger *zerolog.Logger, m *metrics.Metrics) *NotificationService {
	return &NotificationService{
		store:      store,
		smtp:       smtpCfg,
		slack:      integrations,
		logger:     logger,
		metrics:    m,
		send:       smtp.SendMail,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// Dispatch delivers the event. It is called after the transition is already
// committed; whatever happens here, the state machine has moved on.
func (s *NotificationService) Dispatch(ctx context.Context, event *models.AlertEvent, city *models.City) error {
	msg := alertMessage{
		City:        city.DisplayName(),
		Temperature: event.Temperature,
		Threshold:   event.Threshold,
		Timestamp:   event.Timestamp,
	}

	emailErr := s.sendEmail(event.Kind, msg)
	s.notifySlack(ctx, event.Kind, msg)

	if emailErr != nil {
		s.metrics.IncrementCounter("notifications_total", "email", "failure")
		s.logger.Error().Err(emailErr).Str("city", city.Name).Msg("Alert delivery failed")
		if err := s.store.RecordDelivery(ctx, event.ID, nil, emailErr.Error()); err != nil {
			s.logger.Error().Err(err).Msg("Failed to record delivery error")
		}
		return &DeliveryError{Channel: "email", Err: emailErr}
	}

	s.metrics.IncrementCounter("notifications_total", "email", "success")
	deliveredAt := s.now().UTC()
	if err := s.store.RecordDelivery(ctx, event.ID, &deliveredAt, ""); err != nil {
		s.logger.Error().Err(err).Msg("Failed to record delivery")
	}
	if event.Kind == models.EventRaised {
		if err := s.store.MarkAlertSent(ctx, event.CityID, deliveredAt); err != nil {
			s.logger.Error().Err(err).Msg("Failed to stamp last alert time")
		}
	}
	return nil
}

func (s *NotificationService) sendEmail(kind models.EventKind, msg alertMessage) error {
	if !s.smtp.Configured() {
		s.logger.Warn().Str("city", msg.City).Msg("SMTP not configured, skipping email delivery")
		return fmt.Errorf("smtp not configured")
	}

	tmpl := raisedTemplate
	if kind == models.EventCleared {
		tmpl = clearedTemplate
	}

	var body bytes.Buffer
	from := s.smtp.From
	if from == "" {
		from = s.smtp.Username
	}
	fmt.Fprintf(&body, "From: %s\r\nTo: %s\r\n", from, s.smtp.To)
	if err := tmpl.Execute(&body, msg); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.smtp.Host, s.smtp.Port)
	auth := smtp.PlainAuth("", s.smtp.Username, s.smtp.Password, s.smtp.Host)
	recipients := strings.Split(s.smtp.To, ",")

	return s.send(addr, auth, from, recipients, body.Bytes())
}

type slackMessage struct {
	Text string `json:"text"`
}

// notifySlack mirrors the alert to a Slack webhook when configured. Failures
// are logged only; Slack is best effort.
func (s *NotificationService) notifySlack(ctx context.Context, kind models.EventKind, msg alertMessage) {
	if s.slack.SlackWebhookURL == "" {
		return
	}

	icon := "🔥"
	verb := "exceeded"
	if kind == models.EventCleared {
		icon = "✅"
		verb = "dropped back below"
	}
	payload := slackMessage{
		Text: fmt.Sprintf("%s %s: %.1f°C %s the %.1f°C threshold", icon, msg.City, msg.Temperature, verb, msg.Threshold),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.slack.SlackWebhookURL, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to build Slack request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.metrics.IncrementCounter("notifications_total", "slack", "failure")
		s.logger.Warn().Err(err).Msg("Slack notification failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.metrics.IncrementCounter("notifications_total", "slack", "failure")
		s.logger.Warn().Int("status", resp.StatusCode).Msg("Slack notification rejected")
		return
	}
	s.metrics.IncrementCounter("notifications_total", "slack", "success")
}
