// Package email renders the two outbound templates (meeting-reminder,
// meeting-minutes) and submits each message over its own SMTP connection
// (one dial per message; connections are not pooled or reused). It is
// stateless: delivery outcomes are handed back to the caller to persist
// (the minutes record's emailDelivery.recipients, per the specification),
// not stored here.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"time"

	"go.uber.org/zap"
	"gopkg.in/mail.v2"

	"github.com/meetgrid/backend/internal/v1/logging"
	"github.com/meetgrid/backend/internal/v1/metrics"
	"github.com/meetgrid/backend/internal/v1/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Config holds SMTP connection parameters.
type Config struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Dispatcher renders and sends the two outbound email templates.
type Dispatcher struct {
	cfg    Config
	dialer *mail.Dialer
}

// New constructs a Dispatcher from SMTP configuration.
func New(cfg Config) *Dispatcher {
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	dialer.Timeout = 15 * time.Second
	return &Dispatcher{cfg: cfg, dialer: dialer}
}

// ReminderData is the template context for meeting-reminder.html.
type ReminderData struct {
	Title         string
	TimeLabel     string
	RecipientName string
	JoinURL       string
	MeetingID     string
}

// MinutesData is the template context for meeting-minutes.html.
type MinutesData struct {
	Title            string
	Date             string
	DurationMinutes  int
	Summary          string
	DiscussionPoints []string
	Decisions        []string
	ActionItems      []models.ActionItem
	FollowUps        []models.FollowUp
}

// RecipientResult is the per-recipient outcome the caller persists into
// MeetingMinutes.EmailDelivery.Recipients (or logs, for reminder emails).
type RecipientResult struct {
	Email     string
	Status    models.RecipientDeliveryStatus
	SentAt    *time.Time
	Error     string
	Permanent bool // true for SMTP 4xx/5xx reply failures: do not retry
}

// SendReminder renders and sends one meeting-reminder email.
func (d *Dispatcher) SendReminder(ctx context.Context, recipient string, data ReminderData) RecipientResult {
	return d.send(ctx, recipient, fmt.Sprintf("Reminder: %s starts in %s", data.Title, data.TimeLabel), "meeting-reminder.html", data, "meeting-reminder")
}

// SendMinutes renders and sends one meeting-minutes email.
func (d *Dispatcher) SendMinutes(ctx context.Context, recipient string, data MinutesData) RecipientResult {
	return d.send(ctx, recipient, fmt.Sprintf("Meeting minutes: %s", data.Title), "meeting-minutes.html", data, "meeting-minutes")
}

func (d *Dispatcher) send(ctx context.Context, recipient, subject, templateName string, data any, metricLabel string) RecipientResult {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateName, data); err != nil {
		metrics.EmailsSent.WithLabelValues(metricLabel, "render_failed").Inc()
		return RecipientResult{Email: recipient, Status: models.DeliveryFailed, Error: err.Error(), Permanent: true}
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", d.cfg.From)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())

	if err := d.dialer.DialAndSend(msg); err != nil {
		permanent := isPermanentSMTPFailure(err)
		logging.Error(ctx, "email dispatch failed", zap.String("recipient", recipient), zap.String("template", templateName), zap.Error(err), zap.Bool("permanent", permanent))
		metrics.EmailsSent.WithLabelValues(metricLabel, "failed").Inc()
		return RecipientResult{Email: recipient, Status: models.DeliveryFailed, Error: err.Error(), Permanent: permanent}
	}

	now := time.Now()
	metrics.EmailsSent.WithLabelValues(metricLabel, "sent").Inc()
	return RecipientResult{Email: recipient, Status: models.DeliverySent, SentAt: &now}
}

// isPermanentSMTPFailure distinguishes an SMTP 4xx/5xx reply (bad address,
// mailbox unavailable, blocked sender, server refusal — not retried) from a
// transport error (connection refused, timeout — worth retrying). net
// errors are treated as transient.
func isPermanentSMTPFailure(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(net.Error); ok {
		return false
	}
	msg := err.Error()
	for _, code := range []string{"421", "450", "451", "452", "455", "550", "551", "552", "553", "554"} {
		if containsCode(msg, code) {
			return true
		}
	}
	return false
}

func containsCode(msg, code string) bool {
	for i := 0; i+len(code) <= len(msg); i++ {
		if msg[i:i+len(code)] == code {
			return true
		}
	}
	return false
}
