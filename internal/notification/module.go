// Package notification provides in-app notifications with deduplication and
// delivers their email mirrors from the outbox.
// Domain modules create notifications inside their own transactions through
// inapp.Writer; this module serves the recipient endpoints and consumes
// outbox due events.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qwork_backend/internal/email"
	"qwork_backend/internal/events"
	apphttp "qwork_backend/internal/http"
	notifhandler "qwork_backend/internal/notification/handler"
	"qwork_backend/internal/notification/inapp"
	"qwork_backend/internal/notification/outbox"
	"qwork_backend/platform/config"
	"qwork_backend/platform/db"
	"qwork_backend/platform/logger"
	"qwork_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const invalidOutboxPayloadPrefix = "invalid payload: "

type outboxStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (outbox.Record, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string, backoff time.Duration) error
}

// Module handles notification routes and outbox delivery.
type Module struct {
	inAppService *inapp.Service
	handler      *notifhandler.HTTPHandler
	outbox       outboxStore
	sender       email.Sender
	baseURL      string
	log          *logger.Logger
}

// New creates the notification module. pool may be nil in tests.
func New(pool *pgxpool.Pool, sender email.Sender, val *validator.Validator, cfg config.NotificationConfig, log *logger.Logger) *Module {
	var conn db.Conn
	if pool != nil {
		conn = pool
	}
	svc := inapp.NewService(conn, log)
	m := &Module{
		inAppService: svc,
		handler:      notifhandler.NewHTTPHandler(svc, val),
		sender:       sender,
		baseURL:      strings.TrimRight(cfg.GetAppBaseURL(), "/"),
		log:          log,
	}
	if conn != nil {
		m.outbox = outbox.New(conn)
	}
	return m
}

// Name returns the module name for logging
func (m *Module) Name() string { return "notification" }

// RegisterRoutes registers the recipient endpoints under /api/v1/notificacoes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notificacoes"))
}

// InAppService exposes the notification service to background jobs.
func (m *Module) InAppService() *inapp.Service { return m.inAppService }

// RegisterHandlers subscribes the module to outbox due events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), m)
	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.NotificationOutboxDue:
		return m.handleNotificationOutboxDue(ctx, e)
	default:
		m.log.Warn("unhandled event type in notification module", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleNotificationOutboxDue(ctx context.Context, e events.NotificationOutboxDue) error {
	if m.outbox == nil {
		m.log.Debug("notification outbox repository not configured; skipping outbox due event", "outboxId", e.OutboxID)
		return nil
	}
	rec, process, err := m.prepareOutboxRecord(ctx, e.OutboxID)
	if err != nil || !process {
		if err != nil {
			m.log.Error("failed to prepare outbox record", "outboxId", e.OutboxID, "error", err)
		}
		return err
	}

	if rec.Kind != outbox.KindEmail {
		m.markOutboxUnsupported(ctx, rec)
		return nil
	}

	var processErr error
	switch rec.Template {
	case outbox.TemplateNotification:
		processErr = m.processNotificationEmail(ctx, rec)
	case outbox.TemplateCustom:
		processErr = m.processCustomEmail(ctx, rec)
	default:
		m.markOutboxUnsupported(ctx, rec)
		return nil
	}

	if processErr != nil {
		m.handleOutboxDeliveryError(ctx, rec, processErr)
		return processErr
	}
	m.log.Info("outbox record processed successfully", "outboxId", rec.ID.String(), "template", rec.Template)
	return nil
}

func (m *Module) prepareOutboxRecord(ctx context.Context, outboxID uuid.UUID) (outbox.Record, bool, error) {
	rec, err := m.outbox.GetByID(ctx, outboxID)
	if err != nil {
		return outbox.Record{}, false, err
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		m.log.Debug("outbox record already settled; skipping", "outboxId", rec.ID.String(), "status", rec.Status)
		return rec, false, nil
	}
	if err := m.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return outbox.Record{}, false, err
	}
	return rec, true, nil
}

func (m *Module) handleOutboxDeliveryError(ctx context.Context, rec outbox.Record, deliveryErr error) {
	attempt := rec.Attempts + 1
	if attempt >= outbox.MaxAttempts {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Warn("notification outbox exhausted retries",
			"outboxId", rec.ID.String(),
			"attempt", attempt,
			"maxAttempts", outbox.MaxAttempts,
			"error", deliveryErr,
		)
		return
	}

	msg := deliveryErr.Error()
	backoff := outbox.Backoff(attempt)
	if err := m.outbox.MarkPending(ctx, rec.ID, &msg, backoff); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, msg)
		m.log.Error("notification outbox retry scheduling failed; marked failed", "outboxId", rec.ID.String(), "error", err)
		return
	}
	m.log.Warn("notification outbox scheduled retry",
		"outboxId", rec.ID.String(),
		"attempt", attempt,
		"retryIn", backoff,
		"error", deliveryErr,
	)
}

func (m *Module) processNotificationEmail(ctx context.Context, rec outbox.Record) error {
	var payload outbox.NotificationEmailPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, invalidOutboxPayloadPrefix+err.Error())
		return nil
	}
	if strings.TrimSpace(payload.To) == "" {
		m.log.Debug("outbox email payload has no recipient; marking succeeded", "outboxId", rec.ID.String())
		_ = m.outbox.MarkSucceeded(ctx, rec.ID)
		return nil
	}

	n := payload.Notification
	n.LinkAcao = m.absoluteLink(n.LinkAcao)
	if err := m.sender.SendNotificationEmail(ctx, payload.To, n); err != nil {
		return err
	}
	_ = m.outbox.MarkSucceeded(ctx, rec.ID)
	m.log.Info("notification email delivered", "outboxId", rec.ID.String(), "tipo", n.Tipo)
	return nil
}

func (m *Module) processCustomEmail(ctx context.Context, rec outbox.Record) error {
	var payload outbox.CustomEmailPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, invalidOutboxPayloadPrefix+err.Error())
		return nil
	}
	if strings.TrimSpace(payload.To) == "" {
		_ = m.outbox.MarkSucceeded(ctx, rec.ID)
		return nil
	}
	if strings.TrimSpace(payload.Subject) == "" || strings.TrimSpace(payload.HTML) == "" {
		_ = m.outbox.MarkFailed(ctx, rec.ID, invalidOutboxPayloadPrefix+"subject and html are required")
		return nil
	}
	if err := m.sender.SendCustomEmail(ctx, payload.To, payload.Subject, payload.HTML); err != nil {
		return err
	}
	_ = m.outbox.MarkSucceeded(ctx, rec.ID)
	return nil
}

func (m *Module) markOutboxUnsupported(ctx context.Context, rec outbox.Record) {
	msg := fmt.Sprintf("unsupported outbox kind/template: %s/%s", rec.Kind, rec.Template)
	_ = m.outbox.MarkFailed(ctx, rec.ID, msg)
	m.log.Warn("unsupported outbox record", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template)
}

// absoluteLink prefixes relative action links with the application base URL.
func (m *Module) absoluteLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" || m.baseURL == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return m.baseURL + "/" + strings.TrimLeft(link, "/")
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
