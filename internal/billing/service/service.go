// Package service implements the payment activation gate: account
// activation, payment confirmation, resumption tokens and installment
// status updates. Each operation runs in one transaction.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/events"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/logger"
)

// Notification types produced by billing.
const (
	NotifContratacaoAtiva     = "contratacao_ativa"
	NotifPagamentoConfirmado  = "pagamento_confirmado"
	NotifParcelaPendente      = "parcela_pendente"
	NotifParcelaVencendo      = "parcela_vencendo"
	notifContextPagamentoID   = "pagamento_id"
	notifContextNumeroParcela = "numero_parcela"
	notifPrioridadeMedia      = "media"
	notifPrioridadeAlta       = "alta"
)

const (
	defaultTokenTTL       = 72 * time.Hour
	defaultReminderWindow = 3 * 24 * time.Hour
	reminderBatchLimit    = 500
	resumptionPath        = "/pagamento/retomar"
)

// Service is the billing facade.
type Service struct {
	store     ports.Store
	bus       events.Bus
	log       *logger.Logger
	tokenTTL  time.Duration
	minReason int
	baseURL   string
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithEventBus publishes committed billing events.
func WithEventBus(b events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithTokenTTL sets how long a resumption token stays valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithMinReason sets the minimum activation and deactivation reason length.
func WithMinReason(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minReason = n
		}
	}
}

// WithPublicBaseURL sets the frontend origin used in resumption links.
func WithPublicBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store ports.Store, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		log:       log,
		tokenTTL:  defaultTokenTTL,
		minReason: domain.DefaultMinReasonLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range evts {
		s.bus.Publish(ctx, e)
	}
}

func (s *Service) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperr.Error
	if !errors.As(err, &domainErr) {
		domainErr = apperr.Wrap(apperr.KindInternal, "falha interna", err)
	}
	if domainErr.Op == "" {
		domainErr.Op = op
	}
	if s.log != nil {
		if domainErr.Kind == apperr.KindInternal {
			s.log.WithContext(ctx).Error("billing operation failed", "operation", op, "error", err)
		} else {
			s.log.WithContext(ctx).BusinessRejection(op, domainErr.Kind.Code(), domainErr.Message)
		}
	}
	return domainErr
}

// requireOperator admits administrators and the system caller.
func requireOperator(c caller.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.HasRole(caller.RoleAdmin, caller.RoleSystem) {
		return apperr.Forbidden("operação restrita à administração")
	}
	return nil
}

func record(ctx context.Context, tx ports.Tx, c caller.Context, action, resource string, id int64, detail string, meta map[string]any) error {
	return tx.Audit().Record(ctx, audit.Entry{
		ActorCPF:    c.ActorCPF,
		ActorPerfil: string(c.Role),
		Action:      action,
		Resource:    resource,
		ResourceID:  audit.ResourceKey(id),
		Detail:      detail,
		Metadata:    meta,
	})
}
