// Package service implements the lote, avaliação and laudo lifecycle managers.
// Every state-changing operation runs in one transaction that re-reads the
// current row under lock, writes conditioned on the expected prior status,
// recomputes the lote aggregate and appends the audit entry.
package service

import (
	"context"
	"errors"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/events"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/logger"
)

// Notification types produced by the lifecycle.
const (
	NotifLoteConcluido      = "lote_concluido_aguardando_laudo"
	NotifEmissaoSolicitada  = "emissao_solicitada_sucesso"
	NotifLaudoEnviado       = "laudo_enviado"
	notifContextLoteID      = "lote_id"
	notifPrioridadeMedia    = "media"
	notifPrioridadeAlta     = "alta"
	notifDestinatarioGestor = "gestor"
)

// Service is the lifecycle manager facade.
type Service struct {
	store   ports.Store
	archive ports.ArtifactArchive
	bus     events.Bus
	log     *logger.Logger
	rules   domain.JustificationRules
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithArchive stores emitted artifacts in object storage.
func WithArchive(a ports.ArtifactArchive) Option {
	return func(s *Service) { s.archive = a }
}

// WithEventBus publishes committed lifecycle events.
func WithEventBus(b events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithJustificationRules overrides the 10/50 character thresholds.
func WithJustificationRules(r domain.JustificationRules) Option {
	return func(s *Service) { s.rules = r }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store ports.Store, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   log,
		rules: domain.DefaultJustificationRules(),
		now:   func() time.Time { return time.Now().UTC() },
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

// fail logs internal failures with context and passes business outcomes through.
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
			s.log.WithContext(ctx).Error("lifecycle operation failed", "operation", op, "error", err)
		} else {
			s.log.WithContext(ctx).BusinessRejection(op, domainErr.Kind.Code(), domainErr.Message)
		}
	}
	return domainErr
}

func (s *Service) logTransition(entity string, id int64, from, to, actor string) {
	if s.log != nil {
		s.log.Transition(entity, id, from, to, actor)
	}
}

// loadLote locks the lote row and checks the caller may act on it.
func loadLote(ctx context.Context, tx ports.Tx, c caller.Context, id int64) (domain.Lote, error) {
	lote, err := tx.Lotes().GetForUpdate(ctx, id)
	if err != nil {
		return domain.Lote{}, err
	}
	if !c.CanAccess(lote.Scope) {
		// Same answer as a missing row so scopes cannot be probed.
		return domain.Lote{}, apperr.NotFound("lote não encontrado")
	}
	return lote, nil
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
