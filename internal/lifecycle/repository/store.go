// Package repository implements the lifecycle ports on PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opWithinTx = "lifecycle.repository.within_tx"

	errRepoNotConfigured     = "lifecycle repository not configured"
	errNotifierNotConfigured = "lifecycle notifier not configured"
)

// NotifierFactory binds a notifier to the transaction's Querier.
type NotifierFactory func(q db.Querier) ports.Notifier

// AuditFactory binds an audit recorder to the transaction's Querier.
type AuditFactory func(q db.Querier) ports.AuditRecorder

// Store opens one pgx transaction per unit of work.
type Store struct {
	pool     db.TxBeginner
	audit    AuditFactory
	notifier NotifierFactory
}

// NewStore creates a Store. When auditFn is nil entries go to audit_logs
// through audit.Repository.
func NewStore(pool db.TxBeginner, auditFn AuditFactory, notifierFn NotifierFactory) *Store {
	if auditFn == nil {
		auditFn = func(q db.Querier) ports.AuditRecorder { return audit.NewRepository(q) }
	}
	return &Store{pool: pool, audit: auditFn, notifier: notifierFn}
}

var _ ports.Store = (*Store)(nil)

// WithinTx runs fn in a transaction that commits only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if s == nil || s.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opWithinTx)
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, s.bind(tx))
	})
	if err == nil {
		return nil
	}
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return apperr.Wrap(apperr.KindInternal, "falha na transação", err).WithOp(opWithinTx)
}

func (s *Store) bind(q db.Querier) *txRepos {
	t := &txRepos{q: q, audit: s.audit(q)}
	if s.notifier != nil {
		t.notifier = s.notifier(q)
	} else {
		t.notifier = unconfiguredNotifier{}
	}
	return t
}

type txRepos struct {
	q        db.Querier
	audit    ports.AuditRecorder
	notifier ports.Notifier
}

func (t *txRepos) Lotes() ports.LoteRepository           { return &LoteRepo{q: t.q} }
func (t *txRepos) Avaliacoes() ports.AvaliacaoRepository { return &AvaliacaoRepo{q: t.q} }
func (t *txRepos) Laudos() ports.LaudoRepository         { return &LaudoRepo{q: t.q} }
func (t *txRepos) EmissionQueue() ports.EmissionQueue    { return &EmissionQueueRepo{q: t.q} }
func (t *txRepos) Funcionarios() ports.FuncionarioReader { return &FuncionarioRepo{q: t.q} }
func (t *txRepos) Audit() ports.AuditRecorder            { return t.audit }
func (t *txRepos) Notifier() ports.Notifier              { return t.notifier }

type unconfiguredNotifier struct{}

func (unconfiguredNotifier) Notify(context.Context, ports.NotificationRequest) (uuid.UUID, error) {
	return uuid.Nil, apperr.Internal(errNotifierNotConfigured)
}

func (unconfiguredNotifier) ResolveByContext(context.Context, string, string, string) (int, error) {
	return 0, apperr.Internal(errNotifierNotConfigured)
}

// scopeColumns returns (clinica_id, empresa_id, contratante_id) for a scope.
func scopeColumns(s caller.Scope) (*int64, *int64, *int64) {
	return s.ClinicaID, s.EmpresaID, s.ContratanteID
}

func scopeFromColumns(clinicaID, empresaID, contratanteID *int64) caller.Scope {
	if contratanteID != nil {
		return caller.Scope{Kind: caller.ScopeEntidade, ContratanteID: contratanteID}
	}
	return caller.Scope{Kind: caller.ScopeEmpresa, ClinicaID: clinicaID, EmpresaID: empresaID}
}

func notFoundOr(err error, op, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(what + " não encontrado").WithOp(op)
	}
	return internal(op, err)
}

func internal(op string, err error) error {
	return apperr.Wrap(apperr.KindInternal, fmt.Sprintf("%s failed", op), err).WithOp(op)
}
