// Package repository implements the billing ports on PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opWithinTx = "billing.repository.within_tx"

	errRepoNotConfigured     = "billing repository not configured"
	errNotifierNotConfigured = "billing notifier not configured"
	errMailerNotConfigured   = "billing mailer not configured"
)

// NotifierFactory binds a notifier to the transaction's Querier.
type NotifierFactory func(q db.Querier) ports.Notifier

// MailerFactory binds a mailer to the transaction's Querier.
type MailerFactory func(q db.Querier) ports.Mailer

// Store opens one pgx transaction per unit of work.
type Store struct {
	pool     db.TxBeginner
	notifier NotifierFactory
	mailer   MailerFactory
}

func NewStore(pool db.TxBeginner, notifierFn NotifierFactory, mailerFn MailerFactory) *Store {
	return &Store{pool: pool, notifier: notifierFn, mailer: mailerFn}
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
	t := &txRepos{q: q, notifier: unconfigured{}, mailer: unconfigured{}}
	if s.notifier != nil {
		t.notifier = s.notifier(q)
	}
	if s.mailer != nil {
		t.mailer = s.mailer(q)
	}
	return t
}

type txRepos struct {
	q        db.Querier
	notifier ports.Notifier
	mailer   ports.Mailer
}

func (t *txRepos) Accounts() ports.AccountRepository { return &AccountRepo{q: t.q} }
func (t *txRepos) Payments() ports.PaymentRepository { return &PaymentRepo{q: t.q} }
func (t *txRepos) Tokens() ports.TokenRepository     { return &TokenRepo{q: t.q} }
func (t *txRepos) Audit() ports.AuditRecorder        { return audit.NewRepository(t.q) }
func (t *txRepos) Notifier() ports.Notifier          { return t.notifier }
func (t *txRepos) Mailer() ports.Mailer              { return t.mailer }

type unconfigured struct{}

func (unconfigured) Notify(context.Context, ports.NotificationRequest) (uuid.UUID, error) {
	return uuid.Nil, apperr.Internal(errNotifierNotConfigured)
}

func (unconfigured) ResolveMatching(context.Context, []string, map[string]any, string) (int, error) {
	return 0, apperr.Internal(errNotifierNotConfigured)
}

func (unconfigured) QueueResumptionEmail(context.Context, string, ports.ResumptionMessage) error {
	return apperr.Internal(errMailerNotConfigured)
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
