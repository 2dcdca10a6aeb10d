// Package ports defines what the billing module needs from storage and from
// the notification and audit modules.
package ports

import (
	"context"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"

	"github.com/google/uuid"
)

// Store runs a unit of work in one database transaction.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes every repository bound to the same transaction.
type Tx interface {
	Accounts() AccountRepository
	Payments() PaymentRepository
	Tokens() TokenRepository
	Audit() AuditRecorder
	Notifier() Notifier
	Mailer() Mailer
}

// AccountRepository persists contracting accounts. Writes are conditioned on
// the expected prior state and report whether a row changed.
type AccountRepository interface {
	Get(ctx context.Context, id int64) (domain.Account, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Account, error)
	// Activate sets ativa only while it is false; with confirm it also sets
	// pagamento_confirmado in the same statement.
	Activate(ctx context.Context, id int64, confirm bool, at time.Time) (bool, error)
	Deactivate(ctx context.Context, id int64, at time.Time) (bool, error)
	ConfirmPayment(ctx context.Context, id int64, at time.Time) (bool, error)
	// AdvanceStatus moves an inactive account from one of from to to.
	AdvanceStatus(ctx context.Context, id int64, from []domain.AccountStatus, to domain.AccountStatus, at time.Time) (bool, error)
}

// PaymentRepository persists payments and their receipts.
type PaymentRepository interface {
	GetForUpdate(ctx context.Context, id int64) (domain.Payment, error)
	MarkConfirmed(ctx context.Context, id int64, at time.Time) (bool, error)
	// UpdateInstallment rewrites only the status of installment numero, and
	// only while it still has status from.
	UpdateInstallment(ctx context.Context, p UpdateInstallmentParams) (bool, error)
	// UpdateReceiptSnapshots propagates the installment status to the
	// receipts' denormalized copies.
	UpdateReceiptSnapshots(ctx context.Context, paymentID int64, numero int, status domain.InstallmentStatus) (int, error)
	// DueInstallments lists pending installments due between from and to.
	DueInstallments(ctx context.Context, from, to time.Time, limit int) ([]domain.DueInstallment, error)
}

// UpdateInstallmentParams describes a single-installment status write.
type UpdateInstallmentParams struct {
	PaymentID int64
	Numero    int
	From      domain.InstallmentStatus
	To        domain.InstallmentStatus
	Overall   domain.PaymentStatus
	At        time.Time
}

// TokenRepository persists resumption tokens.
type TokenRepository interface {
	Insert(ctx context.Context, t domain.Token) error
	// Get returns nil when the token does not exist.
	Get(ctx context.Context, token string) (*domain.Token, error)
	// Consume marks the token used only while it is unused and unexpired.
	Consume(ctx context.Context, token string, at time.Time) (domain.Token, bool, error)
}

// AuditRecorder appends audit entries inside the current transaction.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// NotificationRequest is the billing view of a notification for an account.
type NotificationRequest struct {
	Tipo          string
	Prioridade    string
	ContratanteID int64
	Titulo        string
	Mensagem      string
	Contexto      map[string]any
	LinkAcao      string
}

// Notifier creates and resolves notifications inside the current transaction.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) (uuid.UUID, error)
	// ResolveMatching resolves open notifications of the given types whose
	// context contains every key/value of match.
	ResolveMatching(ctx context.Context, tipos []string, match map[string]any, actorCPF string) (int, error)
}

// Mailer queues an email for delivery after the transaction commits.
type Mailer interface {
	QueueResumptionEmail(ctx context.Context, to string, msg ResumptionMessage) error
}

// ResumptionMessage is the content of a resumption link email.
type ResumptionMessage struct {
	Nome   string
	Link   string
	Plano  domain.PlanSnapshot
	Expira time.Time
}
