// Package ports defines the interfaces the lifecycle module needs from its
// storage and from neighbouring modules. Implementations live in
// internal/lifecycle/repository and internal/adapters.
package ports

import (
	"context"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/shared/caller"
)

// Store runs a unit of work in one database transaction.
// fn's writes commit only when it returns nil.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes every repository bound to the same transaction.
type Tx interface {
	Lotes() LoteRepository
	Avaliacoes() AvaliacaoRepository
	Laudos() LaudoRepository
	EmissionQueue() EmissionQueue
	Funcionarios() FuncionarioReader
	Audit() AuditRecorder
	Notifier() Notifier
}

// CreateLoteParams describes a new lote row.
type CreateLoteParams struct {
	Codigo      string
	Tipo        domain.LoteTipo
	Status      domain.LoteStatus
	Scope       caller.Scope
	NumeroOrdem int
	LiberadoPor string
	LiberadoEm  *time.Time
}

// LoteRepository persists lotes. Every status write is conditioned on the
// expected prior status and reports whether a row changed.
type LoteRepository interface {
	// LockScope serializes ordinal assignment for a scope.
	LockScope(ctx context.Context, scope caller.Scope) error
	NextNumeroOrdem(ctx context.Context, scope caller.Scope) (int, error)
	Create(ctx context.Context, p CreateLoteParams) (domain.Lote, error)
	Get(ctx context.Context, id int64) (domain.Lote, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Lote, error)
	// LockAggregate serializes recomputation of one lote.
	LockAggregate(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, from, to domain.LoteStatus, at time.Time) (bool, error)
	// MarkEmitted freezes the lote: sets emission timestamp and hash and moves
	// emissao_em_andamento to laudo_emitido, only while emitido_em is null.
	MarkEmitted(ctx context.Context, id int64, hash string, at time.Time) (bool, error)
}

// AvaliacaoRepository persists assessments.
type AvaliacaoRepository interface {
	CreateBatch(ctx context.Context, loteID int64, cpfs []string, status domain.AvaliacaoStatus, at time.Time) ([]domain.Avaliacao, error)
	Get(ctx context.Context, id int64) (domain.Avaliacao, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Avaliacao, error)
	// Inactivate writes inativada only while the row is not terminal.
	Inactivate(ctx context.Context, id int64, motivo string, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id int64, from, to domain.AvaliacaoStatus, at time.Time) (bool, error)
	// ReleaseDrafts moves every rascunho assessment of the lote to iniciada.
	ReleaseDrafts(ctx context.Context, loteID int64, at time.Time) (int, error)
	StatusesByLote(ctx context.Context, loteID int64) ([]domain.AvaliacaoStatus, error)
	// PriorInScope returns the subject's assessments on earlier lotes of the
	// same scope, newest batch ordinal first.
	PriorInScope(ctx context.Context, cpf string, scope caller.Scope, beforeOrdem int) ([]domain.PriorAssessment, error)
}

// LaudoRepository persists laudos (id = lote id).
type LaudoRepository interface {
	Reserve(ctx context.Context, loteID int64) (domain.Laudo, error)
	Get(ctx context.Context, id int64) (domain.Laudo, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Laudo, error)
	// MarkEmitted sets status, timestamp, actor and hash only from rascunho.
	MarkEmitted(ctx context.Context, p EmitLaudoParams) (bool, error)
	MarkError(ctx context.Context, id int64, cause string) (bool, error)
	Retry(ctx context.Context, id int64) (bool, error)
	// MarkSent touches only status and the delivery timestamp, from emitido.
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
}

// EmitLaudoParams carries the values frozen by emission.
type EmitLaudoParams struct {
	ID         int64
	EmissorCPF string
	Hash       string
	ArquivoKey *string
	At         time.Time
}

// EmissionQueue holds the emission request that shadows the lote states
// emissao_solicitada and emissao_em_andamento.
type EmissionQueue interface {
	Enqueue(ctx context.Context, loteID int64, actorCPF string, at time.Time) (domain.EmissionRequest, error)
	Get(ctx context.Context, loteID int64) (*domain.EmissionRequest, error)
	Remove(ctx context.Context, loteID int64) (bool, error)
}

// FuncionarioReader resolves the owning scope of assessment subjects.
type FuncionarioReader interface {
	ScopesByCPF(ctx context.Context, cpfs []string) (map[string]caller.Scope, error)
}

// AuditRecorder appends audit entries inside the current transaction.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}
