package repository

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opLoteLockScope     = "lifecycle.repository.lote.lock_scope"
	opLoteNextOrdem     = "lifecycle.repository.lote.next_numero_ordem"
	opLoteCreate        = "lifecycle.repository.lote.create"
	opLoteGet           = "lifecycle.repository.lote.get"
	opLoteLockAggregate = "lifecycle.repository.lote.lock_aggregate"
	opLoteUpdateStatus  = "lifecycle.repository.lote.update_status"
	opLoteMarkEmitted   = "lifecycle.repository.lote.mark_emitted"
)

// LoteRepo reads and writes lotes_avaliacao.
type LoteRepo struct {
	q db.Querier
}

// NewLoteRepo creates a LoteRepo over q.
func NewLoteRepo(q db.Querier) *LoteRepo {
	return &LoteRepo{q: q}
}

const loteColumns = `id, codigo, tipo, status, clinica_id, empresa_id, contratante_id, numero_ordem,
	liberado_por, criado_em, liberado_em, emitido_em, hash_laudo, atualizado_em`

func scanLote(row pgx.Row) (domain.Lote, error) {
	var l domain.Lote
	var tipo, status string
	var clinicaID, empresaID, contratanteID *int64
	err := row.Scan(&l.ID, &l.Codigo, &tipo, &status, &clinicaID, &empresaID, &contratanteID, &l.NumeroOrdem,
		&l.LiberadoPor, &l.CriadoEm, &l.LiberadoEm, &l.EmitidoEm, &l.HashLaudo, &l.AtualizadoEm)
	if err != nil {
		return domain.Lote{}, err
	}
	l.Tipo = domain.LoteTipo(tipo)
	l.Status = domain.LoteStatus(status)
	l.Scope = scopeFromColumns(clinicaID, empresaID, contratanteID)
	return l, nil
}

func (r *LoteRepo) LockScope(ctx context.Context, scope caller.Scope) error {
	if r == nil || r.q == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opLoteLockScope)
	}
	if err := db.AdvisoryXactLockText(ctx, r.q, "lote-ordem:"+scope.String()); err != nil {
		return internal(opLoteLockScope, err)
	}
	return nil
}

const nextNumeroOrdemSQL = `
	SELECT COALESCE(MAX(numero_ordem), 0) + 1
	FROM lotes_avaliacao
	WHERE clinica_id IS NOT DISTINCT FROM $1
	  AND empresa_id IS NOT DISTINCT FROM $2
	  AND contratante_id IS NOT DISTINCT FROM $3`

func (r *LoteRepo) NextNumeroOrdem(ctx context.Context, scope caller.Scope) (int, error) {
	if r == nil || r.q == nil {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opLoteNextOrdem)
	}
	clinicaID, empresaID, contratanteID := scopeColumns(scope)
	var next int
	if err := r.q.QueryRow(ctx, nextNumeroOrdemSQL, clinicaID, empresaID, contratanteID).Scan(&next); err != nil {
		return 0, internal(opLoteNextOrdem, err)
	}
	return next, nil
}

var createLoteSQL = fmt.Sprintf(`
	INSERT INTO lotes_avaliacao
		(codigo, tipo, status, clinica_id, empresa_id, contratante_id, numero_ordem, liberado_por, liberado_em)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING %s`, loteColumns)

func (r *LoteRepo) Create(ctx context.Context, p ports.CreateLoteParams) (domain.Lote, error) {
	if r == nil || r.q == nil {
		return domain.Lote{}, apperr.Internal(errRepoNotConfigured).WithOp(opLoteCreate)
	}
	clinicaID, empresaID, contratanteID := scopeColumns(p.Scope)
	lote, err := scanLote(r.q.QueryRow(ctx, createLoteSQL,
		p.Codigo, string(p.Tipo), string(p.Status), clinicaID, empresaID, contratanteID,
		p.NumeroOrdem, p.LiberadoPor, p.LiberadoEm,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.Lote{}, apperr.Conflict("já existe um lote com este código").WithOp(opLoteCreate)
		}
		if db.IsCheckViolation(err) {
			return domain.Lote{}, apperr.Validation("escopo ou status de lote inválido").WithOp(opLoteCreate)
		}
		return domain.Lote{}, internal(opLoteCreate, err)
	}
	return lote, nil
}

var (
	getLoteSQL          = fmt.Sprintf(`SELECT %s FROM lotes_avaliacao WHERE id = $1`, loteColumns)
	getLoteForUpdateSQL = getLoteSQL + ` FOR UPDATE`
)

func (r *LoteRepo) Get(ctx context.Context, id int64) (domain.Lote, error) {
	return r.get(ctx, getLoteSQL, id)
}

// GetForUpdate locks the lote row until the transaction ends.
func (r *LoteRepo) GetForUpdate(ctx context.Context, id int64) (domain.Lote, error) {
	return r.get(ctx, getLoteForUpdateSQL, id)
}

func (r *LoteRepo) get(ctx context.Context, query string, id int64) (domain.Lote, error) {
	if r == nil || r.q == nil {
		return domain.Lote{}, apperr.Internal(errRepoNotConfigured).WithOp(opLoteGet)
	}
	lote, err := scanLote(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Lote{}, notFoundOr(err, opLoteGet, "lote")
	}
	return lote, nil
}

func (r *LoteRepo) LockAggregate(ctx context.Context, id int64) error {
	if r == nil || r.q == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opLoteLockAggregate)
	}
	if err := db.AdvisoryXactLockText(ctx, r.q, fmt.Sprintf("lote-recompute:%d", id)); err != nil {
		return internal(opLoteLockAggregate, err)
	}
	return nil
}

const updateLoteStatusSQL = `
	UPDATE lotes_avaliacao
	SET status = $3,
	    atualizado_em = $4,
	    liberado_em = CASE WHEN $3 = 'ativo' THEN COALESCE(liberado_em, $4) ELSE liberado_em END
	WHERE id = $1 AND status = $2`

func (r *LoteRepo) UpdateStatus(ctx context.Context, id int64, from, to domain.LoteStatus, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLoteUpdateStatus)
	}
	tag, err := r.q.Exec(ctx, updateLoteStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return false, internal(opLoteUpdateStatus, err)
	}
	return tag.RowsAffected() == 1, nil
}

const markLoteEmittedSQL = `
	UPDATE lotes_avaliacao
	SET status = 'laudo_emitido', emitido_em = $3, hash_laudo = $2, atualizado_em = $3
	WHERE id = $1 AND status = 'emissao_em_andamento' AND emitido_em IS NULL`

func (r *LoteRepo) MarkEmitted(ctx context.Context, id int64, hash string, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLoteMarkEmitted)
	}
	tag, err := r.q.Exec(ctx, markLoteEmittedSQL, id, hash, at)
	if err != nil {
		return false, internal(opLoteMarkEmitted, err)
	}
	return tag.RowsAffected() == 1, nil
}
