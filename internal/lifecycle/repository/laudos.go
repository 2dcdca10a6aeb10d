package repository

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opLaudoReserve     = "lifecycle.repository.laudo.reserve"
	opLaudoGet         = "lifecycle.repository.laudo.get"
	opLaudoMarkEmitted = "lifecycle.repository.laudo.mark_emitted"
	opLaudoMarkError   = "lifecycle.repository.laudo.mark_error"
	opLaudoRetry       = "lifecycle.repository.laudo.retry"
	opLaudoMarkSent    = "lifecycle.repository.laudo.mark_sent"
)

// LaudoRepo reads and writes laudos. Emission columns are written once,
// guarded by status and emitido_em in the WHERE clause.
type LaudoRepo struct {
	q db.Querier
}

func NewLaudoRepo(q db.Querier) *LaudoRepo {
	return &LaudoRepo{q: q}
}

const laudoColumns = `id, status, emissor_cpf, emitido_em, hash_pdf, enviado_em, arquivo_key,
	tentativas, ultimo_erro, criado_em`

func scanLaudo(row pgx.Row) (domain.Laudo, error) {
	var l domain.Laudo
	var status string
	err := row.Scan(&l.ID, &status, &l.EmissorCPF, &l.EmitidoEm, &l.HashPDF, &l.EnviadoEm, &l.ArquivoKey,
		&l.Tentativas, &l.UltimoErro, &l.CriadoEm)
	if err != nil {
		return domain.Laudo{}, err
	}
	l.Status = domain.LaudoStatus(status)
	return l, nil
}

var reserveLaudoSQL = fmt.Sprintf(`
	INSERT INTO laudos (id, status) VALUES ($1, 'rascunho')
	RETURNING %s`, laudoColumns)

func (r *LaudoRepo) Reserve(ctx context.Context, loteID int64) (domain.Laudo, error) {
	if r == nil || r.q == nil {
		return domain.Laudo{}, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoReserve)
	}
	l, err := scanLaudo(r.q.QueryRow(ctx, reserveLaudoSQL, loteID))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return domain.Laudo{}, apperr.Conflict("laudo já reservado para o lote").WithOp(opLaudoReserve)
		}
		return domain.Laudo{}, internal(opLaudoReserve, err)
	}
	return l, nil
}

var (
	getLaudoSQL          = fmt.Sprintf(`SELECT %s FROM laudos WHERE id = $1`, laudoColumns)
	getLaudoForUpdateSQL = getLaudoSQL + ` FOR UPDATE`
)

func (r *LaudoRepo) Get(ctx context.Context, id int64) (domain.Laudo, error) {
	return r.get(ctx, getLaudoSQL, id)
}

func (r *LaudoRepo) GetForUpdate(ctx context.Context, id int64) (domain.Laudo, error) {
	return r.get(ctx, getLaudoForUpdateSQL, id)
}

func (r *LaudoRepo) get(ctx context.Context, query string, id int64) (domain.Laudo, error) {
	if r == nil || r.q == nil {
		return domain.Laudo{}, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoGet)
	}
	l, err := scanLaudo(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Laudo{}, notFoundOr(err, opLaudoGet, "laudo")
	}
	return l, nil
}

const markLaudoEmittedSQL = `
	UPDATE laudos
	SET status = 'emitido', emissor_cpf = $2, hash_pdf = $3, arquivo_key = $4, emitido_em = $5
	WHERE id = $1 AND status = 'rascunho' AND emitido_em IS NULL`

func (r *LaudoRepo) MarkEmitted(ctx context.Context, p ports.EmitLaudoParams) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoMarkEmitted)
	}
	if !domain.IsValidHash(p.Hash) {
		return false, apperr.Validation("hash do laudo inválido").WithOp(opLaudoMarkEmitted)
	}
	tag, err := r.q.Exec(ctx, markLaudoEmittedSQL, p.ID, p.EmissorCPF, p.Hash, p.ArquivoKey, p.At)
	if err != nil {
		return false, internal(opLaudoMarkEmitted, err)
	}
	return tag.RowsAffected() == 1, nil
}

const markLaudoErrorSQL = `
	UPDATE laudos
	SET status = 'erro', ultimo_erro = $2
	WHERE id = $1 AND status = 'rascunho' AND emitido_em IS NULL`

func (r *LaudoRepo) MarkError(ctx context.Context, id int64, cause string) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoMarkError)
	}
	tag, err := r.q.Exec(ctx, markLaudoErrorSQL, id, cause)
	if err != nil {
		return false, internal(opLaudoMarkError, err)
	}
	return tag.RowsAffected() == 1, nil
}

const retryLaudoSQL = `
	UPDATE laudos
	SET status = 'rascunho', tentativas = tentativas + 1
	WHERE id = $1 AND status = 'erro'`

func (r *LaudoRepo) Retry(ctx context.Context, id int64) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoRetry)
	}
	tag, err := r.q.Exec(ctx, retryLaudoSQL, id)
	if err != nil {
		return false, internal(opLaudoRetry, err)
	}
	return tag.RowsAffected() == 1, nil
}

const markLaudoSentSQL = `
	UPDATE laudos
	SET status = 'enviado', enviado_em = $2
	WHERE id = $1 AND status = 'emitido'`

func (r *LaudoRepo) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opLaudoMarkSent)
	}
	tag, err := r.q.Exec(ctx, markLaudoSentSQL, id, at)
	if err != nil {
		return false, internal(opLaudoMarkSent, err)
	}
	return tag.RowsAffected() == 1, nil
}
