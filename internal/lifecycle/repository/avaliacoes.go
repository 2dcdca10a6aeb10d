package repository

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opAvaliacaoCreateBatch   = "lifecycle.repository.avaliacao.create_batch"
	opAvaliacaoGet           = "lifecycle.repository.avaliacao.get"
	opAvaliacaoInactivate    = "lifecycle.repository.avaliacao.inactivate"
	opAvaliacaoUpdateStatus  = "lifecycle.repository.avaliacao.update_status"
	opAvaliacaoReleaseDrafts = "lifecycle.repository.avaliacao.release_drafts"
	opAvaliacaoStatuses      = "lifecycle.repository.avaliacao.statuses_by_lote"
	opAvaliacaoPriorInScope  = "lifecycle.repository.avaliacao.prior_in_scope"
)

// AvaliacaoRepo reads and writes avaliacoes.
type AvaliacaoRepo struct {
	q db.Querier
}

func NewAvaliacaoRepo(q db.Querier) *AvaliacaoRepo {
	return &AvaliacaoRepo{q: q}
}

const avaliacaoColumns = `id, lote_id, funcionario_cpf, status, motivo_inativacao, inativada_em,
	iniciada_em, concluida_em, criado_em`

func scanAvaliacao(row pgx.Row) (domain.Avaliacao, error) {
	var a domain.Avaliacao
	var status string
	err := row.Scan(&a.ID, &a.LoteID, &a.FuncionarioCPF, &status, &a.MotivoInativacao, &a.InativadaEm,
		&a.IniciadaEm, &a.ConcluidaEm, &a.CriadoEm)
	if err != nil {
		return domain.Avaliacao{}, err
	}
	a.Status = domain.AvaliacaoStatus(status)
	return a, nil
}

// notEmittedPredicate keeps every assessment write off lotes whose laudo was emitted.
const notEmittedPredicate = `NOT EXISTS (
		SELECT 1 FROM lotes_avaliacao l WHERE l.id = avaliacoes.lote_id AND l.emitido_em IS NOT NULL)`

var createAvaliacoesSQL = fmt.Sprintf(`
	INSERT INTO avaliacoes (lote_id, funcionario_cpf, status, criado_em, iniciada_em)
	SELECT $1, cpf, $3, $4, CASE WHEN $3 = 'iniciada' THEN $4::timestamptz END
	FROM unnest($2::text[]) AS cpf
	RETURNING %s`, avaliacaoColumns)

func (r *AvaliacaoRepo) CreateBatch(ctx context.Context, loteID int64, cpfs []string, status domain.AvaliacaoStatus, at time.Time) ([]domain.Avaliacao, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoCreateBatch)
	}
	rows, err := r.q.Query(ctx, createAvaliacoesSQL, loteID, cpfs, string(status), at)
	if err != nil {
		return nil, internal(opAvaliacaoCreateBatch, err)
	}
	defer rows.Close()

	items := make([]domain.Avaliacao, 0, len(cpfs))
	for rows.Next() {
		a, err := scanAvaliacao(rows)
		if err != nil {
			return nil, internal(opAvaliacaoCreateBatch, err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("funcionário já possui avaliação neste lote").WithOp(opAvaliacaoCreateBatch)
		}
		return nil, internal(opAvaliacaoCreateBatch, err)
	}
	return items, nil
}

var (
	getAvaliacaoSQL          = fmt.Sprintf(`SELECT %s FROM avaliacoes WHERE id = $1`, avaliacaoColumns)
	getAvaliacaoForUpdateSQL = getAvaliacaoSQL + ` FOR UPDATE`
)

func (r *AvaliacaoRepo) Get(ctx context.Context, id int64) (domain.Avaliacao, error) {
	return r.get(ctx, getAvaliacaoSQL, id)
}

func (r *AvaliacaoRepo) GetForUpdate(ctx context.Context, id int64) (domain.Avaliacao, error) {
	return r.get(ctx, getAvaliacaoForUpdateSQL, id)
}

func (r *AvaliacaoRepo) get(ctx context.Context, query string, id int64) (domain.Avaliacao, error) {
	if r == nil || r.q == nil {
		return domain.Avaliacao{}, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoGet)
	}
	a, err := scanAvaliacao(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Avaliacao{}, notFoundOr(err, opAvaliacaoGet, "avaliação")
	}
	return a, nil
}

var inactivateAvaliacaoSQL = `
	UPDATE avaliacoes
	SET status = 'inativada', motivo_inativacao = $2, inativada_em = $3
	WHERE id = $1
	  AND status NOT IN ('concluido', 'inativada')
	  AND ` + notEmittedPredicate

func (r *AvaliacaoRepo) Inactivate(ctx context.Context, id int64, motivo string, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoInactivate)
	}
	tag, err := r.q.Exec(ctx, inactivateAvaliacaoSQL, id, motivo, at)
	if err != nil {
		return false, internal(opAvaliacaoInactivate, err)
	}
	return tag.RowsAffected() == 1, nil
}

var updateAvaliacaoStatusSQL = `
	UPDATE avaliacoes
	SET status = $3,
	    iniciada_em = CASE WHEN $3 = 'iniciada' THEN $4 ELSE iniciada_em END,
	    concluida_em = CASE WHEN $3 = 'concluido' THEN $4 ELSE concluida_em END
	WHERE id = $1
	  AND status = $2
	  AND ` + notEmittedPredicate

func (r *AvaliacaoRepo) UpdateStatus(ctx context.Context, id int64, from, to domain.AvaliacaoStatus, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoUpdateStatus)
	}
	tag, err := r.q.Exec(ctx, updateAvaliacaoStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return false, internal(opAvaliacaoUpdateStatus, err)
	}
	return tag.RowsAffected() == 1, nil
}

const releaseDraftsSQL = `
	UPDATE avaliacoes
	SET status = 'iniciada', iniciada_em = $2
	WHERE lote_id = $1 AND status = 'rascunho'`

func (r *AvaliacaoRepo) ReleaseDrafts(ctx context.Context, loteID int64, at time.Time) (int, error) {
	if r == nil || r.q == nil {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoReleaseDrafts)
	}
	tag, err := r.q.Exec(ctx, releaseDraftsSQL, loteID, at)
	if err != nil {
		return 0, internal(opAvaliacaoReleaseDrafts, err)
	}
	return int(tag.RowsAffected()), nil
}

const statusesByLoteSQL = `SELECT status FROM avaliacoes WHERE lote_id = $1`

func (r *AvaliacaoRepo) StatusesByLote(ctx context.Context, loteID int64) ([]domain.AvaliacaoStatus, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoStatuses)
	}
	rows, err := r.q.Query(ctx, statusesByLoteSQL, loteID)
	if err != nil {
		return nil, internal(opAvaliacaoStatuses, err)
	}
	defer rows.Close()

	var out []domain.AvaliacaoStatus
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, internal(opAvaliacaoStatuses, err)
		}
		out = append(out, domain.AvaliacaoStatus(s))
	}
	if err := rows.Err(); err != nil {
		return nil, internal(opAvaliacaoStatuses, err)
	}
	return out, nil
}

// priorInScopeSQL only looks at lotes of the same scope with a lower ordinal;
// another scope's history never influences the guard.
const priorInScopeSQL = `
	SELECT a.id, l.id, l.codigo, l.numero_ordem, a.status
	FROM avaliacoes a
	JOIN lotes_avaliacao l ON l.id = a.lote_id
	WHERE a.funcionario_cpf = $1
	  AND l.clinica_id IS NOT DISTINCT FROM $2
	  AND l.empresa_id IS NOT DISTINCT FROM $3
	  AND l.contratante_id IS NOT DISTINCT FROM $4
	  AND l.numero_ordem < $5
	ORDER BY l.numero_ordem DESC, a.id DESC`

func (r *AvaliacaoRepo) PriorInScope(ctx context.Context, cpf string, scope caller.Scope, beforeOrdem int) ([]domain.PriorAssessment, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opAvaliacaoPriorInScope)
	}
	clinicaID, empresaID, contratanteID := scopeColumns(scope)
	rows, err := r.q.Query(ctx, priorInScopeSQL, cpf, clinicaID, empresaID, contratanteID, beforeOrdem)
	if err != nil {
		return nil, internal(opAvaliacaoPriorInScope, err)
	}
	defer rows.Close()

	var out []domain.PriorAssessment
	for rows.Next() {
		var p domain.PriorAssessment
		var status string
		if err := rows.Scan(&p.AvaliacaoID, &p.LoteID, &p.LoteCodigo, &p.NumeroOrdem, &status); err != nil {
			return nil, internal(opAvaliacaoPriorInScope, err)
		}
		p.Status = domain.AvaliacaoStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(opAvaliacaoPriorInScope, err)
	}
	return out, nil
}
