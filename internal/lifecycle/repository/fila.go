package repository

import (
	"context"
	"errors"
	"time"

	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opFilaEnqueue = "lifecycle.repository.fila.enqueue"
	opFilaGet     = "lifecycle.repository.fila.get"
	opFilaRemove  = "lifecycle.repository.fila.remove"

	opFuncionarioScopes = "lifecycle.repository.funcionario.scopes"
)

// EmissionQueueRepo stores fila_emissao rows.
type EmissionQueueRepo struct {
	q db.Querier
}

const enqueueEmissionSQL = `
	INSERT INTO fila_emissao (lote_id, solicitado_por, solicitado_em)
	VALUES ($1, $2, $3)
	ON CONFLICT (lote_id) DO UPDATE SET tentativas = fila_emissao.tentativas + 1
	RETURNING lote_id, solicitado_por, solicitado_em, tentativas`

// Enqueue opens the request, or counts another attempt when it already exists.
func (r *EmissionQueueRepo) Enqueue(ctx context.Context, loteID int64, actorCPF string, at time.Time) (domain.EmissionRequest, error) {
	if r == nil || r.q == nil {
		return domain.EmissionRequest{}, apperr.Internal(errRepoNotConfigured).WithOp(opFilaEnqueue)
	}
	var req domain.EmissionRequest
	err := r.q.QueryRow(ctx, enqueueEmissionSQL, loteID, actorCPF, at).
		Scan(&req.LoteID, &req.SolicitadoPor, &req.SolicitadoEm, &req.Tentativas)
	if err != nil {
		return domain.EmissionRequest{}, internal(opFilaEnqueue, err)
	}
	return req, nil
}

const getEmissionSQL = `
	SELECT lote_id, solicitado_por, solicitado_em, tentativas
	FROM fila_emissao WHERE lote_id = $1`

func (r *EmissionQueueRepo) Get(ctx context.Context, loteID int64) (*domain.EmissionRequest, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opFilaGet)
	}
	var req domain.EmissionRequest
	err := r.q.QueryRow(ctx, getEmissionSQL, loteID).
		Scan(&req.LoteID, &req.SolicitadoPor, &req.SolicitadoEm, &req.Tentativas)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal(opFilaGet, err)
	}
	return &req, nil
}

const removeEmissionSQL = `DELETE FROM fila_emissao WHERE lote_id = $1`

func (r *EmissionQueueRepo) Remove(ctx context.Context, loteID int64) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opFilaRemove)
	}
	tag, err := r.q.Exec(ctx, removeEmissionSQL, loteID)
	if err != nil {
		return false, internal(opFilaRemove, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FuncionarioRepo resolves subject scopes from funcionarios.
type FuncionarioRepo struct {
	q db.Querier
}

const scopesByCPFSQL = `
	SELECT cpf, clinica_id, empresa_id, contratante_id
	FROM funcionarios
	WHERE cpf = ANY($1) AND ativo`

func (r *FuncionarioRepo) ScopesByCPF(ctx context.Context, cpfs []string) (map[string]caller.Scope, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opFuncionarioScopes)
	}
	rows, err := r.q.Query(ctx, scopesByCPFSQL, cpfs)
	if err != nil {
		return nil, internal(opFuncionarioScopes, err)
	}
	defer rows.Close()

	out := make(map[string]caller.Scope, len(cpfs))
	for rows.Next() {
		var cpf string
		var clinicaID, empresaID, contratanteID *int64
		if err := rows.Scan(&cpf, &clinicaID, &empresaID, &contratanteID); err != nil {
			return nil, internal(opFuncionarioScopes, err)
		}
		out[cpf] = scopeFromColumns(clinicaID, empresaID, contratanteID)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(opFuncionarioScopes, err)
	}
	return out, nil
}
