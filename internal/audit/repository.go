// Package audit appends an immutable record of every state-changing operation.
// Writes take the caller's Querier so they commit or roll back with the change
// they describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/google/uuid"
)

const (
	opRecord = "audit.repository.record"
	opList   = "audit.repository.list"

	errRepoNotConfigured = "audit repository not configured"
)

// Actions written by the lifecycle, billing and notification modules.
const (
	ActionLoteCriado          = "LOTE_CRIADO"
	ActionLoteTransicao       = "LOTE_TRANSICAO"
	ActionLoteRecalculado     = "LOTE_RECALCULADO"
	ActionEmissaoSolicitada   = "EMISSAO_SOLICITADA"
	ActionAvaliacaoIniciada   = "AVALIACAO_INICIADA"
	ActionAvaliacaoConcluida  = "AVALIACAO_CONCLUIDA"
	ActionInativacaoNormal    = "INATIVACAO_NORMAL"
	ActionInativacaoForcada   = "INATIVACAO_FORCADA"
	ActionLaudoEmitido        = "LAUDO_EMITIDO"
	ActionLaudoErro           = "LAUDO_ERRO"
	ActionLaudoReprocessado   = "LAUDO_REPROCESSADO"
	ActionLaudoEnviado        = "LAUDO_ENVIADO"
	ActionContaAtivada        = "ATIVACAO_CONTA"
	ActionContaDesativada     = "DESATIVACAO_CONTA"
	ActionPagamentoConfirmado = "PAGAMENTO_CONFIRMADO"
	ActionParcelaAtualizada   = "PARCELA_ATUALIZADA"
	ActionTokenEmitido        = "TOKEN_RETOMADA_EMITIDO"
	ActionTokenConsumido      = "TOKEN_RETOMADA_CONSUMIDO"
)

// Resource names used in audit rows.
const (
	ResourceLote      = "lotes_avaliacao"
	ResourceAvaliacao = "avaliacoes"
	ResourceLaudo     = "laudos"
	ResourceConta     = "contratantes"
	ResourcePagamento = "pagamentos"
)

// Entry is one audit record.
type Entry struct {
	ID          uuid.UUID      `json:"id"`
	ActorCPF    string         `json:"actorCpf"`
	ActorPerfil string         `json:"actorPerfil"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resourceId"`
	Detail      string         `json:"detail"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CriadoEm    time.Time      `json:"criadoEm"`
}

// ResourceKey formats an integer id for the resource_id column.
func ResourceKey(id int64) string {
	return fmt.Sprintf("%d", id)
}

// Repository reads and appends audit rows through any Querier.
type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

const insertEntrySQL = `
	INSERT INTO audit_logs (id, actor_cpf, actor_perfil, action, resource, resource_id, detail, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Record appends e. Audit rows are never updated or deleted.
func (r *Repository) Record(ctx context.Context, e Entry) error {
	if r == nil || r.q == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opRecord)
	}
	if strings.TrimSpace(e.Action) == "" || strings.TrimSpace(e.Resource) == "" {
		return apperr.Validation("action and resource are required").WithOp(opRecord)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "marshal audit metadata", err).WithOp(opRecord)
		}
	}

	if _, err := r.q.Exec(ctx, insertEntrySQL,
		e.ID, e.ActorCPF, e.ActorPerfil, e.Action, e.Resource, e.ResourceID, e.Detail, meta,
	); err != nil {
		return apperr.Wrap(apperr.KindInternal, "falha ao registrar auditoria", err).WithOp(opRecord)
	}
	return nil
}

const listEntriesSQL = `
	SELECT id, actor_cpf, actor_perfil, action, resource, resource_id, detail, metadata, criado_em
	FROM audit_logs
	WHERE resource = $1 AND resource_id = $2
	ORDER BY criado_em DESC
	LIMIT $3`

// List returns the newest entries for a resource.
func (r *Repository) List(ctx context.Context, resource, resourceID string, limit int) ([]Entry, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opList)
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	rows, err := r.q.Query(ctx, listEntriesSQL, resource, resourceID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "falha ao listar auditoria", err).WithOp(opList)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.ActorCPF, &e.ActorPerfil, &e.Action, &e.Resource, &e.ResourceID, &e.Detail, &meta, &e.CriadoEm); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "falha ao ler auditoria", err).WithOp(opList)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "falha ao ler auditoria", err).WithOp(opList)
	}
	return items, nil
}
