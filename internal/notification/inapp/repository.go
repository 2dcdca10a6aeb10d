package inapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opResolveRecipient = "notification.inapp.repository.resolve_recipient"
	opFindOpen         = "notification.inapp.repository.find_open"
	opInsert           = "notification.inapp.repository.insert"
	opGet              = "notification.inapp.repository.get"
	opList             = "notification.inapp.repository.list"
	opMarkRead         = "notification.inapp.repository.mark_read"
	opResolve          = "notification.inapp.repository.resolve"
	opResolveByContext = "notification.inapp.repository.resolve_by_context"
	opResolveMatching  = "notification.inapp.repository.resolve_matching"
	opArchive          = "notification.inapp.repository.archive"
	opDeleteExpired    = "notification.inapp.repository.delete_expired"

	errRepoNotConfigured = "in-app notification repository not configured"
	errCPFRequired       = "cpf is required"
)

const notificationColumns = `id, tipo, prioridade, destinatario_cpf, destinatario_tipo, titulo, mensagem,
	dados_contexto, link_acao, botao_texto, lida, data_leitura, resolvida, resolvida_por, resolvida_em,
	expira_em, criado_em`

// priorityOrder sorts critica first and baixa last.
const priorityOrder = `CASE prioridade
		WHEN 'critica' THEN 1
		WHEN 'alta' THEN 2
		WHEN 'media' THEN 3
		WHEN 'baixa' THEN 4
		ELSE 5
	END`

// Repository runs on whatever Querier it is given: the pool, or a transaction
// owned by the caller.
type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) ready() bool {
	return r != nil && r.q != nil
}

// resolveRecipient turns the addressed recipient into a CPF, plus the owning
// contratante and an email address when they are known.
func (r *Repository) resolveRecipient(ctx context.Context, p CreateParams) (recipient, error) {
	if !r.ready() {
		return recipient{}, apperr.Internal(errRepoNotConfigured).WithOp(opResolveRecipient)
	}

	var rec recipient
	switch p.DestinatarioTipo {
	case DestinatarioContratante:
		if p.DestinatarioID == nil {
			return recipient{}, apperr.Validation("destinatarioId is required for contratante").WithOp(opResolveRecipient)
		}
		err := r.q.QueryRow(ctx,
			`SELECT responsavel_cpf, responsavel_email FROM contratantes WHERE id = $1`,
			*p.DestinatarioID,
		).Scan(&rec.CPF, &rec.Email)
		if errors.Is(err, pgx.ErrNoRows) {
			return recipient{}, apperr.NotFound("contratante não encontrado").WithOp(opResolveRecipient)
		}
		if err != nil {
			return recipient{}, apperr.Internal(fmt.Sprintf("resolve contratante recipient failed: %v", err)).WithOp(opResolveRecipient)
		}
		id := *p.DestinatarioID
		rec.ContratanteID = &id

	case DestinatarioClinica:
		if p.DestinatarioID == nil {
			return recipient{}, apperr.Validation("destinatarioId is required for clinica").WithOp(opResolveRecipient)
		}
		var contratanteID int64
		err := r.q.QueryRow(ctx,
			`SELECT c.responsavel_cpf, c.responsavel_email, c.id
			 FROM clinicas cl
			 JOIN contratantes c ON c.id = cl.contratante_id
			 WHERE cl.id = $1`,
			*p.DestinatarioID,
		).Scan(&rec.CPF, &rec.Email, &contratanteID)
		if errors.Is(err, pgx.ErrNoRows) {
			return recipient{}, apperr.NotFound("clínica não encontrada").WithOp(opResolveRecipient)
		}
		if err != nil {
			return recipient{}, apperr.Internal(fmt.Sprintf("resolve clinica recipient failed: %v", err)).WithOp(opResolveRecipient)
		}
		rec.ContratanteID = &contratanteID

	default:
		if strings.TrimSpace(p.DestinatarioCPF) == "" {
			return recipient{}, apperr.Validation(errCPFRequired).WithOp(opResolveRecipient)
		}
		rec.CPF = p.DestinatarioCPF
		err := r.q.QueryRow(ctx,
			`SELECT email, contratante_id FROM funcionarios WHERE cpf = $1 LIMIT 1`,
			p.DestinatarioCPF,
		).Scan(&rec.Email, &rec.ContratanteID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return recipient{}, apperr.Internal(fmt.Sprintf("resolve funcionario recipient failed: %v", err)).WithOp(opResolveRecipient)
		}
	}

	if rec.CPF == "" {
		return recipient{}, apperr.Validation("destinatário sem CPF responsável").WithOp(opResolveRecipient)
	}
	return rec, nil
}

// findOpen returns the unresolved, unarchived notification with the same
// dedup identity, if any.
func (r *Repository) findOpen(ctx context.Context, tipo, cpf, dedupKey string) (uuid.UUID, bool, error) {
	if !r.ready() {
		return uuid.Nil, false, apperr.Internal(errRepoNotConfigured).WithOp(opFindOpen)
	}
	var id uuid.UUID
	err := r.q.QueryRow(ctx,
		`SELECT id FROM notificacoes
		 WHERE tipo = $1 AND destinatario_cpf = $2 AND dedup_key = $3
		   AND resolvida = FALSE AND arquivada = FALSE
		 LIMIT 1`,
		tipo, cpf, dedupKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, apperr.Internal(fmt.Sprintf("find open notification failed: %v", err)).WithOp(opFindOpen)
	}
	return id, true, nil
}

type insertRow struct {
	Tipo             string
	Prioridade       Prioridade
	DestinatarioCPF  string
	DestinatarioTipo DestinatarioTipo
	Titulo           string
	Mensagem         string
	Contexto         map[string]any
	DedupKey         *string
	LinkAcao         *string
	BotaoTexto       *string
	ExpiraEm         *time.Time
}

func (r *Repository) insert(ctx context.Context, row insertRow) (uuid.UUID, error) {
	if !r.ready() {
		return uuid.Nil, apperr.Internal(errRepoNotConfigured).WithOp(opInsert)
	}
	contexto, err := json.Marshal(row.Contexto)
	if err != nil {
		return uuid.Nil, apperr.Internal(fmt.Sprintf("marshal notification context failed: %v", err)).WithOp(opInsert)
	}

	var id uuid.UUID
	err = r.q.QueryRow(ctx, `
		INSERT INTO notificacoes
		(tipo, prioridade, destinatario_cpf, destinatario_tipo, titulo, mensagem,
		 dados_contexto, dedup_key, link_acao, botao_texto, expira_em)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, row.Tipo, string(row.Prioridade), row.DestinatarioCPF, string(row.DestinatarioTipo), row.Titulo,
		row.Mensagem, contexto, row.DedupKey, row.LinkAcao, row.BotaoTexto, row.ExpiraEm).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return uuid.Nil, apperr.Conflict("notificação duplicada").WithOp(opInsert)
		}
		return uuid.Nil, apperr.Internal(fmt.Sprintf("insert notification failed: %v", err)).WithOp(opInsert)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Notification, error) {
	if !r.ready() {
		return Notification{}, apperr.Internal(errRepoNotConfigured).WithOp(opGet)
	}
	n, err := scanNotification(r.q.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notificacoes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Notification{}, apperr.NotFound("notificação não encontrada").WithOp(opGet)
	}
	if err != nil {
		return Notification{}, apperr.Internal(fmt.Sprintf("get notification failed: %v", err)).WithOp(opGet)
	}
	return n, nil
}

// List returns the recipient's visible notifications, most urgent first, and
// the total matching the filter.
func (r *Repository) List(ctx context.Context, cpf string, f Filter) ([]Notification, int, error) {
	if !r.ready() {
		return nil, 0, apperr.Internal(errRepoNotConfigured).WithOp(opList)
	}
	if cpf == "" {
		return nil, 0, apperr.Validation(errCPFRequired).WithOp(opList)
	}
	f = f.normalized()

	where, args := listWhere(cpf, f)

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM notificacoes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("count notifications failed: %v", err)).WithOp(opList)
	}

	query := fmt.Sprintf(`SELECT %s FROM notificacoes WHERE %s ORDER BY %s, criado_em DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, priorityOrder, len(args)+1, len(args)+2)
	rows, err := r.q.Query(ctx, query, append(args, f.PageSize, f.offset())...)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("list notifications query failed: %v", err)).WithOp(opList)
	}
	defer rows.Close()

	items := make([]Notification, 0, f.PageSize)
	for rows.Next() {
		n, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, 0, apperr.Internal(fmt.Sprintf("scan notifications failed: %v", scanErr)).WithOp(opList)
		}
		items = append(items, n)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("iterate notifications failed: %v", rowsErr)).WithOp(opList)
	}
	return items, total, nil
}

// listWhere builds the visibility predicate for a recipient. Archived and
// expired notifications are never listed.
func listWhere(cpf string, f Filter) (string, []any) {
	clauses := []string{
		"destinatario_cpf = $1",
		"arquivada = FALSE",
		"(expira_em IS NULL OR expira_em > now())",
	}
	args := []any{cpf}
	if !f.IncludeResolved {
		clauses = append(clauses, "resolvida = FALSE")
	}
	if f.Tipo != "" {
		args = append(args, f.Tipo)
		clauses = append(clauses, fmt.Sprintf("tipo = $%d", len(args)))
	}
	if f.Prioridade != "" {
		args = append(args, string(f.Prioridade))
		clauses = append(clauses, fmt.Sprintf("prioridade = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// MarkRead flags the recipient's unread notifications among ids as read.
func (r *Repository) MarkRead(ctx context.Context, cpf string, ids []uuid.UUID) (int, error) {
	if !r.ready() {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opMarkRead)
	}
	if cpf == "" {
		return 0, apperr.Validation(errCPFRequired).WithOp(opMarkRead)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE notificacoes
		SET lida = TRUE, data_leitura = now()
		WHERE id = ANY($1) AND destinatario_cpf = $2 AND lida = FALSE
	`, ids, cpf)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("mark notifications read failed: %v", err)).WithOp(opMarkRead)
	}
	return int(tag.RowsAffected()), nil
}

// Resolve marks one notification resolved. It reports false when the
// notification was already resolved.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID, actorCPF string) (bool, error) {
	if !r.ready() {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opResolve)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE notificacoes
		SET resolvida = TRUE, resolvida_por = $2, resolvida_em = now()
		WHERE id = $1 AND resolvida = FALSE
	`, id, actorCPF)
	if err != nil {
		return false, apperr.Internal(fmt.Sprintf("resolve notification failed: %v", err)).WithOp(opResolve)
	}
	return tag.RowsAffected() > 0, nil
}

// ResolveByContext resolves every open notification whose context carries
// key = value.
func (r *Repository) ResolveByContext(ctx context.Context, key, value, actorCPF string) (int, error) {
	if !r.ready() {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opResolveByContext)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE notificacoes
		SET resolvida = TRUE, resolvida_por = $3, resolvida_em = now()
		WHERE dados_contexto ->> $1 = $2 AND resolvida = FALSE
	`, key, value, actorCPF)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("resolve notifications by context failed: %v", err)).WithOp(opResolveByContext)
	}
	return int(tag.RowsAffected()), nil
}

const resolveMatchingSQL = `
	UPDATE notificacoes
	SET resolvida = TRUE, resolvida_por = $3, resolvida_em = now()
	WHERE tipo = ANY($1) AND dados_contexto @> $2::jsonb AND resolvida = FALSE`

// ResolveMatching resolves open notifications of the given types whose
// context contains every entry of match.
func (r *Repository) ResolveMatching(ctx context.Context, tipos []string, match map[string]any, actorCPF string) (int, error) {
	if !r.ready() {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opResolveMatching)
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return 0, apperr.Validation("contexto inválido").WithOp(opResolveMatching)
	}
	tag, err := r.q.Exec(ctx, resolveMatchingSQL, tipos, string(raw), actorCPF)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("resolve matching notifications failed: %v", err)).WithOp(opResolveMatching)
	}
	return int(tag.RowsAffected()), nil
}

// ArchiveResolvedBefore archives notifications resolved before cutoff.
func (r *Repository) ArchiveResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if !r.ready() {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opArchive)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE notificacoes
		SET arquivada = TRUE
		WHERE resolvida = TRUE AND resolvida_em < $1 AND arquivada = FALSE
	`, cutoff)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("archive notifications failed: %v", err)).WithOp(opArchive)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes notifications whose expiry passed before now.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if !r.ready() {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opDeleteExpired)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM notificacoes WHERE expira_em IS NOT NULL AND expira_em < $1`, now)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("delete expired notifications failed: %v", err)).WithOp(opDeleteExpired)
	}
	return int(tag.RowsAffected()), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var prioridade, destinatarioTipo string
	var contexto []byte
	if err := row.Scan(
		&n.ID, &n.Tipo, &prioridade, &n.DestinatarioCPF, &destinatarioTipo, &n.Titulo, &n.Mensagem,
		&contexto, &n.LinkAcao, &n.BotaoTexto, &n.Lida, &n.DataLeitura, &n.Resolvida, &n.ResolvidaPor, &n.ResolvidaEm,
		&n.ExpiraEm, &n.CriadoEm,
	); err != nil {
		return Notification{}, err
	}
	n.Prioridade = Prioridade(prioridade)
	n.DestinatarioTipo = DestinatarioTipo(destinatarioTipo)
	if len(contexto) > 0 {
		if err := json.Unmarshal(contexto, &n.Contexto); err != nil {
			return Notification{}, fmt.Errorf("decode dados_contexto: %w", err)
		}
	}
	return n, nil
}
