package inapp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"qwork_backend/internal/email"
	"qwork_backend/internal/notification/outbox"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"
	"qwork_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opCreate       = "notification.inapp.create"
	opResolveOne   = "notification.inapp.resolve"
	opResolveByCtx = "notification.inapp.resolve_by_context"
	opHousekeep    = "notification.inapp.housekeep"
)

var contextKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// DedupKey derives the identity under which repeated notifications collapse
// into one open row. Payment notifications are distinct per installment.
// It reports false when the context carries nothing to deduplicate on.
func DedupKey(tipo string, contexto map[string]any) (string, bool) {
	if v, ok := contextValue(contexto, ContextLoteID); ok {
		return fmt.Sprintf("%s|lote:%s", tipo, v), true
	}
	pagamento, ok := contextValue(contexto, ContextPagamentoID)
	if !ok {
		return "", false
	}
	key := fmt.Sprintf("%s|pagamento:%s", tipo, pagamento)
	if parcela, ok := contextValue(contexto, ContextNumeroParcela); ok {
		key += "|parcela:" + parcela
	}
	return key, true
}

func contextValue(contexto map[string]any, key string) (string, bool) {
	raw, ok := contexto[key]
	if !ok || raw == nil {
		return "", false
	}
	var v string
	switch t := raw.(type) {
	case string:
		v = strings.TrimSpace(t)
	case float64:
		v = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		v = strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		v = fmt.Sprint(t)
	}
	return v, v != ""
}

// Writer creates and resolves notifications on the Querier it is bound to.
// Bound to a transaction, its writes commit or roll back with it.
type Writer struct {
	q    db.Querier
	repo *Repository
	log  *logger.Logger
}

func NewWriter(q db.Querier, log *logger.Logger) *Writer {
	return &Writer{q: q, repo: NewRepository(q), log: log}
}

// Create inserts the notification unless an open one with the same dedup
// identity exists, in which case that one's id is returned. Urgent
// notifications for recipients with a known email are queued for delivery.
// The dedup check holds an advisory lock until the transaction ends.
func (w *Writer) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	if err := validateCreate(&p); err != nil {
		return CreateResult{}, err
	}

	rec, err := w.repo.resolveRecipient(ctx, p)
	if err != nil {
		return CreateResult{}, err
	}

	contexto := make(map[string]any, len(p.Contexto)+1)
	for k, v := range p.Contexto {
		contexto[k] = v
	}
	if _, ok := contexto[ContextContratanteID]; !ok && rec.ContratanteID != nil {
		contexto[ContextContratanteID] = *rec.ContratanteID
	}

	var dedupKey *string
	if key, ok := DedupKey(p.Tipo, contexto); ok {
		lockKey := "notificacao:" + rec.CPF + "|" + key
		if err := db.AdvisoryXactLockText(ctx, w.q, lockKey); err != nil {
			return CreateResult{}, apperr.Internal(fmt.Sprintf("lock notification dedup key failed: %v", err)).WithOp(opCreate)
		}
		id, found, err := w.repo.findOpen(ctx, p.Tipo, rec.CPF, key)
		if err != nil {
			return CreateResult{}, err
		}
		if found {
			return CreateResult{ID: id, Created: false}, nil
		}
		dedupKey = &key
	}

	id, err := w.repo.insert(ctx, insertRow{
		Tipo:             p.Tipo,
		Prioridade:       p.Prioridade,
		DestinatarioCPF:  rec.CPF,
		DestinatarioTipo: p.DestinatarioTipo,
		Titulo:           p.Titulo,
		Mensagem:         p.Mensagem,
		Contexto:         contexto,
		DedupKey:         dedupKey,
		LinkAcao:         optional(p.LinkAcao),
		BotaoTexto:       optional(p.BotaoTexto),
		ExpiraEm:         p.ExpiraEm,
	})
	if err != nil {
		return CreateResult{}, err
	}

	if p.Prioridade.Urgent() && rec.Email != nil && strings.TrimSpace(*rec.Email) != "" {
		_, err := outbox.Insert(ctx, w.q, outbox.InsertParams{
			NotificacaoID: &id,
			Kind:          outbox.KindEmail,
			Template:      outbox.TemplateNotification,
			Payload: outbox.NotificationEmailPayload{
				To: *rec.Email,
				Notification: email.NotificationEmail{
					Tipo:       p.Tipo,
					Prioridade: string(p.Prioridade),
					Titulo:     p.Titulo,
					Mensagem:   p.Mensagem,
					LinkAcao:   p.LinkAcao,
					BotaoTexto: p.BotaoTexto,
				},
			},
		})
		if err != nil {
			return CreateResult{}, apperr.Internal(fmt.Sprintf("queue notification email failed: %v", err)).WithOp(opCreate)
		}
	}

	if w.log != nil {
		w.log.Info("notification created", "id", id, "tipo", p.Tipo, "prioridade", p.Prioridade)
	}
	return CreateResult{ID: id, Created: true}, nil
}

// Resolve marks one notification resolved; false means it already was.
func (w *Writer) Resolve(ctx context.Context, id uuid.UUID, actorCPF string) (bool, error) {
	return w.repo.Resolve(ctx, id, actorCPF)
}

// ResolveByContext resolves the open notifications carrying key = value.
func (w *Writer) ResolveByContext(ctx context.Context, key, value, actorCPF string) (int, error) {
	if !contextKeyPattern.MatchString(key) {
		return 0, apperr.Validation("chave de contexto inválida").WithOp(opResolveByCtx)
	}
	if strings.TrimSpace(value) == "" {
		return 0, apperr.Validation("valor de contexto obrigatório").WithOp(opResolveByCtx)
	}
	return w.repo.ResolveByContext(ctx, key, value, actorCPF)
}

// ResolveMatching resolves the open notifications of tipos whose context
// contains match. An empty match would resolve every notification of a type
// and is rejected.
func (w *Writer) ResolveMatching(ctx context.Context, tipos []string, match map[string]any, actorCPF string) (int, error) {
	if len(tipos) == 0 || len(match) == 0 {
		return 0, apperr.Validation("tipos e contexto são obrigatórios").WithOp(opResolveByCtx)
	}
	for k := range match {
		if !contextKeyPattern.MatchString(k) {
			return 0, apperr.Validation("chave de contexto inválida").WithOp(opResolveByCtx)
		}
	}
	return w.repo.ResolveMatching(ctx, tipos, match, actorCPF)
}

func validateCreate(p *CreateParams) error {
	p.Tipo = strings.TrimSpace(p.Tipo)
	if p.Tipo == "" {
		return apperr.Validation("tipo é obrigatório").WithOp(opCreate)
	}
	if p.Prioridade == "" {
		p.Prioridade = PrioridadeMedia
	}
	if !p.Prioridade.Valid() {
		return apperr.Validation("prioridade inválida").WithOp(opCreate)
	}
	if !p.DestinatarioTipo.Valid() {
		return apperr.Validation("tipo de destinatário inválido").WithOp(opCreate)
	}
	if strings.TrimSpace(p.Titulo) == "" || strings.TrimSpace(p.Mensagem) == "" {
		return apperr.Validation("título e mensagem são obrigatórios").WithOp(opCreate)
	}
	return nil
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Service is the pool-backed entry point used by handlers and jobs. Each
// write runs in its own transaction.
type Service struct {
	conn db.Conn
	repo *Repository
	log  *logger.Logger
}

func NewService(conn db.Conn, log *logger.Logger) *Service {
	return &Service{conn: conn, repo: NewRepository(conn), log: log}
}

func (s *Service) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	if s == nil || s.conn == nil {
		return CreateResult{}, apperr.Internal("in-app notification service not configured")
	}
	var res CreateResult
	err := db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		var err error
		res, err = NewWriter(tx, s.log).Create(ctx, p)
		return err
	})
	return res, err
}

// List returns the caller's own notifications.
func (s *Service) List(ctx context.Context, cl caller.Context, f Filter) ([]Notification, int, error) {
	return s.repo.List(ctx, cl.ActorCPF, f)
}

func (s *Service) MarkRead(ctx context.Context, cl caller.Context, ids []uuid.UUID) (int, error) {
	return s.repo.MarkRead(ctx, cl.ActorCPF, ids)
}

// Resolve resolves a notification addressed to the caller. Privileged
// callers may resolve any notification.
func (s *Service) Resolve(ctx context.Context, cl caller.Context, id uuid.UUID) (bool, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !cl.Privileged() && n.DestinatarioCPF != cl.ActorCPF {
		return false, apperr.Forbidden("notificação pertence a outro destinatário").WithOp(opResolveOne)
	}
	return s.repo.Resolve(ctx, id, cl.ActorCPF)
}

// ResolveByContext resolves every open notification whose context carries
// key = value. Only privileged callers may resolve across recipients.
func (s *Service) ResolveByContext(ctx context.Context, cl caller.Context, key, value string) (int, error) {
	if !cl.Privileged() {
		return 0, apperr.Forbidden("operação restrita").WithOp(opResolveByCtx)
	}
	return NewWriter(s.conn, s.log).ResolveByContext(ctx, key, value, cl.ActorCPF)
}

// Housekeep archives notifications resolved longer than retention ago and
// deletes the expired ones.
func (s *Service) Housekeep(ctx context.Context, now time.Time, retention time.Duration) (archived, deleted int, err error) {
	archived, err = s.repo.ArchiveResolvedBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindInternal, "archive notifications", err).WithOp(opHousekeep)
	}
	deleted, err = s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return archived, 0, apperr.Wrap(apperr.KindInternal, "delete expired notifications", err).WithOp(opHousekeep)
	}
	return archived, deleted, nil
}
