// Package adapters contains anti-corruption layer adapters that bridge
// modules without them importing each other.
package adapters

import (
	"context"
	"fmt"

	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/lifecycle/repository"
	"qwork_backend/internal/notification/inapp"
	"qwork_backend/platform/db"
	"qwork_backend/platform/logger"

	"github.com/google/uuid"
)

// LifecycleNotifier adapts the in-app notification writer to the
// lifecycle notifier port.
type LifecycleNotifier struct {
	writer *inapp.Writer
}

// NewLifecycleNotifierFactory returns a factory binding a notifier to each
// lifecycle transaction.
func NewLifecycleNotifierFactory(log *logger.Logger) repository.NotifierFactory {
	return func(q db.Querier) ports.Notifier {
		return &LifecycleNotifier{writer: inapp.NewWriter(q, log)}
	}
}

func (n *LifecycleNotifier) Notify(ctx context.Context, req ports.NotificationRequest) (uuid.UUID, error) {
	params := inapp.CreateParams{
		Tipo:             req.Tipo,
		Prioridade:       inapp.Prioridade(req.Prioridade),
		DestinatarioTipo: inapp.DestinatarioTipo(req.DestinatarioTipo),
		DestinatarioCPF:  req.DestinatarioCPF,
		Titulo:           req.Titulo,
		Mensagem:         req.Mensagem,
		Contexto:         req.Contexto,
	}
	if loteID, ok := req.Contexto[inapp.ContextLoteID]; ok {
		params.LinkAcao = fmt.Sprintf("/lotes/%v", loteID)
		params.BotaoTexto = "Ver lote"
	}

	res, err := n.writer.Create(ctx, params)
	if err != nil {
		return uuid.Nil, err
	}
	return res.ID, nil
}

func (n *LifecycleNotifier) ResolveByContext(ctx context.Context, key, value, actorCPF string) (int, error) {
	return n.writer.ResolveByContext(ctx, key, value, actorCPF)
}

var _ ports.Notifier = (*LifecycleNotifier)(nil)
