package adapters

import (
	"context"
	"fmt"

	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/billing/repository"
	"qwork_backend/internal/email"
	"qwork_backend/internal/notification/inapp"
	"qwork_backend/internal/notification/outbox"
	"qwork_backend/platform/db"
	"qwork_backend/platform/logger"

	"github.com/google/uuid"
)

// BillingNotifier addresses billing notifications to the account's
// responsible through the in-app writer.
type BillingNotifier struct {
	writer *inapp.Writer
}

// NewBillingNotifierFactory returns a factory binding a notifier to each
// billing transaction.
func NewBillingNotifierFactory(log *logger.Logger) repository.NotifierFactory {
	return func(q db.Querier) ports.Notifier {
		return &BillingNotifier{writer: inapp.NewWriter(q, log)}
	}
}

func (n *BillingNotifier) Notify(ctx context.Context, req ports.NotificationRequest) (uuid.UUID, error) {
	id := req.ContratanteID
	params := inapp.CreateParams{
		Tipo:             req.Tipo,
		Prioridade:       inapp.Prioridade(req.Prioridade),
		DestinatarioTipo: inapp.DestinatarioContratante,
		DestinatarioID:   &id,
		Titulo:           req.Titulo,
		Mensagem:         req.Mensagem,
		Contexto:         req.Contexto,
		LinkAcao:         req.LinkAcao,
	}
	if params.LinkAcao == "" {
		if pagamentoID, ok := req.Contexto[inapp.ContextPagamentoID]; ok {
			params.LinkAcao = fmt.Sprintf("/pagamentos/%v", pagamentoID)
			params.BotaoTexto = "Ver pagamento"
		}
	}

	res, err := n.writer.Create(ctx, params)
	if err != nil {
		return uuid.Nil, err
	}
	return res.ID, nil
}

func (n *BillingNotifier) ResolveMatching(ctx context.Context, tipos []string, match map[string]any, actorCPF string) (int, error) {
	return n.writer.ResolveMatching(ctx, tipos, match, actorCPF)
}

var _ ports.Notifier = (*BillingNotifier)(nil)

// BillingMailer renders billing emails and queues them in the notification
// outbox of the current transaction.
type BillingMailer struct {
	q db.Querier
}

// NewBillingMailerFactory returns a factory binding a mailer to each billing
// transaction.
func NewBillingMailerFactory() repository.MailerFactory {
	return func(q db.Querier) ports.Mailer {
		return &BillingMailer{q: q}
	}
}

func (m *BillingMailer) QueueResumptionEmail(ctx context.Context, to string, msg ports.ResumptionMessage) error {
	subject, html, err := email.RenderResumptionEmail(email.ResumptionEmail{
		Nome:               msg.Nome,
		Link:               msg.Link,
		NumeroFuncionarios: msg.Plano.NumeroFuncionarios,
		ValorTotal:         msg.Plano.ValorTotal,
		ExpiraEm:           msg.Expira,
	})
	if err != nil {
		return err
	}
	_, err = outbox.Insert(ctx, m.q, outbox.InsertParams{
		Kind:     outbox.KindEmail,
		Template: outbox.TemplateCustom,
		Payload:  outbox.CustomEmailPayload{To: to, Subject: subject, HTML: html},
	})
	return err
}

var _ ports.Mailer = (*BillingMailer)(nil)
