package service

import (
	"context"
	"fmt"
	"strings"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/events"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opActivateAccount   = "billing.service.activate_account"
	opDeactivateAccount = "billing.service.deactivate_account"
	opConfirmPayment    = "billing.service.confirm_payment"
)

// ActivationResult is returned by ActivateAccount.
type ActivationResult struct {
	Account domain.Account
	Isencao bool
}

// ActivateAccount activates an inactive account whose payment is confirmed,
// or a personalizado account the caller explicitly approves.
func (s *Service) ActivateAccount(ctx context.Context, c caller.Context, id int64, approval domain.ApprovalContext) (ActivationResult, error) {
	if err := requireOperator(c); err != nil {
		return ActivationResult{}, s.fail(ctx, opActivateAccount, err)
	}
	approval.Reason = strings.TrimSpace(approval.Reason)

	var res ActivationResult
	var from domain.AccountStatus
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		acc, err := tx.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = acc.Status
		plan, err := domain.EvaluateActivation(acc, approval, s.minReason)
		if err != nil {
			return err
		}
		ok, err := tx.Accounts().Activate(ctx, id, plan.ConfirmPayment, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("conta alterada por outra operação")
		}
		if err := record(ctx, tx, c, audit.ActionContaAtivada, audit.ResourceConta, id, approval.Reason, map[string]any{
			"isencao": plan.Isencao,
			"motivo":  approval.Reason,
		}); err != nil {
			return err
		}
		if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
			Tipo:          NotifContratacaoAtiva,
			Prioridade:    notifPrioridadeAlta,
			ContratanteID: id,
			Titulo:        "Contratação ativada",
			Mensagem:      fmt.Sprintf("A conta %s foi ativada e já pode liberar lotes de avaliação.", acc.Nome),
		}); err != nil {
			return err
		}
		if res.Account, err = tx.Accounts().Get(ctx, id); err != nil {
			return err
		}
		res.Isencao = plan.Isencao
		return nil
	})
	if err != nil {
		return ActivationResult{}, s.fail(ctx, opActivateAccount, err)
	}

	if s.log != nil {
		s.log.Transition("conta", id, string(from), string(res.Account.Status), c.ActorCPF)
	}
	s.publish(ctx, events.ContaAtivada{BaseEvent: events.NewBaseEventAt(s.now()), ContratanteID: id, Isencao: res.Isencao, ActorCPF: c.ActorCPF})
	return res, nil
}

// DeactivateAccount suspends an active account.
func (s *Service) DeactivateAccount(ctx context.Context, c caller.Context, id int64, reason string) (domain.Account, error) {
	if err := requireOperator(c); err != nil {
		return domain.Account{}, s.fail(ctx, opDeactivateAccount, err)
	}
	reason = strings.TrimSpace(reason)

	var acc domain.Account
	var from domain.AccountStatus
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		current, err := tx.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = current.Status
		if err := domain.EvaluateDeactivation(current, reason, s.minReason); err != nil {
			return err
		}
		ok, err := tx.Accounts().Deactivate(ctx, id, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("conta alterada por outra operação")
		}
		if err := record(ctx, tx, c, audit.ActionContaDesativada, audit.ResourceConta, id, reason, map[string]any{
			"statusAnterior": string(from),
		}); err != nil {
			return err
		}
		acc, err = tx.Accounts().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Account{}, s.fail(ctx, opDeactivateAccount, err)
	}
	if s.log != nil {
		s.log.Transition("conta", id, string(from), string(acc.Status), c.ActorCPF)
	}
	return acc, nil
}

// ConfirmPayment records that a payment settled and sets the account's
// confirmed flag, which is the precondition for activation.
func (s *Service) ConfirmPayment(ctx context.Context, c caller.Context, paymentID int64) (domain.Payment, error) {
	if err := requireOperator(c); err != nil {
		return domain.Payment{}, s.fail(ctx, opConfirmPayment, err)
	}

	var pay domain.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		current, err := tx.Payments().GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if current.Status == domain.PagamentoCancelado {
			return apperr.IllegalTransition("pagamento", string(current.Status), "confirmado")
		}
		if current.ConfirmadoEm != nil {
			return apperr.AlreadyProcessed("pagamento já confirmado")
		}
		now := s.now()
		ok, err := tx.Payments().MarkConfirmed(ctx, paymentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("pagamento alterado por outra operação")
		}
		if _, err := tx.Accounts().ConfirmPayment(ctx, current.ContratanteID, now); err != nil {
			return err
		}
		if err := record(ctx, tx, c, audit.ActionPagamentoConfirmado, audit.ResourcePagamento, paymentID, "", map[string]any{
			"contratanteId": current.ContratanteID,
			"valor":         current.Valor,
		}); err != nil {
			return err
		}
		if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
			Tipo:          NotifPagamentoConfirmado,
			Prioridade:    notifPrioridadeMedia,
			ContratanteID: current.ContratanteID,
			Titulo:        "Pagamento confirmado",
			Mensagem:      "Seu pagamento foi confirmado. A ativação da conta já pode ser concluída.",
			Contexto:      map[string]any{notifContextPagamentoID: paymentID},
		}); err != nil {
			return err
		}
		pay = current
		pay.ConfirmadoEm = &now
		return nil
	})
	if err != nil {
		return domain.Payment{}, s.fail(ctx, opConfirmPayment, err)
	}

	s.publish(ctx, events.PagamentoConfirmado{BaseEvent: events.NewBaseEventAt(s.now()), PagamentoID: paymentID, ContratanteID: pay.ContratanteID})
	return pay, nil
}
