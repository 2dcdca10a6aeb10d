package service

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/events"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opUpdateInstallment = "billing.service.update_installment_status"
	opRemindDue         = "billing.service.remind_due_installments"
)

// InstallmentUpdate is returned by UpdateInstallmentStatus. Payment holds the
// full installment collection as stored after the update.
type InstallmentUpdate struct {
	Payment  domain.Payment
	Numero   int
	From     domain.InstallmentStatus
	To       domain.InstallmentStatus
	Resolved int
}

// UpdateInstallmentStatus changes the status of one installment, mirrors it
// into the payment's receipts and recomputes the payment status.
func (s *Service) UpdateInstallmentStatus(ctx context.Context, c caller.Context, paymentID int64, numero int, status domain.InstallmentStatus) (InstallmentUpdate, error) {
	if err := requireOperator(c); err != nil {
		return InstallmentUpdate{}, s.fail(ctx, opUpdateInstallment, err)
	}
	if !status.Valid() {
		return InstallmentUpdate{}, s.fail(ctx, opUpdateInstallment, apperr.Validation("status de parcela inválido"))
	}

	out := InstallmentUpdate{Numero: numero, To: status}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		pay, err := tx.Payments().GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		current, _ := pay.Parcelas.Get(numero)
		updated, err := pay.Parcelas.WithStatus(numero, status)
		if err != nil {
			return err
		}
		out.From = current.Status
		overall := updated.Overall()

		ok, err := tx.Payments().UpdateInstallment(ctx, ports.UpdateInstallmentParams{
			PaymentID: paymentID,
			Numero:    numero,
			From:      current.Status,
			To:        status,
			Overall:   overall,
			At:        s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.AlreadyProcessed("parcela alterada por outra operação")
		}
		if _, err := tx.Payments().UpdateReceiptSnapshots(ctx, paymentID, numero, status); err != nil {
			return err
		}
		if status == domain.ParcelaPaga {
			out.Resolved, err = tx.Notifier().ResolveMatching(ctx,
				[]string{NotifParcelaPendente, NotifParcelaVencendo},
				map[string]any{notifContextPagamentoID: paymentID, notifContextNumeroParcela: numero},
				c.ActorCPF,
			)
			if err != nil {
				return err
			}
		}
		if err := record(ctx, tx, c, audit.ActionParcelaAtualizada, audit.ResourcePagamento, paymentID, "", map[string]any{
			"numero":          numero,
			"de":              string(current.Status),
			"para":            string(status),
			"statusPagamento": string(overall),
		}); err != nil {
			return err
		}
		out.Payment, err = tx.Payments().GetForUpdate(ctx, paymentID)
		return err
	})
	if err != nil {
		return InstallmentUpdate{}, s.fail(ctx, opUpdateInstallment, err)
	}

	s.publish(ctx, events.ParcelaStatusChanged{
		BaseEvent:     events.NewBaseEventAt(s.now()),
		PagamentoID:   paymentID,
		ContratanteID: out.Payment.ContratanteID,
		Numero:        numero,
		From:          string(out.From),
		To:            string(out.To),
		Quitado:       out.Payment.Status == domain.PagamentoPago,
	})
	return out, nil
}

// RemindDueInstallments notifies each account with a pending installment due
// within window of now. Notification dedup keeps one open reminder per
// installment, so repeated sweeps are harmless.
func (s *Service) RemindDueInstallments(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	if window <= 0 {
		window = defaultReminderWindow
	}
	var sent int
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		due, err := tx.Payments().DueInstallments(ctx, now, now.Add(window), reminderBatchLimit)
		if err != nil {
			return err
		}
		for _, d := range due {
			if _, err := tx.Notifier().Notify(ctx, ports.NotificationRequest{
				Tipo:          NotifParcelaVencendo,
				Prioridade:    notifPrioridadeAlta,
				ContratanteID: d.ContratanteID,
				Titulo:        fmt.Sprintf("Parcela %d vence em %s", d.Numero, d.DataVencimento.Format("02/01/2006")),
				Mensagem:      fmt.Sprintf("A parcela %d do pagamento %d está próxima do vencimento.", d.Numero, d.PagamentoID),
				Contexto: map[string]any{
					notifContextPagamentoID:   d.PagamentoID,
					notifContextNumeroParcela: d.Numero,
					"data_vencimento":         d.DataVencimento.Format(time.DateOnly),
				},
			}); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, s.fail(ctx, opRemindDue, err)
	}
	return sent, nil
}
