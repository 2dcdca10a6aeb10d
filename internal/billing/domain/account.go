// Package domain holds the payment activation rules: when an account may be
// activated, how installments change and how resumption tokens are judged.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"qwork_backend/platform/apperr"
)

// AccountStatus is the commercial status of a contracting account.
type AccountStatus string

const (
	StatusPendente            AccountStatus = "pendente"
	StatusAguardandoPagamento AccountStatus = "aguardando_pagamento"
	StatusAprovado            AccountStatus = "aprovado"
	StatusSuspenso            AccountStatus = "suspenso"
	StatusCancelado           AccountStatus = "cancelado"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPendente, StatusAguardandoPagamento, StatusAprovado, StatusSuspenso, StatusCancelado:
		return true
	}
	return false
}

// AccountTipo distinguishes clinics from standalone entities.
type AccountTipo string

const (
	AccountClinica  AccountTipo = "clinica"
	AccountEntidade AccountTipo = "entidade"
)

// PlanoTipo is the contracted plan.
type PlanoTipo string

const (
	PlanoFixo          PlanoTipo = "fixo"
	PlanoPersonalizado PlanoTipo = "personalizado"
)

func (p PlanoTipo) Valid() bool {
	return p == PlanoFixo || p == PlanoPersonalizado
}

// Account is a contracting organization (tomador).
type Account struct {
	ID                  int64
	Tipo                AccountTipo
	Nome                string
	ResponsavelCPF      string
	ResponsavelEmail    *string
	PlanoTipo           PlanoTipo
	Ativa               bool
	PagamentoConfirmado bool
	Status              AccountStatus
	AprovadoEm          *time.Time
	CriadoEm            time.Time
}

// ApprovalContext is what the approver supplies when activating an account.
type ApprovalContext struct {
	Reason string
	// PersonalizadoApproval marks the explicit manual approval of a custom
	// plan without a settled payment.
	PersonalizadoApproval bool
}

// DefaultMinReasonLength is the minimum trimmed length of an activation or
// deactivation reason.
const DefaultMinReasonLength = 10

// ActivationPlan is the decision EvaluateActivation reached.
type ActivationPlan struct {
	// ConfirmPayment sets pagamento_confirmado in the same write that sets ativa.
	ConfirmPayment bool
	// Isencao reports that activation happened without a settled payment.
	Isencao bool
}

// EvaluateActivation decides whether acc may become active. The active flag
// always requires the confirmed flag; a personalizado plan explicitly
// approved gets both in one write.
func EvaluateActivation(acc Account, approval ApprovalContext, minReason int) (ActivationPlan, error) {
	if err := checkReason(approval.Reason, minReason); err != nil {
		return ActivationPlan{}, err
	}
	if acc.Ativa {
		return ActivationPlan{}, apperr.AlreadyActive("conta já está ativa")
	}
	if acc.Status == StatusCancelado {
		return ActivationPlan{}, apperr.IllegalTransition("conta", string(acc.Status), string(StatusAprovado))
	}
	if acc.PagamentoConfirmado {
		return ActivationPlan{}, nil
	}
	if acc.PlanoTipo == PlanoPersonalizado && approval.PersonalizadoApproval {
		return ActivationPlan{ConfirmPayment: true, Isencao: true}, nil
	}
	return ActivationPlan{}, apperr.PaymentNotConfirmed("pagamento não confirmado para a conta").
		WithDetails(map[string]any{
			"planoTipo":          acc.PlanoTipo,
			"aprovacaoPermitida": acc.PlanoTipo == PlanoPersonalizado,
		})
}

// EvaluateDeactivation checks that acc is active and the reason is long enough.
func EvaluateDeactivation(acc Account, reason string, minReason int) error {
	if err := checkReason(reason, minReason); err != nil {
		return err
	}
	if !acc.Ativa {
		return apperr.IllegalTransition("conta", string(acc.Status), string(StatusSuspenso))
	}
	return nil
}

// CanResumePayment reports whether a resumption token may move acc back into
// the payment flow.
func CanResumePayment(acc Account) bool {
	if acc.Ativa {
		return false
	}
	return acc.Status == StatusPendente || acc.Status == StatusAguardandoPagamento || acc.Status == StatusSuspenso
}

func checkReason(reason string, minReason int) error {
	if minReason <= 0 {
		minReason = DefaultMinReasonLength
	}
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < minReason {
		return apperr.Validation("motivo muito curto").WithDetails(map[string]int{"minLength": minReason})
	}
	return nil
}
