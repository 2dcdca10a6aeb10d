package service

import (
	"context"
	"net/url"
	"time"

	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/internal/shared/caller"
	"qwork_backend/platform/apperr"
)

const (
	opIssueToken    = "billing.service.issue_resumption_token"
	opValidateToken = "billing.service.validate_resumption_token"
	opConsumeToken  = "billing.service.consume_resumption_token"
)

// AdvanceFunc moves the account of a consumed token forward inside the
// consuming transaction. An error rolls the consumption back.
type AdvanceFunc func(ctx context.Context, tx ports.Tx, t domain.Token, now time.Time) error

// resumableStatuses are the states AdvanceToAwaitingPayment moves from.
var resumableStatuses = []domain.AccountStatus{
	domain.StatusPendente,
	domain.StatusAguardandoPagamento,
	domain.StatusSuspenso,
}

// AdvanceToAwaitingPayment puts the token's account into aguardando_pagamento.
func AdvanceToAwaitingPayment(ctx context.Context, tx ports.Tx, t domain.Token, now time.Time) error {
	ok, err := tx.Accounts().AdvanceStatus(ctx, t.ContratanteID, resumableStatuses, domain.StatusAguardandoPagamento, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	acc, err := tx.Accounts().Get(ctx, t.ContratanteID)
	if err != nil {
		return err
	}
	if acc.Ativa {
		return apperr.AlreadyActive("conta já está ativa")
	}
	return apperr.IllegalTransition("conta", string(acc.Status), string(domain.StatusAguardandoPagamento))
}

// IssuedToken is returned by IssueResumptionToken. Link is empty when no
// public base URL is configured.
type IssuedToken struct {
	Token     domain.Token
	Link      string
	EmailSent bool
}

// IssueResumptionToken creates a single-use token that lets the account's
// responsible resume an interrupted payment.
func (s *Service) IssueResumptionToken(ctx context.Context, c caller.Context, accountID int64, plan domain.PlanSnapshot) (IssuedToken, error) {
	if err := requireOperator(c); err != nil {
		return IssuedToken{}, s.fail(ctx, opIssueToken, err)
	}
	if err := domain.ValidateSnapshot(plan); err != nil {
		return IssuedToken{}, s.fail(ctx, opIssueToken, err)
	}
	value, err := domain.NewTokenValue()
	if err != nil {
		return IssuedToken{}, s.fail(ctx, opIssueToken, err)
	}

	now := s.now()
	out := IssuedToken{
		Token: domain.Token{
			Token:         value,
			ContratanteID: accountID,
			Plano:         plan,
			ExpiraEm:      now.Add(s.tokenTTL),
			CriadoEm:      now,
		},
		Link: s.resumptionLink(value),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		acc, err := tx.Accounts().GetForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Ativa {
			return apperr.AlreadyActive("conta já está ativa")
		}
		if !domain.CanResumePayment(acc) {
			return apperr.IllegalTransition("conta", string(acc.Status), string(domain.StatusAguardandoPagamento))
		}
		if err := tx.Tokens().Insert(ctx, out.Token); err != nil {
			return err
		}
		if acc.ResponsavelEmail != nil && *acc.ResponsavelEmail != "" && out.Link != "" {
			if err := tx.Mailer().QueueResumptionEmail(ctx, *acc.ResponsavelEmail, ports.ResumptionMessage{
				Nome:   acc.Nome,
				Link:   out.Link,
				Plano:  plan,
				Expira: out.Token.ExpiraEm,
			}); err != nil {
				return err
			}
			out.EmailSent = true
		}
		return record(ctx, tx, c, audit.ActionTokenEmitido, audit.ResourceConta, accountID, "", map[string]any{
			"expiraEm":           out.Token.ExpiraEm,
			"planoTipo":          string(plan.PlanoTipo),
			"numeroFuncionarios": plan.NumeroFuncionarios,
			"emailEnviado":       out.EmailSent,
		})
	})
	if err != nil {
		return IssuedToken{}, s.fail(ctx, opIssueToken, err)
	}
	return out, nil
}

func (s *Service) resumptionLink(token string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + resumptionPath + "?token=" + url.QueryEscape(token)
}

// ValidateResumptionToken checks existence, then use, then expiry, without
// consuming the token.
func (s *Service) ValidateResumptionToken(ctx context.Context, token string) (domain.TokenValidation, error) {
	if !domain.WellFormed(token) {
		return domain.TokenValidation{Valid: false, Reason: domain.ReasonInvalid}, nil
	}
	var t *domain.Token
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		var err error
		t, err = tx.Tokens().Get(ctx, token)
		return err
	})
	if err != nil {
		return domain.TokenValidation{}, s.fail(ctx, opValidateToken, err)
	}
	return domain.Validate(t, s.now()), nil
}

// ConsumeResumptionToken marks the token used and runs advance in the same
// transaction. A nil advance uses AdvanceToAwaitingPayment.
func (s *Service) ConsumeResumptionToken(ctx context.Context, token string, advance AdvanceFunc) (domain.Token, error) {
	if !domain.WellFormed(token) {
		return domain.Token{}, s.fail(ctx, opConsumeToken, domain.CheckError(domain.ReasonInvalid))
	}
	if advance == nil {
		advance = AdvanceToAwaitingPayment
	}

	var consumed domain.Token
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		now := s.now()
		t, ok, err := tx.Tokens().Consume(ctx, token, now)
		if err != nil {
			return err
		}
		if !ok {
			existing, err := tx.Tokens().Get(ctx, token)
			if err != nil {
				return err
			}
			reason := domain.Check(existing, now)
			if reason == "" {
				reason = domain.ReasonInvalid
			}
			return domain.CheckError(reason)
		}
		if err := advance(ctx, tx, t, now); err != nil {
			return err
		}
		consumed = t
		return record(ctx, tx, caller.System(), audit.ActionTokenConsumido, audit.ResourceConta, t.ContratanteID, "", map[string]any{
			"usadoEm": now,
		})
	})
	if err != nil {
		return domain.Token{}, s.fail(ctx, opConsumeToken, err)
	}
	return consumed, nil
}
