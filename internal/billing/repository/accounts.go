package repository

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opAccountGet            = "billing.repository.account.get"
	opAccountActivate       = "billing.repository.account.activate"
	opAccountDeactivate     = "billing.repository.account.deactivate"
	opAccountConfirmPayment = "billing.repository.account.confirm_payment"
	opAccountAdvanceStatus  = "billing.repository.account.advance_status"
)

// AccountRepo reads and writes contratantes.
type AccountRepo struct {
	q db.Querier
}

func NewAccountRepo(q db.Querier) *AccountRepo {
	return &AccountRepo{q: q}
}

const accountColumns = `id, tipo, nome, responsavel_cpf, responsavel_email, plano_tipo,
	ativa, pagamento_confirmado, status, aprovado_em, criado_em`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var tipo, plano, status string
	err := row.Scan(&a.ID, &tipo, &a.Nome, &a.ResponsavelCPF, &a.ResponsavelEmail, &plano,
		&a.Ativa, &a.PagamentoConfirmado, &status, &a.AprovadoEm, &a.CriadoEm)
	if err != nil {
		return domain.Account{}, err
	}
	a.Tipo = domain.AccountTipo(tipo)
	a.PlanoTipo = domain.PlanoTipo(plano)
	a.Status = domain.AccountStatus(status)
	return a, nil
}

var (
	getAccountSQL          = fmt.Sprintf(`SELECT %s FROM contratantes WHERE id = $1`, accountColumns)
	getAccountForUpdateSQL = getAccountSQL + ` FOR UPDATE`
)

func (r *AccountRepo) Get(ctx context.Context, id int64) (domain.Account, error) {
	return r.get(ctx, getAccountSQL, id)
}

// GetForUpdate locks the account row until the transaction ends.
func (r *AccountRepo) GetForUpdate(ctx context.Context, id int64) (domain.Account, error) {
	return r.get(ctx, getAccountForUpdateSQL, id)
}

func (r *AccountRepo) get(ctx context.Context, query string, id int64) (domain.Account, error) {
	if r == nil || r.q == nil {
		return domain.Account{}, apperr.Internal(errRepoNotConfigured).WithOp(opAccountGet)
	}
	a, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Account{}, notFoundOr(err, opAccountGet, "conta")
	}
	return a, nil
}

// The CHECK (NOT ativa OR pagamento_confirmado) constraint holds after this
// statement because both flags are written together.
const activateAccountSQL = `
	UPDATE contratantes
	SET ativa = TRUE,
	    pagamento_confirmado = (pagamento_confirmado OR $2),
	    status = 'aprovado',
	    aprovado_em = $3
	WHERE id = $1
	  AND ativa = FALSE
	  AND (pagamento_confirmado OR $2)`

func (r *AccountRepo) Activate(ctx context.Context, id int64, confirm bool, at time.Time) (bool, error) {
	return r.exec(ctx, opAccountActivate, activateAccountSQL, id, confirm, at)
}

const deactivateAccountSQL = `
	UPDATE contratantes
	SET ativa = FALSE, status = 'suspenso', atualizado_em = $2
	WHERE id = $1 AND ativa = TRUE`

func (r *AccountRepo) Deactivate(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.exec(ctx, opAccountDeactivate, deactivateAccountSQL, id, at)
}

const confirmAccountPaymentSQL = `
	UPDATE contratantes
	SET pagamento_confirmado = TRUE, atualizado_em = $2
	WHERE id = $1 AND pagamento_confirmado = FALSE`

func (r *AccountRepo) ConfirmPayment(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.exec(ctx, opAccountConfirmPayment, confirmAccountPaymentSQL, id, at)
}

const advanceAccountStatusSQL = `
	UPDATE contratantes
	SET status = $3, atualizado_em = $4
	WHERE id = $1 AND ativa = FALSE AND status = ANY($2)`

func (r *AccountRepo) AdvanceStatus(ctx context.Context, id int64, from []domain.AccountStatus, to domain.AccountStatus, at time.Time) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	return r.exec(ctx, opAccountAdvanceStatus, advanceAccountStatusSQL, id, states, string(to), at)
}

func (r *AccountRepo) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(op)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		if db.IsCheckViolation(err) {
			return false, apperr.PaymentNotConfirmed("conta ativa exige pagamento confirmado").WithOp(op)
		}
		return false, internal(op, err)
	}
	return tag.RowsAffected() == 1, nil
}
