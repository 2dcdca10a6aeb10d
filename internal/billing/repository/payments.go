package repository

import (
	"context"
	"fmt"
	"time"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/internal/billing/ports"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opPaymentGet             = "billing.repository.payment.get"
	opPaymentMarkConfirmed   = "billing.repository.payment.mark_confirmed"
	opPaymentUpdateParcela   = "billing.repository.payment.update_installment"
	opPaymentUpdateRecibos   = "billing.repository.payment.update_receipts"
	opPaymentDueInstallments = "billing.repository.payment.due_installments"
)

// PaymentRepo reads and writes pagamentos and recibos.
type PaymentRepo struct {
	q db.Querier
}

func NewPaymentRepo(q db.Querier) *PaymentRepo {
	return &PaymentRepo{q: q}
}

const paymentColumns = `id, contratante_id, metodo, valor, numero_parcelas, detalhes_parcelas,
	status, confirmado_em, criado_em`

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	var parcelas []byte
	var status string
	err := row.Scan(&p.ID, &p.ContratanteID, &p.Metodo, &p.Valor, &p.NumeroParcelas, &parcelas,
		&status, &p.ConfirmadoEm, &p.CriadoEm)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.Parcelas, err = domain.ParseInstallments(parcelas)
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

var getPaymentForUpdateSQL = fmt.Sprintf(`SELECT %s FROM pagamentos WHERE id = $1 FOR UPDATE`, paymentColumns)

// GetForUpdate locks the payment row until the transaction ends.
func (r *PaymentRepo) GetForUpdate(ctx context.Context, id int64) (domain.Payment, error) {
	if r == nil || r.q == nil {
		return domain.Payment{}, apperr.Internal(errRepoNotConfigured).WithOp(opPaymentGet)
	}
	p, err := scanPayment(r.q.QueryRow(ctx, getPaymentForUpdateSQL, id))
	if err != nil {
		return domain.Payment{}, notFoundOr(err, opPaymentGet, "pagamento")
	}
	return p, nil
}

const markPaymentConfirmedSQL = `
	UPDATE pagamentos
	SET confirmado_em = $2
	WHERE id = $1 AND confirmado_em IS NULL AND status <> 'cancelado'`

func (r *PaymentRepo) MarkConfirmed(ctx context.Context, id int64, at time.Time) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opPaymentMarkConfirmed)
	}
	tag, err := r.q.Exec(ctx, markPaymentConfirmedSQL, id, at)
	if err != nil {
		return false, internal(opPaymentMarkConfirmed, err)
	}
	return tag.RowsAffected() == 1, nil
}

// jsonb_set rewrites the status key of the single element whose numero
// matches and whose status is still the expected one. Other elements are
// left untouched.
const updateInstallmentSQL = `
	UPDATE pagamentos p
	SET detalhes_parcelas = jsonb_set(p.detalhes_parcelas, ARRAY[(e.ord - 1)::text, 'status'], to_jsonb($3::text)),
	    status = $5,
	    atualizado_em = $6
	FROM (
		SELECT x.ord
		FROM pagamentos p2,
		     jsonb_array_elements(p2.detalhes_parcelas) WITH ORDINALITY AS x(elem, ord)
		WHERE p2.id = $1
		  AND (x.elem->>'numero')::int = $2
		  AND x.elem->>'status' = $4
		LIMIT 1
	) e
	WHERE p.id = $1`

func (r *PaymentRepo) UpdateInstallment(ctx context.Context, p ports.UpdateInstallmentParams) (bool, error) {
	if r == nil || r.q == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opPaymentUpdateParcela)
	}
	tag, err := r.q.Exec(ctx, updateInstallmentSQL,
		p.PaymentID, p.Numero, string(p.To), string(p.From), string(p.Overall), p.At,
	)
	if err != nil {
		if db.IsCheckViolation(err) {
			return false, apperr.Validation("status de pagamento inválido").WithOp(opPaymentUpdateParcela)
		}
		return false, internal(opPaymentUpdateParcela, err)
	}
	return tag.RowsAffected() == 1, nil
}

const updateReceiptSnapshotsSQL = `
	UPDATE recibos r
	SET parcelas_snapshot = jsonb_set(r.parcelas_snapshot, ARRAY[(e.ord - 1)::text, 'status'], to_jsonb($3::text))
	FROM (
		SELECT r2.id, x.ord
		FROM recibos r2,
		     jsonb_array_elements(
		         CASE WHEN jsonb_typeof(r2.parcelas_snapshot) = 'array' THEN r2.parcelas_snapshot ELSE '[]'::jsonb END
		     ) WITH ORDINALITY AS x(elem, ord)
		WHERE r2.pagamento_id = $1
		  AND (x.elem->>'numero')::int = $2
	) e
	WHERE r.id = e.id`

func (r *PaymentRepo) UpdateReceiptSnapshots(ctx context.Context, paymentID int64, numero int, status domain.InstallmentStatus) (int, error) {
	if r == nil || r.q == nil {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opPaymentUpdateRecibos)
	}
	tag, err := r.q.Exec(ctx, updateReceiptSnapshotsSQL, paymentID, numero, string(status))
	if err != nil {
		return 0, internal(opPaymentUpdateRecibos, err)
	}
	return int(tag.RowsAffected()), nil
}

const dueInstallmentsSQL = `
	SELECT p.id, p.contratante_id, (x.elem->>'numero')::int,
	       COALESCE((x.elem->>'valor')::numeric, 0)::float8,
	       (x.elem->>'data_vencimento')::date AS vencimento
	FROM pagamentos p
	CROSS JOIN LATERAL jsonb_array_elements(
		CASE WHEN jsonb_typeof(p.detalhes_parcelas) = 'array' THEN p.detalhes_parcelas ELSE '[]'::jsonb END
	) AS x(elem)
	WHERE p.status IN ('pendente', 'parcial')
	  AND x.elem->>'status' = 'pendente'
	  AND (x.elem->>'data_vencimento')::date BETWEEN $1::date AND $2::date
	ORDER BY vencimento, p.id
	LIMIT $3`

func (r *PaymentRepo) DueInstallments(ctx context.Context, from, to time.Time, limit int) ([]domain.DueInstallment, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opPaymentDueInstallments)
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.q.Query(ctx, dueInstallmentsSQL, from, to, limit)
	if err != nil {
		return nil, internal(opPaymentDueInstallments, err)
	}
	defer rows.Close()

	var out []domain.DueInstallment
	for rows.Next() {
		var d domain.DueInstallment
		if err := rows.Scan(&d.PagamentoID, &d.ContratanteID, &d.Numero, &d.Valor, &d.DataVencimento); err != nil {
			return nil, internal(opPaymentDueInstallments, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, internal(opPaymentDueInstallments, err)
	}
	return out, nil
}
