package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qwork_backend/internal/billing/domain"
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/db"

	"github.com/jackc/pgx/v5"
)

const (
	opTokenInsert  = "billing.repository.token.insert"
	opTokenGet     = "billing.repository.token.get"
	opTokenConsume = "billing.repository.token.consume"
)

// TokenRepo reads and writes tokens_retomada_pagamento.
type TokenRepo struct {
	q db.Querier
}

func NewTokenRepo(q db.Querier) *TokenRepo {
	return &TokenRepo{q: q}
}

const tokenColumns = `token, contratante_id, plano_tipo, numero_funcionarios, valor_total,
	expira_em, usado, usado_em, criado_em`

func scanToken(row pgx.Row) (domain.Token, error) {
	var t domain.Token
	var plano string
	err := row.Scan(&t.Token, &t.ContratanteID, &plano, &t.Plano.NumeroFuncionarios, &t.Plano.ValorTotal,
		&t.ExpiraEm, &t.Usado, &t.UsadoEm, &t.CriadoEm)
	if err != nil {
		return domain.Token{}, err
	}
	t.Plano.PlanoTipo = domain.PlanoTipo(plano)
	return t, nil
}

const insertTokenSQL = `
	INSERT INTO tokens_retomada_pagamento
		(token, contratante_id, plano_tipo, numero_funcionarios, valor_total, expira_em, criado_em)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *TokenRepo) Insert(ctx context.Context, t domain.Token) error {
	if r == nil || r.q == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opTokenInsert)
	}
	_, err := r.q.Exec(ctx, insertTokenSQL,
		t.Token, t.ContratanteID, string(t.Plano.PlanoTipo), t.Plano.NumeroFuncionarios, t.Plano.ValorTotal,
		t.ExpiraEm, t.CriadoEm,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("token de retomada duplicado").WithOp(opTokenInsert)
		}
		return internal(opTokenInsert, err)
	}
	return nil
}

var getTokenSQL = fmt.Sprintf(`SELECT %s FROM tokens_retomada_pagamento WHERE token = $1`, tokenColumns)

func (r *TokenRepo) Get(ctx context.Context, token string) (*domain.Token, error) {
	if r == nil || r.q == nil {
		return nil, apperr.Internal(errRepoNotConfigured).WithOp(opTokenGet)
	}
	t, err := scanToken(r.q.QueryRow(ctx, getTokenSQL, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal(opTokenGet, err)
	}
	return &t, nil
}

var consumeTokenSQL = fmt.Sprintf(`
	UPDATE tokens_retomada_pagamento
	SET usado = TRUE, usado_em = $2
	WHERE token = $1 AND usado = FALSE AND expira_em > $2
	RETURNING %s`, tokenColumns)

// Consume reports false when no unused, unexpired token matched.
func (r *TokenRepo) Consume(ctx context.Context, token string, at time.Time) (domain.Token, bool, error) {
	if r == nil || r.q == nil {
		return domain.Token{}, false, apperr.Internal(errRepoNotConfigured).WithOp(opTokenConsume)
	}
	t, err := scanToken(r.q.QueryRow(ctx, consumeTokenSQL, token, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Token{}, false, nil
		}
		return domain.Token{}, false, internal(opTokenConsume, err)
	}
	return t, true, nil
}
