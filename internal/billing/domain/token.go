package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"qwork_backend/platform/apperr"
)

// Reasons reported by token validation, in the order they are checked.
const (
	ReasonInvalid = "invalido"
	ReasonUsed    = "utilizado"
	ReasonExpired = "expirado"
)

const tokenBytes = 32

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// PlanSnapshot is the plan a resumption token was issued for.
type PlanSnapshot struct {
	PlanoTipo          PlanoTipo `json:"planoTipo"`
	NumeroFuncionarios int       `json:"numeroFuncionarios"`
	ValorTotal         float64   `json:"valorTotal"`
}

// Token is a single-use, time-boxed payment resumption credential.
type Token struct {
	Token         string
	ContratanteID int64
	Plano         PlanSnapshot
	ExpiraEm      time.Time
	Usado         bool
	UsadoEm       *time.Time
	CriadoEm      time.Time
}

// TokenValidation is the outcome of checking a token without consuming it.
type TokenValidation struct {
	Valid     bool          `json:"valid"`
	AccountID *int64        `json:"accountId,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	ExpiraEm  *time.Time    `json:"expiraEm,omitempty"`
	Plano     *PlanSnapshot `json:"plano,omitempty"`
}

// NewTokenValue returns 32 random bytes, hex encoded.
func NewTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// WellFormed reports whether value could be a token at all.
func WellFormed(value string) bool {
	return tokenPattern.MatchString(value)
}

// ValidateSnapshot checks the plan snapshot of a token about to be issued.
func ValidateSnapshot(p PlanSnapshot) error {
	if !p.PlanoTipo.Valid() {
		return apperr.Validation("tipo de plano inválido")
	}
	if p.NumeroFuncionarios <= 0 {
		return apperr.Validation("número de funcionários deve ser positivo")
	}
	if p.ValorTotal <= 0 {
		return apperr.Validation("valor total deve ser positivo")
	}
	return nil
}

// Check returns the first failing condition: existence, then use, then
// expiry. An empty reason means the token may be consumed.
func Check(t *Token, now time.Time) string {
	switch {
	case t == nil:
		return ReasonInvalid
	case t.Usado:
		return ReasonUsed
	case !now.Before(t.ExpiraEm):
		return ReasonExpired
	default:
		return ""
	}
}

// Validate reports the validation outcome of t at now.
func Validate(t *Token, now time.Time) TokenValidation {
	reason := Check(t, now)
	if reason == ReasonInvalid {
		return TokenValidation{Valid: false, Reason: reason}
	}
	id := t.ContratanteID
	v := TokenValidation{Valid: reason == "", AccountID: &id, Reason: reason}
	if v.Valid {
		exp := t.ExpiraEm
		plano := t.Plano
		v.ExpiraEm = &exp
		v.Plano = &plano
	}
	return v
}

// CheckError maps a failed check to its typed error, or nil.
func CheckError(reason string) error {
	switch reason {
	case "":
		return nil
	case ReasonUsed:
		return apperr.TokenUsed("token de retomada já utilizado")
	case ReasonExpired:
		return apperr.TokenExpired("token de retomada expirado")
	default:
		return apperr.TokenInvalid("token de retomada inválido")
	}
}
