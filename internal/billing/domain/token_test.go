package domain

import (
	"testing"
	"time"

	"qwork_backend/platform/apperr"
)

func TestNewTokenValue(t *testing.T) {
	a, err := NewTokenValue()
	if err != nil {
		t.Fatalf("NewTokenValue: %v", err)
	}
	b, _ := NewTokenValue()
	if !WellFormed(a) || !WellFormed(b) {
		t.Fatalf("tokens must be 64 lowercase hex chars: %q %q", a, b)
	}
	if a == b {
		t.Fatalf("tokens must be random")
	}
	if WellFormed("ABC") || WellFormed(a+"0") {
		t.Fatalf("malformed values accepted")
	}
}

func TestValidateOrder(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := &Token{ContratanteID: 7, ExpiraEm: now.Add(time.Hour), Plano: PlanSnapshot{PlanoTipo: PlanoFixo}}
	used := &Token{ContratanteID: 7, ExpiraEm: now.Add(-time.Hour), Usado: true}
	expired := &Token{ContratanteID: 7, ExpiraEm: now.Add(-time.Hour)}

	if v := Validate(nil, now); v.Valid || v.Reason != ReasonInvalid || v.AccountID != nil {
		t.Fatalf("missing token: %+v", v)
	}
	if v := Validate(used, now); v.Valid || v.Reason != ReasonUsed {
		t.Fatalf("used token must report utilizado before expiry: %+v", v)
	}
	if v := Validate(expired, now); v.Valid || v.Reason != ReasonExpired {
		t.Fatalf("expired token: %+v", v)
	}
	v := Validate(fresh, now)
	if !v.Valid || v.Reason != "" || *v.AccountID != 7 || v.Plano == nil {
		t.Fatalf("fresh token: %+v", v)
	}
	if Check(&Token{ExpiraEm: now}, now) != ReasonExpired {
		t.Fatalf("a token expires at its expiry instant")
	}
}

func TestCheckError(t *testing.T) {
	if CheckError("") != nil {
		t.Fatalf("empty reason is not an error")
	}
	for reason, kind := range map[string]apperr.Kind{
		ReasonInvalid: apperr.KindTokenInvalid,
		ReasonUsed:    apperr.KindTokenUsed,
		ReasonExpired: apperr.KindTokenExpired,
	} {
		if err := CheckError(reason); !apperr.Is(err, kind) {
			t.Fatalf("CheckError(%q) = %v, want %s", reason, err, kind)
		}
	}
}

func TestValidateSnapshot(t *testing.T) {
	if err := ValidateSnapshot(PlanSnapshot{PlanoTipo: PlanoFixo, NumeroFuncionarios: 10, ValorTotal: 500}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSnapshot(PlanSnapshot{PlanoTipo: "gratis", NumeroFuncionarios: 10, ValorTotal: 500}); err == nil {
		t.Fatalf("expected invalid plan to be rejected")
	}
}
