package caller

import (
	"testing"

	"qwork_backend/platform/apperr"
	"qwork_backend/platform/httpkit"
)

func ptr(v int64) *int64 { return &v }

func TestFromClaims(t *testing.T) {
	empresa, err := FromClaims(httpkit.Claims{
		Subject: "11111111111", Perfil: "rh", ScopeKind: "empresa", ScopeID: ptr(2), ClinicaID: ptr(1),
	})
	if err != nil {
		t.Fatalf("empresa claims: %v", err)
	}
	if !empresa.Scope.Equal(EmpresaScope(1, 2)) {
		t.Fatalf("unexpected scope %s", empresa.Scope)
	}

	entidade, err := FromClaims(httpkit.Claims{Subject: "2", Perfil: "gestor", ScopeKind: "entidade", ScopeID: ptr(9)})
	if err != nil || !entidade.Scope.Equal(EntidadeScope(9)) {
		t.Fatalf("unexpected entidade caller %+v %v", entidade, err)
	}

	admin, err := FromClaims(httpkit.Claims{Subject: "3", Perfil: "admin"})
	if err != nil || !admin.Privileged() {
		t.Fatalf("unexpected admin caller %+v %v", admin, err)
	}
}

func TestFromClaimsRejectsIncompleteScope(t *testing.T) {
	cases := []httpkit.Claims{
		{Subject: "1", Perfil: "rh", ScopeKind: "empresa", ScopeID: ptr(2)},
		{Subject: "1", Perfil: "gestor", ScopeKind: "entidade"},
		{Subject: "1", Perfil: "gestor"},
		{Subject: "1", Perfil: "gestor", ScopeKind: "filial", ScopeID: ptr(1)},
	}
	for _, claims := range cases {
		if _, err := FromClaims(claims); !apperr.Is(err, apperr.KindUnauthorized) {
			t.Fatalf("expected unauthorized for %+v, got %v", claims, err)
		}
	}
}
