package caller

import "testing"

func TestScopeValidate(t *testing.T) {
	id := int64(7)
	cases := []struct {
		name  string
		scope Scope
		ok    bool
	}{
		{"empresa", EmpresaScope(1, 2), true},
		{"entidade", EntidadeScope(3), true},
		{"empty", Scope{}, false},
		{"empresa with contratante", Scope{Kind: ScopeEmpresa, ClinicaID: &id, EmpresaID: &id, ContratanteID: &id}, false},
		{"entidade with empresa", Scope{Kind: ScopeEntidade, ContratanteID: &id, EmpresaID: &id}, false},
	}

	for _, tc := range cases {
		err := tc.scope.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestCanAccessNeverCrossesScopes(t *testing.T) {
	rh := Context{ActorCPF: "11111111111", Role: RoleRH, Scope: EmpresaScope(1, 2)}

	if !rh.CanAccess(EmpresaScope(1, 2)) {
		t.Fatalf("expected access to own scope")
	}
	if rh.CanAccess(EmpresaScope(1, 3)) {
		t.Fatalf("expected no access to another company")
	}
	if rh.CanAccess(EntidadeScope(2)) {
		t.Fatalf("expected no access across scope kinds")
	}

	admin := Context{ActorCPF: "22222222222", Role: RoleAdmin}
	if !admin.CanAccess(EntidadeScope(9)) {
		t.Fatalf("admin acts across scopes")
	}
}

func TestContextValidate(t *testing.T) {
	if err := (Context{Role: RoleAdmin}).Validate(); err == nil {
		t.Fatalf("expected error without actor")
	}
	if err := (Context{ActorCPF: "1", Role: RoleGestor}).Validate(); err == nil {
		t.Fatalf("expected error for unprivileged caller without scope")
	}
	if err := System().Validate(); err != nil {
		t.Fatalf("system caller must validate: %v", err)
	}
}
