// Package caller carries the authenticated actor and organizational scope
// through every manager call. Managers never read identity from ambient state.
package caller

import (
	"fmt"
	"strings"

	"qwork_backend/platform/apperr"
)

// Role is the caller's profile.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleEmissor     Role = "emissor"
	RoleRH          Role = "rh"
	RoleGestor      Role = "gestor"
	RoleFuncionario Role = "funcionario"
	RoleSystem      Role = "sistema"
)

// ScopeKind is the tenancy boundary an actor or lote belongs to.
type ScopeKind string

const (
	// ScopeNone is used by privileged actors (admin, emissor, system jobs).
	ScopeNone ScopeKind = ""
	// ScopeEmpresa is a company under a clinic.
	ScopeEmpresa ScopeKind = "empresa"
	// ScopeEntidade is a standalone contracting entity.
	ScopeEntidade ScopeKind = "entidade"
)

// Scope identifies exactly one of company-under-clinic or contracting entity.
type Scope struct {
	Kind          ScopeKind `json:"kind"`
	ClinicaID     *int64    `json:"clinicaId,omitempty"`
	EmpresaID     *int64    `json:"empresaId,omitempty"`
	ContratanteID *int64    `json:"contratanteId,omitempty"`
}

// EmpresaScope builds a company-under-clinic scope.
func EmpresaScope(clinicaID, empresaID int64) Scope {
	return Scope{Kind: ScopeEmpresa, ClinicaID: &clinicaID, EmpresaID: &empresaID}
}

// EntidadeScope builds a contracting-entity scope.
func EntidadeScope(contratanteID int64) Scope {
	return Scope{Kind: ScopeEntidade, ContratanteID: &contratanteID}
}

// Validate checks that the scope names exactly one tenancy boundary.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeEmpresa:
		if s.ClinicaID == nil || s.EmpresaID == nil || s.ContratanteID != nil {
			return apperr.Validation("escopo de empresa exige clinica_id e empresa_id, sem contratante_id")
		}
	case ScopeEntidade:
		if s.ContratanteID == nil || s.ClinicaID != nil || s.EmpresaID != nil {
			return apperr.Validation("escopo de entidade exige apenas contratante_id")
		}
	default:
		return apperr.Validation("escopo organizacional ausente")
	}
	return nil
}

// Equal reports whether both scopes name the same tenancy boundary.
func (s Scope) Equal(other Scope) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case ScopeEmpresa:
		return eq(s.ClinicaID, other.ClinicaID) && eq(s.EmpresaID, other.EmpresaID)
	case ScopeEntidade:
		return eq(s.ContratanteID, other.ContratanteID)
	default:
		return false
	}
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeEmpresa:
		return fmt.Sprintf("empresa:%d/%d", deref(s.ClinicaID), deref(s.EmpresaID))
	case ScopeEntidade:
		return fmt.Sprintf("entidade:%d", deref(s.ContratanteID))
	default:
		return "global"
	}
}

// Context is the explicit identity passed into every manager operation.
type Context struct {
	ActorCPF string
	Role     Role
	Scope    Scope
}

// System returns the caller used by background jobs.
func System() Context {
	return Context{ActorCPF: "00000000000", Role: RoleSystem}
}

// Validate checks that the caller carries an actor and, when unprivileged, a scope.
func (c Context) Validate() error {
	if strings.TrimSpace(c.ActorCPF) == "" {
		return apperr.Unauthorized("identificação do usuário ausente")
	}
	if c.Privileged() {
		return nil
	}
	return c.Scope.Validate()
}

// Privileged reports whether the caller acts across scopes.
func (c Context) Privileged() bool {
	return c.Role == RoleAdmin || c.Role == RoleEmissor || c.Role == RoleSystem
}

// CanAccess reports whether the caller may act on a resource owned by scope.
func (c Context) CanAccess(scope Scope) bool {
	if c.Privileged() {
		return true
	}
	return c.Scope.Equal(scope)
}

// HasRole reports whether the caller holds one of roles.
func (c Context) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

func eq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
