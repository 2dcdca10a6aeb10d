package caller

import (
	"qwork_backend/platform/apperr"
	"qwork_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// FromClaims builds the caller context from the access token claims.
func FromClaims(claims httpkit.Claims) (Context, error) {
	c := Context{ActorCPF: claims.Subject, Role: Role(claims.Perfil)}
	switch ScopeKind(claims.ScopeKind) {
	case ScopeEmpresa:
		if claims.ScopeID == nil || claims.ClinicaID == nil {
			return Context{}, apperr.Unauthorized("token sem escopo de empresa completo")
		}
		c.Scope = EmpresaScope(*claims.ClinicaID, *claims.ScopeID)
	case ScopeEntidade:
		if claims.ScopeID == nil {
			return Context{}, apperr.Unauthorized("token sem contratante")
		}
		c.Scope = EntidadeScope(*claims.ScopeID)
	case ScopeNone:
	default:
		return Context{}, apperr.Unauthorized("escopo desconhecido no token")
	}
	if err := c.Validate(); err != nil {
		return Context{}, apperr.Unauthorized("token sem escopo organizacional")
	}
	return c, nil
}

// MustFromGin returns the caller of an authenticated request, or writes the
// error response and reports false.
func MustFromGin(g *gin.Context) (Context, bool) {
	claims, ok := httpkit.MustGetClaims(g)
	if !ok {
		return Context{}, false
	}
	c, err := FromClaims(claims)
	if err != nil {
		httpkit.HandleError(g, err)
		g.Abort()
		return Context{}, false
	}
	return c, true
}
