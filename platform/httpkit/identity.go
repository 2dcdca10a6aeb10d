// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Claims is the authenticated identity carried by the access token.
// Handlers turn it into an explicit caller context; nothing else reads the token.
type Claims struct {
	// Subject is the actor's CPF.
	Subject string
	// Perfil is the actor's role (admin, emissor, rh, gestor, funcionario).
	Perfil string
	// ScopeKind is empresa or entidade; empty for cross-scope roles.
	ScopeKind string
	// ScopeID is the empresa_id or contratante_id, depending on ScopeKind.
	ScopeID *int64
	// ClinicaID accompanies empresa scopes.
	ClinicaID *int64
}

// GetClaims extracts the Claims stored by AuthRequired.
func GetClaims(c *gin.Context) (Claims, bool) {
	value, ok := c.Get(ContextClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := value.(Claims)
	if !ok || claims.Subject == "" {
		return Claims{}, false
	}
	return claims, true
}

// MustGetClaims extracts the Claims from a Gin context.
// If the request is not authenticated, it aborts with 401 Unauthorized.
func MustGetClaims(c *gin.Context) (Claims, bool) {
	claims, ok := GetClaims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "UNAUTHORIZED"})
		return Claims{}, false
	}
	return claims, true
}
