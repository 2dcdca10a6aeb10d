package http

import (
	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext exposes the route groups a module may mount on. Every
// group below Protected already runs the JWT middleware and carries the
// caller in the gin context.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1 without authentication.
	V1 *gin.RouterGroup
	// Public is /api/v1/public, unauthenticated and rate limited per IP.
	Public *gin.RouterGroup
	// Protected is /api/v1 behind the JWT middleware.
	Protected *gin.RouterGroup
	// Admin is /api/v1/admin, restricted to the admin role.
	Admin *gin.RouterGroup
}
