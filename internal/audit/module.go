package audit

import (
	apphttp "qwork_backend/internal/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the audit bounded context. Writers use Repository directly inside
// their own transactions; the module only serves the read endpoint.
type Module struct {
	handler *Handler
}

func NewModule(pool *pgxpool.Pool) *Module {
	return &Module{handler: NewHandler(NewRepository(pool))}
}

func (m *Module) Name() string { return "audit" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/audit"))
}

var _ apphttp.Module = (*Module)(nil)
