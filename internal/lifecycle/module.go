// Package lifecycle provides the lote, avaliação and laudo domain module.
package lifecycle

import (
	"qwork_backend/internal/events"
	apphttp "qwork_backend/internal/http"
	"qwork_backend/internal/lifecycle/domain"
	"qwork_backend/internal/lifecycle/handler"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/lifecycle/repository"
	"qwork_backend/internal/lifecycle/service"
	"qwork_backend/platform/config"
	"qwork_backend/platform/logger"
	"qwork_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the lifecycle domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the lifecycle module with all dependencies wired.
// archive may be nil when object storage is disabled.
func NewModule(
	pool *pgxpool.Pool,
	bus events.Bus,
	val *validator.Validator,
	archive ports.ArtifactArchive,
	notifier repository.NotifierFactory,
	cfg config.LifecycleConfig,
	log *logger.Logger,
) *Module {
	store := repository.NewStore(pool, nil, notifier)

	opts := []service.Option{
		service.WithEventBus(bus),
		service.WithJustificationRules(domain.JustificationRules{
			Min:       cfg.GetMinJustificationLength(),
			ForcedMin: cfg.GetMinForcedJustificationLength(),
		}),
	}
	if archive != nil {
		opts = append(opts, service.WithArchive(archive))
	}

	svc := service.New(store, log, opts...)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Service exposes the lifecycle manager to the scheduler.
func (m *Module) Service() *service.Service {
	return m.service
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "lifecycle"
}

// RegisterRoutes registers the module's routes under /api/v1
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterLoteRoutes(ctx.Protected.Group("/lotes"))
	m.handler.RegisterAvaliacaoRoutes(ctx.Protected.Group("/avaliacoes"))
	m.handler.RegisterLaudoRoutes(ctx.Protected.Group("/laudos"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
