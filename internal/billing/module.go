// Package billing provides the payment activation gate module.
package billing

import (
	"qwork_backend/internal/billing/handler"
	"qwork_backend/internal/billing/repository"
	"qwork_backend/internal/billing/service"
	"qwork_backend/internal/events"
	apphttp "qwork_backend/internal/http"
	"qwork_backend/platform/config"
	"qwork_backend/platform/logger"
	"qwork_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module represents the billing domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the billing module with all dependencies wired.
// publicBaseURL is the frontend origin used in resumption links.
func NewModule(
	pool *pgxpool.Pool,
	bus events.Bus,
	val *validator.Validator,
	notifier repository.NotifierFactory,
	mailer repository.MailerFactory,
	cfg config.BillingConfig,
	publicBaseURL string,
	log *logger.Logger,
) *Module {
	store := repository.NewStore(pool, notifier, mailer)
	svc := service.New(store, log,
		service.WithEventBus(bus),
		service.WithTokenTTL(cfg.GetResumptionTokenTTL()),
		service.WithMinReason(cfg.GetMinActivationReasonLength()),
		service.WithPublicBaseURL(publicBaseURL),
	)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Service exposes the billing facade to the scheduler.
func (m *Module) Service() *service.Service {
	return m.service
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "billing"
}

// RegisterRoutes registers the module's routes under /api/v1
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterAccountRoutes(ctx.Protected.Group("/contas"))
	m.handler.RegisterPaymentRoutes(ctx.Protected.Group("/pagamentos"))
	m.handler.RegisterPublicTokenRoutes(ctx.Public.Group("/tokens-retomada"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
