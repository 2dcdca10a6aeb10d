// Package http holds the composition types shared by the router and the
// domain modules.
package http

import (
	"context"

	"qwork_backend/platform/config"
	"qwork_backend/platform/logger"
)

// RouterConfig is the part of the configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs GET /api/health. *pgxpool.Pool satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled by cmd/api and handed to router.New.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
