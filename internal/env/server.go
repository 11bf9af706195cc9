package environment

import (
	"context"
	"log/slog"
	"net/http"

	"rackforge/internal/api"
	"rackforge/internal/config"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		API           *http.Server
	}
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) *Servers {
	var servers Servers

	apiServer := api.NewServer(
		services.Orders,
		services.Billing,
		services.Webhooks,
		services.Provisioning,
		services.Lifecycle,
		services.Catalog,
		api.Config{
			JWTSecret:      cfg.API.JWTSecret,
			InternalAPIKey: cfg.API.InternalKey,
		},
		logger.WithGroup("api"),
	)

	servers.HTTP.API = &http.Server{
		Addr:              cfg.API.ADDR(),
		Handler:           apiServer.Router(),
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
	}
	servers.HTTP.Observability = initObservability(ctx, logger.WithGroup("http"), clients, cfg)

	return &servers
}
