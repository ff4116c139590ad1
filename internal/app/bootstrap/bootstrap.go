package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	esgorm "mnx/contexts/event-spine/event-store/adapters/postgres"
	gatewayservice "mnx/contexts/event-spine/gateway-service"
	gwhttp "mnx/contexts/event-spine/gateway-service/adapters/http"
	gwmemory "mnx/contexts/event-spine/gateway-service/adapters/memory"
	gwredis "mnx/contexts/event-spine/gateway-service/adapters/redis"
	gwports "mnx/contexts/event-spine/gateway-service/ports"
	publisherservice "mnx/contexts/event-spine/publisher-service"
	emotranslator "mnx/contexts/lenses/emo-translator"
	graphprojector "mnx/contexts/lenses/graph-projector"
	sdkapplication "mnx/contexts/lenses/projector-sdk/application"
	sdktransport "mnx/contexts/lenses/projector-sdk/transport/http"
	relationalprojector "mnx/contexts/lenses/relational-projector"
	semanticprojector "mnx/contexts/lenses/semantic-projector"
	hashadapter "mnx/contexts/lenses/semantic-projector/adapters/hash"
	"mnx/internal/platform/config"
	"mnx/internal/platform/db"

	"github.com/redis/go-redis/v9"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type GatewayApp struct {
	module   gatewayservice.Module
	postgres *db.Postgres
	logger   *slog.Logger
}

type PublisherApp struct {
	module   publisherservice.Module
	postgres *db.Postgres
	logger   *slog.Logger
}

type ProjectorApp struct {
	server   *sdktransport.Server
	runtime  sdkapplication.Runtime
	postgres *db.Postgres
	interval time.Duration
	logger   *slog.Logger
}

func BuildGateway() (*GatewayApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "gateway")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	store := esgorm.NewRepository(pg.DB, logger)
	if err := store.Migrate(); err != nil {
		_ = pg.Close()
		return nil, err
	}

	var limiter gwports.RateLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = gwredis.NewRateLimiter(client, cfg.Gateway.RateLimitPerMinute, time.Minute)
	} else {
		limiter = gwmemory.NewRateLimiter(cfg.Gateway.RateLimitPerMinute, time.Minute)
	}

	lenses := make(map[string]string, len(cfg.Gateway.ProjectorAdminURLs))
	for lens := range cfg.Gateway.ProjectorAdminURLs {
		lenses[lens] = lens
	}

	module := gatewayservice.NewModule(gatewayservice.Dependencies{
		Store:          store,
		Registry:       store,
		Limiter:        limiter,
		ProjectorAdmin: gwhttp.NewProjectorAdminClient(cfg.Gateway.ProjectorAdminURLs),
		Lenses:         lenses,
		Keys: gwhttp.APIKeys{
			Admin: cfg.Gateway.AdminAPIKey,
			Write: cfg.Gateway.WriteAPIKey,
			Read:  cfg.Gateway.ReadAPIKey,
			Dev:   cfg.Gateway.DevAPIKey,
		},
		MaxFutureSkew:    cfg.Gateway.MaxFutureSkew,
		IdempotencyKinds: cfg.Gateway.IdempotencyKinds,
		Addr:             normalizeAddr(cfg.Gateway.HTTPPort, ":8081"),
		Logger:           logger,
	})

	return &GatewayApp{module: module, postgres: pg, logger: logger}, nil
}

func BuildPublisher() (*PublisherApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "publisher")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	if len(cfg.Publisher.ProjectorEndpoints) == 0 {
		return nil, errors.New("CDC_PROJECTOR_ENDPOINTS is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	store := esgorm.NewRepository(pg.DB, logger)
	module := publisherservice.NewModule(publisherservice.Dependencies{
		Store:        store,
		Endpoints:    cfg.Publisher.ProjectorEndpoints,
		PublisherID:  cfg.Publisher.PublisherID,
		PollInterval: cfg.Publisher.PollInterval,
		BatchSize:    cfg.Publisher.BatchSize,
		BaseDelay:    cfg.Publisher.BaseDelay,
		Concurrency:  cfg.Publisher.Workers,
		HealthAddr:   normalizeAddr(cfg.Publisher.HTTPPort, ":9100"),
		Logger:       logger,
	})

	return &PublisherApp{module: module, postgres: pg, logger: logger}, nil
}

// BuildProjector selects the lens named by PROJECTOR_LENS and wires it over
// postgres.
func BuildProjector() (*ProjectorApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "projector", "lens", cfg.Projector.Lens)
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	addr := normalizeAddr(cfg.Projector.HTTPPort, ":8000")
	var (
		server  *sdktransport.Server
		runtime sdkapplication.Runtime
	)
	switch cfg.Projector.Lens {
	case "rel":
		module, err := relationalprojector.NewModule(relationalprojector.Dependencies{
			DB: pg.DB, Addr: addr, Logger: logger,
		})
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		server, runtime = module.Server, module.Runtime
	case "sem":
		module, err := semanticprojector.NewModule(semanticprojector.Dependencies{
			DB: pg.DB,
			Embedder: hashadapter.Embedder{
				Model:    cfg.Semantic.ModelID,
				Version:  cfg.Semantic.ModelVersion,
				Template: cfg.Semantic.TemplateID,
				Dims:     cfg.Semantic.VectorDim,
			},
			Addr:   addr,
			Logger: logger,
		})
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		server, runtime = module.Server, module.Runtime
	case "graph":
		module, err := graphprojector.NewModule(graphprojector.Dependencies{
			DB: pg.DB, Addr: addr, Logger: logger,
		})
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		server, runtime = module.Server, module.Runtime
	case "translator":
		if cfg.Projector.GatewayURL == "" {
			_ = pg.Close()
			return nil, errors.New("PROJECTOR_GATEWAY_URL is required for the translator lens")
		}
		module, err := emotranslator.NewModule(emotranslator.Dependencies{
			DB:            pg.DB,
			GatewayURL:    cfg.Projector.GatewayURL,
			GatewayAPIKey: cfg.Projector.GatewayAPIKey,
			Addr:          addr,
			Logger:        logger,
		})
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		server, runtime = module.Server, module.Runtime
	default:
		_ = pg.Close()
		return nil, fmt.Errorf("unknown projector lens %q", cfg.Projector.Lens)
	}

	return &ProjectorApp{
		server:   server,
		runtime:  runtime,
		postgres: pg,
		interval: cfg.Projector.StateHashInterval,
		logger:   logger,
	}, nil
}

func (a *GatewayApp) Run(_ context.Context) error {
	a.logger.Info("gateway app started",
		"event", "bootstrap_gateway_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.module.Server.Start()
}

func (a *GatewayApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (a *PublisherApp) Run(ctx context.Context) error {
	a.logger.Info("publisher app started",
		"event", "bootstrap_publisher_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	go func() {
		if err := a.module.Health.Start(); err != nil {
			a.logger.Error("publisher health server stopped",
				"event", "bootstrap_health_stopped",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
	}()
	return a.module.Worker.Run(ctx)
}

func (a *PublisherApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

// Run serves the lens HTTP surface while a background ticker refreshes the
// determinism hashes.
func (a *ProjectorApp) Run(ctx context.Context) error {
	a.logger.Info("projector app started",
		"event", "bootstrap_projector_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"projector", a.runtime.Lens.Name(),
	)
	if a.interval > 0 {
		go a.hashLoop(ctx)
	}
	return a.server.Start()
}

func (a *ProjectorApp) hashLoop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.runtime.Snapshot(ctx); err != nil {
				a.logger.Error("state hash refresh failed",
					"event", "bootstrap_state_hash_failed",
					"module", "internal/app/bootstrap",
					"layer", "platform",
					"error", err.Error(),
				)
			}
		}
	}
}

func (a *ProjectorApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func normalizeAddr(port, fallback string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return fallback
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
