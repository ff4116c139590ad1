package gatewayservice

import (
	"log/slog"
	"time"

	esmemory "mnx/contexts/event-spine/event-store/adapters/memory"
	esports "mnx/contexts/event-spine/event-store/ports"
	httpadapter "mnx/contexts/event-spine/gateway-service/adapters/http"
	memoryadapter "mnx/contexts/event-spine/gateway-service/adapters/memory"
	"mnx/contexts/event-spine/gateway-service/application/commands"
	"mnx/contexts/event-spine/gateway-service/application/queries"
	gwports "mnx/contexts/event-spine/gateway-service/ports"
)

// Module bundles the gateway's wired use cases and HTTP server.
type Module struct {
	Server *httpadapter.Server
	Store  *esmemory.Store
}

type Dependencies struct {
	Store          esports.EventStore
	Registry       esports.BranchRegistry
	Limiter        gwports.RateLimiter
	ProjectorAdmin gwports.ProjectorAdminClient
	Lenses         map[string]string

	Keys             httpadapter.APIKeys
	MaxFutureSkew    time.Duration
	IdempotencyKinds []string
	Addr             string
	Logger           *slog.Logger
}

func NewModule(deps Dependencies) Module {
	server := httpadapter.NewServer(httpadapter.ServerDeps{
		AppendEvent: commands.AppendEventUseCase{
			Store:            deps.Store,
			MaxFutureSkew:    deps.MaxFutureSkew,
			IdempotencyKinds: deps.IdempotencyKinds,
			Logger:           deps.Logger,
		},
		GetEvent:   queries.GetEventUseCase{Store: deps.Store},
		ListEvents: queries.ListEventsUseCase{Store: deps.Store},
		Branches: queries.BranchUseCase{
			Registry: deps.Registry,
			Logger:   deps.Logger,
		},
		AdminHealth: queries.AdminHealthUseCase{Store: deps.Store},
		ProjectorAdmin: queries.ProjectorAdminUseCase{
			Client: deps.ProjectorAdmin,
			Lenses: deps.Lenses,
		},
		Keys:    deps.Keys,
		Limiter: deps.Limiter,
		Logger:  deps.Logger,
		Addr:    deps.Addr,
	})
	return Module{Server: server}
}

// NewInMemoryModule wires the gateway over the in-memory event store for
// tests. Authentication is disabled and the rate limit is generous.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := esmemory.NewStore()
	module := NewModule(Dependencies{
		Store:         store,
		Registry:      store,
		Limiter:       memoryadapter.NewRateLimiter(10000, time.Minute),
		MaxFutureSkew: 5 * time.Minute,
		Logger:        logger,
	})
	module.Store = store
	return module
}
