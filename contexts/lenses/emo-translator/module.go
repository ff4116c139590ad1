package emotranslator

import (
	"log/slog"

	httpadapter "mnx/contexts/lenses/emo-translator/adapters/http"
	memoryadapter "mnx/contexts/lenses/emo-translator/adapters/memory"
	postgresadapter "mnx/contexts/lenses/emo-translator/adapters/postgres"
	"mnx/contexts/lenses/emo-translator/ports"
	sdkapplication "mnx/contexts/lenses/projector-sdk/application"
	sdktransport "mnx/contexts/lenses/projector-sdk/transport/http"

	"gorm.io/gorm"
)

// Module bundles the translator lens with the shared projector runtime and
// HTTP surface.
type Module struct {
	Server  *sdktransport.Server
	Runtime sdkapplication.Runtime

	// Memory is set only by NewInMemoryModule so tests can inspect counters.
	Memory *memoryadapter.Lens
}

type Dependencies struct {
	DB *gorm.DB

	// Emitter overrides the gateway client; leave nil in production.
	Emitter       ports.Emitter
	GatewayURL    string
	GatewayAPIKey string

	Addr   string
	Logger *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = httpadapter.NewGatewayEmitter(deps.GatewayURL, deps.GatewayAPIKey)
	}
	lens := postgresadapter.NewLens(deps.DB, emitter, deps.Logger)
	if err := lens.Migrate(); err != nil {
		return Module{}, err
	}
	runtime := sdkapplication.Runtime{Lens: lens, Logger: deps.Logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, deps.Addr, deps.Logger, nil),
		Runtime: runtime,
	}, nil
}

// NewInMemoryModule wires the translator over in-memory counters with the
// given emitter.
func NewInMemoryModule(emitter ports.Emitter, logger *slog.Logger) Module {
	lens := memoryadapter.NewLens(emitter, logger)
	runtime := sdkapplication.Runtime{Lens: lens, Logger: logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, "", logger, nil),
		Runtime: runtime,
		Memory:  lens,
	}
}
