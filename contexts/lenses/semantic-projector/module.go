package semanticprojector

import (
	"log/slog"

	sdkapplication "mnx/contexts/lenses/projector-sdk/application"
	sdktransport "mnx/contexts/lenses/projector-sdk/transport/http"
	hashadapter "mnx/contexts/lenses/semantic-projector/adapters/hash"
	memoryadapter "mnx/contexts/lenses/semantic-projector/adapters/memory"
	postgresadapter "mnx/contexts/lenses/semantic-projector/adapters/postgres"
	"mnx/contexts/lenses/semantic-projector/ports"

	"gorm.io/gorm"
)

// Module bundles the semantic lens with the shared projector runtime and
// HTTP surface.
type Module struct {
	Server  *sdktransport.Server
	Runtime sdkapplication.Runtime

	// Memory is set only by NewInMemoryModule so tests can inspect rows.
	Memory *memoryadapter.Lens
}

type Dependencies struct {
	DB       *gorm.DB
	Embedder ports.Embedder
	Addr     string
	Logger   *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	embedder := deps.Embedder
	if embedder == nil {
		embedder = hashadapter.NewEmbedder()
	}
	lens := postgresadapter.NewLens(deps.DB, embedder, deps.Logger)
	if err := lens.Migrate(); err != nil {
		return Module{}, err
	}
	runtime := sdkapplication.Runtime{Lens: lens, Logger: deps.Logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, deps.Addr, deps.Logger, nil),
		Runtime: runtime,
	}, nil
}

// NewInMemoryModule wires the semantic lens over in-memory state with the
// deterministic hash embedder.
func NewInMemoryModule(logger *slog.Logger) Module {
	lens := memoryadapter.NewLens(hashadapter.NewEmbedder())
	runtime := sdkapplication.Runtime{Lens: lens, Logger: logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, "", logger, nil),
		Runtime: runtime,
		Memory:  lens,
	}
}
