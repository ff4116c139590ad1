package relationalprojector

import (
	"log/slog"

	sdkapplication "mnx/contexts/lenses/projector-sdk/application"
	sdktransport "mnx/contexts/lenses/projector-sdk/transport/http"
	memoryadapter "mnx/contexts/lenses/relational-projector/adapters/memory"
	postgresadapter "mnx/contexts/lenses/relational-projector/adapters/postgres"

	"gorm.io/gorm"
)

// Module bundles the relational lens with the shared projector runtime and
// HTTP surface.
type Module struct {
	Server  *sdktransport.Server
	Runtime sdkapplication.Runtime

	// Memory is set only by NewInMemoryModule so tests can inspect rows.
	Memory *memoryadapter.Lens
}

type Dependencies struct {
	DB     *gorm.DB
	Addr   string
	Logger *slog.Logger
}

func NewModule(deps Dependencies) (Module, error) {
	lens := postgresadapter.NewLens(deps.DB, deps.Logger)
	if err := lens.Migrate(); err != nil {
		return Module{}, err
	}
	runtime := sdkapplication.Runtime{Lens: lens, Logger: deps.Logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, deps.Addr, deps.Logger, nil),
		Runtime: runtime,
	}, nil
}

// NewInMemoryModule wires the relational lens over in-memory state for tests.
func NewInMemoryModule(logger *slog.Logger) Module {
	lens := memoryadapter.NewLens()
	runtime := sdkapplication.Runtime{Lens: lens, Logger: logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, "", logger, nil),
		Runtime: runtime,
		Memory:  lens,
	}
}
