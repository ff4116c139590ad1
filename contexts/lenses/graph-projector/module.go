package graphprojector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	memoryadapter "mnx/contexts/lenses/graph-projector/adapters/memory"
	postgresadapter "mnx/contexts/lenses/graph-projector/adapters/postgres"
	sdkapplication "mnx/contexts/lenses/projector-sdk/application"
	sdktransport "mnx/contexts/lenses/projector-sdk/transport/http"

	"gorm.io/gorm"
)

// cycleFinder is the query both graph lens adapters expose on top of the
// shared lens contract.
type cycleFinder interface {
	Cycles(ctx context.Context, worldID, branch string, maxDepth int) ([][]string, error)
}

// Module bundles the graph lens with the shared projector runtime and HTTP
// surface, plus the lens-specific cycle query route.
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
		Server:  sdktransport.NewServer(runtime, deps.Addr, deps.Logger, cycleRoute(lens)),
		Runtime: runtime,
	}, nil
}

// NewInMemoryModule wires the graph lens over in-memory state for tests.
func NewInMemoryModule(logger *slog.Logger) Module {
	lens := memoryadapter.NewLens()
	runtime := sdkapplication.Runtime{Lens: lens, Logger: logger}
	return Module{
		Server:  sdktransport.NewServer(runtime, "", logger, cycleRoute(lens)),
		Runtime: runtime,
		Memory:  lens,
	}
}

type cyclesResponse struct {
	WorldID string     `json:"world_id"`
	Branch  string     `json:"branch"`
	Cycles  [][]string `json:"cycles"`
}

func cycleRoute(finder cycleFinder) func(*http.ServeMux) {
	return func(mux *http.ServeMux) {
		mux.HandleFunc("GET /graph/cycles", func(w http.ResponseWriter, r *http.Request) {
			worldID := r.URL.Query().Get("world_id")
			branch := r.URL.Query().Get("branch")
			if worldID == "" || branch == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"code":    "invalid_request",
					"message": "world_id and branch are required",
				})
				return
			}
			maxDepth := 10
			if raw := r.URL.Query().Get("max_depth"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 1 {
					writeJSON(w, http.StatusBadRequest, map[string]string{
						"code":    "invalid_request",
						"message": "max_depth must be a positive integer",
					})
					return
				}
				maxDepth = parsed
			}

			cycles, err := finder.Cycles(r.Context(), worldID, branch, maxDepth)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"code":    "internal_error",
					"message": err.Error(),
				})
				return
			}
			if cycles == nil {
				cycles = [][]string{}
			}
			writeJSON(w, http.StatusOK, cyclesResponse{WorldID: worldID, Branch: branch, Cycles: cycles})
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
