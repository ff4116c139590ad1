package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mnx/contexts/lenses/graph-projector/domain/graph"
	sdkpostgres "mnx/contexts/lenses/projector-sdk/adapters/postgres"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errAlreadyProcessed = errors.New("delivery already processed")

// Lens materializes the adjacency read model. Apply runs the projection and
// the watermark CAS in one gorm transaction.
type Lens struct {
	db         *gorm.DB
	watermarks sdkpostgres.Watermarks
	logger     *slog.Logger
}

func NewLens(db *gorm.DB, logger *slog.Logger) *Lens {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lens{
		db:         db,
		watermarks: sdkpostgres.Watermarks{ProjectorName: "projector_graph"},
		logger:     logger,
	}
}

func (l *Lens) Name() string   { return "projector_graph" }
func (l *Lens) LensID() string { return "graph" }

func (l *Lens) Migrate() error {
	if err := l.db.AutoMigrate(&nodeModel{}, &edgeModel{}); err != nil {
		return err
	}
	return l.watermarks.Migrate(l.db)
}

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		advanced, err := l.watermarks.Advance(tx, delivery.Envelope.WorldID, delivery.Envelope.Branch, delivery.GlobalSeq)
		if err != nil {
			return err
		}
		if !advanced {
			return errAlreadyProcessed
		}
		return graph.Apply(lensTx{tx: tx}, delivery.Envelope)
	})
	if errors.Is(err, errAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	return l.watermarks.List(l.db.WithContext(ctx))
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	nodes, edges, err := l.load(ctx, worldID, branch)
	if err != nil {
		return "", err
	}
	return graph.RenderSnapshot(worldID, branch, nodes, edges)
}

// Cycles runs bounded-depth cycle detection over the branch's edge set.
func (l *Lens) Cycles(ctx context.Context, worldID, branch string, maxDepth int) ([][]string, error) {
	_, edges, err := l.load(ctx, worldID, branch)
	if err != nil {
		return nil, err
	}
	return graph.FindCycles(edges, maxDepth), nil
}

func (l *Lens) load(ctx context.Context, worldID, branch string) ([]graph.Node, []graph.Edge, error) {
	db := l.db.WithContext(ctx)

	var nodeRows []nodeModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("node_id").Find(&nodeRows).Error; err != nil {
		return nil, nil, err
	}
	var edgeRows []edgeModel
	if err := db.Where("world_id = ? AND branch = ?", worldID, branch).Order("src_id, dst_id, edge_type, rel").Find(&edgeRows).Error; err != nil {
		return nil, nil, err
	}

	nodes := make([]graph.Node, 0, len(nodeRows))
	for _, row := range nodeRows {
		nodes = append(nodes, graph.Node{
			WorldID: row.WorldID, Branch: row.Branch, NodeID: row.NodeID,
			Label: row.Label, Title: row.Title, Deleted: row.Deleted,
		})
	}
	edges := make([]graph.Edge, 0, len(edgeRows))
	for _, row := range edgeRows {
		edges = append(edges, graph.Edge{
			WorldID: row.WorldID, Branch: row.Branch,
			SrcID: row.SrcID, DstID: row.DstID, EdgeType: row.EdgeType, Rel: row.Rel,
		})
	}
	return nodes, edges, nil
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	return l.watermarks.RecordHash(l.db.WithContext(ctx), worldID, branch, hash)
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := "world_id = ? AND branch = ?"
		if err := tx.Where(scope, worldID, branch).Delete(&nodeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where(scope, worldID, branch).Delete(&edgeModel{}).Error; err != nil {
			return err
		}
		return l.watermarks.Set(tx, worldID, branch, 0, "")
	})
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	return l.watermarks.Set(l.db.WithContext(ctx), worldID, branch, lastProcessedSeq, determinismHash)
}

// lensTx adapts a gorm transaction to the graph mutation surface.
type lensTx struct {
	tx *gorm.DB
}

func (t lensTx) UpsertNode(node graph.Node) error {
	return t.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "world_id"}, {Name: "branch"}, {Name: "node_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"label", "title", "updated_at"}),
	}).Create(&nodeModel{
		WorldID:   node.WorldID,
		Branch:    node.Branch,
		NodeID:    node.NodeID,
		Label:     node.Label,
		Title:     node.Title,
		Deleted:   node.Deleted,
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (t lensTx) SoftDeleteNode(worldID, branch, nodeID string) error {
	return t.tx.Model(&nodeModel{}).
		Where("world_id = ? AND branch = ? AND node_id = ?", worldID, branch, nodeID).
		Updates(map[string]any{"deleted": true, "updated_at": time.Now().UTC()}).Error
}

func (t lensTx) UpsertEdge(edge graph.Edge) error {
	return t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edgeModel{
		WorldID:  edge.WorldID,
		Branch:   edge.Branch,
		SrcID:    edge.SrcID,
		DstID:    edge.DstID,
		EdgeType: edge.EdgeType,
		Rel:      edge.Rel,
	}).Error
}

func (t lensTx) DeleteEdge(worldID, branch, srcID, dstID, edgeType, rel string) error {
	return t.tx.Where("world_id = ? AND branch = ? AND src_id = ? AND dst_id = ? AND edge_type = ? AND rel = ?",
		worldID, branch, srcID, dstID, edgeType, rel).
		Delete(&edgeModel{}).Error
}

func (t lensTx) DeleteEdgesTouching(worldID, branch, nodeID string) error {
	return t.tx.Where("world_id = ? AND branch = ? AND (src_id = ? OR dst_id = ?)", worldID, branch, nodeID, nodeID).
		Delete(&edgeModel{}).Error
}

func (t lensTx) ReplaceEMOEdges(worldID, branch, emoID string, edges []graph.Edge) error {
	if err := t.tx.Where("world_id = ? AND branch = ? AND src_id = ? AND edge_type IN ?",
		worldID, branch, emoID,
		[]string{graph.EdgeDerivesFrom, graph.EdgeSupersedes, graph.EdgeMerges, graph.EdgeLinksTo, graph.EdgeReferences}).
		Delete(&edgeModel{}).Error; err != nil {
		return err
	}
	for _, edge := range edges {
		if err := t.UpsertEdge(edge); err != nil {
			return err
		}
	}
	return nil
}
