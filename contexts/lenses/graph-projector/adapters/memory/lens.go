package memoryadapter

import (
	"context"
	"sync"

	"mnx/contexts/lenses/graph-projector/domain/graph"
	sdkmemory "mnx/contexts/lenses/projector-sdk/adapters/memory"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/internal/shared/events"
)

// Lens is the in-memory graph lens for tests and local runs.
type Lens struct {
	mu         sync.Mutex
	state      *state
	watermarks *sdkmemory.Watermarks
}

func NewLens() *Lens {
	return &Lens{
		state:      newState(),
		watermarks: sdkmemory.NewWatermarks(),
	}
}

func (l *Lens) Name() string   { return "projector_graph" }
func (l *Lens) LensID() string { return "graph" }

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope := delivery.Envelope
	prev, existed := l.watermarks.Get(envelope.WorldID, envelope.Branch)
	if !l.watermarks.Advance(envelope.WorldID, envelope.Branch, delivery.GlobalSeq) {
		return false, nil
	}
	if err := graph.Apply(l.state, envelope); err != nil {
		l.watermarks.Restore(envelope.WorldID, envelope.Branch, prev, existed)
		return false, err
	}
	return true, nil
}

func (l *Lens) Watermarks(ctx context.Context) ([]sdkports.Watermark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermarks.List(), nil
}

func (l *Lens) SnapshotState(ctx context.Context, worldID, branch string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nodes, edges := l.state.scope(worldID, branch)
	return graph.RenderSnapshot(worldID, branch, nodes, edges)
}

// Cycles runs bounded-depth cycle detection over the branch's edge set.
func (l *Lens) Cycles(ctx context.Context, worldID, branch string, maxDepth int) ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, edges := l.state.scope(worldID, branch)
	return graph.FindCycles(edges, maxDepth), nil
}

func (l *Lens) RecordDeterminismHash(ctx context.Context, worldID, branch, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermarks.RecordHash(worldID, branch, hash)
	return nil
}

func (l *Lens) Rebuild(ctx context.Context, worldID, branch string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.truncate(worldID, branch)
	l.watermarks.Set(worldID, branch, 0, "")
	return nil
}

func (l *Lens) RestoreWatermark(ctx context.Context, worldID, branch string, lastProcessedSeq int64, determinismHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watermarks.Set(worldID, branch, lastProcessedSeq, determinismHash)
	return nil
}

// Node returns the stored vertex, if any. Test helper.
func (l *Lens) Node(worldID, branch, nodeID string) (graph.Node, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	node, ok := l.state.nodes[key(worldID, branch, nodeID)]
	if !ok {
		return graph.Node{}, false
	}
	return *node, true
}

// Edges returns a copy of the branch's edges. Test helper.
func (l *Lens) Edges(worldID, branch string) []graph.Edge {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, edges := l.state.scope(worldID, branch)
	return edges
}

func key(parts ...string) string {
	out := parts[0]
	for _, part := range parts[1:] {
		out += "|" + part
	}
	return out
}

// state holds the adjacency rows. Not goroutine-safe; Lens serializes access.
type state struct {
	nodes map[string]*graph.Node
	edges map[string]graph.Edge
}

func newState() *state {
	return &state{
		nodes: make(map[string]*graph.Node),
		edges: make(map[string]graph.Edge),
	}
}

func (s *state) UpsertNode(node graph.Node) error {
	k := key(node.WorldID, node.Branch, node.NodeID)
	if existing, ok := s.nodes[k]; ok {
		existing.Label = node.Label
		existing.Title = node.Title
		return nil
	}
	copied := node
	s.nodes[k] = &copied
	return nil
}

func (s *state) SoftDeleteNode(worldID, branch, nodeID string) error {
	if node, ok := s.nodes[key(worldID, branch, nodeID)]; ok {
		node.Deleted = true
	}
	return nil
}

func (s *state) UpsertEdge(edge graph.Edge) error {
	k := key(edge.WorldID, edge.Branch, edge.SrcID, edge.DstID, edge.EdgeType, edge.Rel)
	if _, exists := s.edges[k]; !exists {
		s.edges[k] = edge
	}
	return nil
}

func (s *state) DeleteEdge(worldID, branch, srcID, dstID, edgeType, rel string) error {
	delete(s.edges, key(worldID, branch, srcID, dstID, edgeType, rel))
	return nil
}

func (s *state) DeleteEdgesTouching(worldID, branch, nodeID string) error {
	for k, edge := range s.edges {
		if edge.WorldID == worldID && edge.Branch == branch && (edge.SrcID == nodeID || edge.DstID == nodeID) {
			delete(s.edges, k)
		}
	}
	return nil
}

func (s *state) ReplaceEMOEdges(worldID, branch, emoID string, edges []graph.Edge) error {
	lineage := map[string]bool{
		graph.EdgeDerivesFrom: true,
		graph.EdgeSupersedes:  true,
		graph.EdgeMerges:      true,
		graph.EdgeLinksTo:     true,
		graph.EdgeReferences:  true,
	}
	for k, edge := range s.edges {
		if edge.WorldID == worldID && edge.Branch == branch && edge.SrcID == emoID && lineage[edge.EdgeType] {
			delete(s.edges, k)
		}
	}
	for _, edge := range edges {
		if err := s.UpsertEdge(edge); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) truncate(worldID, branch string) {
	for k, node := range s.nodes {
		if node.WorldID == worldID && node.Branch == branch {
			delete(s.nodes, k)
		}
	}
	for k, edge := range s.edges {
		if edge.WorldID == worldID && edge.Branch == branch {
			delete(s.edges, k)
		}
	}
}

func (s *state) scope(worldID, branch string) ([]graph.Node, []graph.Edge) {
	nodes := make([]graph.Node, 0)
	for _, node := range s.nodes {
		if node.WorldID == worldID && node.Branch == branch {
			nodes = append(nodes, *node)
		}
	}
	edges := make([]graph.Edge, 0)
	for _, edge := range s.edges {
		if edge.WorldID == worldID && edge.Branch == branch {
			edges = append(edges, edge)
		}
	}
	return nodes, edges
}
