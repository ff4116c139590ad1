package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"mnx/internal/shared/events"
)

type snapshotNode struct {
	NodeID  string `json:"node_id"`
	Label   string `json:"label"`
	Title   string `json:"title"`
	Deleted bool   `json:"deleted"`
}

type snapshotEdge struct {
	SrcID    string `json:"src_id"`
	DstID    string `json:"dst_id"`
	EdgeType string `json:"edge_type"`
	Rel      string `json:"rel"`
}

type snapshotState struct {
	Lens    string         `json:"lens"`
	WorldID string         `json:"world_id"`
	Branch  string         `json:"branch"`
	Graph   string         `json:"graph"`
	Nodes   []snapshotNode `json:"nodes"`
	Edges   []snapshotEdge `json:"edges"`
}

// RenderSnapshot canonicalizes the adjacency state for one (world, branch):
// nodes by node_id, edges by (src, dst, type, rel).
func RenderSnapshot(worldID, branch string, nodes []Node, edges []Edge) (string, error) {
	state := snapshotState{
		Lens:    "graph",
		WorldID: worldID,
		Branch:  branch,
		Graph:   GraphName(worldID, branch),
		Nodes:   make([]snapshotNode, 0, len(nodes)),
		Edges:   make([]snapshotEdge, 0, len(edges)),
	}

	for _, node := range nodes {
		state.Nodes = append(state.Nodes, snapshotNode{
			NodeID: node.NodeID, Label: node.Label, Title: node.Title, Deleted: node.Deleted,
		})
	}
	sort.Slice(state.Nodes, func(i, j int) bool { return state.Nodes[i].NodeID < state.Nodes[j].NodeID })

	for _, edge := range edges {
		state.Edges = append(state.Edges, snapshotEdge{
			SrcID: edge.SrcID, DstID: edge.DstID, EdgeType: edge.EdgeType, Rel: edge.Rel,
		})
	}
	sort.Slice(state.Edges, func(i, j int) bool {
		a, b := state.Edges[i], state.Edges[j]
		if a.SrcID != b.SrcID {
			return a.SrcID < b.SrcID
		}
		if a.DstID != b.DstID {
			return a.DstID < b.DstID
		}
		if a.EdgeType != b.EdgeType {
			return a.EdgeType < b.EdgeType
		}
		return a.Rel < b.Rel
	})

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := events.CanonicalizeRaw(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return string(canonical), nil
}
