package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"mnx/internal/shared/events"
)

// Node is a graph vertex. Notes and EMOs soft-delete: the vertex stays for
// audit while its edges are removed.
type Node struct {
	WorldID string
	Branch  string
	NodeID  string
	Label   string
	Title   string
	Deleted bool
}

// Edge is a typed directed edge. Rel carries the fine-grained relation
// (link_type for note links, the EMO rel for lineage edges).
type Edge struct {
	WorldID  string
	Branch   string
	SrcID    string
	DstID    string
	EdgeType string
	Rel      string
}

const (
	LabelNote     = "Note"
	LabelTag      = "Tag"
	LabelEMO      = "EMO"
	LabelResource = "Resource"

	EdgeTagged      = "TAGGED"
	EdgeLinksTo     = "LINKS_TO"
	EdgeDerivesFrom = "DERIVES_FROM"
	EdgeSupersedes  = "SUPERSEDES"
	EdgeMerges      = "MERGES"
	EdgeReferences  = "REFERENCES"
)

// GraphName derives the per-branch graph identifier. It is a pure function
// of the scope so every projector replica names the same graph.
func GraphName(worldID, branch string) string {
	sum := sha256.Sum256([]byte(worldID + "|" + branch))
	return "g_" + hex.EncodeToString(sum[:])[:12]
}

// Tx is the mutation surface the dispatch table runs against. Every method
// is idempotent so replays converge.
type Tx interface {
	UpsertNode(node Node) error
	SoftDeleteNode(worldID, branch, nodeID string) error
	UpsertEdge(edge Edge) error
	DeleteEdge(worldID, branch, srcID, dstID, edgeType, rel string) error
	// DeleteEdgesTouching removes every edge with the node as source or
	// destination.
	DeleteEdgesTouching(worldID, branch, nodeID string) error
	// ReplaceEMOEdges swaps the full outgoing lineage edge set of one EMO.
	ReplaceEMOEdges(worldID, branch, emoID string, edges []Edge) error
}

type notePayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type tagPayload struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

type linkPayload struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	LinkType string `json:"link_type"`
}

type emoParent struct {
	EMOID string `json:"emo_id"`
	Rel   string `json:"rel"`
}

type emoLinkRef struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

type emoPayload struct {
	EMOID   string       `json:"emo_id"`
	EMOType string       `json:"emo_type"`
	Parents []emoParent  `json:"parents"`
	Links   []emoLinkRef `json:"links"`
}

// TagNodeID namespaces tag vertices so a tag named like a note id cannot
// collide.
func TagNodeID(tag string) string { return "tag:" + tag }

// ResourceNodeID namespaces URI vertices.
func ResourceNodeID(uri string) string { return "uri:" + uri }

// Apply routes one envelope to its handler. Unknown kinds are no-ops.
func Apply(tx Tx, envelope events.Envelope) error {
	switch envelope.Kind {
	case "note.created", "note.updated":
		var p notePayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		return tx.UpsertNode(Node{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			NodeID: p.ID, Label: LabelNote, Title: p.Title,
		})
	case "note.deleted":
		var p notePayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		if err := tx.SoftDeleteNode(envelope.WorldID, envelope.Branch, p.ID); err != nil {
			return err
		}
		return tx.DeleteEdgesTouching(envelope.WorldID, envelope.Branch, p.ID)
	case "tag.added":
		var p tagPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		if err := tx.UpsertNode(Node{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			NodeID: TagNodeID(p.Tag), Label: LabelTag, Title: p.Tag,
		}); err != nil {
			return err
		}
		return tx.UpsertEdge(Edge{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			SrcID: p.ID, DstID: TagNodeID(p.Tag), EdgeType: EdgeTagged,
		})
	case "tag.removed":
		var p tagPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		return tx.DeleteEdge(envelope.WorldID, envelope.Branch, p.ID, TagNodeID(p.Tag), EdgeTagged, "")
	case "link.added":
		var p linkPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		return tx.UpsertEdge(Edge{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			SrcID: p.Src, DstID: p.Dst, EdgeType: EdgeLinksTo, Rel: p.LinkType,
		})
	case "link.removed":
		var p linkPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		return tx.DeleteEdge(envelope.WorldID, envelope.Branch, p.Src, p.Dst, EdgeLinksTo, p.LinkType)
	case "emo.created", "emo.updated", "emo.linked":
		var p emoPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		if err := tx.UpsertNode(Node{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			NodeID: p.EMOID, Label: LabelEMO, Title: p.EMOType,
		}); err != nil {
			return err
		}
		edges, err := emoEdges(tx, envelope, p)
		if err != nil {
			return err
		}
		return tx.ReplaceEMOEdges(envelope.WorldID, envelope.Branch, p.EMOID, edges)
	case "emo.deleted":
		var p emoPayload
		if err := decode(envelope, &p); err != nil {
			return err
		}
		if err := tx.SoftDeleteNode(envelope.WorldID, envelope.Branch, p.EMOID); err != nil {
			return err
		}
		return tx.DeleteEdgesTouching(envelope.WorldID, envelope.Branch, p.EMOID)
	default:
		return nil
	}
}

// emoEdges builds the outgoing lineage edge set, upserting target vertices
// that may not exist yet.
func emoEdges(tx Tx, envelope events.Envelope, p emoPayload) ([]Edge, error) {
	edges := make([]Edge, 0, len(p.Parents)+len(p.Links))
	for _, parent := range p.Parents {
		edgeType := EdgeDerivesFrom
		switch parent.Rel {
		case "supersedes":
			edgeType = EdgeSupersedes
		case "merges":
			edgeType = EdgeMerges
		}
		edges = append(edges, Edge{
			WorldID: envelope.WorldID, Branch: envelope.Branch,
			SrcID: p.EMOID, DstID: parent.EMOID, EdgeType: edgeType, Rel: parent.Rel,
		})
	}
	for _, link := range p.Links {
		switch link.Kind {
		case "emo":
			edges = append(edges, Edge{
				WorldID: envelope.WorldID, Branch: envelope.Branch,
				SrcID: p.EMOID, DstID: link.Ref, EdgeType: EdgeLinksTo,
			})
		case "uri":
			if err := tx.UpsertNode(Node{
				WorldID: envelope.WorldID, Branch: envelope.Branch,
				NodeID: ResourceNodeID(link.Ref), Label: LabelResource, Title: link.Ref,
			}); err != nil {
				return nil, err
			}
			edges = append(edges, Edge{
				WorldID: envelope.WorldID, Branch: envelope.Branch,
				SrcID: p.EMOID, DstID: ResourceNodeID(link.Ref), EdgeType: EdgeReferences,
			})
		}
	}
	return edges, nil
}

func decode(envelope events.Envelope, target any) error {
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.Kind, err)
	}
	return nil
}
