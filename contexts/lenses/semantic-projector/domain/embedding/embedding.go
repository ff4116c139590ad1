package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"mnx/internal/shared/events"
)

// Row is one stored embedding, keyed by (entity_id, entity_type, model_id)
// within a branch scope.
type Row struct {
	WorldID      string
	Branch       string
	EntityID     string
	EntityType   string
	EMOVersion   int
	ModelID      string
	ModelVersion string
	TemplateID   string
	ContentHash  string
	Vector       []float64
}

type ChangeOp int

const (
	OpNone ChangeOp = iota
	OpUpsert
	OpDelete
)

// Change is what one envelope means to the semantic lens: embed this text,
// drop this entity, or nothing.
type Change struct {
	Op         ChangeOp
	EntityID   string
	EntityType string
	EMOVersion int
	Text       string
}

type notePayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

type emoPayload struct {
	EMOID      string `json:"emo_id"`
	EMOVersion int    `json:"emo_version"`
	Content    string `json:"content"`
}

// ChangeFor maps an envelope onto a lens change. Kinds the lens does not
// embed resolve to OpNone.
func ChangeFor(envelope events.Envelope) (Change, error) {
	switch envelope.Kind {
	case "note.created", "note.updated":
		var p notePayload
		if err := decode(envelope, &p); err != nil {
			return Change{}, err
		}
		return Change{
			Op:         OpUpsert,
			EntityID:   p.ID,
			EntityType: "note",
			Text:       p.Title + "\n\n" + p.Body,
		}, nil
	case "note.deleted":
		var p notePayload
		if err := decode(envelope, &p); err != nil {
			return Change{}, err
		}
		return Change{Op: OpDelete, EntityID: p.ID, EntityType: "note"}, nil
	case "emo.created", "emo.updated":
		var p emoPayload
		if err := decode(envelope, &p); err != nil {
			return Change{}, err
		}
		return Change{
			Op:         OpUpsert,
			EntityID:   p.EMOID,
			EntityType: "emo",
			EMOVersion: p.EMOVersion,
			Text:       p.Content,
		}, nil
	case "emo.deleted":
		var p emoPayload
		if err := decode(envelope, &p); err != nil {
			return Change{}, err
		}
		return Change{Op: OpDelete, EntityID: p.EMOID, EntityType: "emo"}, nil
	default:
		return Change{Op: OpNone}, nil
	}
}

// ContentHash fingerprints the embedded text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func decode(envelope events.Envelope, target any) error {
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.Kind, err)
	}
	return nil
}
