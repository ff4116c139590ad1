package projection

import (
	"encoding/json"
	"fmt"

	"mnx/internal/shared/events"
)

// Tx is the mutation surface the dispatch table runs against. Both the gorm
// transaction and the in-memory store implement it; every method is
// idempotent so replays converge.
type Tx interface {
	InsertNote(note Note) error
	UpdateNote(worldID, branch, noteID, title, body, updatedAt string) error
	// DeleteNoteCascade removes the note's tags and any link touching it.
	// The note row itself is preserved for audit.
	DeleteNoteCascade(worldID, branch, noteID string) error

	InsertNoteTag(tag NoteTag) error
	DeleteNoteTag(worldID, branch, noteID, tag string) error

	InsertLink(link Link) error
	DeleteLink(worldID, branch, srcID, dstID, linkType string) error

	InsertEMO(emo EMOCurrent) error
	UpdateEMO(emo EMOCurrent) error
	SoftDeleteEMO(worldID, branch, emoID, reason string) error
	InsertEMOHistory(entry EMOHistory) error
	ReplaceEMOLinks(worldID, branch, emoID string, links []EMOLink) error
}

type notePayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type tagPayload struct {
	ID        string `json:"id"`
	Tag       string `json:"tag"`
	AppliedAt string `json:"applied_at"`
}

type linkPayload struct {
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	LinkType  string `json:"link_type"`
	CreatedAt string `json:"created_at"`
}

type emoSource struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
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
	EMOID          string       `json:"emo_id"`
	EMOType        string       `json:"emo_type"`
	EMOVersion     int          `json:"emo_version"`
	TenantID       string       `json:"tenant_id"`
	MimeType       string       `json:"mime_type"`
	Content        string       `json:"content"`
	Tags           []string     `json:"tags"`
	Source         emoSource    `json:"source"`
	Parents        []emoParent  `json:"parents"`
	Links          []emoLinkRef `json:"links"`
	DeletionReason string       `json:"deletion_reason"`
}

// Apply routes one envelope to its handler. Unknown kinds are no-ops so the
// lens tolerates streams that carry events it does not materialize.
func Apply(tx Tx, envelope events.Envelope) error {
	switch envelope.Kind {
	case "note.created":
		return applyNoteCreated(tx, envelope)
	case "note.updated":
		return applyNoteUpdated(tx, envelope)
	case "note.deleted":
		return applyNoteDeleted(tx, envelope)
	case "tag.added":
		return applyTagAdded(tx, envelope)
	case "tag.removed":
		return applyTagRemoved(tx, envelope)
	case "link.added":
		return applyLinkAdded(tx, envelope)
	case "link.removed":
		return applyLinkRemoved(tx, envelope)
	case "emo.created":
		return applyEMOCreated(tx, envelope)
	case "emo.updated":
		return applyEMOUpdated(tx, envelope)
	case "emo.linked":
		return applyEMOLinked(tx, envelope)
	case "emo.deleted":
		return applyEMODeleted(tx, envelope)
	default:
		return nil
	}
}

func applyNoteCreated(tx Tx, envelope events.Envelope) error {
	var p notePayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.InsertNote(Note{
		WorldID:   envelope.WorldID,
		Branch:    envelope.Branch,
		NoteID:    p.ID,
		Title:     p.Title,
		Body:      p.Body,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.CreatedAt,
	})
}

func applyNoteUpdated(tx Tx, envelope events.Envelope) error {
	var p notePayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.UpdateNote(envelope.WorldID, envelope.Branch, p.ID, p.Title, p.Body, p.UpdatedAt)
}

func applyNoteDeleted(tx Tx, envelope events.Envelope) error {
	var p notePayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.DeleteNoteCascade(envelope.WorldID, envelope.Branch, p.ID)
}

func applyTagAdded(tx Tx, envelope events.Envelope) error {
	var p tagPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.InsertNoteTag(NoteTag{
		WorldID:   envelope.WorldID,
		Branch:    envelope.Branch,
		NoteID:    p.ID,
		Tag:       p.Tag,
		AppliedAt: p.AppliedAt,
	})
}

func applyTagRemoved(tx Tx, envelope events.Envelope) error {
	var p tagPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.DeleteNoteTag(envelope.WorldID, envelope.Branch, p.ID, p.Tag)
}

func applyLinkAdded(tx Tx, envelope events.Envelope) error {
	var p linkPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.InsertLink(Link{
		WorldID:   envelope.WorldID,
		Branch:    envelope.Branch,
		SrcID:     p.Src,
		DstID:     p.Dst,
		LinkType:  linkTypeOrDefault(p.LinkType),
		CreatedAt: p.CreatedAt,
	})
}

func applyLinkRemoved(tx Tx, envelope events.Envelope) error {
	var p linkPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.DeleteLink(envelope.WorldID, envelope.Branch, p.Src, p.Dst, linkTypeOrDefault(p.LinkType))
}

func applyEMOCreated(tx Tx, envelope events.Envelope) error {
	var p emoPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	if err := tx.InsertEMO(toEMOCurrent(envelope, p)); err != nil {
		return err
	}
	if err := tx.InsertEMOHistory(toEMOHistory(envelope, p, "created")); err != nil {
		return err
	}
	return tx.ReplaceEMOLinks(envelope.WorldID, envelope.Branch, p.EMOID, toEMOLinks(envelope, p))
}

func applyEMOUpdated(tx Tx, envelope events.Envelope) error {
	var p emoPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	if err := tx.UpdateEMO(toEMOCurrent(envelope, p)); err != nil {
		return err
	}
	if err := tx.InsertEMOHistory(toEMOHistory(envelope, p, "updated")); err != nil {
		return err
	}
	return tx.ReplaceEMOLinks(envelope.WorldID, envelope.Branch, p.EMOID, toEMOLinks(envelope, p))
}

func applyEMOLinked(tx Tx, envelope events.Envelope) error {
	var p emoPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	return tx.ReplaceEMOLinks(envelope.WorldID, envelope.Branch, p.EMOID, toEMOLinks(envelope, p))
}

func applyEMODeleted(tx Tx, envelope events.Envelope) error {
	var p emoPayload
	if err := decode(envelope, &p); err != nil {
		return err
	}
	if err := tx.SoftDeleteEMO(envelope.WorldID, envelope.Branch, p.EMOID, p.DeletionReason); err != nil {
		return err
	}
	// Deleted content is empty by definition.
	return tx.InsertEMOHistory(EMOHistory{
		WorldID:     envelope.WorldID,
		Branch:      envelope.Branch,
		EMOID:       p.EMOID,
		EMOVersion:  p.EMOVersion,
		Operation:   "deleted",
		ContentHash: ContentHash(""),
	})
}

func toEMOCurrent(envelope events.Envelope, p emoPayload) EMOCurrent {
	return EMOCurrent{
		WorldID:    envelope.WorldID,
		Branch:     envelope.Branch,
		EMOID:      p.EMOID,
		EMOType:    p.EMOType,
		EMOVersion: p.EMOVersion,
		TenantID:   p.TenantID,
		MimeType:   mimeTypeOrDefault(p.MimeType),
		Content:    p.Content,
		Tags:       p.Tags,
		SourceKind: p.Source.Kind,
		SourceURI:  p.Source.URI,
	}
}

func toEMOHistory(envelope events.Envelope, p emoPayload, operation string) EMOHistory {
	return EMOHistory{
		WorldID:     envelope.WorldID,
		Branch:      envelope.Branch,
		EMOID:       p.EMOID,
		EMOVersion:  p.EMOVersion,
		Operation:   operation,
		ContentHash: ContentHash(p.Content),
	}
}

func toEMOLinks(envelope events.Envelope, p emoPayload) []EMOLink {
	links := make([]EMOLink, 0, len(p.Parents)+len(p.Links))
	for _, parent := range p.Parents {
		links = append(links, EMOLink{
			WorldID:     envelope.WorldID,
			Branch:      envelope.Branch,
			EMOID:       p.EMOID,
			Rel:         parent.Rel,
			TargetEMOID: parent.EMOID,
		})
	}
	for _, link := range p.Links {
		switch link.Kind {
		case "emo":
			links = append(links, EMOLink{
				WorldID:     envelope.WorldID,
				Branch:      envelope.Branch,
				EMOID:       p.EMOID,
				Rel:         "linked",
				TargetEMOID: link.Ref,
			})
		case "uri":
			links = append(links, EMOLink{
				WorldID:   envelope.WorldID,
				Branch:    envelope.Branch,
				EMOID:     p.EMOID,
				Rel:       "linked",
				TargetURI: link.Ref,
			})
		}
	}
	return links
}

func decode(envelope events.Envelope, target any) error {
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.Kind, err)
	}
	return nil
}

func linkTypeOrDefault(linkType string) string {
	if linkType == "" {
		return "default"
	}
	return linkType
}

func mimeTypeOrDefault(mimeType string) string {
	if mimeType == "" {
		return "text/markdown"
	}
	return mimeType
}
