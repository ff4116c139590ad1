package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"mnx/internal/shared/events"

	"github.com/google/uuid"
)

// Translation is one emitted emo.* envelope plus the version the counter
// table must record.
type Translation struct {
	Envelope   events.Envelope
	EMOID      string
	NewVersion int
}

type memoryLink struct {
	URI string `json:"uri"`
}

type memoryEmbedding struct {
	ModelID      string `json:"model_id"`
	ModelVersion string `json:"model_version"`
	TemplateID   string `json:"template_id"`
	EmbedDim     int    `json:"embed_dim"`
}

type memoryPayload struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Body       string            `json:"body"`
	MimeType   string            `json:"mime_type"`
	Tags       []string          `json:"tags"`
	ParentID   string            `json:"parent_id"`
	Supersedes string            `json:"supersedes"`
	MergedFrom []string          `json:"merged_from"`
	Links      []json.RawMessage `json:"links"`
	References []string          `json:"references"`
	SourceURI  string            `json:"source_uri"`
	URI        string            `json:"uri"`
	Embedding  *memoryEmbedding  `json:"embedding"`
}

type emoSource struct {
	Kind string `json:"kind"`
	URI  string `json:"uri,omitempty"`
}

type emoParent struct {
	EMOID string `json:"emo_id"`
	Rel   string `json:"rel"`
}

type emoLinkRef struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

type emoUpsertPayload struct {
	EMOID         string           `json:"emo_id"`
	EMOType       string           `json:"emo_type"`
	EMOVersion    int              `json:"emo_version"`
	TenantID      string           `json:"tenant_id"`
	WorldID       string           `json:"world_id"`
	Branch        string           `json:"branch"`
	Source        emoSource        `json:"source"`
	MimeType      string           `json:"mime_type"`
	Content       string           `json:"content"`
	Tags          []string         `json:"tags"`
	Parents       []emoParent      `json:"parents"`
	Links         []emoLinkRef     `json:"links"`
	VectorMeta    *memoryEmbedding `json:"vector_meta,omitempty"`
	SchemaVersion int              `json:"schema_version"`
}

type emoDeletePayload struct {
	EMOID         string `json:"emo_id"`
	EMOVersion    int    `json:"emo_version"`
	TenantID      string `json:"tenant_id"`
	WorldID       string `json:"world_id"`
	Branch        string `json:"branch"`
	SchemaVersion int    `json:"schema_version"`
}

// DeriveEMOID maps a memory id onto a stable EMO id. Same memory id, same
// EMO id, on every replica and every replay.
func DeriveEMOID(memoryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("memory:"+memoryID)).String()
}

// IdempotencyKey dedupes translator output across replays and retries.
func IdempotencyKey(emoID string, version int, op string) string {
	return fmt.Sprintf("%s:%d:%s", emoID, version, op)
}

// Upserted translates memory.item.upserted. currentVersion is 0 when the EMO
// does not exist yet; the result is emo.created at v1 or emo.updated at
// currentVersion+1.
func Upserted(envelope events.Envelope, currentVersion int) (Translation, error) {
	var p memoryPayload
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		return Translation{}, fmt.Errorf("decode memory.item.upserted payload: %w", err)
	}
	if p.ID == "" {
		return Translation{}, fmt.Errorf("memory.item.upserted payload has no id")
	}

	emoID := DeriveEMOID(p.ID)
	kind := "emo.updated"
	op := "updated"
	newVersion := currentVersion + 1
	if currentVersion == 0 {
		kind = "emo.created"
		op = "created"
		newVersion = 1
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := emoUpsertPayload{
		EMOID:         emoID,
		EMOType:       InferType(p.Title, content(p)),
		EMOVersion:    newVersion,
		TenantID:      envelope.WorldID,
		WorldID:       envelope.WorldID,
		Branch:        envelope.Branch,
		Source:        ExtractSource(envelope.Agent(), p),
		MimeType:      mimeTypeOrDefault(p.MimeType),
		Content:       content(p),
		Tags:          tags,
		Parents:       InferParents(p),
		Links:         ExtractLinks(p),
		VectorMeta:    p.Embedding,
		SchemaVersion: 1,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Translation{}, fmt.Errorf("marshal emo payload: %w", err)
	}

	return Translation{
		Envelope: events.Envelope{
			WorldID:        envelope.WorldID,
			Branch:         envelope.Branch,
			Kind:           kind,
			Payload:        raw,
			By:             envelope.By,
			OccurredAt:     envelope.OccurredAt,
			IdempotencyKey: IdempotencyKey(emoID, newVersion, op),
		},
		EMOID:      emoID,
		NewVersion: newVersion,
	}, nil
}

// Deleted translates memory.item.deleted. The delete claims its own version
// slot above the last upsert, so history stays strictly ordered.
func Deleted(envelope events.Envelope, currentVersion int) (Translation, error) {
	var p memoryPayload
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		return Translation{}, fmt.Errorf("decode memory.item.deleted payload: %w", err)
	}
	if p.ID == "" {
		return Translation{}, fmt.Errorf("memory.item.deleted payload has no id")
	}

	emoID := DeriveEMOID(p.ID)
	deleteVersion := currentVersion + 1
	payload := emoDeletePayload{
		EMOID:         emoID,
		EMOVersion:    deleteVersion,
		TenantID:      envelope.WorldID,
		WorldID:       envelope.WorldID,
		Branch:        envelope.Branch,
		SchemaVersion: 1,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Translation{}, fmt.Errorf("marshal emo payload: %w", err)
	}

	return Translation{
		Envelope: events.Envelope{
			WorldID:        envelope.WorldID,
			Branch:         envelope.Branch,
			Kind:           "emo.deleted",
			Payload:        raw,
			By:             envelope.By,
			OccurredAt:     envelope.OccurredAt,
			IdempotencyKey: IdempotencyKey(emoID, deleteVersion, "deleted"),
		},
		EMOID:      emoID,
		NewVersion: deleteVersion,
	}, nil
}

// InferType classifies memory content: long or heading-structured text is a
// doc, title keywords mark facts and profiles, everything else is a note.
func InferType(title, content string) string {
	if len(content) > 1000 || strings.Contains(content, "# ") || strings.Contains(content, "## ") {
		return "doc"
	}
	lower := strings.ToLower(title)
	for _, word := range []string{"fact", "definition", "rule"} {
		if strings.Contains(lower, word) {
			return "fact"
		}
	}
	for _, word := range []string{"profile", "person", "contact"} {
		if strings.Contains(lower, word) {
			return "profile"
		}
	}
	return "note"
}

// ExtractSource classifies the audit agent into user/ingest/agent and
// carries the source URI when the payload has one.
func ExtractSource(agent string, p memoryPayload) emoSource {
	lower := strings.ToLower(agent)
	kind := "agent"
	switch {
	case agent == "user" || strings.Contains(lower, "user"):
		kind = "user"
	case strings.Contains(lower, "ingest") || strings.Contains(lower, "import"):
		kind = "ingest"
	}

	source := emoSource{Kind: kind}
	if p.SourceURI != "" {
		source.URI = p.SourceURI
	} else if p.URI != "" {
		source.URI = p.URI
	}
	return source
}

// InferParents maps the memory lineage fields onto EMO parent relations.
func InferParents(p memoryPayload) []emoParent {
	parents := make([]emoParent, 0)
	if p.ParentID != "" {
		parents = append(parents, emoParent{EMOID: DeriveEMOID(p.ParentID), Rel: "derived"})
	}
	if p.Supersedes != "" {
		parents = append(parents, emoParent{EMOID: DeriveEMOID(p.Supersedes), Rel: "supersedes"})
	}
	for _, mergeID := range p.MergedFrom {
		parents = append(parents, emoParent{EMOID: DeriveEMOID(mergeID), Rel: "merges"})
	}
	return parents
}

// ExtractLinks collects URI links (bare strings or {"uri": ...} objects) and
// EMO references.
func ExtractLinks(p memoryPayload) []emoLinkRef {
	links := make([]emoLinkRef, 0)
	for _, raw := range p.Links {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			if asString != "" {
				links = append(links, emoLinkRef{Kind: "uri", Ref: asString})
			}
			continue
		}
		var asObject memoryLink
		if err := json.Unmarshal(raw, &asObject); err == nil && asObject.URI != "" {
			links = append(links, emoLinkRef{Kind: "uri", Ref: asObject.URI})
		}
	}
	for _, refID := range p.References {
		links = append(links, emoLinkRef{Kind: "emo", Ref: DeriveEMOID(refID)})
	}
	return links
}

// content resolves the EMO content field. An explicit content value passes
// through untouched; otherwise title and body compose with a blank line so
// the mapping stays total for bare-title and bare-body memories.
func content(p memoryPayload) string {
	if p.Content != "" {
		return p.Content
	}
	if p.Title != "" && p.Body != "" {
		return p.Title + "\n\n" + p.Body
	}
	if p.Body != "" {
		return p.Body
	}
	return p.Title
}

func mimeTypeOrDefault(mimeType string) string {
	if mimeType == "" {
		return "text/markdown"
	}
	return mimeType
}
