package embedding

import (
	"encoding/json"
	"fmt"
	"sort"

	"mnx/internal/shared/events"
)

// Snapshot entries carry entity identity and content fingerprint, never
// vector bytes: the state hash must survive a model re-run that reproduces
// the same logical state.

type snapshotEntry struct {
	EntityID    string `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	EMOVersion  int    `json:"emo_version"`
	ContentHash string `json:"content_hash"`
}

type snapshotState struct {
	Lens         string          `json:"lens"`
	WorldID      string          `json:"world_id"`
	Branch       string          `json:"branch"`
	ModelID      string          `json:"model_id"`
	ModelVersion string          `json:"model_version"`
	TemplateID   string          `json:"template_id"`
	Entries      []snapshotEntry `json:"entries"`
}

// RenderSnapshot canonicalizes the lens state for one (world, branch):
// the model identity triple plus the sorted entity set.
func RenderSnapshot(worldID, branch, modelID, modelVersion, templateID string, rows []Row) (string, error) {
	state := snapshotState{
		Lens:         "semantic",
		WorldID:      worldID,
		Branch:       branch,
		ModelID:      modelID,
		ModelVersion: modelVersion,
		TemplateID:   templateID,
		Entries:      make([]snapshotEntry, 0, len(rows)),
	}
	for _, row := range rows {
		state.Entries = append(state.Entries, snapshotEntry{
			EntityID:    row.EntityID,
			EntityType:  row.EntityType,
			EMOVersion:  row.EMOVersion,
			ContentHash: row.ContentHash,
		})
	}
	sort.Slice(state.Entries, func(i, j int) bool {
		a, b := state.Entries[i], state.Entries[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.EntityType < b.EntityType
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
