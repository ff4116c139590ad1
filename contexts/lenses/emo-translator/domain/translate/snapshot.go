package translate

import (
	"encoding/json"
	"fmt"
	"sort"

	"mnx/internal/shared/events"
)

// VersionEntry is one row of the translator's version counter table.
type VersionEntry struct {
	EMOID   string
	Version int
}

type snapshotVersion struct {
	EMOID   string `json:"emo_id"`
	Version int    `json:"version"`
}

type snapshotState struct {
	Lens     string            `json:"lens"`
	WorldID  string            `json:"world_id"`
	Branch   string            `json:"branch"`
	Versions []snapshotVersion `json:"versions"`
}

// RenderSnapshot canonicalizes the translator state for one (world, branch):
// the sorted version counter set.
func RenderSnapshot(worldID, branch string, entries []VersionEntry) (string, error) {
	state := snapshotState{
		Lens:     "translator",
		WorldID:  worldID,
		Branch:   branch,
		Versions: make([]snapshotVersion, 0, len(entries)),
	}
	for _, entry := range entries {
		state.Versions = append(state.Versions, snapshotVersion{EMOID: entry.EMOID, Version: entry.Version})
	}
	sort.Slice(state.Versions, func(i, j int) bool { return state.Versions[i].EMOID < state.Versions[j].EMOID })

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
