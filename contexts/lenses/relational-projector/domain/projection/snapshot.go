package projection

import (
	"encoding/json"
	"fmt"
	"sort"

	"mnx/internal/shared/events"
)

// Snapshot row shapes carry only fields that are pure functions of event
// content. Server-assigned timestamps never appear here, so replays hash
// identically.

type snapshotNote struct {
	NoteID string `json:"note_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

type snapshotTag struct {
	NoteID string `json:"note_id"`
	Tag    string `json:"tag"`
}

type snapshotLink struct {
	SrcID    string `json:"src_id"`
	DstID    string `json:"dst_id"`
	LinkType string `json:"link_type"`
}

type snapshotEMO struct {
	EMOID       string `json:"emo_id"`
	EMOType     string `json:"emo_type"`
	EMOVersion  int    `json:"emo_version"`
	Deleted     bool   `json:"deleted"`
	ContentHash string `json:"content_hash"`
}

type snapshotEMOLink struct {
	EMOID       string `json:"emo_id"`
	Rel         string `json:"rel"`
	TargetEMOID string `json:"target_emo_id"`
	TargetURI   string `json:"target_uri"`
}

type snapshotState struct {
	Lens     string            `json:"lens"`
	WorldID  string            `json:"world_id"`
	Branch   string            `json:"branch"`
	Notes    []snapshotNote    `json:"notes"`
	Tags     []snapshotTag     `json:"tags"`
	Links    []snapshotLink    `json:"links"`
	EMOs     []snapshotEMO     `json:"emos"`
	EMOLinks []snapshotEMOLink `json:"emo_links"`
}

// RenderSnapshot canonicalizes the full lens state for one (world, branch):
// notes by note_id, tags by (note_id, tag), links by (src, dst, type), EMOs
// by emo_id, EMO links by (emo_id, rel, target).
func RenderSnapshot(worldID, branch string, notes []Note, tags []NoteTag, links []Link, emos []EMOCurrent, emoLinks []EMOLink) (string, error) {
	state := snapshotState{
		Lens:     "relational",
		WorldID:  worldID,
		Branch:   branch,
		Notes:    make([]snapshotNote, 0, len(notes)),
		Tags:     make([]snapshotTag, 0, len(tags)),
		Links:    make([]snapshotLink, 0, len(links)),
		EMOs:     make([]snapshotEMO, 0, len(emos)),
		EMOLinks: make([]snapshotEMOLink, 0, len(emoLinks)),
	}

	for _, note := range notes {
		state.Notes = append(state.Notes, snapshotNote{NoteID: note.NoteID, Title: note.Title, Body: note.Body})
	}
	sort.Slice(state.Notes, func(i, j int) bool { return state.Notes[i].NoteID < state.Notes[j].NoteID })

	for _, tag := range tags {
		state.Tags = append(state.Tags, snapshotTag{NoteID: tag.NoteID, Tag: tag.Tag})
	}
	sort.Slice(state.Tags, func(i, j int) bool {
		if state.Tags[i].NoteID != state.Tags[j].NoteID {
			return state.Tags[i].NoteID < state.Tags[j].NoteID
		}
		return state.Tags[i].Tag < state.Tags[j].Tag
	})

	for _, link := range links {
		state.Links = append(state.Links, snapshotLink{SrcID: link.SrcID, DstID: link.DstID, LinkType: link.LinkType})
	}
	sort.Slice(state.Links, func(i, j int) bool {
		a, b := state.Links[i], state.Links[j]
		if a.SrcID != b.SrcID {
			return a.SrcID < b.SrcID
		}
		if a.DstID != b.DstID {
			return a.DstID < b.DstID
		}
		return a.LinkType < b.LinkType
	})

	for _, emo := range emos {
		state.EMOs = append(state.EMOs, snapshotEMO{
			EMOID:       emo.EMOID,
			EMOType:     emo.EMOType,
			EMOVersion:  emo.EMOVersion,
			Deleted:     emo.Deleted,
			ContentHash: ContentHash(emo.Content),
		})
	}
	sort.Slice(state.EMOs, func(i, j int) bool { return state.EMOs[i].EMOID < state.EMOs[j].EMOID })

	for _, link := range emoLinks {
		state.EMOLinks = append(state.EMOLinks, snapshotEMOLink{
			EMOID:       link.EMOID,
			Rel:         link.Rel,
			TargetEMOID: link.TargetEMOID,
			TargetURI:   link.TargetURI,
		})
	}
	sort.Slice(state.EMOLinks, func(i, j int) bool {
		a, b := state.EMOLinks[i], state.EMOLinks[j]
		if a.EMOID != b.EMOID {
			return a.EMOID < b.EMOID
		}
		if a.Rel != b.Rel {
			return a.Rel < b.Rel
		}
		if a.TargetEMOID != b.TargetEMOID {
			return a.TargetEMOID < b.TargetEMOID
		}
		return a.TargetURI < b.TargetURI
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
