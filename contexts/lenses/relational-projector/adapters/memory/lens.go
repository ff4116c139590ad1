package memoryadapter

import (
	"context"
	"fmt"
	"sync"

	sdkmemory "mnx/contexts/lenses/projector-sdk/adapters/memory"
	sdkports "mnx/contexts/lenses/projector-sdk/ports"
	"mnx/contexts/lenses/relational-projector/domain/projection"
	"mnx/internal/shared/events"
)

// Lens is the in-memory relational lens used by tests and local runs. One
// mutex guards lens state and watermarks together, mirroring the postgres
// transaction boundary.
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

func (l *Lens) Name() string   { return "projector_rel" }
func (l *Lens) LensID() string { return "rel" }

func (l *Lens) Apply(ctx context.Context, delivery events.Delivery) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope := delivery.Envelope
	prev, existed := l.watermarks.Get(envelope.WorldID, envelope.Branch)
	if !l.watermarks.Advance(envelope.WorldID, envelope.Branch, delivery.GlobalSeq) {
		return false, nil
	}
	if err := projection.Apply(l.state, envelope); err != nil {
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
	return l.state.render(worldID, branch)
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

// Notes returns a copy of the current note rows for one scope, in map
// iteration order. Test helper.
func (l *Lens) Notes(worldID, branch string) []projection.Note {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]projection.Note, 0)
	for _, note := range l.state.notes {
		if note.WorldID == worldID && note.Branch == branch {
			out = append(out, *note)
		}
	}
	return out
}

// EMO returns the current EMO row, if any. Test helper.
func (l *Lens) EMO(worldID, branch, emoID string) (projection.EMOCurrent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	emo, ok := l.state.emos[scopedKey(worldID, branch, emoID)]
	if !ok {
		return projection.EMOCurrent{}, false
	}
	return *emo, true
}

// EMOHistory returns the recorded history rows for one EMO. Test helper.
func (l *Lens) EMOHistory(worldID, branch, emoID string) []projection.EMOHistory {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]projection.EMOHistory, 0)
	for _, entry := range l.state.history {
		if entry.WorldID == worldID && entry.Branch == branch && entry.EMOID == emoID {
			out = append(out, entry)
		}
	}
	return out
}

func scopedKey(parts ...string) string {
	key := parts[0]
	for _, part := range parts[1:] {
		key += "|" + part
	}
	return key
}

// state holds the lens rows. Not goroutine-safe; Lens serializes access.
type state struct {
	notes    map[string]*projection.Note
	tags     map[string]projection.NoteTag
	links    map[string]projection.Link
	emos     map[string]*projection.EMOCurrent
	history  map[string]projection.EMOHistory
	emoLinks map[string]projection.EMOLink
}

func newState() *state {
	return &state{
		notes:    make(map[string]*projection.Note),
		tags:     make(map[string]projection.NoteTag),
		links:    make(map[string]projection.Link),
		emos:     make(map[string]*projection.EMOCurrent),
		history:  make(map[string]projection.EMOHistory),
		emoLinks: make(map[string]projection.EMOLink),
	}
}

func (s *state) InsertNote(note projection.Note) error {
	key := scopedKey(note.WorldID, note.Branch, note.NoteID)
	if _, exists := s.notes[key]; exists {
		return nil
	}
	copied := note
	s.notes[key] = &copied
	return nil
}

func (s *state) UpdateNote(worldID, branch, noteID, title, body, updatedAt string) error {
	note, ok := s.notes[scopedKey(worldID, branch, noteID)]
	if !ok {
		return nil
	}
	note.Title = title
	note.Body = body
	note.UpdatedAt = updatedAt
	return nil
}

func (s *state) DeleteNoteCascade(worldID, branch, noteID string) error {
	for key, tag := range s.tags {
		if tag.WorldID == worldID && tag.Branch == branch && tag.NoteID == noteID {
			delete(s.tags, key)
		}
	}
	for key, link := range s.links {
		if link.WorldID == worldID && link.Branch == branch && (link.SrcID == noteID || link.DstID == noteID) {
			delete(s.links, key)
		}
	}
	return nil
}

func (s *state) InsertNoteTag(tag projection.NoteTag) error {
	key := scopedKey(tag.WorldID, tag.Branch, tag.NoteID, tag.Tag)
	if _, exists := s.tags[key]; !exists {
		s.tags[key] = tag
	}
	return nil
}

func (s *state) DeleteNoteTag(worldID, branch, noteID, tag string) error {
	delete(s.tags, scopedKey(worldID, branch, noteID, tag))
	return nil
}

func (s *state) InsertLink(link projection.Link) error {
	key := scopedKey(link.WorldID, link.Branch, link.SrcID, link.DstID, link.LinkType)
	if _, exists := s.links[key]; !exists {
		s.links[key] = link
	}
	return nil
}

func (s *state) DeleteLink(worldID, branch, srcID, dstID, linkType string) error {
	delete(s.links, scopedKey(worldID, branch, srcID, dstID, linkType))
	return nil
}

func (s *state) InsertEMO(emo projection.EMOCurrent) error {
	key := scopedKey(emo.WorldID, emo.Branch, emo.EMOID)
	if _, exists := s.emos[key]; exists {
		return nil
	}
	copied := emo
	s.emos[key] = &copied
	return nil
}

func (s *state) UpdateEMO(emo projection.EMOCurrent) error {
	current, ok := s.emos[scopedKey(emo.WorldID, emo.Branch, emo.EMOID)]
	if !ok {
		return nil
	}
	current.EMOType = emo.EMOType
	current.EMOVersion = emo.EMOVersion
	current.MimeType = emo.MimeType
	current.Content = emo.Content
	current.Tags = emo.Tags
	return nil
}

func (s *state) SoftDeleteEMO(worldID, branch, emoID, reason string) error {
	emo, ok := s.emos[scopedKey(worldID, branch, emoID)]
	if !ok {
		return nil
	}
	emo.Deleted = true
	emo.DeletionReason = reason
	return nil
}

func (s *state) InsertEMOHistory(entry projection.EMOHistory) error {
	key := scopedKey(entry.WorldID, entry.Branch, entry.EMOID, fmt.Sprintf("%d", entry.EMOVersion))
	if _, exists := s.history[key]; !exists {
		s.history[key] = entry
	}
	return nil
}

func (s *state) ReplaceEMOLinks(worldID, branch, emoID string, links []projection.EMOLink) error {
	for key, link := range s.emoLinks {
		if link.WorldID == worldID && link.Branch == branch && link.EMOID == emoID {
			delete(s.emoLinks, key)
		}
	}
	for _, link := range links {
		key := scopedKey(link.WorldID, link.Branch, link.EMOID, link.Rel, link.TargetEMOID, link.TargetURI)
		s.emoLinks[key] = link
	}
	return nil
}

func (s *state) truncate(worldID, branch string) {
	for key, note := range s.notes {
		if note.WorldID == worldID && note.Branch == branch {
			delete(s.notes, key)
		}
	}
	for key, tag := range s.tags {
		if tag.WorldID == worldID && tag.Branch == branch {
			delete(s.tags, key)
		}
	}
	for key, link := range s.links {
		if link.WorldID == worldID && link.Branch == branch {
			delete(s.links, key)
		}
	}
	for key, emo := range s.emos {
		if emo.WorldID == worldID && emo.Branch == branch {
			delete(s.emos, key)
		}
	}
	for key, entry := range s.history {
		if entry.WorldID == worldID && entry.Branch == branch {
			delete(s.history, key)
		}
	}
	for key, link := range s.emoLinks {
		if link.WorldID == worldID && link.Branch == branch {
			delete(s.emoLinks, key)
		}
	}
}

func (s *state) render(worldID, branch string) (string, error) {
	notes := make([]projection.Note, 0)
	for _, note := range s.notes {
		if note.WorldID == worldID && note.Branch == branch {
			notes = append(notes, *note)
		}
	}
	tags := make([]projection.NoteTag, 0)
	for _, tag := range s.tags {
		if tag.WorldID == worldID && tag.Branch == branch {
			tags = append(tags, tag)
		}
	}
	links := make([]projection.Link, 0)
	for _, link := range s.links {
		if link.WorldID == worldID && link.Branch == branch {
			links = append(links, link)
		}
	}
	emos := make([]projection.EMOCurrent, 0)
	for _, emo := range s.emos {
		if emo.WorldID == worldID && emo.Branch == branch {
			emos = append(emos, *emo)
		}
	}
	emoLinks := make([]projection.EMOLink, 0)
	for _, link := range s.emoLinks {
		if link.WorldID == worldID && link.Branch == branch {
			emoLinks = append(emoLinks, link)
		}
	}
	return projection.RenderSnapshot(worldID, branch, notes, tags, links, emos, emoLinks)
}
