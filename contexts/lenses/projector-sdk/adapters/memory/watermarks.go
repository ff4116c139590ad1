package memoryadapter

import (
	"sort"
	"time"

	"mnx/contexts/lenses/projector-sdk/ports"
)

// Watermarks is the in-memory mirror of the postgres watermark helper. It is
// NOT goroutine-safe on its own; the owning lens store guards it with its
// mutex so watermark and lens state mutate under one lock, mirroring the
// postgres transaction.
type Watermarks struct {
	rows map[string]*ports.Watermark
}

func NewWatermarks() *Watermarks {
	return &Watermarks{rows: make(map[string]*ports.Watermark)}
}

func key(worldID, branch string) string { return worldID + "|" + branch }

// Advance is the CAS: moves only when seq is strictly greater.
func (w *Watermarks) Advance(worldID, branch string, seq int64) bool {
	row, ok := w.rows[key(worldID, branch)]
	if !ok {
		w.rows[key(worldID, branch)] = &ports.Watermark{
			WorldID:          worldID,
			Branch:           branch,
			LastProcessedSeq: seq,
			UpdatedAt:        time.Now().UTC(),
		}
		return true
	}
	if seq <= row.LastProcessedSeq {
		return false
	}
	row.LastProcessedSeq = seq
	row.UpdatedAt = time.Now().UTC()
	return true
}

func (w *Watermarks) List() []ports.Watermark {
	out := make([]ports.Watermark, 0, len(w.rows))
	for _, row := range w.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorldID != out[j].WorldID {
			return out[i].WorldID < out[j].WorldID
		}
		return out[i].Branch < out[j].Branch
	})
	return out
}

func (w *Watermarks) RecordHash(worldID, branch, hash string) {
	if row, ok := w.rows[key(worldID, branch)]; ok {
		row.DeterminismHash = hash
		row.UpdatedAt = time.Now().UTC()
	}
}

func (w *Watermarks) Set(worldID, branch string, seq int64, hash string) {
	w.rows[key(worldID, branch)] = &ports.Watermark{
		WorldID:          worldID,
		Branch:           branch,
		LastProcessedSeq: seq,
		DeterminismHash:  hash,
		UpdatedAt:        time.Now().UTC(),
	}
}

// Restore puts back a snapshot taken with Get before a failed apply, so the
// watermark and lens state stay consistent the way the postgres rollback
// keeps them.
func (w *Watermarks) Restore(worldID, branch string, prev ports.Watermark, existed bool) {
	if !existed {
		delete(w.rows, key(worldID, branch))
		return
	}
	w.Set(worldID, branch, prev.LastProcessedSeq, prev.DeterminismHash)
}

func (w *Watermarks) Get(worldID, branch string) (ports.Watermark, bool) {
	row, ok := w.rows[key(worldID, branch)]
	if !ok {
		return ports.Watermark{}, false
	}
	return *row, true
}
