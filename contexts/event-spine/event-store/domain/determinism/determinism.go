package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Line is one event's contribution to a determinism hash.
type Line struct {
	GlobalSeq   int64
	EventID     string
	Kind        string
	PayloadHash string
}

// Hash computes SHA-256 over `global_seq|event_id|kind|payload_hash` lines
// sorted by global_seq. Pure function of its input; both store adapters and
// replay tooling must agree on these bytes.
func Hash(lines []Line) string {
	sorted := make([]Line, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GlobalSeq < sorted[j].GlobalSeq })

	h := sha256.New()
	for _, line := range sorted {
		fmt.Fprintf(h, "%d|%s|%s|%s\n", line.GlobalSeq, line.EventID, line.Kind, line.PayloadHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}
