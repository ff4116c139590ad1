package projection

import (
	"crypto/sha256"
	"encoding/hex"
)

// Row types of the relational lens. Timestamp fields hold client-supplied
// event times verbatim; they never enter the state snapshot.

type Note struct {
	WorldID   string
	Branch    string
	NoteID    string
	Title     string
	Body      string
	CreatedAt string
	UpdatedAt string
}

type NoteTag struct {
	WorldID   string
	Branch    string
	NoteID    string
	Tag       string
	AppliedAt string
}

type Link struct {
	WorldID   string
	Branch    string
	SrcID     string
	DstID     string
	LinkType  string
	CreatedAt string
}

type EMOCurrent struct {
	WorldID        string
	Branch         string
	EMOID          string
	EMOType        string
	EMOVersion     int
	TenantID       string
	MimeType       string
	Content        string
	Tags           []string
	SourceKind     string
	SourceURI      string
	Deleted        bool
	DeletionReason string
}

type EMOHistory struct {
	WorldID     string
	Branch      string
	EMOID       string
	EMOVersion  int
	Operation   string
	ContentHash string
}

type EMOLink struct {
	WorldID     string
	Branch      string
	EMOID       string
	Rel         string
	TargetEMOID string
	TargetURI   string
}

// ContentHash fingerprints EMO content for the history table.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
