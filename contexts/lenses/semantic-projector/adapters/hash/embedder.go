package hashadapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Embedder derives a pseudo-vector from a SHA-256 of the text. It is fully
// deterministic, which makes rebuild parity testable without a model server.
// Zero-value identity fields fall back to the built-in triple.
type Embedder struct {
	Model    string
	Version  string
	Template string
	Dims     int
}

func NewEmbedder() Embedder { return Embedder{} }

func (e Embedder) ModelID() string {
	if e.Model == "" {
		return "hash-embed"
	}
	return e.Model
}

func (e Embedder) ModelVersion() string {
	if e.Version == "" {
		return "1"
	}
	return e.Version
}

func (e Embedder) TemplateID() string {
	if e.Template == "" {
		return "plain:v1"
	}
	return e.Template
}

func (e Embedder) Dimensions() int {
	if e.Dims <= 0 {
		return 16
	}
	return e.Dims
}

func (e Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	dims := e.Dimensions()
	vector := make([]float64, dims)
	for i := 0; i < dims; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", text, i)))
		// Map the first 8 bytes onto [-1, 1).
		raw := binary.BigEndian.Uint64(sum[:8])
		vector[i] = float64(int64(raw)) / float64(1<<63)
	}
	return vector, nil
}
