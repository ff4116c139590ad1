package ports

import "context"

// Embedder turns entity text into a vector. The identity triple (model,
// version, template) is part of every embedding row and of the lens state
// hash, so swapping models never silently aliases old vectors.
type Embedder interface {
	ModelID() string
	ModelVersion() string
	TemplateID() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float64, error)
}
