package knowledge

import "time"

// Metadata keys written by the ingestion side and surfaced on results.
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaSource     = "source"
	MetaCategory   = "category"
	MetaUploadedAt = "uploaded_at"
)

// Document is one stored chunk of knowledge text.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Result is a single search hit with its cosine similarity score (0-1).
type Result struct {
	Document   Document
	Similarity float32
}

// SearchOption configures search behavior using the functional options
// pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK     int32
	minScore float32
}

const (
	defaultTopK     = 4
	minTopK         = 1
	maxTopK         = 10
	defaultMinScore = 0.25
)

// WithTopK sets the maximum number of results. Values are clamped to
// [1, 10]; the default is 4.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		switch {
		case k < minTopK:
			c.topK = minTopK
		case k > maxTopK:
			c.topK = maxTopK
		default:
			c.topK = int32(k)
		}
	}
}

// WithMinScore sets the similarity floor. Hits scoring below it are
// dropped. The default is 0.25.
func WithMinScore(score float32) SearchOption {
	return func(c *searchConfig) {
		c.minScore = score
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:     defaultTopK,
		minScore: defaultMinScore,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
