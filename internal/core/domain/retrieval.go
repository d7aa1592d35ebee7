package domain

// UnknownSource is reported for chunks whose metadata carries no url.
const UnknownSource = "Unknown"

// Chunk is a unit of retrievable CTI text. Chunks are produced by the offline
// index build and are read-only at query time.
type Chunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceURL string `json:"url,omitempty"`
}

// Source returns the provenance url, or UnknownSource when it is absent.
func (c Chunk) Source() string {
	if c.SourceURL == "" {
		return UnknownSource
	}
	return c.SourceURL
}

// IndexHit is a single nearest-neighbour match returned by the vector index.
type IndexHit struct {
	ChunkID string
	Score   float64
}

type RetrievedChunk struct {
	ChunkID   string  `json:"chunk_id"`
	SourceURL string  `json:"source_url"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

type Answer struct {
	Category Category         `json:"category"`
	Text     string           `json:"text"`
	Sources  []RetrievedChunk `json:"sources,omitempty"`
}
