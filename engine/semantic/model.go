package semantic

// Document is a text with flat metadata, the unit handed to an Index.
type Document struct {
	// ID becomes the point ID. It must be a UUID; an empty ID gets a random one.
	ID       string
	Text     string
	Metadata map[string]any
}

// ScoredDocument is a search hit: the stored document and its similarity.
type ScoredDocument struct {
	Document
	Score float32
}

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Content string         `json:"content"`
	Payload map[string]any `json:"payload"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // text, tenant, book_name, chapter_number, ...
}

// Payload keys written by Index.
const (
	TextKey   = "text"
	TenantKey = "tenant"
)
