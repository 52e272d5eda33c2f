package semantic

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

// Embedder turns text into a vector. *llm.Client and *ollama.EmbedClient
// implement it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by embedders that can embed many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Connector opens Index handles. It holds only configuration, so one
// Connector is shared by the process while each invocation opens and closes
// its own Index.
type Connector struct {
	Addr       string
	Collection string
	// Tenant scopes SimilaritySearchWithScore.
	Tenant     string
	VectorSize int
	Dial       DialOpts
	Embedder   Embedder

	// open overrides the gRPC dial in tests.
	open func(ctx context.Context) (*VectorStore, error)
}

// Connect dials Qdrant and makes sure the collection exists.
func (c *Connector) Connect(ctx context.Context) (*Index, error) {
	if c.Embedder == nil {
		return nil, errors.New("semantic: connect: no embedder configured")
	}
	var (
		vs  *VectorStore
		err error
	)
	if c.open != nil {
		vs, err = c.open(ctx)
	} else {
		vs, err = New(c.Addr, c.Collection, c.Dial)
	}
	if err != nil {
		return nil, err
	}
	if c.VectorSize > 0 {
		if err := vs.EnsureCollection(ctx, c.VectorSize); err != nil {
			vs.Close()
			return nil, err
		}
	}
	return &Index{store: vs, embedder: c.Embedder, tenant: c.Tenant}, nil
}

// Index is an open handle on one collection. It embeds documents and queries
// with its Embedder and scopes searches to its tenant.
type Index struct {
	store    *VectorStore
	embedder Embedder
	tenant   string
}

// NewIndex wraps an existing store.
func NewIndex(store *VectorStore, embedder Embedder, tenant string) *Index {
	return &Index{store: store, embedder: embedder, tenant: tenant}
}

// Store exposes the underlying VectorStore.
func (ix *Index) Store() *VectorStore { return ix.store }

// Close releases the connection.
func (ix *Index) Close() error { return ix.store.Close() }

// AddDocuments embeds docs and upserts them under tenant. The text and tenant
// are stored in the payload next to the document metadata.
func (ix *Index) AddDocuments(ctx context.Context, docs []Document, tenant string) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := ix.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("semantic: embed %d documents: %w", len(docs), err)
	}

	records := make([]VectorRecord, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		payload := make(map[string]any, len(d.Metadata)+2)
		maps.Copy(payload, d.Metadata)
		payload[TextKey] = d.Text
		payload[TenantKey] = tenant
		records[i] = VectorRecord{ID: id, Embedding: vectors[i], Payload: payload}
	}
	return ix.store.Upsert(ctx, records)
}

func (ix *Index) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if be, ok := ix.embedder.(BatchEmbedder); ok {
		vectors, err := be.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := ix.embedder.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// SimilaritySearchWithScore embeds text and returns up to k documents of the
// index tenant, most similar first.
func (ix *Index) SimilaritySearchWithScore(ctx context.Context, text string, k int) ([]ScoredDocument, error) {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	var filters map[string]string
	if ix.tenant != "" {
		filters = map[string]string{TenantKey: ix.tenant}
	}
	hits, err := ix.store.SearchFiltered(ctx, vec, k, filters)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredDocument, len(hits))
	for i, h := range hits {
		out[i] = ScoredDocument{
			Document: Document{ID: h.ID, Text: h.Content, Metadata: h.Payload},
			Score:    h.Score,
		}
	}
	return out, nil
}
