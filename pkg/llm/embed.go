package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder turns text into a dense vector. Implemented by *Client and by
// ollama.EmbedClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama's OpenAI-compatible shim answers with a bare embedding.
	Embedding []float32 `json:"embedding"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbeddingModel returns the embedding model name.
func (c *Client) EmbeddingModel() string { return c.cfg.EmbeddingModel }

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("llm embed: empty text")
	}
	vecs, err := c.embed(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Vectors are returned in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, len(texts))
}

func (c *Client) embed(ctx context.Context, input any, want int) ([][]float32, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("llm embed: api key required")
	}
	payload := embeddingRequest{Input: input, Model: c.cfg.EmbeddingModel}
	var vecs [][]float32
	err := c.withRetry(ctx, "llm embed", func() error {
		var resp embeddingResponse
		if _, err := c.postJSON(ctx, "/embeddings", payload, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("llm embed: api error: %s", strings.TrimSpace(resp.Error.Message))
		}
		out, err := orderEmbeddings(resp, want)
		if err != nil {
			return err
		}
		vecs = out
		return nil
	})
	return vecs, err
}

func orderEmbeddings(resp embeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) == 0 {
		if want == 1 && len(resp.Embedding) > 0 {
			return [][]float32{resp.Embedding}, nil
		}
		return nil, errors.New("llm embed: empty embedding response")
	}
	if len(resp.Data) != want {
		return nil, fmt.Errorf("llm embed: got %d embeddings for %d inputs", len(resp.Data), want)
	}
	out := make([][]float32, want)
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= want || out[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("llm embed: empty vector at index %d", i)
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
