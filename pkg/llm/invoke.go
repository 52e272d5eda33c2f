package llm

import (
	"context"
	"fmt"

	"github.com/selah-app/selah/pkg/fn"
)

// Completer produces a raw JSON reply for a system/user prompt pair.
// *Client implements it; tests substitute scripted fakes.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Invoke sends one structured request and decodes the reply into T.
func Invoke[T any](ctx context.Context, c Completer, systemPrompt, userPrompt string) (T, error) {
	var out T
	raw, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(raw, &out); err != nil {
		return out, fmt.Errorf("llm invoke: %w", err)
	}
	return out, nil
}

// InvokeAsync runs Invoke on its own goroutine. The returned channel receives
// exactly one result and is then closed.
func InvokeAsync[T any](ctx context.Context, c Completer, systemPrompt, userPrompt string) <-chan fn.Result[T] {
	ch := make(chan fn.Result[T], 1)
	go func() {
		defer close(ch)
		v, err := Invoke[T](ctx, c, systemPrompt, userPrompt)
		ch <- fn.FromPair(v, err)
	}()
	return ch
}
