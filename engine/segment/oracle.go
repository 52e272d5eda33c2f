package segment

import (
	"context"
	"fmt"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/llm"
	"github.com/selah-app/selah/pkg/resilience"
)

// Window is the buffer the oracle is asked about: a contiguous verse range of
// one chapter and its aggregated text.
type Window struct {
	Book    string
	Chapter int
	Start   int
	End     int
	Text    string
}

// Oracle decides whether the current passage buffer should keep growing.
type Oracle interface {
	Continue(ctx context.Context, w Window) (bool, error)
}

// BookScoped is implemented by oracles that hold per-book state. Run takes a
// fresh oracle from ForBook for every book task.
type BookScoped interface {
	ForBook(book string) Oracle
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, w Window) (bool, error)

func (f OracleFunc) Continue(ctx context.Context, w Window) (bool, error) { return f(ctx, w) }

const systemPrompt = `You are a Bible Passage Segmentation Assistant. Your task is to analyze a current grouping of Bible verses and determine whether the grouping represents a complete and coherent theological or narrative thought, or if additional verses should be included to capture the full context.

When making your decision, consider the following criteria:
1. **Contextual Continuity:** Does the current grouping naturally lead into the next verse? Is there a clear transition, or does the grouping feel abrupt?
2. **Theological or Narrative Completeness:** Does the grouping capture a complete idea, prayer, or narrative? Would adding the next verse enhance understanding, or would it dilute the focus?
3. **Natural Breaks:** Look for punctuation, changes in speakers, or shifts in subject that indicate a natural ending point for the grouping.
4. **Relevance of Additional Content:** Determine if the next verse introduces new themes or unnecessary details that do not align with the core message of the grouping.
5. **Group Length Appropriateness:** Is the current grouping too short to capture a meaningful unit, or does it already form a complete thought? If the grouping is very short and could benefit from additional context, this may favor continuing to add verses.

Respond with a JSON object of the form {"continue_adding": true} or {"continue_adding": false}.
- If the current grouping ends on a natural pause and the next verse introduces a new thought, respond with {"continue_adding": false}.
- If the current grouping feels incomplete or too short, and the next verse reinforces the ongoing idea, respond with {"continue_adding": true}.

Analyze the provided verses carefully and base your decision solely on the content and flow of the verses.`

func userPrompt(w Window) string {
	return fmt.Sprintf("Book: %s\nChapter: %d\nVerse Start: %d\nVerse End: %d\nText: %s",
		w.Book, w.Chapter, w.Start, w.End, w.Text)
}

type continueDecision struct {
	ContinueAdding *bool `json:"continue_adding"`
}

// LLMOracle asks a chat model for the continuation decision.
type LLMOracle struct {
	llm        llm.Completer
	breaker    *resilience.Breaker
	newBreaker func(book string) *resilience.Breaker
}

// NewLLMOracle creates an oracle over c. A nil breaker disables circuit breaking.
func NewLLMOracle(c llm.Completer, breaker *resilience.Breaker) *LLMOracle {
	return &LLMOracle{llm: c, breaker: breaker}
}

// PerBook returns an oracle whose ForBook builds a new breaker with nb for
// every book, in place of any shared breaker.
func (o *LLMOracle) PerBook(nb func(book string) *resilience.Breaker) *LLMOracle {
	return &LLMOracle{llm: o.llm, newBreaker: nb}
}

// ForBook implements BookScoped.
func (o *LLMOracle) ForBook(book string) Oracle {
	if o.newBreaker == nil {
		return o
	}
	return &LLMOracle{llm: o.llm, breaker: o.newBreaker(book)}
}

// Continue implements Oracle. Every failure, including a reply without the
// continue_adding field, is an OracleInvocationError.
func (o *LLMOracle) Continue(ctx context.Context, w Window) (bool, error) {
	var decision continueDecision
	call := func(ctx context.Context) error {
		var err error
		decision, err = llm.Invoke[continueDecision](ctx, o.llm, systemPrompt, userPrompt(w))
		return err
	}
	var err error
	if o.breaker != nil {
		err = o.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return false, domain.NewOracleError("continue", err)
	}
	if decision.ContinueAdding == nil {
		return false, domain.NewOracleError("continue", fmt.Errorf("reply missing continue_adding for %s %d:%d-%d", w.Book, w.Chapter, w.Start, w.End))
	}
	return *decision.ContinueAdding, nil
}
