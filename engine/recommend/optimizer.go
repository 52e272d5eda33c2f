// Package recommend turns a prayer into relevance-filtered scripture
// recommendations: optimize the prayer into a query, retrieve candidate
// passages from the vector index, judge each candidate, assemble and persist.
package recommend

import (
	"context"
	"errors"
	"strings"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/fn"
	"github.com/selah-app/selah/pkg/llm"
	"github.com/selah-app/selah/pkg/resilience"
)

// Strategy names how a prayer becomes search text.
type Strategy string

// StrategyGenerateThenRetrieve asks the model for a plausible verse and
// searches the index for passages near that verse, not near the prayer.
const StrategyGenerateThenRetrieve Strategy = "generate-then-retrieve"

const optimizerPrompt = `You are a Bible Verse Retrieval Assistant. Your task is to take a user's prayer and reframe it into a refined search query that captures the core theological themes and concepts expressed in the prayer, without including any extraneous words that might skew vector embeddings.

Follow these steps:

1. **Analyze the Prayer:**
Read the provided prayer carefully and extract its key themes, emotions, and specific requests. Identify detailed aspects such as the emotional state (e.g., feeling overwhelmed, seeking hope), and any specific needs (e.g., guidance, strength, comfort).

2. **Generate a Refined Query:**
Based on the extracted themes, construct a concise, focused query that captures these ideas without any extraneous words. The query should be a string of keywords or phrases that would optimally guide a vector search. For example, if the prayer mentions feeling lost and in need of guidance and hope, a refined query might be:
` + "`guidance hope overcoming uncertainty`" + `

3. **Recommend a Bible Verse:**
Using your internal knowledge of the Bible, identify a verse or passage that best aligns with the refined query and the overall context of the prayer. Choose a verse that clearly reflects the themes and emotional tone expressed in the prayer.

4. **Provide a Justification:**
Along with the recommended verse, provide a brief explanation of why you selected this verse and how it relates to the core themes of the prayer.

Respond with a JSON object with the keys "verse" (the text of the recommended verse), "verse_details" (its book, chapter and verse numbers) and "justification".`

func optimizerUserPrompt(prayer string) string {
	return "Now, please reframe the following prayer accordingly: " + prayer
}

type optimizedQuery struct {
	Verse         string `json:"verse"`
	VerseDetails  string `json:"verse_details"`
	Justification string `json:"justification"`
}

// QueryOptimizer derives the search query for a prayer with one model call.
type QueryOptimizer struct {
	llm      llm.Completer
	breaker  *resilience.Breaker
	strategy Strategy
}

// NewQueryOptimizer creates an optimizer using StrategyGenerateThenRetrieve.
// A nil breaker disables circuit breaking.
func NewQueryOptimizer(c llm.Completer, breaker *resilience.Breaker) *QueryOptimizer {
	return &QueryOptimizer{llm: c, breaker: breaker, strategy: StrategyGenerateThenRetrieve}
}

// Strategy reports the retrieval strategy in use.
func (o *QueryOptimizer) Strategy() Strategy { return o.strategy }

// Optimize returns the Query for prayer. SearchText is the guessed verse.
func (o *QueryOptimizer) Optimize(ctx context.Context, prayer string) (domain.Query, error) {
	var out optimizedQuery
	call := func(ctx context.Context) error {
		var err error
		out, err = llm.Invoke[optimizedQuery](ctx, o.llm, optimizerPrompt, optimizerUserPrompt(prayer))
		return err
	}
	if err := callThrough(ctx, o.breaker, call); err != nil {
		return domain.Query{}, domain.NewOracleError("optimize", err)
	}
	if strings.TrimSpace(out.Verse) == "" {
		return domain.Query{}, domain.NewOracleError("optimize", errors.New("reply has no verse"))
	}
	return domain.Query{
		SearchText:        strings.TrimSpace(out.Verse),
		SupportingDetails: strings.TrimSpace(out.VerseDetails),
		Justification:     strings.TrimSpace(out.Justification),
	}, nil
}

// OptimizeAsync runs Optimize on its own goroutine. The channel receives
// exactly one result.
func (o *QueryOptimizer) OptimizeAsync(ctx context.Context, prayer string) <-chan fn.Result[domain.Query] {
	ch := make(chan fn.Result[domain.Query], 1)
	go func() {
		defer close(ch)
		q, err := o.Optimize(ctx, prayer)
		ch <- fn.FromPair(q, err)
	}()
	return ch
}

func callThrough(ctx context.Context, b *resilience.Breaker, f func(context.Context) error) error {
	if b == nil {
		return f(ctx)
	}
	return b.Call(ctx, f)
}
