package segment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/selah-app/selah/engine/domain"
	"github.com/selah-app/selah/pkg/resilience"
)

type scriptedCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (s *scriptedCompleter) CompleteJSON(_ context.Context, system, user string) (string, error) {
	s.calls++
	s.system, s.user = system, user
	return s.reply, s.err
}

var testWindow = Window{Book: "John", Chapter: 3, Start: 16, End: 17, Text: "For God so loved the world..."}

func TestLLMOracle_Decision(t *testing.T) {
	for reply, want := range map[string]bool{
		`{"continue_adding": true}`:             true,
		"```json\n{\"continue_adding\": false}\n```": false,
	} {
		c := &scriptedCompleter{reply: reply}
		got, err := NewLLMOracle(c, nil).Continue(context.Background(), testWindow)
		if err != nil {
			t.Fatalf("%q: %v", reply, err)
		}
		if got != want {
			t.Fatalf("%q: got %v", reply, got)
		}
	}
}

func TestLLMOracle_Prompt(t *testing.T) {
	c := &scriptedCompleter{reply: `{"continue_adding": false}`}
	if _, err := NewLLMOracle(c, nil).Continue(context.Background(), testWindow); err != nil {
		t.Fatal(err)
	}
	want := "Book: John\nChapter: 3\nVerse Start: 16\nVerse End: 17\nText: For God so loved the world..."
	if c.user != want {
		t.Fatalf("user prompt = %q", c.user)
	}
	if !strings.Contains(c.system, "continue_adding") {
		t.Fatal("system prompt does not name the reply field")
	}
}

func TestLLMOracle_Failures(t *testing.T) {
	cases := map[string]*scriptedCompleter{
		"transport":     {err: errors.New("connection reset")},
		"missing field": {reply: `{"verdict": "stop"}`},
		"not json":      {reply: "yes, keep going"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLLMOracle(c, nil).Continue(context.Background(), testWindow)
			if !errors.Is(err, domain.ErrOracle) {
				t.Fatalf("err = %v, want ErrOracle", err)
			}
		})
	}
}

func TestLLMOracle_BreakerOpens(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("503")}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	o := NewLLMOracle(c, b)
	for i := 0; i < 3; i++ {
		o.Continue(context.Background(), testWindow)
	}
	if c.calls != 2 {
		t.Fatalf("completer called %d times, want 2 before the breaker opened", c.calls)
	}
	_, err := o.Continue(context.Background(), testWindow)
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, domain.ErrOracle) {
		t.Fatalf("err = %v", err)
	}
}

func TestLLMOracle_ForBook(t *testing.T) {
	shared := resilience.NewBreaker(resilience.BreakerOpts{})
	o := NewLLMOracle(&scriptedCompleter{}, shared)
	if o.ForBook("Jude") != Oracle(o) {
		t.Fatal("ForBook without PerBook should return the shared oracle")
	}

	var built []string
	scoped := o.PerBook(func(book string) *resilience.Breaker {
		built = append(built, book)
		return resilience.NewBreaker(resilience.BreakerOpts{Name: book})
	})
	a, b := scoped.ForBook("Ruth").(*LLMOracle), scoped.ForBook("Jude").(*LLMOracle)
	if a.breaker == b.breaker || a.breaker == shared {
		t.Fatal("books share a breaker")
	}
	if strings.Join(built, ",") != "Ruth,Jude" {
		t.Fatalf("built = %v", built)
	}
}
