package fn

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	if v, err := Ok(3).Unwrap(); err != nil || v != 3 || !Ok(3).IsOk() {
		t.Fatalf("Ok(3) = %d, %v", v, err)
	}
	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() {
		t.Fatal("Err should not be ok")
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(strconv.Atoi("42")).Unwrap(); err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if FromPair(strconv.Atoi("x")).IsOk() {
		t.Fatal("expected error")
	}
}

func TestThenShortCircuits(t *testing.T) {
	calls := 0
	double := Stage[int, int](func(_ context.Context, n int) Result[int] { calls++; return Ok(n * 2) })
	fail := Stage[int, int](func(context.Context, int) Result[int] { return Err[int](errors.New("stop")) })

	if v, err := Then(double, double)(context.Background(), 3).Unwrap(); err != nil || v != 12 {
		t.Fatalf("got %d, %v", v, err)
	}
	calls = 0
	if Then(fail, double)(context.Background(), 3).IsOk() || calls != 0 {
		t.Fatalf("second stage ran after failure (calls=%d)", calls)
	}
}

func TestNamedReportsEachRun(t *testing.T) {
	type run struct {
		stage string
		err   error
	}
	var runs []run
	observe := func(_ context.Context, stage string, took time.Duration, err error) {
		if took < 0 {
			t.Errorf("negative duration for %s", stage)
		}
		runs = append(runs, run{stage, err})
	}
	parse := Named("parse.chapter", Stage[string, int](func(_ context.Context, s string) Result[int] {
		return FromPair(strconv.Atoi(s))
	}), observe)

	if v, err := parse(context.Background(), "7").Unwrap(); err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	if parse(context.Background(), "seven").IsOk() {
		t.Fatal("expected error")
	}
	if len(runs) != 2 || runs[0].stage != "parse.chapter" || runs[0].err != nil || runs[1].err == nil {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRetry(t *testing.T) {
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	attempts := 0
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); err != nil || v != "done" || attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: time.Millisecond,
		RetryIf: func(err error) bool { return !errors.Is(err, permanent) }}
	attempts := 0
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() || attempts != 1 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour}
	r := Retry(ctx, opts, func(context.Context) Result[int] { return Err[int](errors.New("x")) })
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestSliceHelpers(t *testing.T) {
	if got := Map([]int{1, 2}, strconv.Itoa); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("Map = %v", got)
	}
	evens := FilterMap([]int{1, 2, 3, 4}, func(n int) (string, bool) { return strconv.Itoa(n), n%2 == 0 })
	if !reflect.DeepEqual(evens, []string{"2", "4"}) {
		t.Errorf("FilterMap = %v", evens)
	}
	if got := Chunk([]int{1, 2, 3, 4, 5}, 2); !reflect.DeepEqual(got, [][]int{{1, 2}, {3, 4}, {5}}) {
		t.Errorf("Chunk = %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Error("Chunk with n=0 should be nil")
	}
	if got := Unique([]string{"Ruth", "Jonah", "Ruth"}); !reflect.DeepEqual(got, []string{"Ruth", "Jonah"}) {
		t.Errorf("Unique = %v", got)
	}
}
