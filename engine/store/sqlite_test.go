package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/selah-app/selah/engine/domain"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "selah.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(prayer string, i, start, end int) domain.Recommendation {
	return domain.Recommendation{
		ID:               fmt.Sprintf("%s-rec-%d", prayer, i),
		PrayerID:         prayer,
		BookName:         "Psalms",
		ChapterNumber:    23,
		VerseNumberStart: start,
		VerseNumberEnd:   end,
		VerseText:        "The LORD is my shepherd",
		RelevanceScore:   0.9 - float64(i)/10,
		Justification:    "comfort",
		CreatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC),
	}
}

func TestSaveListRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	want := []domain.Recommendation{rec("p1", 0, 4, 4), rec("p1", 1, 1, 3), rec("p1", 2, 6, 6)}
	if err := s.SaveRecommendations(ctx, "p1", want); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecommendations(ctx, "p2", []domain.Recommendation{rec("p2", 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRecommendations(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows", len(got))
	}
	for i := range want {
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("row %d created_at = %v", i, got[i].CreatedAt)
		}
		got[i].CreatedAt = want[i].CreatedAt
		if got[i] != want[i] {
			t.Errorf("row %d = %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestSaveReplacesPreviousSet(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.SaveRecommendations(ctx, "p1", []domain.Recommendation{rec("p1", 0, 1, 1), rec("p1", 1, 2, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecommendations(ctx, "p1", []domain.Recommendation{rec("p1", 5, 3, 3)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.ListRecommendations(ctx, "p1")
	if len(got) != 1 || got[0].ID != "p1-rec-5" {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.SaveRecommendations(ctx, "p1", []domain.Recommendation{rec("p1", 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}

	// Duplicate primary key on the second row fails the transaction.
	dup := []domain.Recommendation{rec("p1", 7, 1, 1), rec("p1", 7, 2, 2)}
	if err := s.SaveRecommendations(ctx, "p1", dup); err == nil {
		t.Fatal("expected error")
	}
	got, _ := s.ListRecommendations(ctx, "p1")
	if len(got) != 1 || got[0].ID != "p1-rec-0" {
		t.Fatalf("previous set not preserved: %+v", got)
	}

	if err := s.SaveRecommendations(ctx, "p1", []domain.Recommendation{rec("p9", 0, 1, 1)}); err == nil {
		t.Fatal("expected error for foreign recommendation")
	}
}

func TestDeleteRecommendations(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.SaveRecommendations(ctx, "p1", []domain.Recommendation{rec("p1", 0, 1, 1), rec("p1", 1, 2, 2)}); err != nil {
		t.Fatal(err)
	}
	n, err := s.DeleteRecommendations(ctx, "p1")
	if err != nil || n != 2 {
		t.Fatalf("deleted %d, %v", n, err)
	}
	if n, _ := s.DeleteRecommendations(ctx, "p1"); n != 0 {
		t.Fatalf("second delete removed %d", n)
	}
	if c, _ := s.Count(ctx); c != 0 {
		t.Fatalf("count = %d", c)
	}
}

func TestEmptySetIsPersisted(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	if err := s.SaveRecommendations(ctx, "p1", nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListRecommendations(ctx, "p1")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

type codeErr int

func (c codeErr) Error() string { return "sqlite error" }
func (c codeErr) Code() int     { return int(c) }

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return codeErr(5)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}

	calls = 0
	boom := errors.New("constraint failed")
	if err := retryOnBusy(context.Background(), func() error { calls++; return boom }); !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
	if !isSQLiteBusy(errors.New("database is locked")) || isSQLiteBusy(nil) {
		t.Fatal("busy detection")
	}
}
