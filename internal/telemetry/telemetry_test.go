package telemetry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/codecollection/bundlesearch/internal/retrieve"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recAt(ts time.Time, question string, items int, noMatch, followup bool) Record {
	retrieved := make([]retrieve.Item, items)
	for i := range retrieved {
		retrieved[i] = retrieve.Item{Name: fmt.Sprintf("bundle-%d", i), Rank: i + 1}
	}
	return Record{
		Question:   question,
		Retrieved:  retrieved,
		NoMatch:    noMatch,
		IsFollowup: followup,
		Timestamp:  ts,
	}
}

func TestLog_RingEviction(t *testing.T) {
	l := NewLog(3)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := range 5 {
		l.Add(recAt(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("q%d", i), 1, false, false))
	}

	if l.Len() != 3 {
		t.Fatalf("capacity 3 log holds %d records", l.Len())
	}

	oldestFirst := l.Recent(0, FilterAll, SortOldest)
	if oldestFirst[0].Question != "q2" {
		t.Errorf("oldest surviving record should be q2, got %q", oldestFirst[0].Question)
	}
}

func TestLog_RecentFilterAndSort(t *testing.T) {
	l := NewLog(10)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	l.Add(recAt(base, "hit one", 3, false, false))
	l.Add(recAt(base.Add(time.Minute), "miss", 0, true, false))
	l.Add(recAt(base.Add(2*time.Minute), "hit two", 1, false, false))

	tests := []struct {
		name   string
		filter Filter
		order  Sort
		limit  int
		want   []string
	}{
		{"newest first", FilterAll, SortNewest, 0, []string{"hit two", "miss", "hit one"}},
		{"oldest first", FilterAll, SortOldest, 0, []string{"hit one", "miss", "hit two"}},
		{"most items", FilterAll, SortMostItems, 0, []string{"hit one", "hit two", "miss"}},
		{"fewest items", FilterAll, SortFewestItems, 0, []string{"miss", "hit two", "hit one"}},
		{"no-match only", FilterNoMatch, SortNewest, 0, []string{"miss"}},
		{"success only", FilterSuccess, SortNewest, 0, []string{"hit two", "hit one"}},
		{"limited", FilterAll, SortNewest, 2, []string{"hit two", "miss"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Recent(tt.limit, tt.filter, tt.order)
			names := make([]string, len(got))
			for i, rec := range got {
				names[i] = rec.Question
			}
			if !reflect.DeepEqual(names, tt.want) {
				t.Errorf("Recent() = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestLog_AddFillsIdentity(t *testing.T) {
	l := NewLog(5)
	l.Add(Record{Question: "q"})

	got := l.Recent(1, FilterAll, SortNewest)[0]
	if got.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("Add should assign an ID")
	}
	if got.Timestamp.IsZero() {
		t.Error("Add should assign a timestamp")
	}
}

func TestAnalyze_WindowAndRates(t *testing.T) {
	l := NewLog(20)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// Outside the window.
	l.Add(recAt(base.Add(-time.Hour), "ancient", 2, true, false))
	// Inside: two hits, one miss, one follow-up failure.
	l.Add(recAt(base, "hit one", 2, false, false))
	l.Add(recAt(base.Add(time.Minute), "miss", 0, true, false))
	l.Add(recAt(base.Add(2*time.Minute), "hit two", 4, false, false))
	l.Add(recAt(base.Add(3*time.Minute), "followup fail", 0, true, true))

	report := l.Analyze(base)

	if report.TotalChats != 4 {
		t.Fatalf("TotalChats = %d, want 4 (window boundary)", report.TotalChats)
	}
	if report.NoMatchCount != 2 {
		t.Errorf("NoMatchCount = %d, want 2", report.NoMatchCount)
	}
	if report.NoMatchRate != 0.5 {
		t.Errorf("NoMatchRate = %f, want 0.5", report.NoMatchRate)
	}
	if report.FollowupFailures != 1 || report.FollowupFailureRate != 0.25 {
		t.Errorf("followup failures = %d rate %f, want 1/0.25",
			report.FollowupFailures, report.FollowupFailureRate)
	}
	if report.AvgItemsFound != 1.5 {
		t.Errorf("AvgItemsFound = %f, want 1.5", report.AvgItemsFound)
	}
	if len(report.ProblemQueries) == 0 {
		t.Error("expected flagged problem queries")
	}
	if len(report.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	l := NewLog(10)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	l.Add(recAt(base, "q1", 1, false, false))
	l.Add(recAt(base.Add(time.Minute), "q2", 0, true, true))

	first := l.Analyze(base)
	second := l.Analyze(base)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Analyze not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	l := NewLog(10)
	report := l.Analyze(time.Now())
	if report.TotalChats != 0 {
		t.Errorf("TotalChats = %d, want 0", report.TotalChats)
	}
	if len(report.Recommendations) == 0 {
		t.Error("empty window still gets a recommendation line")
	}
}

func TestLog_ConcurrentAddAndRead(t *testing.T) {
	l := NewLog(50)
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				l.Add(recAt(time.Now(), fmt.Sprintf("q%d", i), 1, i%3 == 0, false))
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = l.Recent(10, FilterAll, SortNewest)
				_ = l.Analyze(time.Time{})
			}
		}()
	}
	wg.Wait()

	if l.Len() != 50 {
		t.Errorf("log should sit at capacity, got %d", l.Len())
	}
}

func TestParseFilterAndSort(t *testing.T) {
	if _, err := ParseFilter("nonsense"); err == nil {
		t.Error("expected error for unknown filter")
	}
	if _, err := ParseSort("nonsense"); err == nil {
		t.Error("expected error for unknown sort")
	}
	if f, err := ParseFilter(""); err != nil || f != FilterAll {
		t.Errorf("empty filter should default to all, got %v/%v", f, err)
	}
	if s, err := ParseSort(""); err != nil || s != SortNewest {
		t.Errorf("empty sort should default to newest, got %v/%v", s, err)
	}
}
