// Package telemetry records full traces of every catalog query and computes
// aggregate quality signals over them.
//
// Storage is a bounded in-memory ring: insertion evicts the oldest record
// when the capacity is reached, so memory stays bounded regardless of
// traffic. Records are append-only and never mutated after creation;
// analysis is a read-only scan and is deterministic for identical input.
package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codecollection/bundlesearch/internal/retrieve"
)

// DefaultCapacity bounds the ring when no capacity is configured.
const DefaultCapacity = 100

// Record captures one full request/response cycle, including the prompts
// that were actually sent. Owned by the Log once added.
type Record struct {
	ID             uuid.UUID        `json:"id"`
	Question       string           `json:"question"`
	HistoryLen     int              `json:"history_len"`
	IsFollowup     bool             `json:"is_followup"`
	Mode           string           `json:"mode"`
	FocusedSubject string           `json:"focused_subject,omitempty"`
	Retrieved      []retrieve.Item  `json:"retrieved"`
	SystemPrompt   string           `json:"system_prompt"`
	UserPrompt     string           `json:"user_prompt"`
	Answer         string           `json:"answer"`
	NoMatch        bool             `json:"no_match"`
	Confidence     float64          `json:"confidence"`
	HasConfidence  bool             `json:"has_confidence"`
	Degraded       bool             `json:"degraded"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Duration       time.Duration    `json:"duration"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Filter selects which records Recent returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterNoMatch
	FilterSuccess
)

// ParseFilter maps the wire values used by the debug endpoints.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "all":
		return FilterAll, nil
	case "no_match":
		return FilterNoMatch, nil
	case "success":
		return FilterSuccess, nil
	default:
		return FilterAll, fmt.Errorf("unknown filter %q", s)
	}
}

// Sort orders the records Recent returns.
type Sort int

const (
	SortNewest Sort = iota
	SortOldest
	SortMostItems
	SortFewestItems
)

// ParseSort maps the wire values used by the debug endpoints.
func ParseSort(s string) (Sort, error) {
	switch s {
	case "", "newest":
		return SortNewest, nil
	case "oldest":
		return SortOldest, nil
	case "most_items":
		return SortMostItems, nil
	case "fewest_items":
		return SortFewestItems, nil
	default:
		return SortNewest, fmt.Errorf("unknown sort %q", s)
	}
}

// Log is the bounded trace store. Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewLog creates a Log holding at most capacity records; capacity <= 0 uses
// DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a record, evicting the oldest when full. A zero ID or
// timestamp is filled in.
func (l *Log) Add(rec Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, rec)
}

// Len reports the number of stored records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Recent returns up to limit records matching the filter, ordered per sort.
// The returned slice is a copy; stored records are never exposed for
// mutation.
func (l *Log) Recent(limit int, filter Filter, order Sort) []Record {
	l.mu.RLock()
	matched := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		switch filter {
		case FilterNoMatch:
			if !rec.NoMatch {
				continue
			}
		case FilterSuccess:
			if rec.NoMatch {
				continue
			}
		}
		matched = append(matched, rec)
	}
	l.mu.RUnlock()

	switch order {
	case SortNewest:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		})
	case SortOldest:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		})
	case SortMostItems:
		sort.SliceStable(matched, func(i, j int) bool {
			return len(matched[i].Retrieved) > len(matched[j].Retrieved)
		})
	case SortFewestItems:
		sort.SliceStable(matched, func(i, j int) bool {
			return len(matched[i].Retrieved) < len(matched[j].Retrieved)
		})
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
