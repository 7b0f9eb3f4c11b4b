package telemetry

import (
	"fmt"
	"time"
)

// ProblemQuery is one flagged record in a quality report.
type ProblemQuery struct {
	Question  string    `json:"question"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the aggregate quality picture over an analysis window.
type Report struct {
	TotalChats          int            `json:"total_chats"`
	NoMatchCount        int            `json:"no_match_count"`
	NoMatchRate         float64        `json:"no_match_rate"`
	AvgItemsFound       float64        `json:"avg_items_found"`
	FollowupFailures    int            `json:"followup_failures"`
	FollowupFailureRate float64        `json:"followup_failure_rate"`
	DegradedCount       int            `json:"degraded_count"`
	ProblemQueries      []ProblemQuery `json:"problem_queries"`
	Recommendations     []string       `json:"recommendations"`
}

// Analyze aggregates all records with Timestamp at or after since. It reads
// a snapshot under the lock and never mutates stored records; identical
// stored records and an identical boundary produce an identical Report.
func (l *Log) Analyze(since time.Time) Report {
	l.mu.RLock()
	window := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		if rec.Timestamp.Before(since) {
			continue
		}
		window = append(window, rec)
	}
	l.mu.RUnlock()

	report := Report{TotalChats: len(window)}
	if len(window) == 0 {
		report.Recommendations = []string{"No chats in the analysis window."}
		return report
	}

	var totalItems int
	for _, rec := range window {
		totalItems += len(rec.Retrieved)
		if rec.NoMatch {
			report.NoMatchCount++
			report.ProblemQueries = append(report.ProblemQueries, ProblemQuery{
				Question:  rec.Question,
				Reason:    "no matching CodeBundle found",
				Timestamp: rec.Timestamp,
			})
		}
		// A follow-up that still ends in no-match is the contradiction
		// failure mode: the assistant recommended something and then
		// denied knowing it.
		if rec.IsFollowup && rec.NoMatch {
			report.FollowupFailures++
			report.ProblemQueries = append(report.ProblemQueries, ProblemQuery{
				Question:  rec.Question,
				Reason:    "follow-up answered with no-match",
				Timestamp: rec.Timestamp,
			})
		}
		if rec.Degraded {
			report.DegradedCount++
			reason := "degraded answer"
			if rec.ErrorKind != "" {
				reason = fmt.Sprintf("degraded answer (%s)", rec.ErrorKind)
			}
			report.ProblemQueries = append(report.ProblemQueries, ProblemQuery{
				Question:  rec.Question,
				Reason:    reason,
				Timestamp: rec.Timestamp,
			})
		}
	}

	total := float64(report.TotalChats)
	report.NoMatchRate = float64(report.NoMatchCount) / total
	report.AvgItemsFound = float64(totalItems) / total
	report.FollowupFailureRate = float64(report.FollowupFailures) / total
	report.Recommendations = recommendations(report)
	return report
}

// recommendations derives operator guidance from the aggregates, in a fixed
// order so reports stay deterministic.
func recommendations(r Report) []string {
	var recs []string
	if r.NoMatchRate > 0.3 {
		recs = append(recs, fmt.Sprintf(
			"No-match rate is %.0f%%; review flagged queries for catalog gaps or consider lowering the relevance floor.",
			r.NoMatchRate*100))
	}
	if r.FollowupFailures > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d follow-up(s) ended in no-match; check that answers keep naming CodeBundles in bold so follow-up extraction works.",
			r.FollowupFailures))
	}
	if r.DegradedCount > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d response(s) were degraded; check embedding and completion backend health.",
			r.DegradedCount))
	}
	if r.AvgItemsFound < 1 {
		recs = append(recs, "Average retrieval yield is below one item per query; the corpus may be stale or the floor too high.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Quality looks healthy in this window.")
	}
	return recs
}
