package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// Diagnosis is the result of running a question through the full pipeline
// with the trace exposed, for debugging retrieval and prompt quality.
type Diagnosis struct {
	Response        Response         `json:"response"`
	Trace           telemetry.Record `json:"trace"`
	Issues          []string         `json:"issues_detected"`
	Recommendations []string         `json:"recommendations"`
}

// DryRun answers the question exactly as Ask does, including the telemetry
// record, and additionally returns the trace with detected quality issues.
func (o *Orchestrator) DryRun(ctx context.Context, req Request) (Diagnosis, error) {
	resp, rec, err := o.run(ctx, req)
	if err != nil {
		return Diagnosis{}, err
	}
	o.record(rec)

	issues, recommendations := diagnose(resp, rec)
	return Diagnosis{
		Response:        resp,
		Trace:           rec,
		Issues:          issues,
		Recommendations: recommendations,
	}, nil
}

// diagnose inspects one trace for known failure shapes. Issues and
// recommendations are emitted in a fixed order so repeated runs compare
// cleanly.
func diagnose(resp Response, rec telemetry.Record) (issues, recommendations []string) {
	issues = []string{}
	recommendations = []string{}

	if rec.ErrorKind != "" {
		issues = append(issues, fmt.Sprintf("backend failure absorbed: %s", rec.ErrorKind))
		recommendations = append(recommendations, "check backend availability and circuit breaker state")
	}
	if rec.Degraded {
		issues = append(issues, "answer was generated from a template, not the language model")
		recommendations = append(recommendations, "inspect language model connectivity and rate limits")
	}
	if rec.NoMatch && !rec.IsFollowup {
		issues = append(issues, "no relevant CodeBundle found for a fresh question")
		recommendations = append(recommendations, "verify the corpus covers this topic or lower the relevance floor")
	}
	if rec.NoMatch && rec.IsFollowup {
		issues = append(issues, "follow-up resolved to no match despite prior conversation")
		recommendations = append(recommendations, "check that assistant answers name CodeBundles in bold so follow-ups can lock onto them")
	}
	if len(rec.Retrieved) == 0 && rec.Mode == "semantic" && rec.ErrorKind == "" {
		issues = append(issues, "semantic search returned nothing above the relevance floor")
		recommendations = append(recommendations, "rephrase the question with more specific terms")
	}
	if rec.HasConfidence && rec.Confidence < 0.5 && !rec.NoMatch {
		issues = append(issues, fmt.Sprintf("low grounding confidence (%.2f)", rec.Confidence))
		recommendations = append(recommendations, "retrieved items may be tangential, review their descriptions")
	}
	if !rec.NoMatch && len(rec.Retrieved) > 0 && !answerNamesItem(resp.Answer, rec) {
		issues = append(issues, "answer does not name any retrieved CodeBundle")
		recommendations = append(recommendations, "review the synthesis prompt, the answer may be drifting from retrieval")
	}
	return issues, recommendations
}

// answerNamesItem reports whether the answer text mentions at least one
// retrieved item by name.
func answerNamesItem(answer string, rec telemetry.Record) bool {
	lower := strings.ToLower(answer)
	for _, item := range rec.Retrieved {
		if item.Name != "" && strings.Contains(lower, strings.ToLower(item.Name)) {
			return true
		}
	}
	return false
}
