// Package pipeline sequences one catalog question through classification,
// retrieval and synthesis, and assembles the response contract.
//
// The orchestrator is stateless across requests: conversation history
// arrives with each call and nothing is held between them, so any number of
// instances can serve traffic. Its external contract is "always answer
// something coherent" — of the whole error taxonomy, only an empty question
// is a hard rejection; every backend failure is absorbed into a still-valid,
// flagged response.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/codecollection/bundlesearch/internal/conversation"
	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/retrieve"
	"github.com/codecollection/bundlesearch/internal/synth"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// ErrInvalidRequest rejects an empty or whitespace question before any
// backend call. It is the only error Ask returns for bad input.
var ErrInvalidRequest = errors.New("question must not be empty")

// Source labels for ChatResponse.SourcesUsed.
const (
	SourceSemanticSearch      = "semantic_search"
	SourceFocusedLookup       = "focused_lookup"
	SourceConversationHistory = "conversation_history"
	SourceLanguageModel       = "language_model"
)

// Error kinds recorded in telemetry when a failure is absorbed.
const (
	errKindRetrievalUnavailable = "retrieval_unavailable"
	errKindSynthesisUnavailable = "synthesis_unavailable"
)

// followupTopK is the smaller retrieval breadth for the secondary search
// when a focused lookup misses.
const followupTopK = 3

// Request is the one logical call into the core.
type Request struct {
	Question     string              `json:"question"`
	ContextLimit int                 `json:"context_limit,omitempty"`
	History      []conversation.Turn `json:"conversation_history,omitempty"`
}

// QueryMetadata annotates a response with classification results.
type QueryMetadata struct {
	IsFollowup       bool      `json:"is_followup"`
	PlatformDetected string    `json:"platform_detected,omitempty"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// Response is the contract returned to the caller.
//
// Invariants: NoMatch == true implies RelevantTasks is empty; a follow-up
// with an empty RelevantTasks and NoMatch == false is the valid
// "answered from conversation context alone" state.
type Response struct {
	Answer        string          `json:"answer"`
	NoMatch       bool            `json:"no_match"`
	RelevantTasks []retrieve.Item `json:"relevant_tasks"`
	Confidence    *float64        `json:"confidence_score,omitempty"`
	SourcesUsed   []string        `json:"sources_used"`
	Metadata      QueryMetadata   `json:"query_metadata"`
}

// Retriever is the slice of the retrieval API the orchestrator consumes.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]retrieve.Item, error)
	Lookup(ctx context.Context, key string) (retrieve.Item, bool, error)
}

// Synthesizer is the slice of the synthesis API the orchestrator consumes.
type Synthesizer interface {
	Synthesize(ctx context.Context, qc conversation.Context, retrieved []retrieve.Item) (synth.Result, error)
}

// Orchestrator runs the per-request state machine.
type Orchestrator struct {
	retriever Retriever
	synth     Synthesizer
	traces    *telemetry.Log
	logger    log.Logger
}

// New creates an Orchestrator.
func New(retriever Retriever, synthesizer Synthesizer, traces *telemetry.Log, logger log.Logger) (*Orchestrator, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if traces == nil {
		return nil, errors.New("telemetry log is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		retriever: retriever,
		synth:     synthesizer,
		traces:    traces,
		logger:    logger,
	}, nil
}

// Ask answers one question. Every call that passes input validation produces
// exactly one telemetry record, including degraded outcomes.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Response, error) {
	resp, rec, err := o.run(ctx, req)
	if err != nil {
		return Response{}, err
	}
	o.record(rec)
	return resp, nil
}

// run executes the state machine and returns the response together with its
// telemetry record, letting DryRun inspect the trace without re-querying the
// log.
func (o *Orchestrator) run(ctx context.Context, req Request) (Response, telemetry.Record, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, telemetry.Record{}, ErrInvalidRequest
	}

	// Classify.
	qc := conversation.Classify(question, req.History)
	o.logger.Debug("classified question",
		"is_followup", qc.IsFollowup,
		"mode", qc.Mode.String(),
		"subject", qc.FocusedSubject)

	rec := telemetry.Record{
		Question:       question,
		HistoryLen:     len(req.History),
		IsFollowup:     qc.IsFollowup,
		FocusedSubject: qc.FocusedSubject,
		Timestamp:      start,
	}

	// Retrieve.
	retrieved, sources, errKind := o.retrieveFor(ctx, &qc, question, req.ContextLimit)
	rec.Mode = qc.Mode.String()

	if errKind == errKindRetrievalUnavailable && !qc.IsFollowup {
		// Fresh query with the search backend down: no history to lean
		// on, so answer honestly without inventing results.
		resp := Response{
			Answer: "Catalog search is temporarily unavailable. Please try again in a moment. " +
				synth.ReformulationHint,
			NoMatch:     true,
			SourcesUsed: []string{},
			Metadata: QueryMetadata{
				IsFollowup:  false,
				ProcessedAt: time.Now().UTC(),
			},
		}
		rec.Answer = resp.Answer
		rec.NoMatch = true
		rec.Degraded = true
		rec.ErrorKind = errKind
		rec.Duration = time.Since(start)
		return resp, rec, nil
	}

	// Synthesize. Retrieval is complete (or abandoned) by now; the prompt
	// depends on its output, so there is no overlap between the two.
	result, synthErr := o.synth.Synthesize(ctx, qc, retrieved)
	if synthErr != nil {
		if !errors.Is(synthErr, synth.ErrUnavailable) {
			// Cancellation or deadline: all-or-nothing, no partial
			// response.
			return Response{}, telemetry.Record{}, synthErr
		}
		if errKind == "" {
			errKind = errKindSynthesisUnavailable
		}
	}
	if result.Degraded {
		// Templated fallback, no narrative synthesis.
		sources = removeSource(sources, SourceLanguageModel)
	}

	// Assemble.
	tasks := retrieved
	if result.NoMatch {
		tasks = nil
	}
	resp := Response{
		Answer:        result.Answer,
		NoMatch:       result.NoMatch,
		RelevantTasks: tasks,
		SourcesUsed:   sources,
		Metadata: QueryMetadata{
			IsFollowup:       qc.IsFollowup,
			PlatformDetected: detectPlatform(retrieved, qc),
			ProcessedAt:      time.Now().UTC(),
		},
	}
	if result.HasConfidence && !result.NoMatch {
		confidence := result.Confidence
		resp.Confidence = &confidence
	}

	rec.Retrieved = retrieved
	rec.SystemPrompt = result.SystemPrompt
	rec.UserPrompt = result.UserPrompt
	rec.Answer = result.Answer
	rec.NoMatch = result.NoMatch
	rec.Confidence = result.Confidence
	rec.HasConfidence = result.HasConfidence
	rec.Degraded = result.Degraded
	rec.ErrorKind = errKind
	rec.Duration = time.Since(start)
	return resp, rec, nil
}

// retrieveFor runs the per-mode retrieval handler. Retrieval failure is
// absorbed: a follow-up shifts to history-only answering, a fresh query is
// reported via the returned error kind. The returned sources reflect what
// actually contributed.
func (o *Orchestrator) retrieveFor(ctx context.Context, qc *conversation.Context, question string, limit int) ([]retrieve.Item, []string, string) {
	sources := []string{SourceLanguageModel}
	if qc.IsFollowup {
		sources = append(sources, SourceConversationHistory)
	}

	switch qc.Mode {
	case conversation.ModeFocused:
		item, found, err := o.retriever.Lookup(ctx, qc.FocusedSubject)
		if err != nil {
			o.logger.Warn("focused lookup unavailable, answering from history",
				"subject", qc.FocusedSubject, "error", err)
			qc.Mode = conversation.ModeFollowupContextOnly
			return nil, sources, errKindRetrievalUnavailable
		}
		if found {
			return []retrieve.Item{item}, append(sources, SourceFocusedLookup), ""
		}
		// The bundle vanished from the corpus between turns; fall back
		// to a narrow semantic search merged with history context.
		items, err := o.retriever.Search(ctx, question, followupTopK)
		if err != nil {
			qc.Mode = conversation.ModeFollowupContextOnly
			return nil, sources, errKindRetrievalUnavailable
		}
		return items, append(sources, SourceSemanticSearch), ""

	case conversation.ModeFollowupContextOnly:
		return nil, sources, ""

	default: // ModeSemantic, both fresh queries and degraded follow-ups
		items, err := o.retriever.Search(ctx, question, limit)
		if err != nil {
			o.logger.Warn("semantic search unavailable", "error", err)
			if qc.IsFollowup {
				qc.Mode = conversation.ModeFollowupContextOnly
			}
			return nil, sources, errKindRetrievalUnavailable
		}
		return items, append(sources, SourceSemanticSearch), ""
	}
}

// record logs the trace without ever failing or delaying the response.
func (o *Orchestrator) record(rec telemetry.Record) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("telemetry recording panicked", "panic", r)
		}
	}()
	o.traces.Add(rec)
}

// removeSource drops one label from a sources list.
func removeSource(sources []string, drop string) []string {
	kept := sources[:0]
	for _, s := range sources {
		if s != drop {
			kept = append(kept, s)
		}
	}
	return kept
}

// platformKeywords maps question/history tokens to platform labels for
// detection when retrieval yields nothing. Ordered so detection is
// deterministic when several platforms are mentioned.
var platformKeywords = []struct {
	keyword  string
	platform string
}{
	{"kubernetes", "kubernetes"},
	{"k8s", "kubernetes"},
	{"aws", "aws"},
	{"azure", "azure"},
	{"gcp", "gcp"},
}

// detectPlatform prefers the top retrieved item's metadata and falls back to
// scanning the question and history.
func detectPlatform(retrieved []retrieve.Item, qc conversation.Context) string {
	for _, item := range retrieved {
		if item.Platform != "" {
			return item.Platform
		}
	}

	haystack := strings.ToLower(qc.Question)
	for _, turn := range qc.History {
		haystack += " " + strings.ToLower(turn.Content)
	}
	for _, entry := range platformKeywords {
		if strings.Contains(haystack, entry.keyword) {
			return entry.platform
		}
	}
	return ""
}
