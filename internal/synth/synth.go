// Package synth turns retrieval results and conversation context into a
// grounded natural-language answer.
//
// The synthesizer depends on an abstract Completer rather than a vendor SDK,
// so the retry and fallback behavior is testable with fakes. Its one hard
// invariant: during a follow-up it never declares "no match" just because the
// fresh retrieval came back empty — the conversation history is consulted
// first.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codecollection/bundlesearch/internal/conversation"
	"github.com/codecollection/bundlesearch/internal/log"
	"github.com/codecollection/bundlesearch/internal/retrieve"
)

// NoMatchMarker is the sentinel the model is instructed to emit when nothing
// in the provided context answers the question. Its presence (and nothing
// else usable) flips the response to no-match.
const NoMatchMarker = "NO_MATCHING_CODEBUNDLE"

// ReformulationHint accompanies every genuine no-match answer so the user is
// never left with a bare refusal.
const ReformulationHint = "Try rephrasing with the platform (Kubernetes, AWS, Azure, GCP) " +
	"or the symptom you are investigating, and I will search the catalog again."

// ErrUnavailable marks completion-backend failures that survived the retry.
// The synthesizer absorbs it into a templated fallback answer; the sentinel
// exists so callers can record the degradation in telemetry.
var ErrUnavailable = errors.New("synthesis backend unavailable")

// Completer is the injected completion capability. Implementations must obey
// ctx cancellation; the synthesizer adds its own per-attempt timeout.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config holds synthesizer tuning. Zero values get defaults from New.
type Config struct {
	// AttemptTimeout bounds a single completion call, distinct from the
	// overall request deadline.
	AttemptTimeout time.Duration

	// RetryBackoff is the pause before the single retry attempt.
	RetryBackoff time.Duration

	// HistoryWindow is how many trailing turns are included in a
	// follow-up prompt.
	HistoryWindow int
}

// Result is the synthesized answer plus its structured quality signals.
type Result struct {
	Answer     string
	NoMatch    bool
	Confidence float64
	// HasConfidence distinguishes "confidence 0" from "no grounding signal
	// at all" (the contract allows confidence to be absent).
	HasConfidence bool
	// Degraded is true when the completion backend failed and the answer
	// was templated from retrieval results instead.
	Degraded bool

	// Prompts as sent, retained for telemetry traces.
	SystemPrompt string
	UserPrompt   string
}

// Synthesizer builds grounded prompts and interprets model output.
type Synthesizer struct {
	completer Completer
	cfg       Config
	logger    log.Logger
}

// New creates a Synthesizer.
func New(completer Completer, cfg Config, logger log.Logger) (*Synthesizer, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 8 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 6
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Synthesizer{completer: completer, cfg: cfg, logger: logger}, nil
}

// Synthesize produces an answer for the classified question and retrieval
// results. It never returns an empty Result alongside a nil error: backend
// failure degrades to a templated answer and reports ErrUnavailable so the
// caller can flag the response, while still receiving something usable.
func (s *Synthesizer) Synthesize(ctx context.Context, qc conversation.Context, retrieved []retrieve.Item) (Result, error) {
	system := s.buildSystemPrompt(qc)
	user := s.buildUserPrompt(qc, retrieved)

	text, err := s.completeWithRetry(ctx, system, user)
	if err != nil {
		// Outright cancellation is not a degraded-answer case; the
		// caller abandoned the request and gets nothing partial.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Warn("completion failed after retry, using templated fallback", "error", err)
		res := s.fallbackResult(qc, retrieved)
		res.SystemPrompt = system
		res.UserPrompt = user
		return res, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res := s.interpret(qc, retrieved, text)
	res.SystemPrompt = system
	res.UserPrompt = user
	return res, nil
}

// completeWithRetry calls the completer with a per-attempt timeout and
// retries exactly once after a backoff.
func (s *Synthesizer) completeWithRetry(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.cfg.RetryBackoff):
			}
			s.logger.Debug("retrying completion", "backoff", s.cfg.RetryBackoff)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		text, err := s.completer.Complete(attemptCtx, system, user)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// interpret parses the model text into a Result, enforcing the follow-up
// non-contradiction invariant and deriving confidence from retrieval scores
// rather than the model's self-report.
func (s *Synthesizer) interpret(qc conversation.Context, retrieved []retrieve.Item, text string) Result {
	hasMarker := strings.Contains(text, NoMatchMarker)
	answer := strings.TrimSpace(strings.ReplaceAll(text, NoMatchMarker, ""))

	if hasMarker {
		// A follow-up with a known subject can always be answered from
		// history; the model contradicting itself between turns is the
		// exact failure this path exists to suppress.
		if qc.IsFollowup && qc.FocusedSubject != "" {
			if answer == "" {
				answer = subjectAnswer(qc.FocusedSubject, retrieved)
			}
			res := Result{Answer: answer, NoMatch: false}
			res.Confidence, res.HasConfidence = groundingConfidence(answer, retrieved)
			return res
		}
		if answer == "" {
			answer = "I could not find a CodeBundle matching that question. " + ReformulationHint
		}
		return Result{Answer: answer, NoMatch: true}
	}

	if answer == "" {
		// Empty model output without the marker: fall back rather than
		// returning a blank answer.
		return s.fallbackResult(qc, retrieved)
	}

	res := Result{Answer: answer}
	res.Confidence, res.HasConfidence = groundingConfidence(answer, retrieved)
	return res
}

// fallbackResult builds a mechanical answer when the model is unusable.
func (s *Synthesizer) fallbackResult(qc conversation.Context, retrieved []retrieve.Item) Result {
	if len(retrieved) > 0 {
		var b strings.Builder
		b.WriteString("Here are the CodeBundles matching your question:\n")
		for _, item := range retrieved {
			fmt.Fprintf(&b, "- **%s**", item.Name)
			if item.Description != "" {
				fmt.Fprintf(&b, " — %s", item.Description)
			}
			if item.SourceURL != "" {
				fmt.Fprintf(&b, " (%s)", item.SourceURL)
			}
			b.WriteString("\n")
		}
		res := Result{Answer: b.String(), Degraded: true}
		res.Confidence, res.HasConfidence = groundingConfidence(res.Answer, retrieved)
		return res
	}

	if qc.IsFollowup && qc.FocusedSubject != "" {
		return Result{
			Answer:   subjectAnswer(qc.FocusedSubject, nil),
			Degraded: true,
		}
	}

	return Result{
		Answer:   "I could not find a CodeBundle matching that question. " + ReformulationHint,
		NoMatch:  true,
		Degraded: true,
	}
}

// subjectAnswer re-affirms a previously recommended bundle from history when
// fresh retrieval has nothing to add.
func subjectAnswer(subject string, retrieved []retrieve.Item) string {
	for _, item := range retrieved {
		if strings.EqualFold(item.Name, subject) || strings.EqualFold(item.ID, subject) {
			if item.SourceURL != "" {
				return fmt.Sprintf("**%s** is the CodeBundle I recommended earlier. You can find it at %s.", item.Name, item.SourceURL)
			}
			return fmt.Sprintf("**%s** is the CodeBundle I recommended earlier: %s", item.Name, item.Description)
		}
	}
	return fmt.Sprintf("**%s** is the CodeBundle I recommended earlier in this conversation.", subject)
}

// groundingConfidence derives confidence from the relevance of the items the
// answer actually references: the maximum referenced score, or the top
// result's score when the answer names none of them. No items means no
// signal, reported as absent.
func groundingConfidence(answer string, retrieved []retrieve.Item) (float64, bool) {
	if len(retrieved) == 0 {
		return 0, false
	}

	lower := strings.ToLower(answer)
	best := -1.0
	for _, item := range retrieved {
		if item.Name != "" && strings.Contains(lower, strings.ToLower(item.Name)) {
			if item.Relevance > best {
				best = item.Relevance
			}
		}
	}
	if best >= 0 {
		return best, true
	}
	return retrieved[0].Relevance, true
}
