// Package conversation classifies incoming questions against caller-supplied
// chat history.
//
// The server keeps no conversational state: every request carries its own
// history, and Classify is a pure function of its inputs. This keeps
// classification deterministic and trivially reproducible from a telemetry
// trace.
package conversation

import (
	"regexp"
	"strings"
)

// Turn roles. Callers may send anything; unknown roles are tolerated and
// simply never match the assistant scan.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one caller-supplied conversation entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Mode selects how the orchestrator retrieves for a classified question.
type Mode int

const (
	// ModeSemantic runs a full semantic search over the corpus.
	ModeSemantic Mode = iota

	// ModeFocused looks up a single known CodeBundle by name.
	ModeFocused

	// ModeFollowupContextOnly answers from conversation history alone,
	// without touching the index. Entered by the orchestrator when
	// retrieval is unavailable mid-followup.
	ModeFollowupContextOnly
)

// String returns the mode name for logs and telemetry.
func (m Mode) String() string {
	switch m {
	case ModeSemantic:
		return "semantic"
	case ModeFocused:
		return "focused"
	case ModeFollowupContextOnly:
		return "followup_context_only"
	default:
		return "unknown"
	}
}

// Context is the per-request classification result consumed by the retriever
// and the synthesizer, then discarded.
type Context struct {
	Question       string
	History        []Turn
	IsFollowup     bool
	FocusedSubject string
	Mode           Mode
}

// followupTriggers is the closed vocabulary of phrases that mark a question
// as referring to a previously recommended CodeBundle. Extending the list is
// the supported way to widen follow-up detection; no inference happens here.
var followupTriggers = []string{
	"this codebundle",
	"that codebundle",
	"this bundle",
	"that bundle",
	"this one",
	"that one",
	"show me the link",
	"show me the source",
	"where can i find this",
	"where can i find it",
	"how do i use this",
	"how do i use it",
	"how do i run this",
	"how do i run it",
	"tell me more",
	"more about it",
	"more about this",
	"more details",
	"what does it do",
	"link to this",
	"link to it",
}

// Subject extraction parses the formatting the synthesizer itself emits:
// CodeBundle names are always **bolded**, with backticked and double-quoted
// names accepted as fallbacks. This is a closed-loop contract between the
// tracker and the synthesizer, not general entity recognition.
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\*\*([^*\n]+?)\*\*`),
	regexp.MustCompile("`([^`\n]+?)`"),
	regexp.MustCompile(`"([^"\n]+?)"`),
}

// Classify decides whether question continues the supplied history or starts
// fresh. It never fails: a trigger-phrase match without an extractable
// subject degrades to a semantic follow-up rather than erroring.
func Classify(question string, history []Turn) Context {
	qc := Context{
		Question: question,
		History:  history,
		Mode:     ModeSemantic,
	}

	if len(history) == 0 || !matchesTrigger(question) {
		return qc
	}

	qc.IsFollowup = true
	if subject := extractSubject(history); subject != "" {
		qc.FocusedSubject = subject
		qc.Mode = ModeFocused
	}
	return qc
}

// matchesTrigger reports whether the lowercased question contains any
// follow-up trigger phrase.
func matchesTrigger(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, trigger := range followupTriggers {
		if strings.Contains(q, trigger) {
			return true
		}
	}
	return false
}

// extractSubject scans history newest-first for the most recent assistant
// turn naming a CodeBundle. Returns "" when no turn yields a subject.
func extractSubject(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != RoleAssistant {
			continue
		}
		for _, pattern := range subjectPatterns {
			matches := pattern.FindAllStringSubmatch(history[i].Content, -1)
			if len(matches) == 0 {
				continue
			}
			// The last mention is the conversational subject.
			subject := strings.TrimSpace(matches[len(matches)-1][1])
			if subject != "" {
				return subject
			}
		}
	}
	return ""
}
