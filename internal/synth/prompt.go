package synth

import (
	"fmt"
	"strings"

	"github.com/codecollection/bundlesearch/internal/conversation"
	"github.com/codecollection/bundlesearch/internal/retrieve"
)

// buildSystemPrompt writes the role and grounding rules. The bold-name rule
// is load-bearing: the conversation tracker parses **name** out of prior
// assistant turns to resolve follow-up subjects.
func (s *Synthesizer) buildSystemPrompt(qc conversation.Context) string {
	var b strings.Builder

	b.WriteString("You are the assistant for a CodeBundle catalog: a registry of automation ")
	b.WriteString("and troubleshooting scripts for cloud infrastructure.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Only recommend CodeBundles listed in the search results or already discussed in the conversation. Never invent one.\n")
	b.WriteString("- Always write CodeBundle names in bold, exactly as given: **name**.\n")
	b.WriteString("- Keep answers short and practical; include the source link when you have it.\n")

	if qc.IsFollowup {
		b.WriteString("- The user is asking a follow-up about the conversation above. ")
		b.WriteString("Answer from the conversation history first, even if the new search results are empty. ")
		b.WriteString("Never claim a CodeBundle you recommended earlier does not exist.\n")
		b.WriteString(fmt.Sprintf("- Only if neither the search results nor the conversation mention anything relevant, reply with exactly %s.\n", NoMatchMarker))
	} else {
		b.WriteString(fmt.Sprintf("- If none of the search results are relevant to the question, reply with exactly %s.\n", NoMatchMarker))
	}

	return b.String()
}

// buildUserPrompt embeds the retrieved items and, for follow-ups, the
// trailing slice of conversation history.
func (s *Synthesizer) buildUserPrompt(qc conversation.Context, retrieved []retrieve.Item) string {
	var b strings.Builder

	if qc.IsFollowup {
		history := qc.History
		if len(history) > s.cfg.HistoryWindow {
			history = history[len(history)-s.cfg.HistoryWindow:]
		}
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		if qc.FocusedSubject != "" {
			fmt.Fprintf(&b, "\nThe follow-up refers to **%s**.\n", qc.FocusedSubject)
		}
		b.WriteString("\n")
	}

	if len(retrieved) == 0 {
		b.WriteString("Search results: none.\n")
	} else {
		b.WriteString("Search results:\n")
		for _, item := range retrieved {
			fmt.Fprintf(&b, "%d. **%s**", item.Rank, item.Name)
			if item.Platform != "" {
				fmt.Fprintf(&b, " [%s]", item.Platform)
			}
			fmt.Fprintf(&b, " (relevance %.2f)\n", item.Relevance)
			if item.Description != "" {
				fmt.Fprintf(&b, "   %s\n", item.Description)
			}
			if len(item.Tags) > 0 {
				fmt.Fprintf(&b, "   tags: %s\n", strings.Join(item.Tags, ", "))
			}
			if item.SourceURL != "" {
				fmt.Fprintf(&b, "   source: %s\n", item.SourceURL)
			}
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", qc.Question)
	return b.String()
}
