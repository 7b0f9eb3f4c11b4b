package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/codecollection/bundlesearch/internal/conversation"
	"github.com/codecollection/bundlesearch/internal/retrieve"
	"github.com/codecollection/bundlesearch/internal/synth"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

type fakeRetriever struct {
	searchItems []retrieve.Item
	searchErr   error
	lookupItem  retrieve.Item
	lookupFound bool
	lookupErr   error

	searchCalls int
	lookupCalls int
	lastQuery   string
	lastK       int
	lastKey     string
}

func (f *fakeRetriever) Search(_ context.Context, query string, k int) ([]retrieve.Item, error) {
	f.searchCalls++
	f.lastQuery = query
	f.lastK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchItems, nil
}

func (f *fakeRetriever) Lookup(_ context.Context, key string) (retrieve.Item, bool, error) {
	f.lookupCalls++
	f.lastKey = key
	if f.lookupErr != nil {
		return retrieve.Item{}, false, f.lookupErr
	}
	return f.lookupItem, f.lookupFound, nil
}

type fakeSynth struct {
	result synth.Result
	err    error

	calls    int
	gotQC    conversation.Context
	gotItems []retrieve.Item
}

func (f *fakeSynth) Synthesize(_ context.Context, qc conversation.Context, retrieved []retrieve.Item) (synth.Result, error) {
	f.calls++
	f.gotQC = qc
	f.gotItems = retrieved
	return f.result, f.err
}

func newTestOrchestrator(t *testing.T, r Retriever, s Synthesizer) (*Orchestrator, *telemetry.Log) {
	t.Helper()
	traces := telemetry.NewLog(telemetry.DefaultCapacity)
	o, err := New(r, s, traces, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, traces
}

func bundleItem(name string, relevance float64) retrieve.Item {
	return retrieve.Item{
		ID:        name,
		Name:      name,
		Platform:  "kubernetes",
		Relevance: relevance,
		Rank:      1,
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	r := &fakeRetriever{}
	s := &fakeSynth{}
	o, traces := newTestOrchestrator(t, r, s)

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := o.Ask(context.Background(), Request{Question: q}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("question %q: got %v, want ErrInvalidRequest", q, err)
		}
	}
	if r.searchCalls != 0 || s.calls != 0 {
		t.Error("rejected requests must not reach the backends")
	}
	if traces.Len() != 0 {
		t.Errorf("rejected requests must not be recorded, log has %d", traces.Len())
	}
}

func TestAskSemanticHappyPath(t *testing.T) {
	items := []retrieve.Item{bundleItem("k8s-deployment-healthcheck", 0.9)}
	r := &fakeRetriever{searchItems: items}
	s := &fakeSynth{result: synth.Result{
		Answer:        "Use **k8s-deployment-healthcheck**.",
		Confidence:    0.9,
		HasConfidence: true,
	}}
	o, traces := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{
		Question:     "how do I check deployment health?",
		ContextLimit: 7,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if r.lastK != 7 {
		t.Errorf("search k = %d, want the request's context limit 7", r.lastK)
	}
	if resp.NoMatch {
		t.Error("NoMatch = true on a successful answer")
	}
	if len(resp.RelevantTasks) != 1 {
		t.Fatalf("RelevantTasks = %d, want 1", len(resp.RelevantTasks))
	}
	if resp.Confidence == nil || *resp.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", resp.Confidence)
	}
	wantSources := map[string]bool{SourceLanguageModel: true, SourceSemanticSearch: true}
	if len(resp.SourcesUsed) != len(wantSources) {
		t.Fatalf("SourcesUsed = %v", resp.SourcesUsed)
	}
	for _, src := range resp.SourcesUsed {
		if !wantSources[src] {
			t.Errorf("unexpected source %q", src)
		}
	}
	if resp.Metadata.IsFollowup {
		t.Error("fresh question flagged as follow-up")
	}
	if resp.Metadata.PlatformDetected != "kubernetes" {
		t.Errorf("PlatformDetected = %q", resp.Metadata.PlatformDetected)
	}
	if resp.Metadata.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}

	if traces.Len() != 1 {
		t.Fatalf("telemetry records = %d, want exactly 1", traces.Len())
	}
	rec := traces.Recent(1, telemetry.FilterAll, telemetry.SortNewest)[0]
	if rec.Mode != "semantic" || rec.NoMatch || len(rec.Retrieved) != 1 {
		t.Errorf("trace %+v does not reflect the request", rec)
	}
}

func TestAskNoMatchClearsTasks(t *testing.T) {
	items := []retrieve.Item{bundleItem("unrelated-bundle", 0.4)}
	r := &fakeRetriever{searchItems: items}
	s := &fakeSynth{result: synth.Result{
		Answer:  "I could not find a CodeBundle matching that question.",
		NoMatch: true,
	}}
	o, _ := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{Question: "quantum gardening tips"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.NoMatch {
		t.Fatal("NoMatch = false")
	}
	if len(resp.RelevantTasks) != 0 {
		t.Errorf("no-match response carries %d tasks, want none", len(resp.RelevantTasks))
	}
	if resp.Confidence != nil {
		t.Error("no-match response must not carry a confidence score")
	}
}

func TestAskFocusedFollowupUsesLookup(t *testing.T) {
	item := bundleItem("k8s-deployment-healthcheck", 1.0)
	r := &fakeRetriever{lookupItem: item, lookupFound: true}
	s := &fakeSynth{result: synth.Result{
		Answer:        "**k8s-deployment-healthcheck** lives at https://example.com.",
		Confidence:    1.0,
		HasConfidence: true,
	}}
	o, _ := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{
		Question: "show me the link for this codebundle",
		History: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "deployment health?"},
			{Role: conversation.RoleAssistant, Content: "Use **k8s-deployment-healthcheck**."},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if r.lookupCalls != 1 || r.lastKey != "k8s-deployment-healthcheck" {
		t.Errorf("lookup calls=%d key=%q", r.lookupCalls, r.lastKey)
	}
	if r.searchCalls != 0 {
		t.Error("a successful lookup must not trigger a semantic search")
	}
	if !resp.Metadata.IsFollowup {
		t.Error("IsFollowup = false")
	}
	if len(resp.RelevantTasks) != 1 || resp.RelevantTasks[0].Name != item.Name {
		t.Errorf("RelevantTasks = %+v", resp.RelevantTasks)
	}
	if !hasSource(resp.SourcesUsed, SourceFocusedLookup) || !hasSource(resp.SourcesUsed, SourceConversationHistory) {
		t.Errorf("SourcesUsed = %v", resp.SourcesUsed)
	}
	if s.gotQC.Mode != conversation.ModeFocused {
		t.Errorf("synth saw mode %v, want focused", s.gotQC.Mode)
	}
}

func TestAskFocusedLookupMissFallsBackToNarrowSearch(t *testing.T) {
	r := &fakeRetriever{
		lookupFound: false,
		searchItems: []retrieve.Item{bundleItem("replacement-bundle", 0.6)},
	}
	s := &fakeSynth{result: synth.Result{Answer: "Try **replacement-bundle**.", Confidence: 0.6, HasConfidence: true}}
	o, _ := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{
		Question: "tell me more about that bundle",
		History: []conversation.Turn{
			{Role: conversation.RoleAssistant, Content: "Use **vanished-bundle**."},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if r.lookupCalls != 1 || r.searchCalls != 1 {
		t.Fatalf("lookup=%d search=%d, want one each", r.lookupCalls, r.searchCalls)
	}
	if r.lastK != followupTopK {
		t.Errorf("fallback search k = %d, want %d", r.lastK, followupTopK)
	}
	if !hasSource(resp.SourcesUsed, SourceSemanticSearch) {
		t.Errorf("SourcesUsed = %v, want semantic search after lookup miss", resp.SourcesUsed)
	}
}

func TestAskRetrievalDownFreshQuery(t *testing.T) {
	r := &fakeRetriever{searchErr: retrieve.ErrUnavailable}
	s := &fakeSynth{}
	o, traces := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{Question: "deployment health?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if s.calls != 0 {
		t.Error("fresh query with search down must not invoke synthesis")
	}
	if !resp.NoMatch {
		t.Error("NoMatch = false")
	}
	if !strings.Contains(resp.Answer, "temporarily unavailable") {
		t.Errorf("answer %q does not tell the user search is down", resp.Answer)
	}
	if len(resp.SourcesUsed) != 0 {
		t.Errorf("SourcesUsed = %v, want none", resp.SourcesUsed)
	}

	rec := traces.Recent(1, telemetry.FilterAll, telemetry.SortNewest)[0]
	if rec.ErrorKind != errKindRetrievalUnavailable || !rec.Degraded {
		t.Errorf("trace error_kind=%q degraded=%v", rec.ErrorKind, rec.Degraded)
	}
}

func TestAskRetrievalDownFollowupAnswersFromHistory(t *testing.T) {
	r := &fakeRetriever{
		lookupErr: retrieve.ErrUnavailable,
		searchErr: retrieve.ErrUnavailable,
	}
	s := &fakeSynth{result: synth.Result{
		Answer: "**k8s-deployment-healthcheck** is the bundle from earlier.",
	}}
	o, traces := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{
		Question: "how do i use this codebundle?",
		History: []conversation.Turn{
			{Role: conversation.RoleAssistant, Content: "Use **k8s-deployment-healthcheck**."},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if s.calls != 1 {
		t.Fatal("follow-up with search down must still synthesize from history")
	}
	if s.gotQC.Mode != conversation.ModeFollowupContextOnly {
		t.Errorf("synth saw mode %v, want followup_context_only", s.gotQC.Mode)
	}
	if len(s.gotItems) != 0 {
		t.Errorf("synth received %d items, want none", len(s.gotItems))
	}
	if resp.NoMatch {
		t.Error("history-only follow-up answer flagged no-match")
	}
	if hasSource(resp.SourcesUsed, SourceSemanticSearch) || hasSource(resp.SourcesUsed, SourceFocusedLookup) {
		t.Errorf("SourcesUsed = %v claims retrieval that never happened", resp.SourcesUsed)
	}
	if !hasSource(resp.SourcesUsed, SourceConversationHistory) {
		t.Errorf("SourcesUsed = %v, want conversation history", resp.SourcesUsed)
	}

	rec := traces.Recent(1, telemetry.FilterAll, telemetry.SortNewest)[0]
	if rec.Mode != "followup_context_only" || rec.ErrorKind != errKindRetrievalUnavailable {
		t.Errorf("trace mode=%q error_kind=%q", rec.Mode, rec.ErrorKind)
	}
}

func TestAskSynthesisDownDegradesGracefully(t *testing.T) {
	items := []retrieve.Item{bundleItem("alpha-bundle", 0.8)}
	r := &fakeRetriever{searchItems: items}
	s := &fakeSynth{
		result: synth.Result{
			Answer:        "Here are the CodeBundles matching your question:\n- **alpha-bundle**\n",
			Degraded:      true,
			Confidence:    0.8,
			HasConfidence: true,
		},
		err: synth.ErrUnavailable,
	}
	o, traces := newTestOrchestrator(t, r, s)

	resp, err := o.Ask(context.Background(), Request{Question: "alpha things"})
	if err != nil {
		t.Fatalf("Ask must absorb synthesis unavailability, got %v", err)
	}
	if resp.Answer == "" {
		t.Fatal("degraded response has no answer")
	}
	if hasSource(resp.SourcesUsed, SourceLanguageModel) {
		t.Errorf("SourcesUsed = %v claims the language model during a templated fallback", resp.SourcesUsed)
	}
	if len(resp.RelevantTasks) != 1 {
		t.Errorf("RelevantTasks = %d, want retrieval results preserved", len(resp.RelevantTasks))
	}

	rec := traces.Recent(1, telemetry.FilterAll, telemetry.SortNewest)[0]
	if !rec.Degraded || rec.ErrorKind != errKindSynthesisUnavailable {
		t.Errorf("trace degraded=%v error_kind=%q", rec.Degraded, rec.ErrorKind)
	}
}

func TestAskPropagatesCancellation(t *testing.T) {
	r := &fakeRetriever{searchItems: []retrieve.Item{bundleItem("alpha-bundle", 0.8)}}
	s := &fakeSynth{err: context.Canceled}
	o, traces := newTestOrchestrator(t, r, s)

	_, err := o.Ask(context.Background(), Request{Question: "alpha things"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if traces.Len() != 0 {
		t.Errorf("cancelled request recorded %d traces, want none", traces.Len())
	}
}

func TestAskRecordsExactlyOnce(t *testing.T) {
	r := &fakeRetriever{searchItems: []retrieve.Item{bundleItem("alpha-bundle", 0.8)}}
	s := &fakeSynth{result: synth.Result{Answer: "Use **alpha-bundle**.", Confidence: 0.8, HasConfidence: true}}
	o, traces := newTestOrchestrator(t, r, s)

	const calls = 5
	for i := 0; i < calls; i++ {
		if _, err := o.Ask(context.Background(), Request{Question: "alpha things"}); err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
	}
	if traces.Len() != calls {
		t.Errorf("telemetry records = %d, want %d", traces.Len(), calls)
	}
}

func TestDetectPlatformFromHistory(t *testing.T) {
	qc := conversation.Context{
		Question: "why is my cluster flapping?",
		History: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "I run everything on K8s."},
		},
	}
	if got := detectPlatform(nil, qc); got != "kubernetes" {
		t.Errorf("detectPlatform = %q, want kubernetes", got)
	}

	qc.History = nil
	qc.Question = "anything odd in my AWS bill?"
	if got := detectPlatform(nil, qc); got != "aws" {
		t.Errorf("detectPlatform = %q, want aws", got)
	}
	qc.Question = "nothing platform specific"
	if got := detectPlatform(nil, qc); got != "" {
		t.Errorf("detectPlatform = %q, want empty", got)
	}
}

func TestDryRunFlagsNoMatch(t *testing.T) {
	r := &fakeRetriever{}
	s := &fakeSynth{result: synth.Result{
		Answer:  "I could not find a CodeBundle matching that question.",
		NoMatch: true,
	}}
	o, traces := newTestOrchestrator(t, r, s)

	diag, err := o.DryRun(context.Background(), Request{Question: "quantum gardening tips"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if !diag.Response.NoMatch {
		t.Fatal("diagnosis response lost the no-match flag")
	}
	if len(diag.Issues) == 0 {
		t.Fatal("no issues detected for a fresh no-match")
	}
	if len(diag.Recommendations) != len(diag.Issues) {
		t.Errorf("issues=%d recommendations=%d, want one recommendation per issue",
			len(diag.Issues), len(diag.Recommendations))
	}
	if diag.Trace.Question != "quantum gardening tips" {
		t.Errorf("trace question = %q", diag.Trace.Question)
	}
	if traces.Len() != 1 {
		t.Errorf("DryRun recorded %d traces, want 1", traces.Len())
	}
}

func TestDryRunCleanRunHasNoIssues(t *testing.T) {
	items := []retrieve.Item{bundleItem("alpha-bundle", 0.9)}
	r := &fakeRetriever{searchItems: items}
	s := &fakeSynth{result: synth.Result{
		Answer:        "Use **alpha-bundle**.",
		Confidence:    0.9,
		HasConfidence: true,
	}}
	o, _ := newTestOrchestrator(t, r, s)

	diag, err := o.DryRun(context.Background(), Request{Question: "alpha things"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if len(diag.Issues) != 0 {
		t.Errorf("clean run reported issues: %v", diag.Issues)
	}
}

func hasSource(sources []string, want string) bool {
	for _, s := range sources {
		if s == want {
			return true
		}
	}
	return false
}
