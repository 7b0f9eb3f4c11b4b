package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

type fakePipeline struct {
	resp pipeline.Response
	diag pipeline.Diagnosis
	err  error

	gotReq pipeline.Request
}

func (f *fakePipeline) Ask(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.gotReq = req
	return f.resp, f.err
}

func (f *fakePipeline) DryRun(_ context.Context, req pipeline.Request) (pipeline.Diagnosis, error) {
	f.gotReq = req
	return f.diag, f.err
}

func newTestMCPServer(t *testing.T, fp *fakePipeline, traces *telemetry.Log) *Server {
	t.Helper()
	if traces == nil {
		traces = telemetry.NewLog(telemetry.DefaultCapacity)
	}
	s, err := NewServer(Config{Name: "bundlesearch", Version: "test"}, fp, traces, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) != 1 {
		t.Fatalf("result = %+v, want one content item", result)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type %T, want TextContent", result.Content[0])
	}
	return tc.Text
}

func TestNewServerValidation(t *testing.T) {
	traces := telemetry.NewLog(1)
	fp := &fakePipeline{}

	tests := []struct {
		name string
		cfg  Config
		p    Pipeline
		l    *telemetry.Log
	}{
		{"missing name", Config{Version: "v"}, fp, traces},
		{"missing version", Config{Name: "n"}, fp, traces},
		{"missing pipeline", Config{Name: "n", Version: "v"}, nil, traces},
		{"missing traces", Config{Name: "n", Version: "v"}, fp, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.cfg, tt.p, tt.l, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAskCatalog(t *testing.T) {
	fp := &fakePipeline{resp: pipeline.Response{
		Answer:      "Use **k8s-deployment-healthcheck**.",
		SourcesUsed: []string{"semantic_search", "language_model"},
	}}
	s := newTestMCPServer(t, fp, nil)

	result, _, err := s.AskCatalog(context.Background(), nil, AskCatalogInput{
		Question: "deployment health?",
		History: []Turn{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "Use **k8s-deployment-healthcheck**."},
		},
	})
	if err != nil {
		t.Fatalf("AskCatalog: %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError set: %s", textContent(t, result))
	}

	var resp pipeline.Response
	if err := json.Unmarshal([]byte(textContent(t, result)), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != fp.resp.Answer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(fp.gotReq.History) != 2 || fp.gotReq.History[1].Role != "assistant" {
		t.Errorf("history not forwarded: %+v", fp.gotReq.History)
	}
}

func TestAskCatalogReportsPipelineError(t *testing.T) {
	fp := &fakePipeline{err: errors.New("index offline")}
	s := newTestMCPServer(t, fp, nil)

	result, _, err := s.AskCatalog(context.Background(), nil, AskCatalogInput{Question: "anything"})
	if err != nil {
		t.Fatalf("handled failures must not abort the session: %v", err)
	}
	if !result.IsError {
		t.Fatal("IsError not set")
	}
}

func TestRecentTraces(t *testing.T) {
	traces := telemetry.NewLog(telemetry.DefaultCapacity)
	traces.Add(telemetry.Record{Question: "first", NoMatch: true, Timestamp: time.Now().Add(-time.Minute)})
	traces.Add(telemetry.Record{Question: "second", Timestamp: time.Now()})
	s := newTestMCPServer(t, &fakePipeline{}, traces)

	result, _, err := s.RecentTraces(context.Background(), nil, RecentTracesInput{Filter: "no_match"})
	if err != nil {
		t.Fatalf("RecentTraces: %v", err)
	}

	var records []telemetry.Record
	if err := json.Unmarshal([]byte(textContent(t, result)), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].Question != "first" {
		t.Errorf("records = %+v", records)
	}

	result, _, err = s.RecentTraces(context.Background(), nil, RecentTracesInput{Filter: "bogus"})
	if err != nil {
		t.Fatalf("RecentTraces: %v", err)
	}
	if !result.IsError {
		t.Error("bad filter must produce an error result")
	}
}

func TestQualityReport(t *testing.T) {
	traces := telemetry.NewLog(telemetry.DefaultCapacity)
	traces.Add(telemetry.Record{Question: "q1", NoMatch: true, Timestamp: time.Now()})
	traces.Add(telemetry.Record{Question: "q2", Timestamp: time.Now()})
	s := newTestMCPServer(t, &fakePipeline{}, traces)

	result, _, err := s.QualityReport(context.Background(), nil, QualityReportInput{WindowHours: 1})
	if err != nil {
		t.Fatalf("QualityReport: %v", err)
	}

	var report telemetry.Report
	if err := json.Unmarshal([]byte(textContent(t, result)), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.TotalChats != 2 || report.NoMatchCount != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestDebugQuery(t *testing.T) {
	fp := &fakePipeline{diag: pipeline.Diagnosis{
		Response: pipeline.Response{Answer: "no luck", NoMatch: true},
		Issues:   []string{"no relevant CodeBundle found for a fresh question"},
	}}
	s := newTestMCPServer(t, fp, nil)

	result, _, err := s.DebugQuery(context.Background(), nil, AskCatalogInput{Question: "quantum gardening"})
	if err != nil {
		t.Fatalf("DebugQuery: %v", err)
	}

	var diag pipeline.Diagnosis
	if err := json.Unmarshal([]byte(textContent(t, result)), &diag); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(diag.Issues) != 1 || !diag.Response.NoMatch {
		t.Errorf("diagnosis = %+v", diag)
	}
}
