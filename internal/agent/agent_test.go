package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"paperdesk/internal/papers"
	"paperdesk/internal/session"
	"paperdesk/internal/store"
	"paperdesk/provider"
)

type scriptedLLM struct {
	replies []string
	err     error
	calls   [][]provider.Message
}

func (s *scriptedLLM) Complete(ctx context.Context, system string, messages []provider.Message) (string, error) {
	s.calls = append(s.calls, append([]provider.Message(nil), messages...))
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return `{"answer": "out of script"}`, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type stubSearcher struct {
	results   []papers.Summary
	err       error
	lastQuery string
	lastLimit int
}

func (s *stubSearcher) Search(ctx context.Context, query string, limit int) ([]papers.Summary, error) {
	s.lastQuery = query
	s.lastLimit = limit
	return s.results, s.err
}

type stubRetriever struct {
	matches []store.ChunkMatch
	err     error
}

func (s *stubRetriever) Query(ctx context.Context, text string) ([]store.ChunkMatch, error) {
	return s.matches, s.err
}

type stubIngestor struct {
	msg    string
	err    error
	lastID string
}

func (s *stubIngestor) Ingest(ctx context.Context, paperID string) (string, error) {
	s.lastID = paperID
	return s.msg, s.err
}

type stubRefs struct {
	result papers.ReferenceResult
}

func (s *stubRefs) Resolve(ctx context.Context, paperID string) papers.ReferenceResult {
	return s.result
}

func testToolset() (*Toolset, *stubSearcher, *stubIngestor) {
	searcher := &stubSearcher{}
	ingestor := &stubIngestor{msg: "Paper 'T' has been successfully saved to the database for Q&A."}
	ts := &Toolset{
		Search:      searcher,
		Retriever:   &stubRetriever{},
		Ingestor:    ingestor,
		Refs:        &stubRefs{result: papers.ReferenceResult{Kind: papers.ReferencesNoneFound}},
		SearchLimit: 5,
	}
	return ts, searcher, ingestor
}

func TestRunDirectAnswer(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "Hello! How can I help?"}`}}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	got, err := a.Run(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "Hello! How can I help?" {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(llm.calls) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(llm.calls))
	}
}

func TestRunToolDispatchFoldsObservation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool": "search_papers", "args": {"query": "diffusion models", "results": 2}}`,
		`{"answer": "I found two papers."}`,
	}}
	ts, searcher, _ := testToolset()
	searcher.results = []papers.Summary{{ID: "2301.00001", Title: "Paper One", Summary: "s1"}}
	a := New(llm, ts)

	got, err := a.Run(context.Background(), nil, "find papers about diffusion models")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "I found two papers." {
		t.Fatalf("unexpected answer %q", got)
	}
	if searcher.lastQuery != "diffusion models" || searcher.lastLimit != 2 {
		t.Fatalf("tool args not forwarded: %q %d", searcher.lastQuery, searcher.lastLimit)
	}

	second := llm.calls[1]
	last := second[len(second)-1]
	if last.Role != "user" || !strings.HasPrefix(last.Content, "Observation: ") {
		t.Fatalf("expected observation message, got %+v", last)
	}
	if !strings.Contains(last.Content, "Paper One") {
		t.Fatalf("observation missing tool output: %q", last.Content)
	}
}

func TestRunCarriesHistory(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"answer": "ok"}`}}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	history := []session.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if _, err := a.Run(context.Background(), history, "follow-up"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := llm.calls[0]
	if len(msgs) != 3 {
		t.Fatalf("expected history plus new message, got %d", len(msgs))
	}
	if msgs[0].Content != "earlier question" || msgs[2].Content != "follow-up" {
		t.Fatalf("unexpected message order %+v", msgs)
	}
}

func TestRunRecoversFromInvalidJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"Sure, I'll search for that!",
		`{"answer": "recovered"}`,
	}}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	got, err := a.Run(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("unexpected answer %q", got)
	}
	second := llm.calls[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "not valid JSON") {
		t.Fatalf("expected retry observation, got %q", last.Content)
	}
}

func TestRunAcceptsFencedJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"```json\n{\"answer\": \"fenced\"}\n```"}}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	got, err := a.Run(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "fenced" {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestRunSavePaperErrorPropagates(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"tool": "save_paper", "args": {"paper_id": "2301.00001"}}`}}
	ts, _, ingestor := testToolset()
	ingestor.err = errors.New("database unavailable")
	a := New(llm, ts)

	if _, err := a.Run(context.Background(), nil, "save it"); err == nil {
		t.Fatal("expected ingestion error to propagate")
	}
}

func TestRunSavePaperForwardsID(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool": "save_paper", "args": {"paper_id": "2301.00001"}}`,
		`{"answer": "saved"}`,
	}}
	ts, _, ingestor := testToolset()
	a := New(llm, ts)

	if _, err := a.Run(context.Background(), nil, "save 2301.00001"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ingestor.lastID != "2301.00001" {
		t.Fatalf("paper id not forwarded, got %q", ingestor.lastID)
	}
}

func TestRunUnknownToolBecomesObservation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool": "summarize_paper", "args": {}}`,
		`{"answer": "done"}`,
	}}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	got, err := a.Run(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "done" {
		t.Fatalf("unexpected answer %q", got)
	}
	second := llm.calls[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Fatalf("expected unknown-tool observation, got %q", last.Content)
	}
}

func TestRunIterationBudget(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`{"tool": "retrieve_chunks", "args": {"query": "q"}}`,
		`{"tool": "retrieve_chunks", "args": {"query": "q"}}`,
		`{"tool": "retrieve_chunks", "args": {"query": "q"}}`,
	}}
	ts, _, _ := testToolset()
	a := New(llm, ts)
	a.MaxIterations = 2

	got, err := a.Run(context.Background(), nil, "loop forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(got, "could not complete") {
		t.Fatalf("expected budget fallback, got %q", got)
	}
	if len(llm.calls) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(llm.calls))
	}
}

func TestRunCompleterFailure(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("rate limited")}
	ts, _, _ := testToolset()
	a := New(llm, ts)

	if _, err := a.Run(context.Background(), nil, "hi"); err == nil {
		t.Fatal("expected completion error")
	}
}
