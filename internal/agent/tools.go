package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"paperdesk/internal/papers"
	"paperdesk/internal/store"
)

// PaperSearcher queries the external paper index by free text.
type PaperSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]papers.Summary, error)
}

// ChunkRetriever answers semantic queries over ingested papers.
type ChunkRetriever interface {
	Query(ctx context.Context, text string) ([]store.ChunkMatch, error)
}

// Ingestor saves a paper for detailed questioning.
type Ingestor interface {
	Ingest(ctx context.Context, paperID string) (string, error)
}

// ReferenceResolver lists a paper's citations.
type ReferenceResolver interface {
	Resolve(ctx context.Context, paperID string) papers.ReferenceResult
}

var toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paperdesk_tool_calls_total",
	Help: "Agent tool invocations by tool name.",
}, []string{"tool"})

// Toolset is the capability surface exposed to the reasoning loop: four
// callable operations, each taking and returning plain text. Search and
// reference failures come back as relay-able text so the conversation
// survives them; ingestion infrastructure failures return an error for
// the chat boundary to surface.
type Toolset struct {
	Search      PaperSearcher
	Retriever   ChunkRetriever
	Ingestor    Ingestor
	Refs        ReferenceResolver
	SearchLimit int
}

// SearchPapers queries the index and renders the ranked results.
func (t *Toolset) SearchPapers(ctx context.Context, query string, limit int) string {
	toolCalls.WithLabelValues("search_papers").Inc()
	if limit <= 0 {
		limit = t.SearchLimit
	}
	if limit <= 0 {
		limit = 5
	}
	results, err := t.Search.Search(ctx, query, limit)
	if err != nil {
		return fmt.Sprintf("Error searching papers: %v", err)
	}
	if len(results) == 0 {
		return "No Papers Found"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s] %s\n%s\n", i+1, r.ID, r.Title, r.Summary)
	}
	return strings.TrimSpace(sb.String())
}

// RetrieveChunks runs a semantic lookup over already-saved papers.
func (t *Toolset) RetrieveChunks(ctx context.Context, query string) string {
	toolCalls.WithLabelValues("retrieve_chunks").Inc()
	matches, err := t.Retriever.Query(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error retrieving saved papers: %v", err)
	}
	if len(matches) == 0 {
		return "No matching content found in saved papers."
	}
	var sb strings.Builder
	for _, m := range matches {
		title, _ := m.Metadata["title"].(string)
		fmt.Fprintf(&sb, "[%s] %s:\n%s\n\n", m.PaperID, title, m.Text)
	}
	return strings.TrimSpace(sb.String())
}

// SavePaper ingests a paper by id. Infrastructure failures propagate as
// errors and are converted to a chat-level error response by the
// caller.
func (t *Toolset) SavePaper(ctx context.Context, paperID string) (string, error) {
	toolCalls.WithLabelValues("save_paper").Inc()
	return t.Ingestor.Ingest(ctx, paperID)
}

// ListReferences resolves and renders a paper's citations.
func (t *Toolset) ListReferences(ctx context.Context, paperID string) string {
	toolCalls.WithLabelValues("list_references").Inc()
	res := t.Refs.Resolve(ctx, paperID)
	if res.Kind != papers.ReferencesResolved {
		return res.Sentinel()
	}
	var sb strings.Builder
	for i, r := range res.Refs {
		fmt.Fprintf(&sb, "%d. %s (arXiv:%s)\n", i+1, r.Title, r.ArxivID)
	}
	return strings.TrimSpace(sb.String())
}
