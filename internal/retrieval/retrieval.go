package retrieval

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"paperdesk/internal/store"
	"paperdesk/provider"
)

// ChunkSearcher is the vector-index slice of the store.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, vector []float32, paperID string, topK int) ([]store.ChunkMatch, error)
}

// Embedder turns the query text into a vector.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer is the completion-model slice used to derive structured
// filters from a free-text query.
type Completer interface {
	Complete(ctx context.Context, system string, messages []provider.Message) (string, error)
}

const filterPrompt = `You extract structured filters for a search over stored research-paper chunks.
Each chunk carries metadata fields: paper_id (the unique arXiv paper ID), title, summary.
Given the user's query, respond ONLY with valid JSON of the form {"paper_id": "<id>"} when the
query clearly names or implies one specific paper id, or {} when it does not.
Do not include any other text or explanation.`

// Engine answers semantic queries against the chunk index, narrowing by
// query-derived metadata filters when the completion model can extract
// one.
type Engine struct {
	Store    ChunkSearcher
	Embedder Embedder
	LLM      Completer
	TopK     int
	Logger   *log.Logger
}

func NewEngine(st ChunkSearcher, embedder Embedder, llm Completer, topK int) *Engine {
	if topK <= 0 {
		topK = 8
	}
	return &Engine{
		Store:    st,
		Embedder: embedder,
		LLM:      llm,
		TopK:     topK,
		Logger:   log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags),
	}
}

// Query embeds the text and performs a similarity search. An empty
// result is a valid "nothing ingested matches" outcome.
func (e *Engine) Query(ctx context.Context, text string) ([]store.ChunkMatch, error) {
	vecs, err := e.Embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	paperID := e.deriveFilter(ctx, text)
	return e.Store.SearchChunks(ctx, vecs[0], paperID, e.TopK)
}

// deriveFilter asks the completion model whether the query pins down a
// single paper id. Any failure degrades to an unfiltered search.
func (e *Engine) deriveFilter(ctx context.Context, text string) string {
	if e.LLM == nil {
		return ""
	}
	raw, err := e.LLM.Complete(ctx, filterPrompt, []provider.Message{{Role: "user", Content: text}})
	if err != nil {
		e.Logger.Printf("filter derivation failed, searching unfiltered: %v", err)
		return ""
	}
	var filter struct {
		PaperID string `json:"paper_id"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &filter); err != nil {
		e.Logger.Printf("filter parse failed, searching unfiltered: %v", err)
		return ""
	}
	return strings.TrimSpace(filter.PaperID)
}

// stripFence removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
