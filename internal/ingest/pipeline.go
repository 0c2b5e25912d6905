package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"paperdesk/internal/papers"
	"paperdesk/internal/store"
)

// PaperIndex is the external paper index the pipeline resolves metadata
// from and downloads PDFs through.
type PaperIndex interface {
	Lookup(ctx context.Context, id string) (papers.Summary, error)
	FetchPDF(ctx context.Context, id, dir string) (string, papers.Summary, error)
}

// ReferenceResolver resolves a paper's citations, best-effort.
type ReferenceResolver interface {
	Resolve(ctx context.Context, paperID string) papers.ReferenceResult
}

// Embedder turns chunk texts into embedding vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// PaperStore is the slice of the store the pipeline needs: the
// content-addressed paper cache plus the chunk index.
type PaperStore interface {
	GetPaper(ctx context.Context, paperID string) (store.PaperRecord, bool, error)
	InsertPaperPending(ctx context.Context, rec store.PaperRecord) error
	MarkPaperIngested(ctx context.Context, paperID string) error
	DeletePaper(ctx context.Context, paperID string) error
	ReplacePaperChunks(ctx context.Context, paperID string, records []store.ChunkRecord) error
}

var ingestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paperdesk_ingest_total",
	Help: "Ingestion attempts by outcome.",
}, []string{"outcome"})

// Pipeline ingests one paper end to end: metadata lookup, cache check,
// reference resolution, record write, PDF download, text extraction,
// chunking, embedding, chunk persist, cleanup.
type Pipeline struct {
	Index        PaperIndex
	Refs         ReferenceResolver
	Embedder     Embedder
	Store        PaperStore
	Locker       Locker
	DownloadDir  string
	ChunkSize    int
	ChunkOverlap int
	PendingGrace time.Duration
	Extract      func(path string) (string, error)
	Logger       *log.Logger
}

func NewPipeline(index PaperIndex, refs ReferenceResolver, embedder Embedder, st PaperStore, locker Locker) *Pipeline {
	return &Pipeline{
		Index:        index,
		Refs:         refs,
		Embedder:     embedder,
		Store:        st,
		Locker:       locker,
		ChunkSize:    1000,
		ChunkOverlap: 200,
		PendingGrace: 15 * time.Minute,
		Extract:      ExtractText,
		Logger:       log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Ingest runs the pipeline for one paper id and returns a
// human-readable status message. Not-found and already-exists terminate
// early with a message and no error; infrastructure failures in the
// core steps return an error for the tool boundary to translate.
func (p *Pipeline) Ingest(ctx context.Context, paperID string) (string, error) {
	release, acquired, err := p.Locker.TryLock(ctx, paperID)
	if err != nil {
		return "", fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !acquired {
		ingestOutcomes.WithLabelValues("in_progress").Inc()
		return fmt.Sprintf("Paper %s is already being ingested.", paperID), nil
	}
	defer release()

	meta, err := p.Index.Lookup(ctx, paperID)
	if errors.Is(err, papers.ErrNotFound) {
		ingestOutcomes.WithLabelValues("not_found").Inc()
		return fmt.Sprintf("Paper with ID %s not found on ArXiv.", paperID), nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup paper %s: %w", paperID, err)
	}

	rec, exists, err := p.Store.GetPaper(ctx, paperID)
	if err != nil {
		return "", fmt.Errorf("check paper store: %w", err)
	}
	if exists {
		if rec.Status == store.PaperStatusIngested {
			ingestOutcomes.WithLabelValues("already_exists").Inc()
			return fmt.Sprintf("Paper '%s' already exists in the database.", rec.Title), nil
		}
		// pending: a previous attempt wrote the record but never
		// finished the chunks. Inside the grace period assume it is
		// still running; past it, clear the stale record and repair.
		if time.Since(rec.CreatedAt) < p.pendingGrace() {
			ingestOutcomes.WithLabelValues("in_progress").Inc()
			return fmt.Sprintf("Paper '%s' is already being ingested.", rec.Title), nil
		}
		p.Logger.Printf("repairing stale pending record for %s", paperID)
		if err := p.Store.DeletePaper(ctx, paperID); err != nil {
			return "", fmt.Errorf("clear stale pending record: %w", err)
		}
	}

	refs := p.Refs.Resolve(ctx, paperID)
	if refs.Kind == papers.ReferencesDegraded {
		p.Logger.Printf("reference lookup degraded for %s: %s", paperID, refs.Detail)
	}

	// Record goes in before the download so repeated requests
	// short-circuit even if a later step fails.
	if err := p.Store.InsertPaperPending(ctx, store.PaperRecord{
		PaperID:    paperID,
		Title:      meta.Title,
		Summary:    meta.Summary,
		References: refs,
	}); err != nil {
		return "", fmt.Errorf("write paper record: %w", err)
	}

	path, _, err := p.Index.FetchPDF(ctx, paperID, p.DownloadDir)
	if err != nil {
		return "", fmt.Errorf("download pdf for %s: %w", paperID, err)
	}
	// The transient PDF never outlives the attempt, success or failure.
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			p.Logger.Printf("remove pdf %s: %v", path, rmErr)
		}
	}()

	extract := p.Extract
	if extract == nil {
		extract = ExtractText
	}
	fullText, err := extract(path)
	if err != nil {
		return "", fmt.Errorf("extract text for %s: %w", paperID, err)
	}

	chunkSize, overlap := p.ChunkSize, p.ChunkOverlap
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}
	chunks := ChunkText(fullText, chunkSize, overlap)
	if len(chunks) == 0 {
		return "", fmt.Errorf("no chunks produced for %s", paperID)
	}

	vectors, err := p.Embedder.CreateEmbedding(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("embed chunks for %s: %w", paperID, err)
	}
	if len(vectors) != len(chunks) {
		return "", fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	records := make([]store.ChunkRecord, 0, len(chunks))
	for i, text := range chunks {
		records = append(records, store.ChunkRecord{
			PaperID:    paperID,
			ChunkIndex: i,
			Text:       text,
			Vector:     vectors[i],
			Metadata: map[string]interface{}{
				"paper_id": paperID,
				"title":    meta.Title,
				"summary":  meta.Summary,
			},
		})
	}
	if err := p.Store.ReplacePaperChunks(ctx, paperID, records); err != nil {
		return "", fmt.Errorf("persist chunks for %s: %w", paperID, err)
	}
	if err := p.Store.MarkPaperIngested(ctx, paperID); err != nil {
		return "", fmt.Errorf("mark paper ingested: %w", err)
	}

	ingestOutcomes.WithLabelValues("completed").Inc()
	p.Logger.Printf("ingested %s (%d chunks)", paperID, len(records))
	return fmt.Sprintf("Paper '%s' has been successfully saved to the database for Q&A.", meta.Title), nil
}

func (p *Pipeline) pendingGrace() time.Duration {
	if p.PendingGrace <= 0 {
		return 15 * time.Minute
	}
	return p.PendingGrace
}
