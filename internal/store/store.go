package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"paperdesk/internal/papers"
)

type Store struct {
	DB *sql.DB
}

// Paper record statuses. A record is written as pending before the PDF
// is downloaded and flipped to ingested only after its chunks are
// persisted, so a crash in between is observable and repairable.
const (
	PaperStatusPending  = "pending"
	PaperStatusIngested = "ingested"
)

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// PaperRecord is the content-addressed cache entry for one ingested paper.
type PaperRecord struct {
	PaperID    string
	Title      string
	Summary    string
	References papers.ReferenceResult
	Status     string
	CreatedAt  time.Time
}

// ChunkRecord is one text chunk with its embedding, written in bulk
// during ingestion.
type ChunkRecord struct {
	PaperID    string
	ChunkIndex int
	Text       string
	Vector     []float32
	Metadata   map[string]interface{}
}

// ChunkMatch is a semantic search hit over the chunk index.
type ChunkMatch struct {
	PaperID    string
	ChunkIndex int
	Text       string
	Metadata   map[string]interface{}
	Distance   float64
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Paper operations

// GetPaper returns the cached record for a paper id. A store error is
// never folded into "absent": a false absent would trigger duplicate
// ingestion work.
func (s *Store) GetPaper(ctx context.Context, paperID string) (PaperRecord, bool, error) {
	var (
		rec      PaperRecord
		refBytes []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT paper_id, title, summary, "references", status, created_at
FROM papers WHERE paper_id=$1
`, paperID).Scan(&rec.PaperID, &rec.Title, &rec.Summary, &refBytes, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PaperRecord{}, false, nil
	}
	if err != nil {
		return PaperRecord{}, false, err
	}
	if len(refBytes) > 0 {
		if err := json.Unmarshal(refBytes, &rec.References); err != nil {
			return PaperRecord{}, false, fmt.Errorf("decode references: %w", err)
		}
	}
	return rec, true, nil
}

// HasPaper reports whether a paper id is present in the store.
func (s *Store) HasPaper(ctx context.Context, paperID string) (bool, error) {
	_, ok, err := s.GetPaper(ctx, paperID)
	return ok, err
}

// InsertPaperPending writes the paper record in the pending state. This
// happens before the PDF download so repeated ingestion requests
// short-circuit even when the download step has not completed yet.
// Write-once per id: a second insert for the same id fails on the
// primary key.
func (s *Store) InsertPaperPending(ctx context.Context, rec PaperRecord) error {
	if rec.PaperID == "" {
		return fmt.Errorf("paper_id required")
	}
	refBytes, err := json.Marshal(rec.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO papers (paper_id, title, summary, "references", status, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
`, rec.PaperID, rec.Title, rec.Summary, refBytes, PaperStatusPending)
	return err
}

// MarkPaperIngested flips the record to ingested once its chunks are
// persisted.
func (s *Store) MarkPaperIngested(ctx context.Context, paperID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE papers SET status=$2 WHERE paper_id=$1`, paperID, PaperStatusIngested)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("paper %s not found", paperID)
	}
	return nil
}

// DeletePaper removes a paper record and, through the FK cascade, its
// chunks. Used to clear stale pending records before a repair ingest.
func (s *Store) DeletePaper(ctx context.Context, paperID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM papers WHERE paper_id=$1`, paperID)
	return err
}

// Chunk operations

// ReplacePaperChunks replaces all chunk rows for a paper with the
// provided batch inside one transaction. The named return feeds the
// deferred commit/rollback: any failure in the loop rolls back, and a
// failed commit reaches the caller.
func (s *Store) ReplacePaperChunks(ctx context.Context, paperID string, records []ChunkRecord) (err error) {
	if paperID == "" {
		return fmt.Errorf("paper_id required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM paper_chunks WHERE paper_id=$1`, paperID); err != nil {
		err = fmt.Errorf("delete existing paper chunks: %w", err)
		return err
	}
	if len(records) == 0 {
		return nil
	}
	var stmt *sql.Stmt
	stmt, err = tx.PrepareContext(ctx, `
INSERT INTO paper_chunks (paper_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4::vector,$5,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			err = fmt.Errorf("embedding vector required for chunk %d", rec.ChunkIndex)
			return err
		}
		var vectorLiteral string
		if vectorLiteral, err = encodeVectorLiteral(rec.Vector); err != nil {
			return err
		}
		meta := rec.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		var metaBytes []byte
		if metaBytes, err = json.Marshal(meta); err != nil {
			err = fmt.Errorf("marshal metadata: %w", err)
			return err
		}
		if _, err = stmt.ExecContext(ctx, paperID, rec.ChunkIndex, rec.Text, vectorLiteral, metaBytes); err != nil {
			return err
		}
	}
	return nil
}

// SearchChunks returns the closest chunks for the supplied vector,
// optionally restricted to a single paper id.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, paperID string, topK int) ([]ChunkMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 8
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT paper_id, chunk_index, content, metadata, embedding <=> $1::vector AS distance
FROM paper_chunks
WHERE ($2 = '' OR paper_id = $2)
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, paperID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkMatch
	for rows.Next() {
		var (
			m         ChunkMatch
			metaBytes []byte
		)
		if err := rows.Scan(&m.PaperID, &m.ChunkIndex, &m.Text, &metaBytes, &m.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &m.Metadata)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
