package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const hybridFunctionSignature = "match_rag_chunks_hybrid(vector,text,integer,double precision,double precision)"

const hybridQuery = `
SELECT
	id::text,
	COALESCE(document_id::text, ''),
	COALESCE(segment_id::text, ''),
	COALESCE(title, ''),
	COALESCE(content, ''),
	COALESCE(vector_score, 0),
	COALESCE(lexical_score, 0),
	COALESCE(final_score, 0)
FROM match_rag_chunks_hybrid($1::vector, $2, $3, $4, $5)`

// HybridIndex calls the database-side hybrid ranking function. Scoring stays
// in the database; this type only maps rows.
type HybridIndex struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewHybridIndex(db *sql.DB, executor *resilience.Executor) *HybridIndex {
	return &HybridIndex{db: db, executor: executor}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// CheckFunction reports whether the hybrid ranking function is installed.
func (i *HybridIndex) CheckFunction(ctx context.Context) error {
	var present bool
	err := i.db.QueryRowContext(ctx, `SELECT to_regprocedure($1) IS NOT NULL`, hybridFunctionSignature).Scan(&present)
	if err != nil {
		return fmt.Errorf("check hybrid function: %w", err)
	}
	if !present {
		return fmt.Errorf("hybrid function %s is not installed", hybridFunctionSignature)
	}
	return nil
}

func (i *HybridIndex) SearchHybrid(ctx context.Context, q domain.HybridQuery) ([]domain.CandidateChunk, error) {
	out, err := resilience.Do(ctx, i.executor, "postgres.search_hybrid", classifySQLError,
		func(ctx context.Context) ([]domain.CandidateChunk, error) {
			return i.query(ctx, q)
		})
	return out, resilience.WrapUpstream("postgres search hybrid", err, classifySQLError)
}

func (i *HybridIndex) query(ctx context.Context, q domain.HybridQuery) ([]domain.CandidateChunk, error) {
	rows, err := i.db.QueryContext(ctx, hybridQuery,
		pgvector.NewVector(q.Embedding),
		q.Text,
		q.CandidateCount,
		q.VectorWeight,
		q.LexicalWeight,
	)
	if err != nil {
		return nil, fmt.Errorf("query hybrid chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CandidateChunk, 0, q.CandidateCount)
	for rows.Next() {
		var c domain.CandidateChunk
		if err := rows.Scan(
			&c.ID,
			&c.DocumentID,
			&c.SegmentID,
			&c.Title,
			&c.Content,
			&c.VectorScore,
			&c.LexicalScore,
			&c.FusedScore,
		); err != nil {
			return nil, fmt.Errorf("scan hybrid chunk: %w", err)
		}
		if c.ID == "" {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hybrid chunks: %w", err)
	}
	return out, nil
}
