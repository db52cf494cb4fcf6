package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

var hybridColumns = []string{
	"id", "document_id", "segment_id", "title", "content", "vector_score", "lexical_score", "final_score",
}

func newIndexWithMock(t *testing.T) (*HybridIndex, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewHybridIndex(db, nil), mock, func() { _ = db.Close() }
}

func TestSearchHybridMapsRows(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectQuery("FROM match_rag_chunks_hybrid").
		WithArgs(sqlmock.AnyArg(), "react 상태관리", 28, 0.74, 0.26).
		WillReturnRows(sqlmock.NewRows(hybridColumns).
			AddRow("c1", "doc-1", "seg-1", "React 가이드", "react 상태관리", 0.81, 0.4, 0.71).
			AddRow("", "doc-x", "", "skip", "", 0.1, 0.1, 0.1).
			AddRow("c2", "doc-2", "", "노트", "내용", 0.5, 0.2, 0.42))

	got, err := index.SearchHybrid(context.Background(), domain.HybridQuery{
		Text:           "react 상태관리",
		Embedding:      []float32{0.1, 0.2},
		CandidateCount: 28,
		VectorWeight:   0.74,
		LexicalWeight:  0.26,
	})
	if err != nil {
		t.Fatalf("SearchHybrid() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].SegmentID != "seg-1" || got[0].FusedScore != 0.71 || got[1].SegmentID != "" {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchHybridWrapsQueryErrors(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectQuery("FROM match_rag_chunks_hybrid").
		WillReturnError(&pgconn.PgError{Code: "42883", Message: "function does not exist"})

	_, err := index.SearchHybrid(context.Background(), domain.HybridQuery{Text: "q", Embedding: []float32{1}})
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCheckFunction(t *testing.T) {
	index, mock, done := newIndexWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT to_regprocedure").
		WithArgs(hybridFunctionSignature).
		WillReturnRows(sqlmock.NewRows([]string{"present"}).AddRow(false))

	if err := index.CheckFunction(context.Background()); err == nil {
		t.Fatalf("expected missing function error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClassifySQLError(t *testing.T) {
	if !classifySQLError(driver.ErrBadConn).Retryable {
		t.Fatalf("bad connection should be retryable")
	}
	if !classifySQLError(&pgconn.PgError{Code: "57P01"}).Retryable {
		t.Fatalf("admin shutdown should be retryable")
	}
	if classifySQLError(&pgconn.PgError{Code: "42883"}).Retryable {
		t.Fatalf("undefined function should not be retryable")
	}
	if classifySQLError(errors.New("scan")).Retryable {
		t.Fatalf("plain errors should not be retryable")
	}
}
