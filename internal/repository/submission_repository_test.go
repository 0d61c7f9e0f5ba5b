package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	n   int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.n
	return nil
}

type fakeDB struct {
	sql     string
	args    []any
	execErr error
	row     fakeRow
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql, f.args = sql, args
	return f.row
}

func TestSaveSubmission_FillsIDAndTimestamp(t *testing.T) {
	db := &fakeDB{}
	repo := NewSubmissionRepository(db)

	s := &ContactSubmission{
		Name:       "Jo",
		Email:      "jo@example.com",
		Topic:      "General enquiry",
		Message:    "Hi",
		OriginPage: "Unknown",
		ClientID:   "203.0.113.7",
		Provider:   "smtp",
	}
	if err := repo.SaveSubmission(context.Background(), s); err != nil {
		t.Fatalf("SaveSubmission failed: %v", err)
	}

	if s.ID == uuid.Nil {
		t.Error("ID should be generated")
	}
	if s.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if len(db.args) != 9 {
		t.Fatalf("expected 9 query args, got %d", len(db.args))
	}
	if db.args[0] != s.ID || db.args[2] != "jo@example.com" || db.args[6] != "203.0.113.7" {
		t.Errorf("unexpected args: %v", db.args)
	}
}

func TestSaveSubmission_KeepsProvidedID(t *testing.T) {
	db := &fakeDB{}
	repo := NewSubmissionRepository(db)

	id := uuid.New()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &ContactSubmission{ID: id, CreatedAt: created}
	if err := repo.SaveSubmission(context.Background(), s); err != nil {
		t.Fatalf("SaveSubmission failed: %v", err)
	}
	if s.ID != id || !s.CreatedAt.Equal(created) {
		t.Errorf("provided ID/CreatedAt should be kept, got %v %v", s.ID, s.CreatedAt)
	}
}

func TestSaveSubmission_Errors(t *testing.T) {
	dup := &fakeDB{execErr: fmt.Errorf("exec: %w", &pgconn.PgError{
		Code:           "23505",
		Message:        "duplicate key value violates unique constraint",
		ConstraintName: "contact_submissions_pkey",
	})}
	if err := NewSubmissionRepository(dup).SaveSubmission(context.Background(), &ContactSubmission{}); !errors.Is(err, ErrSubmissionExists) {
		t.Errorf("expected ErrSubmissionExists, got %v", err)
	}

	// A message that merely mentions the constraint is not a conflict.
	text := &fakeDB{execErr: errors.New(`duplicate key value violates unique constraint "contact_submissions_pkey"`)}
	if err := NewSubmissionRepository(text).SaveSubmission(context.Background(), &ContactSubmission{}); errors.Is(err, ErrSubmissionExists) {
		t.Error("only a 23505 PgError should map to ErrSubmissionExists")
	}

	other := &fakeDB{execErr: &pgconn.PgError{Code: "23502", Message: "null value in column"}}
	if err := NewSubmissionRepository(other).SaveSubmission(context.Background(), &ContactSubmission{}); errors.Is(err, ErrSubmissionExists) {
		t.Error("not-null violation must not map to ErrSubmissionExists")
	}

	cause := errors.New("connection reset")
	broken := &fakeDB{execErr: cause}
	err := NewSubmissionRepository(broken).SaveSubmission(context.Background(), &ContactSubmission{})
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestCountSince(t *testing.T) {
	since := time.Now().Add(-24 * time.Hour)
	db := &fakeDB{row: fakeRow{n: 7}}

	n, err := NewSubmissionRepository(db).CountSince(context.Background(), since)
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 7 {
		t.Errorf("got %d, want 7", n)
	}
	if len(db.args) != 1 || db.args[0] != since {
		t.Errorf("unexpected args: %v", db.args)
	}

	db.row = fakeRow{err: errors.New("boom")}
	if _, err := NewSubmissionRepository(db).CountSince(context.Background(), since); err == nil {
		t.Error("expected error")
	}
}
