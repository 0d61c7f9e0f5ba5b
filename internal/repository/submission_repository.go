package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/darleyabbeyfc/contact-gateway/internal/metrics"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique or primary key
// conflict.
const uniqueViolation = "23505"

// ErrSubmissionExists is returned when a submission id is reused.
var ErrSubmissionExists = errors.New("submission already exists")

// DBTX is the subset of *pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SubmissionRepository implements submission data access using PostgreSQL
type SubmissionRepository struct {
	db DBTX
}

// NewSubmissionRepository creates a new SubmissionRepository instance
func NewSubmissionRepository(db DBTX) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// SaveSubmission inserts s. A zero ID or CreatedAt is filled in.
func (r *SubmissionRepository) SaveSubmission(ctx context.Context, s *ContactSubmission) error {
	defer metrics.TimeQuery("insert_submission")()

	query := `
		INSERT INTO contact_submissions (id, name, email, topic, message, origin_page, client_id, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.Name,
		s.Email,
		s.Topic,
		s.Message,
		s.OriginPage,
		s.ClientID,
		s.Provider,
		s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSubmissionExists
		}
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// CountSince returns how many submissions were stored at or after since.
func (r *SubmissionRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	defer metrics.TimeQuery("count_submissions")()

	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM contact_submissions WHERE created_at >= $1`,
		since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}
