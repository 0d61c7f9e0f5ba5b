package repository

import (
	"time"

	"github.com/google/uuid"
)

// ContactSubmission is an accepted contact form entry as stored in the
// contact_submissions table.
type ContactSubmission struct {
	ID         uuid.UUID `db:"id"`
	Name       string    `db:"name"`
	Email      string    `db:"email"`
	Topic      string    `db:"topic"`
	Message    string    `db:"message"`
	OriginPage string    `db:"origin_page"`
	ClientID   string    `db:"client_id"`
	Provider   string    `db:"provider"`
	CreatedAt  time.Time `db:"created_at"`
}
