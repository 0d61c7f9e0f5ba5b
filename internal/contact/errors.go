package contact

import "errors"

// Error sentinels for the contact gateway. Handler maps each to a status
// code with errors.Is.
var (
	ErrNotConfigured = errors.New("email service not configured")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrMissingFields = errors.New("required field missing")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidBody   = errors.New("invalid request body")
	ErrDelivery      = errors.New("delivery failed")
)

// Messages returned to the submitter.
const (
	MsgNotConfigured = "Email service not configured."
	MsgRateLimited   = "Too many requests. Please try again shortly."
	MsgMissingFields = "Name, email and message are required."
	MsgInvalidEmail  = "Please provide a valid email address."
	MsgDelivery      = "Unable to send message right now."
	MsgInvalidBody   = "Invalid request body."
)

// ValidationKind names the unmet requirement.
type ValidationKind string

const (
	KindMissingField ValidationKind = "missing_field"
	KindInvalidEmail ValidationKind = "invalid_email"
)

// ValidationError is returned by Sanitize. Its message is safe to show to
// the submitter.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap returns the matching sentinel.
func (e *ValidationError) Unwrap() error {
	switch e.Kind {
	case KindInvalidEmail:
		return ErrInvalidEmail
	default:
		return ErrMissingFields
	}
}
