// Package contact implements the contact form gateway: sanitizing
// submissions, composing the staff notification, and the HTTP handler that
// rate limits and delivers it.
package contact

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Field length caps. Longer input is truncated, not rejected.
const (
	MaxNameLength    = 100
	MaxEmailLength   = 200
	MaxTopicLength   = 120
	MaxMessageLength = 4000
	MaxPageLength    = 500
)

// Defaults for optional fields left empty.
const (
	DefaultTopic = "General enquiry"
	DefaultPage  = "Unknown"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Submission is one sanitized contact form entry.
type Submission struct {
	Name       string
	Email      string
	Topic      string
	Message    string
	OriginPage string
}

// Fields returns s in the raw form Sanitize accepts.
func (s Submission) Fields() map[string]any {
	return map[string]any{
		"name":    s.Name,
		"email":   s.Email,
		"topic":   s.Topic,
		"message": s.Message,
		"page":    s.OriginPage,
	}
}

// Sanitize builds a Submission from decoded request fields of any JSON
// type. Name, email and message are required; the email must look like
// local@domain.tld.
func Sanitize(raw map[string]any) (Submission, error) {
	sub := Submission{
		Name:       field(raw["name"], MaxNameLength),
		Email:      field(strings.ToLower(coerce(raw["email"])), MaxEmailLength),
		Topic:      field(raw["topic"], MaxTopicLength),
		Message:    field(raw["message"], MaxMessageLength),
		OriginPage: field(raw["page"], MaxPageLength),
	}
	if sub.Topic == "" {
		sub.Topic = DefaultTopic
	}
	if sub.OriginPage == "" {
		sub.OriginPage = DefaultPage
	}

	if sub.Name == "" || sub.Email == "" || sub.Message == "" {
		return Submission{}, &ValidationError{Kind: KindMissingField, Message: MsgMissingFields}
	}
	if !emailPattern.MatchString(sub.Email) {
		return Submission{}, &ValidationError{Kind: KindInvalidEmail, Message: MsgInvalidEmail}
	}
	return sub, nil
}

// field trims, truncates to max runes, and trims again so a cut that lands
// on whitespace does not leave a trailing space.
func field(v any, max int) string {
	s := strings.TrimSpace(coerce(v))
	if utf8.RuneCountInString(s) > max {
		s = strings.TrimSpace(string([]rune(s)[:max]))
	}
	return s
}

// coerce converts a decoded JSON value to a string. Falsy values, objects
// and arrays become empty.
func coerce(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return ""
	}
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML replaces the five HTML-significant characters with entities.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
