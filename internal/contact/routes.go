package contact

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the contact endpoint with the Chi router
func RegisterRoutes(r chi.Router, handler *Handler) {
	// POST /api/contact - relay a contact form submission to the staff inbox
	r.Post("/api/contact", handler.Submit)
}
