package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darleyabbeyfc/contact-gateway/internal/mailer"
	"github.com/darleyabbeyfc/contact-gateway/internal/metrics"
	"github.com/darleyabbeyfc/contact-gateway/internal/middleware"
	"github.com/darleyabbeyfc/contact-gateway/internal/repository"
)

const (
	defaultBodyLimit    = 50 << 10
	defaultSendTimeout  = 15 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// SubmissionStore optionally records accepted submissions.
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, s *repository.ContactSubmission) error
}

// Response is the body of every /api/contact reply.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HandlerConfig holds the dependencies of a Handler. Mailer nil or
// Configured false makes the endpoint report itself unavailable.
type HandlerConfig struct {
	Configured   bool
	Composer     Composer
	Limiter      middleware.Limiter
	Mailer       mailer.Mailer
	// AckMailer, when set, sends the submitter a receipt after the staff
	// notification is accepted.
	AckMailer    mailer.Mailer
	Store        SubmissionStore
	Logger       *slog.Logger
	BodyLimit    int64
	SendTimeout  time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// Handler serves POST /api/contact.
type Handler struct {
	configured   bool
	composer     Composer
	limiter      middleware.Limiter
	mailer       mailer.Mailer
	ackMailer    mailer.Mailer
	store        SubmissionStore
	logger       *slog.Logger
	bodyLimit    int64
	sendTimeout  time.Duration
	storeTimeout time.Duration
	now          func() time.Time

	pending sync.WaitGroup
}

// NewHandler creates a new Handler instance
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		configured:   cfg.Configured && cfg.Mailer != nil && cfg.Limiter != nil,
		composer:     cfg.Composer,
		limiter:      cfg.Limiter,
		mailer:       cfg.Mailer,
		ackMailer:    cfg.AckMailer,
		store:        cfg.Store,
		logger:       cfg.Logger,
		bodyLimit:    cfg.BodyLimit,
		sendTimeout:  cfg.SendTimeout,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.bodyLimit <= 0 {
		h.bodyLimit = defaultBodyLimit
	}
	if h.sendTimeout <= 0 {
		h.sendTimeout = defaultSendTimeout
	}
	if h.storeTimeout <= 0 {
		h.storeTimeout = defaultStoreTimeout
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Submit handles POST /api/contact.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientID(r)
	id := uuid.New()

	sub, err := h.process(w, r, id, clientID)
	if err != nil {
		status, outcome, msg := classify(err)
		metrics.ContactSubmissions.WithLabelValues(outcome).Inc()
		writeJSON(w, status, Response{OK: false, Error: msg})
		return
	}

	metrics.ContactSubmissions.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, Response{OK: true})

	if h.ackMailer != nil {
		h.acknowledge(id, sub)
	}
	if h.store != nil {
		h.persist(&repository.ContactSubmission{
			ID:         id,
			Name:       sub.Name,
			Email:      sub.Email,
			Topic:      sub.Topic,
			Message:    sub.Message,
			OriginPage: sub.OriginPage,
			ClientID:   clientID,
			Provider:   h.mailer.Name(),
			CreatedAt:  h.now().UTC(),
		})
	}
}

// process runs configuration check, rate limit, decoding, validation and
// delivery in order. Each step is terminal on failure.
func (h *Handler) process(w http.ResponseWriter, r *http.Request, id uuid.UUID, clientID string) (Submission, error) {
	if !h.configured {
		return Submission{}, ErrNotConfigured
	}

	if err := h.checkRate(w, r, clientID); err != nil {
		return Submission{}, err
	}

	raw, err := decodeBody(w, r, h.bodyLimit)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	sub, err := Sanitize(raw)
	if err != nil {
		return Submission{}, err
	}

	env := h.composer.Compose(sub, clientID)

	// The send outlives a disconnecting client but not the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.sendTimeout)
	defer cancel()

	if err := h.mailer.Send(ctx, env); err != nil {
		h.logger.Error("failed to send contact email",
			slog.String("submission_id", id.String()),
			slog.String("client_id", clientID),
			slog.String("topic", sub.Topic),
			slog.String("provider", h.mailer.Name()),
			slog.String("error", err.Error()),
		)
		return Submission{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	h.logger.Info("contact submission delivered",
		slog.String("submission_id", id.String()),
		slog.String("client_id", clientID),
		slog.String("topic", sub.Topic),
	)
	return sub, nil
}

// checkRate records an attempt for clientID and sets the X-RateLimit
// headers. A failing limiter store is logged and the request allowed.
func (h *Handler) checkRate(w http.ResponseWriter, r *http.Request, clientID string) error {
	decision, err := h.limiter.Check(r.Context(), clientID)
	if err != nil {
		h.logger.Error("rate limit check failed, allowing request",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	middleware.SetRateLimitHeaders(w, decision, h.now())
	if !decision.Allowed {
		return ErrRateLimited
	}
	return nil
}

// classify maps a process error to status, metrics outcome and the message
// shown to the submitter. Anything unrecognised is a delivery failure.
func classify(err error) (int, string, string) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable, "unavailable", MsgNotConfigured
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "throttled", MsgRateLimited
	case errors.Is(err, ErrInvalidBody):
		return http.StatusBadRequest, "invalid", MsgInvalidBody
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid", verr.Message
	default:
		return http.StatusInternalServerError, "delivery_failed", MsgDelivery
	}
}

// acknowledge mails the submitter a receipt in the background. The address
// is unverified, so failures are logged and counted only.
func (h *Handler) acknowledge(id uuid.UUID, sub Submission) {
	env := h.composer.Acknowledge(sub)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		defer cancel()

		if err := h.ackMailer.Send(ctx, env); err != nil {
			metrics.ContactAcks.WithLabelValues("error").Inc()
			h.logger.Warn("failed to send contact acknowledgement",
				slog.String("submission_id", id.String()),
				slog.String("provider", h.ackMailer.Name()),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.ContactAcks.WithLabelValues("ok").Inc()
	}()
}

// persist records s in the background. Failures are logged only.
func (h *Handler) persist(s *repository.ContactSubmission) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
		defer cancel()

		if err := h.store.SaveSubmission(ctx, s); err != nil {
			metrics.ContactStoreWrites.WithLabelValues("error").Inc()
			h.logger.Warn("failed to store contact submission",
				slog.String("submission_id", s.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.ContactStoreWrites.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until background acknowledgements and store writes finish.
func (h *Handler) Wait() {
	h.pending.Wait()
}

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeBody reads a JSON or form-encoded body into raw fields. Other
// content types yield no fields, which then fail validation.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		raw := map[string]any{}
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return raw, nil
			}
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errTrailingData
		}
		return raw, nil
	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		raw := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				raw[k] = v[0]
			}
		}
		return raw, nil
	default:
		return map[string]any{}, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
