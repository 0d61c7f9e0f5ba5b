package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/darleyabbeyfc/contact-gateway/internal/metrics"
)

// GuardOptions configures a Guarded mailer.
type GuardOptions struct {
	// Name labels the breaker and its metrics. Defaults to the wrapped
	// provider's name.
	Name string
	// SendsPerSecond paces outbound deliveries. Zero disables pacing.
	SendsPerSecond float64
	// Burst is the pacing burst size. Defaults to 1.
	Burst int
	// FailureThreshold consecutive failures open the circuit. Defaults to 5.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open. Defaults to 30s.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Guarded wraps a Mailer with outbound pacing and a circuit breaker so a
// failing relay is not hammered by every submission.
type Guarded struct {
	name    string
	next    Mailer
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewGuarded wraps next.
func NewGuarded(next Mailer, opts GuardOptions) *Guarded {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = next.Name()
	}

	g := &Guarded{name: opts.Name, next: next, logger: opts.Logger}
	if opts.SendsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.SendsPerSecond), opts.Burst)
	}

	threshold := opts.FailureThreshold
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.MailCircuitState.WithLabelValues(name).Set(stateValue(to))
			g.logger.Warn("mail circuit breaker state changed",
				slog.String("provider", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	metrics.MailCircuitState.WithLabelValues(opts.Name).Set(0)
	return g
}

// Name returns the guard's name, by default the wrapped provider's.
func (g *Guarded) Name() string {
	return g.name
}

// Send waits for a pacing slot, then delivers through the circuit breaker.
// While the circuit is open it fails fast with gobreaker.ErrOpenState.
func (g *Guarded) Send(ctx context.Context, env Envelope) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for send slot: %w", err)
		}
	}

	start := time.Now()
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Send(ctx, env)
	})

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MailSendDuration.WithLabelValues(g.name, result).Observe(time.Since(start).Seconds())
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
