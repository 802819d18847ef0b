package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// Delivery error classes
var (
	ErrTransient = errors.New("transient delivery failure")
	ErrPermanent = errors.New("permanent delivery failure")
)

// Transport delivers one outbound action to the messaging provider.
type Transport interface {
	Send(ctx context.Context, action models.OutboundAction) error
}

// SendError is a provider rejection. StatusCode is 0 for network failures.
type SendError struct {
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("send failed: %v", e.Err)
	}
	return fmt.Sprintf("send failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets callers test against ErrTransient / ErrPermanent.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrPermanent:
		return e.Permanent
	case ErrTransient:
		return !e.Permanent
	}
	return false
}

// classifyStatus maps an HTTP status to a SendError: 429 and 5xx are worth
// retrying, any other non-2xx is not.
func classifyStatus(status int, err error) *SendError {
	permanent := status >= 400 && status < 500 && status != http.StatusTooManyRequests
	return &SendError{StatusCode: status, Permanent: permanent, Err: err}
}

// IsTransient reports whether err should be retried later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}

// RateLimitedTransport throttles sends to the provider's account rate.
type RateLimitedTransport struct {
	next    Transport
	limiter *rate.Limiter
}

// NewRateLimitedTransport wraps next with a token bucket of perSecond / burst.
func NewRateLimitedTransport(next Transport, perSecond float64, burst int) *RateLimitedTransport {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimitedTransport{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Send waits for a token, then delegates.
func (t *RateLimitedTransport) Send(ctx context.Context, action models.OutboundAction) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &SendError{Err: err}
	}
	return t.next.Send(ctx, action)
}

// LogTransport only logs; used in development when no provider is set up.
type LogTransport struct{}

// Send logs the action.
func (LogTransport) Send(_ context.Context, action models.OutboundAction) error {
	switch action.Kind {
	case models.ActionTemplate:
		log.Printf("📤 [log] template %s to %s params=%v", action.TemplateName, action.To, action.Parameters)
	case models.ActionInteractive:
		log.Printf("📤 [log] interactive to %s: %s (%d options)", action.To, action.Prompt, len(action.Options))
	default:
		log.Printf("📤 [log] text to %s: %s", action.To, action.Body)
	}
	return nil
}
