// Package resiliency wraps outbound HTTP with the retry/backoff and
// circuit-breaking behavior Latchflow's webhook callouts need: a flapping
// receiver endpoint must not wedge the action consumer.
package resiliency

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EnhancedClient is an http.Client with exponential backoff + jitter,
// per-destination circuit breaking, and W3C trace-context injection from
// the request's own context.
type EnhancedClient struct {
	client     *http.Client
	maxRetries int
	breaker    *CircuitBreaker
}

// NewEnhancedClient returns a client tuned for webhook delivery: 30s
// request timeout, three retries, and a breaker that opens after five
// consecutive failures and probes again after ten seconds.
func NewEnhancedClient() *EnhancedClient {
	return &EnhancedClient{
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		breaker:    NewCircuitBreaker("webhook", 5, 10*time.Second),
	}
}

// Do executes req, retrying 5xx responses and transport errors with
// exponential backoff. A response below 500 counts as success for the
// breaker even if it is a 4xx; the caller decides what a rejection means.
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("resiliency: circuit breaker open for %s", c.breaker.name)
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			c.breaker.Success()
			return resp, nil
		}
		if attempt == c.maxRetries {
			break
		}
		time.Sleep(backoffWithJitter(attempt))
	}

	c.breaker.Failure()
	return resp, err
}

func backoffWithJitter(attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		backoff += time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff
}

type breakerState string

const (
	breakerClosed   breakerState = "CLOSED"
	breakerOpen     breakerState = "OPEN"
	breakerHalfOpen breakerState = "HALF_OPEN"
)

// CircuitBreaker is a minimal closed/open/half-open state machine keyed to
// one destination.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
}

// NewCircuitBreaker constructs a closed breaker that opens after threshold
// consecutive failures and half-opens once timeout has elapsed.
func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        breakerClosed,
	}
}

// Allow reports whether a request may proceed, transitioning an expired
// open breaker to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == breakerOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = breakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success resets the failure count and closes a half-open breaker.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failureCount = 0
}

// Failure records a failure, opening the breaker at the threshold.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state = breakerOpen
	}
}
