package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codecollection/bundlesearch/internal/log"
)

// ErrCircuitOpen is returned by Resilient when the completion backend has
// failed repeatedly and calls are being rejected outright.
var ErrCircuitOpen = errors.New("completion circuit breaker is open")

// BreakerConfig tunes the circuit breaker guarding the completion backend.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes required to close
	Cooldown         time.Duration // open duration before a half-open probe
}

// DefaultBreakerConfig returns sensible defaults for LLM backends.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a minimal closed/open/half-open circuit breaker.
type breaker struct {
	mu sync.Mutex

	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time

	cfg BreakerConfig
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &breaker{cfg: cfg}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.lastFailure) > b.cfg.Cooldown {
			b.state = breakerHalfOpen
			b.successes = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case breakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.successes = 0
	}
}

// Resilient decorates a Completer with proactive rate limiting and a circuit
// breaker, so a misbehaving LLM backend fails fast instead of stacking up
// blocked requests.
type Resilient struct {
	inner   Completer
	limiter *rate.Limiter
	breaker *breaker
	logger  log.Logger
}

// NewResilient wraps inner. A nil limiter gets the default 10 req/s with a
// burst of 30.
func NewResilient(inner Completer, limiter *rate.Limiter, cfg BreakerConfig, logger log.Logger) *Resilient {
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Resilient{
		inner:   inner,
		limiter: limiter,
		breaker: newBreaker(cfg),
		logger:  logger,
	}
}

// Complete applies the rate limit, consults the breaker, then delegates.
func (r *Resilient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	if err := r.breaker.allow(); err != nil {
		r.logger.Warn("rejecting completion, circuit open")
		return "", err
	}

	text, err := r.inner.Complete(ctx, system, user)
	if err != nil {
		// Cancellation is the caller's doing, not backend health.
		if ctx.Err() == nil {
			r.breaker.failure()
		}
		return "", err
	}
	r.breaker.success()
	return text, nil
}
