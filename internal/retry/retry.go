// Package retry runs operations with bounded exponential backoff on top of
// cenkalti/backoff. It is used wherever the engine waits on an external
// system to converge.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent wraps err so it is returned without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var target *backoff.PermanentError
	return errors.As(err, &target)
}

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// RetryIf decides whether err is retried. Nil retries everything not
	// wrapped with Permanent.
	RetryIf func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep replaces the backoff timer when set.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig matches the enrollment polling policy: 500ms doubling, five attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Option configures a Retrier.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// WithSleep replaces the wait between attempts; tests use it to skip real delays.
// A non-nil error from fn stops the loop.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) {
		if fn != nil {
			c.Sleep = fn
		}
	}
}

// Retrier manages retry operations.
type Retrier struct {
	config Config
}

// New creates a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// policy builds a fresh deterministic exponential schedule bounded by MaxAttempts.
func (r *Retrier) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.config.InitialDelay
	exp.Multiplier = r.config.Multiplier
	exp.MaxInterval = r.config.MaxDelay
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if r.config.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.config.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do executes operation until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is cancelled. The last operation error is returned
// with the Permanent wrapper stripped; ctx.Err() only when nothing ran.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context, attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		attempt int
		lastErr error
	)
	op := func() error {
		attempt++
		err := operation(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			lastErr = permanent.Err
			return err
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
	}

	var timer backoff.Timer
	if r.config.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, sleep: r.config.Sleep, abort: cancel}
	}
	err := backoff.RetryNotifyWithTimer(op, r.policy(ctx), notify, timer)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

// Do is a convenience wrapper around New(opts...).Do.
func Do(ctx context.Context, operation func(ctx context.Context, attempt int) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// sleepTimer adapts a Sleep func to backoff.Timer. A failed sleep cancels the
// loop's context so the retry stops.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	abort context.CancelFunc
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err != nil {
		t.abort()
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time {
	return t.c
}
