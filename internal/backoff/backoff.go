// Package backoff implements the bounded exponential-backoff scheduler
// used to retry database close. It wraps cenkalti/backoff/v4 rather than
// hand-rolling the retry loop — the math.Pow-based retry seen in the
// teacher's embed/onnx downloader is the shape, but the ecosystem already
// carries a maintained implementation for exactly this.
package backoff

import (
	"fmt"
	"math/rand"
	"time"

	extbackoff "github.com/cenkalti/backoff/v4"

	"github.com/mvp-joe/package-collection-index/internal/indexerr"
)

const (
	DefaultBaseMs      = 100
	DefaultJitterMaxMs = 100
	DefaultMaxAttempts = 3
)

// Backoff is a bounded exponential-backoff delay generator: delays are
// (base * 2^attempt) + rand[0, jitterMax] for attempt = 0..MaxAttempts-1.
// Delay is a pure function of its argument and touches no shared state;
// the attempt counter used to drive cenkalti's retry loop lives on the
// struct only because that library's BackOff interface requires a
// stateful NextBackOff() method.
type Backoff struct {
	Base        time.Duration
	JitterMax   time.Duration
	MaxAttempts int

	attempt int
}

// New returns a Backoff configured with the default parameters
// (base=100ms, jitterMax=100ms, maxAttempts=3).
func New() *Backoff {
	return &Backoff{
		Base:        DefaultBaseMs * time.Millisecond,
		JitterMax:   DefaultJitterMaxMs * time.Millisecond,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns the delay for the given zero-indexed attempt, or
// indexerr.ErrExhaustedRetries once attempt >= MaxAttempts.
func (b *Backoff) Delay(attempt int) (time.Duration, error) {
	if attempt < 0 || attempt >= b.MaxAttempts {
		return 0, indexerr.ErrExhaustedRetries
	}
	var jitter time.Duration
	if b.JitterMax > 0 {
		jitter = time.Duration(rand.Int63n(int64(b.JitterMax) + 1))
	}
	return b.Base<<uint(attempt) + jitter, nil
}

// NextBackOff implements extbackoff.BackOff.
func (b *Backoff) NextBackOff() time.Duration {
	delay, err := b.Delay(b.attempt)
	b.attempt++
	if err != nil {
		return extbackoff.Stop
	}
	return delay
}

// Reset implements extbackoff.BackOff.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Retry runs op, retrying on this schedule until it succeeds or the
// attempt budget is exhausted. Returns indexerr.ErrExhaustedRetries
// (wrapped around op's last error) if op never succeeds.
func (b *Backoff) Retry(op func() error) error {
	b.Reset()
	if err := extbackoff.Retry(op, b); err != nil {
		return fmt.Errorf("%w: %v", indexerr.ErrExhaustedRetries, err)
	}
	return nil
}
