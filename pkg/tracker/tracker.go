// Package tracker determines whether submitted transactions confirmed,
// failed, or expired before inclusion. It owns the client-side expiration
// reasoning over the network's rolling validity-token window; it never
// reimplements the window itself.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// TokenSource exposes the network's validity-token queue to the tracker as
// read-only queries. Implemented by chain adapters; for non-expiring
// families LatestToken returns a token with no validity bound.
type TokenSource interface {
	// LatestToken fetches the current validity token at the given
	// commitment level
	LatestToken(ctx context.Context, commitment chains.Commitment) (chains.ValidityToken, error)

	// IsTokenValid reports whether the token is still within the
	// acceptance window
	IsTokenValid(ctx context.Context, token chains.ValidityToken) (bool, error)

	// CurrentHeight returns the observed queue height
	CurrentHeight(ctx context.Context) (uint64, error)

	// StatusOf polls a submitted transaction's status at the given
	// commitment level. Returns TxSubmitted while the outcome is unknown.
	StatusOf(ctx context.Context, id string, commitment chains.Commitment) (chains.TxStatus, error)
}

// SubmitFunc submits a transaction built against the given token and
// returns its identifier. Used for resubmission after expiry.
type SubmitFunc func(ctx context.Context, token chains.ValidityToken) (string, error)

// PendingTransaction tracks one submitted transaction until terminal
type PendingTransaction struct {
	ID                string
	Token             chains.ValidityToken
	SubmittedAtHeight uint64
	Commitment        chains.Commitment

	mu       sync.Mutex
	status   chains.TxStatus
	pollErr  error
	done     chan struct{}
	watchers []chan chains.TxStatus
}

// Status returns the current status
func (p *PendingTransaction) Status() chains.TxStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Durable reports whether the transaction was built against a durable token
func (p *PendingTransaction) Durable() bool {
	return p.Token.Durable
}

// Watch returns a channel receiving status changes, closed once the
// transaction is terminal or polling gives up
func (p *PendingTransaction) Watch() <-chan chains.TxStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan chains.TxStatus, 4)
	if p.status.Terminal() {
		ch <- p.status
		close(ch)
		return ch
	}
	p.watchers = append(p.watchers, ch)
	return ch
}

// Wait blocks until the transaction is terminal, polling gave up, or ctx is
// done. A nil error guarantees a terminal status.
func (p *PendingTransaction) Wait(ctx context.Context) (chains.TxStatus, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return p.Status(), &chains.TimeoutError{Op: "wait for " + p.ID, Err: ctx.Err()}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.pollErr
}

// transition applies a monotonic status change; terminal states are sticky
func (p *PendingTransaction) transition(status chains.TxStatus, pollErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Terminal() {
		return
	}
	p.status = status
	p.pollErr = pollErr

	for _, ch := range p.watchers {
		select {
		case ch <- status:
		default: // slow watcher, drop
		}
	}
	if status.Terminal() || pollErr != nil {
		for _, ch := range p.watchers {
			close(ch)
		}
		p.watchers = nil
		close(p.done)
	}
}

// Tracker drives token acquisition, expiration computation, outcome polling
// and retry policy for one chain family
type Tracker struct {
	source       TokenSource
	logger       *slog.Logger
	limiter      *rate.Limiter
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[string]*PendingTransaction
	wg      sync.WaitGroup
}

// Option configures a Tracker
type Option func(*Tracker)

// WithPollInterval overrides the default poll cadence
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.pollInterval = d }
}

// WithRateLimit caps outbound status polls per second across all pending
// transactions
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Tracker) { t.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New creates a tracker over the given token source
func New(source TokenSource, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		source:       source,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(5), 10),
		pollInterval: constants.DefaultPollInterval,
		pending:      make(map[string]*PendingTransaction),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AcquireToken fetches a validity token at the requested commitment level,
// retrying transient failures with backoff up to a bounded attempt count
func (t *Tracker) AcquireToken(ctx context.Context, commitment chains.Commitment) (chains.ValidityToken, error) {
	var lastErr error
	for attempt := 0; attempt < constants.MaxPollRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return chains.ValidityToken{}, &chains.TimeoutError{Op: "acquire token", Err: ctx.Err()}
			}
		}

		token, err := t.source.LatestToken(ctx, commitment)
		if err != nil {
			if !chains.IsRetryable(err) {
				return chains.ValidityToken{}, err
			}
			lastErr = err
			continue
		}
		return token, nil
	}
	return chains.ValidityToken{}, &chains.NetworkError{Err: fmt.Errorf("token acquisition failed after %d attempts: %w", constants.MaxPollRetries, lastErr)}
}

// CheckToken rejects a token already past the acceptance boundary before it
// is sent. Expiration judgments are eventually consistent; a token passing
// this check may still expire before inclusion.
func (t *Tracker) CheckToken(ctx context.Context, token chains.ValidityToken) error {
	if !token.Expires() {
		return nil
	}

	height, err := t.source.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	if !Accepted(token, height) {
		return &chains.StaleTokenError{
			Token:           token.Value,
			LastValidHeight: token.LastValidHeight,
			CurrentHeight:   height,
		}
	}
	return nil
}

// Track registers a submitted transaction and starts polling for its
// terminal status. Per-transaction outcomes are independent; no
// confirmation ordering is assumed across submissions.
func (t *Tracker) Track(ctx context.Context, id string, token chains.ValidityToken, commitment chains.Commitment) *PendingTransaction {
	ptx := &PendingTransaction{
		ID:                id,
		Token:             token,
		SubmittedAtHeight: token.FetchedAtHeight,
		Commitment:        commitment,
		status:            chains.TxSubmitted,
		done:              make(chan struct{}),
	}

	t.mu.Lock()
	t.pending[id] = ptx
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.poll(ctx, ptx)
	}()

	return ptx
}

// Pending returns the tracked transaction for id, if any
func (t *Tracker) Pending(id string) (*PendingTransaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ptx, ok := t.pending[id]
	return ptx, ok
}

// Resubmit retries an expired transaction with a freshly acquired token.
// Only Expired transactions are eligible: expiry guarantees the original
// was never and can never be processed. Failed transactions are never
// retried here.
func (t *Tracker) Resubmit(ctx context.Context, old *PendingTransaction, submit SubmitFunc) (*PendingTransaction, error) {
	switch old.Status() {
	case chains.TxExpired:
	case chains.TxFailed:
		return nil, fmt.Errorf("transaction %s failed on-chain; not eligible for resubmission", old.ID)
	default:
		return nil, fmt.Errorf("transaction %s is %s; only expired transactions may be resubmitted", old.ID, old.Status())
	}

	token, err := t.AcquireToken(ctx, old.Commitment)
	if err != nil {
		return nil, err
	}

	// The new token must be strictly fresher than the expired one
	if !token.FresherThan(old.Token) {
		return nil, &chains.StaleTokenError{
			Token:           token.Value,
			LastValidHeight: token.LastValidHeight,
		}
	}

	id, err := submit(ctx, token)
	if err != nil {
		return nil, err
	}

	t.logger.Info("resubmitted expired transaction",
		"old", old.ID, "new", id, "lastValidHeight", token.LastValidHeight)

	return t.Track(ctx, id, token, old.Commitment), nil
}

// Close waits for all poll loops to observe cancellation. Callers cancel
// the contexts passed to Track before closing.
func (t *Tracker) Close() {
	t.wg.Wait()
}

// poll drives one transaction to a terminal state
func (t *Tracker) poll(ctx context.Context, ptx *PendingTransaction) {
	transientFailures := 0

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			ptx.transition(ptx.Status(), &chains.TimeoutError{Op: "poll " + ptx.ID, Err: ctx.Err()})
			return
		}

		status, err := t.source.StatusOf(ctx, ptx.ID, ptx.Commitment)
		switch {
		case err == nil:
			transientFailures = 0
			if status.Terminal() {
				ptx.transition(status, nil)
				t.logger.Info("transaction terminal", "id", ptx.ID, "status", status)
				return
			}

			expired, expErr := t.checkExpiry(ctx, ptx)
			if expErr == nil && expired {
				ptx.transition(chains.TxExpired, nil)
				t.logger.Info("transaction expired before inclusion",
					"id", ptx.ID, "lastValidHeight", ptx.Token.LastValidHeight)
				return
			}

		case chains.IsRetryable(err):
			transientFailures++
			if transientFailures >= constants.MaxPollRetries {
				t.logger.Warn("giving up polling after transient failures",
					"id", ptx.ID, "attempts", transientFailures, "error", err)
				ptx.transition(ptx.Status(), err)
				return
			}

		default:
			// Adapter-reported rejection; surface immediately
			ptx.transition(chains.TxFailed, nil)
			t.logger.Warn("transaction rejected", "id", ptx.ID, "error", err)
			return
		}

		backoff := t.pollInterval + time.Duration(transientFailures*constants.DelayBetweenRPCCalls)*time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			ptx.transition(ptx.Status(), &chains.TimeoutError{Op: "poll " + ptx.ID, Err: ctx.Err()})
			return
		}
	}
}

// checkExpiry reports whether the transaction's token has left the
// acceptance window with no confirmation observed. Durable tokens never
// expire by the queue rule.
func (t *Tracker) checkExpiry(ctx context.Context, ptx *PendingTransaction) (bool, error) {
	if !ptx.Token.Expires() {
		return false, nil
	}

	height, err := t.source.CurrentHeight(ctx)
	if err != nil {
		return false, err
	}
	if Accepted(ptx.Token, height) {
		return false, nil
	}

	// Double-check against the network: the height read and the queue may
	// disagree transiently
	valid, err := t.source.IsTokenValid(ctx, ptx.Token)
	if err != nil {
		// Height already passed the bound; treat a failed confirmation
		// query as expired on the next successful poll instead
		return false, err
	}
	return !valid, nil
}
