// Package poller maintains an eventually-consistent local view of document
// status. It polls a fetch function on an adaptive cadence: fast while any
// watched document is still being worked on, slow once everything is
// stable, and with capped exponential backoff after fetch failures.
//
// One Watcher owns one scope (the full document list, or a single document
// keyed by ID). Scopes are independent: invalidating one never disturbs
// another.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/commissionflow/docintake/internal/document"
)

// Fetcher retrieves the current documents for a scope. A single-document
// scope returns a one-element slice. The context is cancelled when the
// request is superseded by a newer one; a cancelled fetch's result is
// discarded, never applied.
type Fetcher func(ctx context.Context) ([]document.Document, error)

// Snapshot is the watcher's current view of its scope.
type Snapshot struct {
	Documents []document.Document
	// Fetched reports whether any fetch has ever succeeded.
	Fetched bool
	// Err is the most recent fetch error, nil after a success.
	Err error
	// Failures counts consecutive fetch failures.
	Failures int
	// Degraded is set once Failures crosses the user-visible threshold.
	// The watcher keeps retrying at the capped interval regardless.
	Degraded bool
	// At is the time of the last applied successful fetch.
	At time.Time
}

// Config configures a Watcher.
type Config struct {
	// SingleDocument stops the watcher once the document settles into a
	// stable status. Restarting requires a new call to Run.
	SingleDocument bool
	// OnUpdate, if set, is invoked after every applied fetch result,
	// success or failure. It runs on the watcher goroutine and must not
	// block.
	OnUpdate func(Snapshot)
}

// Watcher polls one scope. Create with New, drive with Run.
type Watcher struct {
	fetch    Fetcher
	single   bool
	onUpdate func(Snapshot)
	logger   *slog.Logger

	forceCh chan chan error

	mu      sync.Mutex
	gen     int
	cancel  context.CancelFunc
	snap    Snapshot
	waiters []chan error
}

// New creates a Watcher for the given fetch function.
func New(fetch Fetcher, cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fetch:    fetch,
		single:   cfg.SingleDocument,
		onUpdate: cfg.OnUpdate,
		logger:   logger,
		forceCh:  make(chan chan error),
	}
}

// Snapshot returns the current view of the scope.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Run polls until ctx is cancelled or, in single-document mode, until a
// stable status is observed. The first fetch is issued immediately; each
// subsequent fetch is scheduled only after the previous one completes, so
// fetches for a scope never overlap. Run keeps going while the consumer is
// backgrounded; only ctx cancellation stops it.
func (w *Watcher) Run(ctx context.Context) {
	defer w.cancelInflight()

	results := make(chan fetchResult, 4)
	w.startFetch(ctx, results)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerSet := false

	for {
		select {
		case <-ctx.Done():
			w.failWaiters(ctx.Err())
			return

		case done := <-w.forceCh:
			// Cancel-then-fetch: startFetch cancels the in-flight
			// request, whose late result is then discarded by its
			// stale generation.
			if timerSet {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timerSet = false
			}
			w.addWaiter(done)
			w.startFetch(ctx, results)

		case res := <-results:
			if !w.apply(res) {
				continue // superseded request, discard
			}
			w.notifyWaiters(res.err)
			interval := w.nextInterval()
			if interval == stopPolling {
				w.logger.Debug("poller: document stable, stopping")
				return
			}
			timer.Reset(interval)
			timerSet = true

		case <-timer.C:
			timerSet = false
			w.startFetch(ctx, results)
		}
	}
}

// Invalidate cancels any in-flight fetch for this scope, issues a fresh one
// immediately and blocks until that fetch's result has been applied. The
// returned error is the fetch error, so callers can sequence follow-up
// actions on refreshed data. Invalidate requires Run to be active.
func (w *Watcher) Invalidate(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case w.forceCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fetchResult struct {
	gen  int
	docs []document.Document
	err  error
}

// startFetch supersedes any outstanding request and launches a new one.
// Only the watcher goroutine calls it, so at most one request is ever in
// flight per scope.
func (w *Watcher) startFetch(ctx context.Context, results chan<- fetchResult) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	fctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.gen++
	gen := w.gen
	w.mu.Unlock()

	go func() {
		docs, err := w.fetch(fctx)
		if cerr := fctx.Err(); cerr != nil {
			err = cerr
		}
		select {
		case results <- fetchResult{gen: gen, docs: docs, err: err}:
		case <-ctx.Done():
		}
	}()
}

// apply folds a fetch result into the snapshot. Results from superseded
// requests are rejected so an old slow response can never clobber a fresher
// one.
func (w *Watcher) apply(res fetchResult) bool {
	w.mu.Lock()
	if res.gen != w.gen {
		w.mu.Unlock()
		return false
	}
	if res.err != nil {
		w.snap.Failures++
		w.snap.Err = res.err
		w.snap.Degraded = w.snap.Failures >= degradedThreshold
	} else {
		w.snap.Documents = res.docs
		w.snap.Fetched = true
		w.snap.Failures = 0
		w.snap.Err = nil
		w.snap.Degraded = false
		w.snap.At = time.Now()
	}
	snap := w.snap
	w.mu.Unlock()

	if res.err != nil {
		w.logger.Warn("poller: fetch failed", "failures", snap.Failures, "retryIn", Backoff(snap.Failures).String(), "error", res.err)
	}
	if w.onUpdate != nil {
		w.onUpdate(snap)
	}
	return true
}

func (w *Watcher) nextInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.single {
		return nextSingleInterval(w.snap.Documents, w.snap.Fetched, w.snap.Failures)
	}
	return NextInterval(w.snap.Documents, w.snap.Fetched, w.snap.Failures)
}

func (w *Watcher) cancelInflight() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) addWaiter(done chan error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waiters = append(w.waiters, done)
}

// notifyWaiters releases every caller blocked in Invalidate. Waiters from a
// superseded force are satisfied by the next applied result: it was issued
// after their call, so the data they see is at least as fresh.
func (w *Watcher) notifyWaiters(err error) {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()
	for _, done := range waiters {
		done <- err
	}
}

func (w *Watcher) failWaiters(err error) {
	w.notifyWaiters(err)
}
