package poller

import (
	"time"

	"github.com/commissionflow/docintake/internal/document"
)

const (
	// bootstrapInterval applies before the first successful fetch, so a
	// fresh watcher converges on a view quickly.
	bootstrapInterval = 3 * time.Second
	// activeInterval applies while any watched document is in an active
	// state and may transition soon.
	activeInterval = 2 * time.Second
	// idleInterval applies when every watched document is stable.
	idleInterval = 12 * time.Second

	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second

	// degradedThreshold is the consecutive-failure count past which the
	// snapshot is flagged degraded for user-facing messaging. Polling
	// itself never gives up.
	degradedThreshold = 5
)

// stopPolling is the sentinel interval meaning the watcher should issue no
// further scheduled fetches.
const stopPolling time.Duration = -1

// Backoff returns the retry delay after n consecutive failures:
// min(1s * 2^n, 30s).
func Backoff(n int) time.Duration {
	if n <= 0 {
		return backoffBase
	}
	// Past 5 doublings the shift already exceeds the cap.
	if n > 5 {
		return backoffCap
	}
	d := backoffBase << uint(n)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// NextInterval computes the delay before the next fetch for a list scope.
// failures is the current consecutive-failure count (0 after a success);
// fetched reports whether any fetch has ever succeeded.
func NextInterval(docs []document.Document, fetched bool, failures int) time.Duration {
	if failures > 0 {
		return Backoff(failures)
	}
	if !fetched {
		return bootstrapInterval
	}
	if document.AnyActive(docs) {
		return activeInterval
	}
	return idleInterval
}

// nextSingleInterval is NextInterval for a single-document scope: once the
// document settles into a stable status the watcher stops entirely.
func nextSingleInterval(docs []document.Document, fetched bool, failures int) time.Duration {
	if failures == 0 && fetched && len(docs) > 0 && docs[0].Status.Stable() {
		return stopPolling
	}
	return NextInterval(docs, fetched, failures)
}
