package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commissionflow/docintake/internal/document"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInvalidateCancelsInflightAndAppliesFreshResult(t *testing.T) {
	started := make(chan context.Context, 1)
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(ctx context.Context) ([]document.Document, error) {
		switch calls.Add(1) {
		case 1:
			started <- ctx
			<-release // slow response, resolves only after being superseded
			return docs(document.StatusProcessing), nil
		default:
			return []document.Document{{ID: "fresh", Status: document.StatusCompleted}}, nil
		}
	}

	w := New(fetch, Config{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	inflightCtx := <-started

	err := w.Invalidate(ctx)
	require.NoError(t, err)

	// The superseded request was cancelled before the new one was issued.
	assert.Error(t, inflightCtx.Err())

	snap := w.Snapshot()
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "fresh", snap.Documents[0].ID)

	// Let the stale fetch resolve; its result must never be applied.
	close(release)
	time.Sleep(50 * time.Millisecond)
	snap = w.Snapshot()
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "fresh", snap.Documents[0].ID)
}

func TestFailureCountResetsOnSuccess(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]document.Document, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return docs(document.StatusCompleted), nil
	}

	w := New(fetch, Config{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Snapshot, 8)
	w.onUpdate = func(s Snapshot) { updates <- s }
	go w.Run(ctx)

	first := <-updates
	assert.Equal(t, 1, first.Failures)
	assert.Error(t, first.Err)
	assert.False(t, first.Fetched)

	// A forced refresh succeeds and resets the failure counter without
	// waiting out the backoff.
	require.NoError(t, w.Invalidate(ctx))
	snap := w.Snapshot()
	assert.Equal(t, 0, snap.Failures)
	assert.NoError(t, snap.Err)
	assert.True(t, snap.Fetched)
}

func TestDegradedAfterThresholdKeepsLastGoodData(t *testing.T) {
	w := New(nil, Config{}, discardLogger())

	w.gen = 1
	require.True(t, w.apply(fetchResult{gen: 1, docs: docs(document.StatusCompleted)}))

	for i := 0; i < degradedThreshold; i++ {
		w.gen++
		require.True(t, w.apply(fetchResult{gen: w.gen, err: errors.New("unreachable")}))
	}

	snap := w.Snapshot()
	assert.Equal(t, degradedThreshold, snap.Failures)
	assert.True(t, snap.Degraded)
	// Errors never drop the last good view.
	assert.Len(t, snap.Documents, 1)
	assert.True(t, snap.Fetched)
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	w := New(nil, Config{}, discardLogger())

	w.gen = 2
	applied := w.apply(fetchResult{gen: 1, docs: []document.Document{{ID: "old"}}})
	assert.False(t, applied)
	assert.Empty(t, w.Snapshot().Documents)
}

func TestSingleDocumentRunReturnsOnStableStatus(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]document.Document, error) {
		calls.Add(1)
		return []document.Document{{ID: "d1", Status: document.StatusReviewPending}}, nil
	}

	w := New(fetch, Config{SingleDocument: true}, discardLogger())
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("single-document watcher did not stop on stable status")
	}
	// Stopped after the one observation; no further fetches were issued.
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidateAfterShutdown(t *testing.T) {
	fetch := func(ctx context.Context) ([]document.Document, error) {
		return docs(document.StatusCompleted), nil
	}
	w := New(fetch, Config{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Invalidate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOnUpdateObservesEveryAppliedResult(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]document.Document, error) {
		if calls.Add(1)%2 == 0 {
			return nil, errors.New("flaky")
		}
		return docs(document.StatusCompleted), nil
	}

	updates := make(chan Snapshot, 8)
	w := New(fetch, Config{OnUpdate: func(s Snapshot) { updates <- s }}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-updates // initial success

	// The forced refresh fails (second call); Invalidate surfaces that
	// error to its caller, and the observer saw the failed result too.
	require.Error(t, w.Invalidate(ctx))
	snap := <-updates
	assert.Equal(t, 1, snap.Failures)
	// The prior good data is still there for rendering.
	assert.NotEmpty(t, snap.Documents)
}
