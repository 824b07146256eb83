package media

import (
	"context"
	"sync"
)

// Tracker enforces at most one in-flight enrichment job per session.
// Launching a new job cancels the previous one; the cancelled run resolves
// silently, so stale results never reach the transcript.
type Tracker struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	pendingID string
	wg        sync.WaitGroup
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Launch starts job on its own goroutine with a context that is cancelled
// when a newer job launches or the tracker stops.
func (t *Tracker) Launch(runner *Runner, req Request) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.pendingID = req.MessageID
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		runner.Run(ctx, req)

		t.mu.Lock()
		if t.pendingID == req.MessageID {
			t.pendingID = ""
			t.cancel = nil
		}
		t.mu.Unlock()
	}()
}

// CancelPending cancels any in-flight job without starting a new one and
// returns the message ID it was bound to, so the caller can clean up the
// orphaned placeholder. Used when a new turn begins and on session close.
func (t *Tracker) CancelPending() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.pendingID
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.pendingID = ""
	return pending
}

// Wait blocks until all launched jobs have returned. Session close uses it so
// nothing touches a discarded transcript.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
