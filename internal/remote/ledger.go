package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/metrics"
)

type upload struct {
	name string
	done chan struct{}
	err  error
}

// Ledger tracks uploads running in the background. Enqueued work is detached
// from the caller's cancellation; Drain waits for everything still pending.
type Ledger struct {
	mu      sync.Mutex
	pending []*upload
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Go runs fn in the background and records it as pending. Failures are
// logged as warnings and reported again by Drain.
func (l *Ledger) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	u := &upload{name: name, done: make(chan struct{})}

	l.mu.Lock()
	l.pending = append(l.pending, u)
	l.mu.Unlock()
	metrics.PendingUploads.Inc()

	go func() {
		defer close(u.done)
		defer metrics.PendingUploads.Dec()
		if err := fn(ctx); err != nil {
			u.err = fmt.Errorf("%s: %w", name, err)
			ctxlog.FromContext(ctx).Warn("Background upload failed.", "upload", name, "error", err)
		}
	}()
}

// Pending returns the number of uploads not yet drained.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Drain waits for every pending upload, including uploads enqueued while
// draining, and returns their joined errors. It stops early when ctx ends.
func (l *Ledger) Drain(ctx context.Context) error {
	var errs []error
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return errors.Join(errs...)
		}

		for _, u := range batch {
			select {
			case <-u.done:
				if u.err != nil {
					errs = append(errs, u.err)
				}
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			}
		}
	}
}
