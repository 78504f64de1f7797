package queue

import (
	"context"
)

// Notifier carries best-effort wake-up signals from the enqueuer to the
// worker loops. Delivery is not guaranteed: a dropped signal only delays a
// job until the next sweep, it never loses it.
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
	// Listen blocks until a job id arrives or ctx is done.
	Listen(ctx context.Context) (string, error)
}

// ChanNotifier is the in-process Notifier used by tests and redis-less dev
// runs. A full buffer drops the signal instead of blocking the enqueuer.
type ChanNotifier struct {
	ch chan string
}

func NewChanNotifier(buffer int) *ChanNotifier {
	return &ChanNotifier{ch: make(chan string, buffer)}
}

func (n *ChanNotifier) Notify(ctx context.Context, jobID string) error {
	select {
	case n.ch <- jobID:
	default:
		// Buffer full; the sweep picks the job up.
	}
	return nil
}

func (n *ChanNotifier) Listen(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case jobID := <-n.ch:
		return jobID, nil
	}
}
