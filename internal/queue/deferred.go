// Package queue holds work that is produced before its consumer is ready.
// The main case: a web sign-in yields a refresh token to persist while the
// credential service is still initializing.
package queue

import (
	"context"
	"sync"
	"time"
)

// PendingToken is a refresh token awaiting persistence.
type PendingToken struct {
	Provider     string
	AccountType  string
	RefreshToken string
	QueuedAt     time.Time
}

// Deferred is a bounded FIFO of pending tokens with an explicit drain.
// When full, the oldest entry is dropped so the freshest token survives.
type Deferred struct {
	mu       sync.Mutex
	items    []PendingToken
	capacity int
}

func NewDeferred(capacity int) *Deferred {
	if capacity <= 0 {
		capacity = 8
	}
	return &Deferred{capacity: capacity}
}

// Enqueue adds a pending token. It reports whether an older entry had to be
// evicted to make room.
func (d *Deferred) Enqueue(t PendingToken) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t.QueuedAt.IsZero() {
		t.QueuedAt = time.Now()
	}

	evicted := false
	if len(d.items) >= d.capacity {
		d.items = d.items[1:]
		evicted = true
	}
	d.items = append(d.items, t)
	return evicted
}

func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Drain hands every queued token to sink in FIFO order. On the first sink
// error the failed token and everything behind it are re-queued so a later
// drain can retry. Returns the number of tokens flushed.
func (d *Deferred) Drain(ctx context.Context, sink func(ctx context.Context, t PendingToken) error) (int, error) {
	d.mu.Lock()
	pending := d.items
	d.items = nil
	d.mu.Unlock()

	for i, t := range pending {
		if err := sink(ctx, t); err != nil {
			d.mu.Lock()
			d.items = append(pending[i:], d.items...)
			d.mu.Unlock()
			return i, err
		}
	}
	return len(pending), nil
}
