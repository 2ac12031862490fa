package wal

import (
	"context"
	"sync"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// Ticket is the acknowledgement handle for one appended record.
type Ticket struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

// committedTicket is returned by synchronous appends.
var committedTicket = func() *Ticket {
	t := newTicket()
	t.resolve(nil)
	return t
}()

// resolve settles the ticket; only the first call has an effect.
func (t *Ticket) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done returns a channel closed once the ticket is settled.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome after Done is closed.
func (t *Ticket) Err() error {
	<-t.done
	return t.err
}

// Wait blocks until the record is durable or has failed. If ctx ends
// first, Wait returns domain.ErrCancelled; the record may still commit
// later.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	default:
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return domain.ErrCancelled.WithCause(ctx.Err())
	}
}
