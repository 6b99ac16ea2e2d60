package audit

import (
	"context"
	"errors"
	"sync"
)

// Broadcaster fans stored entries out to in-process subscribers, such as
// live audit feeds. Slow subscribers miss entries instead of blocking Record.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Entry
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Entry)}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(_ context.Context, e Entry) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

type multiPublisher []Publisher

// MultiPublisher publishes to every non-nil p and joins their errors.
func MultiPublisher(ps ...Publisher) Publisher {
	out := make(multiPublisher, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, e Entry) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
