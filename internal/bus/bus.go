// Package bus carries gateway events between publishers and the goroutine
// that writes them to local connections. Events are keyed by room so the
// transport never needs to know about sockets.
package bus

import (
	"context"
	"errors"
	"sync"

	"chat-core/internal/models"
)

var ErrClosed = errors.New("bus closed")

// Delivery addresses one frame. An empty Room means every connection.
type Delivery struct {
	Room    string       `json:"room,omitempty"`
	Exclude string       `json:"exclude,omitempty"` // connection id that must not receive it
	Frame   models.Frame `json:"frame"`
}

type Handler func(Delivery)

// Bus delivers published events to the subscribed handler in publish order.
type Bus interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(handler Handler) error
	Close() error
}

// LocalBus is an in-process bus. Publish never blocks: deliveries queue up
// until the subscriber goroutine takes them.
type LocalBus struct {
	mu      sync.Mutex
	queue   []Delivery
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	started bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (b *LocalBus) Publish(_ context.Context, d Delivery) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.queue = append(b.queue, d)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *LocalBus) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return errors.New("bus already has a subscriber")
	}
	b.started = true
	go b.run(handler)
	return nil
}

func (b *LocalBus) run(handler Handler) {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			batch := b.queue
			b.queue = nil
			b.mu.Unlock()

			for _, d := range batch {
				handler(d)
			}
		}
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
