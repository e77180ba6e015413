package runtime

import (
	"line-chat/contract"
	"line-chat/domain"
	"line-chat/errors"
	"sync"
)

var (
	_ contract.IBus     = (*Bus)(nil)
	_ contract.Receiver = (*Receiver)(nil)
)

// Bus fans every published message out to all current receivers.
//
// Each receiver owns a bounded queue. When a receiver falls behind, its oldest
// messages are dropped and it is told how many it missed on its next receive.
// Publish never waits on a receiver, so a slow client only loses its own backlog.
//
// Bus is safe for concurrent use by multiple goroutines.
type Bus struct {
	mu        sync.Mutex
	capacity  int
	receivers map[*Receiver]struct{}
	closed    bool
}

func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		capacity:  capacity,
		receivers: make(map[*Receiver]struct{}),
	}
}

// Subscribe returns a receiver fed only with messages published after this call.
// Subscribing to a closed bus returns a receiver that is already closed.
func (b *Bus) Subscribe() contract.Receiver {
	r := newReceiver(b, b.capacity)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		r.markClosed()
		return r
	}
	b.receivers[r] = struct{}{}
	return r
}

// Publish enqueues msg on every receiver. It succeeds with zero receivers and
// fails only once the bus is closed.
// The bus lock gives every receiver the same message order.
func (b *Bus) Publish(msg domain.BroadcastMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ErrBusClosed
	}
	for r := range b.receivers {
		r.push(msg)
	}
	return nil
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.receivers)
}

// Close stops the bus. Receivers report Closed once their queue is drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for r := range b.receivers {
		r.markClosed()
	}
	clear(b.receivers)
}

func (b *Bus) unsubscribe(r *Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.receivers, r)
}

// Receiver is a single subscription with its own ring buffer.
type Receiver struct {
	bus    *Bus
	mu     sync.Mutex
	queue  []domain.BroadcastMessage
	head   int
	size   int
	missed uint64
	closed bool
	ready  chan struct{}
}

func newReceiver(bus *Bus, capacity int) *Receiver {
	return &Receiver{
		bus:   bus,
		queue: make([]domain.BroadcastMessage, capacity),
		ready: make(chan struct{}, 1),
	}
}

func (r *Receiver) push(msg domain.BroadcastMessage) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	capacity := len(r.queue)
	if r.size == capacity {
		// Overwrite the oldest slot.
		r.queue[r.head] = ""
		r.head = (r.head + 1) % capacity
		r.size--
		r.missed++
	}
	r.queue[(r.head+r.size)%capacity] = msg
	r.size++
	r.mu.Unlock()

	r.signal()
}

func (r *Receiver) markClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.signal()
}

func (r *Receiver) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Ready fires when TryRecv may have something to return.
// A single signal can stand for several queued deliveries.
func (r *Receiver) Ready() <-chan struct{} {
	return r.ready
}

// TryRecv returns the next delivery without blocking.
// A pending lag is always reported before the messages that survived it.
func (r *Receiver) TryRecv() (domain.Delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.missed > 0 {
		missed := r.missed
		r.missed = 0
		r.signal()
		return domain.LaggedDelivery(missed), true
	}

	if r.size > 0 {
		msg := r.queue[r.head]
		r.queue[r.head] = ""
		r.head = (r.head + 1) % len(r.queue)
		r.size--
		if r.size > 0 || r.closed {
			r.signal()
		}
		return domain.MessageDelivery(msg), true
	}

	if r.closed {
		return domain.ClosedDelivery(), true
	}
	return domain.Delivery{}, false
}

// Close detaches the receiver from the bus and discards its backlog.
func (r *Receiver) Close() {
	r.bus.unsubscribe(r)

	r.mu.Lock()
	r.closed = true
	clear(r.queue)
	r.size = 0
	r.missed = 0
	r.mu.Unlock()

	r.signal()
}
