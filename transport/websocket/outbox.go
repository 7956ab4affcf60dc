package websocket

import "sync"

// Outbox is an unbounded multi-producer, single-consumer message queue.
//
// Push never blocks, so registry code can enqueue while holding a lock.
// Memory grows with a slow reader; there is no backpressure.
type Outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// NewOutbox returns an empty open outbox
func NewOutbox() *Outbox {
	return &Outbox{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends msg. It returns false once the outbox is closed.
func (o *Outbox) Push(msg []byte) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued message in push order
func (o *Outbox) Drain() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := o.queue
	o.queue = nil
	return msgs
}

// Ready is signalled after a Push; drain it with Drain.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Done is closed by Close
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close rejects further pushes. It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.done)
	}
}

// Len returns the number of queued messages
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
