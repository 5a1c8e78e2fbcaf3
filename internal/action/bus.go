package action

import "sync"

// Queue is an unbounded FIFO of actions. Any number of goroutines may Send;
// Send never blocks, so MIDI driver callbacks and socket loops are never
// held up by a slow controller.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Action
	closed bool
}

// NewQueue creates an empty open queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends a to the queue. It reports false if the queue is closed.
func (q *Queue) Send(a Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, a)
	q.cond.Signal()
	return true
}

// Recv blocks until an action is available. ok is false once the queue is
// closed and drained.
func (q *Queue) Recv() (a Action, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Action{}, false
	}
	a = q.items[0]
	q.items[0] = Action{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return a, true
}

// Len returns the number of pending actions
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked receiver. Pending actions can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Drain calls fn for every action received from q until it is closed.
func Drain(q *Queue, fn func(Action)) {
	for {
		a, ok := q.Recv()
		if !ok {
			return
		}
		fn(a)
	}
}

// Bus connects control sources to the session controller ("to-controller")
// and echoes outcomes back to notifiers ("from-controller"). Each notifier
// subscribes its own queue so every reply reaches every notifier.
type Bus struct {
	inbound *Queue

	mu          sync.Mutex
	subscribers []*Queue
	closed      bool
}

// NewBus creates a bus with no subscribers
func NewBus() *Bus {
	return &Bus{inbound: NewQueue()}
}

// Send queues a for the controller.
func (b *Bus) Send(a Action) {
	b.inbound.Send(a)
}

// Next blocks for the next action addressed to the controller.
func (b *Bus) Next() (Action, bool) {
	return b.inbound.Recv()
}

// Subscribe returns a queue receiving every subsequent reply.
func (b *Bus) Subscribe() *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := NewQueue()
	if b.closed {
		q.Close()
		return q
	}
	b.subscribers = append(b.subscribers, q)
	return q
}

// Reply publishes a controller outcome to all subscribers.
func (b *Bus) Reply(a Action) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.subscribers {
		q.Send(a)
	}
}

// Close shuts both directions down.
func (b *Bus) Close() {
	b.inbound.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, q := range b.subscribers {
		q.Close()
	}
}
