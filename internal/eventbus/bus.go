package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// queueHighWater is the per-subscriber backlog above which the bus starts
// warning. Delivery stays unbounded; a stalled GUI must never block a
// transition, but it should be visible in the logs long before it becomes
// a memory problem.
const queueHighWater = 1024

// Bus is a single-producer, multi-consumer broadcast channel. Publish
// appends to each subscriber's unbounded queue and returns immediately; a
// per-subscriber goroutine drains the queue into the delivery channel at
// whatever pace the subscriber can take.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	logger *zap.Logger
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	out    chan Event
	warned bool
}

// NewBus creates an event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its delivery channel
// plus a cancel function. The channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{out: make(chan Event)}
	sub.cond = sync.NewCond(&sub.mu)

	if b.closed {
		close(sub.out)
		return sub.out, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	go sub.drain()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.stop()
	}

	return sub.out, cancel
}

// Publish broadcasts the event to every subscriber without blocking
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if depth := sub.enqueue(event); depth > queueHighWater {
			sub.warnOnce(b.logger, depth)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops delivery and closes every subscriber channel
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscriber) enqueue(event Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.queue = append(s.queue, event)
	s.cond.Signal()
	return len(s.queue)
}

func (s *subscriber) warnOnce(logger *zap.Logger, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned {
		return
	}
	s.warned = true
	logger.Warn("Event subscriber is stalled, queue growing unbounded",
		zap.Int("queued", depth))
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.out)
			return
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- event
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()

	// Unblock a drain goroutine parked on a full delivery channel.
	go func() {
		for range s.out {
		}
	}()
}
