package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// MemQueue is an in-process MessageQueue used when no broker is configured
// and throughout the test suites. Each subscriber gets a bounded buffer of
// messageQueueSize entries; a full buffer drops the message for that
// subscriber and counts it.
type MemQueue struct {
	capacity int

	mu     sync.RWMutex
	subs   map[string][]*memSub
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	pool BufferPool
	wg   sync.WaitGroup
}

type memSub struct {
	q       *MemQueue
	subject string
	ch      chan memMsg
	once    sync.Once
}

type memMsg struct {
	subject string
	data    []byte
}

// NewMemQueue creates an in-memory queue with the given per-subscriber
// capacity. Buffers for delivered copies come from pool when provided.
func NewMemQueue(capacity int, pool BufferPool) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		capacity: capacity,
		subs:     make(map[string][]*memSub),
		pool:     pool,
	}
}

// Publish delivers data to every subscriber of the subject. Data is copied
// per subscriber; subscribers whose buffer is full drop the message.
func (q *MemQueue) Publish(subject string, data []byte) error {
	// The read lock is held across the non-blocking sends so channels are
	// never closed mid-publish.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.WrapInvalid(errors.ErrQueueClosed, "MemQueue", "Publish", "queue state check")
	}

	q.published.Add(1)

	for _, sub := range q.subs[subject] {
		var buf []byte
		if q.pool != nil {
			buf = q.pool.Get(len(data))
		} else {
			buf = make([]byte, len(data))
		}
		copy(buf, data)

		select {
		case sub.ch <- memMsg{subject: subject, data: buf}:
		default:
			q.dropped.Add(1)
			if q.pool != nil {
				q.pool.Put(buf)
			}
		}
	}
	return nil
}

// Subscribe registers a handler for a subject. The handler runs on a
// dedicated goroutine; it must not retain the data slice.
func (q *MemQueue) Subscribe(subject string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "MemQueue", "Subscribe", "handler validation")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.WrapInvalid(errors.ErrQueueClosed, "MemQueue", "Subscribe", "queue state check")
	}

	sub := &memSub{q: q, subject: subject, ch: make(chan memMsg, q.capacity)}
	q.subs[subject] = append(q.subs[subject], sub)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for msg := range sub.ch {
			h(msg.subject, msg.data)
			q.delivered.Add(1)
			if q.pool != nil {
				q.pool.Put(msg.data)
			}
		}
	}()

	return sub, nil
}

// Counters returns a snapshot of the queue's monotonic traffic counters
func (q *MemQueue) Counters() Counters {
	return Counters{
		Published: q.published.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Close stops delivery and releases all subscriptions. Idempotent.
func (q *MemQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, list := range q.subs {
		for _, sub := range list {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	q.subs = make(map[string][]*memSub)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Unsubscribe removes the subscription and stops its delivery goroutine
func (s *memSub) Unsubscribe() error {
	s.q.mu.Lock()
	list := s.q.subs[s.subject]
	for i, sub := range list {
		if sub == s {
			s.q.subs[s.subject] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.ch) })
	s.q.mu.Unlock()
	return nil
}
