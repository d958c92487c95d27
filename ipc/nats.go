package ipc

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// NATSQueue is a MessageQueue backed by a NATS connection. It is the
// production transport; the control system treats it identically to the
// in-memory queue and only reads its counters.
type NATSQueue struct {
	conn   *nats.Conn
	logger *slog.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	// last-seen cumulative drop count per subscription, so slow-consumer
	// reports from different subscriptions add up instead of overwriting
	// each other
	dropMu   sync.Mutex
	subDrops map[*nats.Subscription]uint64
}

// ConnectNATS establishes a NATS connection with reconnect handling and
// wraps it as a MessageQueue.
func ConnectNATS(url string, logger *slog.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-queue")

	q := &NATSQueue{logger: logger, subDrops: make(map[*nats.Subscription]uint64)}

	conn, err := nats.Connect(url,
		nats.Name("dcs-control-system"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if err == nats.ErrSlowConsumer && sub != nil {
				if dropped, derr := sub.Dropped(); derr == nil && dropped >= 0 {
					q.recordDrops(sub, uint64(dropped))
				} else {
					q.dropped.Add(1)
				}
			}
			logger.Error("NATS async error", "error", err)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSQueue", "ConnectNATS", "connect")
	}

	q.conn = conn
	return q, nil
}

// recordDrops folds a subscription's cumulative drop count into the
// queue-wide counter. Only the delta since the last report is added, so the
// counter never decreases, and drops counted by failed publishes survive.
func (q *NATSQueue) recordDrops(sub *nats.Subscription, cumulative uint64) {
	q.dropMu.Lock()
	defer q.dropMu.Unlock()
	last := q.subDrops[sub]
	if cumulative <= last {
		return
	}
	q.dropped.Add(cumulative - last)
	q.subDrops[sub] = cumulative
}

// Publish sends data on a subject
func (q *NATSQueue) Publish(subject string, data []byte) error {
	if err := q.conn.Publish(subject, data); err != nil {
		q.dropped.Add(1)
		return errors.WrapTransient(err, "NATSQueue", "Publish", "publish")
	}
	q.published.Add(1)
	return nil
}

// Subscribe registers a handler for a subject
func (q *NATSQueue) Subscribe(subject string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSQueue", "Subscribe", "handler validation")
	}

	sub, err := q.conn.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Data)
		q.delivered.Add(1)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSQueue", "Subscribe", "subscribe")
	}
	return &natsSub{sub: sub}, nil
}

// Counters returns a snapshot of the queue's monotonic traffic counters
func (q *NATSQueue) Counters() Counters {
	return Counters{
		Published: q.published.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
	}
}

// Close drains and closes the connection
func (q *NATSQueue) Close() error {
	if q.conn == nil || q.conn.IsClosed() {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return errors.WrapTransient(err, "NATSQueue", "Close", "drain")
	}
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
