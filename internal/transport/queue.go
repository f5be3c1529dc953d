package transport

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/logging"
)

// Queue is the inbound event channel shared by transport implementations.
// Audio frames are dropped when the consumer falls behind; every other event
// waits for room. Producers may keep sending after Close.
type Queue struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex // guards closed against sends
	closed  bool
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewQueue creates a queue holding up to size events.
func NewQueue(size int, log *zap.SugaredLogger) *Queue {
	return &Queue{
		log:  logging.OrNop(log),
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// C returns the receive side, closed by Close.
func (q *Queue) C() <-chan Event { return q.ch }

// Send delivers ev. It reports false once the queue is closed.
func (q *Queue) Send(ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	if ev.Kind != AudioFrame {
		select {
		case q.ch <- ev:
			return true
		case <-q.done:
			return false
		}
	}
	select {
	case q.ch <- ev:
	default:
		if n := q.dropped.Add(1); n%100 == 1 {
			q.log.Warnw("⚠️  Agent behind, dropping frames", "participant", ev.Participant, "dropped", n)
		}
	}
	return true
}

// Dropped returns the number of frames dropped so far.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close wakes blocked senders and closes the channel.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}
