package pipeline

import (
	"sync"
	"time"
)

// EventKind identifies an agent event.
type EventKind int

const (
	UserSaid EventKind = iota
	AssistantSaid
	DictationUpdated
	DictationSaved
	StateChanged
)

func (k EventKind) String() string {
	switch k {
	case UserSaid:
		return "user-said"
	case AssistantSaid:
		return "assistant-said"
	case DictationUpdated:
		return "dictation-updated"
	case DictationSaved:
		return "dictation-saved"
	case StateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Agent states reported with StateChanged.
const (
	StateListening = "listening"
	StateRecording = "recording"
	StateThinking  = "thinking"
	StateSpeaking  = "speaking"
)

// Event is published to subscribers for presentation. Text holds the
// transcript, reply or dictation text, Path the saved file and State the new
// agent state.
type Event struct {
	Kind        EventKind
	Participant string
	Text        string
	Path        string
	State       string
	Time        time.Time
}

// broker fans events out to subscribers without blocking the pipeline.
type broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[chan Event]struct{})}
}

func (b *broker) subscribe(size int) (<-chan Event, func()) {
	ch := make(chan Event, size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish drops the event for subscribers whose buffer is full.
func (b *broker) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
