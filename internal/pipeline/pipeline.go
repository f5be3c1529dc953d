// Package pipeline wires the turn-taking loop together: frames from a
// transport go through the level meter and turn detector, finished
// utterances are transcribed on a worker, and the transcript is routed to
// dictation or conversation before the reply is spoken through the gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/gate"
	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/transport"
	"github.com/agalue/ada-voice-agent/internal/turn"
)

// Transcriber converts speech to text. Samples are float32 in [-1, 1].
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (text, language string, err error)
}

// DefaultGreeting is spoken when a participant joins.
const DefaultGreeting = "Hello! I'm Ada. How can I help you today?"

// Deps are the external engines the agent drives. They are shared by every
// participant session and must be safe for concurrent use.
type Deps struct {
	Transcriber Transcriber
	Responder   conversation.Responder
	Synthesizer gate.Synthesizer
}

// Options tunes the agent.
type Options struct {
	Thresholds         turn.Thresholds
	Gate               gate.Options
	Conversation       conversation.Options
	DictationDir       string
	TranscriberRate    int // rate the transcriber expects, 16000 for Whisper
	MinTranscriptChars int // shorter transcripts are treated as noise
	STTTimeout         time.Duration
	LLMTimeout         time.Duration
	Greeting           string // spoken on join, empty disables it
	QueueSize          int    // pending jobs per participant
	StatsEvery         int    // frames between audio stats log lines, 0 disables
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Thresholds:         turn.DefaultThresholds(),
		Gate:               gate.DefaultOptions(),
		DictationDir:       "dictations",
		TranscriberRate:    16000,
		MinTranscriptChars: 3,
		STTTimeout:         30 * time.Second,
		LLMTimeout:         60 * time.Second,
		Greeting:           DefaultGreeting,
		QueueSize:          4,
		StatsEvery:         100,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := o.Thresholds.Validate(); err != nil {
		return err
	}
	if o.TranscriberRate <= 0 {
		return fmt.Errorf("transcriber rate must be positive, got %d", o.TranscriberRate)
	}
	if o.QueueSize < 1 {
		return fmt.Errorf("queue size must be >= 1, got %d", o.QueueSize)
	}
	return nil
}

// Agent runs one Session per participant over a transport.
type Agent struct {
	deps Deps
	opts Options
	log  *zap.SugaredLogger

	events *broker

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewAgent creates an agent.
func NewAgent(deps Deps, opts Options, log *zap.SugaredLogger) (*Agent, error) {
	if deps.Transcriber == nil || deps.Responder == nil || deps.Synthesizer == nil {
		return nil, errors.New("transcriber, responder and synthesizer are required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		deps:     deps,
		opts:     opts,
		log:      logging.OrNop(log),
		events:   newBroker(),
		sessions: make(map[string]*Session),
	}, nil
}

// Subscribe returns a channel of agent events and a function that ends the
// subscription. Events are dropped when the channel is full.
func (a *Agent) Subscribe() (<-chan Event, func()) {
	return a.events.subscribe(64)
}

// Session returns the session of a participant, if any.
func (a *Agent) Session(participant string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[participant]
	return s, ok
}

// Run consumes transport events until ctx is done or the event channel is
// closed. All sessions are stopped before it returns.
func (a *Agent) Run(ctx context.Context, t transport.Transport) error {
	defer a.stopAll()
	a.log.Info("🎧 Agent ready, waiting for participants")
	events := t.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				a.log.Info("Transport closed")
				return nil
			}
			a.dispatch(ctx, t, ev)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, t transport.Transport, ev transport.Event) {
	switch ev.Kind {
	case transport.ParticipantJoined:
		s := a.session(ctx, t, ev.Participant)
		if a.opts.Greeting != "" {
			s.enqueue(job{kind: jobGreet, text: a.opts.Greeting})
		}
	case transport.ParticipantLeft:
		a.remove(ev.Participant)
	case transport.AudioFrame:
		a.session(ctx, t, ev.Participant).HandleFrame(ev.Frame)
	case transport.TextMessage:
		a.session(ctx, t, ev.Participant).HandleText(string(ev.Data))
	}
}

// session returns the participant's session, creating it on first sight.
func (a *Agent) session(ctx context.Context, t transport.Transport, participant string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[participant]; ok {
		return s
	}
	s := newSession(ctx, a, t, participant)
	a.sessions[participant] = s
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		s.run()
	}()
	a.log.Infow("👤 Participant joined", "participant", participant)
	return s
}

// remove stops a session without waiting for its in-flight work.
func (a *Agent) remove(participant string) {
	a.mu.Lock()
	s, ok := a.sessions[participant]
	delete(a.sessions, participant)
	a.mu.Unlock()
	if ok {
		s.stop()
		a.log.Infow("👋 Participant left", "participant", participant)
	}
}

func (a *Agent) stopAll() {
	a.mu.Lock()
	for id, s := range a.sessions {
		s.stop()
		delete(a.sessions, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
