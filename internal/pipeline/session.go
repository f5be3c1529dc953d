package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/dictation"
	"github.com/agalue/ada-voice-agent/internal/gate"
	"github.com/agalue/ada-voice-agent/internal/transport"
	"github.com/agalue/ada-voice-agent/internal/turn"
)

type jobKind int

const (
	jobUtterance jobKind = iota
	jobText
	jobGreet
)

type job struct {
	kind      jobKind
	utterance *turn.Utterance
	text      string
}

// Session is the pipeline state of one participant. Frames are fed from the
// agent's dispatch loop; transcription, routing and speaking run on the
// session worker one job at a time.
type Session struct {
	id    string
	agent *Agent
	t     transport.Transport
	log   *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job

	detector *turn.Detector
	dict     *dictation.Session
	convo    *conversation.Session
	gate     *gate.Gate

	frames atomic.Int64
}

func newSession(parent context.Context, a *Agent, t transport.Transport, id string) *Session {
	ctx, cancel := context.WithCancel(parent)
	log := a.log.With("participant", id)
	s := &Session{
		id:       id,
		agent:    a,
		t:        t,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(chan job, a.opts.QueueSize),
		detector: turn.NewDetector(a.opts.Thresholds, log),
		dict:     dictation.NewSession(a.opts.DictationDir, log),
		convo:    conversation.NewSession(a.deps.Responder, a.opts.Conversation, log),
	}
	s.gate = gate.New(a.deps.Synthesizer, participantOutput{t: t, id: id}, a.opts.Gate, s.onSpeaking, log)
	return s
}

// ID returns the participant identity.
func (s *Session) ID() string { return s.id }

// Speaking reports whether the session's speaking lock is held.
func (s *Session) Speaking() bool { return s.gate.Speaking() }

// Dictating reports whether a dictation is open.
func (s *Session) Dictating() bool { return s.dict.Active() }

// History returns the conversation so far.
func (s *Session) History() []conversation.Message { return s.convo.History() }

// HandleFrame runs one detector tick. It never blocks on the worker.
func (s *Session) HandleFrame(f audio.Frame) {
	level := f.Level()
	n := s.frames.Add(1)

	speaking := s.gate.Speaking()
	res := s.detector.Process(f, level, speaking)

	if every := int64(s.agent.opts.StatsEvery); every > 0 && n%every == 0 {
		speech, _ := s.detector.Counters()
		s.log.Debugw("📊 Audio stats",
			"frames", n, "rms", level, "speech_count", speech,
			"recording", s.detector.Recording(), "speaking", speaking)
	}

	switch {
	case res.Started:
		s.state(StateRecording)
	case res.Utterance != nil:
		if s.enqueue(job{kind: jobUtterance, utterance: res.Utterance}) {
			s.state(StateThinking)
		}
	case res.Dropped && !speaking:
		s.state(StateListening)
	}
}

// HandleText queues a text message from the participant.
func (s *Session) HandleText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.log.Infow("💬 Text message", "text", text)
	s.enqueue(job{kind: jobText, text: text})
}

// enqueue hands a job to the worker, dropping it when the queue is full.
func (s *Session) enqueue(j job) bool {
	select {
	case s.jobs <- j:
		return true
	default:
		s.log.Warnw("⚠️  Worker busy, dropping job", "kind", j.kind)
		return false
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.handle(j)
		}
	}
}

// stop abandons in-flight work. A pending Speak returns and releases the lock.
func (s *Session) stop() { s.cancel() }

func (s *Session) handle(j job) {
	switch j.kind {
	case jobGreet:
		s.say(j.text)
	case jobText:
		s.respond(j.text)
	case jobUtterance:
		text := s.transcribe(j.utterance)
		if text == "" {
			s.state(StateListening)
			return
		}
		s.respond(text)
	}
}

// respond routes user text to dictation or the conversation and speaks the
// reply, if there is one.
func (s *Session) respond(text string) {
	s.agent.events.publish(Event{Kind: UserSaid, Participant: s.id, Text: text})

	wasActive := s.dict.Active()
	action := dictation.Route(text, wasActive)
	s.log.Debugw("Routed transcript", "action", action.Kind)

	if reply, handled := s.dict.Apply(action); handled {
		s.dictationEvent(action, wasActive)
		if reply == "" {
			s.state(StateListening)
			return
		}
		s.say(reply)
		return
	}

	ctx, cancel := s.timeout(s.agent.opts.LLMTimeout)
	reply, err := s.convo.Converse(ctx, text)
	cancel()
	if err != nil && s.ctx.Err() != nil {
		return
	}
	s.say(reply)
}

func (s *Session) dictationEvent(a dictation.Action, wasActive bool) {
	switch a.Kind {
	case dictation.Save:
		if wasActive && !s.dict.Active() {
			path := filepath.Join(s.dict.Dir(), a.Filename)
			s.agent.events.publish(Event{Kind: DictationSaved, Participant: s.id, Path: path})
		}
	case dictation.Cancel:
		if wasActive {
			s.agent.events.publish(Event{Kind: DictationUpdated, Participant: s.id})
		}
	case dictation.Start, dictation.Append:
		s.agent.events.publish(Event{Kind: DictationUpdated, Participant: s.id, Text: s.dict.Text()})
	}
}

// say mirrors the reply over the data channel and speaks it.
func (s *Session) say(reply string) {
	s.log.Infow("🤖 Ada", "text", reply)
	s.agent.events.publish(Event{Kind: AssistantSaid, Participant: s.id, Text: reply})
	if err := s.t.PublishText(s.ctx, s.id, []byte(reply)); err != nil {
		s.log.Debugw("Failed to send text reply", "error", err)
	}
	if err := s.gate.Speak(s.ctx, reply); err != nil {
		s.log.Debugw("Reply not fully spoken", "error", err)
	}
}

func (s *Session) transcribe(u *turn.Utterance) string {
	log := s.log.With("utterance", u.ID)
	opts := s.agent.opts

	samples := audio.Resample(audio.Int16ToFloat32(u.Samples()), u.SampleRate, opts.TranscriberRate)
	if u.SampleRate != opts.TranscriberRate {
		log.Debugw("Resampled audio for STT", "from", u.SampleRate, "to", opts.TranscriberRate)
	}

	ctx, cancel := s.timeout(opts.STTTimeout)
	defer cancel()
	text, lang, err := s.agent.deps.Transcriber.Transcribe(ctx, samples, opts.TranscriberRate)
	if err != nil {
		log.Errorw("❌ Transcription error", "error", err)
		return ""
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < opts.MinTranscriptChars {
		log.Debugw("Transcript too short, ignoring", "text", text)
		return ""
	}
	log.Infow("👤 User said", "text", text, "language", lang)
	return text
}

func (s *Session) timeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, d)
}

func (s *Session) onSpeaking(speaking bool) {
	if speaking {
		s.state(StateSpeaking)
	} else {
		s.state(StateListening)
	}
}

func (s *Session) state(st string) {
	s.agent.events.publish(Event{Kind: StateChanged, Participant: s.id, State: st})
}

// participantOutput routes gate audio to one participant.
type participantOutput struct {
	t  transport.Transport
	id string
}

func (o participantOutput) PublishAudio(ctx context.Context, f audio.Frame) error {
	return o.t.PublishAudio(ctx, o.id, f)
}

func (o participantOutput) OutputSampleRate() int { return o.t.OutputSampleRate() }
