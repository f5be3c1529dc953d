package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/transport"
	"github.com/agalue/ada-voice-agent/internal/turn"
)

type fakeTransport struct {
	events chan transport.Event

	mu    sync.Mutex
	audio []audio.Frame
	texts []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event)}
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) PublishAudio(_ context.Context, _ string, fr audio.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, fr)
	return nil
}

func (f *fakeTransport) PublishText(_ context.Context, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, string(data))
	return nil
}

func (f *fakeTransport) OutputSampleRate() int { return 48000 }
func (f *fakeTransport) Close() error          { return nil }

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeTransport) send(ev transport.Event) { f.events <- ev }

type fakeTranscriber struct {
	text     string
	err      error
	failures int32 // calls that fail with err, 0 = all of them
	calls    atomic.Int32
	rate     atomic.Int32
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []float32, rate int) (string, string, error) {
	n := f.calls.Add(1)
	f.rate.Store(int32(rate))
	if f.err != nil && (f.failures == 0 || n <= f.failures) {
		return "", "", f.err
	}
	return f.text, "en", nil
}

type fakeSynth struct {
	block chan struct{} // when set, Synthesize waits for it or ctx
}

func (f *fakeSynth) Synthesize(ctx context.Context, _ string) (audio.Clip, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		}
	}
	return audio.Clip{Samples: make([]float32, 240), SampleRate: 24000, Channels: 1}, nil
}

func testOptions(t *testing.T) Options {
	opts := DefaultOptions()
	opts.Thresholds = turn.Thresholds{
		SpeechThreshold:     500,
		MinSpeechFrames:     3,
		MaxSilenceFrames:    5,
		PreRollFrames:       5,
		MinUtteranceSamples: 320,
	}
	opts.Gate.MinWait = time.Millisecond
	opts.Gate.SettleMargin = 0
	opts.Gate.BufferFactor = 1
	opts.DictationDir = t.TempDir()
	opts.Greeting = ""
	opts.STTTimeout = time.Second
	opts.LLMTimeout = time.Second
	return opts
}

type harness struct {
	agent  *Agent
	tr     *fakeTransport
	stt    *fakeTranscriber
	events <-chan Event
}

func start(t *testing.T, opts Options, stt *fakeTranscriber, synth *fakeSynth, r conversation.Responder) *harness {
	t.Helper()
	a, err := NewAgent(Deps{Transcriber: stt, Responder: r, Synthesizer: synth}, opts, nil)
	require.NoError(t, err)
	events, unsubscribe := a.Subscribe()

	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, tr) }()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})
	return &harness{agent: a, tr: tr, stt: stt, events: events}
}

func (h *harness) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
			return Event{}
		}
	}
}

func (h *harness) frames(participant string, level, n int) {
	for range n {
		s := make([]int16, 320)
		for i := range s {
			s[i] = int16(level)
		}
		h.tr.send(transport.Event{Kind: transport.AudioFrame, Participant: participant, Frame: audio.NewFrame(s, 16000)})
	}
}

func (h *harness) text(participant, text string) {
	h.tr.send(transport.Event{Kind: transport.TextMessage, Participant: participant, Data: []byte(text)})
}

func echoResponder(reply string) conversation.Responder {
	return conversation.ResponderFunc(func(context.Context, []conversation.Message) (string, error) {
		return reply, nil
	})
}

func TestTextMessageConverses(t *testing.T) {
	h := start(t, testOptions(t), &fakeTranscriber{}, &fakeSynth{}, echoResponder("hello"))

	h.text("alice", "  hi  ")
	user := h.waitFor(t, UserSaid)
	assert.Equal(t, "hi", user.Text)
	reply := h.waitFor(t, AssistantSaid)
	assert.Equal(t, "hello", reply.Text)
	assert.Equal(t, "alice", reply.Participant)

	s, ok := h.agent.Session("alice")
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(s.History()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, conversation.Message{Role: conversation.RoleUser, Text: "hi"}, s.History()[1])
	assert.Equal(t, conversation.Message{Role: conversation.RoleAssistant, Text: "hello"}, s.History()[2])

	require.Eventually(t, func() bool { return len(h.tr.sentTexts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, h.tr.sentTexts(), "replies are mirrored over the data channel")
}

func TestUtteranceIsTranscribedAndAnswered(t *testing.T) {
	stt := &fakeTranscriber{text: " what time is it "}
	var seen []conversation.Message
	r := conversation.ResponderFunc(func(_ context.Context, h []conversation.Message) (string, error) {
		seen = h
		return "It's noon.", nil
	})
	h := start(t, testOptions(t), stt, &fakeSynth{}, r)

	h.frames("bob", 50, 2)
	h.frames("bob", 800, 6)
	h.frames("bob", 50, 6)

	user := h.waitFor(t, UserSaid)
	assert.Equal(t, "what time is it", user.Text)
	h.waitFor(t, AssistantSaid)

	assert.EqualValues(t, 1, stt.calls.Load())
	assert.EqualValues(t, 16000, stt.rate.Load())
	require.Len(t, seen, 2)
	assert.Equal(t, "what time is it", seen[1].Text)
}

func TestShortTranscriptIsIgnored(t *testing.T) {
	stt := &fakeTranscriber{text: "uh"}
	var calls atomic.Int32
	r := conversation.ResponderFunc(func(context.Context, []conversation.Message) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	h := start(t, testOptions(t), stt, &fakeSynth{}, r)

	h.frames("bob", 800, 6)
	h.frames("bob", 50, 6)

	require.Eventually(t, func() bool { return stt.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	ev := h.waitFor(t, StateChanged)
	for ev.State != StateListening {
		ev = h.waitFor(t, StateChanged)
	}
	assert.Zero(t, calls.Load())
}

func TestTranscriberFailureKeepsListening(t *testing.T) {
	stt := &fakeTranscriber{text: "second try", err: errors.New("decoder failed"), failures: 1}
	h := start(t, testOptions(t), stt, &fakeSynth{}, echoResponder("ok"))

	h.frames("bob", 800, 6)
	h.frames("bob", 50, 6)
	require.Eventually(t, func() bool { return stt.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The next utterance goes through the same session.
	h.frames("bob", 800, 6)
	h.frames("bob", 50, 6)
	user := h.waitFor(t, UserSaid)
	assert.Equal(t, "second try", user.Text)
	assert.EqualValues(t, 2, stt.calls.Load())
}

func TestDictationOverTextMessages(t *testing.T) {
	opts := testOptions(t)
	var llmCalls atomic.Int32
	r := conversation.ResponderFunc(func(context.Context, []conversation.Message) (string, error) {
		llmCalls.Add(1)
		return "ok", nil
	})
	h := start(t, opts, &fakeTranscriber{}, &fakeSynth{}, r)

	h.text("carol", "Ada, start dictation")
	h.waitFor(t, AssistantSaid)
	h.text("carol", "buy milk")
	h.text("carol", "and eggs")
	h.text("carol", "Ada, save dictation as groceries.")

	saved := h.waitFor(t, DictationSaved)
	assert.Equal(t, filepath.Join(opts.DictationDir, "groceries.txt"), saved.Path)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, "buy milk and eggs", string(data))
	assert.Zero(t, llmCalls.Load(), "dictated text never reaches the conversation")

	s, _ := h.agent.Session("carol")
	assert.False(t, s.Dictating())
}

func TestResponderFailureSpeaksApology(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		r       conversation.Responder
	}{
		{"error", time.Second, conversation.ResponderFunc(func(context.Context, []conversation.Message) (string, error) {
			return "", errors.New("model not loaded")
		})},
		{"timeout", 20 * time.Millisecond, conversation.ResponderFunc(func(ctx context.Context, _ []conversation.Message) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			opts.LLMTimeout = tt.timeout
			h := start(t, opts, &fakeTranscriber{}, &fakeSynth{}, tt.r)

			h.text("hank", "hi")
			reply := h.waitFor(t, AssistantSaid)
			assert.Equal(t, conversation.Apology, reply.Text)
			require.Eventually(t, func() bool { return len(h.tr.sentTexts()) == 1 }, time.Second, 5*time.Millisecond)
			assert.Equal(t, []string{conversation.Apology}, h.tr.sentTexts())
		})
	}
}

func TestDictationWriteFailureKeepsDictating(t *testing.T) {
	opts := testOptions(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	opts.DictationDir = blocker
	h := start(t, opts, &fakeTranscriber{}, &fakeSynth{}, echoResponder("ok"))

	h.text("ivy", "Ada, start dictation")
	h.waitFor(t, AssistantSaid)
	h.text("ivy", "call the plumber")
	h.text("ivy", "Ada, save dictation as todo.")

	reply := h.waitFor(t, AssistantSaid)
	assert.Equal(t, "Sorry, I couldn't save the dictation.", reply.Text)
	s, ok := h.agent.Session("ivy")
	require.True(t, ok)
	assert.True(t, s.Dictating(), "a failed save leaves the dictation open")
}

func TestSaveWithoutDictationReplies(t *testing.T) {
	h := start(t, testOptions(t), &fakeTranscriber{}, &fakeSynth{}, echoResponder("ok"))

	h.text("dave", "save dictation as notes")
	reply := h.waitFor(t, AssistantSaid)
	assert.Equal(t, "I'm not taking dictation right now.", reply.Text)
}

func TestGreetingOnJoin(t *testing.T) {
	opts := testOptions(t)
	opts.Greeting = DefaultGreeting
	h := start(t, opts, &fakeTranscriber{}, &fakeSynth{}, echoResponder("ok"))

	h.tr.send(transport.Event{Kind: transport.ParticipantJoined, Participant: "erin"})
	ev := h.waitFor(t, AssistantSaid)
	assert.Equal(t, DefaultGreeting, ev.Text)
}

func TestSpeakingSuppressesDetection(t *testing.T) {
	stt := &fakeTranscriber{text: "should not happen"}
	synth := &fakeSynth{block: make(chan struct{})}
	h := start(t, testOptions(t), stt, synth, echoResponder("a long answer"))

	h.text("frank", "hi")
	var s *Session
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = h.agent.Session("frank")
		return ok && s.Speaking()
	}, time.Second, 5*time.Millisecond)

	h.frames("frank", 2000, 10)
	h.frames("frank", 50, 10) // unbuffered sends: every earlier frame has been dispatched

	close(synth.block)
	require.Eventually(t, func() bool { return !s.Speaking() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, stt.calls.Load())
}

func TestParticipantLeftReleasesLock(t *testing.T) {
	synth := &fakeSynth{block: make(chan struct{})}
	h := start(t, testOptions(t), &fakeTranscriber{}, synth, echoResponder("reply"))

	h.text("gina", "hi")
	var s *Session
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = h.agent.Session("gina")
		return ok && s.Speaking()
	}, time.Second, 5*time.Millisecond)

	h.tr.send(transport.Event{Kind: transport.ParticipantLeft, Participant: "gina"})
	require.Eventually(t, func() bool { return !s.Speaking() }, time.Second, 5*time.Millisecond)
	_, ok := h.agent.Session("gina")
	assert.False(t, ok)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := start(t, testOptions(t), &fakeTranscriber{}, &fakeSynth{}, echoResponder("hello"))

	h.text("a", "one")
	h.waitFor(t, AssistantSaid)
	h.text("b", "two")
	h.waitFor(t, AssistantSaid)

	a, _ := h.agent.Session("a")
	b, _ := h.agent.Session("b")
	require.Eventually(t, func() bool { return len(b.History()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "one", a.History()[1].Text)
	assert.Equal(t, "two", b.History()[1].Text)
}

func TestNewAgentValidates(t *testing.T) {
	_, err := NewAgent(Deps{}, DefaultOptions(), nil)
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.QueueSize = 0
	_, err = NewAgent(Deps{Transcriber: &fakeTranscriber{}, Responder: echoResponder(""), Synthesizer: &fakeSynth{}}, opts, nil)
	assert.Error(t, err)
}
