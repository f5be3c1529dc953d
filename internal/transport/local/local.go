// Package local is a single-participant transport over the default
// microphone and speaker. Lines read from an optional text input are
// delivered as text messages, so the agent can be driven from a terminal.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/transport"
)

// Participant is the identity of the person at the local device.
const Participant = "local"

// ErrUnknownParticipant is returned when publishing to anyone but Participant.
var ErrUnknownParticipant = errors.New("unknown participant")

const eventBuffer = 256

// Options configures the local devices.
type Options struct {
	SampleRate   int       // microphone rate
	FrameMs      int       // frame duration
	PlaybackRate int       // speaker rate
	BufferMs     uint32    // speaker period, 0 = 100ms
	Input        io.Reader // text lines, nil disables text input
	Output       io.Writer // replies sent with PublishText, nil discards them
}

type microphone interface {
	Start() error
	Close()
}

type speaker interface {
	Enqueue(f audio.Frame)
	SampleRate() int
	Close()
}

// Transport implements transport.Transport for the local machine.
type Transport struct {
	opts Options
	log  *zap.SugaredLogger
	mic  microphone
	spk  speaker

	events *transport.Queue
	once   sync.Once
}

// New opens the speaker and prepares the microphone. Call Start to begin
// capturing.
func New(opts Options, log *zap.SugaredLogger) (*Transport, error) {
	t := newTransport(opts, log)

	spk, err := audio.NewPlayer(opts.PlaybackRate, opts.BufferMs, t.log)
	if err != nil {
		return nil, err
	}
	mic, err := audio.NewCapturer(opts.SampleRate, opts.FrameMs, t.onFrame, t.log)
	if err != nil {
		spk.Close()
		return nil, err
	}
	t.mic, t.spk = mic, spk
	return t, nil
}

func newTransport(opts Options, log *zap.SugaredLogger) *Transport {
	log = logging.OrNop(log)
	return &Transport{
		opts:   opts,
		log:    log,
		events: transport.NewQueue(eventBuffer, log),
	}
}

// Start announces the local participant, starts the microphone and begins
// reading text input.
func (t *Transport) Start() error {
	t.events.Send(transport.Event{Kind: transport.ParticipantJoined, Participant: Participant})
	if t.mic != nil {
		if err := t.mic.Start(); err != nil {
			return fmt.Errorf("start microphone: %w", err)
		}
	}
	if t.opts.Input != nil {
		go t.readLines(t.opts.Input)
	}
	return nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event { return t.events.C() }

// OutputSampleRate implements transport.Transport.
func (t *Transport) OutputSampleRate() int {
	if t.spk == nil {
		return t.opts.PlaybackRate
	}
	return t.spk.SampleRate()
}

// PublishAudio queues a frame on the speaker. It returns once queued; the
// device plays it in real time.
func (t *Transport) PublishAudio(ctx context.Context, participant string, f audio.Frame) error {
	if participant != Participant {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.spk == nil {
		return errors.New("no speaker")
	}
	t.spk.Enqueue(f)
	return nil
}

// PublishText writes the message as a line to the configured output.
func (t *Transport) PublishText(_ context.Context, participant string, data []byte) error {
	if participant != Participant {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}
	if t.opts.Output == nil {
		return nil
	}
	_, err := fmt.Fprintf(t.opts.Output, "%s\n", data)
	return err
}

// Close stops the devices and closes the event channel.
func (t *Transport) Close() error {
	t.once.Do(func() {
		if t.mic != nil {
			t.mic.Close()
		}
		t.events.Close()
		if t.spk != nil {
			t.spk.Close()
		}
		if n := t.events.Dropped(); n > 0 {
			t.log.Infow("Local transport closed", "dropped_frames", n)
		}
	})
	return nil
}

func (t *Transport) onFrame(f audio.Frame) {
	t.events.Send(transport.Event{Kind: transport.AudioFrame, Participant: Participant, Frame: f})
}

// readLines turns each non-empty input line into a text message. It ends at
// EOF; a blocked read outlives Close, which is harmless for stdin.
func (t *Transport) readLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := append([]byte(nil), line...)
		if !t.events.Send(transport.Event{Kind: transport.TextMessage, Participant: Participant, Data: data}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warnw("⚠️  Text input error", "error", err)
	}
}
