// Package transport defines how the agent exchanges audio and text with
// participants. Implementations deliver everything they receive on a single
// event channel, which the agent consumes in order.
package transport

import (
	"context"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

// EventKind identifies a transport event.
type EventKind int

const (
	ParticipantJoined EventKind = iota
	ParticipantLeft
	AudioFrame
	TextMessage
)

func (k EventKind) String() string {
	switch k {
	case ParticipantJoined:
		return "participant-joined"
	case ParticipantLeft:
		return "participant-left"
	case AudioFrame:
		return "audio-frame"
	case TextMessage:
		return "text-message"
	default:
		return "unknown"
	}
}

// Event is something a participant did. Frame is set for AudioFrame and Data
// for TextMessage. Frames handed out on the channel must not be reused by the
// transport, since the agent may retain them.
type Event struct {
	Kind        EventKind
	Participant string
	Frame       audio.Frame
	Data        []byte
}

// Transport is a media session with one or more participants. Audio frames
// are 16-bit PCM mono; inbound and outbound rates may differ.
type Transport interface {
	// Events returns the inbound channel. It is closed when the transport
	// shuts down. Implementations drop frames rather than block when the
	// consumer falls behind.
	Events() <-chan Event
	// PublishAudio sends audio to a participant. Implementations queue the
	// frame and pace it out in real time.
	PublishAudio(ctx context.Context, participant string, f audio.Frame) error
	// PublishText sends a data message to a participant.
	PublishText(ctx context.Context, participant string, data []byte) error
	// OutputSampleRate is the rate PublishAudio expects.
	OutputSampleRate() int
	Close() error
}
