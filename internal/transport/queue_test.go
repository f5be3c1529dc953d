package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

func TestQueueDropsFramesOnly(t *testing.T) {
	q := NewQueue(2, nil)
	f := audio.NewFrame(make([]int16, 320), 16000)

	assert.True(t, q.Send(Event{Kind: AudioFrame, Frame: f}))
	assert.True(t, q.Send(Event{Kind: AudioFrame, Frame: f}))
	assert.True(t, q.Send(Event{Kind: AudioFrame, Frame: f}))
	assert.EqualValues(t, 1, q.Dropped())

	sent := make(chan bool, 1)
	go func() { sent <- q.Send(Event{Kind: TextMessage, Data: []byte("hi")}) }()

	select {
	case <-sent:
		t.Fatal("text message should wait for room")
	case <-time.After(50 * time.Millisecond):
	}

	<-q.C()
	require.True(t, <-sent)
}

func TestQueueCloseReleasesSenders(t *testing.T) {
	q := NewQueue(1, nil)
	require.True(t, q.Send(Event{Kind: ParticipantJoined}))

	sent := make(chan bool, 1)
	go func() { sent <- q.Send(Event{Kind: ParticipantLeft}) }()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	q.Close()
	assert.False(t, <-sent)
	assert.False(t, q.Send(Event{Kind: AudioFrame}))

	ev, ok := <-q.C()
	require.True(t, ok)
	assert.Equal(t, ParticipantJoined, ev.Kind)
	_, ok = <-q.C()
	assert.False(t, ok)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "audio-frame", AudioFrame.String())
	assert.Equal(t, "participant-left", ParticipantLeft.String())
	assert.Equal(t, "unknown", EventKind(42).String())
}
