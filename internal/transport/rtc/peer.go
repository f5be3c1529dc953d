package rtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/transport"
)

// outQueueChunks holds 30 seconds of outbound audio.
const outQueueChunks = 1500

// peer is one participant connection: the signalling websocket and the
// WebRTC session it negotiated.
type peer struct {
	id     string // participant identity
	connID string
	s      *Server
	log    *zap.SugaredLogger

	wsMu sync.Mutex // gorilla allows one concurrent writer
	ws   *websocket.Conn

	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample

	dcMu sync.Mutex
	dc   *webrtc.DataChannel

	out     chan []int16
	dropped atomic.Int64

	stateMu sync.Mutex // orders joined/left events
	joined  bool
	done    chan struct{}
	once    sync.Once
}

func newPeer(s *Server, id, connID string, ws *websocket.Conn) (*peer, error) {
	p := &peer{
		id:     id,
		connID: connID,
		s:      s,
		log:    s.log.With("participant", id, "conn", connID),
		ws:     ws,
		out:    make(chan []int16, outQueueChunks),
		done:   make(chan struct{}),
	}
	pc, err := s.api.NewPeerConnection(s.rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p.pc = pc

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: 2},
		"audio", "ada-"+connID)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}
	p.track = track

	// RTCP must be drained for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnTrack(p.onTrack)
	pc.OnDataChannel(p.onDataChannel)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debugw("Peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.markJoined()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			go p.close()
		}
	})

	go p.sendLoop()
	return p, nil
}

// markJoined announces the participant once media is flowing.
func (p *peer) markJoined() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.joined || p.isClosed() {
		return
	}
	p.joined = true
	p.log.Infow("🔗 Participant connected")
	p.s.events.Send(transport.Event{Kind: transport.ParticipantJoined, Participant: p.id})
}

func (p *peer) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// close tears the connection down and announces the departure if the
// participant had joined.
func (p *peer) close() {
	p.once.Do(func() {
		p.stateMu.Lock()
		close(p.done)
		joined := p.joined
		p.stateMu.Unlock()

		if p.pc != nil {
			if err := p.pc.Close(); err != nil {
				p.log.Debugw("Failed to close peer connection", "error", err)
			}
		}
		if p.ws != nil {
			_ = p.ws.Close()
		}
		p.s.removePeer(p)

		if joined {
			p.s.events.Send(transport.Event{Kind: transport.ParticipantLeft, Participant: p.id})
		}
		if n := p.dropped.Load(); n > 0 {
			p.log.Infow("Participant disconnected", "dropped_chunks", n)
		} else {
			p.log.Info("Participant disconnected")
		}
	})
}

// readLoop handles signalling messages until the websocket closes.
func (p *peer) readLoop() {
	for {
		var msg signal
		if err := p.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !p.isClosed() {
				p.log.Debugw("Signalling read ended", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgOffer:
			sdp, err := p.answer(msg.SDP)
			if err != nil {
				p.log.Warnw("⚠️  Failed to answer offer", "error", err)
				p.writeSignal(signal{Type: msgError, Error: err.Error()})
				continue
			}
			p.writeSignal(signal{Type: msgAnswer, SDP: sdp})
		case msgCandidate:
			if msg.Candidate == nil {
				continue
			}
			if err := p.pc.AddICECandidate(*msg.Candidate); err != nil {
				p.log.Debugw("Failed to add ICE candidate", "error", err)
			}
		case msgBye:
			return
		default:
			p.writeSignal(signal{Type: msgError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

// answer applies an offer and returns the answer SDP once ICE gathering is
// complete, so the client needs no server-side candidates.
func (p *peer) answer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-p.done:
		return "", errors.New("connection closed")
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *peer) writeSignal(msg signal) {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.ws.WriteJSON(msg); err != nil {
		p.log.Debugw("Failed to write signal", "type", msg.Type, "error", err)
	}
}

// onTrack decodes the participant's microphone into frames.
func (p *peer) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio || !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
		p.log.Warnw("⚠️  Ignoring track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		return
	}
	p.log.Infow("🎙️ Receiving audio", "codec", track.Codec().MimeType, "ssrc", uint32(track.SSRC()))

	dec, err := newDecoder()
	if err != nil {
		p.log.Errorw("❌ Cannot decode audio", "error", err)
		return
	}

	var decodeErrors int
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.isClosed() {
				p.log.Debugw("Audio track ended", "error", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		frame, err := dec.decode(pkt.Payload)
		if err != nil {
			if decodeErrors++; decodeErrors <= 5 {
				p.log.Warnw("⚠️  Opus decode error", "error", err, "payload_bytes", len(pkt.Payload))
			}
			continue
		}
		if !p.s.events.Send(transport.Event{Kind: transport.AudioFrame, Participant: p.id, Frame: frame}) {
			return
		}
	}
}

// onDataChannel turns data channel messages into text events. The latest
// channel is also used for replies.
func (p *peer) onDataChannel(dc *webrtc.DataChannel) {
	p.log.Debugw("Data channel opened", "label", dc.Label())
	p.dcMu.Lock()
	p.dc = dc
	p.dcMu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if len(msg.Data) == 0 {
			return
		}
		data := append([]byte(nil), msg.Data...)
		p.s.events.Send(transport.Event{Kind: transport.TextMessage, Participant: p.id, Data: data})
	})
}

func (p *peer) sendText(data []byte) error {
	p.dcMu.Lock()
	dc := p.dc
	p.dcMu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNoDataChannel
	}
	return dc.SendText(string(data))
}

// enqueue adds outbound chunks, dropping what does not fit.
func (p *peer) enqueue(chunks [][]int16) {
	for i, c := range chunks {
		select {
		case p.out <- c:
		default:
			n := p.dropped.Add(int64(len(chunks) - i))
			p.log.Warnw("⚠️  Outbound audio queue full", "dropped_chunks", n)
			return
		}
	}
}

// sendLoop paces queued audio onto the track in real time.
func (p *peer) sendLoop() {
	enc, err := newEncoder()
	if err != nil {
		p.log.Errorw("❌ Cannot encode audio", "error", err)
		return
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		var chunk []int16
		select {
		case chunk = <-p.out:
		default:
			continue
		}
		packet, err := enc.encode(chunk)
		if err != nil {
			p.log.Warnw("⚠️  Failed to encode audio", "error", err)
			continue
		}
		if err := p.track.WriteSample(media.Sample{Data: packet, Duration: frameDuration}); err != nil && !p.isClosed() {
			p.log.Debugw("Failed to write audio sample", "error", err)
		}
	}
}
