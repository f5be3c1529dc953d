// Package rtc is the room transport: participants join one room over
// WebRTC, authenticated by a signed join token. Signalling runs over a
// websocket, microphone audio arrives as opus and is decoded to 48kHz PCM
// frames, replies are encoded back to opus on a per-participant track, and
// text travels over the participant's data channel.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/transport"
)

// Errors returned when publishing.
var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrNoDataChannel      = errors.New("data channel not open")
)

const eventBuffer = 1024

// Options configures the room server.
type Options struct {
	Room       string
	Secret     string   // HS256 key for join tokens
	ICEServers []string // STUN/TURN URLs
}

// Server accepts participants and implements transport.Transport.
type Server struct {
	opts      Options
	log       *zap.SugaredLogger
	api       *webrtc.API
	rtcConfig webrtc.Configuration
	upgrader  websocket.Upgrader
	events    *transport.Queue

	mu    sync.Mutex
	peers map[string]*peer
}

// New creates a room server.
func New(opts Options, log *zap.SugaredLogger) (*Server, error) {
	if opts.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if opts.Room == "" {
		return nil, errors.New("room name is required")
	}
	log = logging.OrNop(log)

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	var ice []webrtc.ICEServer
	if len(opts.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &Server{
		opts:      opts,
		log:       log,
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		rtcConfig: webrtc.Configuration{ICEServers: ice},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Access is controlled by the join token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		events: transport.NewQueue(eventBuffer, log),
		peers:  make(map[string]*peer),
	}, nil
}

// Handler returns the HTTP routes: /ws for signalling and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.log.Infow("🌐 Room server listening", "addr", ln.Addr().String(), "room", s.opts.Room)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := VerifyToken(s.opts.Secret, s.opts.Room, token)
	if err != nil {
		s.log.Warnw("⚠️  Rejected participant", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("Websocket upgrade failed", "error", err)
		return
	}

	p, err := newPeer(s, identity, uuid.NewString(), ws)
	if err != nil {
		s.log.Errorw("❌ Failed to set up participant", "participant", identity, "error", err)
		_ = ws.WriteJSON(signal{Type: msgError, Error: "internal error"})
		_ = ws.Close()
		return
	}
	if old := s.addPeer(p); old != nil {
		p.log.Info("Replacing previous connection")
		old.close()
	}
	p.log.Infow("👤 Participant signalling", "remote", r.RemoteAddr)

	p.writeSignal(signal{Type: msgWelcome, Participant: identity, Room: s.opts.Room})
	p.readLoop()
	p.close()
}

func (s *Server) addPeer(p *peer) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.peers[p.id]
	s.peers[p.id] = p
	return old
}

// removePeer forgets p unless a newer connection took its place.
func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
}

func (s *Server) peer(id string) (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p, nil
}

// Participants returns the identities currently connected.
func (s *Server) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Events implements transport.Transport.
func (s *Server) Events() <-chan transport.Event { return s.events.C() }

// OutputSampleRate implements transport.Transport.
func (s *Server) OutputSampleRate() int { return SampleRate }

// PublishAudio queues f on the participant's track. It returns once queued;
// the track sends it in real time.
func (s *Server) PublishAudio(ctx context.Context, participant string, f audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.peer(participant)
	if err != nil {
		return err
	}
	p.enqueue(chunks(f))
	return nil
}

// PublishText sends data over the participant's data channel.
func (s *Server) PublishText(_ context.Context, participant string, data []byte) error {
	p, err := s.peer(participant)
	if err != nil {
		return err
	}
	return p.sendText(data)
}

// Close disconnects every participant and closes the event channel.
func (s *Server) Close() error {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	s.events.Close()
	for _, p := range peers {
		p.close()
	}
	return nil
}
