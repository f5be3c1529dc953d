package rtc

import "github.com/pion/webrtc/v4"

// Signalling message types exchanged over the websocket.
const (
	msgWelcome   = "welcome"   // server: connection accepted
	msgOffer     = "offer"     // client: SDP offer
	msgAnswer    = "answer"    // server: SDP answer with gathered candidates
	msgCandidate = "candidate" // client: trickled ICE candidate
	msgBye       = "bye"       // client: leaving
	msgError     = "error"     // server: request failed
)

// signal is one JSON message on the signalling websocket.
type signal struct {
	Type        string                   `json:"type"`
	SDP         string                   `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Participant string                   `json:"participant,omitempty"`
	Room        string                   `json:"room,omitempty"`
	Error       string                   `json:"error,omitempty"`
}
