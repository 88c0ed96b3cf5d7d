package signaling

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind classifies a wire frame after normalization. The relay protocol
// grew three discriminator conventions over time: negotiation frames carry
// a "type" key, the termination frame carries a legacy "status" key, and
// chat frames carry no discriminator at all and are classified by shape.
// ParseFrame folds all three onto Kind so session code sees one taxonomy.
type Kind string

const (
	KindOffer       Kind = "offer"
	KindAnswer      Kind = "answer"
	KindCandidate   Kind = "candidate"
	KindTrackStatus Kind = "track_status"
	KindCallEnded   Kind = "call_ended"
	KindChatMessage Kind = "chat_message"
	KindChatAck     Kind = "chat_ack"
	KindUnknown     Kind = ""
)

// Track types for track_status frames.
const (
	TrackAudio = "audio"
	TrackVideo = "video"
)

// ChatAckText is the synthetic handshake frame the relay sends on join.
// It is recognized and never rendered.
const ChatAckText = "Connected to chat"

// Sender identifies the author of a chat message.
type Sender struct {
	Username string `json:"username"`
}

// MessageID tolerates both numeric and string ids on the wire; some
// platform backends send integers, the relay sends uuids.
type MessageID string

// UnmarshalJSON implements json.Unmarshaler.
func (m *MessageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id is neither string nor number")
	}
	*m = MessageID(n.String())
	return nil
}

// Frame is the single message record exchanged over a Channel. Outbound
// frames set only the fields their Kind uses; omitempty keeps the wire
// shape identical to what the platform backends expect.
type Frame struct {
	Type   string `json:"type,omitempty"`
	Status string `json:"status,omitempty"` // legacy spelling of call_ended

	// Negotiation.
	SDP       string `json:"sdp,omitempty"`
	SDPType   string `json:"type_sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// Track mute/unmute notifications.
	TrackType string `json:"trackType,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`

	// Chat. Message/Image are the outbound payload fields; ID, Content,
	// ImageURL, Sender and Timestamp appear on inbound frames after the
	// relay has stamped them.
	ID        MessageID `json:"id,omitempty"`
	Content   string    `json:"content,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Message   string    `json:"message,omitempty"`
	Image     string    `json:"image,omitempty"`
	Sender    *Sender   `json:"sender,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Kind returns the normalized classification of the frame.
func (f *Frame) Kind() Kind {
	switch {
	case f.Type != "":
		switch k := Kind(f.Type); k {
		case KindOffer, KindAnswer, KindCandidate, KindTrackStatus, KindCallEnded:
			return k
		}
		return KindUnknown
	case f.Status == string(KindCallEnded):
		return KindCallEnded
	case f.ID != "":
		return KindChatMessage
	case f.Message != "":
		// A bare message with no id is a relay notice, not a chat line.
		return KindChatAck
	}
	return KindUnknown
}

// ParseFrame decodes one wire message. Malformed frames are the caller's
// cue to log and drop; they must never tear down the session.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse frame")
	}
	return &f, nil
}

// NewOffer builds an SDP offer frame.
func NewOffer(sdp string) *Frame {
	return &Frame{Type: string(KindOffer), SDP: sdp, SDPType: "offer"}
}

// NewAnswer builds an SDP answer frame.
func NewAnswer(sdp string) *Frame {
	return &Frame{Type: string(KindAnswer), SDP: sdp, SDPType: "answer"}
}

// NewCandidate builds an ICE candidate frame.
func NewCandidate(candidate string) *Frame {
	return &Frame{Type: string(KindCandidate), Candidate: candidate}
}

// NewTrackStatus builds a mute/unmute notification frame.
func NewTrackStatus(trackType string, enabled bool) *Frame {
	return &Frame{Type: string(KindTrackStatus), TrackType: trackType, Enabled: &enabled}
}

// NewCallEnded builds a termination frame. The normalized "type" spelling
// is sent; the legacy "status" spelling is still accepted inbound.
func NewCallEnded() *Frame {
	return &Frame{Type: string(KindCallEnded)}
}

// NewText builds an outbound chat text frame.
func NewText(content string) *Frame {
	return &Frame{Message: content}
}

// NewImage builds an outbound chat image frame from base64 data.
func NewImage(b64 string) *Frame {
	return &Frame{Image: b64}
}
