package relay

import "time"

// Wire events exchanged with clients, matching the original socket protocol.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventPresence       = "presence"
	EventError          = "error"
)

// Frame is a single JSON message on a relay connection. Unused fields are
// omitted per event.
type Frame struct {
	Event    string `json:"event"`
	Nickname string `json:"nickname,omitempty"`
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	Message  string `json:"message,omitempty"`
	Online   *bool  `json:"online,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DeliveryStatus records the outcome of one directed message.
type DeliveryStatus string

const (
	StatusDelivered     DeliveryStatus = "delivered"
	StatusBuffered      DeliveryStatus = "buffered"
	StatusUndeliverable DeliveryStatus = "undeliverable"
)

// DirectedMessage is one point-to-point message between nicknames. It lives
// only as long as delivery (or the recipient's bounded offline buffer).
type DirectedMessage struct {
	From   string
	To     string
	Body   string
	SentAt time.Time
	Status DeliveryStatus
}

func (m DirectedMessage) frame() Frame {
	return Frame{Event: EventReceiveMessage, From: m.From, Message: m.Body}
}
