package domain

import "time"

// MessageType classifies chat message payloads
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageTemplate MessageType = "template"
	MessageMedia    MessageType = "media"
)

// Delivery tracks an outbound message through the push transport
type Delivery string

const (
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// DefaultDedupWindow is the tolerance under which two messages with the same
// content are considered the same event
const DefaultDedupWindow = 5 * time.Second

// Message is one stored chat entry
type Message struct {
	ID        string      `json:"id"`
	ContactID string      `json:"contactId"`
	LineID    string      `json:"lineId,omitempty"`
	Content   string      `json:"message"`
	Sender    SenderKind  `json:"sender"`
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type"`

	// Local marks messages created by this process before the remote side acknowledged them
	Local    bool     `json:"local,omitempty"`
	Delivery Delivery `json:"delivery,omitempty"`
}

// DecodeMessageEvent decodes a new-message payload field by field. "content"
// and "text" are accepted as aliases of "message".
func DecodeMessageEvent(data []byte) (*Message, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        identField(fields, "id"),
		ContactID: identField(fields, "contactId"),
		LineID:    identField(fields, "lineId"),
		Type:      MessageText,
	}
	for _, key := range []string{"message", "content", "text"} {
		if s := stringField(fields, key); s != nil {
			msg.Content = *s
			break
		}
	}
	if s := stringField(fields, "sender"); s != nil && SenderKind(*s).IsValid() {
		msg.Sender = SenderKind(*s)
	} else {
		msg.Sender = SenderUser
	}
	if s := stringField(fields, "timestamp"); s != nil {
		msg.Timestamp = *s
	}
	if s := stringField(fields, "type"); s != nil {
		switch t := MessageType(*s); t {
		case MessageText, MessageTemplate, MessageMedia:
			msg.Type = t
		}
	}
	return msg, nil
}

// IsDuplicateOf reports whether m and other describe the same chat event: the
// same id, or the same content with timestamps strictly less than window
// apart. Timestamps must already be normalized.
func (m *Message) IsDuplicateOf(other *Message, window time.Duration) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	if m.Content != other.Content {
		return false
	}
	a, okA := ParseInstant(m.Timestamp)
	b, okB := ParseInstant(other.Timestamp)
	if !okA || !okB {
		// display clocks carry no date, compare verbatim
		return m.Timestamp != "" && m.Timestamp == other.Timestamp
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}

// Snapshot returns the embedded last-message form of m
func (m *Message) Snapshot() *LastMessage {
	return &LastMessage{Text: m.Content, Timestamp: m.Timestamp, Sender: m.Sender}
}
