package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemSender is the sender name carried by join and leave notices.
const SystemSender = "System"

// Kind classifies a message and selects its wire discriminator.
type Kind int

const (
	KindUser Kind = iota
	KindSystem
	KindCommand
)

// String returns the wire discriminator of the kind.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "message"
	case KindSystem:
		return "system"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one entry of a room's history. It is never modified after it
// has been created.
type Message struct {
	ID        string
	RoomID    string
	Sender    string
	Content   string
	Timestamp time.Time
	Kind      Kind
}

// NewUserMessage creates a chat message sent by nickname.
func NewUserMessage(roomID, nickname, content string) Message {
	return newMessage(roomID, nickname, content, KindUser)
}

// NewSystemMessage creates a notice authored by the relay itself.
func NewSystemMessage(roomID, content string) Message {
	return newMessage(roomID, SystemSender, content, KindSystem)
}

func newMessage(roomID, sender, content string, kind Kind) Message {
	return Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
	}
}

// JoinNotice is the text announced when a user enters a room.
func JoinNotice(nickname string) string {
	return nickname + " has joined the room"
}

// LeaveNotice is the text announced when a user's last connection closes.
func LeaveNotice(nickname string) string {
	return nickname + " has left the room"
}

// Payload is the JSON object written to clients.
type Payload struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Command   string `json:"command,omitempty"`
}

// Encode marshals the payload into a text frame.
func (p Payload) Encode() ([]byte, error) {
	frame, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Type, err)
	}
	return frame, nil
}

// Payload returns the wire form of the message.
func (m Message) Payload() Payload {
	return Payload{
		Type:      m.Kind.String(),
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp.Format(time.RFC3339Nano),
	}
}

// Frame encodes the message as a text frame.
func (m Message) Frame() ([]byte, error) {
	return m.Payload().Encode()
}

type inbound struct {
	Content *string `json:"content"`
}

// DecodeInbound extracts the text of a client frame. It reports false for
// frames that are not JSON objects or carry no string content field.
func DecodeInbound(frame []byte) (string, bool) {
	var in inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return "", false
	}
	if in.Content == nil {
		return "", false
	}
	return *in.Content, true
}
