package jupyter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the messaging protocol version sent in every header.
const ProtocolVersion = "5.3"

// Header identifies a message.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Version  string `json:"version"`
}

// Message is a decoded protocol message. Content is kept raw so callers
// decode it into the struct matching Header.MsgType.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      json.RawMessage
	Buffers      [][]byte
}

// NewMessage builds a message with a fresh msg_id.
func NewMessage(msgType, session, username string, content any) (*Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", msgType, err)
	}
	if content == nil {
		raw = json.RawMessage("{}")
	}
	return &Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			MsgType:  msgType,
			Session:  session,
			Username: username,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  raw,
	}, nil
}

// Reply builds a message whose parent is m. Used by test kernels and for
// answering kernel requests.
func (m *Message) Reply(msgType string, content any) (*Message, error) {
	reply, err := NewMessage(msgType, m.Header.Session, m.Header.Username, content)
	if err != nil {
		return nil, err
	}
	reply.ParentHeader = m.Header
	reply.Identities = m.Identities
	return reply, nil
}

// ParentID returns the msg_id of the request this message answers.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// Type returns the message type.
func (m *Message) Type() string {
	return m.Header.MsgType
}

// DecodeContent unmarshals the content into v.
func (m *Message) DecodeContent(v any) error {
	if len(m.Content) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", m.Header.MsgType, err)
	}
	return nil
}
