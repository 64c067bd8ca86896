package jupyter

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
)

// SchemeHMACSHA256 is the only signature scheme supported.
const SchemeHMACSHA256 = "hmac-sha256"

// Delimiter separates routing identities from the signed message parts.
var Delimiter = []byte("<IDS|MSG>")

var (
	// ErrInvalidSignature is returned when a message signature does not match.
	ErrInvalidSignature = errors.New("invalid message signature")

	// ErrMalformedMessage is returned for frame lists that are not protocol messages.
	ErrMalformedMessage = errors.New("malformed message")
)

// Signer computes and checks message signatures.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for scheme and key. An empty key disables signing.
func NewSigner(scheme, key string) (*Signer, error) {
	if key != "" && scheme != "" && scheme != SchemeHMACSHA256 {
		return nil, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
	return &Signer{key: []byte(key)}, nil
}

// Sign returns the hex HMAC over parts, or "" when signing is disabled.
func (s *Signer) Sign(parts ...[]byte) string {
	if s == nil || len(s.key) == 0 {
		return ""
	}
	var mac hash.Hash = hmac.New(sha256.New, s.key)
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against parts in constant time.
func (s *Signer) Verify(signature []byte, parts ...[]byte) bool {
	if s == nil || len(s.key) == 0 {
		return true
	}
	expected := s.Sign(parts...)
	return hmac.Equal([]byte(expected), signature)
}

// Encode serializes msg into wire frames.
func Encode(msg *Message, signer *Signer) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	parent := []byte("{}")
	if msg.ParentHeader.MsgID != "" {
		if parent, err = json.Marshal(msg.ParentHeader); err != nil {
			return nil, fmt.Errorf("encode parent header: %w", err)
		}
	}

	metadata := []byte("{}")
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	content := []byte(msg.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames,
		Delimiter,
		[]byte(signer.Sign(header, parent, metadata, content)),
		header,
		parent,
		metadata,
		content,
	)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode parses wire frames into a message, verifying the signature.
func Decode(frames [][]byte, signer *Signer) (*Message, error) {
	idx := -1
	for i, f := range frames {
		if bytes.Equal(f, Delimiter) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: no delimiter", ErrMalformedMessage)
	}

	parts := frames[idx+1:]
	if len(parts) < 5 {
		return nil, fmt.Errorf("%w: %d frames after delimiter", ErrMalformedMessage, len(parts))
	}

	signature, header, parent, metadata, content := parts[0], parts[1], parts[2], parts[3], parts[4]
	if !signer.Verify(signature, header, parent, metadata, content) {
		return nil, ErrInvalidSignature
	}

	msg := &Message{
		Identities: frames[:idx],
		Content:    json.RawMessage(bytes.Clone(content)),
		Buffers:    parts[5:],
	}
	if err := json.Unmarshal(header, &msg.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedMessage, err)
	}
	if err := unmarshalOptional(parent, &msg.ParentHeader); err != nil {
		return nil, fmt.Errorf("%w: parent header: %v", ErrMalformedMessage, err)
	}
	if err := unmarshalOptional(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

func unmarshalOptional(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
