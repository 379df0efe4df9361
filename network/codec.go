package network

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Message is one length-framed, tagged record. Framing is a 4-byte
// big-endian length prefix followed by a 1-byte tag and a JSON-encoded
// payload body — a framed text encoding, deterministic and
// self-delimiting, matching the teacher's encoding/json convention
// (network.go's BroadcastOrphanBlock).
type Message struct {
	Tag     Tag
	Payload []byte

	// From is the libp2p peer id that delivered this message over a gossip
	// topic. It is populated only by Transport.subscribe from the pubsub
	// envelope's ReceivedFrom field — never part of the wire frame, and
	// empty for messages read off a direct request/response stream.
	From string
}

// MaxMessageBytes bounds a single frame, defending against a malformed or
// hostile length prefix.
const MaxMessageBytes = 16 << 20

// Encode renders a tagged payload into a Message by JSON-marshalling it.
func Encode(tag Tag, payload interface{}) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return &Message{Tag: tag, Payload: body}, nil
}

// WriteMessage writes msg's length-prefixed frame to w.
func WriteMessage(w io.Writer, msg *Message) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(msg.Payload)))
	header[4] = byte(msg.Tag)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(msg.Payload)
	return err
}

// ReadMessage reads one length-prefixed frame from r.
func ReadMessage(r *bufio.Reader) (*Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:4])
	if length > MaxMessageBytes {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Message{Tag: Tag(header[4]), Payload: payload}, nil
}

// Decode unmarshals msg's payload into v.
func Decode(msg *Message, v interface{}) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Tag, err)
	}
	return nil
}
