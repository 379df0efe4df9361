package network

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := HelloPayload{NodeID: "peer-1", Version: ProtocolVersion, HeadIndex: 42, HeadHash: "abc"}
	msg, err := Encode(TagHello, want)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	if msg.Tag != TagHello {
		t.Fatalf("expected tag HELLO, got %s", msg.Tag)
	}

	var got HelloPayload
	if err := Decode(msg, &got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	msg, err := Encode(TagPing, PingPayload{Timestamp: 123})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	got, err := ReadMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if got.Tag != TagPing {
		t.Fatalf("expected tag PING, got %s", got.Tag)
	}
	var payload PingPayload
	if err := Decode(got, &payload); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if payload.Timestamp != 123 {
		t.Fatalf("expected timestamp 123, got %d", payload.Timestamp)
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xFF, 0xFF, 0xFF, 0xFF, byte(TagPing)}
	buf.Write(header)

	if _, err := ReadMessage(bufio.NewReader(&buf)); err == nil {
		t.Fatalf("expected rejection of a frame exceeding MaxMessageBytes")
	}
}

func TestReadMessageRejectsTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05, byte(TagPing)})
	buf.Write([]byte{0x01, 0x02})

	if _, err := ReadMessage(bufio.NewReader(&buf)); err == nil {
		t.Fatalf("expected an error reading a truncated payload")
	}
}

func TestTagStringUnknown(t *testing.T) {
	if got := Tag(255).String(); got != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for an unrecognized tag, got %q", got)
	}
}
