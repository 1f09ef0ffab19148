package queue

import (
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{UserID: 1001, ReworkID: 28}

	payload := msg.Encode()
	if len(payload) != messageSize {
		t.Fatalf("expected %d byte payload, got %d", messageSize, len(payload))
	}

	decoded, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, msg)
	}
}

func TestDecodeNegativeIDs(t *testing.T) {
	msg := Message{UserID: -1, ReworkID: -42}
	decoded, err := Decode(msg.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != msg {
		t.Fatalf("negative ids not preserved: %+v", decoded)
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength for nil payload, got %v", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	payload := Message{UserID: 1, ReworkID: 2}.Encode()
	payload[0] = 99
	if _, err := Decode(payload); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}
