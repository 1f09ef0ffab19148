// Package queue is the AMQP transport for recalculation work items.
package queue

import (
	"encoding/binary"
	"errors"
)

// QueueName is the durable broker queue shared by all producers and the processor.
const QueueName = "rework_queue"

// messageVersion prefixes every payload for forward compatibility.
const messageVersion = 1

// messageSize is version byte + two little-endian int32s.
const messageSize = 9

var (
	ErrBadLength  = errors.New("queue: payload has wrong length")
	ErrBadVersion = errors.New("queue: unknown payload version")
)

// Message is one unit of work: recalculate one user under one rework.
type Message struct {
	UserID   int32
	ReworkID int32
}

// Encode serializes to the fixed wire layout:
// [version u8 | user_id i32 LE | rework_id i32 LE].
func (m Message) Encode() []byte {
	buf := make([]byte, messageSize)
	buf[0] = messageVersion
	binary.LittleEndian.PutUint32(buf[1:5], uint32(m.UserID))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(m.ReworkID))
	return buf
}

// Decode validates layout and version before accepting a payload. Invalid
// payloads are dropped by the consumer rather than retried.
func Decode(payload []byte) (Message, error) {
	if len(payload) != messageSize {
		return Message{}, ErrBadLength
	}
	if payload[0] != messageVersion {
		return Message{}, ErrBadVersion
	}
	return Message{
		UserID:   int32(binary.LittleEndian.Uint32(payload[1:5])),
		ReworkID: int32(binary.LittleEndian.Uint32(payload[5:9])),
	}, nil
}
