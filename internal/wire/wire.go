// Package wire implements the fixed-width binary framing used on the
// unreliable datagram transport between car and base: a batch header
// followed by a run of frame records, network byte order, no padding.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// FrameSize is the wire size of a single CAN frame record: timestamp
// (8 bytes double) + can_id (4 bytes) + payload (8 bytes).
const FrameSize = 20

// HeaderSize is the wire size of a batch header: sequence (8 bytes) +
// count (2 bytes).
const HeaderSize = 10

// PayloadLen is the fixed CAN payload width; shorter payloads are
// right-padded with zero bytes by NewFrame.
const PayloadLen = 8

// ErrMalformed is returned when a datagram's declared length and its
// actual length disagree, or the buffer is too short to hold a header.
var ErrMalformed = errors.New("wire: malformed datagram")

// Frame is one CAN observation: a source-clock timestamp in seconds, a
// 29-bit CAN identifier, and an 8-byte payload.
type Frame struct {
	Timestamp float64
	CanID     uint32
	Payload   [PayloadLen]byte
}

// Batch is a contiguous, sequence-numbered group of frames transmitted
// together in a single datagram.
type Batch struct {
	Sequence uint64
	Frames   []Frame
}

// NewFrame builds a Frame, right-padding payload to PayloadLen if it is
// shorter and truncating if it is longer.
func NewFrame(ts float64, canID uint32, payload []byte) Frame {
	var f Frame
	f.Timestamp = ts
	f.CanID = canID
	n := copy(f.Payload[:], payload)
	_ = n
	return f
}

// Encode packs a batch into its wire representation.
func Encode(b Batch) []byte {
	count := len(b.Frames)
	buf := make([]byte, HeaderSize+FrameSize*count)
	binary.BigEndian.PutUint64(buf[0:8], b.Sequence)
	binary.BigEndian.PutUint16(buf[8:10], uint16(count))

	off := HeaderSize
	for _, f := range b.Frames {
		bits := math.Float64bits(f.Timestamp)
		binary.BigEndian.PutUint64(buf[off:off+8], bits)
		binary.BigEndian.PutUint32(buf[off+8:off+12], f.CanID)
		copy(buf[off+12:off+20], f.Payload[:])
		off += FrameSize
	}
	return buf
}

// Decode unpacks a datagram into a batch. Decode is total over any
// well-formed buffer: it never rejects a frame's field values, only the
// length invariant (header length + count*FrameSize must equal the
// buffer length).
func Decode(data []byte) (Batch, error) {
	if len(data) < HeaderSize {
		return Batch{}, ErrMalformed
	}
	seq := binary.BigEndian.Uint64(data[0:8])
	count := binary.BigEndian.Uint16(data[8:10])

	want := HeaderSize + FrameSize*int(count)
	if want != len(data) {
		return Batch{}, ErrMalformed
	}

	frames := make([]Frame, count)
	off := HeaderSize
	for i := 0; i < int(count); i++ {
		bits := binary.BigEndian.Uint64(data[off : off+8])
		frames[i].Timestamp = math.Float64frombits(bits)
		frames[i].CanID = binary.BigEndian.Uint32(data[off+8 : off+12])
		copy(frames[i].Payload[:], data[off+12:off+20])
		off += FrameSize
	}

	return Batch{Sequence: seq, Frames: frames}, nil
}

// Size returns the wire size in bytes of a datagram carrying count frames.
func Size(count int) int {
	return HeaderSize + FrameSize*count
}
