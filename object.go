package tidslinje

import (
	"fmt"
	"math"
	"sync/atomic"
)

// slotState tracks where a pool slot sits in its lifecycle.
type slotState uint8

const (
	stateFree slotState = iota
	stateStaged
	stateLive
)

func (s slotState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateStaged:
		return "staged"
	case stateLive:
		return "live"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Payload is the storage a pool slot carries across push/pop cycles.
// Implementations are allocated once when the pool is initialized.
type Payload interface {
	// Reset prepares the payload for a new object. It must not allocate.
	Reset()
	// CopyFrom overwrites the payload with the contents of src.
	CopyFrom(src Payload) error
	// MarshalBinary encodes the payload contents.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary overwrites the payload contents from data.
	UnmarshalBinary(data []byte) error
}

// PayloadFactory allocates the payload of pool slot i.
type PayloadFactory func(slot int) Payload

// Object is a single timeline entry: a timestamp plus the payload of its pool slot.
//
// An Object is created once, when the pool is initialized, and reused for
// every entry that lands on its slot. Callers that need data beyond the next
// write to the timeline must copy it out.
type Object struct {
	ts      atomic.Uint64 // float64 bits
	slot    int
	state   slotState // guarded by the owning timeline's lock
	pool    *bufferPool
	payload Payload
}

// Timestamp returns the object timestamp in milliseconds.
func (o *Object) Timestamp() float64 {
	return math.Float64frombits(o.ts.Load())
}

func (o *Object) setTimestamp(ts float64) {
	o.ts.Store(math.Float64bits(ts))
}

// Slot returns the position of the object in its pool.
func (o *Object) Slot() int { return o.slot }

// Payload returns the slot payload.
func (o *Object) Payload() Payload { return o.payload }

// RawBuffer is a fixed-size byte payload.
type RawBuffer struct {
	b   []byte
	obj *Object
}

var _ Payload = (*RawBuffer)(nil)

// NewRawBuffer allocates a raw buffer of size bytes.
func NewRawBuffer(size int) *RawBuffer {
	return &RawBuffer{b: make([]byte, size)}
}

func (r *RawBuffer) bindObject(obj *Object) { r.obj = obj }

// Object returns the pool object holding r, nil for a detached buffer.
func (r *RawBuffer) Object() *Object { return r.obj }

// Bytes returns the underlying bytes. The slice keeps its length across reuse.
func (r *RawBuffer) Bytes() []byte { return r.b }

// Len returns the buffer size in bytes.
func (r *RawBuffer) Len() int { return len(r.b) }

// Reset is a no-op: raw contents stay stale until rewritten.
func (r *RawBuffer) Reset() {}

// CopyFrom copies src bytes into r. Sizes must match.
func (r *RawBuffer) CopyFrom(src Payload) error {
	s, ok := src.(*RawBuffer)
	if !ok {
		return fmt.Errorf("%w: want *RawBuffer, got %T", ErrTypeMismatch, src)
	}
	if len(s.b) != len(r.b) {
		return fmt.Errorf("%w: buffer size %d, want %d", ErrTypeMismatch, len(s.b), len(r.b))
	}
	copy(r.b, s.b)
	return nil
}

// MarshalBinary returns a copy of the buffer.
func (r *RawBuffer) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), r.b...), nil
}

// UnmarshalBinary copies data into the buffer. Sizes must match.
func (r *RawBuffer) UnmarshalBinary(data []byte) error {
	if len(data) != len(r.b) {
		return fmt.Errorf("%w: buffer size %d, want %d", ErrTypeMismatch, len(data), len(r.b))
	}
	copy(r.b, data)
	return nil
}
