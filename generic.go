package tidslinje

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math/bits"
	"reflect"
)

// MaxElementNum is the largest per-entry element count; presence is tracked in a uint64 mask.
const MaxElementNum = 64

// Buffer is the payload of a GenericTimeline entry: up to maxElementNum
// values of T, each either present or absent.
type Buffer[T any] struct {
	elements []T
	mask     uint64
	obj      *Object
}

var _ Payload = (*Buffer[int32])(nil)

func newBuffer[T any](maxElementNum int) *Buffer[T] {
	return &Buffer[T]{elements: make([]T, maxElementNum)}
}

func (b *Buffer[T]) bindObject(obj *Object) { b.obj = obj }

// Object returns the pool object holding b.
func (b *Buffer[T]) Object() *Object { return b.obj }

// Timestamp returns the timestamp of the entry holding b.
func (b *Buffer[T]) Timestamp() float64 {
	if b.obj == nil {
		return 0
	}
	return b.obj.Timestamp()
}

// Reset marks every element absent.
func (b *Buffer[T]) Reset() { b.mask = 0 }

// SetElement stores v at index i and marks it present.
func (b *Buffer[T]) SetElement(v T, i int) error {
	if i < 0 || i >= len(b.elements) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrElementIndex, i, len(b.elements))
	}
	b.elements[i] = v
	b.mask |= 1 << uint(i)
	return nil
}

// AddElement marks index i present and returns a pointer to its zeroed storage.
func (b *Buffer[T]) AddElement(i int) (*T, error) {
	if i < 0 || i >= len(b.elements) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrElementIndex, i, len(b.elements))
	}
	var zero T
	b.elements[i] = zero
	b.mask |= 1 << uint(i)
	return &b.elements[i], nil
}

// Element returns the value at index i, or the zero T when absent.
func (b *Buffer[T]) Element(i int) T {
	var zero T
	if !b.IsPresent(i) {
		return zero
	}
	return b.elements[i]
}

// IsPresent reports whether index i holds a value.
func (b *Buffer[T]) IsPresent(i int) bool {
	if i < 0 || i >= len(b.elements) {
		return false
	}
	return b.mask&(1<<uint(i)) != 0
}

// Mask returns the presence bit mask, bit i set for a present element i.
func (b *Buffer[T]) Mask() uint64 { return b.mask }

// PresentElementNum returns how many elements are present.
func (b *Buffer[T]) PresentElementNum() int { return bits.OnesCount64(b.mask) }

// MaxElementNum returns the element capacity.
func (b *Buffer[T]) MaxElementNum() int { return len(b.elements) }

// ElementSize returns the size in bytes of one element.
func (b *Buffer[T]) ElementSize() uintptr { return reflect.TypeFor[T]().Size() }

// Present iterates over present elements in index order.
func (b *Buffer[T]) Present() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for m := b.mask; m != 0; m &= m - 1 {
			i := bits.TrailingZeros64(m)
			if !yield(i, b.elements[i]) {
				return
			}
		}
	}
}

// CopyFrom copies the elements and mask of src.
func (b *Buffer[T]) CopyFrom(src Payload) error {
	s, ok := src.(*Buffer[T])
	if !ok {
		return fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, b, src)
	}
	if len(s.elements) != len(b.elements) {
		return fmt.Errorf("%w: %d elements, want %d", ErrTypeMismatch, len(s.elements), len(b.elements))
	}
	copy(b.elements, s.elements)
	b.mask = s.mask
	return nil
}

// MarshalBinary encodes the mask followed by every element, little-endian.
// T must be a fixed-size type.
func (b *Buffer[T]) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 12+len(b.elements)*int(b.ElementSize()))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.elements)))
	out = binary.LittleEndian.AppendUint64(out, b.mask)
	out, err := binary.Append(out, binary.LittleEndian, b.elements)
	if err != nil {
		return nil, fmt.Errorf("marshal buffer: %w", err)
	}
	return out, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (b *Buffer[T]) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: short buffer payload", ErrTypeMismatch)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n != len(b.elements) {
		return fmt.Errorf("%w: %d elements, want %d", ErrTypeMismatch, n, len(b.elements))
	}
	mask := binary.LittleEndian.Uint64(data[4:])
	if _, err := binary.Decode(data[12:], binary.LittleEndian, b.elements); err != nil {
		return fmt.Errorf("unmarshal buffer: %w", err)
	}
	b.mask = mask
	return nil
}

// GenericTimeline is a Timeline whose entries each carry a Buffer[T].
type GenericTimeline[T any] struct {
	*Timeline
	maxElementNum int
}

// NewGeneric creates a typed timeline with maxElementNum elements per entry.
func NewGeneric[T any](maxElementNum int, opts ...Option) (*GenericTimeline[T], error) {
	if maxElementNum < 1 || maxElementNum > MaxElementNum {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidElementNum, maxElementNum, MaxElementNum)
	}

	g := &GenericTimeline[T]{maxElementNum: maxElementNum}
	opts = append(opts,
		WithPayloadFactory(func(int) Payload { return newBuffer[T](maxElementNum) }),
		WithValidator(g.validateObject),
	)
	g.Timeline = New(opts...)
	return g, nil
}

// MaxElementNum returns the per-entry element capacity.
func (g *GenericTimeline[T]) MaxElementNum() int { return g.maxElementNum }

// IsObjectValid reports whether obj carries a Buffer[T] of the right size.
func (g *GenericTimeline[T]) IsObjectValid(obj *Object) bool {
	return g.validateObject(obj) == nil
}

func (g *GenericTimeline[T]) validateObject(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrTypeMismatch)
	}
	b, ok := obj.payload.(*Buffer[T])
	if !ok {
		var want *Buffer[T]
		return fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, want, obj.payload)
	}
	if len(b.elements) != g.maxElementNum {
		return fmt.Errorf("%w: %d elements, want %d", ErrTypeMismatch, len(b.elements), g.maxElementNum)
	}
	return nil
}

// CreateBuffer stages an entry at ts with every element absent.
func (g *GenericTimeline[T]) CreateBuffer(ts float64) (*Buffer[T], error) {
	obj, err := g.CreateObject(ts)
	if err != nil {
		return nil, err
	}
	return obj.payload.(*Buffer[T]), nil
}

// PushBuffer publishes a buffer obtained from CreateBuffer.
func (g *GenericTimeline[T]) PushBuffer(b *Buffer[T]) error {
	if b == nil || b.obj == nil {
		return fmt.Errorf("push buffer: %w", ErrForeignObject)
	}
	return g.PushObject(b.obj)
}

// GetBuffer returns the buffer at exactly ts, or nil.
func (g *GenericTimeline[T]) GetBuffer(ts float64) *Buffer[T] {
	return bufferOf[T](g.GetObject(ts))
}

// GetClosestBuffer returns the buffer nearest ts in direction dir, or nil.
func (g *GenericTimeline[T]) GetClosestBuffer(ts float64, dir Direction) *Buffer[T] {
	return bufferOf[T](g.GetClosestObject(ts, dir))
}

// NewestBuffer returns the buffer with the greatest timestamp, or nil.
func (g *GenericTimeline[T]) NewestBuffer() *Buffer[T] {
	return bufferOf[T](g.Newest())
}

func bufferOf[T any](obj *Object) *Buffer[T] {
	if obj == nil {
		return nil
	}
	b, _ := obj.payload.(*Buffer[T])
	return b
}
