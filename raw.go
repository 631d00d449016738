package tidslinje

import (
	"fmt"
	"strings"
)

// RawTimeline is a Timeline whose entries carry fixed-size byte buffers.
type RawTimeline struct {
	*Timeline
	objectSize int
}

// NewRaw creates a timeline of objectSize-byte buffers.
func NewRaw(objectSize int, opts ...Option) (*RawTimeline, error) {
	if objectSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObjectSize, objectSize)
	}

	r := &RawTimeline{objectSize: objectSize}
	opts = append(opts,
		WithPayloadFactory(func(int) Payload { return NewRawBuffer(objectSize) }),
		WithValidator(r.validateObject),
	)
	r.Timeline = New(opts...)
	return r, nil
}

// ObjectSize returns the byte size of each entry.
func (r *RawTimeline) ObjectSize() int { return r.objectSize }

// IsObjectValid reports whether obj carries a RawBuffer of ObjectSize bytes.
func (r *RawTimeline) IsObjectValid(obj *Object) bool {
	return r.validateObject(obj) == nil
}

func (r *RawTimeline) validateObject(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrTypeMismatch)
	}
	b, ok := obj.payload.(*RawBuffer)
	if !ok {
		return fmt.Errorf("%w: want *RawBuffer, got %T", ErrTypeMismatch, obj.payload)
	}
	if b.Len() != r.objectSize {
		return fmt.Errorf("%w: buffer size %d, want %d", ErrTypeMismatch, b.Len(), r.objectSize)
	}
	return nil
}

// CreateBuffer stages an entry at ts. Its bytes are stale until written.
func (r *RawTimeline) CreateBuffer(ts float64) (*RawBuffer, error) {
	obj, err := r.CreateObject(ts)
	if err != nil {
		return nil, err
	}
	return obj.payload.(*RawBuffer), nil
}

// PushBuffer publishes a buffer obtained from CreateBuffer.
func (r *RawTimeline) PushBuffer(b *RawBuffer) error {
	if b == nil || b.obj == nil {
		return fmt.Errorf("push buffer: %w", ErrForeignObject)
	}
	return r.PushObject(b.obj)
}

// GetBuffer returns the buffer at exactly ts, or nil.
func (r *RawTimeline) GetBuffer(ts float64) *RawBuffer {
	return rawBufferOf(r.GetObject(ts))
}

// GetClosestBuffer returns the buffer nearest ts in direction dir, or nil.
func (r *RawTimeline) GetClosestBuffer(ts float64, dir Direction) *RawBuffer {
	return rawBufferOf(r.GetClosestObject(ts, dir))
}

// NewestBuffer returns the buffer with the greatest timestamp, or nil.
func (r *RawTimeline) NewestBuffer() *RawBuffer {
	return rawBufferOf(r.Newest())
}

func rawBufferOf(obj *Object) *RawBuffer {
	if obj == nil {
		return nil
	}
	b, _ := obj.payload.(*RawBuffer)
	return b
}

// PixelFormat describes the layout of a frame pixel.
type PixelFormat uint8

const (
	FormatUndefined PixelFormat = iota
	Gray8
	RGB8
	BGR8
	RGBA8
	BGRA8
)

var pixelFormatNames = map[PixelFormat]string{
	FormatUndefined: "undefined",
	Gray8:           "gray8",
	RGB8:            "rgb8",
	BGR8:            "bgr8",
	RGBA8:           "rgba8",
	BGRA8:           "bgra8",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", uint8(f))
}

// Components returns the number of bytes per pixel, zero when undefined.
func (f PixelFormat) Components() int {
	switch f {
	case Gray8:
		return 1
	case RGB8, BGR8:
		return 3
	case RGBA8, BGRA8:
		return 4
	default:
		return 0
	}
}

// ParsePixelFormat parses a format name such as "rgba8".
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range pixelFormatNames {
		if f != FormatUndefined && name == s {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("%w: unknown pixel format %q", ErrInvalidFrameFormat, s)
}

// FrameTimeline is a RawTimeline of video frames with a fixed shape.
type FrameTimeline struct {
	*RawTimeline
	width  int
	height int
	format PixelFormat
}

// NewFrameTimeline creates a timeline of width x height frames in format.
func NewFrameTimeline(width, height int, format PixelFormat, opts ...Option) (*FrameTimeline, error) {
	if width <= 0 || height <= 0 || format.Components() == 0 {
		return nil, fmt.Errorf("%w: %dx%d %s", ErrInvalidFrameFormat, width, height, format)
	}

	raw, err := NewRaw(width*height*format.Components(), opts...)
	if err != nil {
		return nil, err
	}
	return &FrameTimeline{
		RawTimeline: raw,
		width:       width,
		height:      height,
		format:      format,
	}, nil
}

// Width returns the frame width in pixels.
func (f *FrameTimeline) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *FrameTimeline) Height() int { return f.height }

// Format returns the pixel format.
func (f *FrameTimeline) Format() PixelFormat { return f.format }

// Stride returns the number of bytes per frame row.
func (f *FrameTimeline) Stride() int { return f.width * f.format.Components() }
