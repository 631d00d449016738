package tidslinje

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrElementNameCollision is returned when two element names share a hash.
var ErrElementNameCollision = errors.New("element name hash collision")

// Matrix4 is a row-major 4x4 transform.
type Matrix4 [16]float32

// Identity returns the identity transform.
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the coefficient at row r, column c.
func (m Matrix4) At(r, c int) float32 { return m[r*4+c] }

type elementName struct {
	name  string
	index int
}

// MatrixTimeline carries up to maxElementNum tracked transforms per timestamp,
// addressable by tool name.
type MatrixTimeline struct {
	*GenericTimeline[Matrix4]

	mu    sync.Mutex
	names map[uint64]elementName
	next  int
}

// NewMatrixTimeline creates a transform timeline.
func NewMatrixTimeline(maxElementNum int, opts ...Option) (*MatrixTimeline, error) {
	g, err := NewGeneric[Matrix4](maxElementNum, opts...)
	if err != nil {
		return nil, err
	}
	return &MatrixTimeline{
		GenericTimeline: g,
		names:           make(map[uint64]elementName),
	}, nil
}

// ElementIndex returns the element index bound to name, binding the next
// free index on first use.
func (m *MatrixTimeline) ElementIndex(name string) (int, error) {
	id := xxhash.Sum64String(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.names[id]; ok {
		if e.name != name {
			return 0, fmt.Errorf("%w: %q and %q", ErrElementNameCollision, e.name, name)
		}
		return e.index, nil
	}
	if m.next >= m.maxElementNum {
		return 0, fmt.Errorf("%w: no free element for %q", ErrElementIndex, name)
	}
	m.names[id] = elementName{name: name, index: m.next}
	m.next++
	return m.next - 1, nil
}

// LookupElement returns the index bound to name without binding a new one.
func (m *MatrixTimeline) LookupElement(name string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.names[xxhash.Sum64String(name)]
	if !ok || e.name != name {
		return 0, false
	}
	return e.index, true
}
