package tidslinje

import "fmt"

// objectBinder is implemented by payloads that keep a reference to their slot object.
type objectBinder interface {
	bindObject(*Object)
}

// bufferPool is a fixed arena of preallocated timeline objects.
// It is not safe for concurrent use; the owning Timeline's lock guards it.
type bufferPool struct {
	slots []*Object
	free  []int // stack of free slot indices
}

// newBufferPool allocates capacity objects up front, each with its own payload.
func newBufferPool(capacity int, factory PayloadFactory) (*bufferPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if factory == nil {
		factory = func(int) Payload { return NewRawBuffer(0) }
	}

	p := bufferPool{
		slots: make([]*Object, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := range capacity {
		obj := &Object{
			slot:    i,
			pool:    &p,
			payload: factory(i),
		}
		if b, ok := obj.payload.(objectBinder); ok {
			b.bindObject(obj)
		}
		p.slots[i] = obj
	}
	// lowest slot on top of the stack
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return &p, nil
}

// acquire hands out a free slot, moved to the staged state.
func (p *bufferPool) acquire() (*Object, error) {
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]

	obj := p.slots[idx]
	obj.state = stateStaged
	obj.payload.Reset()
	return obj, nil
}

// release returns obj to the free list. The payload is kept as is.
// It reports false when obj is already free or belongs to another pool.
func (p *bufferPool) release(obj *Object) bool {
	if obj == nil || obj.pool != p || obj.state == stateFree {
		return false
	}
	obj.state = stateFree
	p.free = append(p.free, obj.slot)
	return true
}

// owns reports whether obj was allocated by this pool.
func (p *bufferPool) owns(obj *Object) bool {
	return obj != nil && obj.pool == p
}

func (p *bufferPool) capacity() int { return len(p.slots) }

func (p *bufferPool) available() int { return len(p.free) }

func (p *bufferPool) inUse() int { return len(p.slots) - len(p.free) }
