package tidslinje

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrix4(t *testing.T) {
	t.Parallel()

	m := Identity()
	for r := range 4 {
		for c := range 4 {
			want := float32(0)
			if r == c {
				want = 1
			}
			assert.Equal(t, want, m.At(r, c), "at %d,%d", r, c)
		}
	}

	m[3] = 12.5 // row 0, translation x
	assert.Equal(t, float32(12.5), m.At(0, 3))
}

func TestMatrixTimelineElementIndex(t *testing.T) {
	t.Parallel()

	mt, err := NewMatrixTimeline(2, WithCapacity(4))
	require.NoError(t, err)

	_, ok := mt.LookupElement("pointer")
	assert.False(t, ok)

	pointer, err := mt.ElementIndex("pointer")
	require.NoError(t, err)
	assert.Equal(t, 0, pointer)

	stylus, err := mt.ElementIndex("stylus")
	require.NoError(t, err)
	assert.Equal(t, 1, stylus)

	again, err := mt.ElementIndex("pointer")
	require.NoError(t, err)
	assert.Equal(t, pointer, again, "names keep their index")

	idx, ok := mt.LookupElement("stylus")
	require.True(t, ok)
	assert.Equal(t, stylus, idx)

	_, err = mt.ElementIndex("reference")
	require.ErrorIs(t, err, ErrElementIndex)
	_, ok = mt.LookupElement("reference")
	assert.False(t, ok)
}

func TestMatrixTimelinePushTransforms(t *testing.T) {
	t.Parallel()

	mt, err := NewMatrixTimeline(4, WithCapacity(4))
	require.NoError(t, err)

	pointer, err := mt.ElementIndex("pointer")
	require.NoError(t, err)
	stylus, err := mt.ElementIndex("stylus")
	require.NoError(t, err)

	for i, ts := range []float64{100, 133, 166} {
		buf, err := mt.CreateBuffer(ts)
		require.NoError(t, err)

		m := Identity()
		m[3] = float32(i)
		require.NoError(t, buf.SetElement(m, pointer))
		if i%2 == 0 {
			// stylus only seen every other frame
			require.NoError(t, buf.SetElement(Identity(), stylus))
		}
		require.NoError(t, mt.PushBuffer(buf))
	}

	buf := mt.GetClosestBuffer(140, Both)
	require.NotNil(t, buf)
	assert.Equal(t, 133.0, buf.Timestamp())
	assert.True(t, buf.IsPresent(pointer))
	assert.False(t, buf.IsPresent(stylus))
	assert.Equal(t, float32(1), buf.Element(pointer).At(0, 3))
	assert.Equal(t, uintptr(64), buf.ElementSize())

	newest := mt.NewestBuffer()
	require.NotNil(t, newest)
	assert.Equal(t, 2, newest.PresentElementNum())
}

func TestMatrixTimelineConcurrentNames(t *testing.T) {
	t.Parallel()

	mt, err := NewMatrixTimeline(MaxElementNum)
	require.NoError(t, err)

	var wg sync.WaitGroup
	indices := make([]int, MaxElementNum)
	for i := range MaxElementNum {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := mt.ElementIndex(fmt.Sprintf("tool-%d", i))
			assert.NoError(t, err)
			indices[i] = idx
		}()
	}
	wg.Wait()

	seen := make(map[int]bool, MaxElementNum)
	for _, idx := range indices {
		assert.False(t, seen[idx], "index %d bound twice", idx)
		seen[idx] = true
	}
	assert.Len(t, seen, MaxElementNum)
}
