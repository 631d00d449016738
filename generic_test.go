package tidslinje

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type float4 = [4]float32

type trackedMarker struct {
	ID     int32
	Pos    [2]float64
	Flags  uint16
	Weight float32
}

func TestGenericTimelineConstruction(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1, MaxElementNum + 1} {
		g, err := NewGeneric[float4](n, WithCapacity(2))
		require.ErrorIs(t, err, ErrInvalidElementNum, "n=%d", n)
		assert.Nil(t, g)
	}

	g, err := NewGeneric[float4](MaxElementNum, WithCapacity(2))
	require.NoError(t, err)
	assert.Equal(t, MaxElementNum, g.MaxElementNum())

	buf, err := g.CreateBuffer(1)
	require.NoError(t, err)
	require.NoError(t, buf.SetElement(float4{1}, MaxElementNum-1))
	assert.Equal(t, uint64(1)<<63, buf.Mask())
}

func TestGenericTimelinePushPop(t *testing.T) {
	t.Parallel()

	g, err := NewGeneric[float4](3, WithCapacity(3))
	require.NoError(t, err)

	const time1, time2, time3 = 1000.0, 1042.0, 1081.0

	values1 := float4{1.0, 5.2, 7.5, 1.0}
	values2 := float4{4.0, 5.5, 1.5, 2.0}
	values3 := float4{1.0, 3.2, 2.5, 0.0}
	values4 := float4{-1.0, 1.1, 0.5, -1.0}
	values6 := float4{2.0, 2.2, -2.9, 0.2}

	// all elements set, some overwritten
	data1, err := g.CreateBuffer(time1)
	require.NoError(t, err)
	require.NoError(t, data1.SetElement(values1, 0))
	require.NoError(t, data1.SetElement(values2, 1))
	require.NoError(t, data1.SetElement(values3, 2))
	require.NoError(t, data1.SetElement(values3, 2))
	require.NoError(t, data1.SetElement(values1, 1))
	require.NoError(t, data1.SetElement(values2, 1))

	// second element missing
	data2, err := g.CreateBuffer(time2)
	require.NoError(t, err)
	require.NoError(t, data2.SetElement(values3, 0))
	require.NoError(t, data2.SetElement(values4, 1))
	require.NoError(t, data2.SetElement(values1, 2))

	data3, err := g.CreateBuffer(time3)
	require.NoError(t, err)
	require.NoError(t, data3.SetElement(values4, 0))
	_, err = data3.AddElement(2)
	require.NoError(t, err)
	slot, err := data3.AddElement(2)
	require.NoError(t, err)
	*slot = values6

	require.NoError(t, g.PushBuffer(data1))
	require.NoError(t, g.PushBuffer(data2))
	require.NoError(t, g.PushBuffer(data3))

	assert.Equal(t, time1, data1.Timestamp())
	assert.Equal(t, time2, data2.Timestamp())
	assert.Equal(t, time3, data3.Timestamp())

	assert.Same(t, data1, g.GetBuffer(time1))
	assert.Same(t, data2, g.GetBuffer(time2))
	assert.Same(t, data3, g.GetBuffer(time3))

	t.Run("All elements present", func(t *testing.T) {
		buf := g.GetClosestBuffer(time1+1.5, Both)
		require.NotNil(t, buf)
		assert.Same(t, data1, buf)

		assert.Equal(t, 3, buf.PresentElementNum())
		assert.Equal(t, uintptr(16), buf.ElementSize())
		assert.Equal(t, 3, buf.MaxElementNum())
		assert.True(t, buf.IsPresent(0))
		assert.True(t, buf.IsPresent(1))
		assert.True(t, buf.IsPresent(2))
		assert.Equal(t, uint64(7), buf.Mask())

		assert.Equal(t, values1, buf.Element(0))
		assert.Equal(t, values2, buf.Element(1))
		assert.Equal(t, values3, buf.Element(2))
	})

	t.Run("Missing element", func(t *testing.T) {
		buf := g.NewestBuffer()
		require.NotNil(t, buf)
		assert.Same(t, data3, buf)

		ts, ok := g.NewestTimestamp()
		require.True(t, ok)
		assert.InDelta(t, time3, ts, 0.00001)

		assert.Equal(t, 2, buf.PresentElementNum())
		assert.False(t, buf.IsPresent(1))
		assert.Equal(t, uint64(5), buf.Mask())
		assert.Equal(t, values4, buf.Element(0))
		assert.Equal(t, float4{}, buf.Element(1))
		assert.Equal(t, values6, buf.Element(2))
	})

	t.Run("Pop and push back", func(t *testing.T) {
		assert.Same(t, data2, g.GetClosestBuffer(time2, Both))

		popped, err := g.PopObject(time2)
		require.NoError(t, err)
		assert.Same(t, data2.Object(), popped)
		assert.Same(t, data3, g.GetClosestBuffer(time2, Both), "nearest remaining entry should win")

		// the freed slot comes back first and is handed out with an empty mask
		again, err := g.CreateBuffer(time2)
		require.NoError(t, err)
		assert.Same(t, data2, again)
		assert.Equal(t, uint64(0), again.Mask())
		require.NoError(t, again.SetElement(values1, 1))
		require.NoError(t, g.PushBuffer(again))
		assert.Same(t, data2, g.GetClosestBuffer(time2, Both))

		_, err = g.PopObject(time3)
		require.NoError(t, err)
		assert.Same(t, data2, g.GetClosestBuffer(time3, Both))
		assert.Same(t, data2, g.NewestBuffer())
		assert.Same(t, data1, g.GetClosestBuffer(time1, Both))
	})
}

func TestGenericBufferElements(t *testing.T) {
	t.Parallel()

	g, err := NewGeneric[trackedMarker](3, WithCapacity(1))
	require.NoError(t, err)

	buf, err := g.CreateBuffer(5)
	require.NoError(t, err)

	_, err = buf.AddElement(3)
	require.ErrorIs(t, err, ErrElementIndex)
	require.ErrorIs(t, buf.SetElement(trackedMarker{}, -1), ErrElementIndex)
	assert.False(t, buf.IsPresent(3))
	assert.Equal(t, trackedMarker{}, buf.Element(7))

	require.NoError(t, buf.SetElement(trackedMarker{ID: 1, Pos: [2]float64{1, 2}}, 1))
	require.NoError(t, buf.SetElement(trackedMarker{ID: 2, Pos: [2]float64{3, 4}}, 2))
	assert.Equal(t, uint64(6), buf.Mask())

	var indices []int
	var ids []int32
	for i, m := range buf.Present() {
		indices = append(indices, i)
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int{1, 2}, indices)
	assert.Equal(t, []int32{1, 2}, ids)

	// early break stops iteration
	count := 0
	for range buf.Present() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestGenericBufferBinary(t *testing.T) {
	t.Parallel()

	src := newBuffer[trackedMarker](4)
	require.NoError(t, src.SetElement(trackedMarker{ID: 7, Pos: [2]float64{0.5, -1}, Flags: 3, Weight: 0.25}, 0))
	require.NoError(t, src.SetElement(trackedMarker{ID: 9, Weight: 1}, 3))

	data, err := src.MarshalBinary()
	require.NoError(t, err)

	dst := newBuffer[trackedMarker](4)
	require.NoError(t, dst.UnmarshalBinary(data))
	assert.Equal(t, src.Mask(), dst.Mask())
	assert.Equal(t, src.Element(0), dst.Element(0))
	assert.Equal(t, src.Element(3), dst.Element(3))

	require.ErrorIs(t, newBuffer[trackedMarker](2).UnmarshalBinary(data), ErrTypeMismatch)
	require.ErrorIs(t, dst.UnmarshalBinary(data[:8]), ErrTypeMismatch)

	copied := newBuffer[trackedMarker](4)
	require.NoError(t, copied.CopyFrom(src))
	assert.Equal(t, src.Mask(), copied.Mask())
	require.ErrorIs(t, copied.CopyFrom(NewRawBuffer(4)), ErrTypeMismatch)
}

func TestGenericTimelineTypeMismatch(t *testing.T) {
	t.Parallel()

	g, err := NewGeneric[float4](3, WithCapacity(2))
	require.NoError(t, err)
	raw, err := NewRaw(16, WithCapacity(2))
	require.NoError(t, err)
	other, err := NewGeneric[float4](2, WithCapacity(2))
	require.NoError(t, err)

	rawObj, err := raw.CreateObject(1)
	require.NoError(t, err)
	require.ErrorIs(t, g.PushObject(rawObj), ErrTypeMismatch)
	assert.False(t, g.IsObjectValid(rawObj))

	narrow, err := other.CreateObject(1)
	require.NoError(t, err)
	require.ErrorIs(t, g.PushObject(narrow), ErrTypeMismatch)
	assert.False(t, g.IsObjectValid(narrow))
	assert.False(t, g.IsObjectValid(nil))

	// same shape, different timeline
	twin, err := NewGeneric[float4](3, WithCapacity(1))
	require.NoError(t, err)
	foreign, err := twin.CreateObject(1)
	require.NoError(t, err)
	assert.True(t, g.IsObjectValid(foreign))
	require.ErrorIs(t, g.PushObject(foreign), ErrForeignObject)

	assert.Equal(t, 0, g.Len())
	require.ErrorIs(t, g.PushBuffer(nil), ErrForeignObject)
}

func TestGenericTimelineDeepCopy(t *testing.T) {
	t.Parallel()

	src, err := NewGeneric[float4](2, WithCapacity(3))
	require.NoError(t, err)
	buf, err := src.CreateBuffer(10)
	require.NoError(t, err)
	require.NoError(t, buf.SetElement(float4{1, 2, 3, 4}, 1))
	require.NoError(t, src.PushBuffer(buf))

	dst, err := NewGeneric[float4](2)
	require.NoError(t, err)
	require.NoError(t, dst.DeepCopy(src.Timeline))

	copied := dst.GetBuffer(10)
	require.NotNil(t, copied)
	assert.NotSame(t, buf, copied)
	assert.Equal(t, uint64(2), copied.Mask())
	assert.Equal(t, float4{1, 2, 3, 4}, copied.Element(1))

	// element counts must agree
	wide, err := NewGeneric[float4](3)
	require.NoError(t, err)
	require.ErrorIs(t, wide.DeepCopy(src.Timeline), ErrTypeMismatch)
}
