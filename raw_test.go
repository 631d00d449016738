package tidslinje

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawTimeline(t *testing.T) {
	t.Parallel()

	t.Run("Invalid object size", func(t *testing.T) {
		t.Parallel()

		for _, size := range []int{0, -8} {
			r, err := NewRaw(size)
			require.ErrorIs(t, err, ErrInvalidObjectSize)
			assert.Nil(t, r)
		}
	})

	t.Run("Push and lookup", func(t *testing.T) {
		t.Parallel()

		r, err := NewRaw(4, WithCapacity(2))
		require.NoError(t, err)
		assert.Equal(t, 4, r.ObjectSize())

		buf, err := r.CreateBuffer(100)
		require.NoError(t, err)
		assert.Equal(t, 4, buf.Len())
		copy(buf.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef})
		require.NoError(t, r.PushBuffer(buf))

		assert.Same(t, buf, r.GetBuffer(100))
		assert.Same(t, buf, r.GetClosestBuffer(250, Past))
		assert.Nil(t, r.GetClosestBuffer(250, Future))
		assert.Same(t, buf, r.NewestBuffer())
		assert.Nil(t, r.GetBuffer(101))
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, r.GetBuffer(100).Bytes())
	})

	t.Run("Size mismatch", func(t *testing.T) {
		t.Parallel()

		small, err := NewRaw(4, WithCapacity(1))
		require.NoError(t, err)
		large, err := NewRaw(8, WithCapacity(1))
		require.NoError(t, err)

		obj, err := large.CreateObject(1)
		require.NoError(t, err)
		require.ErrorIs(t, small.PushObject(obj), ErrTypeMismatch)
		assert.False(t, small.IsObjectValid(obj))
		assert.True(t, large.IsObjectValid(obj))

		require.ErrorIs(t, small.PushBuffer(NewRawBuffer(4)), ErrForeignObject)
	})

	t.Run("Deep copy", func(t *testing.T) {
		t.Parallel()

		src, err := NewRaw(2, WithCapacity(2))
		require.NoError(t, err)
		buf, err := src.CreateBuffer(1)
		require.NoError(t, err)
		copy(buf.Bytes(), "ok")
		require.NoError(t, src.PushBuffer(buf))

		dst, err := NewRaw(2)
		require.NoError(t, err)
		require.NoError(t, dst.DeepCopy(src.Timeline))
		assert.Equal(t, "ok", string(dst.GetBuffer(1).Bytes()))

		mismatched, err := NewRaw(3)
		require.NoError(t, err)
		require.ErrorIs(t, mismatched.DeepCopy(src.Timeline), ErrTypeMismatch)
	})
}

func TestRawBuffer(t *testing.T) {
	t.Parallel()

	b := NewRawBuffer(3)
	assert.Nil(t, b.Object())
	require.NoError(t, b.UnmarshalBinary([]byte{1, 2, 3}))

	data, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	// marshal output does not alias the buffer
	data[0] = 9
	assert.Equal(t, byte(1), b.Bytes()[0])

	b.Reset()
	assert.Equal(t, []byte{1, 2, 3}, b.Bytes(), "reset keeps raw contents")

	require.ErrorIs(t, b.UnmarshalBinary([]byte{1}), ErrTypeMismatch)
	require.ErrorIs(t, b.CopyFrom(NewRawBuffer(4)), ErrTypeMismatch)
	require.ErrorIs(t, b.CopyFrom(newBuffer[int32](1)), ErrTypeMismatch)
}

func TestPixelFormat(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		input      string
		format     PixelFormat
		components int
		wantErr    bool
	}{
		{name: "gray", input: "gray8", format: Gray8, components: 1},
		{name: "rgb", input: "RGB8", format: RGB8, components: 3},
		{name: "bgr with spaces", input: " bgr8 ", format: BGR8, components: 3},
		{name: "rgba", input: "rgba8", format: RGBA8, components: 4},
		{name: "bgra", input: "bgra8", format: BGRA8, components: 4},
		{name: "undefined is not parseable", input: "undefined", wantErr: true},
		{name: "unknown", input: "yuv420", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, err := ParsePixelFormat(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidFrameFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.format, f)
			assert.Equal(t, tc.components, f.Components())
			assert.Equal(t, f, mustParse(t, f.String()))
		})
	}

	assert.Equal(t, "PixelFormat(42)", PixelFormat(42).String())
	assert.Equal(t, 0, FormatUndefined.Components())
}

func mustParse(t *testing.T, s string) PixelFormat {
	t.Helper()

	f, err := ParsePixelFormat(s)
	require.NoError(t, err)
	return f
}

func TestFrameTimeline(t *testing.T) {
	t.Parallel()

	_, err := NewFrameTimeline(0, 480, RGB8)
	require.ErrorIs(t, err, ErrInvalidFrameFormat)
	_, err = NewFrameTimeline(640, 480, FormatUndefined)
	require.ErrorIs(t, err, ErrInvalidFrameFormat)

	ft, err := NewFrameTimeline(4, 2, RGBA8, WithCapacity(3))
	require.NoError(t, err)
	assert.Equal(t, 4, ft.Width())
	assert.Equal(t, 2, ft.Height())
	assert.Equal(t, RGBA8, ft.Format())
	assert.Equal(t, 16, ft.Stride())
	assert.Equal(t, 32, ft.ObjectSize())

	frame, err := ft.CreateBuffer(Now())
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Len())
}
