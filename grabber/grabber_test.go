package grabber

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/internal/lifecycle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T) Options {
	t.Helper()

	opts := DefaultOptions()
	opts.Width = 8
	opts.Height = 4
	opts.FPS = 200
	opts.Capacity = 4
	opts.OutputDir = t.TempDir()
	return opts
}

type failingSource struct{}

func (failingSource) Fill([]byte, int, int, tidslinje.PixelFormat, uint64) error {
	return errors.New("device unplugged")
}

func TestGrabberLifecycle(t *testing.T) {
	t.Parallel()

	g := New(discardLogger())
	assert.Nil(t, g.Frames())
	require.ErrorIs(t, g.Start(t.Context()), lifecycle.ErrInvalidTransition)
	_, err := g.Stats()
	require.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, g.Configure(testOptions(t)))
	frames := g.Frames()
	require.NotNil(t, frames)
	assert.Equal(t, 4, frames.Capacity())
	assert.Equal(t, 8*4*3, frames.ObjectSize())

	require.NoError(t, g.Start(t.Context()))
	assert.True(t, g.IsRunning())
	require.ErrorIs(t, g.Configure(testOptions(t)), lifecycle.ErrInvalidTransition)

	require.Eventually(t, func() bool { return frames.Len() == 4 }, 2*time.Second, 5*time.Millisecond)

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Positive(t, stats.Grabbed)
	assert.Equal(t, "synthetic", stats.Device)
	assert.Equal(t, 4, stats.Timeline.Capacity)

	require.NoError(t, g.Stop())
	assert.False(t, g.IsRunning())
	assert.Equal(t, 0, frames.Len(), "stop clears the timeline")
	require.NoError(t, g.Stop())

	// a stopped grabber can start again
	require.NoError(t, g.Start(t.Context()))
	require.NoError(t, g.Stop())
}

func TestGrabberDropsOnExhaustion(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.Capacity = 2
	opts.Policy = tidslinje.DropNewest

	g := New(discardLogger())
	require.NoError(t, g.Configure(opts))
	require.NoError(t, g.Start(t.Context()))
	defer g.Stop()

	require.Eventually(t, func() bool {
		stats, err := g.Stats()
		return err == nil && stats.Dropped > 0
	}, 2*time.Second, 5*time.Millisecond)

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Grabbed)
	assert.Equal(t, 2, g.Frames().Len())
}

func TestGrabberSourceFailure(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	opts.Source = failingSource{}

	g := New(discardLogger())
	require.NoError(t, g.Configure(opts))
	require.NoError(t, g.Start(t.Context()))

	require.Eventually(t, func() bool {
		stats, err := g.Stats()
		return err == nil && stats.Failed >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, g.Stop())

	frames := g.Frames()
	assert.Equal(t, 0, frames.Len())
	assert.Equal(t, frames.Capacity(), frames.Available(), "failed frames go back to the pool")
}

func TestGrabberStopsWithContext(t *testing.T) {
	t.Parallel()

	g := New(discardLogger())
	require.NoError(t, g.Configure(testOptions(t)))

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, g.Start(ctx))
	require.Eventually(t, func() bool { return g.Frames().Len() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	// the loop has exited once no new frame arrives
	time.Sleep(50 * time.Millisecond)
	before, _ := g.Stats()
	time.Sleep(50 * time.Millisecond)
	after, _ := g.Stats()
	assert.Equal(t, before.Grabbed, after.Grabbed)

	require.NoError(t, g.Stop())
}

func TestGrabberSaveStill(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	g := New(discardLogger())
	require.NoError(t, g.Configure(opts))

	_, err := g.SaveStill("empty")
	require.ErrorIs(t, err, ErrNoFrames)

	require.NoError(t, g.Start(t.Context()))
	require.Eventually(t, func() bool { return g.Frames().Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	path, err := g.SaveStill("")
	require.NoError(t, err)
	require.NoError(t, g.Stop())

	assert.Equal(t, opts.OutputDir, filepath.Dir(path))
	assert.Contains(t, filepath.Base(path), "still_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestGrabberSaveSequence(t *testing.T) {
	t.Parallel()

	opts := testOptions(t)
	g := New(discardLogger())
	require.NoError(t, g.Configure(opts))

	_, _, err := g.SaveSequence("none")
	require.ErrorIs(t, err, ErrNoFrames)

	require.NoError(t, g.Start(t.Context()))
	require.Eventually(t, func() bool { return g.Frames().Len() == 4 }, 2*time.Second, 5*time.Millisecond)

	dir, video, err := g.SaveSequence("clip")
	require.NoError(t, err)
	require.NoError(t, g.Stop())
	assert.Empty(t, video)

	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	require.NoError(t, err)
	assert.Len(t, matches, 4)

	info, err := os.ReadFile(filepath.Join(dir, "info.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "Frames: 4")
	assert.Contains(t, string(info), "8x4 rgb8")
}

func TestConfigureValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(*Options)
		target error
	}{
		{name: "zero fps", modify: func(o *Options) { o.FPS = 0 }},
		{name: "zero capacity", modify: func(o *Options) { o.Capacity = 0 }, target: tidslinje.ErrInvalidCapacity},
		{name: "zero width", modify: func(o *Options) { o.Width = 0 }, target: tidslinje.ErrInvalidFrameFormat},
		{name: "undefined format", modify: func(o *Options) { o.Format = tidslinje.FormatUndefined }, target: tidslinje.ErrInvalidFrameFormat},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := testOptions(t)
			tc.modify(&opts)

			g := New(nil)
			err := g.Configure(opts)
			require.Error(t, err)
			if tc.target != nil {
				require.ErrorIs(t, err, tc.target)
			}
			assert.Nil(t, g.Frames())
		})
	}
}

func TestGrabberSaveDoesNotBlockProducer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		save   func(g *Grabber) error
		frames int
	}{
		{
			name: "still",
			save: func(g *Grabber) error {
				_, err := g.SaveStill("still")
				return err
			},
			frames: 1,
		},
		{
			name: "sequence",
			save: func(g *Grabber) error {
				_, _, err := g.SaveSequence("clip")
				return err
			},
			frames: 3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := testOptions(t)
			opts.Capacity = 8
			g := New(discardLogger())
			require.NoError(t, g.Configure(opts))
			frames := g.Frames()

			pushFrame := func(ts float64) error {
				buf, err := frames.CreateBuffer(ts)
				if err != nil {
					return err
				}
				return frames.PushBuffer(buf)
			}
			now := tidslinje.Now()
			for i := range 3 {
				require.NoError(t, pushFrame(now-float64(30-i)))
			}

			encoding := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			var encoded atomic.Int32
			g.encode = func(data []byte, width, height int, format tidslinje.PixelFormat, quality int) ([]byte, error) {
				once.Do(func() { close(encoding) })
				<-release
				encoded.Add(1)
				return encodeJPEG(data, width, height, format, quality)
			}

			saved := make(chan error, 1)
			go func() { saved <- tc.save(g) }()
			<-encoding

			// the producer keeps pushing while frames are being encoded
			pushed := make(chan error, 1)
			go func() { pushed <- pushFrame(now + 1) }()
			select {
			case err := <-pushed:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				close(release)
				t.Fatal("push blocked while saving")
			}

			close(release)
			require.NoError(t, <-saved)
			assert.Equal(t, int32(tc.frames), encoded.Load())
			assert.Equal(t, 4, frames.Len())
		})
	}
}
