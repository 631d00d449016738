// Package grabber produces video frames into a tidslinje.FrameTimeline at a
// fixed rate, the way a camera grabber feeds a render pipeline.
//
// The default source paints a moving test pattern; real devices plug in
// through the Source interface.
package grabber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/internal/lifecycle"
)

// ErrNotConfigured is returned by operations that need a configured grabber.
var ErrNotConfigured = errors.New("grabber not configured")

// Source fills a frame buffer. dst is exactly width*height*components bytes.
type Source interface {
	Fill(dst []byte, width, height int, format tidslinje.PixelFormat, seq uint64) error
}

// Options configures the grabber and the frame timeline it feeds.
type Options struct {
	Device      string
	Width       int
	Height      int
	Format      tidslinje.PixelFormat
	FPS         int
	Capacity    int // timeline pool size, frames
	Policy      tidslinje.ExhaustionPolicy
	JPEGQuality int
	OutputDir   string
	CreateVideo bool
	Source      Source
}

// DefaultOptions returns a reasonable set of defaults: VGA RGB at 30 FPS
// with three seconds of frames in the pool.
func DefaultOptions() Options {
	return Options{
		Device:      "synthetic",
		Width:       640,
		Height:      480,
		Format:      tidslinje.RGB8,
		FPS:         30,
		Capacity:    90,
		Policy:      tidslinje.EvictOldest,
		JPEGQuality: 90,
		OutputDir:   "snapshots",
	}
}

// Stats reports grabber counters.
type Stats struct {
	Device   string
	Grabbed  uint64 // frames pushed
	Dropped  uint64 // frames lost to pool exhaustion
	Failed   uint64 // frames the source could not fill
	FPS      float64
	Uptime   time.Duration
	Timeline tidslinje.Metrics
}

// Grabber drives a Source on a ticker and pushes every frame into its
// FrameTimeline.
type Grabber struct {
	logger *slog.Logger
	tlOpts []tidslinje.Option
	encode func(data []byte, width, height int, format tidslinje.PixelFormat, quality int) ([]byte, error)

	lc lifecycle.Machine

	mu     sync.RWMutex
	opts   Options
	frames *tidslinje.FrameTimeline
	cancel context.CancelFunc
	start  time.Time

	wg      sync.WaitGroup
	seq     uint64 // touched only by the grab loop
	grabbed atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates an unconfigured grabber. tlOpts are applied to every frame
// timeline the grabber creates, e.g. tidslinje.WithNotifier.
func New(logger *slog.Logger, tlOpts ...tidslinje.Option) *Grabber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grabber{logger: logger, tlOpts: tlOpts, encode: encodeJPEG}
}

// Configure validates opts and creates the frame timeline. Reconfiguring a
// stopped grabber replaces the timeline.
func (g *Grabber) Configure(opts Options) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("configure grabber: fps must be > 0, got %d", opts.FPS)
	}
	if opts.Capacity <= 0 {
		return fmt.Errorf("configure grabber: %w: %d", tidslinje.ErrInvalidCapacity, opts.Capacity)
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 90
	}
	if opts.Source == nil {
		opts.Source = &TestPattern{}
	}

	return g.lc.Configure(func() error {
		tlOpts := append([]tidslinje.Option{
			tidslinje.WithCapacity(opts.Capacity),
			tidslinje.WithExhaustionPolicy(opts.Policy),
			tidslinje.WithLogger(g.logger),
		}, g.tlOpts...)

		frames, err := tidslinje.NewFrameTimeline(opts.Width, opts.Height, opts.Format, tlOpts...)
		if err != nil {
			return fmt.Errorf("configure grabber: %w", err)
		}
		if opts.OutputDir != "" {
			if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
				return fmt.Errorf("configure grabber: %w", err)
			}
		}

		g.mu.Lock()
		g.opts = opts
		g.frames = frames
		g.mu.Unlock()

		g.logger.Info("grabber: configured",
			"device", opts.Device,
			"width", opts.Width,
			"height", opts.Height,
			"format", opts.Format.String(),
			"fps", opts.FPS,
			"capacity", opts.Capacity,
			"policy", opts.Policy.String(),
		)
		return nil
	})
}

// Frames returns the frame timeline, nil before Configure.
func (g *Grabber) Frames() *tidslinje.FrameTimeline {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frames
}

// Start begins grabbing in a background goroutine until ctx is done or Stop
// is called.
func (g *Grabber) Start(ctx context.Context) error {
	return g.lc.Start(func() error {
		ctx, cancel := context.WithCancel(ctx)

		g.mu.Lock()
		g.cancel = cancel
		g.start = time.Now()
		opts := g.opts
		frames := g.frames
		g.mu.Unlock()

		g.wg.Add(1)
		go g.grabLoop(ctx, opts, frames)

		g.logger.Info("grabber: started", "device", opts.Device)
		return nil
	})
}

// Stop halts grabbing and clears the frame timeline. Stopping twice is a no-op.
func (g *Grabber) Stop() error {
	return g.lc.Stop(func() error {
		g.mu.RLock()
		cancel := g.cancel
		frames := g.frames
		g.mu.RUnlock()

		cancel()
		g.wg.Wait()
		frames.Clear()

		g.logger.Info("grabber: stopped",
			"grabbed", g.grabbed.Load(),
			"dropped", g.dropped.Load(),
			"failed", g.failed.Load(),
		)
		return nil
	})
}

// IsRunning reports whether the grab loop is active.
func (g *Grabber) IsRunning() bool {
	return g.lc.IsRunning()
}

// Stats returns the grabber counters.
func (g *Grabber) Stats() (Stats, error) {
	g.mu.RLock()
	opts := g.opts
	frames := g.frames
	start := g.start
	g.mu.RUnlock()

	if frames == nil {
		return Stats{}, ErrNotConfigured
	}

	s := Stats{
		Device:   opts.Device,
		Grabbed:  g.grabbed.Load(),
		Dropped:  g.dropped.Load(),
		Failed:   g.failed.Load(),
		Timeline: frames.Metrics(),
	}
	if g.IsRunning() && !start.IsZero() {
		s.Uptime = time.Since(start)
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.FPS = float64(s.Grabbed) / secs
		}
	}
	return s, nil
}

func (g *Grabber) grabLoop(ctx context.Context, opts Options, frames *tidslinje.FrameTimeline) {
	defer g.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(opts.FPS))
	defer ticker.Stop()

	logEvery := uint64(opts.FPS * 10) // every 10 seconds

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.grab(opts, frames) {
				if n := g.grabbed.Load(); n%logEvery == 0 {
					g.logger.Info("grabber: progress",
						"frames", n,
						"dropped", g.dropped.Load(),
					)
				}
			}
		}
	}
}

// grab stages, fills and pushes one frame. It reports whether a frame was pushed.
func (g *Grabber) grab(opts Options, frames *tidslinje.FrameTimeline) bool {
	ts := tidslinje.Now()

	frame, err := frames.CreateBuffer(ts)
	if err != nil {
		if errors.Is(err, tidslinje.ErrPoolExhausted) {
			g.dropped.Add(1)
			g.logger.Debug("grabber: frame dropped", "timestamp", ts)
			return false
		}
		g.failed.Add(1)
		g.logger.Warn("grabber: failed to stage frame", "error", err)
		return false
	}

	seq := g.seq
	g.seq++
	if err := opts.Source.Fill(frame.Bytes(), opts.Width, opts.Height, opts.Format, seq); err != nil {
		_ = frames.Discard(frame.Object())
		g.failed.Add(1)
		g.logger.Warn("grabber: failed to read frame", "seq", seq, "error", err)
		return false
	}

	if err := frames.PushBuffer(frame); err != nil {
		_ = frames.Discard(frame.Object())
		g.failed.Add(1)
		g.logger.Warn("grabber: failed to push frame", "timestamp", ts, "error", err)
		return false
	}
	g.grabbed.Add(1)
	return true
}
