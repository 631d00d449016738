// Example simulates a navigation session: a camera and a tool tracker feed
// two timelines while a render loop pairs the newest frame with the closest
// tool transform, and highlight requests capture the buffered frames.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/snapshot"
)

const (
	frameSize  = 64 * 1024
	headerSize = 4 + 8 + 8 // magic, sequence, capture unix-nano
	frameMagic = "FRM0"
)

func main() {
	fmt.Println("Timeline Example: Navigation Render Loop")
	fmt.Println("Press Ctrl+C to exit or wait for simulation to complete")
	fmt.Println("------------------------------------------------")

	// three seconds of 30fps video
	frames, err := tidslinje.NewRaw(frameSize,
		tidslinje.WithCapacity(90),
		tidslinje.WithExhaustionPolicy(tidslinje.EvictOldest),
	)
	if err != nil {
		fmt.Printf("Error creating frame timeline: %v\n", err)
		os.Exit(1)
	}

	// one second of 120Hz tracking
	tools, err := tidslinje.NewMatrixTimeline(1, tidslinje.WithCapacity(120))
	if err != nil {
		fmt.Printf("Error creating tracker timeline: %v\n", err)
		os.Exit(1)
	}
	pointer, err := tools.ElementIndex("pointer")
	if err != nil {
		fmt.Printf("Error binding tool: %v\n", err)
		os.Exit(1)
	}

	// context for coordinating graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// handle interrupt signal (ctrl+c)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	var rendered, missed atomic.Uint64

	wg.Add(4)
	go func() { defer wg.Done(); simulateCamera(ctx, frames) }()
	go func() { defer wg.Done(); simulateTracker(ctx, tools, pointer) }()
	go func() { defer wg.Done(); renderLoop(ctx, frames, tools, pointer, &rendered, &missed) }()
	go func() { defer wg.Done(); simulateHighlightCapture(ctx, frames) }()

	<-ctx.Done()
	wg.Wait()

	// display performance summary
	fm := frames.Metrics()
	tm := tools.Metrics()
	fmt.Println("\nFinal Metrics:")
	fmt.Printf("Frames pushed:      %d\n", fm.Pushed)
	fmt.Printf("Frames evicted:     %d\n", fm.Evicted)
	fmt.Printf("Transforms pushed:  %d\n", tm.Pushed)
	fmt.Printf("Renders:            %d (%d without a tool pose)\n", rendered.Load(), missed.Load())
	fmt.Printf("Frame utilization:  %.1f%%\n", fm.Utilization*100)
	fmt.Printf("Uptime:             %.1f seconds\n", fm.Uptime.Seconds())
}

// simulateCamera pushes 30fps frames, each starting with a small header.
func simulateCamera(ctx context.Context, frames *tidslinje.RawTimeline) {
	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	for seq := uint64(0); ; seq++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			buf, err := frames.CreateBuffer(tidslinje.Timestamp(now))
			if err != nil {
				fmt.Printf("Warning: dropping frame %d: %v\n", seq, err)
				continue
			}
			writeFrame(buf.Bytes(), seq, now)
			if err := frames.PushBuffer(buf); err != nil {
				fmt.Printf("Warning: frame %d rejected: %v\n", seq, err)
				continue
			}
			if seq > 0 && seq%90 == 0 {
				fmt.Printf("Camera: pushed %d frames\n", seq)
			}
		}
	}
}

// writeFrame fills dst with a header and random content.
func writeFrame(dst []byte, seq uint64, captured time.Time) {
	copy(dst, frameMagic)
	binary.LittleEndian.PutUint64(dst[4:], seq)
	binary.LittleEndian.PutUint64(dst[12:], uint64(captured.UnixNano()))
	for i := headerSize; i+8 <= len(dst); i += 8 {
		binary.LittleEndian.PutUint64(dst[i:], rand.Uint64())
	}
}

var errNoHeader = errors.New("no frame header")

type frameHeader struct {
	Sequence uint64
	Captured time.Time
}

// parseHeader reads the header written by writeFrame.
func parseHeader(data []byte) (frameHeader, error) {
	if len(data) < headerSize || string(data[:4]) != frameMagic {
		return frameHeader{}, errNoHeader
	}
	return frameHeader{
		Sequence: binary.LittleEndian.Uint64(data[4:]),
		Captured: time.Unix(0, int64(binary.LittleEndian.Uint64(data[12:]))),
	}, nil
}

// simulateTracker pushes a pointer pose at 120Hz, losing sight of it now
// and then.
func simulateTracker(ctx context.Context, tools *tidslinje.MatrixTimeline, pointer int) {
	ticker := time.NewTicker(time.Second / 120)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if rand.IntN(10) == 0 {
				continue
			}
			buf, err := tools.CreateBuffer(tidslinje.Timestamp(now))
			if err != nil {
				// the render loop is behind, skip this pose
				continue
			}
			pose := tidslinje.Identity()
			pose[3] = float32(now.UnixMilli()%1000) / 10
			_ = buf.SetElement(pose, pointer)
			_ = tools.PushBuffer(buf)

			// keep the tracking window bounded
			for tools.Len() > 100 {
				if oldest := tools.Oldest(); oldest != nil {
					_, _ = tools.PopObject(oldest.Timestamp())
				}
			}
		}
	}
}

// renderLoop draws at 60Hz: the newest frame, paired with the tool pose
// closest to the frame's capture time.
func renderLoop(ctx context.Context, frames *tidslinje.RawTimeline, tools *tidslinje.MatrixTimeline, pointer int, rendered, missed *atomic.Uint64) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	display := make([]byte, headerSize)
	var lastSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var frameTs float64
			err := frames.ReadClosest(tidslinje.Now(), tidslinje.Past, func(obj *tidslinje.Object) error {
				frameTs = obj.Timestamp()
				copy(display, obj.Payload().(*tidslinje.RawBuffer).Bytes())
				return nil
			})
			if err != nil {
				continue
			}

			hdr, err := parseHeader(display)
			if err != nil || hdr.Sequence == lastSeq {
				continue
			}
			lastSeq = hdr.Sequence
			rendered.Add(1)

			pose, poseTs, ok := closestPose(tools, pointer, frameTs)
			if !ok {
				missed.Add(1)
				continue
			}
			if hdr.Sequence%60 == 0 {
				fmt.Printf("Render: frame %d with pointer at x=%.1fmm (pose %+.1fms)\n",
					hdr.Sequence, pose.At(0, 3), poseTs-frameTs)
			}
		}
	}
}

// closestPose copies out the tool pose closest to ts. ok is false when no
// entry exists or the tool was out of sight in the closest one.
func closestPose(tools *tidslinje.MatrixTimeline, tool int, ts float64) (pose tidslinje.Matrix4, poseTs float64, ok bool) {
	_ = tools.ReadClosest(ts, tidslinje.Both, func(obj *tidslinje.Object) error {
		buf := obj.Payload().(*tidslinje.Buffer[tidslinje.Matrix4])
		if !buf.IsPresent(tool) {
			return nil
		}
		pose, poseTs, ok = buf.Element(tool), obj.Timestamp(), true
		return nil
	})
	return pose, poseTs, ok
}

// simulateHighlightCapture captures the buffered frames at random intervals.
func simulateHighlightCapture(ctx context.Context, frames *tidslinje.RawTimeline) {
	// allow the timeline to fill before the first capture
	select {
	case <-time.After(4 * time.Second):
	case <-ctx.Done():
		return
	}

	for i := range 3 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(1+rand.IntN(3)) * time.Second):
			fmt.Println("\nHighlight requested! Capturing the buffered frames...")

			s, err := snapshot.Capture(frames)
			if err != nil {
				fmt.Printf("Error capturing highlight: %v\n", err)
				continue
			}
			processHighlight(i+1, s)
		}
	}
}

// processHighlight summarizes a captured highlight.
func processHighlight(id int, s *snapshot.Snapshot) {
	first, last, ok := s.Span()
	if !ok {
		fmt.Println("No frames in highlight!")
		return
	}

	fmt.Printf("Highlight #%d captured:\n", id)
	fmt.Printf("   - %d frames\n", s.Len())
	fmt.Printf("   - Duration: %.1f seconds\n", (last-first)/1000)
	fmt.Printf("   - Time span: %s to %s\n",
		tidslinje.Time(first).Format("15:04:05.000"),
		tidslinje.Time(last).Format("15:04:05.000"))

	for _, e := range []snapshot.Entry{s.Entries[0], s.Entries[s.Len()-1]} {
		hdr, err := parseHeader(e.Payload)
		if err != nil {
			fmt.Printf("   - Frame at %.3f: %v\n", e.Timestamp, err)
			continue
		}
		fmt.Printf("   - Frame %d, captured %s\n", hdr.Sequence, hdr.Captured.Format("15:04:05.000"))
	}
}
