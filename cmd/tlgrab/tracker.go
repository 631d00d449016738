package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alesr/tidslinje"
)

// tracker stands in for an optical tracking device: every tick it pushes one
// transform per tool into a matrix timeline. Tools orbit the origin at
// different speeds and a tool is occasionally out of sight.
type tracker struct {
	logger *slog.Logger
	tl     poseTimeline
	tools  []int
	rate   int
}

// poseTimeline is the part of tidslinje.MatrixTimeline the tracker writes to.
type poseTimeline interface {
	ElementIndex(name string) (int, error)
	CreateBuffer(ts float64) (*tidslinje.Buffer[tidslinje.Matrix4], error)
	PushBuffer(b *tidslinje.Buffer[tidslinje.Matrix4]) error
	Discard(obj *tidslinje.Object) error
}

func newTracker(logger *slog.Logger, tl poseTimeline, tools []string, rateHz int) (*tracker, error) {
	t := &tracker{logger: logger, tl: tl, rate: rateHz}
	for _, name := range tools {
		idx, err := tl.ElementIndex(name)
		if err != nil {
			return nil, fmt.Errorf("bind tool %q: %w", name, err)
		}
		t.tools = append(t.tools, idx)
	}
	return t, nil
}

func (t *tracker) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(t.rate))
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.sample(tick); err != nil && !errors.Is(err, tidslinje.ErrPoolExhausted) {
				t.logger.Warn("tracker: failed to push transforms", "error", err)
			}
		}
	}
}

func (t *tracker) sample(tick int) error {
	buf, err := t.tl.CreateBuffer(tidslinje.Now())
	if err != nil {
		return err
	}

	for i, idx := range t.tools {
		// every tool drops out for a tenth of each second
		if (tick+i*t.rate/3)%t.rate < t.rate/10 {
			continue
		}
		angle := float64(tick) / float64(t.rate) * float64(i+1)
		if err := buf.SetElement(orbit(angle, 100*float64(i+1)), idx); err != nil {
			_ = t.tl.Discard(buf.Object())
			return err
		}
	}
	if err := t.tl.PushBuffer(buf); err != nil {
		_ = t.tl.Discard(buf.Object())
		return err
	}
	return nil
}

// orbit returns a rotation of angle radians about z, translated radius mm
// along the rotated x axis.
func orbit(angle, radius float64) tidslinje.Matrix4 {
	m := tidslinje.Identity()
	c, s := float32(math.Cos(angle)), float32(math.Sin(angle))
	m[0], m[1] = c, -s
	m[4], m[5] = s, c
	m[3] = c * float32(radius)
	m[7] = s * float32(radius)
	return m
}
