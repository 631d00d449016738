package grabber

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alesr/tidslinje"
)

// ErrNoFrames is returned when there is nothing to save.
var ErrNoFrames = errors.New("no frames in timeline")

// frameImage converts raw frame bytes to an image. The result does not
// alias data.
func frameImage(data []byte, width, height int, format tidslinje.PixelFormat) (image.Image, error) {
	rect := image.Rect(0, 0, width, height)

	switch format {
	case tidslinje.Gray8:
		img := image.NewGray(rect)
		copy(img.Pix, data)
		return img, nil
	case tidslinje.RGBA8:
		img := image.NewRGBA(rect)
		copy(img.Pix, data)
		return img, nil
	case tidslinje.RGB8, tidslinje.BGR8, tidslinje.BGRA8:
		comps := format.Components()
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i+comps <= len(data) && j+4 <= len(img.Pix); i, j = i+comps, j+4 {
			r, g, b := data[i], data[i+1], data[i+2]
			if format != tidslinje.RGB8 {
				r, b = b, r
			}
			img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = r, g, b, 255
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %s", tidslinje.ErrInvalidFrameFormat, format)
	}
}

// encodeJPEG encodes one frame as JPEG.
func encodeJPEG(data []byte, width, height int, format tidslinje.PixelFormat, quality int) ([]byte, error) {
	img, err := frameImage(data, width, height, format)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("error encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveStill writes the newest frame as <OutputDir>/<name>_<time>.jpg and
// returns the file path.
func (g *Grabber) SaveStill(name string) (string, error) {
	g.mu.RLock()
	opts := g.opts
	frames := g.frames
	g.mu.RUnlock()

	if frames == nil {
		return "", ErrNotConfigured
	}
	if name == "" {
		name = "still"
	}

	// copy under the read lock, encode after it is released
	var raw []byte
	err := frames.ReadClosest(tidslinje.Now(), tidslinje.Past, func(obj *tidslinje.Object) error {
		raw = bytes.Clone(obj.Payload().(*tidslinje.RawBuffer).Bytes())
		return nil
	})
	if errors.Is(err, tidslinje.ErrNotFound) {
		return "", ErrNoFrames
	}
	if err != nil {
		return "", fmt.Errorf("save still: %w", err)
	}

	jpg, err := g.encode(raw, frames.Width(), frames.Height(), frames.Format(), opts.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("save still: %w", err)
	}

	path := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%s.jpg", name, time.Now().Format("20060102_150405.000")))
	if err := os.WriteFile(path, jpg, 0o644); err != nil {
		return "", fmt.Errorf("save still: %w", err)
	}

	g.logger.Info("grabber: still saved", "path", path)
	return path, nil
}

// SaveSequence writes every live frame as a numbered JPEG plus an info.txt
// into a new directory under OutputDir. With CreateVideo set it also renders
// an mp4 through ffmpeg. It returns the directory and the video path, empty
// when no video was made.
func (g *Grabber) SaveSequence(name string) (string, string, error) {
	g.mu.RLock()
	opts := g.opts
	frames := g.frames
	g.mu.RUnlock()

	if frames == nil {
		return "", "", ErrNotConfigured
	}
	if name == "" {
		name = "sequence"
	}

	// copy under the read lock, encode after it is released
	var raws [][]byte
	var first, last float64
	err := frames.Visit(func(obj *tidslinje.Object) error {
		if len(raws) == 0 {
			first = obj.Timestamp()
		}
		last = obj.Timestamp()
		raws = append(raws, bytes.Clone(obj.Payload().(*tidslinje.RawBuffer).Bytes()))
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("save sequence: %w", err)
	}
	if len(raws) == 0 {
		return "", "", ErrNoFrames
	}

	jpgs := make([][]byte, len(raws))
	for i, raw := range raws {
		jpgs[i], err = g.encode(raw, frames.Width(), frames.Height(), frames.Format(), opts.JPEGQuality)
		if err != nil {
			return "", "", fmt.Errorf("save sequence: frame %d: %w", i, err)
		}
		raws[i] = nil
	}

	stamp := time.Now().Format("20060102_150405")
	dir := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%s", name, stamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	for i, jpg := range jpgs {
		framePath := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i))
		if err := os.WriteFile(framePath, jpg, 0o644); err != nil {
			return dir, "", fmt.Errorf("error saving frame %d: %w", i, err)
		}
	}

	var videoPath string
	if opts.CreateVideo {
		videoPath, err = createVideo(dir, name, opts.FPS)
		if err != nil {
			// continue even if video creation fails
			g.logger.Warn("grabber: failed to create video", "error", err)
		}
	}

	info := fmt.Sprintf("Sequence: %s\nCaptured: %s\nFrames: %d\nFormat: %dx%d %s\nDuration: %.2f seconds\nTime range: %s to %s\n",
		name, stamp, len(jpgs),
		frames.Width(), frames.Height(), frames.Format(),
		(last-first)/1000,
		tidslinje.Time(first).Format(time.RFC3339Nano),
		tidslinje.Time(last).Format(time.RFC3339Nano),
	)
	if videoPath != "" {
		info += fmt.Sprintf("Video: %s\nVideo FPS: %d\n", filepath.Base(videoPath), opts.FPS)
	}
	if err := os.WriteFile(filepath.Join(dir, "info.txt"), []byte(info), 0o644); err != nil {
		return dir, videoPath, fmt.Errorf("failed to write info file: %w", err)
	}

	g.logger.Info("grabber: sequence saved", "dir", dir, "frames", len(jpgs), "video", videoPath)
	return dir, videoPath, nil
}

// createVideo renders the numbered JPEGs in dir into an H.264 mp4.
func createVideo(dir, name string, fps int) (string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}

	videoPath := filepath.Join(dir, name+".mp4")
	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-hide_banner",
		"-loglevel", "warning",
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", filepath.Join(dir, "frame_%04d.jpg"),
		"-c:v", "libx264",
		"-crf", "18",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2", // even dimensions for yuv420p
		videoPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg error: %w - %s", err, stderr.String())
	}

	if _, err := os.Stat(videoPath); err != nil {
		return "", fmt.Errorf("video file not created: %w", err)
	}
	return videoPath, nil
}
