package grabber

import (
	"errors"
	"fmt"

	"github.com/alesr/tidslinje"
)

// ErrFrameSize is returned when a source is handed a buffer of the wrong size.
var ErrFrameSize = errors.New("frame buffer size mismatch")

// barColors are the classic SMPTE-like color bars, RGB.
var barColors = [...][3]byte{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

// TestPattern is a Source painting color bars that scroll one column per
// frame, with a white marker band whose height encodes the sequence number.
type TestPattern struct{}

var _ Source = (*TestPattern)(nil)

// Fill paints frame seq into dst.
func (p *TestPattern) Fill(dst []byte, width, height int, format tidslinje.PixelFormat, seq uint64) error {
	comps := format.Components()
	if comps == 0 {
		return fmt.Errorf("%w: %s", tidslinje.ErrInvalidFrameFormat, format)
	}
	if want := width * height * comps; len(dst) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(dst), want)
	}

	barWidth := max(width/len(barColors), 1)
	marker := int(seq % uint64(height))
	markerWidth := max(width/32, 1)

	for y := range height {
		row := dst[y*width*comps : (y+1)*width*comps]
		for x := range width {
			rgb := barColors[((x+int(seq))/barWidth)%len(barColors)]
			if x < markerWidth && y <= marker {
				rgb = [3]byte{255, 255, 255}
			}
			putPixel(row[x*comps:], rgb, format)
		}
	}
	return nil
}

// putPixel writes an RGB color in the layout of format.
func putPixel(dst []byte, rgb [3]byte, format tidslinje.PixelFormat) {
	switch format {
	case tidslinje.Gray8:
		// ITU-R BT.601 luma
		dst[0] = byte((299*int(rgb[0]) + 587*int(rgb[1]) + 114*int(rgb[2])) / 1000)
	case tidslinje.RGB8:
		dst[0], dst[1], dst[2] = rgb[0], rgb[1], rgb[2]
	case tidslinje.BGR8:
		dst[0], dst[1], dst[2] = rgb[2], rgb[1], rgb[0]
	case tidslinje.RGBA8:
		dst[0], dst[1], dst[2], dst[3] = rgb[0], rgb[1], rgb[2], 255
	case tidslinje.BGRA8:
		dst[0], dst[1], dst[2], dst[3] = rgb[2], rgb[1], rgb[0], 255
	}
}
