// Package codec encodes frames to on-disk image files.
package codec

import (
	"fmt"
	"image"
	"os"

	"golang.org/x/image/tiff"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// Encoder writes a single frame to a file. Implementations must be safe
// for sequential reuse; the save worker calls Write once per frame from a
// single goroutine.
type Encoder interface {
	// Write encodes the frame to path, creating or truncating the file.
	Write(f *types.Frame, path string) error
	// Ext returns the file extension including the dot, e.g. ".tiff".
	Ext() string
}

// TIFF encodes mono frames as uncompressed grayscale TIFF, the exchange
// format downstream analysis tooling expects.
type TIFF struct{}

// NewTIFF returns a TIFF encoder.
func NewTIFF() *TIFF {
	return &TIFF{}
}

// Ext returns ".tiff".
func (t *TIFF) Ext() string { return ".tiff" }

// Write encodes the frame to path. 8-bit frames map to 8-bit grayscale;
// higher bit depths map to 16-bit grayscale.
func (t *TIFF) Write(f *types.Frame, path string) error {
	img, err := toImage(f)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := tiff.Encode(out, img, nil); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// toImage wraps or converts the frame's pixel data into an image.Image.
func toImage(f *types.Frame) (image.Image, error) {
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case types.Mono8:
		if len(f.Pixels) < f.Width*f.Height {
			return nil, fmt.Errorf("short pixel buffer: %d bytes for %dx%d mono8", len(f.Pixels), f.Width, f.Height)
		}
		return &image.Gray{
			Pix:    f.Pixels,
			Stride: f.Width,
			Rect:   rect,
		}, nil

	case types.Mono16:
		n := f.Width * f.Height
		if len(f.Pixels) < n*2 {
			return nil, fmt.Errorf("short pixel buffer: %d bytes for %dx%d mono16", len(f.Pixels), f.Width, f.Height)
		}
		// Frame pixels are little-endian; Gray16 stores big-endian.
		pix := make([]byte, n*2)
		for i := 0; i < n; i++ {
			pix[i*2] = f.Pixels[i*2+1]
			pix[i*2+1] = f.Pixels[i*2]
		}
		return &image.Gray16{
			Pix:    pix,
			Stride: f.Width * 2,
			Rect:   rect,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}
}
