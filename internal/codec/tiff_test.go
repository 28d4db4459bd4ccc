package codec_test

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/haeminjung12/DCAM-Live-Viewer/internal/codec"
	"github.com/haeminjung12/DCAM-Live-Viewer/internal/types"
)

// TestTIFFWriteMono8 validates an 8-bit frame survives the encode/decode
// round trip pixel-exactly.
func TestTIFFWriteMono8(t *testing.T) {
	const w, h = 16, 8
	pixels := make([]byte, w*h)
	for i := range pixels {
		pixels[i] = byte(i * 3)
	}
	f := &types.Frame{Pixels: pixels, Width: w, Height: h, Bits: 8, Format: types.Mono8}

	path := filepath.Join(t.TempDir(), "frame.tiff")
	enc := codec.NewTIFF()
	if err := enc.Write(f, path); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	img, err := tiff.Decode(in)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("decoded size %dx%d, want %dx%d", b.Dx(), b.Dy(), w, h)
	}

	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("decoded type %T, want *image.Gray", img)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if got, want := gray.GrayAt(x, y).Y, pixels[y*w+x]; got != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}

	t.Logf("✅ mono8 %dx%d round trip pixel-exact", w, h)
}

// TestTIFFWriteMono16 validates the little-endian 16-bit frame layout maps
// to correct decoded values.
func TestTIFFWriteMono16(t *testing.T) {
	const w, h = 8, 4
	pixels := make([]byte, w*h*2)
	for i := 0; i < w*h; i++ {
		v := uint16(i * 257)
		pixels[i*2] = byte(v)        // low byte first
		pixels[i*2+1] = byte(v >> 8) // high byte second
	}
	f := &types.Frame{Pixels: pixels, Width: w, Height: h, Bits: 16, Format: types.Mono16}

	path := filepath.Join(t.TempDir(), "frame16.tiff")
	if err := codec.NewTIFF().Write(f, path); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer in.Close()

	img, err := tiff.Decode(in)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		t.Fatalf("decoded type %T, want *image.Gray16", img)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want := uint16((y*w + x) * 257)
			if got := gray.Gray16At(x, y).Y; got != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}

	t.Logf("✅ mono16 little-endian frame decoded correctly")
}

// TestTIFFWriteShortBuffer validates truncated pixel data is rejected
// instead of writing a corrupt file.
func TestTIFFWriteShortBuffer(t *testing.T) {
	f := &types.Frame{Pixels: make([]byte, 10), Width: 16, Height: 8, Bits: 8, Format: types.Mono8}
	path := filepath.Join(t.TempDir(), "bad.tiff")

	if err := codec.NewTIFF().Write(f, path); err == nil {
		t.Fatal("Write() accepted a short pixel buffer")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt file left on disk")
	}

	t.Logf("✅ short buffer rejected, no file written")
}

// TestTIFFExt validates the advertised extension.
func TestTIFFExt(t *testing.T) {
	if got := codec.NewTIFF().Ext(); got != ".tiff" {
		t.Errorf("Ext() = %q, want .tiff", got)
	}
	t.Logf("✅ extension is .tiff")
}
