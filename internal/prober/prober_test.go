package prober

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"
)

func newTestProber() *ImageProber {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewImageProber(log, true)
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// withOrientation inserts an EXIF APP1 segment carrying the given
// orientation right after the JPEG SOI marker.
func withOrientation(jpegData []byte, orientation byte) []byte {
	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22,
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, orientation, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	out := make([]byte, 0, len(jpegData)+len(app1))
	out = append(out, jpegData[:2]...)
	out = append(out, app1...)
	return append(out, jpegData[2:]...)
}

func TestProbeFormats(t *testing.T) {
	img := testImage(40, 25)

	var pngBuf, gifBuf, bmpBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := gif.Encode(&gifBuf, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	if err := bmp.Encode(&bmpBuf, img); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}

	tests := []struct {
		name   string
		data   []byte
		format Format
	}{
		{"jpeg", encodeJPEG(t, img), FormatJPEG},
		{"png", pngBuf.Bytes(), FormatPNG},
		{"gif", gifBuf.Bytes(), FormatGIF},
		{"bmp", bmpBuf.Bytes(), FormatBMP},
	}

	p := newTestProber()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Inspect(tt.data)
			if err != nil {
				t.Fatalf("Inspect() error = %v", err)
			}
			if info.Width != 40 || info.Height != 25 {
				t.Errorf("Expected 40x25, got %dx%d", info.Width, info.Height)
			}
			if info.Format != tt.format {
				t.Errorf("Expected format %s, got %s", tt.format, info.Format)
			}
		})
	}
}

func TestProbeSwapsAxesForRotatedJPEG(t *testing.T) {
	data := withOrientation(encodeJPEG(t, testImage(60, 20)), 6)

	dims, err := newTestProber().Probe(context.Background(), data)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if dims.Width != 20 || dims.Height != 60 {
		t.Errorf("Expected 20x60 for orientation 6, got %dx%d", dims.Width, dims.Height)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	raw, err := NewImageProber(log, false).Probe(context.Background(), data)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if raw.Width != 60 || raw.Height != 20 {
		t.Errorf("Expected stored 60x20 when orientation is ignored, got %dx%d", raw.Width, raw.Height)
	}
}

func TestProbeKeepsAxesForUprightJPEG(t *testing.T) {
	data := withOrientation(encodeJPEG(t, testImage(60, 20)), 3)

	dims, err := newTestProber().Probe(context.Background(), data)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if dims.Width != 60 || dims.Height != 20 {
		t.Errorf("Expected 60x20 for orientation 3, got %dx%d", dims.Width, dims.Height)
	}
}

// grayTIFF builds an uncompressed 8-bit gray little-endian TIFF whose
// IFD0 carries the given orientation tag.
func grayTIFF(w, h int, orientation uint16) []byte {
	const short, long = 3, 4
	type entry struct {
		tag, typ uint16
		value    uint32
	}
	entries := []entry{
		{256, short, uint32(w)},
		{257, short, uint32(h)},
		{258, short, 8},
		{259, short, 1},
		{262, short, 1},
		{273, long, 0},
		{274, short, uint32(orientation)},
		{277, short, 1},
		{278, short, uint32(h)},
		{279, long, uint32(w * h)},
	}
	const ifdOffset = 8
	entries[5].value = uint32(ifdOffset + 2 + len(entries)*12 + 4)

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(ifdOffset))
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, uint32(1))
		if e.typ == short {
			binary.Write(&buf, le, uint16(e.value))
			binary.Write(&buf, le, uint16(0))
		} else {
			binary.Write(&buf, le, e.value)
		}
	}
	binary.Write(&buf, le, uint32(0))
	buf.Write(bytes.Repeat([]byte{128}, w*h))
	return buf.Bytes()
}

func TestProbeKeepsStoredAxesForRotatedTIFF(t *testing.T) {
	info, err := newTestProber().Inspect(grayTIFF(60, 20, 6))
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Format != FormatTIFF {
		t.Errorf("Expected TIFF, got %s", info.Format)
	}
	if info.Width != 60 || info.Height != 20 {
		t.Errorf("Expected stored 60x20 since TIFF pixels are not rotated, got %dx%d", info.Width, info.Height)
	}
}

func TestHonorsOrientation(t *testing.T) {
	tests := []struct {
		format Format
		want   bool
	}{
		{FormatJPEG, true},
		{FormatTIFF, false},
		{FormatPNG, false},
		{FormatWebP, false},
	}
	for _, tt := range tests {
		if got := tt.format.HonorsOrientation(); got != tt.want {
			t.Errorf("%s.HonorsOrientation() = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestProbeRejectsUndecodableData(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}},
	}

	p := newTestProber()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Probe(context.Background(), tt.data)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected DecodeError, got %v", err)
			}
		})
	}

	_, err := p.Probe(context.Background(), nil)
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Expected ErrEmptyImage for empty data, got %v", err)
	}
}

func TestProbeHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProber().Probe(ctx, encodeJPEG(t, testImage(4, 4)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFormatMediaType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"jpeg", "image/jpeg"},
		{"png", "image/png"},
		{"webp", "image/webp"},
		{"heic", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.name).MediaType(); got != tt.want {
			t.Errorf("ParseFormat(%q).MediaType() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
