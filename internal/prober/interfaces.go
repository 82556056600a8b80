package prober

import (
	"context"
	"errors"
	"fmt"
)

// Prober determines the pixel dimensions of an encoded image.
type Prober interface {
	Probe(ctx context.Context, data []byte) (Dimensions, error)
}

// Dimensions is the pixel size of an image as a browser would display it.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Info contains everything the prober learns from an image header.
type Info struct {
	Dimensions
	Format      Format
	Orientation Orientation
}

// ErrEmptyImage is returned when there are no bytes to decode.
var ErrEmptyImage = errors.New("image data is empty")

// DecodeError is returned when bytes cannot be decoded as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Format represents an encoded image format.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatBMP
	FormatTIFF
	FormatWebP
)

// ParseFormat maps a format name registered with the image package to a Format.
func ParseFormat(name string) Format {
	switch name {
	case "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "bmp":
		return FormatBMP
	case "tiff":
		return FormatTIFF
	case "webp":
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// String returns the string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "JPEG"
	case FormatPNG:
		return "PNG"
	case FormatGIF:
		return "GIF"
	case FormatBMP:
		return "BMP"
	case FormatTIFF:
		return "TIFF"
	case FormatWebP:
		return "WebP"
	default:
		return "Unknown"
	}
}

// MediaType returns the IANA media type of the Format.
func (f Format) MediaType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// FormatForMediaType is the inverse of Format.MediaType.
func FormatForMediaType(mediaType string) Format {
	for _, f := range []Format{FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatTIFF, FormatWebP} {
		if f.MediaType() == mediaType {
			return f
		}
	}
	return FormatUnknown
}

// Extensions returns the file extensions of the Format, preferred first.
func (f Format) Extensions() []string {
	switch f {
	case FormatJPEG:
		return []string{".jpg", ".jpeg", ".jpe"}
	case FormatPNG:
		return []string{".png"}
	case FormatGIF:
		return []string{".gif"}
	case FormatBMP:
		return []string{".bmp"}
	case FormatTIFF:
		return []string{".tif", ".tiff"}
	case FormatWebP:
		return []string{".webp"}
	default:
		return nil
	}
}

// HonorsOrientation reports whether images of this format are rotated by
// their EXIF orientation when decoded for compression. TIFF can carry the
// tag too, but imaging only applies it to JPEG, so TIFF keeps its stored axes.
func (f Format) HonorsOrientation() bool {
	return f == FormatJPEG
}

// Orientation is the EXIF orientation tag value (1-8).
type Orientation int

const OrientationNormal Orientation = 1

// SwapsAxes reports whether displaying the image rotates it by 90 degrees.
func (o Orientation) SwapsAxes() bool {
	return o >= 5 && o <= 8
}
