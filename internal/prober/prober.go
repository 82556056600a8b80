package prober

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageProber reads image headers to determine dimensions.
// Only the header is decoded, so no pixel buffer outlives a call.
type ImageProber struct {
	logger           *logrus.Logger
	honorOrientation bool
}

// NewImageProber returns a new ImageProber. When honorOrientation is set,
// width and height are swapped for EXIF orientations that rotate the image.
func NewImageProber(logger *logrus.Logger, honorOrientation bool) *ImageProber {
	return &ImageProber{
		logger:           logger,
		honorOrientation: honorOrientation,
	}
}

// Probe returns the displayed dimensions of the encoded image.
func (p *ImageProber) Probe(ctx context.Context, data []byte) (Dimensions, error) {
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}
	info, err := p.Inspect(data)
	if err != nil {
		return Dimensions{}, err
	}
	return info.Dimensions, nil
}

// Inspect decodes the image header and reports dimensions, format and orientation.
func (p *ImageProber) Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, &DecodeError{Err: ErrEmptyImage}
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, &DecodeError{Err: err}
	}

	info := Info{
		Dimensions:  Dimensions{Width: cfg.Width, Height: cfg.Height},
		Format:      ParseFormat(name),
		Orientation: OrientationNormal,
	}

	if p.honorOrientation && info.Format.HonorsOrientation() {
		info.Orientation = p.readOrientation(data)
		if info.Orientation.SwapsAxes() {
			info.Width, info.Height = info.Height, info.Width
		}
	}

	p.logger.Debugf("Probed %s image: %dx%d (orientation %d)",
		info.Format, info.Width, info.Height, info.Orientation)
	return info, nil
}
