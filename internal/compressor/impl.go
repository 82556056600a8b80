package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"image-compressor/internal/prober"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

var errEmptySource = errors.New("source image is empty")

// Options tunes the ImagingEngine.
type Options struct {
	Filter          imaging.ResampleFilter
	AutoOrientation bool
	// Strict returns the source unchanged when re-encoding without a resize
	// would produce a larger file.
	Strict         bool
	PNGCompression png.CompressionLevel
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Filter:          imaging.Lanczos,
		AutoOrientation: true,
		Strict:          true,
		PNGCompression:  png.BestCompression,
	}
}

// FilterByName returns the resampling filter with the given name.
func FilterByName(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(name) {
	case "lanczos", "":
		return imaging.Lanczos, nil
	case "catmullrom":
		return imaging.CatmullRom, nil
	case "linear":
		return imaging.Linear, nil
	case "box":
		return imaging.Box, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter: %s", name)
	}
}

// PNGCompressionByName returns the PNG compression level with the given name.
func PNGCompressionByName(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(name) {
	case "best", "":
		return png.BestCompression, nil
	case "default":
		return png.DefaultCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "none":
		return png.NoCompression, nil
	default:
		return png.DefaultCompression, fmt.Errorf("unknown png compression level: %s", name)
	}
}

// ImagingEngine is the default Engine, backed by disintegration/imaging.
type ImagingEngine struct {
	opts   Options
	logger *logrus.Logger
}

// NewImagingEngine creates a new ImagingEngine instance.
func NewImagingEngine(logger *logrus.Logger, opts Options) *ImagingEngine {
	return &ImagingEngine{opts: opts, logger: logger}
}

// Compress decodes the source, fits it into the requested bounds and
// encodes it again in the source format where possible.
func (e *ImagingEngine) Compress(ctx context.Context, req Request) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &CompressionError{Operation: "start", Err: err}
	}
	if len(req.Source) == 0 {
		return Output{}, &CompressionError{Operation: "decode", Err: errEmptySource}
	}
	if req.MaxWidth <= 0 || req.MaxHeight <= 0 {
		return Output{}, &CompressionError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid target size %dx%d", req.MaxWidth, req.MaxHeight),
		}
	}

	_, formatName, err := image.DecodeConfig(bytes.NewReader(req.Source))
	if err != nil {
		return Output{}, &CompressionError{Operation: "decode", Err: err}
	}
	sourceFormat := prober.ParseFormat(formatName)

	img, err := imaging.Decode(bytes.NewReader(req.Source), imaging.AutoOrientation(e.opts.AutoOrientation))
	if err != nil {
		return Output{}, &CompressionError{Operation: "decode", Err: err}
	}
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()

	if err := ctx.Err(); err != nil {
		return Output{}, &CompressionError{Operation: "resize", Err: err}
	}

	resized := false
	if srcW > req.MaxWidth || srcH > req.MaxHeight {
		img = imaging.Fit(img, req.MaxWidth, req.MaxHeight, e.opts.Filter)
		resized = true
	}

	format, outFormat := encodeFormat(sourceFormat)
	if format == imaging.JPEG && sourceFormat != prober.FormatJPEG {
		img = flatten(img)
	}

	if err := ctx.Err(); err != nil {
		return Output{}, &CompressionError{Operation: "encode", Err: err}
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, img, format,
		imaging.JPEGQuality(jpegQuality(req.Quality)),
		imaging.PNGCompressionLevel(e.opts.PNGCompression),
	)
	if err != nil {
		return Output{}, &CompressionError{Operation: "encode", Err: err}
	}

	out := Output{
		Data:      buf.Bytes(),
		MediaType: outFormat.MediaType(),
		Width:     img.Bounds().Dx(),
		Height:    img.Bounds().Dy(),
		Action:    ActionCompressed,
	}

	if e.opts.Strict && !resized && outFormat == sourceFormat && len(out.Data) > len(req.Source) {
		e.logger.Debugf("Compressed output (%d bytes) larger than source (%d bytes), keeping original",
			len(out.Data), len(req.Source))
		out = Output{
			Data:      req.Source,
			MediaType: sourceFormat.MediaType(),
			Width:     srcW,
			Height:    srcH,
			Action:    ActionOriginal,
		}
	}

	e.logger.WithFields(logrus.Fields{
		"source_bytes": len(req.Source),
		"output_bytes": len(out.Data),
		"width":        out.Width,
		"height":       out.Height,
		"quality":      req.Quality,
		"action":       out.Action,
	}).Debug("Image re-encoded")

	return out, nil
}

// encodeFormat picks the output encoding for a source format. Formats the
// encoder cannot write fall back to JPEG.
func encodeFormat(source prober.Format) (imaging.Format, prober.Format) {
	switch source {
	case prober.FormatPNG:
		return imaging.PNG, prober.FormatPNG
	case prober.FormatGIF:
		return imaging.GIF, prober.FormatGIF
	case prober.FormatBMP:
		return imaging.BMP, prober.FormatBMP
	case prober.FormatTIFF:
		return imaging.TIFF, prober.FormatTIFF
	default:
		return imaging.JPEG, prober.FormatJPEG
	}
}

// flatten draws the image over a white background so transparent areas
// do not turn black in JPEG output.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
