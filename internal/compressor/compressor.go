package compressor

import (
	"context"
	"fmt"
	"math"
)

// Actions reported in Output.Action.
const (
	ActionCompressed = "compressed"
	ActionOriginal   = "original"
)

// Request describes the compression of a single in-memory image.
type Request struct {
	Source    []byte
	MediaType string
	Quality   float64 // (0,1], only meaningful for lossy formats
	MaxWidth  int
	MaxHeight int
}

// Output is the re-encoded image produced by an Engine.
type Output struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
	Action    string
}

// Result carries exactly one of Output or Err.
type Result struct {
	Output Output
	Err    error
}

// Engine re-encodes images.
type Engine interface {
	// Compress fits the source into MaxWidth x MaxHeight, keeping its aspect
	// ratio, and encodes it with the requested quality.
	Compress(ctx context.Context, req Request) (Output, error)
}

// CompressionError describes a failed engine invocation.
type CompressionError struct {
	Operation string
	Err       error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression %s failed: %v", e.Operation, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Submit invokes the engine in the background. The returned channel
// receives exactly one Result and is never closed.
func Submit(ctx context.Context, engine Engine, req Request) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- Result{Err: &CompressionError{Operation: "encode", Err: fmt.Errorf("engine panic: %v", r)}}
			}
		}()
		out, err := engine.Compress(ctx, req)
		results <- Result{Output: out, Err: err}
	}()
	return results
}

// TargetSize scales width and height by ratio, rounding to the nearest
// pixel. Neither side drops below one pixel.
func TargetSize(width, height int, ratio float64) (int, int) {
	return max(int(math.Round(float64(width)*ratio)), 1),
		max(int(math.Round(float64(height)*ratio)), 1)
}

// jpegQuality maps a (0,1] quality to the 1-100 scale of the JPEG encoder.
func jpegQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	return min(max(q, 1), 100)
}
