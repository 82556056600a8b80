package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSource is returned by Compress and Download when no image is selected.
	ErrNoSource = errors.New("no image selected")
	// ErrCompressionInFlight is returned by Compress while another compression runs.
	// The call is dropped, not queued.
	ErrCompressionInFlight = errors.New("compression already in progress")
	// ErrNoResult is returned by Download before a compression succeeded.
	ErrNoResult = errors.New("no compressed image available")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator is closed")
)

// InvalidInputError is returned when the selected file is not an image.
type InvalidInputError struct {
	FileName  string
	MediaType string
}

func (e *InvalidInputError) Error() string {
	if e.MediaType == "" {
		return fmt.Sprintf("%s is not an image: unknown media type", e.FileName)
	}
	return fmt.Sprintf("%s is not an image: media type %s", e.FileName, e.MediaType)
}
