// Package state holds the compression session as an immutable record and
// the pure transitions between records. Transitions never mutate their
// input; pointer fields are replaced, not written through.
package state

import (
	"fmt"
	"strings"

	"image-compressor/internal/prober"
)

const (
	// DefaultDownloadSuffix is inserted before the extension of the source name.
	DefaultDownloadSuffix = "-compressed"
	// DefaultDownloadName is offered when no source image is selected.
	DefaultDownloadName = "compressed-image.jpg"
)

// Phase is the position of the session in a compression cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseCompressing
	PhaseReady
	PhaseFailed
)

// String returns the string representation of the Phase.
func (p Phase) String() string {
	switch p {
	case PhaseProbing:
		return "probing"
	case PhaseCompressing:
		return "compressing"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Parameters control the next compression.
type Parameters struct {
	Quality   float64 `json:"quality"`
	SizeRatio float64 `json:"size_ratio"`
}

// ParameterUpdate is a partial Parameters; nil fields are left unchanged.
type ParameterUpdate struct {
	Quality   *float64 `json:"quality,omitempty"`
	SizeRatio *float64 `json:"size_ratio,omitempty"`
}

// SourceImage is the selected image.
type SourceImage struct {
	Name       string
	MediaType  string
	Data       []byte
	Size       int64
	Dimensions *prober.Dimensions
	PreviewID  string
}

// CompressionResult is the output of a successful compression.
type CompressionResult struct {
	Seq        uint64
	Data       []byte
	MediaType  string
	Size       int64
	Dimensions *prober.Dimensions
	PreviewID  string
	Action     string
}

// State is a snapshot of a compression session.
type State struct {
	Source      *SourceImage
	Params      Parameters
	Result      *CompressionResult
	Compressing bool
	Phase       Phase
	Error       string
	// Generation increases with every selection; async completions carry
	// the generation they started under and are dropped when it is stale.
	Generation uint64

	resultSeq uint64
}

// Initial returns an empty session with the given parameters.
func Initial(params Parameters) State {
	return State{Params: params, Phase: PhaseIdle}
}

// SelectImage replaces the source and clears any result and error.
func SelectImage(s State, src SourceImage) State {
	src.Dimensions = nil
	s.Source = &src
	s.Result = nil
	s.Error = ""
	s.Generation++
	if !s.Compressing {
		s.Phase = PhaseIdle
	}
	return s
}

// RejectInput records a user-visible error and leaves everything else alone.
func RejectInput(s State, message string) State {
	s.Error = message
	return s
}

// SourceProbed stores the dimensions of the source selected under generation.
func SourceProbed(s State, generation uint64, dims prober.Dimensions) State {
	if s.Source == nil || s.Generation != generation {
		return s
	}
	src := *s.Source
	src.Dimensions = &dims
	s.Source = &src
	return s
}

// SourceProbeFailed drops a source that turned out not to be decodable.
func SourceProbeFailed(s State, generation uint64, message string) State {
	if s.Source == nil || s.Generation != generation {
		return s
	}
	s.Source = nil
	s.Result = nil
	s.Error = message
	if !s.Compressing {
		s.Phase = PhaseIdle
	}
	return s
}

// UpdateParameters merges the update into the parameters. An existing
// result is not affected.
func UpdateParameters(s State, u ParameterUpdate) State {
	if u.Quality != nil {
		s.Params.Quality = *u.Quality
	}
	if u.SizeRatio != nil {
		s.Params.SizeRatio = *u.SizeRatio
	}
	if !s.Compressing && (s.Phase == PhaseReady || s.Phase == PhaseFailed) {
		s.Phase = PhaseIdle
	}
	return s
}

// CompressStarted raises the in-flight flag. It is a no-op without a source
// or while a compression is already in flight.
func CompressStarted(s State) State {
	if s.Source == nil || s.Compressing {
		return s
	}
	s.Compressing = true
	s.Error = ""
	if s.Source.Dimensions == nil {
		s.Phase = PhaseProbing
	} else {
		s.Phase = PhaseCompressing
	}
	return s
}

// CompressEngaged marks that the engine has been invoked.
func CompressEngaged(s State, generation uint64) State {
	if s.Compressing && s.Generation == generation {
		s.Phase = PhaseCompressing
	}
	return s
}

// CompressSucceeded clears the in-flight flag and stores the result if the
// source it was made from is still selected.
func CompressSucceeded(s State, generation uint64, result CompressionResult) State {
	s.Compressing = false
	if s.Source == nil || s.Generation != generation {
		s.Phase = PhaseIdle
		return s
	}
	s.resultSeq++
	result.Seq = s.resultSeq
	result.Dimensions = nil
	s.Result = &result
	s.Phase = PhaseReady
	s.Error = ""
	return s
}

// CompressFailed clears the in-flight flag and records the error. A prior
// result stays in place.
func CompressFailed(s State, generation uint64, message string) State {
	s.Compressing = false
	if s.Generation != generation {
		s.Phase = PhaseIdle
		return s
	}
	s.Phase = PhaseFailed
	s.Error = message
	return s
}

// ResultProbed stores the dimensions of the result with the given sequence.
func ResultProbed(s State, seq uint64, dims prober.Dimensions) State {
	if s.Result == nil || s.Result.Seq != seq {
		return s
	}
	res := *s.Result
	res.Dimensions = &dims
	s.Result = &res
	return s
}

// ResultProbeFailed drops a result that cannot be decoded.
func ResultProbeFailed(s State, seq uint64, message string) State {
	if s.Result == nil || s.Result.Seq != seq {
		return s
	}
	s.Result = nil
	s.Error = message
	if !s.Compressing {
		s.Phase = PhaseFailed
	}
	return s
}

// PreviewIDs returns the preview handles referenced by the state.
func (s State) PreviewIDs() []string {
	var ids []string
	if s.Source != nil && s.Source.PreviewID != "" {
		ids = append(ids, s.Source.PreviewID)
	}
	if s.Result != nil && s.Result.PreviewID != "" {
		ids = append(ids, s.Result.PreviewID)
	}
	return ids
}

// DownloadFileName proposes a name for saving the result. When the result
// was re-encoded in another format, the extension follows the result.
func (s State) DownloadFileName(suffix, fallback string) string {
	if s.Source == nil {
		return fallback
	}
	name := DownloadFileName(s.Source.Name, suffix, fallback)
	if s.Result == nil {
		return name
	}
	return matchExtension(name, s.Result.MediaType)
}

// CompressionRatio returns the byte size reduction as a percentage with one
// decimal, or "" when there is nothing to compare.
func (s State) CompressionRatio() string {
	if s.Source == nil || s.Result == nil {
		return ""
	}
	return CompressionRatio(s.Source.Size, s.Result.Size)
}

// DownloadFileName inserts suffix before the extension of name. Names
// without an extension, including dot files, get the suffix appended.
func DownloadFileName(name, suffix, fallback string) string {
	if name == "" {
		return fallback
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return name + suffix
	}
	return name[:dot] + suffix + name[dot:]
}

// matchExtension replaces the extension of name with the preferred one of
// mediaType unless it already is one of that format's extensions. Names
// without an extension and unknown media types are left alone.
func matchExtension(name, mediaType string) string {
	exts := prober.FormatForMediaType(mediaType).Extensions()
	dot := strings.LastIndex(name, ".")
	if len(exts) == 0 || dot <= 0 {
		return name
	}
	current := strings.ToLower(name[dot:])
	for _, ext := range exts {
		if current == ext {
			return name
		}
	}
	return name[:dot] + exts[0]
}

// CompressionRatio returns 1 - compressed/original as a percentage.
func CompressionRatio(originalSize, compressedSize int64) string {
	if originalSize <= 0 || compressedSize < 0 {
		return ""
	}
	ratio := (1 - float64(compressedSize)/float64(originalSize)) * 100
	return fmt.Sprintf("%.1f%%", ratio)
}
