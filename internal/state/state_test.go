package state

import (
	"testing"

	"image-compressor/internal/prober"
)

func float(v float64) *float64 { return &v }

func selected(name string, size int64) State {
	return SelectImage(Initial(Parameters{Quality: 0.8, SizeRatio: 0.8}), SourceImage{
		Name:      name,
		MediaType: "image/png",
		Data:      make([]byte, size),
		Size:      size,
		PreviewID: "src-preview",
	})
}

func TestDownloadFileName(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"png", "photo.png", "photo-compressed.png"},
		{"multiple dots", "holiday.2024.jpeg", "holiday.2024-compressed.jpeg"},
		{"no extension", "photo", "photo-compressed"},
		{"dot file", ".hidden", ".hidden-compressed"},
		{"trailing dot", "photo.", "photo-compressed."},
		{"empty name", "", DefaultDownloadName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DownloadFileName(tt.source, DefaultDownloadSuffix, DefaultDownloadName)
			if got != tt.expected {
				t.Errorf("DownloadFileName(%q) = %q, want %q", tt.source, got, tt.expected)
			}
		})
	}
}

func TestStateDownloadFileNameWithoutSource(t *testing.T) {
	s := Initial(Parameters{})
	if got := s.DownloadFileName(DefaultDownloadSuffix, DefaultDownloadName); got != DefaultDownloadName {
		t.Errorf("Expected %q without a source, got %q", DefaultDownloadName, got)
	}
	s = selected("photo.png", 10)
	if got := s.DownloadFileName(DefaultDownloadSuffix, DefaultDownloadName); got != "photo-compressed.png" {
		t.Errorf("Expected photo-compressed.png, got %q", got)
	}
}

func TestDownloadFileNameFollowsResultFormat(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		mediaType string
		expected  string
	}{
		{"webp re-encoded as jpeg", "x.webp", "image/jpeg", "x-compressed.jpg"},
		{"jpeg kept", "photo.JPG", "image/jpeg", "photo-compressed.JPG"},
		{"jpeg alias kept", "photo.jpeg", "image/jpeg", "photo-compressed.jpeg"},
		{"tiff alias kept", "scan.tif", "image/tiff", "scan-compressed.tif"},
		{"png kept", "icon.png", "image/png", "icon-compressed.png"},
		{"no extension", "README", "image/jpeg", "README-compressed"},
		{"unknown media type", "x.webp", "application/octet-stream", "x-compressed.webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := CompressStarted(selected(tt.source, 10))
			s = CompressSucceeded(s, s.Generation, CompressionResult{
				Data:      []byte("out"),
				MediaType: tt.mediaType,
				Size:      3,
			})
			got := s.DownloadFileName(DefaultDownloadSuffix, DefaultDownloadName)
			if got != tt.expected {
				t.Errorf("DownloadFileName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCompressionRatio(t *testing.T) {
	tests := []struct {
		name       string
		original   int64
		compressed int64
		expected   string
	}{
		{"quarter saved", 1000, 750, "25.0%"},
		{"rounded to one decimal", 3, 1, "66.7%"},
		{"grew", 100, 110, "-10.0%"},
		{"unchanged", 500, 500, "0.0%"},
		{"no original size", 0, 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompressionRatio(tt.original, tt.compressed); got != tt.expected {
				t.Errorf("CompressionRatio(%d, %d) = %q, want %q", tt.original, tt.compressed, got, tt.expected)
			}
		})
	}
}

func TestCompressionRatioUndefinedUntilResult(t *testing.T) {
	s := Initial(Parameters{})
	if s.CompressionRatio() != "" {
		t.Error("Expected empty ratio without a source")
	}

	s = selected("a.png", 1000)
	if s.CompressionRatio() != "" {
		t.Error("Expected empty ratio before any compression")
	}

	s = CompressStarted(s)
	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 400})
	if got := s.CompressionRatio(); got != "60.0%" {
		t.Errorf("Expected 60.0%%, got %q", got)
	}
}

func TestSelectImageReplacesSourceAndClearsResult(t *testing.T) {
	s := selected("a.png", 100)
	s = CompressStarted(s)
	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 50, PreviewID: "res"})
	if s.Result == nil {
		t.Fatal("Expected result after success")
	}
	gen := s.Generation

	next := SelectImage(s, SourceImage{Name: "b.png", Size: 200, Dimensions: &prober.Dimensions{Width: 9, Height: 9}})
	if next.Source.Name != "b.png" {
		t.Errorf("Expected b.png, got %s", next.Source.Name)
	}
	if next.Source.Dimensions != nil {
		t.Error("Expected dimensions to be unknown for a new selection")
	}
	if next.Result != nil {
		t.Error("Expected result to be cleared on new selection")
	}
	if next.Generation != gen+1 {
		t.Errorf("Expected generation %d, got %d", gen+1, next.Generation)
	}
	if s.Source.Name != "a.png" || s.Result == nil {
		t.Error("Expected the previous state to be left untouched")
	}
}

func TestRejectInputOnlyTouchesError(t *testing.T) {
	s := selected("a.png", 100)
	s = SourceProbed(s, s.Generation, prober.Dimensions{Width: 4, Height: 2})

	next := RejectInput(s, "not an image")
	if next.Error != "not an image" {
		t.Errorf("Expected error to be set, got %q", next.Error)
	}
	if next.Source != s.Source || next.Generation != s.Generation {
		t.Error("Expected source and generation to be unchanged")
	}
}

func TestProbeTransitionsIgnoreStaleGenerations(t *testing.T) {
	s := selected("a.png", 100)
	old := s.Generation
	s = SelectImage(s, SourceImage{Name: "b.png", Size: 10})

	s = SourceProbed(s, old, prober.Dimensions{Width: 1, Height: 1})
	if s.Source.Dimensions != nil {
		t.Error("Expected stale probe to be ignored")
	}

	s = SourceProbeFailed(s, old, "boom")
	if s.Source == nil || s.Error != "" {
		t.Error("Expected stale probe failure to be ignored")
	}

	s = SourceProbed(s, s.Generation, prober.Dimensions{Width: 3, Height: 2})
	if s.Source.Dimensions == nil || s.Source.Dimensions.Width != 3 {
		t.Errorf("Expected dimensions 3x2, got %+v", s.Source.Dimensions)
	}
}

func TestSourceProbeFailedClearsSource(t *testing.T) {
	s := selected("a.png", 100)
	s = SourceProbeFailed(s, s.Generation, "cannot decode image")
	if s.Source != nil {
		t.Error("Expected source to be cleared")
	}
	if s.Error != "cannot decode image" {
		t.Errorf("Expected error message, got %q", s.Error)
	}
	if len(s.PreviewIDs()) != 0 {
		t.Errorf("Expected no preview handles, got %v", s.PreviewIDs())
	}
}

func TestUpdateParametersMerges(t *testing.T) {
	s := Initial(Parameters{Quality: 0.8, SizeRatio: 0.8})

	s = UpdateParameters(s, ParameterUpdate{Quality: float(0.5)})
	if s.Params.Quality != 0.5 || s.Params.SizeRatio != 0.8 {
		t.Errorf("Expected {0.5 0.8}, got %+v", s.Params)
	}

	s = UpdateParameters(s, ParameterUpdate{SizeRatio: float(0.25)})
	if s.Params.Quality != 0.5 || s.Params.SizeRatio != 0.25 {
		t.Errorf("Expected {0.5 0.25}, got %+v", s.Params)
	}
}

func TestUpdateParametersKeepsResult(t *testing.T) {
	s := selected("a.png", 100)
	s = CompressStarted(s)
	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 10})

	next := UpdateParameters(s, ParameterUpdate{Quality: float(0.1)})
	if next.Result != s.Result {
		t.Error("Expected parameter change not to alter the existing result")
	}
	if next.Phase != PhaseIdle {
		t.Errorf("Expected phase idle after new action, got %s", next.Phase)
	}
}

func TestCompressCycle(t *testing.T) {
	s := selected("a.png", 100)

	if got := CompressStarted(Initial(Parameters{})); got.Compressing {
		t.Error("Expected CompressStarted without a source to be a no-op")
	}

	s = CompressStarted(s)
	if !s.Compressing || s.Phase != PhaseProbing {
		t.Fatalf("Expected probing with flag set, got %s compressing=%v", s.Phase, s.Compressing)
	}
	again := CompressStarted(s)
	if again != s {
		t.Error("Expected CompressStarted while in flight to be a no-op")
	}

	s = SourceProbed(s, s.Generation, prober.Dimensions{Width: 10, Height: 10})
	s = CompressEngaged(s, s.Generation)
	if s.Phase != PhaseCompressing {
		t.Fatalf("Expected compressing, got %s", s.Phase)
	}

	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 40, PreviewID: "res"})
	if s.Compressing || s.Phase != PhaseReady {
		t.Fatalf("Expected ready with flag cleared, got %s compressing=%v", s.Phase, s.Compressing)
	}
	if s.Result.Seq == 0 {
		t.Error("Expected result to get a sequence number")
	}

	seq := s.Result.Seq
	s = ResultProbed(s, seq, prober.Dimensions{Width: 5, Height: 5})
	if s.Result.Dimensions == nil || s.Result.Dimensions.Width != 5 {
		t.Errorf("Expected result dimensions 5x5, got %+v", s.Result.Dimensions)
	}
	if ids := s.PreviewIDs(); len(ids) != 2 {
		t.Errorf("Expected two preview handles, got %v", ids)
	}
}

func TestCompressFailedKeepsPriorResult(t *testing.T) {
	s := selected("a.png", 100)
	s = CompressStarted(s)
	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 40})
	prior := s.Result

	s = CompressStarted(s)
	s = CompressFailed(s, s.Generation, "compression encode failed: boom")
	if s.Compressing {
		t.Error("Expected flag to be cleared on failure")
	}
	if s.Phase != PhaseFailed {
		t.Errorf("Expected failed phase, got %s", s.Phase)
	}
	if s.Result != prior {
		t.Error("Expected prior result to be untouched")
	}
	if s.Error != "compression encode failed: boom" {
		t.Errorf("Unexpected error message %q", s.Error)
	}
}

func TestCompressSucceededDiscardsStaleResult(t *testing.T) {
	s := selected("a.png", 100)
	s = CompressStarted(s)
	gen := s.Generation

	s = SelectImage(s, SourceImage{Name: "b.png", Size: 10})
	if !s.Compressing {
		t.Fatal("Expected flag to survive a new selection")
	}

	s = CompressSucceeded(s, gen, CompressionResult{Size: 1})
	if s.Compressing {
		t.Error("Expected flag to be cleared")
	}
	if s.Result != nil {
		t.Error("Expected result for a superseded source to be discarded")
	}
}

func TestResultProbeFailedDropsResult(t *testing.T) {
	s := selected("a.png", 100)
	s = CompressStarted(s)
	s = CompressSucceeded(s, s.Generation, CompressionResult{Size: 1})

	stale := ResultProbeFailed(s, s.Result.Seq+1, "boom")
	if stale.Result == nil {
		t.Error("Expected stale result probe failure to be ignored")
	}

	s = ResultProbeFailed(s, s.Result.Seq, "cannot decode image")
	if s.Result != nil {
		t.Error("Expected result to be dropped")
	}
	if s.Error != "cannot decode image" {
		t.Errorf("Unexpected error %q", s.Error)
	}
}
