package statistics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for compression activity.
type Statistics struct {
	ImagesSelected  int64
	InvalidInputs   int64
	DecodeErrors    int64
	SessionsCreated int64
	SessionsExpired int64

	CompressionsStarted   int64
	CompressionsSucceeded int64
	CompressionsFailed    int64
	CompressionsDropped   int64
	OriginalsKept         int64

	FilesSkipped int64

	BytesIn  int64
	BytesOut int64

	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	ImagesPerSecond float64

	// Errors keeps the most recent MaxRecordedErrors entries, ErrorCount all of them.
	Errors     []StatError
	ErrorCount int64

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// MaxRecordedErrors bounds the error log of a long-running server.
const MaxRecordedErrors = 100

// StatError represents an error that occurred during processing.
type StatError struct {
	Source    string
	Operation string
	Error     string
	Timestamp time.Time
}

// Snapshot is a point-in-time copy of the counters, suitable for JSON.
type Snapshot struct {
	ImagesSelected        int64            `json:"images_selected"`
	InvalidInputs         int64            `json:"invalid_inputs"`
	DecodeErrors          int64            `json:"decode_errors"`
	SessionsCreated       int64            `json:"sessions_created"`
	SessionsExpired       int64            `json:"sessions_expired"`
	CompressionsStarted   int64            `json:"compressions_started"`
	CompressionsSucceeded int64            `json:"compressions_succeeded"`
	CompressionsFailed    int64            `json:"compressions_failed"`
	CompressionsDropped   int64            `json:"compressions_dropped"`
	OriginalsKept         int64            `json:"originals_kept"`
	FilesSkipped          int64            `json:"files_skipped"`
	BytesIn               int64            `json:"bytes_in"`
	BytesOut              int64            `json:"bytes_out"`
	BytesSaved            string           `json:"bytes_saved"`
	Formats               map[string]int64 `json:"formats"`
	Errors                int64            `json:"errors"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementImagesSelected increases the count of accepted selections by 1.
func (s *Statistics) IncrementImagesSelected() {
	atomic.AddInt64(&s.ImagesSelected, 1)
}

// IncrementInvalidInputs increases the count of rejected non-image files by 1.
func (s *Statistics) IncrementInvalidInputs() {
	atomic.AddInt64(&s.InvalidInputs, 1)
}

// IncrementDecodeErrors increases the count of undecodable images by 1.
func (s *Statistics) IncrementDecodeErrors() {
	atomic.AddInt64(&s.DecodeErrors, 1)
}

// IncrementSessionsCreated increases the count of created sessions by 1.
func (s *Statistics) IncrementSessionsCreated() {
	atomic.AddInt64(&s.SessionsCreated, 1)
}

// IncrementSessionsExpired increases the count of idle sessions closed by 1.
func (s *Statistics) IncrementSessionsExpired() {
	atomic.AddInt64(&s.SessionsExpired, 1)
}

// IncrementCompressionsStarted increases the count of started compressions by 1.
func (s *Statistics) IncrementCompressionsStarted() {
	atomic.AddInt64(&s.CompressionsStarted, 1)
}

// IncrementCompressionsSucceeded increases the count of successful compressions by 1.
func (s *Statistics) IncrementCompressionsSucceeded() {
	atomic.AddInt64(&s.CompressionsSucceeded, 1)
}

// IncrementCompressionsFailed increases the count of failed compressions by 1.
func (s *Statistics) IncrementCompressionsFailed() {
	atomic.AddInt64(&s.CompressionsFailed, 1)
}

// IncrementCompressionsDropped increases the count of compress requests
// dropped because one was already in flight.
func (s *Statistics) IncrementCompressionsDropped() {
	atomic.AddInt64(&s.CompressionsDropped, 1)
}

// IncrementOriginalsKept increases the count of results that kept the original bytes.
func (s *Statistics) IncrementOriginalsKept() {
	atomic.AddInt64(&s.OriginalsKept, 1)
}

// IncrementFilesSkipped increases the count of skipped batch files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// AddBytes records the size of a source and its compressed result.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// IncrementFormat increases the count for a specific media type by 1.
func (s *Statistics) IncrementFormat(mediaType string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[mediaType]++
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(source, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry := StatError{
		Source:    source,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	}
	s.ErrorCount++
	if len(s.Errors) < MaxRecordedErrors {
		s.Errors = append(s.Errors, entry)
		return
	}
	copy(s.Errors, s.Errors[1:])
	s.Errors[len(s.Errors)-1] = entry
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	done := atomic.LoadInt64(&s.CompressionsSucceeded)
	if s.Duration.Seconds() > 0 {
		s.ImagesPerSecond = float64(done) / s.Duration.Seconds()
	}
}

// Snapshot returns a copy of the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	formats := make(map[string]int64, len(s.FormatStats))
	for k, v := range s.FormatStats {
		formats[k] = v
	}
	errCount := s.ErrorCount
	s.mutex.RUnlock()

	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	return Snapshot{
		ImagesSelected:        atomic.LoadInt64(&s.ImagesSelected),
		InvalidInputs:         atomic.LoadInt64(&s.InvalidInputs),
		DecodeErrors:          atomic.LoadInt64(&s.DecodeErrors),
		SessionsCreated:       atomic.LoadInt64(&s.SessionsCreated),
		SessionsExpired:       atomic.LoadInt64(&s.SessionsExpired),
		CompressionsStarted:   atomic.LoadInt64(&s.CompressionsStarted),
		CompressionsSucceeded: atomic.LoadInt64(&s.CompressionsSucceeded),
		CompressionsFailed:    atomic.LoadInt64(&s.CompressionsFailed),
		CompressionsDropped:   atomic.LoadInt64(&s.CompressionsDropped),
		OriginalsKept:         atomic.LoadInt64(&s.OriginalsKept),
		FilesSkipped:          atomic.LoadInt64(&s.FilesSkipped),
		BytesIn:               in,
		BytesOut:              out,
		BytesSaved:            FormatBytes(in - out),
		Formats:               formats,
		Errors:                errCount,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()

	s.mutex.RLock()
	duration := s.Duration
	rate := s.ImagesPerSecond
	s.mutex.RUnlock()

	return fmt.Sprintf(`Image Compressor Statistics Summary:

Input:
		Images Selected: %d
		Invalid Inputs: %d
		Decode Errors: %d
		Files Skipped: %d

Compression:
		Started: %d
		Succeeded: %d
		Failed: %d
		Dropped (in flight): %d
		Original Kept: %d

Bytes:
		In: %s
		Out: %s
		Saved: %s

Performance:
		Duration: %v
		Images/Second: %.2f`,
		snap.ImagesSelected,
		snap.InvalidInputs,
		snap.DecodeErrors,
		snap.FilesSkipped,
		snap.CompressionsStarted,
		snap.CompressionsSucceeded,
		snap.CompressionsFailed,
		snap.CompressionsDropped,
		snap.OriginalsKept,
		FormatBytes(snap.BytesIn),
		FormatBytes(snap.BytesOut),
		snap.BytesSaved,
		duration,
		rate)
}

// GetFormatBreakdown returns a formatted breakdown of media types processed.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	types := make([]string, 0, len(s.FormatStats))
	for t := range s.FormatStats {
		types = append(types, t)
	}
	sort.Strings(types)

	result := "Format Breakdown:\n"
	for _, t := range types {
		result += fmt.Sprintf("  %s: %d\n", t, s.FormatStats[t])
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", s.ErrorCount)
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", s.ErrorCount-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.Source,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + FormatBytes(-bytes)
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatKB renders a size the way the web page labels files, or "N/A".
func FormatKB(size int64, known bool) string {
	if !known {
		return "N/A"
	}
	return fmt.Sprintf("%.2f KB", float64(size)/1024)
}
