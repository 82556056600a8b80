package batch

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"image-compressor/internal/blobstore"
	"image-compressor/internal/compressor"
	"image-compressor/internal/orchestrator"
	"image-compressor/internal/prober"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"

	"github.com/sirupsen/logrus"
)

// LogHookFunc receives progress messages, e.g. for a terminal or socket.
type LogHookFunc func(level, message string)

// Options configures a Runner.
type Options struct {
	Workers         int
	OutputDirectory string                // empty writes next to each source
	Supported       func(ext string) bool // called with the lower-case extension
	DryRun          bool
	SkipCompressed  bool
	Params          state.Parameters
	DownloadSuffix  string
}

// FileInfo describes a discovered input file.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Extension string
}

// Outcome is the result of compressing one file.
type Outcome struct {
	Source         string
	Target         string
	OriginalSize   int64
	CompressedSize int64
	Ratio          string
	Action         string
	Err            error
}

// Runner compresses many files with a pool of workers. Each file goes
// through its own Orchestrator, so batch output matches the web tool.
type Runner struct {
	opts    Options
	prober  prober.Prober
	engine  compressor.Engine
	blobs   *blobstore.Store
	logger  *logrus.Logger
	stats   *statistics.Statistics
	logHook LogHookFunc

	claimMutex sync.Mutex
	claimed    map[string]bool
}

// NewRunner returns a new Runner.
func NewRunner(
	opts Options,
	p prober.Prober,
	engine compressor.Engine,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	logHook LogHookFunc,
) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DownloadSuffix == "" {
		opts.DownloadSuffix = state.DefaultDownloadSuffix
	}
	return &Runner{
		opts:    opts,
		prober:  p,
		engine:  engine,
		blobs:   blobstore.New(),
		logger:  logger,
		stats:   stats,
		logHook: logHook,
		claimed: make(map[string]bool),
	}
}

// Run compresses every supported file among inputs. Directories are
// walked recursively. Outcomes are returned in discovery order.
func (r *Runner) Run(ctx context.Context, inputs []string) ([]Outcome, error) {
	r.logger.Info("Starting batch compression")
	r.stats.StartTime = time.Now()

	files, err := r.discoverFiles(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		r.logger.Info("No image files found to compress")
		return nil, nil
	}
	r.logger.Infof("Found %d image files to process", len(files))

	if r.opts.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
	}

	outcomes := make([]Outcome, len(files))
	jobs := make(chan int, len(files))

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					outcomes[idx] = Outcome{Source: files[idx].Path, Err: ctx.Err()}
					continue
				}
				outcomes[idx] = r.processFile(ctx, files[idx])
			}
		}()
	}

	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	r.stats.Finalize()
	r.logger.Info("Batch compression completed")
	return outcomes, ctx.Err()
}

// discoverFiles expands inputs into the list of supported files.
func (r *Runner) discoverFiles(inputs []string) ([]FileInfo, error) {
	var files []FileInfo
	seen := make(map[string]bool)

	add := func(path string, info os.FileInfo) {
		ext := strings.ToLower(filepath.Ext(path))
		if !r.isSupportedFile(ext) {
			return
		}
		if r.opts.SkipCompressed && r.isCompressedOutput(path) {
			r.logger.Debugf("Skipping previous output: %s", path)
			r.stats.IncrementFilesSkipped()
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		files = append(files, FileInfo{
			Path:      path,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Extension: ext,
		})
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(input, info)
			continue
		}

		err = filepath.Walk(input, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				r.logger.Warnf("Error accessing path %s: %v", path, err)
				return nil
			}
			if !info.IsDir() {
				add(path, info)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// processFile compresses a single file and writes the result.
func (r *Runner) processFile(ctx context.Context, file FileInfo) Outcome {
	outcome := Outcome{Source: file.Path, OriginalSize: file.Size}
	r.logger.Debugf("Processing file: %s", file.Path)

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return r.skip(outcome, "read_file", err)
	}

	orch := orchestrator.New(r.prober, r.engine, r.blobs, r.logger, r.stats, orchestrator.Options{
		Params:         r.opts.Params,
		DownloadSuffix: r.opts.DownloadSuffix,
	})
	defer orch.Close()

	name := filepath.Base(file.Path)
	err = orch.SelectImage(orchestrator.File{
		Name:      name,
		MediaType: detectMediaType(file.Extension, data),
		Data:      data,
	})
	if err != nil {
		return r.skip(outcome, "select", err)
	}

	if r.opts.DryRun {
		return r.dryRun(orch, file, outcome)
	}

	if err := orch.Compress(ctx); err != nil {
		outcome.Err = err
		r.logger.Errorf("Could not compress %s: %v", file.Path, err)
		r.hook("error", fmt.Sprintf("Failed %s: %v", file.Path, err))
		return outcome
	}

	downloadName, output, _, err := orch.Download()
	if err != nil {
		return r.skip(outcome, "download", err)
	}

	targetDir := r.targetDirectory(file)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return r.skip(outcome, "directory_creation", err)
	}
	target, err := r.writeUnique(filepath.Join(targetDir, downloadName), output)
	if err != nil {
		outcome.Err = err
		r.logger.Errorf("Could not write %s: %v", downloadName, err)
		r.stats.AddError(file.Path, "write_file", err.Error())
		return outcome
	}

	s := orch.Snapshot()
	outcome.Target = target
	outcome.CompressedSize = int64(len(output))
	outcome.Ratio = s.CompressionRatio()
	if s.Result != nil {
		outcome.Action = s.Result.Action
	}

	msg := fmt.Sprintf("Compressed %s -> %s (%s, %s)", file.Path, target,
		statistics.FormatBytes(outcome.CompressedSize), outcome.Ratio)
	r.logger.Info(msg)
	r.hook("info", msg)
	return outcome
}

// dryRun reports what processFile would do without writing anything.
func (r *Runner) dryRun(orch *orchestrator.Orchestrator, file FileInfo, outcome Outcome) Outcome {
	orch.Wait()
	s := orch.Snapshot()
	if s.Source == nil || s.Source.Dimensions == nil {
		outcome.Err = &prober.DecodeError{Err: errors.New(s.Error)}
		msg := fmt.Sprintf("DRY-RUN: Would skip %s: %s", file.Path, s.Error)
		r.logger.Info(msg)
		r.hook("info", msg)
		r.stats.IncrementFilesSkipped()
		return outcome
	}

	dims := s.Source.Dimensions
	width, height := compressor.TargetSize(dims.Width, dims.Height, s.Params.SizeRatio)
	outcome.Target = filepath.Join(r.targetDirectory(file), orch.DownloadFileName())
	msg := fmt.Sprintf("DRY-RUN: Would compress %s -> %s (%dx%d -> %dx%d)",
		file.Path, outcome.Target, dims.Width, dims.Height, width, height)
	r.logger.Info(msg)
	r.hook("info", msg)
	return outcome
}

func (r *Runner) skip(outcome Outcome, operation string, err error) Outcome {
	outcome.Err = err
	r.logger.Warnf("Skipping %s: %v", outcome.Source, err)
	r.stats.IncrementFilesSkipped()
	r.stats.AddError(outcome.Source, operation, err.Error())
	r.hook("warn", fmt.Sprintf("Skipped %s: %v", outcome.Source, err))
	return outcome
}

func (r *Runner) hook(level, message string) {
	if r.logHook != nil {
		r.logHook(level, message)
	}
}

func (r *Runner) targetDirectory(file FileInfo) string {
	if r.opts.OutputDirectory != "" {
		return r.opts.OutputDirectory
	}
	return filepath.Dir(file.Path)
}

// writeUnique writes data to path, or to the first free path_N variant.
// Existing files are never overwritten.
func (r *Runner) writeUnique(path string, data []byte) (string, error) {
	r.claimMutex.Lock()
	defer r.claimMutex.Unlock()

	target := path
	for counter := 1; ; counter++ {
		if !r.claimed[target] {
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
			if err == nil {
				r.claimed[target] = true
				if _, err := f.Write(data); err != nil {
					f.Close()
					return "", err
				}
				return target, f.Close()
			}
			if !errors.Is(err, os.ErrExist) {
				return "", err
			}
		}
		target = numberedFilename(path, counter)
	}
}

// numberedFilename returns path with _counter inserted before the extension.
func numberedFilename(path string, counter int) string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
}

// isSupportedFile returns true if a file extension is supported.
func (r *Runner) isSupportedFile(ext string) bool {
	return r.opts.Supported != nil && r.opts.Supported(ext)
}

// isCompressedOutput reports whether path looks like a file a previous run
// produced, e.g. photo-compressed.jpg or photo-compressed_2.jpg.
func (r *Runner) isCompressedOutput(path string) bool {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.LastIndex(stem, "_"); i > 0 {
		if _, err := fmt.Sscanf(stem[i+1:], "%d", new(int)); err == nil {
			stem = stem[:i]
		}
	}
	return strings.HasSuffix(stem, r.opts.DownloadSuffix)
}

var extensionTypes = map[string]string{
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// detectMediaType plays the role of the browser's declared file type.
func detectMediaType(ext string, data []byte) string {
	if t := http.DetectContentType(data); strings.HasPrefix(t, "image/") {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}
