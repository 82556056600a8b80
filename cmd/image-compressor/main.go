package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"image-compressor/internal/batch"
	"image-compressor/internal/blobstore"
	"image-compressor/internal/compressor"
	"image-compressor/internal/config"
	"image-compressor/internal/logger"
	"image-compressor/internal/orchestrator"
	"image-compressor/internal/prober"
	"image-compressor/internal/session"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"
	"image-compressor/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	verbose        bool
	quiet          bool
	version        = "dev"
	quality        float64
	sizeRatio      float64
	outputDir      string
	workers        int
	dryRun         bool
	skipCompressed bool
	showMetadata   bool
	port           int
)

// rootCmd compresses the files given on the command line.
var rootCmd = &cobra.Command{
	Use:   "image-compressor [files or directories...]",
	Short: "Shrink images by re-encoding them at lower quality and size",
	Long: `Image Compressor re-encodes images with a configurable JPEG quality
and scales them down by a linear size ratio.

Features:
- JPEG, PNG, GIF, BMP, TIFF and WebP input
- Keeps the source format where possible
- Honors EXIF orientation
- Never overwrites existing files
- Web interface with live previews (serve)`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runCompress(cmd, args)
	},
}

// probeCmd shows what the prober reads from a file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show format, dimensions and orientation of an image",
	Long: `Reads the image header and prints its format, displayed dimensions and
EXIF orientation. With --metadata every field exiftool can read is listed
as well (requires the exiftool binary).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with a single-page interface:
- Pick an image and see its size and dimensions
- Adjust quality and size ratio
- Compress and compare the result
- Download it under a derived file name

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().Float64Var(&quality, "quality", 0.8, "JPEG quality in (0, 1]")
	rootCmd.Flags().Float64Var(&sizeRatio, "size-ratio", 0.8, "linear scale factor in (0, 1]")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for compressed files (default: next to each source)")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "number of parallel workers")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be compressed without writing files")
	rootCmd.Flags().BoolVar(&skipCompressed, "skip-compressed", true, "skip files produced by an earlier run")

	probeCmd.Flags().BoolVar(&showMetadata, "metadata", false, "list all metadata via exiftool")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress compresses files in batch mode.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(batch.Options{
		Workers:         cfg.Batch.Workers,
		OutputDirectory: cfg.Batch.OutputDirectory,
		Supported:       cfg.IsSupportedExtension,
		DryRun:          cfg.Batch.DryRun,
		SkipCompressed:  skipCompressed,
		Params:          parameters(cfg),
		DownloadSuffix:  cfg.Compression.DownloadSuffix,
	}, prober.NewImageProber(log, cfg.Compression.AutoOrientation), engine, log, stats, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes, err := runner.Run(ctx, args)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	if !quiet {
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				fmt.Printf("FAILED   %s: %v\n", o.Source, o.Err)
			case cfg.Batch.DryRun:
				fmt.Printf("DRY-RUN  %s -> %s\n", o.Source, o.Target)
			default:
				fmt.Printf("OK       %s -> %s (%s -> %s, %s)\n", o.Source, o.Target,
					statistics.FormatKB(o.OriginalSize, true), statistics.FormatKB(o.CompressedSize, true), o.Ratio)
			}
		}
		fmt.Println("\n" + stats.GetSummary())
	}

	if failed := countFailed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(outcomes))
	}
	return nil
}

// runProbe prints what the prober reads from a file.
func runProbe(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	info, err := prober.NewImageProber(log, true).Inspect(data)
	if err != nil {
		return err
	}

	fmt.Printf("File:        %s\n", filePath)
	fmt.Printf("Format:      %s (%s)\n", info.Format, info.Format.MediaType())
	fmt.Printf("Size:        %s\n", statistics.FormatKB(int64(len(data)), true))
	fmt.Printf("Dimensions:  %d x %d\n", info.Width, info.Height)
	fmt.Printf("Orientation: %d\n", info.Orientation)

	if !showMetadata {
		return nil
	}

	fields, err := prober.Metadata(filePath)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("\nMetadata:")
	for _, k := range keys {
		fmt.Printf("  %-32s %v\n", k, fields[k])
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	stats := statistics.NewStatistics()
	blobs := blobstore.New()
	p := prober.NewImageProber(log, cfg.Compression.AutoOrientation)
	opts := orchestrator.Options{
		Params:              parameters(cfg),
		DownloadSuffix:      cfg.Compression.DownloadSuffix,
		DefaultDownloadName: cfg.Compression.DefaultDownloadName,
	}
	sessions := session.NewManager(func() *orchestrator.Orchestrator {
		return orchestrator.New(p, engine, blobs, log, stats, opts)
	}, cfg.Server.SessionTTL, log, stats)

	server := web.NewServer(cfg, log, sessions, blobs, stats)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Image Compressor web interface started\n")
	fmt.Printf("Open your browser and go to: http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, v := range map[string]float64{"quality": quality, "size-ratio": sizeRatio} {
		if flags.Changed(name) && (v <= 0 || v > 1) {
			return nil, fmt.Errorf("--%s must be in (0, 1], got %v", name, v)
		}
	}
	if flags.Changed("quality") {
		cfg.Compression.Quality = quality
	}
	if flags.Changed("size-ratio") {
		cfg.Compression.SizeRatio = sizeRatio
	}
	if flags.Changed("output-dir") {
		cfg.Batch.OutputDirectory = outputDir
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers = workers
	}
	if dryRun {
		cfg.Batch.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newEngine builds the compression engine from the config.
func newEngine(cfg *config.Config, log *logrus.Logger) (*compressor.ImagingEngine, error) {
	filter, err := compressor.FilterByName(cfg.Compression.Filter)
	if err != nil {
		return nil, err
	}
	pngLevel, err := compressor.PNGCompressionByName(cfg.Compression.PNGCompression)
	if err != nil {
		return nil, err
	}
	return compressor.NewImagingEngine(log, compressor.Options{
		Filter:          filter,
		AutoOrientation: cfg.Compression.AutoOrientation,
		Strict:          cfg.Compression.Strict,
		PNGCompression:  pngLevel,
	}), nil
}

func parameters(cfg *config.Config) state.Parameters {
	return state.Parameters{
		Quality:   cfg.Compression.Quality,
		SizeRatio: cfg.Compression.SizeRatio,
	}
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func countFailed(outcomes []batch.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
