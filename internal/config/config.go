package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Server      ServerConfig      `mapstructure:"server"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the defaults applied to every session
type CompressionConfig struct {
	Quality             float64 `mapstructure:"quality"`
	SizeRatio           float64 `mapstructure:"size_ratio"`
	DownloadSuffix      string  `mapstructure:"download_suffix"`
	DefaultDownloadName string  `mapstructure:"default_download_name"`
	Strict              bool    `mapstructure:"strict"`
	Filter              string  `mapstructure:"filter"` // lanczos, catmullrom, linear, box, nearest
	AutoOrientation     bool    `mapstructure:"auto_orientation"`
	PNGCompression      string  `mapstructure:"png_compression"` // default, none, speed, best
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"` // bytes
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BatchConfig contains settings for compressing files from the command line
type BatchConfig struct {
	Workers             int      `mapstructure:"workers"`
	OutputDirectory     string   `mapstructure:"output_directory"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
	DryRun              bool     `mapstructure:"dry_run"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			Quality:             0.8,
			SizeRatio:           0.8,
			DownloadSuffix:      "-compressed",
			DefaultDownloadName: "compressed-image.jpg",
			Strict:              true,
			Filter:              "lanczos",
			AutoOrientation:     true,
			PNGCompression:      "best",
		},
		Server: ServerConfig{
			Host:          "",
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  60 * time.Second,
			IdleTimeout:   120 * time.Second,
			MaxUploadSize: 32 << 20,
			SessionTTL:    30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Batch: BatchConfig{
			Workers:         4,
			OutputDirectory: "",
			SupportedExtensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
		v.AddConfigPath("/etc/image-compressor")
	}

	v.SetEnvPrefix("IMAGE_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every key so AutomaticEnv sees it during Unmarshal.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.quality", c.Compression.Quality)
	v.SetDefault("compression.size_ratio", c.Compression.SizeRatio)
	v.SetDefault("compression.download_suffix", c.Compression.DownloadSuffix)
	v.SetDefault("compression.default_download_name", c.Compression.DefaultDownloadName)
	v.SetDefault("compression.strict", c.Compression.Strict)
	v.SetDefault("compression.filter", c.Compression.Filter)
	v.SetDefault("compression.auto_orientation", c.Compression.AutoOrientation)
	v.SetDefault("compression.png_compression", c.Compression.PNGCompression)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)
	v.SetDefault("server.max_upload_size", c.Server.MaxUploadSize)
	v.SetDefault("server.session_ttl", c.Server.SessionTTL)
	v.SetDefault("server.sweep_interval", c.Server.SweepInterval)

	v.SetDefault("batch.workers", c.Batch.Workers)
	v.SetDefault("batch.output_directory", c.Batch.OutputDirectory)
	v.SetDefault("batch.supported_extensions", c.Batch.SupportedExtensions)
	v.SetDefault("batch.dry_run", c.Batch.DryRun)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration and normalizes out-of-range values
func (c *Config) Validate() error {
	// Parameters outside (0,1] fall back to the defaults
	if c.Compression.Quality <= 0 || c.Compression.Quality > 1 {
		c.Compression.Quality = 0.8
	}
	if c.Compression.SizeRatio <= 0 || c.Compression.SizeRatio > 1 {
		c.Compression.SizeRatio = 0.8
	}
	if c.Compression.DownloadSuffix == "" {
		c.Compression.DownloadSuffix = "-compressed"
	}
	if c.Compression.DefaultDownloadName == "" {
		c.Compression.DefaultDownloadName = "compressed-image.jpg"
	}

	c.Compression.Filter = strings.ToLower(c.Compression.Filter)
	validFilters := map[string]bool{
		"":           true,
		"lanczos":    true,
		"catmullrom": true,
		"linear":     true,
		"box":        true,
		"nearest":    true,
	}
	if !validFilters[c.Compression.Filter] {
		return fmt.Errorf("invalid filter: %s (valid: lanczos, catmullrom, linear, box, nearest)", c.Compression.Filter)
	}

	c.Compression.PNGCompression = strings.ToLower(c.Compression.PNGCompression)
	validPNG := map[string]bool{
		"":        true,
		"default": true,
		"none":    true,
		"speed":   true,
		"best":    true,
	}
	if !validPNG[c.Compression.PNGCompression] {
		return fmt.Errorf("invalid png_compression: %s (valid: default, none, speed, best)", c.Compression.PNGCompression)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 32 << 20
	}
	if c.Server.SessionTTL <= 0 {
		c.Server.SessionTTL = 30 * time.Minute
	}
	if c.Server.SweepInterval <= 0 {
		c.Server.SweepInterval = time.Minute
	}

	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	c.Batch.SupportedExtensions = normalizeExtensions(c.Batch.SupportedExtensions)
	if c.Batch.OutputDirectory != "" {
		c.Batch.OutputDirectory = expandPath(c.Batch.OutputDirectory)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	format := strings.ToLower(c.Logging.Format)
	if format != "" && format != "json" && format != "text" {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsSupportedExtension checks if the extension is one batch mode compresses
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Batch.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func expandPath(path string) string {
	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return expandedPath
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}
	return expandedPath
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
