// Package config loads CloudFS configuration from defaults, a config file and
// CLOUDFS_ environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// AppConfig holds the complete application configuration
type AppConfig struct {
	Server     ServerConfig     `koanf:"server"`
	Auth       AuthConfig       `koanf:"auth"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Storage    StorageConfig    `koanf:"storage"`
	Manifest   ManifestConfig   `koanf:"manifest"`
	Thumbnails ThumbnailsConfig `koanf:"thumbnails"`
	Pagination PaginationConfig `koanf:"pagination"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	CertFile        string        `koanf:"cert_file"`
	KeyFile         string        `koanf:"key_file"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// RateLimit is the sustained request rate per second across /v1; 0 disables limiting
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=0"`
}

// TLSEnabled reports whether both certificate and key are configured
func (s ServerConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys []string `koanf:"api_keys" validate:"required,min=1,dive,min=8"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	// ListenAddr serves /metrics on a separate listener when set; otherwise the main router serves it
	ListenAddr string `koanf:"listen_addr"`
}

// StorageConfig holds byte store and quota configuration. Sizes are
// human-readable strings such as "20GB" or "8KiB".
type StorageConfig struct {
	RootPath        string `koanf:"root_path" validate:"required"`
	Capacity        string `koanf:"capacity" validate:"required,bytesize"`
	UploadChunkSize string `koanf:"upload_chunk_size" validate:"required,bytesize"`
	MaxFileSize     string `koanf:"max_file_size" validate:"required,bytesize"`
	MaxTagsPerFile  int    `koanf:"max_tags_per_file" validate:"gte=0,lte=1000"`
	MaxTagLength    int    `koanf:"max_tag_length" validate:"gt=0,lte=1024"`
}

// CapacityBytes returns the parsed quota
func (s StorageConfig) CapacityBytes() (int64, error) {
	return parseSize("storage.capacity", s.Capacity)
}

// ChunkSizeBytes returns the parsed upload chunk size
func (s StorageConfig) ChunkSizeBytes() (int, error) {
	n, err := parseSize("storage.upload_chunk_size", s.UploadChunkSize)
	return int(n), err
}

// MaxFileSizeBytes returns the parsed per-file limit
func (s StorageConfig) MaxFileSizeBytes() (int64, error) {
	return parseSize("storage.max_file_size", s.MaxFileSize)
}

// ManifestConfig holds metadata manifest configuration
type ManifestConfig struct {
	Path   string `koanf:"path" validate:"required"`
	Format string `koanf:"format" validate:"required,oneof=json sqlite"`
	// FlushInterval > 0 flushes the manifest periodically instead of after every mutation
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gte=0"`
}

// ThumbnailsConfig holds preview generation configuration
type ThumbnailsConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Width         int           `koanf:"width" validate:"gt=0,lte=4096"`
	Height        int           `koanf:"height" validate:"gt=0,lte=4096"`
	Quality       int           `koanf:"quality" validate:"gt=0,lte=100"`
	CacheSize     int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL      time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	FFmpegPath    string        `koanf:"ffmpeg_path"`
	FFmpegTimeout time.Duration `koanf:"ffmpeg_timeout" validate:"gte=0"`
}

// PaginationConfig holds listing limits
type PaginationConfig struct {
	DefaultLimit int `koanf:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	MaxLimit     int `koanf:"max_limit" validate:"gt=0"`
}

func parseSize(field, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", field, value, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("%s: size %q out of range", field, value)
	}
	return int64(n), nil
}
