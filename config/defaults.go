package config

import "time"

// DefaultAPIKey is the placeholder key shipped in the defaults; servers warn while it is in use
const DefaultAPIKey = "change-me-api-key"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // large downloads
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Auth: AuthConfig{
			APIKeys: []string{DefaultAPIKey},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Storage: StorageConfig{
			RootPath:        "./data/files",
			Capacity:        "20GB",
			UploadChunkSize: "8KiB",
			MaxFileSize:     "100MB",
			MaxTagsPerFile:  10,
			MaxTagLength:    50,
		},
		Manifest: ManifestConfig{
			Path:          "./data/metadata.json",
			Format:        "json",
			FlushInterval: 0,
		},
		Thumbnails: ThumbnailsConfig{
			Enabled:       true,
			Width:         200,
			Height:        200,
			Quality:       85,
			CacheSize:     256,
			CacheTTL:      10 * time.Minute,
			FFmpegPath:    "ffmpeg",
			FFmpegTimeout: 15 * time.Second,
		},
		Pagination: PaginationConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
	}
}
