package log

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// SanitizationMode controls how user-controlled data is handled in logs
type SanitizationMode int

const (
	// ProductionMode hashes file paths and credentials
	ProductionMode SanitizationMode = iota
	// DevelopmentMode shows truncated values for debugging
	DevelopmentMode
	// DebugMode shows full values (only for development)
	DebugMode
)

var currentMode = ProductionMode

func init() {
	if mode := os.Getenv("CLOUDFS_LOG_MODE"); mode != "" {
		if m, ok := ParseMode(mode); ok {
			currentMode = m
		}
	}
}

// ParseMode maps "production", "development" or "debug" to a mode
func ParseMode(mode string) (SanitizationMode, bool) {
	switch strings.ToLower(mode) {
	case "production":
		return ProductionMode, true
	case "development":
		return DevelopmentMode, true
	case "debug":
		return DebugMode, true
	}
	return ProductionMode, false
}

// SetMode overrides the mode picked up from CLOUDFS_LOG_MODE
func SetMode(mode SanitizationMode) {
	currentMode = mode
}

func (m SanitizationMode) String() string {
	switch m {
	case DevelopmentMode:
		return "development"
	case DebugMode:
		return "debug"
	default:
		return "production"
	}
}

// Mode returns the active sanitization mode
func Mode() SanitizationMode {
	return currentMode
}

// SanitizePath sanitizes virtual file paths for logging
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}

	switch currentMode {
	case DevelopmentMode:
		if len(path) <= 20 {
			return path
		}
		return path[:10] + "..." + path[len(path)-7:]
	case DebugMode:
		return path
	default:
		hash := sha256.Sum256([]byte(path))
		return fmt.Sprintf("hash:%x", hash[:8])
	}
}

// SanitizeKey masks an API key. Keys are never logged in full, even in debug mode.
func SanitizeKey(key string) string {
	if key == "" {
		return ""
	}

	switch currentMode {
	case DevelopmentMode, DebugMode:
		if len(key) <= 8 {
			return "****"
		}
		return key[:4] + "****"
	default:
		hash := sha256.Sum256([]byte(key))
		return fmt.Sprintf("key_hash:%x", hash[:6])
	}
}

// Path returns a zap field carrying a sanitized path
func Path(key, path string) zap.Field {
	return zap.String(key, SanitizePath(path))
}
