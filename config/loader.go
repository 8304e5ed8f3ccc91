package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of configuration environment variables. Nested keys are
// separated by a double underscore: CLOUDFS_STORAGE__MAX_FILE_SIZE=200MB.
const EnvPrefix = "CLOUDFS_"

// DefaultConfigFiles are tried in order when no file is given
var DefaultConfigFiles = []string{"config.yaml", "config.yml", "config.json"}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
		_, err := parseSize(fl.FieldName(), fl.Field().String())
		return err == nil
	})
}

// LoadConfig loads configuration from the default config file locations
func LoadConfig() (AppConfig, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. Specified config file or the first default config file found
// 3. Defaults (lowest priority)
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultAppConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}
		if err := loadFile(k, configFilePath); err != nil {
			return AppConfig{}, err
		}
	} else {
		for _, configFile := range DefaultConfigFiles {
			if _, err := os.Stat(configFile); err == nil {
				if err := loadFile(k, configFile); err != nil {
					return AppConfig{}, err
				}
				break
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		parser = yaml.Parser()
	case strings.HasSuffix(path, ".json"):
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps CLOUDFS_STORAGE__ROOT_PATH to storage.root_path
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks struct tags and the rules tags cannot express
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	capacity, err := cfg.Storage.CapacityBytes()
	if err != nil {
		return err
	}
	maxFile, err := cfg.Storage.MaxFileSizeBytes()
	if err != nil {
		return err
	}
	chunk, err := cfg.Storage.ChunkSizeBytes()
	if err != nil {
		return err
	}
	if maxFile > capacity {
		return fmt.Errorf("storage.max_file_size (%s) exceeds storage.capacity (%s)", cfg.Storage.MaxFileSize, cfg.Storage.Capacity)
	}
	if chunk > 64<<20 {
		return fmt.Errorf("storage.upload_chunk_size (%s) exceeds 64MiB", cfg.Storage.UploadChunkSize)
	}

	if cfg.Server.CertFile != "" && cfg.Server.KeyFile == "" || cfg.Server.CertFile == "" && cfg.Server.KeyFile != "" {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}

	seen := make(map[string]bool, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		if seen[key] {
			return fmt.Errorf("auth.api_keys[%d]: duplicate key", i)
		}
		seen[key] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
