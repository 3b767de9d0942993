package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/SPCG-NEST/daemon/internal/embeddings"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read by Load.
	EnvPrefix = "DAEMON_"
)

// nestedSections lists sub-structs whose names contain no underscore, so that
// DAEMON_VECTORSTORE_QDRANT_HOST maps to vectorstore.qdrant.host rather than
// vectorstore.qdrant_host.
var nestedSections = map[string][]string{
	"vectorstore": {"chromem", "qdrant"},
	"logging":     {"output", "sampling", "redaction"},
}

// Load loads configuration from a YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DAEMON_SERVER_PORT, DAEMON_NATS_URL, etc.)
//  2. YAML config file (~/.config/daemond/config.yaml)
//  3. Default()
//
// A missing file is not an error. Only files under ~/.config/daemond/ or
// /etc/daemond/ are accepted; they must be 0600 or 0400 and at most 1MB.
//
// # Environment Variable Mapping
//
// The DAEMON_ prefix is stripped, the first underscore separates the section
// and known sub-sections are split out:
//
//	DAEMON_SERVER_PORT                 -> server.port
//	DAEMON_GENERATION_ANTHROPIC_API_KEY -> generation.anthropic_api_key
//	DAEMON_VECTORSTORE_QDRANT_HOST     -> vectorstore.qdrant.host
//	DAEMON_LOGGING_LEVEL               -> logging.level
//
// ANTHROPIC_API_KEY and OPENAI_API_KEY are used when the generation keys are unset.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate the descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unset keys keep their Default() values.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps DAEMON_SECTION_FIELD to section.field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, sub := range nestedSections[section] {
		if rest, found := strings.CutPrefix(field, sub+"_"); found {
			return section + "." + sub + "." + rest
		}
	}
	return section + "." + field
}

// Dir returns the user config directory, ~/.config/daemond.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "daemond"), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := Dir()
	if err != nil {
		return err
	}
	allowedDirs := []string{userDir, "/etc/daemond"}

	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/daemond/ or /etc/daemond/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults repairs values that were explicitly zeroed and fills keys
// from well-known environment variables.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.Storage.MemoryPath == "" {
		cfg.Storage.MemoryPath = cfg.Storage.Path
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = d.Storage.BusyTimeout
	}

	cfg.VectorStore.Chromem.ApplyDefaults()
	cfg.VectorStore.Qdrant.ApplyDefaults()
	if cfg.VectorStore.Qdrant.VectorSize == 0 && cfg.Embeddings.Dimension > 0 {
		cfg.VectorStore.Qdrant.VectorSize = uint64(cfg.Embeddings.Dimension)
	}

	cfg.Memory.ApplyDefaults()

	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if !cfg.Generation.AnthropicAPIKey.IsSet() {
		cfg.Generation.AnthropicAPIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if !cfg.Generation.OpenAIAPIKey.IsSet() {
		cfg.Generation.OpenAIAPIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if !cfg.Embeddings.APIKey.IsSet() && cfg.Embeddings.Provider == embeddings.ProviderOpenAI {
		cfg.Embeddings.APIKey = cfg.Generation.OpenAIAPIKey
	}

	cfg.Secrets.ApplyDefaults()

	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = d.Providers.Timeout
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = d.Observability.ServiceName
	}
}
