// Package characters reads character documents from disk and keeps a
// directory of them registered with the identity store.
package characters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/SPCG-NEST/daemon/internal/identity"
)

// maxDocumentSize bounds a single character file.
const maxDocumentSize = 1024 * 1024

var (
	// ErrUnsupportedFormat is returned for files that are not json, yaml or toml.
	ErrUnsupportedFormat = errors.New("unsupported character format")

	// ErrDocumentTooLarge is returned for files over 1MB.
	ErrDocumentTooLarge = errors.New("character document too large")
)

// Registrar stores characters. *identity.Store satisfies it.
type Registrar interface {
	RegisterCharacter(ctx context.Context, c identity.Character) (identity.Character, error)
}

// Supported reports whether path has a character document extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// Load parses a .json, .yaml, .yml or .toml character document and validates it.
func Load(path string) (identity.Character, error) {
	if !Supported(path) {
		return identity.Character{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return identity.Character{}, fmt.Errorf("opening character file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize+1))
	if err != nil {
		return identity.Character{}, fmt.Errorf("reading character file: %w", err)
	}
	if len(data) > maxDocumentSize {
		return identity.Character{}, fmt.Errorf("%w: %s", ErrDocumentTooLarge, filepath.Base(path))
	}

	c, err := Decode(filepath.Ext(path), data)
	if err != nil {
		return identity.Character{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Decode parses data in the format named by ext (".json", ".yaml", ".yml" or ".toml").
func Decode(ext string, data []byte) (identity.Character, error) {
	var c identity.Character
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&c); err != nil {
			return identity.Character{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return identity.Character{}, err
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &c); err != nil {
			return identity.Character{}, err
		}
	default:
		return identity.Character{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err := c.Validate(); err != nil {
		return identity.Character{}, err
	}
	return c, nil
}

// LoadDir loads every supported file directly under dir, in name order.
// Files that fail to parse are reported in the joined error and skipped.
func LoadDir(dir string) ([]identity.Character, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading characters dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var (
		out  []identity.Character
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		c, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

// Sync registers every character in dir and returns how many were registered.
// Registration is idempotent, so repeated syncs are harmless.
func Sync(ctx context.Context, dir string, reg Registrar, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chars, loadErr := LoadDir(dir)
	if loadErr != nil {
		logger.Warn("skipping unreadable character files", zap.String("dir", dir), zap.Error(loadErr))
	}

	n := 0
	for _, c := range chars {
		if _, err := reg.RegisterCharacter(ctx, c); err != nil {
			return n, fmt.Errorf("registering character %s: %w", c.Pubkey, err)
		}
		logger.Info("registered character", zap.String("daemon.pubkey", c.Pubkey), zap.String("name", c.Name))
		n++
	}
	return n, nil
}
