// internal/session/loader.go
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BootstrapEntry is one campaign to auto-start at boot.
type BootstrapEntry struct {
	Name   string `yaml:"name"`
	Trader string `yaml:"trader"`
	Config Config `yaml:",inline"`
}

type bootstrapFile struct {
	Sessions []BootstrapEntry `yaml:"sessions"`
}

// LoadBootstrapYAML reads campaign definitions from a YAML file. Invalid
// entries are skipped with a warning rather than failing the boot; an empty
// file is fine, the daemon then idles waiting for control calls.
func LoadBootstrapYAML(path string, logger *zap.Logger) ([]BootstrapEntry, error) {
	if filepath.IsAbs(path) {
		logger.Warn("Using absolute path for sessions file", zap.String("path", path))
	}

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	entries := make([]BootstrapEntry, 0, len(file.Sessions))
	for _, entry := range file.Sessions {
		if entry.Name == "" || entry.Trader == "" {
			logger.Warn("Skipping session with missing required fields",
				zap.String("name", entry.Name),
				zap.String("trader", entry.Trader))
			continue
		}

		if entry.Config.Strategy == "" {
			entry.Config.Strategy = "idle"
		}

		if err := entry.Config.Validate(); err != nil {
			logger.Warn("Skipping invalid session",
				zap.String("name", entry.Name),
				zap.Error(err))
			continue
		}

		entries = append(entries, entry)
	}

	logger.Info("Loaded bootstrap sessions", zap.Int("count", len(entries)))
	return entries, nil
}
