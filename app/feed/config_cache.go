package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var configExtensions = []string{".yml", ".yaml"}

// ConfigCache holds the calendar feed definitions found in the feeds
// directory. Each file defines one feed named after the file.
type ConfigCache struct {
	feedsDir string

	mu      sync.RWMutex
	configs map[string]*Config
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		configs:  make(map[string]*Config),
	}
}

// Run loads every definition in the directory. A missing directory means no
// calendar feeds; a single invalid file fails the whole load.
func (cc *ConfigCache) Run() error {
	entries, err := os.ReadDir(cc.feedsDir)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Feeds directory not found, no calendar feeds configured", "dir", cc.feedsDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read feeds directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		feedName, ok := feedNameFromFile(entry.Name())
		if !ok {
			continue
		}

		config, err := cc.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", entry.Name(), err)
		}

		slog.Debug("Feed definition loaded", "feed", feedName, "enabled", config.Settings.Enabled, "filters", len(config.Filters))
	}

	return nil
}

// LoadConfig (re)reads one feed definition and replaces the cached copy.
func (cc *ConfigCache) LoadConfig(feedName string) (*Config, error) {
	path, err := cc.findConfigFile(feedName)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	config.Name = feedName
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	cc.mu.Lock()
	cc.configs[feedName] = config
	cc.mu.Unlock()

	return config, nil
}

func (cc *ConfigCache) GetConfig(feedName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	if config, ok := cc.configs[feedName]; ok {
		return config, nil
	}
	return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
}

// GetConfigs returns a copy of the cache so callers may modify the map.
func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return maps.Clone(cc.configs)
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make(map[string]*Config)
	for name, config := range cc.configs {
		if config.Settings.Enabled {
			enabled[name] = config
		}
	}
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.configs)
}

func (cc *ConfigCache) findConfigFile(feedName string) (string, error) {
	for _, ext := range configExtensions {
		path := filepath.Join(cc.feedsDir, feedName+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no definition file for feed '%s' in %s", feedName, cc.feedsDir)
}

func feedNameFromFile(fileName string) (string, bool) {
	for _, ext := range configExtensions {
		if name, ok := strings.CutSuffix(fileName, ext); ok && name != "" {
			return name, true
		}
	}
	return "", false
}
