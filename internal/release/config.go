package release

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Config is the instance configuration stored at <root>/config.yaml.
//
// Cats points at the master category directory the instance is
// initialized from; Release is the target release number. Upgrade
// procedures are code, registered on the Manager, not configuration.
type Config struct {
	// Cats is the path to the master category directory. Relative paths
	// are resolved against the config file's directory.
	Cats string `yaml:"cats"`

	// Release is the target release number, non-negative. An instance
	// whose index carries a lower number needs the shadow upgrade cycle.
	Release int `yaml:"release"`
}

// LoadConfig reads and validates an instance config file. The Cats path
// comes back absolute.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Cats == "" {
		return Config{}, fmt.Errorf("config %s: cats directory is required", path)
	}
	if cfg.Release < 0 {
		return Config{}, fmt.Errorf("config %s: release must be non-negative", path)
	}
	if !filepath.IsAbs(cfg.Cats) {
		cfg.Cats = filepath.Join(filepath.Dir(path), cfg.Cats)
	}
	if fi, err := os.Stat(cfg.Cats); err != nil || !fi.IsDir() {
		return Config{}, fmt.Errorf("config %s: cats directory %s does not exist", path, cfg.Cats)
	}
	return cfg, nil
}

// Write stores the config atomically (write-to-temp-then-rename), so a
// crash never leaves a half-written config behind.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
