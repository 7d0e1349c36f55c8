package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/fsreconcile/internal/reconcile"
)

// Format identifies a task file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// Config represents one task file
type Config struct {
	Defaults Defaults `yaml:"defaults" toml:"defaults" json:"defaults"`
	Tasks    []Task   `yaml:"tasks" toml:"tasks" json:"tasks"`
}

// Defaults apply to every task that does not set the field itself
type Defaults struct {
	Nested bool `yaml:"nested" toml:"nested" json:"nested"`
}

// Task describes the desired state of one path
type Task struct {
	Name   string          `yaml:"name" toml:"name" json:"name"`
	Path   string          `yaml:"path" toml:"path" json:"path"`
	State  reconcile.State `yaml:"state" toml:"state" json:"state"`
	Nested *bool           `yaml:"nested" toml:"nested" json:"nested"`

	// Source is the file the task was loaded from.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Request converts the task into a reconciliation request
func (t Task) Request() reconcile.Request {
	nested := false
	if t.Nested != nil {
		nested = *t.Nested
	}
	return reconcile.Request{
		Path:   t.Path,
		State:  t.State,
		Nested: nested,
	}
}

// FormatFromPath picks the decoder for a task file by its extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported task file extension %q (use .yaml, .yml, .toml, .json, or .jsonc)", filepath.Ext(path))
	}
}

// Load reads and parses a task file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = ExpandPath(path)

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	for i := range cfg.Tasks {
		cfg.Tasks[i].Source = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes task file content, expands paths and applies defaults.
// Unknown keys are rejected in every format.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
		}
	case FormatJSON:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONC: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables and a leading ~ in task paths
func (c *Config) expandEnv() {
	for i := range c.Tasks {
		c.Tasks[i].Path = ExpandPath(c.Tasks[i].Path)
	}
}

// applyDefaults fills in unset task fields.
func (c *Config) applyDefaults() {
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Nested == nil {
			nested := c.Defaults.Nested
			t.Nested = &nested
		}
		if t.Name == "" && t.Path != "" && t.State.Valid() {
			t.Name = fmt.Sprintf("%s %s", t.State, t.Path)
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}

	for i, t := range c.Tasks {
		if strings.TrimSpace(t.Path) == "" {
			return fmt.Errorf("tasks[%d].path is required", i)
		}
		if !t.State.Valid() {
			return fmt.Errorf("tasks[%d].state is required (must be file, directory, or absent)", i)
		}
	}

	return nil
}

// ExpandPath expands environment variables and a leading ~ the way the
// shell would.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
