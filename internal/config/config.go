// Package config loads the run configuration that sits alongside a
// pipeline graph: backoff defaults, node timeouts, where logs and
// checkpoints go, and where the HTTP API listens. Configs are strict
// YAML documents; unknown fields are a load error rather than a
// silently ignored typo.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anishkny/attractor/internal/attractor/engine"
)

// RunConfig is the top-level document a run is configured from.
type RunConfig struct {
	Version int `json:"version" yaml:"version"`

	LogsRoot  string `json:"logs_root,omitempty" yaml:"logs_root,omitempty"`
	PromptDir string `json:"prompt_dir,omitempty" yaml:"prompt_dir,omitempty"`

	Backoff BackoffConfig `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	DefaultNodeTimeoutMS int `json:"default_node_timeout_ms,omitempty" yaml:"default_node_timeout_ms,omitempty"`

	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// BackoffConfig mirrors engine.BackoffPolicy in config-file form, with
// fields optional so partially-specified configs only override what
// they name.
type BackoffConfig struct {
	InitialDelayMS *int     `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	BackoffFactor  *float64 `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`
	MaxDelayMS     *int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	Jitter         *bool    `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// HTTPConfig configures the optional HTTP surface (internal/httpapi).
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}

// Load reads and strictly decodes a RunConfig from path (YAML by
// default, JSON if the extension says so), then applies defaults and
// validates the result.
func Load(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	} else {
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *RunConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func decodeJSONStrict(b []byte, cfg *RunConfig) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

// ApplyDefaults fills in zero-value fields with the engine's own
// defaults, so an empty or partial config behaves the same as passing
// no config at all.
func ApplyDefaults(cfg *RunConfig) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.LogsRoot == "" {
		cfg.LogsRoot = "logs"
	}
	def := engine.DefaultBackoffPolicy()
	if cfg.Backoff.InitialDelayMS == nil {
		v := int(def.InitialDelay.Milliseconds())
		cfg.Backoff.InitialDelayMS = &v
	}
	if cfg.Backoff.BackoffFactor == nil {
		v := def.BackoffFactor
		cfg.Backoff.BackoffFactor = &v
	}
	if cfg.Backoff.MaxDelayMS == nil {
		v := int(def.MaxDelay.Milliseconds())
		cfg.Backoff.MaxDelayMS = &v
	}
	if cfg.Backoff.Jitter == nil {
		v := def.Jitter
		cfg.Backoff.Jitter = &v
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8080"
	}
}

// Validate checks the loaded config for internally-inconsistent values
// that ApplyDefaults cannot repair.
func Validate(cfg *RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.Backoff.InitialDelayMS != nil && *cfg.Backoff.InitialDelayMS < 0 {
		return fmt.Errorf("backoff.initial_delay_ms must be >= 0")
	}
	if cfg.Backoff.MaxDelayMS != nil && *cfg.Backoff.MaxDelayMS < 0 {
		return fmt.Errorf("backoff.max_delay_ms must be >= 0")
	}
	if cfg.Backoff.BackoffFactor != nil && *cfg.Backoff.BackoffFactor < 1 {
		return fmt.Errorf("backoff.backoff_factor must be >= 1")
	}
	if cfg.DefaultNodeTimeoutMS < 0 {
		return fmt.Errorf("default_node_timeout_ms must be >= 0")
	}
	return nil
}

// BackoffPolicy converts the config's backoff section into the
// engine's runtime policy type.
func (cfg *RunConfig) BackoffPolicy() engine.BackoffPolicy {
	def := engine.DefaultBackoffPolicy()
	p := def
	if cfg.Backoff.InitialDelayMS != nil {
		p.InitialDelay = msToDuration(*cfg.Backoff.InitialDelayMS)
	}
	if cfg.Backoff.BackoffFactor != nil {
		p.BackoffFactor = *cfg.Backoff.BackoffFactor
	}
	if cfg.Backoff.MaxDelayMS != nil {
		p.MaxDelay = msToDuration(*cfg.Backoff.MaxDelayMS)
	}
	if cfg.Backoff.Jitter != nil {
		p.Jitter = *cfg.Backoff.Jitter
	}
	return p
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
