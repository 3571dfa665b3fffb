package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a config file syntax
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// OpenAIKeyEnv is consulted when transcription.openai_api_key is empty
const OpenAIKeyEnv = "OPENAI_API_KEY"

// Overrides are command-line values that win over the file
type Overrides struct {
	SourceRef              string
	RestartBudget          *int
	InactivityLimitSeconds *int
}

// Loader reads, overrides and validates configuration
type Loader struct {
	// LookupEnv defaults to os.LookupEnv
	LookupEnv func(key string) (string, bool)
	Overrides Overrides
}

// Load reads the file at path, or only defaults when path is empty
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		return l.finish(Default())
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := l.LoadFromReader(f, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes r on top of the defaults
func (l *Loader) LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := Default()
	switch format {
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return l.finish(cfg)
}

func (l *Loader) finish(cfg *Config) (*Config, error) {
	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if cfg.Transcription.OpenAIAPIKey == "" {
		if key, ok := lookup(OpenAIKeyEnv); ok {
			cfg.Transcription.OpenAIAPIKey = key
		}
	}

	if l.Overrides.SourceRef != "" {
		cfg.Source.Ref = l.Overrides.SourceRef
	}
	if l.Overrides.RestartBudget != nil {
		cfg.Session.RestartBudget = *l.Overrides.RestartBudget
	}
	if l.Overrides.InactivityLimitSeconds != nil {
		cfg.Supervisor.InactivityLimitSeconds = *l.Overrides.InactivityLimitSeconds
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FormatFromPath picks the syntax from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}
