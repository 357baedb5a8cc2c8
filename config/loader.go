package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "SAGAFLOW_"
	// EnvNestingSeparator separates nesting levels in environment variable
	// names: SAGAFLOW_EXECUTOR__BACKOFF__MAX is executor.backoff.max.
	EnvNestingSeparator = "__"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// DefaultSearchPaths are tried in order when no config file is given.
var DefaultSearchPaths = []string{
	"sagaflow.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/sagaflow.yaml",
	"/etc/sagaflow/config.yaml",
}

// Loader merges defaults, one config file, SAGAFLOW_ environment variables
// and command line overrides, later layers winning key by key.
type Loader struct {
	mu          sync.Mutex
	k           *koanf.Koanf
	searchPaths []string
	envPrefix   string
	source      string
	overrides   map[string]interface{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSearchPaths replaces DefaultSearchPaths.
func WithSearchPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.searchPaths = paths
	}
}

// WithEnvPrefix replaces EnvPrefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// NewLoader creates a configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:           koanf.New(Delimiter),
		searchPaths: DefaultSearchPaths,
		envPrefix:   EnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type layer struct {
	name string
	load func(k *koanf.Koanf) error
}

// Load builds a validated Config. An explicit configPath must exist; without
// one the first readable search path is used, if any. Overrides are kept for
// Reload.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(configPath, overrides)
}

// Reload loads configPath again with the overrides of the previous Load.
func (l *Loader) Reload(configPath string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(configPath, l.overrides)
}

// Source returns the config file used by the last successful load, or "".
func (l *Loader) Source() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// Value returns the merged value of key after the last load.
func (l *Loader) Value(key string) interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.k.Get(key)
}

func (l *Loader) load(configPath string, overrides map[string]interface{}) (*Config, error) {
	defaults := flatten(DefaultConfig())

	source := configPath
	if source == "" {
		source = l.discover()
	}

	layers := []layer{
		{"defaults", func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(defaults, Delimiter), nil)
		}},
		{"file", func(k *koanf.Koanf) error {
			if source == "" {
				return nil
			}
			return loadFile(k, source)
		}},
		{"env", func(k *koanf.Koanf) error {
			return k.Load(env.Provider(l.envPrefix, Delimiter, l.envKey), nil)
		}},
		{"overrides", func(k *koanf.Koanf) error {
			if len(overrides) == 0 {
				return nil
			}
			return k.Load(confmap.Provider(overrides, Delimiter), nil)
		}},
		// A file can null out a section; put its defaults back.
		{"defaults", func(k *koanf.Koanf) error {
			for key, value := range defaults {
				if k.Get(key) != nil {
					continue
				}
				if err := k.Set(key, value); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}
			return nil
		}},
	}

	// A fresh tree per load, so a reload drops keys removed from the file.
	k := koanf.New(Delimiter)
	for _, ly := range layers {
		if err := ly.load(k); err != nil {
			return nil, fmt.Errorf("config: %s: %w", ly.name, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	l.k = k
	l.source = source
	l.overrides = overrides
	return &cfg, nil
}

func (l *Loader) discover() string {
	for _, path := range l.searchPaths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func (l *Loader) envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, l.envPrefix))
	return strings.ReplaceAll(key, strings.ToLower(EnvNestingSeparator), Delimiter)
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported format %q", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// flatten turns a config struct into dotted mapstructure keys. Nil pointers
// and empty maps yield no key.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenInto(out, "", reflect.ValueOf(v))
	return out
}

func flattenInto(out map[string]interface{}, prefix string, v reflect.Value) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if !field.IsExported() || name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + Delimiter + name
		}

		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.Struct, reflect.Ptr:
			flattenInto(out, key, fv)
		case reflect.Map:
			if fv.Len() > 0 {
				out[key] = fv.Interface()
			}
		default:
			out[key] = fv.Interface()
		}
	}
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
