// Package config loads the process configuration. Files are YAML, each
// rendered first as a text/template with an env function, and are layered
// in the order given.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	yaml "gopkg.in/yaml.v2"
)

// Size is a byte count written in humanized form, e.g. "1 MiB" or "64kB".
type Size uint64

func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return s.Set(raw)
}

// Set implements flag.Value.
func (s *Size) Set(raw string) error {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// Duration accepts Go duration strings such as "90s" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return d.Set(raw)
}

// Set implements flag.Value.
func (d *Duration) Set(raw string) error {
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// LogLevel wraps slog.Level for YAML decoding.
type LogLevel struct {
	slog.Level
}

func (l *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return l.Set(raw)
}

// Set implements flag.Value.
func (l *LogLevel) Set(raw string) error {
	if err := l.Level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return nil
}

// Config is the immutable process configuration.
type Config struct {
	StorageDir  string   `yaml:"storage_dir"`
	NameLength  int      `yaml:"name_length"`
	Listen      string   `yaml:"listen"`
	BaseURL     string   `yaml:"base_url"`
	MaxBytes    Size     `yaml:"max_bytes"`
	MaxAttempts int      `yaml:"max_attempts"`
	ReadMode    string   `yaml:"read_mode"`
	ReapEvery   Duration `yaml:"reap_interval"`
	ReapGrace   Duration `yaml:"reap_grace"`
	BehindProxy bool     `yaml:"behind_proxy"`
	LogLevel    LogLevel `yaml:"log_level"`
	Diagnostics bool     `yaml:"diagnostics"`
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		StorageDir:  "./pastes",
		NameLength:  5,
		Listen:      ":8080",
		MaxBytes:    1 << 20,
		MaxAttempts: 1000,
		ReadMode:    "stream",
		ReapEvery:   Duration(time.Hour),
		ReapGrace:   Duration(24 * time.Hour),
		LogLevel:    LogLevel{slog.LevelInfo},
	}
}

// Load layers the given files over Default.
func Load(files ...string) (Config, error) {
	c := Default()
	for _, file := range files {
		if err := c.appendFile(file); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return c, nil
}

func (c *Config) appendFile(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	tmpl, err := template.New(filename).Funcs(template.FuncMap{
		"env": func(key string) (string, error) {
			return os.Getenv(key), nil
		},
	}).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, c); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := yaml.UnmarshalStrict(buf.Bytes(), c); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks the values the store and server depend on.
func (c Config) Validate() error {
	if c.NameLength < 1 {
		return errors.New("name_length must be positive")
	}
	if c.MaxBytes == 0 {
		return errors.New("max_bytes must be positive")
	}
	if c.MaxBytes > math.MaxInt64 {
		return fmt.Errorf("max_bytes %s is too large", c.MaxBytes)
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be positive")
	}
	switch c.ReadMode {
	case "stream", "mmap":
	default:
		return fmt.Errorf("read_mode must be stream or mmap, got %q", c.ReadMode)
	}
	if c.ReapEvery < 0 || c.ReapGrace < 0 {
		return errors.New("reap durations must not be negative")
	}
	if c.StorageDir == "" {
		return errors.New("storage_dir required")
	}
	info, err := os.Stat(c.StorageDir)
	if err != nil {
		return fmt.Errorf("storage_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage_dir %s is not a directory", c.StorageDir)
	}
	if err := writable(c.StorageDir); err != nil {
		return fmt.Errorf("storage_dir %s is not writable: %w", c.StorageDir, err)
	}
	return nil
}
