package main

import (
	"flag"
	"strings"

	"flatpaste/internal/config"
)

type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// loadConfig reads the files named by -config, then applies any flag the
// user set explicitly on top.
func loadConfig(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("flatpaste", flag.ContinueOnError)

	var files fileList
	fs.Var(&files, "config", "YAML configuration file (repeatable, later files win)")

	flags := config.Default()
	fs.StringVar(&flags.StorageDir, "dir", flags.StorageDir, "paste storage directory")
	fs.IntVar(&flags.NameLength, "name-length", flags.NameLength, "identifier length")
	fs.StringVar(&flags.Listen, "addr", flags.Listen, "listen address")
	fs.StringVar(&flags.BaseURL, "base-url", flags.BaseURL, "canonical base URL (optional)")
	fs.Var(&flags.MaxBytes, "max-bytes", "maximum paste size, e.g. 1MiB")
	fs.IntVar(&flags.MaxAttempts, "max-attempts", flags.MaxAttempts, "identifier allocation attempt budget")
	fs.StringVar(&flags.ReadMode, "read-mode", flags.ReadMode, "read path: stream or mmap")
	fs.Var(&flags.ReapEvery, "reap-interval", "abandoned reservation sweep interval, 0 disables")
	fs.Var(&flags.ReapGrace, "reap-grace", "minimum age of an abandoned reservation before removal")
	fs.BoolVar(&flags.BehindProxy, "behind-proxy", flags.BehindProxy, "trust proxy headers for client address and scheme")
	fs.Var(&flags.LogLevel, "log-level", "debug, info, warn or error")
	fs.BoolVar(&flags.Diagnostics, "diagnostics", flags.Diagnostics, "start the gops diagnostics agent")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.StorageDir = flags.StorageDir
		case "name-length":
			cfg.NameLength = flags.NameLength
		case "addr":
			cfg.Listen = flags.Listen
		case "base-url":
			cfg.BaseURL = flags.BaseURL
		case "max-bytes":
			cfg.MaxBytes = flags.MaxBytes
		case "max-attempts":
			cfg.MaxAttempts = flags.MaxAttempts
		case "read-mode":
			cfg.ReadMode = flags.ReadMode
		case "reap-interval":
			cfg.ReapEvery = flags.ReapEvery
		case "reap-grace":
			cfg.ReapGrace = flags.ReapGrace
		case "behind-proxy":
			cfg.BehindProxy = flags.BehindProxy
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "diagnostics":
			cfg.Diagnostics = flags.Diagnostics
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
