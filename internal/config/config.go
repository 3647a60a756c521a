// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads and validates Gatehouse configuration.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatehouse/gatehouse/internal/account"
)

// Config is the explicit application configuration threaded into each
// component at construction. No component reads ambient global state.
type Config struct {
	Database      Database      `koanf:"database"`
	SMTP          SMTP          `koanf:"smtp"`
	Auth          Auth          `koanf:"auth"`
	Observability Observability `koanf:"observability"`
	LogFormat     string        `koanf:"log_format"`
}

// Database holds connection settings.
type Database struct {
	URL string `koanf:"url"`
}

// SMTP holds mail delivery settings.
type SMTP struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// Auth holds hashing cost parameters and token validity windows.
type Auth struct {
	SessionValidity time.Duration `koanf:"session_validity"`
	LoginValidity   time.Duration `koanf:"login_validity"`
	ChangeValidity  time.Duration `koanf:"change_validity"`
	SudoWindow      time.Duration `koanf:"sudo_window"`
	Argon2          Argon2        `koanf:"argon2"`
}

// Argon2 holds argon2id cost parameters. Zero values use the defaults.
type Argon2 struct {
	Time        uint32 `koanf:"time"`
	MemoryKB    uint32 `koanf:"memory_kb"`
	Parallelism uint8  `koanf:"parallelism"`
}

// Observability holds the metrics/health listen address.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Default values.
const (
	defaultLogFormat = "json"
	defaultSMTPPort  = 587
)

// Load reads configuration from an optional YAML file, overlaid with any
// matching command-line flags. Either source may be absent.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load config file").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort
	}
	if c.Auth.SessionValidity == 0 {
		c.Auth.SessionValidity = account.DefaultSessionValidity
	}
	if c.Auth.LoginValidity == 0 {
		c.Auth.LoginValidity = account.DefaultLoginValidity
	}
	if c.Auth.ChangeValidity == 0 {
		c.Auth.ChangeValidity = account.DefaultChangeValidity
	}
	if c.Auth.SudoWindow == 0 {
		c.Auth.SudoWindow = account.DefaultSudoWindow
	}
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").
			Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Auth.SessionValidity < 0 || c.Auth.LoginValidity < 0 || c.Auth.ChangeValidity < 0 || c.Auth.SudoWindow < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("token validity windows must be non-negative")
	}
	return nil
}

// TokenValidity converts the auth windows to the account package form.
func (c *Config) TokenValidity() account.TokenValidity {
	return account.TokenValidity{
		Session:    c.Auth.SessionValidity,
		Login:      c.Auth.LoginValidity,
		Change:     c.Auth.ChangeValidity,
		SudoWindow: c.Auth.SudoWindow,
	}
}

// Argon2Params converts the argon2 cost settings to the account package
// form. Zero fields fall back to the hasher defaults.
func (c *Config) Argon2Params() account.Argon2Params {
	return account.Argon2Params{
		Time:        c.Auth.Argon2.Time,
		Memory:      c.Auth.Argon2.MemoryKB,
		Parallelism: c.Auth.Argon2.Parallelism,
	}
}
