// Package config loads RAT's static tunables from an INI file, with
// environment variables layered on top so an operator can override one
// knob without hand-editing the file.
package config

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/ini.v1"
)

// Config holds the tunables a RAT endpoint needs at startup. The rat
// package does not read Config: a Socket always starts from its own
// defaults (rat.DefaultWindow, rat.ReplyTimeout, ...), and cmd/ratd uses
// the address, port, serve directory, backlog and window fields.
type Config struct {
	ListenAddress string        `ini:"listen_address" env:"RAT_LISTEN_ADDRESS"`
	ListenPort    int           `ini:"listen_port" env:"RAT_LISTEN_PORT"`
	Window        uint16        `ini:"window" env:"RAT_WINDOW"`
	MTU           int           `ini:"mtu" env:"RAT_MTU"`
	RetryBound    int           `ini:"retry_bound" env:"RAT_RETRY_BOUND"`
	ReplyTimeout  durationSecs  `ini:"reply_timeout_seconds" env:"RAT_REPLY_TIMEOUT_SECONDS"`
	ByeTimeout    durationSecs  `ini:"bye_timeout_seconds" env:"RAT_BYE_TIMEOUT_SECONDS"`
	ServeDir      string        `ini:"serve_dir" env:"RAT_SERVE_DIR"`
	Backlog       int           `ini:"backlog" env:"RAT_BACKLOG"`
}

// durationSecs is an integer number of seconds, kept distinct from
// time.Duration so the INI/env tags read as plain integers rather than
// Go duration strings.
type durationSecs int

// Default returns the built-in tunables, used when no file is given and
// no environment overrides are present.
func Default() *Config {
	return &Config{
		ListenAddress: "0.0.0.0",
		ListenPort:    9000,
		Window:        5,
		MTU:           512,
		RetryBound:    5,
		ReplyTimeout:  4,
		ByeTimeout:    1,
		ServeDir:      "serv_files",
		Backlog:       1,
	}
}

// Load reads path as an INI file into Config (starting from Default),
// then applies any RAT_* environment overrides. path may be empty, in
// which case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return nil, errors.Wrapf(err, "config: load %s", path)
		}
		if err := f.MapTo(cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
	}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, errors.Wrap(err, "config: apply environment overrides")
	}
	return cfg, nil
}
