// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package config holds the typed configuration tree for svxlink-go.
// Building a configuration language is an explicit non-goal of the
// design (spec.md §1), so this package is intentionally thin: a struct,
// defaults, and a YAML loader. It does not parse the original SvxLink
// .conf INI dialect.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Directory holds the EchoLink directory client (C2) configuration.
type Directory struct {
	Servers     []string      `yaml:"servers"`
	Port        int           `yaml:"port"`
	Callsign    string        `yaml:"callsign"`
	Password    string        `yaml:"password"`
	Description string        `yaml:"description"`
	RefreshTime time.Duration `yaml:"refresh_time"`
}

// Proxy holds the optional proxy-tunnel (C3) configuration.
type Proxy struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Callsign string `yaml:"callsign"`
	Password string `yaml:"password"`
}

// Dispatcher holds the UDP session dispatcher (C4) configuration.
type Dispatcher struct {
	BindAddr  string `yaml:"bind_addr"`
	AudioPort int    `yaml:"audio_port"`
	CtrlPort  int    `yaml:"ctrl_port"`
}

// Qso holds per-peer-session (C5) defaults.
type Qso struct {
	LocalCallsign string `yaml:"local_callsign"`
	LocalName     string `yaml:"local_name"`
	GSMOnly       bool   `yaml:"gsm_only"`
}

// RemoteTrx holds the RemoteTrx framing server (C6) configuration.
type RemoteTrx struct {
	ListenAddr      string        `yaml:"listen_addr"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
	MaxFrameSize    int           `yaml:"max_frame_size"`
	// Siglev is the signal level reported on the adapter's simulated
	// squelch-open events in the absence of real hardware.
	Siglev float64 `yaml:"siglev"`
}

// VoterRx names one sub-receiver a Voter (C8) fronts.
type VoterRx struct {
	Name         string `yaml:"name"`
	BufferLength int    `yaml:"buffer_length"`
}

// Voter holds the receiver-voter (C8) configuration, matching the six
// parameters named in spec.md §4.8.
type Voter struct {
	VotingDelay         time.Duration `yaml:"voting_delay"`
	BufferLength        time.Duration `yaml:"buffer_length"`
	Hysteresis          float64       `yaml:"hysteresis_db"`
	SqlCloseRevoteDelay time.Duration `yaml:"sql_close_revote_delay"`
	RxSwitchDelay       time.Duration `yaml:"rx_switch_delay"`
	RevoteInterval      time.Duration `yaml:"revote_interval"`
	Receivers           []VoterRx     `yaml:"receivers"`
}

// LogLevel selects the slog level setupLogger configures tint with.
type LogLevel string

// Log levels accepted in the YAML configuration.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Observability holds the ambient metrics/tracing/status-feed toggles.
type Observability struct {
	MetricsListenAddr    string   `yaml:"metrics_listen_addr"`
	StatusFeedListenAddr string   `yaml:"status_feed_listen_addr"`
	OTLPEndpoint         string   `yaml:"otlp_endpoint"`
	RedisAddr            string   `yaml:"redis_addr"`
	LogLevel             LogLevel `yaml:"log_level"`
}

// Config is the top-level configuration tree.
type Config struct {
	Directory     Directory     `yaml:"directory"`
	Proxy         Proxy         `yaml:"proxy"`
	Dispatcher    Dispatcher    `yaml:"dispatcher"`
	Qso           Qso           `yaml:"qso"`
	RemoteTrx     RemoteTrx     `yaml:"remote_trx"`
	Voter         Voter         `yaml:"voter"`
	Observability Observability `yaml:"observability"`
}

// Default returns a Config populated with the defaults named throughout
// spec.md (§4.2, §4.4, §4.6, §4.8, §6).
func Default() Config {
	return Config{
		Directory: Directory{
			Port:        5200,
			RefreshTime: 5 * time.Minute,
		},
		Dispatcher: Dispatcher{
			BindAddr:  "0.0.0.0",
			AudioPort: 5198,
			CtrlPort:  5199,
		},
		RemoteTrx: RemoteTrx{
			ListenAddr:      "0.0.0.0:5210",
			HeartbeatPeriod: 10 * time.Second,
			SilenceTimeout:  15 * time.Second,
			MaxFrameSize:    2048,
			Siglev:          9.5,
		},
		Voter: Voter{
			VotingDelay:         0,
			Hysteresis:          0,
			SqlCloseRevoteDelay: 0,
			RxSwitchDelay:       0,
			RevoteInterval:      5 * time.Second,
		},
		Observability: Observability{
			LogLevel: LogLevelInfo,
		},
	}
}

// Load reads and parses a YAML configuration file, applying Default()
// for any field the file leaves zero-valued where that would otherwise
// be unusable (ports, timeouts).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Voter.BufferLength == 0 {
		cfg.Voter.BufferLength = cfg.Voter.VotingDelay
	}
	if cfg.RemoteTrx.MaxFrameSize == 0 {
		cfg.RemoteTrx.MaxFrameSize = 2048
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = LogLevelInfo
	}
	return cfg, nil
}
