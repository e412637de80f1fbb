// Package config loads the server configuration from an ini file, then applies
// environment overrides. Missing keys keep their defaults.
//
//	[server]
//	addr = 0.0.0.0:8888
//	max_connections = 1024
//	buffer_size = 512
//	codec = flatbuffers
//	framing = raw
//
//	[log]
//	level = info
//
//	[metrics]
//	addr = :9100
//
//	[registry]
//	endpoints = 127.0.0.1:2379,127.0.0.1:22379
package config

import (
	"os"
	"strconv"
	"time"

	"ackrpc/codec"
	"ackrpc/protocol"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// ServerConf configures the listener and the connection handlers.
type ServerConf struct {
	Addr           string        `ini:"addr"`
	AdvertiseAddr  string        `ini:"advertise_addr"`  // Address published to the registry; defaults to Addr
	MaxConnections int           `ini:"max_connections"` // 0 = unbounded
	BufferSize     int           `ini:"buffer_size"`
	Codec          string        `ini:"codec"`   // flatbuffers | proto
	Framing        string        `ini:"framing"` // raw | length
	StrictDecode   bool          `ini:"strict_decode"`
	IdleTimeout    time.Duration `ini:"idle_timeout"` // 0 = reads block forever
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level      string `ini:"level"`
	Format     string `ini:"format"` // console | json
	File       string `ini:"file"`
	MaxSizeMB  int    `ini:"max_size_mb"`
	MaxBackups int    `ini:"max_backups"`
	MaxAgeDays int    `ini:"max_age_days"`
}

type MetricsConf struct {
	Addr      string `ini:"addr"` // empty disables the /metrics endpoint
	Namespace string `ini:"namespace"`
}

type RegistryConf struct {
	Endpoints   []string      `ini:"endpoints" delim:","` // empty disables registration
	Service     string        `ini:"service"`
	Prefix      string        `ini:"prefix"`
	TTL         int64         `ini:"ttl"`
	Weight      int           `ini:"weight"` // share under weighted balancing
	DialTimeout time.Duration `ini:"dial_timeout"`
}

type Config struct {
	Server   ServerConf   `ini:"server"`
	Log      LogConf      `ini:"log"`
	Metrics  MetricsConf  `ini:"metrics"`
	Registry RegistryConf `ini:"registry"`
}

// Default returns the reference configuration: all interfaces, port 8888.
func Default() *Config {
	return &Config{
		Server: ServerConf{
			Addr:           "0.0.0.0:8888",
			MaxConnections: 1024,
			BufferSize:     512,
			Codec:          "flatbuffers",
			Framing:        "raw",
		},
		Log: LogConf{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 14,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConf{
			Namespace: "ackrpc",
		},
		Registry: RegistryConf{
			Service:     "ackrpc",
			Prefix:      "/ackrpc",
			TTL:         10,
			Weight:      1,
			DialTimeout: 5 * time.Second,
		},
	}
}

// Load reads fileName (skipped when empty) over the defaults, applies environment
// overrides and validates the result.
func Load(fileName string) (*Config, error) {
	cfg := Default()
	if fileName != "" {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return nil, errors.Wrapf(err, "load %s", fileName)
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return nil, errors.Wrapf(err, "map %s", fileName)
		}
	}
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv lets deployment tooling override selected keys without a config file.
func ApplyEnv(cfg *Config) {
	overrideFromEnvString(&cfg.Server.Addr, "ACKRPC_ADDR")
	overrideFromEnvInt(&cfg.Server.MaxConnections, "ACKRPC_MAX_CONNECTIONS")
	overrideFromEnvString(&cfg.Log.Level, "ACKRPC_LOG_LEVEL")
	overrideFromEnvString(&cfg.Metrics.Addr, "ACKRPC_METRICS_ADDR")
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.Wrap(ErrInvalid, "server.addr is empty")
	}
	if c.Server.BufferSize < 1 {
		return errors.Wrapf(ErrInvalid, "server.buffer_size %d", c.Server.BufferSize)
	}
	if c.Server.MaxConnections < 0 {
		return errors.Wrapf(ErrInvalid, "server.max_connections %d", c.Server.MaxConnections)
	}
	if c.Server.IdleTimeout < 0 {
		return errors.Wrapf(ErrInvalid, "server.idle_timeout %s", c.Server.IdleTimeout)
	}
	if _, err := codec.ParseCodecType(c.Server.Codec); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if _, err := protocol.ParseFramer(c.Server.Framing); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if len(c.Registry.Endpoints) > 0 && c.Registry.TTL < 1 {
		return errors.Wrapf(ErrInvalid, "registry.ttl %d", c.Registry.TTL)
	}
	if c.Registry.Weight < 0 {
		return errors.Wrapf(ErrInvalid, "registry.weight %d", c.Registry.Weight)
	}
	return nil
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
