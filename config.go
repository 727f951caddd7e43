package apyserver

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// fileConfig mirrors the single-section configuration file format
// (spec.md §6 "Configuration"): one [asyncapy] table carrying the same
// keys as Config, all optional.
type fileConfig struct {
	AsyncAPY struct {
		Addr         string `toml:"addr"`
		Port         int    `toml:"port"`
		Buf          int    `toml:"buf"`
		Timeout      int    `toml:"timeout"`
		HeaderSize   int    `toml:"header_size"`
		ByteOrder    string `toml:"byteorder"`
		Encoding     string `toml:"encoding"`
		SessionLimit int    `toml:"session_limit"`
		LoggingLevel string `toml:"logging_level"`
	} `toml:"asyncapy"`
}

// LoadConfigFile reads path and applies any keys it sets to a non-zero number
// or non-empty string onto cfg, leaving everything else untouched. This
// matches AsyncAPY.load_config()'s fallback=None behavior: an absent key
// never overwrites the caller's default; a key set to 0 or "" is treated as
// absent.
func LoadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("apyserver: read config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("apyserver: parse config: %w", err)
	}
	section := fc.AsyncAPY

	if section.Addr != "" {
		cfg.Addr = section.Addr
	}
	if section.Port != 0 {
		cfg.Port = section.Port
	}
	if section.Buf != 0 {
		cfg.Buf = section.Buf
	}
	if section.Timeout != 0 {
		cfg.Timeout = time.Duration(section.Timeout) * time.Second
	}
	if section.HeaderSize != 0 {
		cfg.HeaderSize = section.HeaderSize
	}
	if section.ByteOrder != "" {
		switch section.ByteOrder {
		case "big":
			cfg.BigEndian = true
		case "little":
			cfg.BigEndian = false
		default:
			return fmt.Errorf("apyserver: byteorder must be 'big' or 'little', got %q", section.ByteOrder)
		}
	}
	if section.Encoding != "" {
		switch section.Encoding {
		case "json":
			cfg.DefaultEncoding = EncodingText
		case "compact":
			cfg.DefaultEncoding = EncodingCompact
		default:
			return fmt.Errorf("apyserver: encoding must be 'json' or 'compact', got %q", section.Encoding)
		}
	}
	if section.SessionLimit != 0 {
		cfg.SessionLimit = section.SessionLimit
	}
	if section.LoggingLevel != "" {
		lvl, err := logrus.ParseLevel(section.LoggingLevel)
		if err != nil {
			return fmt.Errorf("apyserver: logging_level: %w", err)
		}
		cfg.LoggingLevel = lvl
	}

	return nil
}
