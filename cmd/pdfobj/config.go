package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/security"
)

// fileConfig is the optional TOML file named by -config.
type fileConfig struct {
	Recovery   string       `toml:"recovery"`
	Duplicates string       `toml:"duplicates"`
	WindowSize int64        `toml:"window_size"`
	Limits     limitsConfig `toml:"limits"`
}

type limitsConfig struct {
	MaxDecompressedSize int64  `toml:"max_decompressed_size"`
	MaxIndirectDepth    int    `toml:"max_indirect_depth"`
	MaxXRefDepth        int    `toml:"max_xref_depth"`
	MaxNestingDepth     int    `toml:"max_nesting_depth"`
	MaxArraySize        int    `toml:"max_array_size"`
	MaxDictSize         int    `toml:"max_dict_size"`
	MaxStringLength     int64  `toml:"max_string_length"`
	MaxStreamLength     int64  `toml:"max_stream_length"`
	MaxObjectStreamSize int    `toml:"max_object_stream_size"`
	MaxDecodeTime       string `toml:"max_decode_time"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	return cfg, nil
}

func (c fileConfig) strategy() (recovery.Strategy, error) {
	switch c.Recovery {
	case "", "lenient":
		return recovery.NewLenientStrategy(), nil
	case "strict":
		return recovery.NewStrictStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown recovery mode %q", c.Recovery)
	}
}

func (c fileConfig) duplicates() (recovery.DuplicatePolicy, error) {
	switch c.Duplicates {
	case "", recovery.LastWins.String():
		return recovery.LastWins, nil
	case recovery.FirstWins.String():
		return recovery.FirstWins, nil
	default:
		return 0, fmt.Errorf("unknown duplicate policy %q", c.Duplicates)
	}
}

func (c limitsConfig) limits() (security.Limits, error) {
	l := security.Limits{
		MaxDecompressedSize: c.MaxDecompressedSize,
		MaxIndirectDepth:    c.MaxIndirectDepth,
		MaxXRefDepth:        c.MaxXRefDepth,
		MaxNestingDepth:     c.MaxNestingDepth,
		MaxArraySize:        c.MaxArraySize,
		MaxDictSize:         c.MaxDictSize,
		MaxStringLength:     c.MaxStringLength,
		MaxStreamLength:     c.MaxStreamLength,
		MaxObjectStreamSize: c.MaxObjectStreamSize,
	}
	if c.MaxDecodeTime != "" {
		d, err := time.ParseDuration(c.MaxDecodeTime)
		if err != nil {
			return l, fmt.Errorf("max_decode_time: %w", err)
		}
		l.MaxDecodeTime = d
	}
	return l.WithDefaults(), nil
}
