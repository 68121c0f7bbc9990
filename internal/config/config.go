// Package config defines the enumerated configuration struct CAPFS exposes
// to its surrounding CLI collaborator (spec.md §6), loaded from a TOML file
// with github.com/BurntSushi/toml — the teacher pulls in BurntSushi/toml
// transitively; every backend that parses a typed options struct from text
// does so the same way (e.g. backend/sia/sia.go's Options via configstruct),
// so this promotes that indirect dependency to a direct one rather than
// hand-rolling a parser.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

// BaseSelection chooses how the manager picks the first data server in a
// file's stripe (spec.md §4.F open()).
type BaseSelection string

const (
	BaseRoundRobin BaseSelection = "round-robin"
	BaseRandom     BaseSelection = "random"
)

// Config is the struct enumerated in spec.md §6: "Configuration is passed as
// a struct with the enumerated options {data dir, log dir, log level, port,
// thread count, stripe size, base selection (round-robin|random), handle
// caching (on|off), chunk size, hcache size, consistency policy}."
type Config struct {
	ManagerID      int64         `toml:"manager_id"`
	DataDir        string        `toml:"data_dir"`
	LogDir         string        `toml:"log_dir"`
	LogLevel       string        `toml:"log_level"`
	Port           int           `toml:"port"`
	ThreadCount    int           `toml:"thread_count"`
	StripeSize     int64         `toml:"stripe_size"`
	BaseSelection  BaseSelection `toml:"base_selection"`
	CacheHandles   bool          `toml:"cache_handles"`
	ChunkSize      int64         `toml:"chunk_size"`
	HCacheSize     int           `toml:"hcache_size"`
	Policy         policy.Name   `toml:"consistency_policy"`
	RPCTimeout     time.Duration `toml:"rpc_timeout"`
	LegacyUnlink   bool          `toml:"legacy_unlink"`
	DataServers    []string      `toml:"data_servers"`
	ManagerAddr    string        `toml:"manager_addr"`
}

// Default returns the design defaults named throughout spec.md.
func Default() Config {
	return Config{
		ManagerID:     1,
		DataDir:       "/var/lib/capfs/data",
		LogDir:        "/var/log/capfs",
		LogLevel:      "info",
		Port:          7788,
		ThreadCount:   8,
		StripeSize:    capfs.ChunkSize,
		BaseSelection: BaseRoundRobin,
		CacheHandles:  false,
		ChunkSize:     capfs.ChunkSize,
		HCacheSize:    capfs.DefaultHCacheCount,
		Policy:        policy.Posix,
		RPCTimeout:    30 * time.Second,
		LegacyUnlink:  false,
	}
}

// Load reads a TOML config file over the defaults: any field absent from the
// file keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: decode %s", path)
	}
	return cfg, nil
}
