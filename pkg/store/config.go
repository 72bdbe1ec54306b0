package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Config holds the configuration for the Badger-backed archive.
type Config struct {
	// DataDir is the directory where the archive stores its data.
	DataDir string

	// InMemory enables in-memory mode (useful for testing).
	InMemory bool

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64

	// IndexCacheSize is the size of the index cache in bytes.
	IndexCacheSize int64

	// Compression enables ZSTD compression.
	Compression bool

	// SyncWrites enables synchronous writes. Ingestion runs enable this so
	// that a crash cannot drop records the pipeline already reported.
	SyncWrites bool

	// ReadOnly opens the archive in read-only mode (serving).
	ReadOnly bool

	// BypassLockGuard allows opening an archive another process holds open.
	BypassLockGuard bool

	// Profile selects the resource profile ("archive", "low-mem").
	// Defaults to "archive" if empty.
	Profile string
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("DataDir must be specified when InMemory is false")
	}
	if c.BlockCacheSize < 0 {
		return fmt.Errorf("BlockCacheSize must be non-negative, got %d", c.BlockCacheSize)
	}
	if c.IndexCacheSize < 0 {
		return fmt.Errorf("IndexCacheSize must be non-negative, got %d", c.IndexCacheSize)
	}
	return nil
}

// DefaultConfig returns a configuration suited to a single-clinic archive.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		BlockCacheSize: 256 << 20,
		IndexCacheSize: 128 << 20,
		Compression:    true,
		Profile:        "archive",
	}
}

// buildBadgerOptions converts Config to badger.Options based on Profile.
func buildBadgerOptions(cfg *Config) badger.Options {
	if cfg.InMemory {
		opts := badger.DefaultOptions("")
		opts.InMemory = true
		return opts
	}

	opts := badger.DefaultOptions(cfg.DataDir)
	opts.BypassLockGuard = cfg.BypassLockGuard
	opts.ReadOnly = cfg.ReadOnly
	opts.BloomFalsePositive = 0.01

	if cfg.Compression {
		opts.Compression = options.ZSTD
	} else {
		opts.Compression = options.None
	}

	switch cfg.Profile {
	case "low-mem":
		// Small value log and few compactors for 512MB-1GB environments.
		opts.ValueLogFileSize = 32 << 20
		opts.NumCompactors = 2
		opts.IndexCacheSize = 64 << 20
	case "archive":
		fallthrough
	default:
		opts.ValueLogFileSize = 256 << 20
		opts.NumCompactors = 4
	}

	opts.BlockCacheSize = cfg.BlockCacheSize
	opts.IndexCacheSize = cfg.IndexCacheSize
	opts.SyncWrites = cfg.SyncWrites

	return opts
}

// openBadgerDB opens a BadgerDB instance with the given configuration.
func openBadgerDB(cfg *Config) (*badger.DB, error) {
	return badger.Open(buildBadgerOptions(cfg))
}
