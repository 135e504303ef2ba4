package bus

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backend selects the append-log implementation backing the bus.
type Backend string

const (
	// BackendFile stores each partition as a JSON-lines file.
	BackendFile Backend = "file"

	// BackendSQLite stores all partitions in one embedded SQLite database.
	BackendSQLite Backend = "sqlite"

	// BackendMemory keeps everything in process memory. Used for tests
	// and embedding.
	BackendMemory Backend = "memory"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultMaxPayloadBytes = 64 * 1024
	DefaultSeenLimit       = 10_000
	DefaultLockTimeout     = 5 * time.Second
	DefaultHandlerTimeout  = 30 * time.Second
	DefaultStderrLimit     = 4 * 1024
)

// Config carries every tunable of the bus. It is passed explicitly at
// construction; the bus never reads ambient global state.
type Config struct {
	// Dir is the storage root. Partition files, the registry, the
	// dead-letter sink, idempotency sets, and offsets all live under it
	// unless individually overridden.
	Dir string

	// DeadLetterPath overrides the dead-letter sink location.
	// Defaults to <Dir>/deadletter.jsonl.
	DeadLetterPath string

	// RegistryPath overrides the handler registry location.
	// Defaults to <Dir>/registry.json.
	RegistryPath string

	// Backend selects the store implementation (default BackendFile).
	Backend Backend

	// SQLitePath is the database file for BackendSQLite.
	// Defaults to <Dir>/relay.db.
	SQLitePath string

	// MaxPayloadBytes bounds the serialized event data (default 64 KiB).
	MaxPayloadBytes int

	// SeenLimit bounds each consumer's idempotency set (default 10,000).
	// When exceeded, the oldest half is discarded.
	SeenLimit int

	// LockTimeout bounds every advisory-lock wait (default 5s).
	LockTimeout time.Duration

	// HandlerTimeout bounds each handler invocation (default 30s).
	// A hanging consumer cannot stall the producer past this.
	HandlerTimeout time.Duration

	// StderrLimit bounds the diagnostic output captured per handler
	// invocation (default 4 KiB).
	StderrLimit int
}

// Environment override names. All optional; ConfigFromEnv applies them on
// top of defaults so deployments can relocate storage without code change.
const (
	EnvDir            = "RELAY_DIR"
	EnvDeadLetterPath = "RELAY_DEADLETTER_PATH"
	EnvRegistryPath   = "RELAY_REGISTRY_PATH"
	EnvBackend        = "RELAY_BACKEND"
	EnvMaxPayload     = "RELAY_MAX_PAYLOAD_BYTES"
	EnvSeenLimit      = "RELAY_SEEN_LIMIT"
	EnvLockTimeout    = "RELAY_LOCK_TIMEOUT"
	EnvHandlerTimeout = "RELAY_HANDLER_TIMEOUT"
)

// DefaultConfig returns a Config rooted at dir with all defaults applied.
func DefaultConfig(dir string) Config {
	cfg := Config{Dir: dir}
	return cfg.withDefaults()
}

// ConfigFromEnv builds a Config from defaults plus RELAY_* environment
// overrides. dir is used when RELAY_DIR is unset.
func ConfigFromEnv(dir string) Config {
	if v := os.Getenv(EnvDir); v != "" {
		dir = v
	}
	cfg := Config{Dir: dir}
	if v := os.Getenv(EnvDeadLetterPath); v != "" {
		cfg.DeadLetterPath = v
	}
	if v := os.Getenv(EnvRegistryPath); v != "" {
		cfg.RegistryPath = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv(EnvMaxPayload); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv(EnvSeenLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SeenLimit = n
		}
	}
	if v := os.Getenv(EnvLockTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LockTimeout = d
		}
	}
	if v := os.Getenv(EnvHandlerTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HandlerTimeout = d
		}
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.DeadLetterPath == "" {
		c.DeadLetterPath = filepath.Join(c.Dir, "deadletter.jsonl")
	}
	if c.RegistryPath == "" {
		c.RegistryPath = filepath.Join(c.Dir, "registry.json")
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.Dir, "relay.db")
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.SeenLimit == 0 {
		c.SeenLimit = DefaultSeenLimit
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.StderrLimit == 0 {
		c.StderrLimit = DefaultStderrLimit
	}
	return c
}
