package machine

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/naoina/toml"

	"github.com/fortiblox/actorvm/pkg/engine/sbpf"
)

// Default configuration values.
const (
	DefaultMaxCallDepth       = 1024
	DefaultMaxBlocks          = 1024
	DefaultMaxBlockSize       = 1 << 20
	DefaultMemorySize         = 1 << 20
	DefaultModuleCacheSize    = 256
	DefaultValidationGasLimit = int64(10_000_000_000)
	DefaultNetworkVersion     = 21
)

// Blockstore backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendBolt   = "bolt"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid machine config")

// Config configures a Machine.
type Config struct {
	// NetworkVersion is reported to actors through vm.context.
	NetworkVersion uint

	// Epoch is the chain epoch messages are applied at.
	Epoch int64

	// BaseFee and CircSupply are decimal attoFIL amounts.
	BaseFee    string
	CircSupply string

	// MaxCallDepth bounds nested sends. The top-level call has depth 0.
	MaxCallDepth int

	// MaxBlocks bounds the block handles one invocation may hold.
	MaxBlocks int

	// MaxBlockSize bounds a single IPLD block.
	MaxBlockSize int

	// MemorySize is the linear memory given to each bytecode instance.
	MemorySize int

	// ModuleCacheSize is the number of parsed modules kept in memory.
	ModuleCacheSize int

	// ValidationGasLimit caps gas for the signature validation path.
	ValidationGasLimit int64

	// EnableActorInstall binds actor.install_actor.
	EnableActorInstall bool

	// Debug enables debug.log and debug.store_artifact.
	Debug bool

	// ArtifactDir is where debug artifacts are written.
	ArtifactDir string

	// Tracing records every gas charge in apply results.
	Tracing bool

	// Backend selects the blockstore used by the CLI.
	Backend string

	// StorePath is the on-disk location of the badger or bolt store.
	StorePath string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NetworkVersion:     DefaultNetworkVersion,
		BaseFee:            "100",
		CircSupply:         "0",
		MaxCallDepth:       DefaultMaxCallDepth,
		MaxBlocks:          DefaultMaxBlocks,
		MaxBlockSize:       DefaultMaxBlockSize,
		MemorySize:         DefaultMemorySize,
		ModuleCacheSize:    DefaultModuleCacheSize,
		ValidationGasLimit: DefaultValidationGasLimit,
		ArtifactDir:        "artifacts",
		Backend:            BackendMemory,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("%w: max call depth must be positive", ErrInvalidConfig)
	}

	if c.MaxBlocks <= 0 {
		return fmt.Errorf("%w: max blocks must be positive", ErrInvalidConfig)
	}

	if c.MaxBlockSize <= 0 {
		return fmt.Errorf("%w: max block size must be positive", ErrInvalidConfig)
	}

	if c.MemorySize <= sbpf.StackSize {
		return fmt.Errorf("%w: memory size must exceed the %d byte stack", ErrInvalidConfig, sbpf.StackSize)
	}

	if c.ModuleCacheSize <= 0 {
		return fmt.Errorf("%w: module cache size must be positive", ErrInvalidConfig)
	}

	if c.ValidationGasLimit <= 0 {
		return fmt.Errorf("%w: validation gas limit must be positive", ErrInvalidConfig)
	}

	if _, err := big.FromString(c.BaseFee); err != nil {
		return fmt.Errorf("%w: base fee %q: %v", ErrInvalidConfig, c.BaseFee, err)
	}

	if _, err := big.FromString(c.CircSupply); err != nil {
		return fmt.Errorf("%w: circulating supply %q: %v", ErrInvalidConfig, c.CircSupply, err)
	}

	switch c.Backend {
	case BackendMemory:
	case BackendBadger, BackendBolt:
		if c.StorePath == "" {
			return fmt.Errorf("%w: %s backend needs a store path", ErrInvalidConfig, c.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	return nil
}

// Field names are used verbatim as TOML keys.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadConfig reads a TOML file over the defaults. Paths may reference
// environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ArtifactDir = os.ExpandEnv(cfg.ArtifactDir)
	cfg.StorePath = os.ExpandEnv(cfg.StorePath)
	return cfg, cfg.Validate()
}
