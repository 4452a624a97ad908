// Package config resolves front-end defaults (vault location, key
// derivation costs) from the environment, falling back to the library
// defaults when unset.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/hmz-labs/lockbox/krypto"
)

// Config holds the environment-tunable settings.
//
// Every field falls back to a safe default: the cost parameters default to
// krypto.DefaultParams, which are part of container format v1.
type Config struct {
	// VaultPath locates the container file.
	VaultPath string `env:"LOCKBOX_PATH" envDefault:"lockbox.vault"`

	// KDFTime overrides the Argon2id time cost.
	KDFTime uint32 `env:"LOCKBOX_KDF_TIME"`

	// KDFMemoryMiB overrides the Argon2id memory cost in MiB.
	KDFMemoryMiB uint32 `env:"LOCKBOX_KDF_MEMORY_MIB"`

	// KDFParallelism overrides the Argon2id lane count.
	KDFParallelism uint8 `env:"LOCKBOX_KDF_PARALLELISM"`
}

// Load reads configuration from the environment and validates the resulting
// cost parameters.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	defaults := krypto.DefaultParams()
	if cfg.KDFTime == 0 {
		cfg.KDFTime = defaults.Time
	}
	if cfg.KDFMemoryMiB == 0 {
		cfg.KDFMemoryMiB = defaults.MemoryMiB
	}
	if cfg.KDFParallelism == 0 {
		cfg.KDFParallelism = defaults.Parallelism
	}

	if err := cfg.Params().Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid key derivation settings: %w", err)
	}
	return cfg, nil
}

// Params assembles the configured Argon2id cost parameters.
func (c Config) Params() krypto.Params {
	return krypto.Params{
		Time:        c.KDFTime,
		MemoryMiB:   c.KDFMemoryMiB,
		Parallelism: c.KDFParallelism,
	}
}
