// Package config provides a reusable loader for engine configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/synnergy-radix/engine/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for an engine instance: where
// its substate database lives, how transactions are metered, and how deep
// the call-frame stack may grow.
type Config struct {
	Database struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"database" json:"database"`

	Costing struct {
		SystemLoanUnits      uint64  `mapstructure:"system_loan_units" json:"system_loan_units"`
		ExecutionUnitPrice   float64 `mapstructure:"execution_unit_price" json:"execution_unit_price"`
		FinalizationUnitPrice float64 `mapstructure:"finalization_unit_price" json:"finalization_unit_price"`
		StorageBytePrice     float64 `mapstructure:"storage_byte_price" json:"storage_byte_price"`
	} `mapstructure:"costing" json:"costing"`

	Limits struct {
		MaxCallDepth       uint32 `mapstructure:"max_call_depth" json:"max_call_depth"`
		MaxSubstateSize    uint32 `mapstructure:"max_substate_size" json:"max_substate_size"`
		MaxEventSize       uint32 `mapstructure:"max_event_size" json:"max_event_size"`
		MaxLogSize         uint32 `mapstructure:"max_log_size" json:"max_log_size"`
	} `mapstructure:"limits" json:"limits"`

	VM struct {
		FuelPerCostUnit uint64 `mapstructure:"fuel_per_cost_unit" json:"fuel_per_cost_unit"`
	} `mapstructure:"vm" json:"vm"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns a Config populated with the engine's built-in defaults,
// used when no YAML file is present (e.g. in unit tests).
func Default() Config {
	var c Config
	c.Database.Path = "./engine-data"
	c.Costing.SystemLoanUnits = 10_000_000
	c.Costing.ExecutionUnitPrice = 0.00000005
	c.Costing.FinalizationUnitPrice = 0.00000005
	c.Costing.StorageBytePrice = 0.0000001
	c.Limits.MaxCallDepth = 32
	c.Limits.MaxSubstateSize = 1_000_000
	c.Limits.MaxEventSize = 64_000
	c.Limits.MaxLogSize = 64_000
	c.VM.FuelPerCostUnit = 1
	c.Logging.Level = "info"
	return c
}

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded. Missing
// config files fall back to Default() rather than failing, since the engine
// is usable with no configuration on disk at all.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("engine")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	} else if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ENGINE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ENGINE_ENV", ""))
}
