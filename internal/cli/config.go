package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/metashelf/internal/paths"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "METASHELF"

	cfgKeyBackend   = "backend"
	cfgKeyDataDir   = "data_dir"
	cfgKeySchemaDir = "schema_dir"
	cfgKeyDSN       = "dsn"
	cfgKeyModel     = "model"
	cfgKeyOverrides = "overrides_file"
	cfgKeyRegion    = "region"
	cfgKeyEndpoint  = "endpoint"
	cfgKeyLogLevel  = "log_level"

	defaultBackend = types.BackendMemory
)

// settings is everything a command needs from flags, environment and
// config.yaml.
type settings struct {
	Config    types.Config
	ConfigDir string
	LogLevel  slog.Level
}

// loadConfig reads config.yaml from configDir. A missing file is not an
// error. Flags win over METASHELF_* variables, which win over the file;
// directories follow paths' precedence instead.
func loadConfig(cmd *cobra.Command, configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, defaultBackend)
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	for _, key := range []string{cfgKeyBackend, cfgKeyDSN, cfgKeyModel, cfgKeyOverrides, cfgKeyRegion, cfgKeyEndpoint, cfgKeyLogLevel} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	bindings := map[string]string{
		cfgKeyBackend:   "backend",
		cfgKeyDSN:       "dsn",
		cfgKeyModel:     "model",
		cfgKeyOverrides: "overrides",
		cfgKeyLogLevel:  "log-level",
	}
	for key, flag := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// resolveSettings resolves directories and builds a validated Config.
func resolveSettings(cmd *cobra.Command) (*settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(cmd, configDir)
	if err != nil {
		return nil, err
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	schemaDir, err := paths.ResolveSchemaDir(flags.schemaDir, v.GetString(cfgKeySchemaDir), configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve schema dir: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(cfgKeyLogLevel))); err != nil {
		return nil, fmt.Errorf("%w: log level %q", errUsage, v.GetString(cfgKeyLogLevel))
	}

	cfg := types.Config{
		Backend:       strings.ToLower(v.GetString(cfgKeyBackend)),
		DataDir:       dataDir,
		DSN:           v.GetString(cfgKeyDSN),
		Model:         v.GetString(cfgKeyModel),
		OverridesFile: v.GetString(cfgKeyOverrides),
		SchemaDir:     schemaDir,
		Region:        v.GetString(cfgKeyRegion),
		Endpoint:      v.GetString(cfgKeyEndpoint),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	return &settings{Config: cfg, ConfigDir: configDir, LogLevel: level}, nil
}
