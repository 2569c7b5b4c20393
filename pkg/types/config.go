package types

import "errors"

// Config selects and parameterizes the store a Manager is built on.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	// DataDir holds JSONL snapshots for the memory backend and the
	// database file for sqlite when DSN is empty.
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// DSN is the database connection string for sqlite and postgres.
	DSN string `json:"dsn" yaml:"dsn"`
	// Model is the default model id.
	Model string `json:"model" yaml:"model"`
	// OverridesFile is an optional YAML file of EntityOverride records.
	OverridesFile string `json:"overrides_file" yaml:"overrides_file"`
	// SchemaDir holds static schema declarations (<model>.yaml). Required
	// for the memory and dynamodb backends, which cannot infer a schema.
	SchemaDir string `json:"schema_dir" yaml:"schema_dir"`
	// Region and Endpoint configure the dynamodb backend.
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Supported backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "default"

// Config validation errors.
var (
	ErrBackendEmpty     = errors.New("backend must not be empty")
	ErrBackendUnknown   = errors.New("unknown backend")
	ErrDSNRequired      = errors.New("dsn is required for this backend")
	ErrSchemaDirMissing = errors.New("schema_dir is required for this backend")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendMemory:   true,
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendDynamoDB: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	switch c.Backend {
	case BackendPostgres:
		if c.DSN == "" {
			return ErrDSNRequired
		}
	case BackendMemory, BackendDynamoDB:
		if c.SchemaDir == "" {
			return ErrSchemaDirMissing
		}
	}
	return nil
}

// ModelOrDefault returns c.Model, or DefaultModel when it is empty.
func (c Config) ModelOrDefault() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}
