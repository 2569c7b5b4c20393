package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/metashelf/internal/dynamo"
	"github.com/mesh-intelligence/metashelf/internal/manager"
	"github.com/mesh-intelligence/metashelf/internal/memory"
	"github.com/mesh-intelligence/metashelf/internal/schema"
	"github.com/mesh-intelligence/metashelf/internal/sqlstore"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// sqliteFileName is the database file created in the data directory when
// the sqlite backend has no DSN.
const sqliteFileName = "shelf.db"

// session is an open manager plus what commands need around it.
type session struct {
	*manager.Manager
	settings *settings
	logger   *slog.Logger
}

// Model returns the model id commands operate on.
func (s *session) Model() string {
	return s.settings.Config.ModelOrDefault()
}

// openSession resolves settings and opens the configured backend. The
// caller must Close the session.
func openSession(cmd *cobra.Command) (*session, error) {
	st, err := resolveSettings(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: st.LogLevel}))

	overrides, err := schema.ReadOverrides(st.Config.OverridesFile)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cmd.Context(), st.Config, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", st.Config.Backend, err)
	}
	logger.Debug("backend opened", "backend", st.Config.Backend, "model", st.Config.ModelOrDefault(), "overrides", len(overrides))

	m := manager.New(store, manager.WithOverrides(overrides), manager.WithLogger(logger))
	return &session{Manager: m, settings: st, logger: logger}, nil
}

// openStore builds the store for cfg.Backend.
func openStore(ctx context.Context, cfg types.Config, logger *slog.Logger) (types.Store, error) {
	loader := schema.FileLoader{Dir: cfg.SchemaDir}
	switch cfg.Backend {
	case types.BackendMemory:
		return memory.New(loader, memory.WithDataDir(cfg.DataDir), memory.WithLogger(logger))
	case types.BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, sqliteFileName)
		}
		return sqlstore.Open(ctx, "sqlite", dsn, sqlstore.WithLogger(logger))
	case types.BackendPostgres:
		return sqlstore.Open(ctx, "postgres", cfg.DSN, sqlstore.WithLogger(logger))
	case types.BackendDynamoDB:
		client, err := dynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return dynamo.New(client, loader, dynamo.WithLogger(logger)), nil
	}
	return nil, types.ErrBackendUnknown
}

// dynamoClient loads the default AWS credential chain. Endpoint points the
// client at DynamoDB Local or another compatible service.
func dynamoClient(ctx context.Context, cfg types.Config) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
