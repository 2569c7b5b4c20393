// Package cli implements the shelf command-line interface: generic
// list, count, get, create, update and delete over any container of any
// configured backend, driven entirely by the resolved schema.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errUsage marks argument errors.
var errUsage = errors.New("usage")

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	schemaDir string
	backend   string
	dsn       string
	model     string
	overrides string
	logLevel  string
}

var flags rootFlags

// NewRootCmd creates the top-level "shelf" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shelf",
		Short: "Schema-driven access to tables and collections",
		Long: `shelf lists, counts, reads and edits the entities of any container of a
model. Containers and their attributes come from the backend's schema
(database catalog or YAML declarations), adjusted by an overrides file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	pf.StringVar(&flags.schemaDir, "schema-dir", "", "schema declaration directory (default: <config-dir>/schemas)")
	pf.StringVar(&flags.backend, "backend", "", "backend: memory, sqlite, postgres or dynamodb")
	pf.StringVar(&flags.dsn, "dsn", "", "database connection string")
	pf.StringVarP(&flags.model, "model", "m", "", "model id")
	pf.StringVar(&flags.overrides, "overrides", "", "entity overrides file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newCountCmd())
	root.AddCommand(newGetCmd())
	root.AddCommand(newCreateCmd())
	root.AddCommand(newUpdateCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newSortersCmd())

	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "shelf:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode separates caller mistakes from system failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, types.ErrValidationFailed),
		errors.Is(err, types.ErrEntityNotFound),
		errors.Is(err, types.ErrContainerNotFound):
		return exitUserError
	}
	return exitSysError
}
