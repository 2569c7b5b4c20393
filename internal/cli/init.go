package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/metashelf/internal/paths"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// configFile is the shape init writes to config.yaml.
type configFile struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	DataDir   string `yaml:"data_dir,omitempty"`
	SchemaDir string `yaml:"schema_dir,omitempty"`
	DSN       string `yaml:"dsn,omitempty"`
}

// exampleSchema is written to <schema dir>/<model>.yaml when no declaration
// exists, so the memory backend works straight after init.
const exampleSchema = `# Containers of this model. Used by the memory and dynamodb backends;
# sqlite and postgres read their catalog instead.
containers:
  - id: notes
    attributes:
      - prop: id
        type: int64
        key: true
        editable: false
      - prop: title
        show_in_lookup: true
        sorting: 1
      - prop: body
        type: memo
        nullable: true
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create configuration, schema and data directories",
		Long: `Create the configuration directory with a config.yaml, the schema
directory with an example declaration for the model, and the data directory.
Existing files are left untouched.`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	backend := flags.backend
	if backend == "" {
		backend = defaultBackend
	}
	model := flags.model
	if model == "" {
		model = types.DefaultModel
	}
	configPath := filepath.Join(configDir, paths.ConfigFileName)
	if err := writeConfigIfMissing(configPath, configFile{
		Backend:   backend,
		Model:     model,
		DataDir:   flags.dataDir,
		SchemaDir: flags.schemaDir,
		DSN:       flags.dsn,
	}); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	st, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	for _, dir := range []string{st.Config.DataDir, st.Config.SchemaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	declPath := filepath.Join(st.Config.SchemaDir, st.Config.ModelOrDefault()+".yaml")
	if err := writeIfMissing(declPath, []byte(exampleSchema)); err != nil {
		return fmt.Errorf("write example schema: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "config:", configPath)
	fmt.Fprintln(out, "schemas:", st.Config.SchemaDir)
	fmt.Fprintln(out, "data:", st.Config.DataDir)
	return nil
}

// writeConfigIfMissing writes cfg to path unless the file exists.
func writeConfigIfMissing(path string, cfg configFile) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeIfMissing(path, data)
}

func writeIfMissing(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
