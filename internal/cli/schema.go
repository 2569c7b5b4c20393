package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/metashelf/internal/schema"
)

func newSchemaCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the resolved schema of the model",
		Long: `Show the model's schema after overrides are applied. With --watch the
schema is printed again whenever its declaration file in the schema
directory changes, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				out := cmd.OutOrStdout()
				if err := s.printSchema(cmd.Context(), out); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return schema.WatchDir(ctx, s.settings.Config.SchemaDir, &reprinter{s: s, ctx: ctx, out: out}, s.logger)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "print again when the declaration changes")
	return cmd
}

func (s *session) printSchema(ctx context.Context, out io.Writer) error {
	sch, err := s.Schema(ctx, s.Model())
	if err != nil {
		return err
	}
	return printJSON(out, sch)
}

// reprinter drops the cached schema and, for the session's model, prints
// the re-resolved one.
type reprinter struct {
	s   *session
	ctx context.Context
	out io.Writer
}

func (r *reprinter) Invalidate(modelID string) {
	r.s.Resolver().Invalidate(modelID)
	if modelID != r.s.Model() {
		return
	}
	if err := r.s.printSchema(r.ctx, r.out); err != nil {
		r.s.logger.Warn("schema reload failed", "model", modelID, "error", err)
	}
}
