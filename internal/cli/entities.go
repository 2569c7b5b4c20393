package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, fn func(s *session) error) (err error) {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func newListCmd() *cobra.Command {
	var (
		where  []string
		sorts  []string
		offset int
		limit  int
		lookup bool
	)
	cmd := &cobra.Command{
		Use:   "list <container>",
		Short: "List entities of a container",
		Long: `List the entities of a container as JSON columns and rows.

Filters are attr[:op]=value and are ANDed together. Operations: eq (default),
ne, lt, le, gt, ge, contains, in (comma-separated values), isnull, notnull.
Sorters are attr, -attr or attr:desc; without any the container's default
ordering applies.`,
		Example: `  shelf list products
  shelf list products --where name:contains=bolt --sort -price --limit 10
  shelf list products --where id:in=1,2,3 --lookup`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(where)
			if err != nil {
				return err
			}
			opts := types.ListOptions{Filters: filters, Lookup: lookup}
			for _, expr := range sorts {
				s, err := parseSorter(expr)
				if err != nil {
					return err
				}
				opts.Sorters = append(opts.Sorters, s)
			}
			if cmd.Flags().Changed("offset") {
				opts.Offset = &offset
			}
			if cmd.Flags().Changed("limit") {
				opts.Limit = &limit
			}
			return withSession(cmd, func(s *session) error {
				rs, err := s.ListEntities(cmd.Context(), s.Model(), args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rs)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "filter attr[:op]=value (repeatable)")
	cmd.Flags().StringArrayVarP(&sorts, "sort", "s", nil, "sort by attr, -attr or attr:desc (repeatable)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	cmd.Flags().BoolVar(&lookup, "lookup", false, "return only key and lookup columns")
	return cmd
}

func newCountCmd() *cobra.Command {
	var (
		where  []string
		lookup bool
	)
	cmd := &cobra.Command{
		Use:   "count <container>",
		Short: "Count entities of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(where)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				n, err := s.CountEntities(cmd.Context(), s.Model(), args[0], filters, lookup)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "filter attr[:op]=value (repeatable)")
	cmd.Flags().BoolVar(&lookup, "lookup", false, "count as a lookup request")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <container> <key>",
		Short: "Show one entity",
		Long:  "Show one entity. Composite keys join their values with ':' in key order.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				rec, err := s.GetEntity(cmd.Context(), s.Model(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newCreateCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:     "create <container> [prop=value...]",
		Short:   "Create an entity",
		Example: `  shelf create products name=Widget price=9.5
  shelf create products --data '{"name":"Widget","price":9.5}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(args[1:], data)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				rec, err := s.CreateEntity(cmd.Context(), s.Model(), args[0], props)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "properties as a JSON object")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <container> <key> [prop=value...]",
		Short: "Change properties of an entity",
		Long:  "Change only the given properties of an entity. Use prop=null to clear a nullable property.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(args[2:], data)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				rec, err := s.UpdateEntity(cmd.Context(), s.Model(), args[0], args[1], props)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "properties as a JSON object")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <container> <key>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				if err := s.DeleteEntity(cmd.Context(), s.Model(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newSortersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sorters <container>",
		Short: "Show the default ordering of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				sorters, err := s.DefaultSorters(cmd.Context(), s.Model(), args[0])
				if err != nil {
					return err
				}
				if sorters == nil {
					sorters = []types.Sorter{}
				}
				return printJSON(cmd.OutOrStdout(), sorters)
			})
		},
	}
}
