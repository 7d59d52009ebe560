package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"service-notifications/internal/common/config"
	"service-notifications/internal/common/database"
	"service-notifications/internal/notifications/store"
	"service-notifications/pkg/seed"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "seed-loader",
		Short:         "Validate and load notification orchestration seed files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCommand())
	root.AddCommand(newImportCommand())
	root.AddCommand(newShowCommand())
	return root
}

// loadSeed reads path, or the embedded default when path is empty.
func loadSeed(path string) (*seed.Seed, error) {
	s, err := seed.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	if problems := s.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("seed is invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return s, nil
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [seed.json]",
		Short: "Check a seed file for dangling references and duplicate keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			s, err := loadSeed(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed OK: %d phases, %d service types, %d configs, %d templates, %d customers\n",
				len(s.Phases), len(s.ServiceTypes), len(s.Configs), len(s.Templates), len(s.Customers))
			return nil
		},
	}
}

func newImportCommand() *cobra.Command {
	var (
		configPath string
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "import [seed.json]",
		Short: "Upsert a seed file into the PostgreSQL rule tables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			s, err := loadSeed(path)
			if err != nil {
				return err
			}

			var cfg *config.Config
			if configPath != "" {
				cfg, err = config.LoadFromFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			defer pg.Close()

			ctx := cmd.Context()
			if err := pg.Ping(ctx); err != nil {
				return err
			}
			if migrate {
				if err := store.Migrate(ctx, pg.DB); err != nil {
					return err
				}
			}
			if err := store.ImportSeed(ctx, pg.DB, s); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d configs and %d templates into %s\n",
				len(s.Configs), len(s.Templates), cfg.Database.Postgres.Database)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a config YAML file (defaults to ./configs)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply the schema before importing")
	return cmd
}

func newShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [seed.json]",
		Short: "Print the phase/channel matrix of every config in a seed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			s, err := loadSeed(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			var rows [][]string
			for _, c := range s.Configs {
				workshop := c.WorkshopID
				if workshop == "" {
					workshop = "(global)"
				}
				for _, row := range c.Channels {
					rows = append(rows, []string{
						c.ID, c.ServiceTypeSlug, string(c.Audience), workshop,
						row.PhaseSlug, string(row.Channel), strconv.FormatBool(row.Enabled),
					})
				}
			}
			headers := []string{"Config", "Service Type", "Audience", "Workshop", "Phase", "Channel", "Enabled"}
			_, err = fmt.Fprintln(out, renderTable(headers, rows))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed seed as JSON")
	return cmd
}
