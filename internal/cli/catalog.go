package cli

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"course-progression-engine/internal/config"
	"course-progression-engine/internal/infra/catalogfile"
	"course-progression-engine/internal/infra/postgres"
	"course-progression-engine/internal/logger"
)

// NewCatalogCmd groups content catalog maintenance commands.
func NewCatalogCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and publish the content catalog",
	}
	cmd.AddCommand(newCatalogValidateCmd(), newCatalogPublishCmd(configPath))
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Parse and validate a catalog YAML file (the embedded default when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := catalogfile.NewLoader(path).LoadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog %q ok: %d modules, %d lessons, %d days\n",
				c.Version, len(c.Modules), c.TotalLessons(), len(c.Days))
			return nil
		},
	}
}

func newCatalogPublishCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [file]",
		Short: "Store a catalog YAML file in Postgres as the newest version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			log, err := logger.New(cfg.Log.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			c, err := catalogfile.NewLoader(path).LoadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := postgres.NewCatalogLoader(pool).Publish(cmd.Context(), c); err != nil {
				return err
			}
			log.Info("catalog published", "version", c.Version, "modules", len(c.Modules))
			return nil
		},
	}
}
