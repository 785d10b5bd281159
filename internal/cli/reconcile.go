package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"course-progression-engine/internal/config"
	"course-progression-engine/internal/logger"
	"course-progression-engine/internal/retry"
)

// NewReconcileCmd runs one enrollment reconcile outside the server.
func NewReconcileCmd(configPath *string) *cobra.Command {
	var (
		sessionID   string
		email       string
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Sync a confirmed checkout session into an enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			rt, err := buildRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			var extra []retry.Option
			if maxAttempts > 0 {
				extra = append(extra, retry.WithMaxAttempts(maxAttempts))
			}
			res, err := rt.reconciler.Reconcile(cmd.Context(), sessionID, email, extra...)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id")
	cmd.Flags().StringVar(&email, "email", "", "purchaser email (defaults to the session's email)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override enrollment.maxAttempts")
	return cmd
}
