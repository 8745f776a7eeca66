package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the control-plane database",
		Long: `Create the control-plane database and apply schema migrations.

Running init against an existing database applies any pending
migrations and is otherwise a no-op.`,
		Example: `  # Initialize the default database
  tempest init

  # Initialize at a custom path
  tempest init --db /var/lib/tempest/tempest.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("db", databasePath).Msg("Initializing control plane")

			s, err := store.NewSQLiteStore(store.Config{Path: databasePath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := s.Init(ctx); err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Printf("✓ Initialized database: %s\n", databasePath)
			return nil
		},
	}

	return cmd
}
