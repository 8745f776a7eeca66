package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/dispatch"
	"github.com/tempest-orch/tempest/pkg/store"
	"github.com/tempest-orch/tempest/pkg/telemetry"
)

func newObserveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observe [group]",
		Short: "Dispatch recipes for membership changes",
		Long: `Re-evaluate group membership, compare it with the last dispatched
snapshot, and create triggers for matching recipes. With no argument,
every group is observed. Observing an unchanged group creates nothing,
so the command is safe to run repeatedly.`,
		Example: `  # React to changes in one group
  tempest observe web

  # Sweep all groups
  tempest observe`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				log, err := telemetry.NewLogger(telemetry.DefaultLoggingConfig())
				if err != nil {
					return err
				}
				dispatcher := dispatch.NewDispatcher(s, log)

				var groups []string
				if len(args) == 1 {
					groups = args
				} else {
					all, err := s.ListGroups(ctx)
					if err != nil {
						return err
					}
					for _, g := range all {
						groups = append(groups, g.Name)
					}
				}

				total := 0
				for _, group := range groups {
					triggers, err := dispatcher.Observe(ctx, group)
					if err != nil {
						return fmt.Errorf("failed to observe group %s: %w", group, err)
					}
					for _, t := range triggers {
						fmt.Printf("✓ Dispatched trigger: %s (%s)\n", t.ID, t.Name)
					}
					total += len(triggers)
				}
				if total == 0 {
					fmt.Println("No membership changes")
				}
				return nil
			})
		},
	}

	return cmd
}
