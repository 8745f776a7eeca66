package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newReapCommand() *cobra.Command {
	var (
		window     time.Duration
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Recover stale triggers once",
		Long: `Scan for running triggers whose heartbeat stopped and return them to
pending, or fail them once the retry budget is exhausted. Worker
processes run this continuously; the command is a one-shot sweep.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				stale, err := s.ListStaleTriggers(ctx, window)
				if err != nil {
					return err
				}

				for _, t := range stale {
					recovered, err := s.RecoverStaleTrigger(ctx, t.ID, window, maxRetries)
					if err != nil {
						if model.IsStale(err) || model.IsNotFound(err) {
							continue
						}
						return err
					}
					if recovered {
						fmt.Printf("✓ Recovered trigger: %s (%s)\n", t.ID, t.Name)
					} else {
						fmt.Printf("✗ Failed trigger after retry budget: %s (%s)\n", t.ID, t.Name)
					}
				}
				if len(stale) == 0 {
					fmt.Println("No stale triggers")
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", model.DefaultStalenessWindow, "staleness window")
	cmd.Flags().IntVar(&maxRetries, "max-retries", model.MaxTriggerRetries, "recovery budget before failing a trigger")

	return cmd
}
