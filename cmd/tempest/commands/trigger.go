package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

// waitPollInterval is the polling cadence of `trigger get --wait`.
const waitPollInterval = 1 * time.Second

func newTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
		Long: `Manage triggers: units of pending work that workers claim and execute.

Triggers move pending -> running -> done or error. Creating one by hand
fires the named recipe outside the automatic dispatch path.`,
	}

	cmd.AddCommand(newTriggerCreateCommand())
	cmd.AddCommand(newTriggerGetCommand())
	cmd.AddCommand(newTriggerListCommand())

	return cmd
}

func newTriggerCreateCommand() *cobra.Command {
	var (
		args []string
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a trigger",
		Example: `  # Fire a recipe manually
  tempest trigger create provision-web --arg component=node-4

  # Fire and wait for the outcome
  tempest trigger create provision-web --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			arguments, err := parseKeyValues(args)
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				t := &model.Trigger{Name: cmdArgs[0], Arguments: arguments}
				if err := s.CreateTrigger(ctx, t); err != nil {
					return err
				}

				if wait {
					t, err = waitForTrigger(ctx, s, t.ID)
					if err != nil {
						return err
					}
				}
				return printResult(t, func() {
					fmt.Printf("✓ Created trigger: %s (%s)\n", t.ID, t.Status)
				})
			})
		},
	}

	cmd.Flags().StringSliceVarP(&args, "arg", "a", nil, "trigger arguments (key=value)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the trigger reaches done or error")

	return cmd
}

func newTriggerGetCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				var t *model.Trigger
				var err error
				if wait {
					t, err = waitForTrigger(ctx, s, args[0])
				} else {
					t, err = s.GetTrigger(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printResult(t, func() {
					fmt.Printf("%s\n", t.ID)
					fmt.Printf("  name:    %s\n", t.Name)
					fmt.Printf("  status:  %s\n", t.Status)
					fmt.Printf("  retries: %d\n", t.Retries)
					if len(t.Result) > 0 {
						result, _ := json.Marshal(t.Result)
						fmt.Printf("  result:  %s\n", result)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait until the trigger reaches done or error")

	return cmd
}

func newTriggerListCommand() *cobra.Command {
	var (
		name   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				triggers, err := s.ListTriggers(ctx, store.TriggerFilter{
					Name:   name,
					Status: model.TriggerStatus(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printResult(triggers, func() {
					for _, t := range triggers {
						fmt.Printf("%s\t%s\t%s\n", t.ID, t.Name, t.Status)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "filter by trigger name")
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, running, done, error)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "maximum number of results")

	return cmd
}

// waitForTrigger polls until the trigger reaches a terminal status or
// the context is cancelled.
func waitForTrigger(ctx context.Context, s *store.SQLiteStore, id string) (*model.Trigger, error) {
	for {
		t, err := s.GetTrigger(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}
