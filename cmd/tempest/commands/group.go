package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/membership"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newGroupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage groups",
		Long: `Manage dynamic component groups.

A group's membership is the set of components matching its query,
united with the include list, minus the exclude list. Membership is
evaluated on demand; it is never stored.`,
	}

	cmd.AddCommand(newGroupCreateCommand())
	cmd.AddCommand(newGroupGetCommand())
	cmd.AddCommand(newGroupListCommand())
	cmd.AddCommand(newGroupMembersCommand())
	cmd.AddCommand(newGroupAddMembersCommand())
	cmd.AddCommand(newGroupDeleteCommand())

	return cmd
}

func newGroupCreateCommand() *cobra.Command {
	var (
		queryJSON string
		include   []string
		exclude   []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Example: `  # All frontend components
  tempest group create frontend --query '{"role": "frontend"}'

  # Query plus manual overrides
  tempest group create web --query '{"role": "frontend"}' --exclude node-9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseJSONFlag(queryJSON, "query")
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				g := &model.Group{
					Name:    args[0],
					Query:   query,
					Include: include,
					Exclude: exclude,
				}
				if err := s.CreateGroup(ctx, g); err != nil {
					return err
				}
				return printResult(g, func() {
					fmt.Printf("✓ Created group: %s\n", g.Name)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&queryJSON, "query", "q", "", "membership query (JSON)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "components forced into the group")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "components forced out of the group")

	return cmd
}

func newGroupGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				g, err := s.GetGroup(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(g, func() {
					fmt.Printf("%s\n", g.Name)
					fmt.Printf("  query:   %v\n", g.Query)
					fmt.Printf("  include: %v\n", g.Include)
					fmt.Printf("  exclude: %v\n", g.Exclude)
				})
			})
		},
	}
}

func newGroupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				groups, err := s.ListGroups(ctx)
				if err != nil {
					return err
				}
				return printResult(groups, func() {
					for _, g := range groups {
						fmt.Println(g.Name)
					}
				})
			})
		},
	}
}

func newGroupMembersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "members <name>",
		Short: "Resolve a group's current members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				members, err := membership.NewEngine(s).Members(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(members, func() {
					for _, id := range members {
						fmt.Println(id)
					}
				})
			})
		},
	}
}

func newGroupAddMembersCommand() *cobra.Command {
	var (
		include []string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "add-members <name>",
		Short: "Merge identifiers into a group's include/exclude lists",
		Long: `Merge component identifiers into the group's include and exclude
lists. Identifiers already present are skipped; nothing is removed.`,
		Example: `  # Force node-7 in and node-9 out
  tempest group add-members web --include node-7 --exclude node-9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(include) == 0 && len(exclude) == 0 {
				return fmt.Errorf("at least one of --include or --exclude is required")
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				g, err := s.AddGroupMembers(ctx, args[0], include, exclude)
				if err != nil {
					return err
				}
				return printResult(g, func() {
					fmt.Printf("✓ Updated group: %s\n", g.Name)
					fmt.Printf("  include: %v\n", g.Include)
					fmt.Printf("  exclude: %v\n", g.Exclude)
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "components to force in")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "components to force out")

	return cmd
}

func newGroupDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a group",
		Long: `Delete a group. Its services and links are deleted with it; recipes
referencing it keep running but lose the group reference.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteGroup(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted group: %s\n", args[0])
				return nil
			})
		},
	}
}
