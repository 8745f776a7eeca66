package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newComponentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "component",
		Short: "Manage components",
		Long:  `Register, inspect, update, and remove the components group queries match against.`,
	}

	cmd.AddCommand(newComponentCreateCommand())
	cmd.AddCommand(newComponentGetCommand())
	cmd.AddCommand(newComponentListCommand())
	cmd.AddCommand(newComponentSetCommand())
	cmd.AddCommand(newComponentDeleteCommand())

	return cmd
}

func newComponentCreateCommand() *cobra.Command {
	var attrs []string

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Register a component",
		Example: `  # Register a component with attributes
  tempest component create node-1 --attr role=frontend --attr cpus=4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attributes, err := parseKeyValues(attrs)
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				c := &model.Component{ID: args[0], Attributes: attributes}
				if err := s.CreateComponent(ctx, c); err != nil {
					return err
				}
				return printResult(c, func() {
					fmt.Printf("✓ Created component: %s\n", c.ID)
				})
			})
		},
	}

	cmd.Flags().StringSliceVarP(&attrs, "attr", "a", nil, "component attributes (key=value)")

	return cmd
}

func newComponentGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				c, err := s.GetComponent(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(c, func() {
					fmt.Printf("%s\n", c.ID)
					for key, value := range c.Attributes {
						fmt.Printf("  %s: %v\n", key, value)
					}
				})
			})
		},
	}
}

func newComponentListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				components, err := s.ListComponents(ctx)
				if err != nil {
					return err
				}
				return printResult(components, func() {
					for _, c := range components {
						fmt.Println(c.ID)
					}
				})
			})
		},
	}
}

func newComponentSetCommand() *cobra.Command {
	var attrs []string

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update component attributes",
		Long: `Merge the given attributes into the component. Existing keys are
overwritten; keys not named are kept.`,
		Example: `  # Promote a node
  tempest component set node-4 --attr role=frontend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attributes, err := parseKeyValues(attrs)
			if err != nil {
				return err
			}
			if len(attributes) == 0 {
				return fmt.Errorf("at least one --attr is required")
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				c, err := s.GetComponent(ctx, args[0])
				if err != nil {
					return err
				}
				if c.Attributes == nil {
					c.Attributes = make(map[string]any, len(attributes))
				}
				for key, value := range attributes {
					c.Attributes[key] = value
				}
				if err := s.UpdateComponent(ctx, c); err != nil {
					return err
				}
				return printResult(c, func() {
					fmt.Printf("✓ Updated component: %s\n", c.ID)
				})
			})
		},
	}

	cmd.Flags().StringSliceVarP(&attrs, "attr", "a", nil, "component attributes (key=value)")

	return cmd
}

func newComponentDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteComponent(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted component: %s\n", args[0])
				return nil
			})
		},
	}
}
