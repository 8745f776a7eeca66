package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newRecipeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Manage recipes",
		Long: `Manage recipes: automation scripts with group-based matching criteria.

A recipe with an --add-to, --target-all-in, or --target-any-of group
reference fires automatically when that group's membership changes.
Without one, the recipe only runs when triggered manually.`,
	}

	cmd.AddCommand(newRecipeCreateCommand())
	cmd.AddCommand(newRecipeGetCommand())
	cmd.AddCommand(newRecipeListCommand())
	cmd.AddCommand(newRecipeDeleteCommand())

	return cmd
}

func newRecipeCreateCommand() *cobra.Command {
	var (
		recipeType  string
		contentFile string
		params      []string
		options     []string
		addTo       string
		targetAllIn string
		targetAnyOf string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a recipe",
		Example: `  # Provision every component that joins the web group
  tempest recipe create provision-web --type shell \
    --content-file provision.sh --add-to web

  # Fire when any listed target is a member of web
  tempest recipe create restart-web --type shell \
    --content-file restart.sh --target-any-of web`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paramMap, err := parseKeyValues(params)
			if err != nil {
				return err
			}
			optionMap, err := parseKeyValues(options)
			if err != nil {
				return err
			}

			var content string
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("failed to read content file: %w", err)
				}
				content = string(data)
			}

			r := &model.Recipe{
				Name:    args[0],
				Type:    recipeType,
				Content: content,
				Options: optionMap,
				Params:  paramMap,
			}
			if addTo != "" {
				r.AddTo = &addTo
			}
			if targetAllIn != "" {
				r.TargetAllIn = &targetAllIn
			}
			if targetAnyOf != "" {
				r.TargetAnyOf = &targetAnyOf
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.CreateRecipe(ctx, r); err != nil {
					return err
				}
				return printResult(r, func() {
					fmt.Printf("✓ Created recipe: %s\n", r.Name)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&recipeType, "type", "t", "", "recipe type (names the engine that runs it)")
	cmd.Flags().StringVarP(&contentFile, "content-file", "f", "", "recipe script file")
	cmd.Flags().StringSliceVarP(&params, "param", "p", nil, "recipe parameters (key=value)")
	cmd.Flags().StringSliceVar(&options, "option", nil, "recipe options (key=value)")
	cmd.Flags().StringVar(&addTo, "add-to", "", "fire once per component joining this group")
	cmd.Flags().StringVar(&targetAllIn, "target-all-in", "", "fire when all targets are members of this group")
	cmd.Flags().StringVar(&targetAnyOf, "target-any-of", "", "fire when any target is a member of this group")
	cmd.MarkFlagRequired("type")

	return cmd
}

func newRecipeGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				r, err := s.GetRecipe(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(r, func() {
					fmt.Printf("%s (type: %s)\n", r.Name, r.Type)
					if r.AddTo != nil {
						fmt.Printf("  add-to: %s\n", *r.AddTo)
					}
					if r.TargetAllIn != nil {
						fmt.Printf("  target-all-in: %s\n", *r.TargetAllIn)
					}
					if r.TargetAnyOf != nil {
						fmt.Printf("  target-any-of: %s\n", *r.TargetAnyOf)
					}
				})
			})
		},
	}
}

func newRecipeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				recipes, err := s.ListRecipes(ctx)
				if err != nil {
					return err
				}
				return printResult(recipes, func() {
					for _, r := range recipes {
						auto := ""
						if r.AutoDispatched() {
							auto = " (auto)"
						}
						fmt.Printf("%s\t%s%s\n", r.Name, r.Type, auto)
					}
				})
			})
		},
	}
}

func newRecipeDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteRecipe(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted recipe: %s\n", args[0])
				return nil
			})
		},
	}
}
