package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newAppCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage applications",
		Long:  `Manage applications: named compositions of groups, the services they expose, and the links between them.`,
	}

	cmd.AddCommand(newAppCreateCommand())
	cmd.AddCommand(newAppGetCommand())
	cmd.AddCommand(newAppListCommand())
	cmd.AddCommand(newAppDeleteCommand())

	return cmd
}

// appManifest is the YAML shape accepted by `tempest app create -f`.
type appManifest struct {
	Name       string   `yaml:"name"`
	Components []string `yaml:"components"`
	Expose     []struct {
		Group   string `yaml:"group"`
		Service string `yaml:"service"`
	} `yaml:"expose"`
	Links []struct {
		From    string `yaml:"from"`
		Group   string `yaml:"group"`
		Service string `yaml:"service"`
	} `yaml:"links"`
}

func newAppCreateCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "create -f <manifest>",
		Short: "Create an application from a manifest",
		Long: `Create an application from a YAML manifest.

The manifest names the member groups, the services the application
exposes, and the links between its groups and services:

  name: shop
  components: [web, db]
  expose:
    - {group: web, service: http}
  links:
    - {from: web, group: db, service: postgres}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("failed to read manifest file: %w", err)
			}

			var manifest appManifest
			if err := yaml.Unmarshal(data, &manifest); err != nil {
				return fmt.Errorf("failed to parse manifest YAML: %w", err)
			}

			app := &model.Application{
				Name:       manifest.Name,
				Components: manifest.Components,
			}
			for _, e := range manifest.Expose {
				app.Expose = append(app.Expose, model.ServiceRef{Group: e.Group, Name: e.Service})
			}
			for _, l := range manifest.Links {
				app.Links = append(app.Links, model.ComponentLink{
					Application: manifest.Name,
					FromGroup:   l.From,
					ToService:   model.ServiceRef{Group: l.Group, Name: l.Service},
				})
			}

			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.CreateApplication(ctx, app); err != nil {
					return err
				}
				return printResult(app, func() {
					fmt.Printf("✓ Created application: %s\n", app.Name)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "application manifest (YAML)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newAppGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				app, err := s.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(app, func() {
					fmt.Printf("%s\n", app.Name)
					fmt.Printf("  components: %v\n", app.Components)
					for _, e := range app.Expose {
						fmt.Printf("  expose: %s/%s\n", e.Group, e.Name)
					}
					for _, l := range app.Links {
						fmt.Printf("  link: %s -> %s/%s\n", l.FromGroup, l.ToService.Group, l.ToService.Name)
					}
				})
			})
		},
	}
}

func newAppListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				apps, err := s.ListApplications(ctx)
				if err != nil {
					return err
				}
				return printResult(apps, func() {
					for _, app := range apps {
						fmt.Println(app.Name)
					}
				})
			})
		},
	}
}

func newAppDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteApplication(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted application: %s\n", args[0])
				return nil
			})
		},
	}
}
