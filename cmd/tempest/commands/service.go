package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tempest-orch/tempest/pkg/model"
	"github.com/tempest-orch/tempest/pkg/store"
)

func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage services",
		Long:  `Manage the network endpoints exposed by groups. Service names are unique within their owning group.`,
	}

	cmd.AddCommand(newServiceCreateCommand())
	cmd.AddCommand(newServiceListCommand())
	cmd.AddCommand(newServiceDeleteCommand())

	return cmd
}

func newServiceCreateCommand() *cobra.Command {
	var (
		protocol string
		port     int
	)

	cmd := &cobra.Command{
		Use:   "create <group> <name>",
		Short: "Create a service on a group",
		Example: `  # HTTP on the web group
  tempest service create web http --protocol tcp --port 80`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				svc := &model.Service{
					Group:    args[0],
					Name:     args[1],
					Protocol: model.Protocol(protocol),
					Port:     port,
				}
				if err := s.CreateService(ctx, svc); err != nil {
					return err
				}
				return printResult(svc, func() {
					fmt.Printf("✓ Created service: %s/%s (%s/%d)\n", svc.Group, svc.Name, svc.Protocol, svc.Port)
				})
			})
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", "tcp", "service protocol (tcp, udp)")
	cmd.Flags().IntVar(&port, "port", 0, "service port")
	cmd.MarkFlagRequired("port")

	return cmd
}

func newServiceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <group>",
		Short: "List a group's services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				services, err := s.ListServices(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(services, func() {
					for _, svc := range services {
						fmt.Printf("%s\t%s/%d\n", svc.Name, svc.Protocol, svc.Port)
					}
				})
			})
		},
	}
}

func newServiceDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group> <name>",
		Short: "Delete a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, s *store.SQLiteStore) error {
				if err := s.DeleteService(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted service: %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}
