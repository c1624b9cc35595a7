package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/routing"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage message routes",
	}
	cmd.AddCommand(routeAddCmd())
	cmd.AddCommand(routeListCmd())
	cmd.AddCommand(routeDeleteCmd())
	cmd.AddCommand(routeRestoreCmd())
	cmd.AddCommand(routeTestCmd())
	return cmd
}

func routeAddCmd() *cobra.Command {
	var agent, sessionName, channel string
	var priority int
	cmd := &cobra.Command{
		Use:   "add <instance> <pattern>",
		Short: "Create a route (pattern: literal, group:<id>, lid:<id>, glob, or *)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			r := &store.Route{
				Instance:    args[0],
				Pattern:     args[1],
				Agent:       agent,
				Priority:    priority,
				SessionName: sessionName,
				Channel:     channel,
			}
			if err := stores.Routes.Create(cmd.Context(), r); err != nil {
				return err
			}
			fmt.Printf("route %s@%s -> %s (priority %d)\n", r.Pattern, r.Instance, r.Agent, r.Priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "target agent (default: instance default)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority, higher wins")
	cmd.Flags().StringVar(&sessionName, "session", "", "force a named session")
	cmd.Flags().StringVar(&channel, "channel", "", "channel type filter")
	return cmd
}

func routeListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list <instance>",
		Short: "List routes for an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			var routes []store.Route
			if all {
				routes, err = stores.Routes.ListAll(cmd.Context(), args[0])
			} else {
				routes, err = stores.Routes.ListByInstance(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			routing.SortRoutes(routes)
			for _, r := range routes {
				tomb := ""
				if r.Deleted() {
					tomb = "  [deleted]"
				}
				fmt.Printf("%3d  %-30s  agent=%s%s\n", r.Priority, r.Pattern, r.Agent, tomb)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include soft-deleted routes")
	return cmd
}

func routeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <instance> <pattern>",
		Short: "Soft-delete a route (restorable)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			return stores.Routes.Delete(cmd.Context(), args[1], args[0])
		},
	}
}

func routeRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <instance> <pattern>",
		Short: "Restore a soft-deleted route",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			return stores.Routes.Restore(cmd.Context(), args[1], args[0])
		},
	}
}

func routeTestCmd() *cobra.Command {
	var chatID string
	var isGroup bool
	cmd := &cobra.Command{
		Use:   "test <instance> <sender>",
		Short: "Show which route a sender/chat would hit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			inst, err := stores.Instances.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			resolver := routing.NewResolver(stores.Routes)
			if chatID == "" {
				chatID = args[1]
			}
			res, err := resolver.ResolveRoute(cmd.Context(), inst, args[1], chatID, isGroup, inst.ChannelType)
			if err != nil {
				return err
			}
			if res.Route == nil {
				fmt.Printf("no route matched; instance default agent %q applies\n", res.Agent)
				return nil
			}
			fmt.Printf("matched %s (priority %d) -> agent %q\n", res.Route.Pattern, res.Route.Priority, res.Agent)
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id (default: sender)")
	cmd.Flags().BoolVar(&isGroup, "group", false, "treat as a group chat")
	return cmd
}
