package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage channel instances",
	}
	cmd.AddCommand(instanceAddCmd())
	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceSetCmd())
	cmd.AddCommand(instanceDeleteCmd())
	return cmd
}

func instanceAddCmd() *cobra.Command {
	var channelType, agent, dmPolicy, groupPolicy, dmScope string
	var allowFrom, groupAllow []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a channel instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			inst := &store.Instance{
				Name:         args[0],
				ChannelType:  channelType,
				DefaultAgent: agent,
				DMPolicy:     store.DMPolicy(dmPolicy),
				GroupPolicy:  store.GroupPolicy(groupPolicy),
				DMScope:      dmScope,
				AllowFrom:    allowFrom,
				GroupAllow:   groupAllow,
			}
			if err := stores.Instances.Create(cmd.Context(), inst); err != nil {
				return err
			}
			fmt.Printf("instance %s (%s) created\n", inst.Name, inst.ChannelType)
			return nil
		},
	}
	cmd.Flags().StringVar(&channelType, "channel", "whatsapp", "channel type")
	cmd.Flags().StringVar(&agent, "agent", "default", "default agent id")
	cmd.Flags().StringVar(&dmPolicy, "dm-policy", "open", "dm policy (open|pairing|closed)")
	cmd.Flags().StringVar(&groupPolicy, "group-policy", "open", "group policy (open|allowlist|closed)")
	cmd.Flags().StringVar(&dmScope, "dm-scope", "", "dm session scope (main|per-peer|per-channel-peer|per-account-channel-peer)")
	cmd.Flags().StringSliceVar(&allowFrom, "allow-from", nil, "senders always allowed")
	cmd.Flags().StringSliceVar(&groupAllow, "group-allow", nil, "group allowlist")
	return cmd
}

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List channel instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			instances, err := stores.Instances.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, inst := range instances {
				fmt.Printf("%-20s  %-10s  agent=%-12s  dm=%-8s  group=%s\n",
					inst.Name, inst.ChannelType, inst.DefaultAgent, inst.DMPolicy, inst.GroupPolicy)
			}
			return nil
		},
	}
}

func instanceSetCmd() *cobra.Command {
	var agent, dmPolicy, groupPolicy, dmScope string
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Update an instance's policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			inst, err := stores.Instances.GetByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if agent != "" {
				inst.DefaultAgent = agent
			}
			if dmPolicy != "" {
				inst.DMPolicy = store.DMPolicy(dmPolicy)
			}
			if groupPolicy != "" {
				inst.GroupPolicy = store.GroupPolicy(groupPolicy)
			}
			if dmScope != "" {
				inst.DMScope = dmScope
			}
			return stores.Instances.Update(cmd.Context(), inst)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "default agent id")
	cmd.Flags().StringVar(&dmPolicy, "dm-policy", "", "dm policy (open|pairing|closed)")
	cmd.Flags().StringVar(&groupPolicy, "group-policy", "", "group policy (open|allowlist|closed)")
	cmd.Flags().StringVar(&dmScope, "dm-scope", "", "dm session scope")
	return cmd
}

func instanceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a channel instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			return stores.Instances.Delete(cmd.Context(), args[0])
		},
	}
}
