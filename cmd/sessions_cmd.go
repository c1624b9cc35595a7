package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/bus"
	"github.com/filipexyz/ravi-sub000/internal/config"
	"github.com/filipexyz/ravi-sub000/internal/sessions"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent sessions",
	}
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionRenameCmd())
	cmd.AddCommand(sessionEphemeralCmd())
	cmd.AddCommand(sessionPermanentCmd())
	cmd.AddCommand(sessionDeleteCmd())
	cmd.AddCommand(sessionResetCmd())
	return cmd
}

func openSessions() (*sessions.Manager, *store.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr := sessions.NewManager(stores.Sessions, bus.NewAbortRegistry(), slog.Default())
	return mgr, stores, nil
}

func sessionListCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openSessions()
			if err != nil {
				return err
			}
			list, err := stores.Sessions.List(cmd.Context(), agent)
			if err != nil {
				return err
			}
			for _, s := range list {
				name := s.Name
				if name == "" {
					name = "-"
				}
				expiry := ""
				if s.Ephemeral && s.ExpiresAt != nil {
					expiry = "  expires " + s.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("%-50s  %-15s  tokens=%d/%d%s\n",
					s.Key, name, s.InputTokens, s.OutputTokens, expiry)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", config.DefaultAgentID, "agent id")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key-or-name>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			s, err := mgr.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key:     %s\nname:    %s\nagent:   %s\n", s.Key, s.Name, s.AgentID)
			fmt.Printf("tokens:  in=%d out=%d\ncompactions: %d\n",
				s.InputTokens, s.OutputTokens, s.CompactionCount)
			if s.ModelOverride != "" || s.ThinkingOverride != "" {
				fmt.Printf("overrides: model=%q thinking=%q\n", s.ModelOverride, s.ThinkingOverride)
			}
			if s.Ephemeral {
				exp := "-"
				if s.ExpiresAt != nil {
					exp = s.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("ephemeral: expires %s\n", exp)
			}
			if s.LastChatID != "" {
				fmt.Printf("last delivery: %s/%s chat=%s\n", s.LastChannel, s.LastAccount, s.LastChatID)
			}
			return nil
		},
	}
}

func sessionRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <key> <name>",
		Short: "Assign a name to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			return mgr.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func sessionEphemeralCmd() *cobra.Command {
	var ttlMin int
	var extend bool
	cmd := &cobra.Command{
		Use:   "ephemeral <key-or-name>",
		Short: "Mark a session ephemeral with a TTL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			s, err := mgr.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				if cfg, err := loadConfig(); err == nil && cfg.Sessions.EphemeralTTLm > 0 {
					ttlMin = cfg.Sessions.EphemeralTTLm
				}
			}
			ttl := time.Duration(ttlMin) * time.Minute
			if extend {
				return mgr.Extend(cmd.Context(), s.Key, ttl)
			}
			return mgr.SetEphemeral(cmd.Context(), s.Key, ttl)
		},
	}
	cmd.Flags().IntVar(&ttlMin, "ttl", 60, "time to live in minutes")
	cmd.Flags().BoolVar(&extend, "extend", false, "push an existing expiry further out")
	return cmd
}

func sessionPermanentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permanent <key-or-name>",
		Short: "Clear a session's expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			s, err := mgr.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return mgr.MakePermanent(cmd.Context(), s.Key)
		},
	}
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-or-name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			s, err := mgr.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return mgr.Delete(cmd.Context(), s.Key)
		},
	}
}

func sessionResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key-or-name>",
		Short: "Delete and recreate a session under the same key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := openSessions()
			if err != nil {
				return err
			}
			s, err := mgr.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fresh, err := mgr.Reset(cmd.Context(), s.Key)
			if err != nil {
				return err
			}
			fmt.Printf("session %s reset (id %s)\n", fresh.Key, fresh.ID)
			return nil
		},
	}
}
