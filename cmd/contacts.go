package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/identity"
	"github.com/filipexyz/ravi-sub000/internal/store"
)

func contactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage contacts and their identities",
	}
	cmd.AddCommand(contactAddCmd())
	cmd.AddCommand(contactListCmd())
	cmd.AddCommand(contactShowCmd())
	cmd.AddCommand(contactLinkCmd())
	cmd.AddCommand(contactMergeCmd())
	cmd.AddCommand(contactStatusCmd())
	cmd.AddCommand(contactSetCmd())
	cmd.AddCommand(contactDeleteCmd())
	return cmd
}

func contactAddCmd() *cobra.Command {
	var name, platform string
	cmd := &cobra.Command{
		Use:   "add <identity>",
		Short: "Create a contact from an identity (e.g. a phone number)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, _, err := openGraph()
			if err != nil {
				return err
			}
			c, err := graph.Upsert(cmd.Context(), platform, args[0], name)
			if err != nil {
				return err
			}
			fmt.Printf("contact %s (%s) status=%s\n", c.ID, c.Name, c.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contact display name")
	cmd.Flags().StringVar(&platform, "platform", "whatsapp", "identity platform")
	return cmd
}

func contactListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			contacts, err := stores.Contacts.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range contacts {
				name := c.Name
				if name == "" {
					name = "-"
				}
				fmt.Printf("%s  %-20s  status=%-10s  interactions=%d\n",
					c.ID, name, c.Status, c.InteractionCount)
			}
			return nil
		},
	}
}

func contactShowCmd() *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "show <identity-or-id>",
		Short: "Show a contact and its identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, stores, err := openGraph()
			if err != nil {
				return err
			}
			c, err := graph.Resolve(cmd.Context(), platform, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:      %s\nname:    %s\nstatus:  %s\nopt-out: %v\n",
				c.ID, c.Name, c.Status, c.OptOut)
			if len(c.Tags) > 0 {
				fmt.Printf("tags:    %s\n", strings.Join(c.Tags, ", "))
			}
			idents, err := stores.Contacts.ListIdentities(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			for _, id := range idents {
				marker := ""
				if id.Primary {
					marker = " (primary)"
				}
				fmt.Printf("identity: %s/%s%s\n", id.Platform, id.Value, marker)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "whatsapp", "identity platform")
	return cmd
}

func contactLinkCmd() *cobra.Command {
	var platform string
	var primary bool
	cmd := &cobra.Command{
		Use:   "link <contact-id> <identity>",
		Short: "Attach an identity to a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, _, err := openGraph()
			if err != nil {
				return err
			}
			err = graph.AddIdentity(cmd.Context(), args[0], platform, args[1], primary)
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%s already belongs to another contact; use 'contact merge' instead", args[1])
			}
			return err
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "whatsapp", "identity platform")
	cmd.Flags().BoolVar(&primary, "primary", false, "mark as the primary identity")
	return cmd
}

func contactMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target-id> <source-id>",
		Short: "Merge source contact into target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, _, err := openGraph()
			if err != nil {
				return err
			}
			if err := graph.Merge(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("merged %s into %s\n", args[1], args[0])
			return nil
		},
	}
}

func contactStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <contact-id> <allowed|pending|blocked|discovered>",
		Short: "Set a contact's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			status, err := store.ParseContactStatus(args[1])
			if err != nil {
				return err
			}
			return stores.Contacts.SetStatus(cmd.Context(), args[0], status)
		},
	}
}

func contactSetCmd() *cobra.Command {
	var (
		name, email, replyMode string
		tags, notes            []string
		optOut                 bool
	)
	cmd := &cobra.Command{
		Use:   "set <contact-id>",
		Short: "Update contact fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			var upd store.ContactUpdate
			if cmd.Flags().Changed("name") {
				upd.Name = &name
			}
			if cmd.Flags().Changed("email") {
				upd.Email = &email
			}
			if cmd.Flags().Changed("reply-mode") {
				upd.ReplyMode = &replyMode
			}
			if cmd.Flags().Changed("tags") {
				upd.Tags = &tags
			}
			if cmd.Flags().Changed("opt-out") {
				upd.OptOut = &optOut
			}
			upd.Notes = parseKeyValues(notes)
			c, err := stores.Contacts.Update(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			fmt.Printf("contact %s (%s) opt_out=%v\n", c.ID, c.Name, c.OptOut)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&replyMode, "reply-mode", "", "reply mode hint for dispatch")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "replace the tag list")
	cmd.Flags().StringArrayVar(&notes, "note", nil, "note key=value (empty value deletes the key)")
	cmd.Flags().BoolVar(&optOut, "opt-out", false, "exclude from outbound queues")
	return cmd
}

func contactDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <contact-id>",
		Short: "Delete a contact and its identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			return stores.Contacts.Delete(cmd.Context(), args[0])
		},
	}
}

// openGraph opens the stores and wraps the contact store in an identity graph.
func openGraph() (*identity.Graph, *store.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	stores, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}
	return identity.New(stores.Contacts), stores, nil
}
