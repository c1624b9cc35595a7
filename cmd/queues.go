package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/filipexyz/ravi-sub000/internal/store"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage outbound queues",
	}
	cmd.AddCommand(queueCreateCmd())
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueShowCmd())
	cmd.AddCommand(queueStatusCmd("start", store.QueueActive))
	cmd.AddCommand(queueStatusCmd("pause", store.QueuePaused))
	cmd.AddCommand(queueAddEntryCmd())
	cmd.AddCommand(queueEntriesCmd())
	cmd.AddCommand(queueQualifyCmd())
	cmd.AddCommand(queueResetEntryCmd())
	return cmd
}

// findQueue accepts either a queue id or a queue name.
func findQueue(cmd *cobra.Command, stores *store.Stores, ref string) (*store.OutboundQueue, error) {
	q, err := stores.Outbound.GetQueue(cmd.Context(), ref)
	if err == nil {
		return q, nil
	}
	return stores.Outbound.GetQueueByName(cmd.Context(), ref)
}

func queueCreateCmd() *cobra.Command {
	var agent, instructions, hoursStart, hoursEnd, timezone, schedule string
	var intervalMin, maxRounds int
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an outbound queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			q := &store.OutboundQueue{
				Name:         args[0],
				AgentID:      agent,
				Instructions: instructions,
				IntervalMs:   int64(intervalMin) * 60_000,
				MaxRounds:    maxRounds,
				HoursStart:   hoursStart,
				HoursEnd:     hoursEnd,
				Timezone:     timezone,
				Schedule:     schedule,
				Status:       store.QueuePaused,
			}
			if err := stores.Outbound.CreateQueue(cmd.Context(), q); err != nil {
				return err
			}
			fmt.Printf("queue %s (%s) created, paused; 'ravi queue start %s' to run\n", q.Name, q.ID, q.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "default", "agent that composes the sends")
	cmd.Flags().StringVar(&instructions, "instructions", "", "prompt for the sending agent")
	cmd.Flags().IntVar(&intervalMin, "interval", 60, "minutes between rounds")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 3, "rounds per entry before done (0 = unlimited)")
	cmd.Flags().StringVar(&hoursStart, "hours-start", "", "active window start (HH:MM)")
	cmd.Flags().StringVar(&hoursEnd, "hours-end", "", "active window end (HH:MM)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone for the active window")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression gating ticks")
	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List outbound queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			queues, err := stores.Outbound.ListQueues(cmd.Context())
			if err != nil {
				return err
			}
			for _, q := range queues {
				fmt.Printf("%-20s  %-10s  sent=%-4d skipped=%-4d  agent=%s\n",
					q.Name, q.Status, q.Sent, q.Skipped, q.AgentID)
			}
			return nil
		},
	}
}

func queueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <queue>",
		Short: "Show queue details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			q, err := findQueue(cmd, stores, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:        %s\nname:      %s\nstatus:    %s\nagent:     %s\n",
				q.ID, q.Name, q.Status, q.AgentID)
			fmt.Printf("interval:  %s\nmax rounds: %d\n",
				time.Duration(q.IntervalMs)*time.Millisecond, q.MaxRounds)
			if q.HoursStart != "" || q.HoursEnd != "" {
				fmt.Printf("hours:     %s-%s %s\n", q.HoursStart, q.HoursEnd, q.Timezone)
			}
			if q.Schedule != "" {
				fmt.Printf("schedule:  %s\n", q.Schedule)
			}
			fmt.Printf("processed: %d  sent: %d  skipped: %d\n", q.Processed, q.Sent, q.Skipped)
			if q.LastRunAt != nil {
				fmt.Printf("last run:  %s (%s)\n", q.LastRunAt.Format(time.RFC3339), q.LastStatus)
			}
			if q.LastError != "" {
				fmt.Printf("last error: %s\n", q.LastError)
			}
			open, err := stores.Outbound.CountOpenEntries(cmd.Context(), q.ID)
			if err != nil {
				return err
			}
			fmt.Printf("open entries: %d\n", open)
			return nil
		},
	}
}

func queueStatusCmd(verb string, status store.QueueStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <queue>",
		Short: "Set the queue " + string(status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			q, err := findQueue(cmd, stores, args[0])
			if err != nil {
				return err
			}
			return stores.Outbound.SetQueueStatus(cmd.Context(), q.ID, status)
		},
	}
}

func queueAddEntryCmd() *cobra.Command {
	var position int
	var platform string
	var contextPairs []string
	cmd := &cobra.Command{
		Use:   "add-entry <queue> <contact-id-or-identity>",
		Short: "Add a contact to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, stores, err := openGraph()
			if err != nil {
				return err
			}
			q, err := findQueue(cmd, stores, args[0])
			if err != nil {
				return err
			}
			c, err := graph.Resolve(cmd.Context(), platform, args[1])
			if err != nil {
				return err
			}
			entry := &store.OutboundEntry{
				QueueID:   q.ID,
				ContactID: c.ID,
				Position:  position,
				Status:    store.EntryPending,
				Context:   parseKeyValues(contextPairs),
			}
			if c.Name != "" {
				if entry.Context == nil {
					entry.Context = map[string]string{}
				}
				entry.Context["name"] = c.Name
			}
			if err := stores.Outbound.AddEntry(cmd.Context(), entry); err != nil {
				return err
			}
			fmt.Printf("entry %s added to %s\n", entry.ID, q.Name)
			return nil
		},
	}
	cmd.Flags().IntVar(&position, "position", 0, "ordering position (lower first)")
	cmd.Flags().StringVar(&platform, "platform", "whatsapp", "identity platform for resolution")
	cmd.Flags().StringSliceVar(&contextPairs, "context", nil, "key=value context pairs")
	return cmd
}

func queueEntriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entries <queue>",
		Short: "List a queue's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			q, err := findQueue(cmd, stores, args[0])
			if err != nil {
				return err
			}
			entries, err := stores.Outbound.ListEntries(cmd.Context(), q.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				qual := string(e.Qualification)
				if qual == "" {
					qual = "-"
				}
				fmt.Printf("%s  pos=%-3d  %-8s  qual=%-11s  rounds=%d/%d  contact=%s\n",
					e.ID, e.Position, e.Status, qual, e.RoundsCompleted, q.MaxRounds, e.ContactID)
			}
			return nil
		},
	}
}

func queueQualifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qualify <entry-id> <cold|warm|interested|qualified|rejected>",
		Short: "Set an entry's qualification (alters follow-up cadence)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			qual, err := store.ParseQualification(args[1])
			if err != nil {
				return err
			}
			return stores.Outbound.SetQualification(cmd.Context(), args[0], qual)
		},
	}
}

func queueResetEntryCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "reset-entry <entry-id>",
		Short: "Return an entry to pending, clearing its round history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, stores, err := openGraph()
			if err != nil {
				return err
			}
			return stores.Outbound.ResetEntry(cmd.Context(), args[0], full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also clear context (keeps only the name)")
	return cmd
}

func parseKeyValues(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		for i := 0; i < len(p); i++ {
			if p[i] == '=' {
				out[p[:i]] = p[i+1:]
				break
			}
		}
	}
	return out
}
