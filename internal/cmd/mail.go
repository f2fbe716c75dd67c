package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/richardanaya/agent-office/internal/mail"
)

// withMail opens the store, builds a mail service on it and runs fn.
func withMail(cmd *cobra.Command, fn func(svc *mail.Service) error) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(mail.NewService(s.backend, mail.WithLogger(s.logger)))
}

func newAgentCmd() *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Agents and their mailboxes",
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register an agent with an Inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMail(cmd, func(svc *mail.Service) error {
				agent, err := svc.CreateAgent(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), agent)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMail(cmd, func(svc *mail.Service) error {
				agents, err := svc.ListAgents(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), agents)
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <name> <status>",
		Short: "Set an agent's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMail(cmd, func(svc *mail.Service) error {
				agent, err := svc.SetAgentStatus(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is %s\n", agent.Name, agent.Status)
				return nil
			})
		},
	}

	mailboxCmd := &cobra.Command{
		Use:   "mailbox <name> <mailbox>",
		Short: "Give an agent another mailbox",
		Example: heredoc.Doc(`
# Mail from alice is sent from her Outbox once she has one
agent-office --db office.db agent mailbox alice Outbox
`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMail(cmd, func(svc *mail.Service) error {
				mailbox, err := svc.CreateMailbox(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), mailbox)
			})
		},
	}

	mailboxesCmd := &cobra.Command{
		Use:   "mailboxes <name>",
		Short: "List an agent's mailboxes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMail(cmd, func(svc *mail.Service) error {
				mailboxes, err := svc.ListAgentMailboxes(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), mailboxes)
			})
		},
	}

	agentCmd.AddCommand(createCmd, listCmd, statusCmd, mailboxCmd, mailboxesCmd)
	return agentCmd
}

func newMailCmd() *cobra.Command {
	mailCmd := &cobra.Command{
		Use:   "mail",
		Short: "Send and read mail between agents",
	}

	sendCmd := &cobra.Command{
		Use:   "send <from> <to>",
		Short: "Send mail from one agent to another",
		Example: heredoc.Doc(`
agent-office --db office.db mail send alice bob --subject "Deploy" --body "Friday?"
`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			body, _ := cmd.Flags().GetString("body")
			return withMail(cmd, func(svc *mail.Service) error {
				m, err := svc.SendAgentToAgent(cmd.Context(), args[0], args[1], subject, body)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), m)
			})
		},
	}
	sendCmd.Flags().StringP("subject", "s", "", "Subject line")
	sendCmd.Flags().StringP("body", "b", "", "Message body")

	inboxCmd := &cobra.Command{
		Use:   "inbox <agent>",
		Short: "Show mail delivered to an agent's Inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withMail(cmd, func(svc *mail.Service) error {
				box, err := svc.AgentInbox(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				mails, err := svc.Inbox(cmd.Context(), box.ID)
				if err != nil {
					return err
				}
				return printMail(cmd.OutOrStdout(), mails, asJSON)
			})
		},
	}
	inboxCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	outboxCmd := &cobra.Command{
		Use:   "outbox <agent>",
		Short: "Show mail sent from an agent's outbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withMail(cmd, func(svc *mail.Service) error {
				box, err := svc.AgentOutbox(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				mails, err := svc.Outbox(cmd.Context(), box.ID)
				if err != nil {
					return err
				}
				return printMail(cmd.OutOrStdout(), mails, asJSON)
			})
		},
	}
	outboxCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	unreadCmd := &cobra.Command{
		Use:   "unread <agent>",
		Short: "Show unread mail across an agent's mailboxes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withMail(cmd, func(svc *mail.Service) error {
				mails, err := svc.CheckUnread(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printMail(cmd.OutOrStdout(), mails, asJSON)
			})
		},
	}
	unreadCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	readCmd := &cobra.Command{
		Use:   "read <mail-id>",
		Short: "Show a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid mail id %q: %w", args[0], err)
			}
			return withMail(cmd, func(svc *mail.Service) error {
				m, err := svc.MarkAsRead(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), m)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <mail-id>",
		Short: "Delete a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid mail id %q: %w", args[0], err)
			}
			return withMail(cmd, func(svc *mail.Service) error {
				if err := svc.DeleteMail(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted mail %s\n", id)
				return nil
			})
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search mail, newest first",
		Example: heredoc.Doc(`
# Mail to or from bob mentioning "deploy" in the last day
agent-office --db office.db mail search deploy --agent bob --since 24h
`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			q := mail.Query{Agent: agent, Limit: limit, Offset: offset}
			if len(args) == 1 {
				q.Text = args[0]
			}
			if since > 0 {
				q.After = time.Now().Add(-since)
			}
			return withMail(cmd, func(svc *mail.Service) error {
				page, err := svc.SearchMail(cmd.Context(), q)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	searchCmd.Flags().String("agent", "", "Only mail to or from this agent")
	searchCmd.Flags().Duration("since", 0, "Only mail sent within this duration")
	searchCmd.Flags().IntP("limit", "n", 20, "Maximum number of results")
	searchCmd.Flags().Int("offset", 0, "Results to skip")

	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Show mail sent within a time window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetDuration("window")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			return withMail(cmd, func(svc *mail.Service) error {
				mails, err := svc.RecentMail(cmd.Context(), window, limit)
				if err != nil {
					return err
				}
				return printMail(cmd.OutOrStdout(), mails, asJSON)
			})
		},
	}
	recentCmd.Flags().Duration("window", 24*time.Hour, "How far back to look")
	recentCmd.Flags().IntP("limit", "n", 20, "Maximum number of messages")
	recentCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	mailCmd.AddCommand(sendCmd, inboxCmd, outboxCmd, unreadCmd, readCmd, deleteCmd, searchCmd, recentCmd)
	return mailCmd
}

// printMail writes one line per message, unread ones marked with "*".
func printMail(w io.Writer, mails []*mail.Mail, asJSON bool) error {
	if asJSON {
		return writeJSON(w, mails)
	}
	if len(mails) == 0 {
		fmt.Fprintln(w, "No mail.")
		return nil
	}
	for _, m := range mails {
		flag := " "
		if !m.Read {
			flag = "*"
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", flag, m.CreatedAt.Local().Format(time.DateTime), m.ID, m.Subject)
	}
	return nil
}
