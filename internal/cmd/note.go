package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/richardanaya/agent-office/internal/kb"
	"github.com/richardanaya/agent-office/internal/luhmann"
)

// withService opens the store, builds a knowledge-base service on it and
// runs fn. The store is closed when fn returns.
func withService(cmd *cobra.Command, fn func(svc *kb.Service) error) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	opts := []kb.Option{kb.WithLogger(s.logger)}
	if cmd.Flags().Lookup("author") != nil {
		if author, _ := cmd.Flags().GetString("author"); author != "" {
			opts = append(opts, kb.WithAuthor(author))
		}
	}
	return fn(kb.NewService(s.backend, opts...))
}

func parseAddresses(args ...string) ([]luhmann.Address, error) {
	addrs := make([]luhmann.Address, len(args))
	for i, arg := range args {
		addr, err := luhmann.Parse(arg)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

func newNoteCmd() *cobra.Command {
	noteCmd := &cobra.Command{
		Use:   "note",
		Short: "Knowledge-base notes",
		Long: `Zettelkasten notes addressed by Luhmann IDs.

Main topics are numbered 1, 2, 3, ...; branches alternate letters and
numbers: 1a, 1a1, 1a2, 1b. Links between notes are typed edges in the graph.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a main-topic note",
		Example: heredoc.Doc(`
# Next free main topic
agent-office --db office.db note create "Graph storage" --content "Nodes and edges" --tag storage

# Explicit address
agent-office --db office.db note create "Migrations" --id 3b
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _ := cmd.Flags().GetString("content")
			tags, _ := cmd.Flags().GetStringArray("tag")
			id, _ := cmd.Flags().GetString("id")

			var addr luhmann.Address
			if id != "" {
				var err error
				if addr, err = luhmann.Parse(id); err != nil {
					return err
				}
			}

			return withService(cmd, func(svc *kb.Service) error {
				var (
					note *kb.Note
					err  error
				)
				if addr.IsZero() {
					note, err = svc.CreateNote(cmd.Context(), args[0], content, tags...)
				} else {
					note, err = svc.CreateNoteWithID(cmd.Context(), addr, args[0], content, tags...)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), note)
			})
		},
	}
	createCmd.Flags().StringP("content", "c", "", "Note content")
	createCmd.Flags().StringArrayP("tag", "t", nil, "Tag (repeatable)")
	createCmd.Flags().String("id", "", "Explicit Luhmann address")
	createCmd.Flags().String("author", "", "Recorded as created_by")

	branchCmd := &cobra.Command{
		Use:   "branch <parent> <title>",
		Short: "Create a note under a parent",
		Example: heredoc.Doc(`
# 1 -> 1a, then 1b, ...
agent-office --db office.db note branch 1 "Edge cases"
`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _ := cmd.Flags().GetString("content")
			tags, _ := cmd.Flags().GetStringArray("tag")

			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				note, err := svc.CreateBranch(cmd.Context(), addrs[0], args[1], content, tags...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), note)
			})
		},
	}
	branchCmd.Flags().StringP("content", "c", "", "Note content")
	branchCmd.Flags().StringArrayP("tag", "t", nil, "Tag (repeatable)")
	branchCmd.Flags().String("author", "", "Recorded as created_by")

	showCmd := &cobra.Command{
		Use:   "show <address>",
		Short: "Show a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				note, err := svc.GetNote(cmd.Context(), addrs[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), note)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List notes in address order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withService(cmd, func(svc *kb.Service) error {
				var (
					notes []*kb.Note
					err   error
				)
				if prefix == "" {
					notes, err = svc.ListNotes(cmd.Context())
				} else {
					addrs, perr := parseAddresses(prefix)
					if perr != nil {
						return perr
					}
					notes, err = svc.ListByPrefix(cmd.Context(), addrs[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), notes)
				}
				printNotes(cmd.OutOrStdout(), notes)
				return nil
			})
		},
	}
	listCmd.Flags().String("prefix", "", "Only this note and its descendants")
	listCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search note titles, content and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withService(cmd, func(svc *kb.Service) error {
				notes, err := svc.SearchNotes(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), notes)
				}
				printNotes(cmd.OutOrStdout(), notes)
				return nil
			})
		},
	}
	searchCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	findCmd := &cobra.Command{
		Use:   "find <pattern>",
		Short: "Fuzzy-find notes by title",
		Example: heredoc.Doc(`
# Matches "Graph storage"
agent-office --db office.db note find grstor
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			return withService(cmd, func(svc *kb.Service) error {
				notes, err := svc.FindByTitle(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), notes)
				}
				printNotes(cmd.OutOrStdout(), notes)
				return nil
			})
		},
	}
	findCmd.Flags().IntP("limit", "n", 10, "Maximum number of notes")
	findCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	linkCmd := &cobra.Command{
		Use:   "link <from> <to>",
		Short: "Link one note to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			why, _ := cmd.Flags().GetString("context")
			addrs, err := parseAddresses(args...)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				if err := svc.LinkNotes(cmd.Context(), addrs[0], addrs[1], why); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Linked %s -> %s\n", addrs[0], addrs[1])
				return nil
			})
		},
	}
	linkCmd.Flags().String("context", "", "Why the notes are linked")

	continueCmd := &cobra.Command{
		Use:   "continue <from> <to>",
		Short: "Mark a note as continuing on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args...)
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				if err := svc.MarkContinuation(cmd.Context(), addrs[0], addrs[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s continues on %s\n", addrs[0], addrs[1])
				return nil
			})
		},
	}

	linksCmd := &cobra.Command{
		Use:   "links <address>",
		Short: "List outgoing links of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				links, err := svc.GetLinks(cmd.Context(), addrs[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), links)
			})
		},
	}

	indexCmd := &cobra.Command{
		Use:   "index <parent>",
		Short: "Create an index note listing a note's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				note, err := svc.CreateIndex(cmd.Context(), addrs[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), note)
			})
		},
	}

	contextCmd := &cobra.Command{
		Use:   "context <address>",
		Short: "Show a note with its parent, children and links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				nc, err := svc.Context(cmd.Context(), addrs[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), nc)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <address>",
		Short: "Delete a note and its links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(svc *kb.Service) error {
				if err := svc.DeleteNote(cmd.Context(), addrs[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted note %s\n", addrs[0])
				return nil
			})
		},
	}

	noteCmd.AddCommand(
		createCmd, branchCmd, showCmd, listCmd, searchCmd, findCmd,
		linkCmd, continueCmd, linksCmd, indexCmd, contextCmd, deleteCmd,
	)
	return noteCmd
}

// printNotes writes one line per note, indented by address depth.
func printNotes(w io.Writer, notes []*kb.Note) {
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notes found.")
		return
	}
	for _, n := range notes {
		indent := strings.Repeat("  ", max(n.Address.Level()-1, 0))
		fmt.Fprintf(w, "%s%-8s %s\n", indent, n.Address, n.Title)
	}
}
