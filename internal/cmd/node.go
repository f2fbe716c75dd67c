package cmd

import (
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/richardanaya/agent-office/internal/graph"
)

func newNodeCmd() *cobra.Command {
	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Node commands",
		Long:  "Create, inspect and delete graph nodes",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a node",
		Long:  "Create a node with a random ID, or with an ID derived from --key",
		Example: heredoc.Doc(`
# Create an agent node addressable as "alice"
agent-office --db office.db node create --type agent --key alice --prop name=Alice --prop level=3

# Force a string value with a leading "="
agent-office --db office.db node create --type mailbox --prop code==007
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeType, _ := cmd.Flags().GetString("type")
			key, _ := cmd.Flags().GetString("key")
			pairs, _ := cmd.Flags().GetStringArray("prop")

			props, err := parseProps(pairs)
			if err != nil {
				return err
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			node := graph.NewNode(nodeType, props)
			if key != "" {
				node = graph.NewNodeWithID(graph.DeriveID(key), nodeType, props)
			}
			if err := s.backend.CreateNode(cmd.Context(), node); err != nil {
				return fmt.Errorf("create node: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), node)
		},
	}
	createCmd.Flags().StringP("type", "t", "", "Node type")
	createCmd.Flags().StringP("key", "k", "", "String key to derive the node ID from")
	createCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")
	_ = createCmd.MarkFlagRequired("type")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			node, err := s.backend.GetNode(cmd.Context(), resolveID(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), node)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Set node properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("prop")
			props, err := parseProps(pairs)
			if err != nil {
				return err
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			node, err := s.backend.GetNode(cmd.Context(), resolveID(args[0]))
			if err != nil {
				return err
			}
			for k, v := range props {
				node.Set(k, v)
			}
			if err := s.backend.UpdateNode(cmd.Context(), node); err != nil {
				return fmt.Errorf("update node: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), node)
		},
	}
	setCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id := resolveID(args[0])
			if err := s.backend.DeleteNode(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted node %s\n", id)
			return nil
		},
	}

	nodeCmd.AddCommand(createCmd, getCmd, setCmd, deleteCmd)
	return nodeCmd
}

func newEdgeCmd() *cobra.Command {
	edgeCmd := &cobra.Command{
		Use:   "edge",
		Short: "Edge commands",
		Long:  "Create, list and delete typed directed edges",
	}

	createCmd := &cobra.Command{
		Use:   "create <type> <from> <to>",
		Short: "Create an edge",
		Example: heredoc.Doc(`
# alice manages bob
agent-office --db office.db edge create manages alice bob --prop since=2024
`),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("prop")
			props, err := parseProps(pairs)
			if err != nil {
				return err
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			edge := graph.NewEdge(args[0], resolveID(args[1]), resolveID(args[2]), props)
			if err := s.backend.CreateEdge(cmd.Context(), edge); err != nil {
				return fmt.Errorf("create edge: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), edge)
		},
	}
	createCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list <node-id>",
		Short: "List edges of a node, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			incoming, _ := cmd.Flags().GetBool("in")
			edgeType, _ := cmd.Flags().GetString("type")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id := resolveID(args[0])
			var edges []*graph.Edge
			if incoming {
				edges, err = s.backend.GetEdgesTo(cmd.Context(), id, edgeType)
			} else {
				edges, err = s.backend.GetEdgesFrom(cmd.Context(), id, edgeType)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), edges)
		},
	}
	listCmd.Flags().Bool("in", false, "List incoming instead of outgoing edges")
	listCmd.Flags().StringP("type", "t", "", "Only edges of this type")

	deleteCmd := &cobra.Command{
		Use:   "delete <edge-id>",
		Short: "Delete an edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id := resolveID(args[0])
			if err := s.backend.DeleteEdge(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted edge %s\n", id)
			return nil
		},
	}

	edgeCmd.AddCommand(createCmd, listCmd, deleteCmd)
	return edgeCmd
}
