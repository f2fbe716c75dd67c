package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/observability"
)

func newNeighborsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neighbors <id>",
		Short: "List nodes adjacent to a node",
		Example: heredoc.Doc(`
# Nodes alice points at
agent-office --db office.db neighbors alice

# Everything linked to alice by "manages" in either direction
agent-office --db office.db neighbors alice --direction both --type manages
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirFlag, _ := cmd.Flags().GetString("direction")
			edgeType, _ := cmd.Flags().GetString("type")

			dir, ok := graph.ParseDirection(dirFlag)
			if !ok {
				return fmt.Errorf("invalid direction %q, want out, in or both", dirFlag)
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			nodes, err := s.backend.GetNeighbors(cmd.Context(), resolveID(args[0]), edgeType, dir)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), nodes)
		},
	}
	cmd.Flags().String("direction", "out", "Edge direction: out, in or both")
	cmd.Flags().StringP("type", "t", "", "Only follow edges of this type")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search nodes",
		Long: `Search nodes by type, text, property values and time range.

Text matches case-insensitively anywhere in the serialized properties.
--where key=value matches properties whose scalar text form equals value.`,
		Example: heredoc.Doc(`
# Agents mentioning "alice", oldest first
agent-office --db office.db search alice --type agent --order created --asc

# Exact property match, second page of 10
agent-office --db office.db search --where status=open --limit 10 --offset 10
`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, _ := cmd.Flags().GetStringArray("type")
			where, _ := cmd.Flags().GetStringArray("where")
			order, _ := cmd.Flags().GetString("order")
			asc, _ := cmd.Flags().GetBool("asc")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			since, _ := cmd.Flags().GetDuration("since")
			asJSON, _ := cmd.Flags().GetBool("json")

			filters, err := parseFilters(where)
			if err != nil {
				return err
			}

			q := graph.SearchQuery{
				NodeTypes:       types,
				PropertyFilters: filters,
				Limit:           limit,
				Offset:          offset,
			}
			if len(args) == 1 {
				q.Text = args[0]
			}
			switch order {
			case "updated":
				q.OrderBy = graph.OrderByUpdatedAt
			case "created":
				q.OrderBy = graph.OrderByCreatedAt
			default:
				return fmt.Errorf("invalid order %q, want created or updated", order)
			}
			if asc {
				q.Direction = graph.Asc
			}
			if since > 0 {
				q.UpdatedAfter = time.Now().Add(-since)
			}

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			results, err := s.backend.Search(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}

			if len(results.Items) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, n := range results.Items {
				fmt.Fprintf(out, "[%d] %s %s\n", results.Offset+i+1, n.Type, n.ID)
				fmt.Fprintf(out, "    %s\n", summarize(n.Properties, 120))
			}
			fmt.Fprintf(out, "\nShowing %d of %d", results.ReturnedCount, results.TotalCount)
			if results.HasMore {
				fmt.Fprintf(out, " (more with --offset %d)", results.Offset+results.Limit)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringArrayP("type", "t", nil, "Only nodes of this type (repeatable)")
	cmd.Flags().StringArrayP("where", "w", nil, "Property filter key=value (repeatable)")
	cmd.Flags().String("order", "updated", "Sort by created or updated")
	cmd.Flags().Bool("asc", false, "Oldest first")
	cmd.Flags().IntP("limit", "n", graph.DefaultSearchLimit, "Maximum number of results")
	cmd.Flags().Int("offset", 0, "Results to skip")
	cmd.Flags().Duration("since", 0, "Only nodes updated within this duration")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

// summarize renders properties as sorted k=v pairs, truncated to max bytes.
func summarize(props graph.Properties, max int) string {
	parts := make([]string, 0, len(props))
	for _, k := range slices.Sorted(maps.Keys(props)) {
		parts = append(parts, k+"="+props[k].String())
	}
	s := strings.Join(parts, " ")
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

func newRelatedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "related <id>",
		Short: "List nodes within N hops in either direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			nodes, err := graph.Related(cmd.Context(), s.backend, resolveID(args[0]), depth)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), nodes)
		},
	}
	cmd.Flags().Int("depth", 1, "Maximum number of hops")
	return cmd
}

func newPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Find a shortest path along outgoing edges",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxDepth, _ := cmd.Flags().GetInt("max-depth")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			path, err := graph.ShortestPath(cmd.Context(), s.backend, resolveID(args[0]), resolveID(args[1]), maxDepth)
			if err != nil {
				return err
			}
			if path == nil {
				return fmt.Errorf("no path within %d hops", maxDepth)
			}
			return writeJSON(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().Int("max-depth", 6, "Maximum path length in edges")
	return cmd
}

func newSubgraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subgraph <id>",
		Short: "Extract the nodes and edges around a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			sub, err := graph.ExtractSubgraph(cmd.Context(), s.backend, resolveID(args[0]), depth)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().Int("depth", 1, "Maximum number of hops from the center")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			metrics, _ := cmd.Flags().GetBool("metrics")

			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			stats, err := s.backend.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if metrics {
				return observability.WriteText(out, prometheus.DefaultGatherer)
			}
			if asJSON {
				return writeJSON(out, stats)
			}

			fmt.Fprintln(out, "Graph Statistics")
			fmt.Fprintln(out, "================")
			fmt.Fprintf(out, "Total nodes: %d\n", stats.NodeCount)
			fmt.Fprintf(out, "Total edges: %d\n", stats.EdgeCount)
			printCounts(cmd, "Nodes by Type:", stats.NodesByType)
			printCounts(cmd, "Edges by Type:", stats.EdgesByType)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	cmd.Flags().Bool("metrics", false, "Output process metrics in the Prometheus text format")
	return cmd
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(out, "  %-20s %d\n", k+":", counts[k])
	}
}
