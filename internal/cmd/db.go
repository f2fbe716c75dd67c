package cmd

import (
	"errors"
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
)

var errNeedsSQLite = errors.New("this command needs the sqlite backend (use --db or --backend sqlite)")

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database schema commands",
	}

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Drop and recreate the graph tables",
		Long:  "Drop the nodes and edges tables if they exist and recreate them with their indexes. All stored data is lost.",
		Example: heredoc.Doc(`
agent-office --db office.db db setup
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.sqlite == nil {
				return errNeedsSQLite
			}

			if err := s.sqlite.SetupTables(cmd.Context()); err != nil {
				return fmt.Errorf("setup tables: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Graph tables recreated")
			return nil
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.sqlite == nil {
				return errNeedsSQLite
			}

			if err := s.sqlite.Migrate(cmd.Context()); err != nil {
				return err
			}
			version, err := s.sqlite.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Schema at version %d\n", version)
			return nil
		},
	}

	dbCmd.AddCommand(setupCmd, migrateCmd)
	return dbCmd
}
