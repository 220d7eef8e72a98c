package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/overtemp/internal/config"
	"github.com/sweeney/overtemp/internal/eventlog"
)

func newSeedCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Copy a YAML configuration file into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := bolt.Open(g.dbPath, 0o600, &bolt.Options{Timeout: time.Second})
			if err != nil {
				return fmt.Errorf("open database %s: %w", g.dbPath, err)
			}
			defer db.Close()

			n, err := seed(db, args[0])
			if err != nil {
				return err
			}
			slog.Info("configuration seeded", "file", args[0], "db", g.dbPath, "keys", n)
			return nil
		},
	}
}

func seed(db *bolt.DB, path string) (int, error) {
	fs, err := config.LoadFile(path)
	if err != nil {
		return 0, err
	}
	values, err := fs.Map()
	if err != nil {
		return 0, err
	}
	store, err := config.NewBoltStore(db)
	if err != nil {
		return 0, err
	}
	if err := config.Copy(store, values); err != nil {
		return 0, fmt.Errorf("seed %s: %w", path, err)
	}
	return len(values), nil
}

func newEventsCmd(g *globalOpts) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the most recent event log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := bolt.Open(g.dbPath, 0o600, &bolt.Options{Timeout: time.Second, ReadOnly: true})
			if err != nil {
				return fmt.Errorf("open database %s: %w", g.dbPath, err)
			}
			defer db.Close()
			return printEvents(cmd.OutOrStdout(), db, n)
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of entries")
	return cmd
}

func printEvents(w io.Writer, db *bolt.DB, n int) error {
	l, err := eventlog.Open(db)
	if err != nil {
		return err
	}
	entries, err := l.Recent(n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%6d  %s  %s\n", e.Seq, e.Time.Format(time.RFC3339), e.Message)
	}
	return nil
}
