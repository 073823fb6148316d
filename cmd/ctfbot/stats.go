package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ctfbot.ai/internal/persistence/journal"
	"ctfbot.ai/internal/persistence/statsdb"
)

var (
	statsRun     string
	statsMatches int
	statsErrors  int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print handler decision counts and recorded matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.Stats.Path); err != nil {
			return fmt.Errorf("stats db: %w", err)
		}
		db, err := statsdb.Open(cfg.Stats.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		runs, err := db.Runs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "runs: %d\n", len(runs))

		counts, err := db.HandlerCounts(ctx, statsRun)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLER\tACTED\tERRORS")
		for _, c := range counts {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", c.Handler, c.Acted, c.Errors)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		matches, err := db.Matches(ctx, statsMatches)
		if err != nil {
			return err
		}
		if len(matches) > 0 {
			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDED\tUSER\tTEAM\tCAPTURES\tSCORE\tPLAYERS")
			for _, m := range matches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					m.EndedAt.Local().Format(time.DateTime), m.Username, m.Team, m.Captures, m.Score, m.Players)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		if statsErrors > 0 {
			errs, err := db.RecentErrors(ctx, statsRun, statsErrors)
			if err != nil {
				return err
			}
			if len(errs) > 0 {
				fmt.Fprintln(out)
				for _, it := range errs {
					fmt.Fprintf(out, "%s  %-12s %s\n", it.Time.Local().Format(time.DateTime), it.Handler, it.Err)
				}
			}
		}
		return nil
	},
}

var journalDir string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Summarise the decision journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := journalDir
		if dir == "" {
			dir = cfg.Journal.Dir
		}
		s, err := journal.Summarize(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "files: %d  iterations: %d  events: %d  matches: %d\n", s.Files, s.Iterations, s.Events, s.Matches)
		printCounts(out, "handler", s.ByHandler)
		printCounts(out, "outcome", s.ByOutcome)
		printCounts(out, "event", s.ByEvent)
		return nil
	},
}

func printCounts(out io.Writer, title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(out, "\nby %s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-14s %d\n", k, m[k])
	}
}

func init() {
	statsCmd.Flags().StringVar(&statsRun, "run", "", "limit handler counts and errors to one run id")
	statsCmd.Flags().IntVar(&statsMatches, "matches", 20, "number of recent matches to list")
	statsCmd.Flags().IntVar(&statsErrors, "errors", 0, "number of recent handler errors to list")
	journalCmd.Flags().StringVar(&journalDir, "dir", "", "journal directory (default journal.dir)")
}
