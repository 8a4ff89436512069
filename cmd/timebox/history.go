package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/sandbox"
	"github.com/jkaninda/timebox/internal/storage"
)

var (
	historyWork    string
	historySuite   string
	historyOutcome string
	historyLimit   int
	historyStats   bool
	historySince   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyWork, "work", "", "only runs of this work")
	historyCmd.Flags().StringVar(&historySuite, "suite", "", "only runs of this suite")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "only this outcome: success, nonzero_exit, signaled, timeout")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "print run counts per outcome instead of the runs")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "with --stats, only count runs started within this window (0 = all)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	filter := storage.RunFilter{Work: historyWork, Suite: historySuite, Limit: historyLimit}
	if historyOutcome != "" {
		kind, err := sandbox.ParseKind(historyOutcome)
		if err != nil {
			return err
		}
		filter.Outcome = &kind
	}

	store, err := initStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyStats {
		if historySince < 0 {
			return fmt.Errorf("--since must not be negative")
		}
		var since time.Time
		if historySince > 0 {
			since = time.Now().Add(-historySince)
		}
		stats, err := store.Runs().Stats(context.Background(), since)
		if err != nil {
			return err
		}
		return printStats(cmd.OutOrStdout(), stats)
	}

	runs, err := store.Runs().List(context.Background(), filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tWORK\tSUITE\tOUTCOME\tDURATION\tNARRATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Work,
			dash(r.Suite),
			r.Outcome,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			r.Narration,
		)
	}
	return tw.Flush()
}

// printStats writes one line per outcome, in classification order, then the total.
func printStats(w io.Writer, stats storage.RunStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tRUNS")
	for _, k := range []sandbox.Kind{sandbox.KindSuccess, sandbox.KindExited, sandbox.KindSignaled, sandbox.KindTimedOut} {
		fmt.Fprintf(tw, "%s\t%d\n", k, stats[k])
	}
	fmt.Fprintf(tw, "total\t%d\n", stats.Total())
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
