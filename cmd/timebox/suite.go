package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/suite"
)

var suiteCmd = &cobra.Command{
	Use:   "suite <name>",
	Short: "Run a configured suite and print a table of results",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuite,
}

func runSuite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	sc, ok := cfg.Suite(args[0])
	if !ok {
		return fmt.Errorf("suite %q is not configured", args[0])
	}
	s, err := suite.FromConfig(*sc, cfg.Sandbox.DefaultTimeout())
	if err != nil {
		return err
	}

	shared, err := initShared(cfg, logger, sharedOptions{store: true, output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer shared.Cleanup()

	report, err := shared.Runner.Run(context.Background(), s)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)

	if !report.OK() {
		return &exitError{code: exitWorkFailure}
	}
	return nil
}

func printReport(w io.Writer, r *suite.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tWORK\tEXPECT\tRESULT\tNARRATION")
	for _, res := range r.Results {
		verdict := "FAIL"
		switch {
		case res.Err != nil:
			verdict = "ERROR"
		case res.Passed:
			verdict = "ok"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.Name, res.Work, res.Expect, verdict, res.Narration())
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%s: %d passed, %d failed, %d errored in %s\n",
		r.Suite, r.Passed, r.Failed, r.Errored, r.Duration.Round(time.Millisecond))
}
