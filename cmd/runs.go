package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/report"
	"github.com/sells-group/skiptrace/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect, report on and resume trace runs",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trace runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		label, _ := cmd.Flags().GetString("label")
		unfinished, _ := cmd.Flags().GetBool("unfinished")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			SourceLabel: label,
			Unfinished:  unfinished,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its item counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		counts, err := st.CountItems(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(model.RunSummary{Run: *run, ItemCounts: counts})
	},
}

// -- runs report --

var runsReportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print or export a run report",
	Long: `Prints the run report. A finished run's report is persisted on first
request and never changes afterwards; an open run gets a live report.

Formats: json (default), markdown, xlsx. xlsx requires --out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		if format == "xlsx" && outPath == "" {
			return eris.New("runs report: --out is required for xlsx")
		}

		loc, err := cfg.Budget.Location()
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := report.NewGenerator(st, loc).Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs report")
		}

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrapf(err, "runs report: create %s", outPath)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeReport(out, rep, format)
	},
}

func writeReport(out io.Writer, rep *model.RunReport, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "markdown", "md":
		_, err := io.WriteString(out, report.FormatMarkdown(rep))
		return err
	case "xlsx":
		return report.WriteXLSX(out, rep)
	default:
		return eris.Errorf("runs report: unknown format %q (want json, markdown or xlsx)", format)
	}
}

// -- runs resume --

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an unfinished run",
	Long: `Marks items left in flight by an interrupted process as failed and
processes the items still queued. Finished runs cannot be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "trace")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Manager.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs resume")
		}
		formatBatch(os.Stdout, res)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("label", "", "filter by source label")
	runsListCmd.Flags().Bool("unfinished", false, "only runs that have not finished")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsReportCmd.Flags().String("format", "json", "output format (json, markdown, xlsx)")
	runsReportCmd.Flags().String("out", "", "write the report to this file instead of stdout")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsReportCmd)
	runsCmd.AddCommand(runsResumeCmd)
	rootCmd.AddCommand(runsCmd)
}
