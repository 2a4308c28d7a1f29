package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/leadfile"
	"github.com/sells-group/skiptrace/internal/runner"
)

var (
	runFile   string
	runSheet  string
	runLabel  string
	runForce  bool
	runDryRun bool
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run [lead-id...]",
	Short: "Trace a batch of leads as one run",
	Long: `Creates a run for the given lead ids and/or the ids in --file and
processes it. The batch is refused up front when its worst-case cost does
not fit in what remains of today's budget.

Interrupting with Ctrl-C stops dispatch and leaves the run resumable with
"skiptrace runs resume <run-id>".

Examples:
  skiptrace run L1 L2 L3
  skiptrace run --file march.csv --label march-list
  skiptrace run --file march.xlsx --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ids, err := collectLeadIDs(ctx, args, runFile, leadfile.Options{Sheet: runSheet})
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "trace")
		if err != nil {
			return err
		}
		defer env.Close()

		est, q, err := env.Manager.Preflight(ctx, ids, runForce)
		if runDryRun {
			formatPreflight(os.Stdout, est, q)
			return err
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}

		label := runLabel
		if label == "" && runFile != "" {
			label = runFile
		}
		res, err := env.Manager.Submit(ctx, ids, runner.SubmitOptions{SourceLabel: label, Force: runForce})
		if err != nil {
			return eris.Wrap(err, "run")
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			formatBatch(os.Stdout, res)
		}

		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "Interrupted; resume with: skiptrace runs resume %s\n", res.RunID)
		}
		zap.L().Info("run complete",
			zap.String("run_id", res.RunID),
			zap.Int("succeeded", res.Succeeded()),
			zap.Int64("cost_cents", res.TotalCostCents),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "", "CSV, TSV or XLSX file with a lead id column")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	runCmd.Flags().StringVar(&runLabel, "label", "", "source label recorded on the run (default the file name)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "re-trace leads that already have a result")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the cost estimate and quota without tracing")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the batch result as JSON")
	rootCmd.AddCommand(runCmd)
}
