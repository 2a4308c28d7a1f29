package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skiptrace/internal/runner"
)

var (
	traceForce bool
	traceJSON  bool
)

var traceCmd = &cobra.Command{
	Use:   "trace <lead-id>",
	Short: "Trace a single lead through the provider chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "trace")
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.Manager.TraceLead(ctx, args[0], traceForce)
		if err != nil {
			return eris.Wrapf(err, "trace %s", args[0])
		}
		return printItem(item)
	},
}

func printItem(item *runner.ItemResult) error {
	if traceJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	}
	formatItem(os.Stdout, item)
	return nil
}

func init() {
	traceCmd.Flags().BoolVar(&traceForce, "force", false, "ignore a cached result and call providers again")
	traceCmd.Flags().BoolVar(&traceJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(traceCmd)
}
