package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/leadfile"
	"github.com/sells-group/skiptrace/internal/model"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Load and inspect leads",
}

var leadsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import leads from a CSV, TSV or XLSX file",
	Long: `Reads a lead id column plus either an address column or street, city,
state and zip columns, and upserts them. Existing leads keep their phone
and email; only the address is updated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sheet, _ := cmd.Flags().GetString("sheet")
		leads, err := leadfile.Read(ctx, args[0], leadfile.Options{Sheet: sheet})
		if err != nil {
			return eris.Wrap(err, "leads import")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertLeads(ctx, leads)
		if err != nil {
			return eris.Wrap(err, "leads import")
		}

		zap.L().Info("leads imported", zap.String("file", args[0]), zap.Int("rows", len(leads)), zap.Int("upserted", n))
		fmt.Fprintf(os.Stdout, "Imported %d leads from %s\n", n, args[0])
		return nil
	},
}

// leadView is a lead with its current enrichment result, if any.
type leadView struct {
	model.Lead
	Result *model.EnrichmentResult `json:"result,omitempty"`
}

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show a lead and its current contact result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		res, err := st.GetCurrent(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(leadView{Lead: *lead, Result: res})
	},
}

func init() {
	leadsImportCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	leadsCmd.AddCommand(leadsImportCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	rootCmd.AddCommand(leadsCmd)
}
