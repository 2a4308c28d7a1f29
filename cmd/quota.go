package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/model"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's provider budget",
	Long: `Shows the daily budget window computed from the provider call ledger.
Reservations and the soft pause live in the serving process, so use
"skiptrace quota reset" against a running server to clear a pause.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		loc, err := cfg.Budget.Location()
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		guard := budget.New(st, budget.Config{DailyCapCents: cfg.Budget.DailyCapCents, Location: loc})
		q, err := guard.Quota(ctx)
		if err != nil {
			return eris.Wrap(err, "quota")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		}
		formatQuota(os.Stdout, q, -1)
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the soft pause on a running server",
	Long: `Asks a running "skiptrace serve" process to recompute its budget window
and clear the soft pause. Spend already recorded today still counts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		q, lookups, err := resetRemoteQuota(ctx, http.DefaultClient, server)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Soft pause cleared.")
		formatQuota(os.Stdout, q, lookups)
		return nil
	},
}

// remoteQuota is the subset of the API quota payload the CLI prints.
type remoteQuota struct {
	LimitCents     int64     `json:"limitCents"`
	SpentCents     int64     `json:"spentCents"`
	ReservedCents  int64     `json:"reservedCents"`
	RemainingCents int64     `json:"remainingCents"`
	Lookups        int64     `json:"remainingLookups"`
	Unlimited      bool      `json:"unlimited"`
	SoftPaused     bool      `json:"softPaused"`
	WindowStart    time.Time `json:"windowStart"`
	WindowEnd      time.Time `json:"windowEnd"`
}

type remoteEnvelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error"`
	Data    remoteQuota `json:"data"`
}

// resetRemoteQuota POSTs to the server's quota reset endpoint and returns
// the quota it reports afterwards with the worst-case lookups left.
func resetRemoteQuota(ctx context.Context, client *http.Client, server string) (model.Quota, int64, error) {
	url := strings.TrimRight(server, "/") + "/skiptrace/quota/reset"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return model.Quota{}, 0, eris.Wrap(err, "quota reset: build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return model.Quota{}, 0, eris.Wrapf(err, "quota reset: call %s", server)
	}
	defer resp.Body.Close() //nolint:errcheck

	var env remoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return model.Quota{}, 0, eris.Wrapf(err, "quota reset: decode response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return model.Quota{}, 0, eris.Errorf("quota reset: server returned %d: %s", resp.StatusCode, msg)
	}

	d := env.Data
	return model.Quota{
		LimitCents:     d.LimitCents,
		SpentCents:     d.SpentCents,
		ReservedCents:  d.ReservedCents,
		RemainingCents: d.RemainingCents,
		Unlimited:      d.Unlimited,
		SoftPaused:     d.SoftPaused,
		WindowStart:    d.WindowStart,
		WindowEnd:      d.WindowEnd,
	}, d.Lookups, nil
}

func init() {
	quotaCmd.Flags().Bool("json", false, "print the quota as JSON")
	quotaResetCmd.Flags().String("server", "", "base URL of the running server (default http://localhost:<server.port>)")
	quotaCmd.AddCommand(quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}
