package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/cost"
	"github.com/sells-group/skiptrace/internal/leadfile"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/runner"
)

// collectLeadIDs merges ids given as arguments with those read from file,
// keeping first-seen order and dropping duplicates and blanks.
func collectLeadIDs(ctx context.Context, args []string, file string, opts leadfile.Options) ([]string, error) {
	ids := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, a := range args {
		add(a)
	}
	if file != "" {
		fromFile, err := leadfile.ReadIDs(ctx, file, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "read lead ids from %s", file)
		}
		for _, id := range fromFile {
			add(id)
		}
	}

	if len(ids) == 0 {
		return nil, eris.New("no lead ids given: pass ids as arguments or use --file")
	}
	return ids, nil
}

// formatItem writes a single lead's trace outcome to w.
func formatItem(out io.Writer, item *runner.ItemResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Lead:\t%s\n", item.LeadID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", item.Status)
	if item.Reason != "" {
		_, _ = fmt.Fprintf(w, "Reason:\t%s\n", item.Reason)
	}
	_, _ = fmt.Fprintf(w, "Cached:\t%t\n", item.Cached)
	_, _ = fmt.Fprintf(w, "Cost:\t%s\n", cost.FormatCents(item.CostCents))
	if r := item.Result; r != nil {
		_, _ = fmt.Fprintf(w, "Provider:\t%s (%s)\n", r.ProviderName, r.Provider)
		for _, p := range r.Phones {
			_, _ = fmt.Fprintf(w, "Phone:\t%s\t%s\t%.2f%s\n", p.Number, p.Type, p.Confidence, phoneFlags(p))
		}
		for _, e := range r.Emails {
			_, _ = fmt.Fprintf(w, "Email:\t%s\t\t%.2f\n", e.Address, e.Confidence)
		}
	}
	_ = w.Flush()
}

func phoneFlags(p model.Phone) string {
	var flags []string
	if p.IsDNC {
		flags = append(flags, "dnc")
	}
	if p.IsLitigator {
		flags = append(flags, "litigator")
	}
	if len(flags) == 0 {
		return ""
	}
	return "\t" + strings.Join(flags, ",")
}

// formatBatch writes a per-lead table followed by run totals to w.
func formatBatch(out io.Writer, res *runner.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEAD\tSTATUS\tPROVIDER\tPHONES\tEMAILS\tCOST\tREASON")
	_, _ = fmt.Fprintln(w, "----\t------\t--------\t------\t------\t----\t------")
	for _, it := range res.Items {
		provider, phones, emails := "-", 0, 0
		if it.Result != nil {
			provider = it.Result.ProviderName
			phones, emails = len(it.Result.Phones), len(it.Result.Emails)
		}
		if it.Cached {
			provider += " (cached)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			it.LeadID,
			it.Status,
			provider,
			phones,
			emails,
			cost.FormatCents(it.CostCents),
			it.Reason,
		)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nRun %s: %d of %d succeeded, %d failed, %d not processed, cost %s\n",
		res.RunID,
		res.Succeeded(),
		res.Summary.Total,
		res.Summary.Failed,
		res.Summary.Queued+res.Summary.InFlight,
		cost.FormatCents(res.TotalCostCents),
	)
	if res.Summary.SoftPaused {
		_, _ = fmt.Fprintln(out, "Daily budget reached; remaining leads stay queued.")
	}
}

// formatPreflight writes a batch cost estimate and the quota it is checked
// against.
func formatPreflight(out io.Writer, est runner.Estimate, q model.Quota) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", est.Leads)
	_, _ = fmt.Fprintf(w, "Need lookup:\t%d\n", est.NeedLookup)
	_, _ = fmt.Fprintf(w, "Worst-case cost:\t%s\n", cost.FormatCents(est.EstimatedCents))
	_ = w.Flush()
	formatQuota(out, q, -1)
}

// formatQuota writes the budget window status. lookups below zero is
// omitted.
func formatQuota(out io.Writer, q model.Quota, lookups int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if q.Unlimited {
		_, _ = fmt.Fprintf(w, "Daily cap:\tunlimited\n")
	} else {
		_, _ = fmt.Fprintf(w, "Daily cap:\t%s\n", cost.FormatCents(q.LimitCents))
	}
	_, _ = fmt.Fprintf(w, "Spent:\t%s\n", cost.FormatCents(q.SpentCents))
	if q.ReservedCents > 0 {
		_, _ = fmt.Fprintf(w, "Reserved:\t%s\n", cost.FormatCents(q.ReservedCents))
	}
	if !q.Unlimited {
		_, _ = fmt.Fprintf(w, "Remaining:\t%s\n", cost.FormatCents(q.RemainingCents))
	}
	if lookups >= 0 {
		_, _ = fmt.Fprintf(w, "Lookups left:\t%d\n", lookups)
	}
	_, _ = fmt.Fprintf(w, "Soft paused:\t%t\n", q.SoftPaused)
	_, _ = fmt.Fprintf(w, "Window:\t%s to %s\n",
		q.WindowStart.Format("2006-01-02 15:04 MST"),
		q.WindowEnd.Format("2006-01-02 15:04 MST"),
	)
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLABEL\tSTATE\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t-------\t--------")

	for _, r := range runs {
		state, dur := "open", "-"
		if r.Finished() {
			state = "finished"
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		if r.SoftPaused {
			state += " (paused)"
		}

		label := r.SourceLabel
		if len(label) > 30 {
			label = label[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			label,
			state,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}
