package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/skiptrace/internal/cost"
	"github.com/sells-group/skiptrace/internal/model"
)

// FormatMarkdown renders a report for terminal output.
func FormatMarkdown(r *model.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- Source: %s\n", r.SourceLabel)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(&b, "- Finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("- Finished: in progress\n")
	}
	fmt.Fprintf(&b, "- Duration: %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	if r.SoftPaused {
		b.WriteString("- Soft paused: budget exhausted\n")
	}

	t := r.Totals
	b.WriteString("\n## Totals\n\n")
	b.WriteString("| Total | Done | Failed | Queued | Cached | Provider calls | Cost |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d | %s |\n",
		t.Total, t.Done, t.Failed, t.Queued+t.InFlight, t.Cached, t.ProviderCalls, cost.FormatCents(t.CostCents))

	b.WriteString("\n## Hit rates\n\n")
	fmt.Fprintf(&b, "- Phone: %.1f%%\n", r.PhoneHitRate*100)
	fmt.Fprintf(&b, "- Email: %.1f%%\n", r.EmailHitRate*100)
	fmt.Fprintf(&b, "- Cache: %.1f%%\n", r.CacheHitRatio*100)

	if len(r.ByProvider) > 0 {
		b.WriteString("\n## Providers\n\n")
		b.WriteString("| Provider | Calls | Successes | Cost |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, name := range providerNames(r.ByProvider) {
			ps := r.ByProvider[name]
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n", name, ps.Calls, ps.Successes, cost.FormatCents(ps.CostCents))
		}
	}

	if len(r.TopFailures) > 0 {
		b.WriteString("\n## Top failures\n\n")
		for _, f := range r.TopFailures {
			fmt.Fprintf(&b, "- %s: %d\n", f.Reason, f.Count)
		}
	}
	if len(r.SampleEnriched) > 0 {
		fmt.Fprintf(&b, "\nSample enriched: %s\n", strings.Join(r.SampleEnriched, ", "))
	}
	if len(r.SampleFailed) > 0 {
		fmt.Fprintf(&b, "Sample failed: %s\n", strings.Join(r.SampleFailed, ", "))
	}
	return b.String()
}

// WriteXLSX writes the report as a workbook with a summary sheet and a
// per-provider sheet.
func WriteXLSX(w io.Writer, r *model.RunReport) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addRow(summary, "Run", r.RunID)
	addRow(summary, "Source", r.SourceLabel)
	addRow(summary, "Started", r.StartedAt.UTC().Format(time.RFC3339))
	if r.FinishedAt != nil {
		addRow(summary, "Finished", r.FinishedAt.UTC().Format(time.RFC3339))
	}
	addIntRow(summary, "Duration (ms)", r.DurationMs)
	addIntRow(summary, "Total", int64(r.Totals.Total))
	addIntRow(summary, "Done", int64(r.Totals.Done))
	addIntRow(summary, "Failed", int64(r.Totals.Failed))
	addIntRow(summary, "Cached", int64(r.Totals.Cached))
	addIntRow(summary, "Provider calls", int64(r.Totals.ProviderCalls))
	addIntRow(summary, "Cost (cents)", r.Totals.CostCents)
	addFloatRow(summary, "Phone hit rate", r.PhoneHitRate)
	addFloatRow(summary, "Email hit rate", r.EmailHitRate)
	addFloatRow(summary, "Cache hit ratio", r.CacheHitRatio)

	providers, err := f.AddSheet("Providers")
	if err != nil {
		return eris.Wrap(err, "report: add providers sheet")
	}
	addRow(providers, "Provider", "Calls", "Successes", "Cost (cents)")
	for _, name := range providerNames(r.ByProvider) {
		ps := r.ByProvider[name]
		row := providers.AddRow()
		row.AddCell().SetString(name)
		row.AddCell().SetInt(ps.Calls)
		row.AddCell().SetInt(ps.Successes)
		row.AddCell().SetInt64(ps.CostCents)
	}

	failures, err := f.AddSheet("Failures")
	if err != nil {
		return eris.Wrap(err, "report: add failures sheet")
	}
	addRow(failures, "Reason", "Count")
	for _, fr := range r.TopFailures {
		row := failures.AddRow()
		row.AddCell().SetString(fr.Reason)
		row.AddCell().SetInt(fr.Count)
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addIntRow(sheet *xlsx.Sheet, label string, v int64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetInt64(v)
}

func addFloatRow(sheet *xlsx.Sheet, label string, v float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloat(v)
}

func providerNames(m map[string]model.ProviderStats) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
