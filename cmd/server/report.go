package main

import (
	"cmp"
	"context"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/AngelCh415/admob-dash/internal/httpx"
	"github.com/AngelCh415/admob-dash/internal/metrics"
	"github.com/AngelCh415/admob-dash/internal/models"
)

const cliSession = "cli"

var (
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Fetch a network report once and print totals and summaries",
		RunE:  report,
	}

	reportFrom string
	reportTo   string
	reportTop  int
)

func report(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rng, err := httpx.RangeDefaults{Days: a.cfg.DefaultRangeDays, Location: a.loc}.Resolve(reportFrom, reportTo)
	if err != nil {
		return err
	}
	a.store.Ensure(cliSession)
	if _, err := a.loader.Load(ctx, cliSession, rng); err != nil {
		return err
	}
	d, err := a.svc.Dashboard(cliSession)
	if err != nil {
		return err
	}
	printDashboard(cmd.OutOrStdout(), d, reportTop)
	return nil
}

func printDashboard(w io.Writer, d metrics.Dashboard, top int) {
	p := message.NewPrinter(language.English)
	if d.Range != nil {
		p.Fprintf(w, "Account %s, %s to %s\n\n", d.Account, d.Range.Start, d.Range.End)
	}
	if d.Status == metrics.StatusNoData {
		p.Fprintln(w, "No data available for the selected date range")
		return
	}
	if d.Skipped > 0 {
		p.Fprintf(w, "%d malformed rows skipped\n\n", d.Skipped)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	p.Fprintf(tw, "Total\t$%.2f\t%d impressions\t%d clicks\t\n\n", d.Totals.RevenueUSD, d.Totals.Impressions, d.Totals.Clicks)
	printSummary(p, tw, "Country", d.SummaryByCountry, top)
	p.Fprintln(tw)
	printSummary(p, tw, "App", d.SummaryByApp, top)
	tw.Flush()
}

// printSummary writes the top groups by revenue.
func printSummary(p *message.Printer, w io.Writer, title string, groups map[string]models.Stats, top int) {
	rows := lo.Entries(groups)
	slices.SortFunc(rows, func(a, b lo.Entry[string, models.Stats]) int {
		if c := cmp.Compare(b.Value.RevenueUSD, a.Value.RevenueUSD); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	p.Fprintf(w, "%s\tRevenue\tImpressions\tClicks\teCPM\t\n", title)
	for _, r := range rows {
		name := r.Key
		if name == "" {
			name = "(unknown)"
		}
		p.Fprintf(w, "%s\t$%.2f\t%d\t%d\t$%.2f\t\n", name, r.Value.RevenueUSD, r.Value.Impressions, r.Value.Clicks, r.Value.ECPM)
	}
}
