package metrics

import (
	"sort"

	"cloud.google.com/go/civil"

	"github.com/AngelCh415/admob-dash/internal/models"
)

// Aggregate sums revenue, impressions and clicks overall, per country and per
// app. Groups are keyed by resolved display name, so two app ids sharing a
// label land in the same bucket.
func Aggregate(recs []models.NormalizedRecord) models.Aggregates {
	out := models.Aggregates{
		SummaryByCountry: make(map[string]models.Stats),
		SummaryByApp:     make(map[string]models.Stats),
	}
	for _, r := range recs {
		c := out.SummaryByCountry[r.Country]
		c.Add(r)
		out.SummaryByCountry[r.Country] = c

		a := out.SummaryByApp[r.App]
		a.Add(r)
		out.SummaryByApp[r.App] = a

		out.Totals.Add(r)
	}
	out.Totals = withRatios(out.Totals)
	for k, v := range out.SummaryByCountry {
		out.SummaryByCountry[k] = withRatios(v)
	}
	for k, v := range out.SummaryByApp {
		out.SummaryByApp[k] = withRatios(v)
	}
	return out
}

// SeriesByDate sums records per day, oldest first.
func SeriesByDate(recs []models.NormalizedRecord) []models.SeriesPoint {
	byDay := make(map[civil.Date]*models.SeriesPoint)
	for _, r := range recs {
		p, ok := byDay[r.Date]
		if !ok {
			p = &models.SeriesPoint{Date: r.Date}
			byDay[r.Date] = p
		}
		p.RevenueUSD += r.RevenueUSD
		p.Impressions += r.Impressions
		p.Clicks += r.Clicks
	}
	out := make([]models.SeriesPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// métricas derivadas
func withRatios(s models.Stats) models.Stats {
	s.CTR = round4(safeDivF(float64(s.Clicks), float64(s.Impressions)))
	s.ECPM = round2(safeDivF(s.RevenueUSD*1000, float64(s.Impressions)))
	return s
}

func safeDivF(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
func round2(f float64) float64 { return float64(int64(f*100+0.5)) / 100 }
func round4(f float64) float64 { return float64(int64(f*10000+0.5)) / 10000 }
