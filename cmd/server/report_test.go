package main

import (
	"bytes"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"

	"github.com/AngelCh415/admob-dash/internal/metrics"
	"github.com/AngelCh415/admob-dash/internal/models"
)

func TestPrintDashboard(t *testing.T) {
	d := metrics.Dashboard{
		Status:  metrics.StatusOK,
		Account: "accounts/pub-1",
		Range: &models.DateRange{
			Start: civil.Date{Year: 2024, Month: 1, Day: 1},
			End:   civil.Date{Year: 2024, Month: 1, Day: 31},
		},
		Skipped: 2,
		Totals:  models.Stats{RevenueUSD: 3.5, Impressions: 12000, Clicks: 30},
		SummaryByCountry: map[string]models.Stats{
			"United States": {RevenueUSD: 3, Impressions: 10000},
			"Mexico":        {RevenueUSD: 0.5, Impressions: 2000},
			"":              {RevenueUSD: 0.01},
		},
		SummaryByApp: map[string]models.Stats{"X": {RevenueUSD: 3.5, Impressions: 12000}},
	}

	var buf bytes.Buffer
	printDashboard(&buf, d, 2)
	out := buf.String()

	assert.Contains(t, out, "accounts/pub-1, 2024-01-01 to 2024-01-31")
	assert.Contains(t, out, "2 malformed rows skipped")
	assert.Contains(t, out, "12,000")
	assert.Contains(t, out, "United States")
	assert.Contains(t, out, "Mexico")
	// top 2 only
	assert.NotContains(t, out, "(unknown)")
	assert.Less(t, strings.Index(out, "United States"), strings.Index(out, "Mexico"))
}

func TestPrintDashboardNoData(t *testing.T) {
	var buf bytes.Buffer
	printDashboard(&buf, metrics.Dashboard{Status: metrics.StatusNoData}, 0)
	assert.Contains(t, buf.String(), "No data available")
}
