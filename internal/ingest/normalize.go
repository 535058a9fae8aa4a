package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/AngelCh415/admob-dash/internal/models"
)

// MalformedRecordError describes a report row that was skipped.
type MalformedRecordError struct {
	Index  int
	Field  string
	Value  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at %d: %s=%q: %s", e.Index, e.Field, e.Value, e.Reason)
}

var regionNames = display.English.Regions()

// DecodeReport parses a networkReport:generate response body. Anything that is
// not a JSON array decodes to an empty report.
func DecodeReport(b []byte) []models.RawReportItem {
	var items []models.RawReportItem
	if err := json.Unmarshal(b, &items); err != nil {
		return []models.RawReportItem{}
	}
	if items == nil {
		return []models.RawReportItem{}
	}
	return items
}

// Normalize flattens the row items of a report, dropping headers, footers and
// rows that cannot be parsed.
func Normalize(items []models.RawReportItem) []models.NormalizedRecord {
	recs, _ := NormalizeReport(items)
	return recs
}

// NormalizeReport is Normalize that also returns why rows were skipped.
func NormalizeReport(items []models.RawReportItem) ([]models.NormalizedRecord, []*MalformedRecordError) {
	out := make([]models.NormalizedRecord, 0, len(items))
	var bad []*MalformedRecordError
	for i, it := range items {
		if it.Kind != models.ItemRow {
			continue
		}
		if it.Row == nil {
			bad = append(bad, &MalformedRecordError{Index: i, Field: "row", Reason: "unreadable row payload"})
			continue
		}
		rec, err := normalizeRow(i, it.Row)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, rec)
	}
	return out, bad
}

func normalizeRow(i int, row *models.RawRow) (models.NormalizedRecord, *MalformedRecordError) {
	dateRaw := row.DimensionValues[models.DimDate].Value
	d, reason := parseReportDate(dateRaw)
	if reason != "" {
		return models.NormalizedRecord{}, &MalformedRecordError{Index: i, Field: models.DimDate, Value: dateRaw, Reason: reason}
	}

	countryCode := strings.TrimSpace(row.DimensionValues[models.DimCountry].Value)
	app := row.DimensionValues[models.DimApp]
	appName := strings.TrimSpace(app.DisplayLabel)
	if appName == "" {
		appName = app.Value
	}

	return models.NormalizedRecord{
		Date:        d,
		DateLabel:   models.LabelForDate(d),
		Country:     CountryName(countryCode),
		CountryCode: countryCode,
		App:         appName,
		AppID:       app.Value,
		RevenueUSD:  MicrosToUnits(row.MetricValues[models.MetricEarnings].MicrosValue),
		Impressions: ParseCount(row.MetricValues[models.MetricImpressions].IntegerValue),
		Clicks:      ParseCount(row.MetricValues[models.MetricClicks].IntegerValue),
	}, nil
}

// parseReportDate reads a YYYYMMDD dimension value. A non-empty reason means
// the value is unusable.
func parseReportDate(s string) (civil.Date, string) {
	if len(s) != 8 {
		return civil.Date{}, "want 8 characters"
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return civil.Date{}, "not numeric"
		}
	}
	y, _ := strconv.Atoi(s[0:4])
	m, _ := strconv.Atoi(s[4:6])
	dd, _ := strconv.Atoi(s[6:8])
	d := civil.Date{Year: y, Month: time.Month(m), Day: dd}
	if !d.IsValid() {
		return civil.Date{}, "not a calendar date"
	}
	return d, ""
}

// CountryName maps an ISO region code to its English name, falling back to
// the code itself.
func CountryName(code string) string {
	if code == "" {
		return ""
	}
	r, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if n := regionNames.Name(r); n != "" {
		return n
	}
	return code
}

// MicrosToUnits converts a micros string to currency units. Absent,
// non-numeric and negative values count as zero.
func MicrosToUnits(s models.NumString) float64 {
	d, ok := parseDecimal(s)
	if !ok {
		return 0
	}
	f, _ := d.Shift(-6).Float64()
	return f
}

var maxCount = decimal.NewFromInt(math.MaxInt64)

// ParseCount reads the integer part of a count. Absent, non-numeric and
// negative values count as zero; values past int64 saturate.
func ParseCount(s models.NumString) int64 {
	d, ok := parseDecimal(s)
	if !ok {
		return 0
	}
	if d.GreaterThanOrEqual(maxCount) {
		return math.MaxInt64
	}
	return d.IntPart()
}

func parseDecimal(s models.NumString) (decimal.Decimal, bool) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}
