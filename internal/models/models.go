package models

import (
	"bytes"
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
)

// Report dimensions and metrics requested from the network report endpoint.
const (
	DimCountry = "COUNTRY"
	DimApp     = "APP"
	DimDate    = "DATE"

	MetricEarnings    = "ESTIMATED_EARNINGS"
	MetricImpressions = "IMPRESSIONS"
	MetricClicks      = "CLICKS"
)

type ItemKind int

const (
	ItemUnknown ItemKind = iota
	ItemRow
	ItemHeader
	ItemFooter
)

func (k ItemKind) String() string {
	switch k {
	case ItemRow:
		return "row"
	case ItemHeader:
		return "header"
	case ItemFooter:
		return "footer"
	}
	return "unknown"
}

// RawReportItem is one element of the streamed report array. Only rows carry
// data; Header and Footer keep their payload for diagnostics.
type RawReportItem struct {
	Kind   ItemKind
	Row    *RawRow
	Header json.RawMessage
	Footer json.RawMessage
}

func (it *RawReportItem) UnmarshalJSON(b []byte) error {
	*it = RawReportItem{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		// scalars, arrays and null are not report items
		return nil
	}
	if raw, ok := fields["row"]; ok {
		it.Kind = ItemRow
		var row RawRow
		if err := json.Unmarshal(raw, &row); err == nil && !isNull(raw) {
			it.Row = &row
		}
		return nil
	}
	if raw, ok := fields["header"]; ok {
		it.Kind = ItemHeader
		it.Header = raw
		return nil
	}
	if raw, ok := fields["footer"]; ok {
		it.Kind = ItemFooter
		it.Footer = raw
	}
	return nil
}

func (it RawReportItem) MarshalJSON() ([]byte, error) {
	switch it.Kind {
	case ItemRow:
		return json.Marshal(map[string]any{"row": it.Row})
	case ItemHeader:
		return json.Marshal(map[string]json.RawMessage{"header": orEmptyObject(it.Header)})
	case ItemFooter:
		return json.Marshal(map[string]json.RawMessage{"footer": orEmptyObject(it.Footer)})
	}
	return []byte("{}"), nil
}

type RawRow struct {
	DimensionValues map[string]DimensionValue `json:"dimensionValues"`
	MetricValues    map[string]MetricValue    `json:"metricValues"`
}

type DimensionValue struct {
	Value        string `json:"value"`
	DisplayLabel string `json:"displayLabel,omitempty"`
}

type MetricValue struct {
	MicrosValue  NumString `json:"microsValue,omitempty"`
	IntegerValue NumString `json:"integerValue,omitempty"`
	DoubleValue  NumString `json:"doubleValue,omitempty"`
}

// NumString holds a numeric value the API sends as a JSON string. Bare JSON
// numbers are accepted too; null leaves it empty.
type NumString string

func (n *NumString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		// objects, bools: treat as absent
		*n = ""
		return nil
	}
	*n = NumString(num.String())
	return nil
}

// NormalizedRecord is one report row after normalisation. Immutable once built.
type NormalizedRecord struct {
	Date        civil.Date `json:"date"`
	DateLabel   string     `json:"dateLabel"`
	Country     string     `json:"country"`
	CountryCode string     `json:"countryCode"`
	App         string     `json:"app"`
	AppID       string     `json:"appId"`
	RevenueUSD  float64    `json:"revenueUsd"`
	Impressions int64      `json:"impressions"`
	Clicks      int64      `json:"clicks"`
}

// DateKey is the YYYY-MM-DD form, lexicographically chronological.
func (r NormalizedRecord) DateKey() string { return r.Date.String() }

const DateLabelLayout = "Jan 2, 2006"

func LabelForDate(d civil.Date) string {
	return d.In(time.UTC).Format(DateLabelLayout)
}

type Stats struct {
	RevenueUSD  float64 `json:"revenueUsd"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	ECPM        float64 `json:"ecpm"`
}

func (s *Stats) Add(r NormalizedRecord) {
	s.RevenueUSD += r.RevenueUSD
	s.Impressions += r.Impressions
	s.Clicks += r.Clicks
}

type Aggregates struct {
	Totals           Stats            `json:"totals"`
	SummaryByCountry map[string]Stats `json:"summaryByCountry"`
	SummaryByApp     map[string]Stats `json:"summaryByApp"`
}

type SeriesPoint struct {
	Date        civil.Date `json:"date"`
	RevenueUSD  float64    `json:"revenueUsd"`
	Impressions int64      `json:"impressions"`
	Clicks      int64      `json:"clicks"`
}

type DateRange struct {
	Start civil.Date `json:"startDate"`
	End   civil.Date `json:"endDate"`
}

func (r DateRange) Valid() bool {
	return r.Start.IsValid() && r.End.IsValid() && !r.End.Before(r.Start)
}

type Account struct {
	Name              string `json:"name"`
	PublisherID       string `json:"publisherId"`
	CurrencyCode      string `json:"currencyCode,omitempty"`
	ReportingTimeZone string `json:"reportingTimeZone,omitempty"`
}

func isNull(b []byte) bool { return string(bytes.TrimSpace(b)) == "null" }

func orEmptyObject(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return b
}
