package metrics

import (
	"cmp"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/AngelCh415/admob-dash/internal/models"
)

// View is the visible slice of the table plus what the filter controls need.
type View struct {
	State           models.ViewState          `json:"state"`
	Rows            []models.NormalizedRecord `json:"rows"`
	Page            int                       `json:"page"`
	PageCount       int                       `json:"pageCount"`
	PageSize        int                       `json:"pageSize"`
	FilteredCount   int                       `json:"filteredCount"`
	TotalCount      int                       `json:"totalCount"`
	FirstRow        int                       `json:"firstRow"`
	LastRow         int                       `json:"lastRow"`
	UniqueCountries []string                  `json:"uniqueCountries"`
	UniqueApps      []string                  `json:"uniqueApps"`
	UniqueDates     []string                  `json:"uniqueDates"`
	Filtered        bool                      `json:"filtered"`
	Empty           bool                      `json:"empty"`
}

// DeriveView filters, sorts and paginates recs for st. The page is clamped
// into [1, PageCount] so a stale page never shows an empty slice.
func DeriveView(recs []models.NormalizedRecord, st models.ViewState) View {
	if st.PageSize <= 0 {
		st.PageSize = models.DefaultPageSize
	}
	rows := SortRecords(FilterRecords(recs, st), st.SortKey, st.SortDirection)

	pageCount := models.PageCount(len(rows), st.PageSize)
	st.Page = models.ClampPage(st.Page, pageCount)
	offset := (st.Page - 1) * st.PageSize
	pageRows := paginate(rows, st.PageSize, offset)

	v := View{
		State:           st,
		Rows:            pageRows,
		Page:            st.Page,
		PageCount:       pageCount,
		PageSize:        st.PageSize,
		FilteredCount:   len(rows),
		TotalCount:      len(recs),
		UniqueCountries: uniqueSorted(recs, func(r models.NormalizedRecord) string { return r.Country }),
		UniqueApps:      uniqueSorted(recs, func(r models.NormalizedRecord) string { return r.App }),
		UniqueDates:     uniqueDates(recs),
		Filtered:        st.HasFilters(),
		Empty:           len(recs) == 0,
	}
	if len(pageRows) > 0 {
		v.FirstRow = offset + 1
		v.LastRow = offset + len(pageRows)
	}
	return v
}

// FilterRecords keeps records matching every non-empty filter. Matching is a
// case-insensitive substring test; the app filter also looks at the app id and
// the date filter at both the ISO key and the display label.
func FilterRecords(recs []models.NormalizedRecord, st models.ViewState) []models.NormalizedRecord {
	country, app, date := norm(st.CountryFilter), norm(st.AppFilter), norm(st.DateFilter)
	return lo.Filter(recs, func(r models.NormalizedRecord, _ int) bool {
		if country != "" && !contains(r.Country, country) {
			return false
		}
		if app != "" && !contains(r.App, app) && !contains(r.AppID, app) {
			return false
		}
		if date != "" && !contains(r.DateKey(), date) && !contains(r.DateLabel, date) {
			return false
		}
		return true
	})
}

// SortRecords returns a stably sorted copy; ties keep their original order in
// both directions.
func SortRecords(recs []models.NormalizedRecord, key models.SortKey, dir models.SortDirection) []models.NormalizedRecord {
	out := slices.Clone(recs)
	less := comparator(key)
	if less == nil {
		return out
	}
	desc := dir == models.Descending
	slices.SortStableFunc(out, func(a, b models.NormalizedRecord) int {
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
	return out
}

func comparator(key models.SortKey) func(a, b models.NormalizedRecord) int {
	switch key {
	case models.SortDate:
		return func(a, b models.NormalizedRecord) int { return strings.Compare(a.DateKey(), b.DateKey()) }
	case models.SortCountry:
		return func(a, b models.NormalizedRecord) int { return strings.Compare(a.Country, b.Country) }
	case models.SortApp:
		return func(a, b models.NormalizedRecord) int { return strings.Compare(a.App, b.App) }
	case models.SortRevenue:
		return func(a, b models.NormalizedRecord) int { return cmp.Compare(a.RevenueUSD, b.RevenueUSD) }
	case models.SortImpressions:
		return func(a, b models.NormalizedRecord) int { return cmp.Compare(a.Impressions, b.Impressions) }
	case models.SortClicks:
		return func(a, b models.NormalizedRecord) int { return cmp.Compare(a.Clicks, b.Clicks) }
	}
	return nil
}

func uniqueSorted(recs []models.NormalizedRecord, key func(models.NormalizedRecord) string) []string {
	out := lo.Uniq(lo.Map(recs, func(r models.NormalizedRecord, _ int) string { return key(r) }))
	sort.Strings(out)
	return out
}

// uniqueDates lists display labels newest first.
func uniqueDates(recs []models.NormalizedRecord) []string {
	days := lo.UniqBy(recs, func(r models.NormalizedRecord) string { return r.DateKey() })
	slices.SortFunc(days, func(a, b models.NormalizedRecord) int { return strings.Compare(b.DateKey(), a.DateKey()) })
	return lo.Map(days, func(r models.NormalizedRecord, _ int) string { return r.DateLabel })
}

func contains(s, sub string) bool { return strings.Contains(strings.ToLower(s), sub) }
func norm(s string) string        { return strings.ToLower(strings.TrimSpace(s)) }

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}
