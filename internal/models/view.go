package models

import (
	"errors"
	"strings"
)

type SortKey string

const (
	SortDate        SortKey = "date"
	SortCountry     SortKey = "country"
	SortApp         SortKey = "app"
	SortRevenue     SortKey = "revenue"
	SortImpressions SortKey = "impressions"
	SortClicks      SortKey = "clicks"
)

func (k SortKey) Valid() bool {
	switch k {
	case SortDate, SortCountry, SortApp, SortRevenue, SortImpressions, SortClicks:
		return true
	}
	return false
}

type SortDirection string

const (
	Ascending  SortDirection = "ascending"
	Descending SortDirection = "descending"
)

type FilterKind string

const (
	FilterCountry FilterKind = "country"
	FilterApp     FilterKind = "app"
	FilterDate    FilterKind = "date"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

var (
	ErrUnknownSortKey  = errors.New("unknown sort key")
	ErrUnknownFilter   = errors.New("unknown filter kind")
	ErrInvalidPageSize = errors.New("invalid page size")
)

// ViewState is the table state of one dashboard session. Transitions return a
// new value and never mutate the receiver.
type ViewState struct {
	SortKey       SortKey       `json:"sortKey"`
	SortDirection SortDirection `json:"sortDirection"`
	Page          int           `json:"page"`
	PageSize      int           `json:"pageSize"`
	CountryFilter string        `json:"countryFilter"`
	AppFilter     string        `json:"appFilter"`
	DateFilter    string        `json:"dateFilter"`
}

func DefaultViewState() ViewState {
	return ViewState{
		SortKey:       SortRevenue,
		SortDirection: Descending,
		Page:          1,
		PageSize:      DefaultPageSize,
	}
}

// RequestSort toggles the direction when key is already the sort key,
// otherwise sorts ascending by key.
func (v ViewState) RequestSort(key SortKey) (ViewState, error) {
	if !key.Valid() {
		return v, ErrUnknownSortKey
	}
	if v.SortKey == key {
		if v.SortDirection == Ascending {
			v.SortDirection = Descending
		} else {
			v.SortDirection = Ascending
		}
		return v, nil
	}
	v.SortKey = key
	v.SortDirection = Ascending
	return v, nil
}

func (v ViewState) SetFilter(kind FilterKind, value string) (ViewState, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case FilterCountry:
		v.CountryFilter = value
	case FilterApp:
		v.AppFilter = value
	case FilterDate:
		v.DateFilter = value
	default:
		return v, ErrUnknownFilter
	}
	v.Page = 1
	return v, nil
}

func (v ViewState) ClearFilters() ViewState {
	v.CountryFilter, v.AppFilter, v.DateFilter = "", "", ""
	v.Page = 1
	return v
}

func (v ViewState) HasFilters() bool {
	return v.CountryFilter != "" || v.AppFilter != "" || v.DateFilter != ""
}

func (v ViewState) SetPageSize(n int) (ViewState, error) {
	if n <= 0 || n > MaxPageSize {
		return v, ErrInvalidPageSize
	}
	v.PageSize = n
	v.Page = 1
	return v, nil
}

func (v ViewState) NextPage(pageCount int) ViewState {
	return v.GoToPage(v.Page+1, pageCount)
}

func (v ViewState) PrevPage() ViewState {
	v.Page--
	if v.Page < 1 {
		v.Page = 1
	}
	return v
}

// GoToPage moves to page n clamped into [1, pageCount].
func (v ViewState) GoToPage(n, pageCount int) ViewState {
	v.Page = ClampPage(n, pageCount)
	return v
}

// PageCount is ceil(n/pageSize) with a minimum of 1.
func PageCount(n, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	c := (n + pageSize - 1) / pageSize
	if c < 1 {
		return 1
	}
	return c
}

func ClampPage(page, pageCount int) int {
	if pageCount < 1 {
		pageCount = 1
	}
	if page < 1 {
		return 1
	}
	if page > pageCount {
		return pageCount
	}
	return page
}
