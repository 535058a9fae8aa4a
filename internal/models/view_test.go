package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSortTogglesFromDefault(t *testing.T) {
	v := DefaultViewState()
	require.Equal(t, SortRevenue, v.SortKey)
	require.Equal(t, Descending, v.SortDirection)

	v, err := v.RequestSort(SortRevenue)
	require.NoError(t, err)
	assert.Equal(t, Ascending, v.SortDirection)

	v, err = v.RequestSort(SortRevenue)
	require.NoError(t, err)
	assert.Equal(t, Descending, v.SortDirection)
}

func TestRequestSortNewKeyStartsAscending(t *testing.T) {
	v, err := DefaultViewState().RequestSort(SortCountry)
	require.NoError(t, err)
	assert.Equal(t, SortCountry, v.SortKey)
	assert.Equal(t, Ascending, v.SortDirection)
}

func TestRequestSortUnknownKey(t *testing.T) {
	v := DefaultViewState()
	got, err := v.RequestSort("ctr")
	assert.ErrorIs(t, err, ErrUnknownSortKey)
	assert.Equal(t, v, got)
}

func TestTransitionsDoNotMutateReceiver(t *testing.T) {
	v := DefaultViewState()
	v.Page = 3
	_, _ = v.SetFilter(FilterCountry, "united")
	_, _ = v.RequestSort(SortApp)
	assert.Equal(t, 3, v.Page)
	assert.Equal(t, "", v.CountryFilter)
	assert.Equal(t, SortRevenue, v.SortKey)
}

func TestSetFilterResetsPage(t *testing.T) {
	for _, kind := range []FilterKind{FilterCountry, FilterApp, FilterDate} {
		v := DefaultViewState()
		v.Page = 4
		got, err := v.SetFilter(kind, "  x ")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Page, kind)
		assert.True(t, got.HasFilters())
	}

	_, err := DefaultViewState().SetFilter("campaign", "x")
	assert.ErrorIs(t, err, ErrUnknownFilter)
}

func TestClearFilters(t *testing.T) {
	v := DefaultViewState()
	v, _ = v.SetFilter(FilterApp, "game")
	v.Page = 2
	v = v.ClearFilters()
	assert.False(t, v.HasFilters())
	assert.Equal(t, 1, v.Page)
}

func TestSetPageSize(t *testing.T) {
	v := DefaultViewState()
	v.Page = 5
	v, err := v.SetPageSize(25)
	require.NoError(t, err)
	assert.Equal(t, 25, v.PageSize)
	assert.Equal(t, 1, v.Page)

	for _, n := range []int{0, -1, MaxPageSize + 1} {
		_, err := v.SetPageSize(n)
		assert.ErrorIs(t, err, ErrInvalidPageSize, n)
	}
}

func TestPaginationBounds(t *testing.T) {
	assert.Equal(t, 3, PageCount(25, 10))
	assert.Equal(t, 1, PageCount(0, 10))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 2, PageCount(11, 10))

	v := DefaultViewState()
	v = v.GoToPage(4, PageCount(25, 10))
	assert.Equal(t, 3, v.Page)

	v = v.NextPage(3)
	assert.Equal(t, 3, v.Page)

	v = v.PrevPage().PrevPage().PrevPage()
	assert.Equal(t, 1, v.Page)

	v = v.GoToPage(-2, 3)
	assert.Equal(t, 1, v.Page)
}
