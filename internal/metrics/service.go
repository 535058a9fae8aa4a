package metrics

import (
	"net/url"
	"strconv"
	"time"

	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/store"
)

type Status string

const (
	StatusEmpty  Status = "empty" // nothing loaded yet
	StatusOK     Status = "ok"
	StatusNoData Status = "no_data"
	StatusError  Status = "error"
)

// Dashboard is everything the presentation layer renders for a session.
type Dashboard struct {
	Status           Status                  `json:"status"`
	Loading          bool                    `json:"loading"`
	Error            string                  `json:"error,omitempty"`
	Account          string                  `json:"account,omitempty"`
	Range            *models.DateRange       `json:"range,omitempty"`
	Generation       uint64                  `json:"generation"`
	FetchedAt        *time.Time              `json:"fetchedAt,omitempty"`
	Skipped          int                     `json:"skipped"`
	Totals           models.Stats            `json:"totals"`
	SummaryByCountry map[string]models.Stats `json:"summaryByCountry"`
	SummaryByApp     map[string]models.Stats `json:"summaryByApp"`
	Series           []models.SeriesPoint    `json:"series"`
	View             View                    `json:"view"`
}

type Service struct{ st *store.MemoryStore }

func NewService(st *store.MemoryStore) *Service { return &Service{st: st} }

func (s *Service) Dashboard(session string) (Dashboard, error) {
	snap, loading, err := s.st.Snapshot(session)
	if err != nil {
		return Dashboard{}, err
	}
	vs, err := s.st.View(session)
	if err != nil {
		return Dashboard{}, err
	}
	return build(snap, loading, vs), nil
}

func build(snap *store.Snapshot, loading bool, vs models.ViewState) Dashboard {
	d := Dashboard{
		Status:           StatusEmpty,
		Loading:          loading,
		SummaryByCountry: map[string]models.Stats{},
		SummaryByApp:     map[string]models.Stats{},
		Series:           []models.SeriesPoint{},
	}
	if snap == nil {
		d.View = DeriveView(nil, vs)
		return d
	}
	rng, at := snap.Range, snap.FetchedAt
	d.Range, d.FetchedAt = &rng, &at
	d.Account = snap.Account
	d.Generation = snap.Generation
	d.Skipped = snap.Skipped
	d.Error = snap.Err
	d.Totals = snap.Aggregates.Totals
	if snap.Aggregates.SummaryByCountry != nil {
		d.SummaryByCountry = snap.Aggregates.SummaryByCountry
	}
	if snap.Aggregates.SummaryByApp != nil {
		d.SummaryByApp = snap.Aggregates.SummaryByApp
	}
	if snap.Series != nil {
		d.Series = snap.Series
	}
	d.View = DeriveView(snap.Records, vs)
	switch {
	case snap.Err != "":
		d.Status = StatusError
	case len(snap.Records) == 0:
		d.Status = StatusNoData
	default:
		d.Status = StatusOK
	}
	return d
}

func (s *Service) update(session string, fn func(models.ViewState, []models.NormalizedRecord) (models.ViewState, error)) (Dashboard, error) {
	if _, err := s.st.UpdateView(session, fn); err != nil {
		return Dashboard{}, err
	}
	return s.Dashboard(session)
}

func (s *Service) RequestSort(session string, key models.SortKey) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, _ []models.NormalizedRecord) (models.ViewState, error) {
		return v.RequestSort(key)
	})
}

func (s *Service) SetFilter(session string, kind models.FilterKind, value string) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, _ []models.NormalizedRecord) (models.ViewState, error) {
		return v.SetFilter(kind, value)
	})
}

func (s *Service) ClearFilters(session string) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, _ []models.NormalizedRecord) (models.ViewState, error) {
		return v.ClearFilters(), nil
	})
}

func (s *Service) SetPageSize(session string, n int) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, _ []models.NormalizedRecord) (models.ViewState, error) {
		return v.SetPageSize(n)
	})
}

func (s *Service) NextPage(session string) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, recs []models.NormalizedRecord) (models.ViewState, error) {
		return v.NextPage(filteredPageCount(recs, v)), nil
	})
}

func (s *Service) PrevPage(session string) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, _ []models.NormalizedRecord) (models.ViewState, error) {
		return v.PrevPage(), nil
	})
}

func (s *Service) GoToPage(session string, page int) (Dashboard, error) {
	return s.update(session, func(v models.ViewState, recs []models.NormalizedRecord) (models.ViewState, error) {
		return v.GoToPage(page, filteredPageCount(recs, v)), nil
	})
}

// Rows returns every filtered and sorted row of the session, ignoring
// pagination.
func (s *Service) Rows(session string) ([]models.NormalizedRecord, error) {
	snap, _, err := s.st.Snapshot(session)
	if err != nil {
		return nil, err
	}
	vs, err := s.st.View(session)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return []models.NormalizedRecord{}, nil
	}
	return SortRecords(FilterRecords(snap.Records, vs), vs.SortKey, vs.SortDirection), nil
}

// Query derives a view of the session's rows from query parameters without
// touching the stored view state.
func (s *Service) Query(session string, v url.Values) (View, error) {
	snap, _, err := s.st.Snapshot(session)
	if err != nil {
		return View{}, err
	}
	vs, err := ViewStateFromQuery(v)
	if err != nil {
		return View{}, err
	}
	var recs []models.NormalizedRecord
	if snap != nil {
		recs = snap.Records
	}
	return DeriveView(recs, vs), nil
}

// ViewStateFromQuery reads sort, dir, country, app, date, page and page_size.
// Missing values take the defaults.
func ViewStateFromQuery(v url.Values) (models.ViewState, error) {
	vs := models.DefaultViewState()
	if k := norm(v.Get("sort")); k != "" {
		key := models.SortKey(k)
		if !key.Valid() {
			return vs, models.ErrUnknownSortKey
		}
		vs.SortKey = key
	}
	switch models.SortDirection(norm(v.Get("dir"))) {
	case models.Ascending, "asc":
		vs.SortDirection = models.Ascending
	case models.Descending, "desc":
		vs.SortDirection = models.Descending
	}
	vs.CountryFilter = v.Get("country")
	vs.AppFilter = v.Get("app")
	vs.DateFilter = v.Get("date")
	if ps := v.Get("page_size"); ps != "" {
		var err error
		if vs, err = vs.SetPageSize(atoiDef(ps, 0)); err != nil {
			return vs, err
		}
	}
	vs.Page = atoiDef(v.Get("page"), 1)
	return vs, nil
}

func filteredPageCount(recs []models.NormalizedRecord, v models.ViewState) int {
	return models.PageCount(len(FilterRecords(recs, v)), v.PageSize)
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
