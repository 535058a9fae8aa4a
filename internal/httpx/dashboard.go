package httpx

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/store"
	"github.com/AngelCh415/admob-dash/internal/utils"
)

var errBadRange = errors.New("bad date range")

// RangeDefaults fills in a missing date range: the last Days days ending
// today in Location.
type RangeDefaults struct {
	Days     int
	Location *time.Location
	Now      func() time.Time
}

type rangeReq struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Resolve parses optional YYYY-MM-DD bounds, filling in missing ones.
func (d RangeDefaults) Resolve(start, end string) (models.DateRange, error) {
	return d.resolve(rangeReq{StartDate: start, EndDate: end})
}

func (d RangeDefaults) resolve(req rangeReq) (models.DateRange, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	days := d.Days
	if days <= 0 {
		days = 30
	}
	end := civil.DateOf(now().In(loc))
	rng := models.DateRange{Start: end.AddDays(-days), End: end}

	var err error
	if s := strings.TrimSpace(req.EndDate); s != "" {
		if rng.End, err = civil.ParseDate(s); err != nil {
			return rng, fmt.Errorf("%w: endDate %q", errBadRange, s)
		}
		if strings.TrimSpace(req.StartDate) == "" {
			rng.Start = rng.End.AddDays(-days)
		}
	}
	if s := strings.TrimSpace(req.StartDate); s != "" {
		if rng.Start, err = civil.ParseDate(s); err != nil {
			return rng, fmt.Errorf("%w: startDate %q", errBadRange, s)
		}
	}
	if !rng.Valid() {
		return rng, fmt.Errorf("%w: %s is after %s", errBadRange, rng.Start, rng.End)
	}
	return rng, nil
}

func (h *handlers) session(r *http.Request) string {
	sid := utils.SID(r.Context())
	h.Store.Ensure(sid)
	return sid
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Dashboard(h.session(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, d)
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req rangeReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := h.Ranges.resolve(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sid := h.session(r)
	if _, err := h.Loader.Load(r.Context(), sid, rng); err != nil {
		if errors.Is(err, store.ErrStaleLoad) {
			h.fail(w, r, err)
			return
		}
		// the failure is part of the dashboard; render it with the right code
		d, derr := h.Service.Dashboard(sid)
		if derr != nil {
			h.fail(w, r, err)
			return
		}
		writeJSONStatus(w, statusFor(err), d)
		return
	}
	h.dashboard(w, r)
}

func (h *handlers) queryRows(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Query(h.session(r), r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, v)
}

func (h *handlers) sort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.Service.RequestSort(h.session(r), models.SortKey(strings.ToLower(req.Key))))
}

func (h *handlers) filter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.Service.SetFilter(h.session(r), models.FilterKind(strings.ToLower(req.Kind)), req.Value))
}

func (h *handlers) clearFilters(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.Service.ClearFilters(h.session(r)))
}

func (h *handlers) pageSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size int `json:"size"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.Service.SetPageSize(h.session(r), req.Size))
}

func (h *handlers) nextPage(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.Service.NextPage(h.session(r)))
}

func (h *handlers) prevPage(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.Service.PrevPage(h.session(r)))
}

func (h *handlers) goToPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.Service.GoToPage(h.session(r), req.Page))
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, v)
	}
}

func (h *handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.Rows(h.session(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="admob-report.csv"`)
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "country", "country_code", "app", "app_id", "revenue_usd", "impressions", "clicks"})
	for _, rec := range rows {
		cw.Write([]string{
			rec.DateKey(),
			rec.Country,
			rec.CountryCode,
			rec.App,
			rec.AppID,
			strconv.FormatFloat(rec.RevenueUSD, 'f', 6, 64),
			strconv.FormatInt(rec.Impressions, 10),
			strconv.FormatInt(rec.Clicks, 10),
		})
	}
	cw.Flush()
}

func (h *handlers) exportSink(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Dashboard(h.session(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.Loader.Export(r.Context(), d.Series)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"exported": n})
}
