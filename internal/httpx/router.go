package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/admob-dash/internal/auth"
	"github.com/AngelCh415/admob-dash/internal/ingest"
	"github.com/AngelCh415/admob-dash/internal/metrics"
	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/store"
	"github.com/AngelCh415/admob-dash/internal/utils"
)

// Authenticator is the part of *auth.Provider the API needs.
type Authenticator interface {
	AuthURL() (url, state string, err error)
	Exchange(ctx context.Context, state, code string) error
	Status(ctx context.Context) auth.Status
}

type Deps struct {
	Log            *slog.Logger
	Auth           Authenticator
	Upstream       ingest.Source
	Loader         *ingest.Loader
	Service        *metrics.Service
	Store          *store.MemoryStore
	AllowedOrigins []string
	Ranges         RangeDefaults
}

type handlers struct{ Deps }

func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d}
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log))
	mux.Use(middleware.Recoverer)
	mux.Use(utils.Instrument)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", utils.SessionHeader},
		ExposedHeaders: []string{utils.SessionHeader, "X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.Route("/api", func(r chi.Router) {
		r.Get("/auth/status", h.authStatus)
		r.Post("/auth", h.authLogin)

		r.Get("/admob/accounts", h.accounts)
		r.Post("/admob/reports", h.rawReport)

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(utils.Session)
			r.Get("/", h.dashboard)
			r.Post("/load", h.load)
			r.Get("/rows", h.queryRows)
			r.Post("/sort", h.sort)
			r.Post("/filter", h.filter)
			r.Post("/filters/clear", h.clearFilters)
			r.Post("/page-size", h.pageSize)
			r.Post("/page/next", h.nextPage)
			r.Post("/page/prev", h.prevPage)
			r.Post("/page", h.goToPage)
			r.Get("/export.csv", h.exportCSV)
			r.Post("/export", h.exportSink)
		})
	})

	return mux
}

func (h *handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Auth.Status(r.Context()))
}

type loginReq struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (h *handlers) authLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		url, state, err := h.Auth.AuthURL()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, map[string]string{
			"status":  "need_code",
			"authUrl": url,
			"state":   state,
			"message": "Please visit the URL and enter the code",
		})
		return
	}
	if err := h.Auth.Exchange(r.Context(), req.State, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "success", "message": "Authentication successful"})
}

func (h *handlers) accounts(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Upstream.FetchAccount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"account": []models.Account{acct}})
}

func (h *handlers) rawReport(w http.ResponseWriter, r *http.Request) {
	var req rangeReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, err := h.Ranges.resolve(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.Upstream.FetchAccount(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := h.Upstream.RawReport(r.Context(), acct.Name, rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// fail maps an error to a status code and writes its message as JSON.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.Log.Error("request failed", slog.String("rid", utils.RID(r.Context())), slog.String("err", err.Error()))
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	var fe *ingest.FetchError
	switch {
	case errors.Is(err, models.ErrUnknownSortKey),
		errors.Is(err, models.ErrUnknownFilter),
		errors.Is(err, models.ErrInvalidPageSize),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, errBadRange):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, ingest.ErrNoAccountFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStaleLoad):
		return http.StatusConflict
	case errors.Is(err, auth.ErrLoginNotEnabled), errors.Is(err, ingest.ErrSinkNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &fe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}
