package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AngelCh415/admob-dash/internal/metrics"
	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/store"
	"github.com/AngelCh415/admob-dash/internal/utils"
)

// Source is the upstream the loader pulls from. *Client implements it.
type Source interface {
	FetchAccount(ctx context.Context) (models.Account, error)
	RawReport(ctx context.Context, account string, rng models.DateRange) ([]byte, error)
}

var ErrSinkNotConfigured = errors.New("export sink not configured")

type SinkConfig struct {
	URL    string
	Secret string
}

// Loader runs fetch → normalise → aggregate for a dashboard session and
// commits the result unless a newer load has started meanwhile.
type Loader struct {
	src   Source
	st    *store.MemoryStore
	cache store.ReportCache
	log   *slog.Logger
	c     HTTPClient
	sink  SinkConfig
	group singleflight.Group
	now   func() time.Time
}

func NewLoader(src Source, st *store.MemoryStore, cache store.ReportCache, c HTTPClient, log *slog.Logger, sink SinkConfig) *Loader {
	if cache == nil {
		cache = store.NopCache{}
	}
	return &Loader{src: src, st: st, cache: cache, c: c, log: log, sink: sink, now: time.Now}
}

// Account looks up the publisher account, sharing one upstream call between
// concurrent callers.
func (l *Loader) Account(ctx context.Context) (models.Account, error) {
	// the shared call must not die with whichever caller started it
	ch := l.group.DoChan("account", func() (any, error) {
		return l.src.FetchAccount(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return models.Account{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Account{}, res.Err
		}
		return res.Val.(models.Account), nil
	}
}

// Report returns the raw report body, from the cache when possible.
func (l *Loader) Report(ctx context.Context, account string, rng models.DateRange) ([]byte, error) {
	body, ok, err := l.cache.Get(ctx, account, rng)
	if err != nil {
		l.log.Warn("report cache unavailable", slog.String("err", err.Error()))
	}
	if ok {
		utils.ReportCache.WithLabelValues("hit").Inc()
		return body, nil
	}
	utils.ReportCache.WithLabelValues("miss").Inc()

	body, err = l.src.RawReport(ctx, account, rng)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, account, rng, body); err != nil {
		l.log.Warn("report cache write failed", slog.String("err", err.Error()))
	}
	return body, nil
}

// Load fetches the report for rng into session. Failures are committed too,
// as a snapshot carrying the error message, and returned. ErrStaleLoad means
// a newer load owns the session and this result was dropped.
func (l *Loader) Load(ctx context.Context, session string, rng models.DateRange) (*store.Snapshot, error) {
	ctx, gen := l.st.BeginLoad(ctx, session)
	log := l.log.With(slog.String("session", session), slog.Uint64("gen", gen),
		slog.String("start", rng.Start.String()), slog.String("end", rng.End.String()))

	snap, loadErr := l.build(ctx, rng, log)
	snap.FetchedAt = l.now()
	if loadErr != nil {
		snap.Err = loadErr.Error()
	}

	if err := l.st.Commit(session, gen, snap); err != nil {
		if errors.Is(err, store.ErrStaleLoad) {
			utils.StaleLoads.Inc()
			log.Info("load superseded")
		}
		return nil, err
	}
	snap.Generation = gen
	if loadErr != nil {
		log.Warn("load failed", slog.String("err", loadErr.Error()))
		return &snap, loadErr
	}
	log.Info("load complete", slog.Int("records", len(snap.Records)), slog.Int("skipped", snap.Skipped))
	return &snap, nil
}

func (l *Loader) build(ctx context.Context, rng models.DateRange, log *slog.Logger) (store.Snapshot, error) {
	snap := store.Snapshot{Range: rng, Records: []models.NormalizedRecord{}}
	snap.Aggregates = metrics.Aggregate(nil)

	acct, err := l.Account(ctx)
	if err != nil {
		return snap, err
	}
	snap.Account = acct.Name

	body, err := l.Report(ctx, acct.Name, rng)
	if err != nil {
		return snap, err
	}

	recs, bad := NormalizeReport(DecodeReport(body))
	for _, b := range bad {
		log.Warn("skipping malformed row", slog.Int("index", b.Index), slog.String("field", b.Field),
			slog.String("value", b.Value), slog.String("reason", b.Reason))
	}
	utils.SkippedRows.Add(float64(len(bad)))

	snap.Records = recs
	snap.Skipped = len(bad)
	snap.Aggregates = metrics.Aggregate(recs)
	snap.Series = metrics.SeriesByDate(recs)
	return snap, nil
}

// Export posts the per-day series to the configured sink, signed with
// HMAC-SHA256 over the body in X-Signature.
func (l *Loader) Export(ctx context.Context, points []models.SeriesPoint) (int, error) {
	if l.sink.URL == "" || l.sink.Secret == "" {
		return 0, ErrSinkNotConfigured
	}
	if len(points) == 0 {
		return 0, nil
	}
	b, err := json.Marshal(points)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.sink.URL, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", Sign(l.sink.Secret, b))
	resp, err := l.c.Do(req)
	if err != nil {
		return 0, &FetchError{Op: "export", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &FetchError{Op: "export", Status: resp.StatusCode}
	}
	return len(points), nil
}

// Sign returns the X-Signature value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
