package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/store"
	"github.com/AngelCh415/admob-dash/internal/utils"
)

type fakeSource struct {
	mu       sync.Mutex
	account  models.Account
	acctErr  error
	body     []byte
	reportFn func(ctx context.Context, rng models.DateRange) ([]byte, error)
	accounts atomic.Int32
	reports  atomic.Int32
}

func (f *fakeSource) FetchAccount(ctx context.Context) (models.Account, error) {
	f.accounts.Add(1)
	return f.account, f.acctErr
}

func (f *fakeSource) RawReport(ctx context.Context, account string, rng models.DateRange) ([]byte, error) {
	f.reports.Add(1)
	f.mu.Lock()
	fn := f.reportFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, rng)
	}
	return f.body, nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *memCache) key(account string, rng models.DateRange) string {
	return account + rng.Start.String() + rng.End.String()
}

func (c *memCache) Get(_ context.Context, account string, rng models.DateRange) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[c.key(account, rng)]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, account string, rng models.DateRange, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string][]byte{}
	}
	c.m[c.key(account, rng)] = body
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoader(src Source, cache store.ReportCache) (*Loader, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewLoader(src, st, cache, http.DefaultClient, discardLogger(), SinkConfig{}), st
}

func TestLoadCommitsSnapshot(t *testing.T) {
	src := &fakeSource{account: models.Account{Name: "accounts/pub-1"}, body: []byte(sampleReport)}
	l, st := newTestLoader(src, nil)
	st.Ensure("s")

	snap, err := l.Load(context.Background(), "s", january)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, "accounts/pub-1", snap.Account)
	require.Len(t, snap.Records, 1)
	assert.InDelta(t, 2.0, snap.Aggregates.Totals.RevenueUSD, 1e-9)
	assert.Len(t, snap.Series, 1)

	stored, loading, err := st.Snapshot("s")
	require.NoError(t, err)
	assert.False(t, loading)
	assert.Equal(t, snap.Records, stored.Records)
}

func TestLoadCountsSkippedRows(t *testing.T) {
	body := `[{"row": {"dimensionValues": {"DATE": {"value": "2024O115"}}}},
	          {"row": {"dimensionValues": {"DATE": {"value": "20240115"}}}}]`
	src := &fakeSource{account: models.Account{Name: "accounts/pub-1"}, body: []byte(body)}
	l, _ := newTestLoader(src, nil)

	before := testutil.ToFloat64(utils.SkippedRows)
	snap, err := l.Load(context.Background(), "s", january)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Skipped)
	assert.Len(t, snap.Records, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(utils.SkippedRows))
}

func TestLoadFailureIsCommitted(t *testing.T) {
	src := &fakeSource{acctErr: ErrNoAccountFound}
	l, st := newTestLoader(src, nil)

	snap, err := l.Load(context.Background(), "s", january)
	assert.ErrorIs(t, err, ErrNoAccountFound)
	require.NotNil(t, snap)
	assert.Equal(t, ErrNoAccountFound.Error(), snap.Err)

	stored, _, _ := st.Snapshot("s")
	require.NotNil(t, stored)
	assert.Equal(t, ErrNoAccountFound.Error(), stored.Err)
	assert.Empty(t, stored.Records)
	assert.Zero(t, src.reports.Load())
}

func TestLoadUsesCache(t *testing.T) {
	src := &fakeSource{account: models.Account{Name: "accounts/pub-1"}, body: []byte(sampleReport)}
	l, _ := newTestLoader(src, &memCache{})

	hits := testutil.ToFloat64(utils.ReportCache.WithLabelValues("hit"))
	for i := 0; i < 3; i++ {
		_, err := l.Load(context.Background(), "s", january)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.reports.Load())
	assert.Equal(t, hits+2, testutil.ToFloat64(utils.ReportCache.WithLabelValues("hit")))
}

func TestSupersededLoadIsDropped(t *testing.T) {
	feb := models.DateRange{
		Start: civil.Date{Year: 2024, Month: 2, Day: 1},
		End:   civil.Date{Year: 2024, Month: 2, Day: 29},
	}
	started := make(chan struct{})
	src := &fakeSource{account: models.Account{Name: "accounts/pub-1"}}
	src.reportFn = func(ctx context.Context, rng models.DateRange) ([]byte, error) {
		if rng == january {
			close(started)
			<-ctx.Done()
			return nil, &FetchError{Op: "admob report", Err: ctx.Err()}
		}
		return []byte(sampleReport), nil
	}
	l, st := newTestLoader(src, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "s", january)
		errCh <- err
	}()
	<-started

	snap, err := l.Load(context.Background(), "s", feb)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Generation)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, store.ErrStaleLoad)
	case <-time.After(2 * time.Second):
		t.Fatal("first load never returned")
	}

	stored, _, _ := st.Snapshot("s")
	assert.Equal(t, feb, stored.Range)
	assert.Empty(t, stored.Err)
}

func TestAccountLookupIsShared(t *testing.T) {
	release := make(chan struct{})
	src := &slowAccountSource{release: release, fakeSource: &fakeSource{account: models.Account{Name: "accounts/pub-1"}}}
	l, _ := newTestLoader(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := l.Account(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "accounts/pub-1", a.Name)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), src.accounts.Load())
}

func TestAccountCallerCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	src := &slowAccountSource{release: release, fakeSource: &fakeSource{}}
	l, _ := newTestLoader(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Account(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type slowAccountSource struct {
	*fakeSource
	release chan struct{}
}

func (s *slowAccountSource) FetchAccount(ctx context.Context) (models.Account, error) {
	<-s.release
	return s.fakeSource.FetchAccount(ctx)
}

func TestExportSignsBody(t *testing.T) {
	var got struct {
		body []byte
		sig  string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.body, _ = io.ReadAll(r.Body)
		got.sig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	l := NewLoader(&fakeSource{}, store.NewMemoryStore(), nil, srv.Client(), discardLogger(),
		SinkConfig{URL: srv.URL, Secret: "s3cr3t"})
	points := []models.SeriesPoint{{Date: january.Start, RevenueUSD: 1.5, Impressions: 10}}

	n, err := l.Export(context.Background(), points)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Sign("s3cr3t", got.body), got.sig)
	assert.Contains(t, string(got.body), `"date":"2024-01-01"`)
}

func TestExportErrors(t *testing.T) {
	l, _ := newTestLoader(&fakeSource{}, nil)
	_, err := l.Export(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSinkNotConfigured)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	l = NewLoader(&fakeSource{}, store.NewMemoryStore(), nil, srv.Client(), discardLogger(),
		SinkConfig{URL: srv.URL, Secret: "x"})

	n, err := l.Export(context.Background(), []models.SeriesPoint{{Date: january.Start}})
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusUnauthorized, fe.Status)
	assert.Zero(t, n)

	n, err = l.Export(context.Background(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestSign(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign("key", []byte("The quick brown fox jumps over the lazy dog")))
}
