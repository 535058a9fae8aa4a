package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/admob-dash/internal/models"
)

var january = models.DateRange{
	Start: civil.Date{Year: 2024, Month: 1, Day: 1},
	End:   civil.Date{Year: 2024, Month: 1, Day: 31},
}

func newTestClient(srv *httptest.Server, retries int) *Client {
	return NewClient(func(context.Context) (*http.Client, error) {
		return srv.Client(), nil
	}, ClientConfig{
		BaseURL:      srv.URL,
		QuotaProject: "my-project",
		Retries:      retries,
		RetryBase:    time.Millisecond,
	})
}

func TestFetchAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "my-project", r.Header.Get("X-Goog-User-Project"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account": [{"name": "accounts/pub-123", "publisherId": "pub-123", "currencyCode": "USD"}]}`))
	}))
	defer srv.Close()

	acct, err := newTestClient(srv, 0).FetchAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "accounts/pub-123", acct.Name)
	assert.Equal(t, "pub-123", acct.PublisherID)
	assert.Equal(t, "USD", acct.CurrencyCode)
}

func TestFetchAccountNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 0).FetchAccount(context.Background())
	assert.ErrorIs(t, err, ErrNoAccountFound)
}

func TestFetchAccountForbiddenIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "insufficient scopes"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 3).FetchAccount(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusForbidden, fe.Status)
	assert.Contains(t, fe.Error(), "insufficient scopes")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchAccountCredentialError(t *testing.T) {
	boom := errors.New("not signed in")
	c := NewClient(func(context.Context) (*http.Client, error) { return nil, boom }, ClientConfig{})
	_, err := c.FetchAccount(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRawReportRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts/pub-123/networkReport:generate", r.URL.Path)
		assert.Equal(t, "my-project", r.Header.Get("X-Goog-User-Project"))

		var body struct {
			ReportSpec struct {
				DateRange struct {
					StartDate struct{ Year, Month, Day int }
					EndDate   struct{ Year, Month, Day int }
				}
				Dimensions []string
				Metrics    []string
				TimeZone   string
			}
		}
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &body))
		assert.Equal(t, 2024, body.ReportSpec.DateRange.StartDate.Year)
		assert.Equal(t, 31, body.ReportSpec.DateRange.EndDate.Day)
		assert.Equal(t, []string{"COUNTRY", "APP", "DATE"}, body.ReportSpec.Dimensions)
		assert.Equal(t, []string{"ESTIMATED_EARNINGS", "IMPRESSIONS", "CLICKS"}, body.ReportSpec.Metrics)
		assert.Equal(t, "America/Los_Angeles", body.ReportSpec.TimeZone)

		w.Write([]byte(sampleReport))
	}))
	defer srv.Close()

	items, err := newTestClient(srv, 0).GenerateReport(context.Background(), "accounts/pub-123", january)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, models.ItemRow, items[1].Kind)
}

func TestRawReportInvalidRange(t *testing.T) {
	c := NewClient(func(context.Context) (*http.Client, error) {
		t.Fatal("no request expected")
		return nil, nil
	}, ClientConfig{})
	_, err := c.RawReport(context.Background(), "accounts/x", models.DateRange{Start: january.End, End: january.Start})
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestRawReportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	body, err := newTestClient(srv, 3).RawReport(context.Background(), "accounts/x", january)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRawReport500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend unavailable"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 1).RawReport(context.Background(), "accounts/x", january)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Equal(t, "backend unavailable", fe.Body)
}

func TestRawReport404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 3).RawReport(context.Background(), "accounts/x", january)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRawReportTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(func(context.Context) (*http.Client, error) {
		return NewHTTPClient(50 * time.Millisecond), nil
	}, ClientConfig{BaseURL: srv.URL, RetryBase: time.Millisecond})

	_, err := c.RawReport(context.Background(), "accounts/x", january)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.Status)
	assert.Error(t, fe.Err)
}

func TestRawReportContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the disconnect is only noticed once the body has been read
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv, 5).RawReport(ctx, "accounts/x", january)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
