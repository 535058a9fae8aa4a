package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"google.golang.org/api/admob/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AngelCh415/admob-dash/internal/models"
	"github.com/AngelCh415/admob-dash/internal/utils"
)

var ErrNoAccountFound = errors.New("no AdMob account found")

// ClientSource yields the authorised HTTP client to use for a call. It is
// asked on every call because credentials can change after a login.
type ClientSource func(ctx context.Context) (*http.Client, error)

type ClientConfig struct {
	BaseURL      string // empty means the public endpoint
	QuotaProject string
	TimeZone     string
	Retries      int
	RetryBase    time.Duration
}

// Client talks to the AdMob API: account lookup and network reports.
type Client struct {
	src   ClientSource
	cfg   ClientConfig
	retry utils.Backoff
}

func NewClient(src ClientSource, cfg ClientConfig) *Client {
	if cfg.TimeZone == "" {
		cfg.TimeZone = "America/Los_Angeles"
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{src: src, cfg: cfg, retry: utils.NewBackoff(cfg.RetryBase, cfg.Retries)}
}

func (c *Client) httpClient(ctx context.Context) (*http.Client, error) {
	hc, err := c.src(ctx)
	if err != nil {
		return nil, err
	}
	if c.cfg.QuotaProject != "" {
		hc = withHeaders(hc, http.Header{"X-Goog-User-Project": {c.cfg.QuotaProject}})
	}
	return hc, nil
}

func (c *Client) service(ctx context.Context, hc *http.Client) (*admob.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(c.cfg.BaseURL, "/")+"/"))
	}
	svc, err := admob.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AdMob service: %w", err)
	}
	return svc, nil
}

// FetchAccount returns the first publisher account visible to the caller.
func (c *Client) FetchAccount(ctx context.Context) (models.Account, error) {
	hc, err := c.httpClient(ctx)
	if err != nil {
		return models.Account{}, &FetchError{Op: "admob accounts", Err: err}
	}
	svc, err := c.service(ctx, hc)
	if err != nil {
		return models.Account{}, &FetchError{Op: "admob accounts", Err: err}
	}

	var resp *admob.ListPublisherAccountsResponse
	err = c.retry.Do(ctx, func(int) error {
		r, err := svc.Accounts.List().PageSize(1).Context(ctx).Do()
		if err != nil {
			fe := &FetchError{Op: "admob accounts", Err: err}
			var gerr *googleapi.Error
			if errors.As(err, &gerr) {
				fe.Status, fe.Body = gerr.Code, gerr.Message
				if !retryable(gerr.Code) {
					return &utils.Permanent{Err: fe}
				}
			}
			if ctx.Err() != nil {
				return &utils.Permanent{Err: fe}
			}
			return fe
		}
		resp = r
		return nil
	})
	if err != nil {
		utils.UpstreamCalls.WithLabelValues("accounts", "error").Inc()
		return models.Account{}, err
	}
	utils.UpstreamCalls.WithLabelValues("accounts", "ok").Inc()
	if resp == nil || len(resp.Account) == 0 || resp.Account[0] == nil || resp.Account[0].Name == "" {
		return models.Account{}, ErrNoAccountFound
	}
	a := resp.Account[0]
	return models.Account{
		Name:              a.Name,
		PublisherID:       a.PublisherId,
		CurrencyCode:      a.CurrencyCode,
		ReportingTimeZone: a.ReportingTimeZone,
	}, nil
}

// ReportRequest builds the networkReport:generate body for the fixed
// dimension and metric set.
func (c *Client) ReportRequest(rng models.DateRange) *admob.GenerateNetworkReportRequest {
	return &admob.GenerateNetworkReportRequest{
		ReportSpec: &admob.NetworkReportSpec{
			DateRange: &admob.DateRange{
				StartDate: apiDate(rng.Start),
				EndDate:   apiDate(rng.End),
			},
			Dimensions: []string{models.DimCountry, models.DimApp, models.DimDate},
			Metrics:    []string{models.MetricEarnings, models.MetricImpressions, models.MetricClicks},
			TimeZone:   c.cfg.TimeZone,
		},
	}
}

// RawReport returns the undecoded report stream for account over rng.
//
// The endpoint answers with a JSON array of header/row/footer objects, which
// the generated Generate call cannot decode, so the request is sent by hand
// on the same authorised client.
func (c *Client) RawReport(ctx context.Context, account string, rng models.DateRange) ([]byte, error) {
	const op = "admob report"
	if !rng.Valid() {
		return nil, &FetchError{Op: op, Err: fmt.Errorf("invalid date range %s..%s", rng.Start, rng.End)}
	}
	hc, err := c.httpClient(ctx)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	svc, err := c.service(ctx, hc)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	payload, err := json.Marshal(c.ReportRequest(rng))
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	url := strings.TrimRight(svc.BasePath, "/") + "/v1/" + account + "/networkReport:generate"

	body, err := doWithRetry(ctx, hc, c.retry, op, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		utils.UpstreamCalls.WithLabelValues("report", "error").Inc()
		return nil, err
	}
	utils.UpstreamCalls.WithLabelValues("report", "ok").Inc()
	return body, nil
}

// GenerateReport fetches and decodes the report for account over rng.
func (c *Client) GenerateReport(ctx context.Context, account string, rng models.DateRange) ([]models.RawReportItem, error) {
	body, err := c.RawReport(ctx, account, rng)
	if err != nil {
		return nil, err
	}
	return DecodeReport(body), nil
}

func apiDate(d civil.Date) *admob.Date {
	return &admob.Date{Year: int64(d.Year), Month: int64(d.Month), Day: int64(d.Day)}
}
