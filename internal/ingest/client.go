package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AngelCh415/admob-dash/internal/utils"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// FetchError is a failure talking to an upstream collaborator. Its message is
// meant to be shown to the user as is.
type FetchError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": failed"
}

func (e *FetchError) Unwrap() error { return e.Err }

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// doWithRetry sends the request built by newReq, retrying transport errors
// and 429/5xx answers with backoff. It returns the body of the first 2xx
// response.
func doWithRetry(ctx context.Context, c HTTPClient, b utils.Backoff, op string, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := b.Do(ctx, func(i int) error {
		req, err := newReq(ctx)
		if err != nil {
			return &utils.Permanent{Err: &FetchError{Op: op, Err: err}}
		}
		resp, err := c.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &utils.Permanent{Err: &FetchError{Op: op, Err: ctx.Err()}}
			}
			return &FetchError{Op: op, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			fe := &FetchError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
			if retryable(resp.StatusCode) {
				return fe
			}
			return &utils.Permanent{Err: fe}
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Op: op, Err: err}
		}
		return nil, err
	}
	return body, nil
}

type headerTransport struct {
	header http.Header
	next   http.RoundTripper
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	for k, vs := range t.header {
		r2.Header[k] = vs
	}
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(r2)
}

// withHeaders returns a shallow copy of c that sets h on every request.
func withHeaders(c *http.Client, h http.Header) *http.Client {
	if len(h) == 0 {
		return c
	}
	cp := *c
	cp.Transport = &headerTransport{header: h, next: c.Transport}
	return &cp
}
