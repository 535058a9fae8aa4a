package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes needed to list publisher accounts and generate network reports.
var Scopes = []string{
	"https://www.googleapis.com/auth/admob.readonly",
	"https://www.googleapis.com/auth/admob.report",
}

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrLoginNotEnabled  = errors.New("interactive login not configured")
	ErrInvalidState     = errors.New("invalid or expired login state")
)

const (
	// stateTTL bounds how long a login started by AuthURL can be completed.
	stateTTL   = 10 * time.Minute
	maxPending = 1000
)

type Method string

const (
	MethodNone           Method = "none"
	MethodInteractive    Method = "interactive"
	MethodServiceAccount Method = "service_account"
	MethodDefault        Method = "application_default"
)

type Config struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	CredentialsJSON string // path to a service account key, or the key itself
	Endpoint        oauth2.Endpoint
}

type Status struct {
	Authenticated bool   `json:"isAuthenticated"`
	Method        Method `json:"method"`
	Account       string `json:"account,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Provider hands out bearer tokens for the AdMob API. It prefers a token
// obtained through the interactive flow, then a service account key, then
// application default credentials.
type Provider struct {
	log   *slog.Logger
	cfg   Config
	oauth *oauth2.Config

	mu      sync.Mutex
	pending map[string]pendingLogin
	token   *oauth2.Token
	// ts is built once per method and reused so tokens are cached until they
	// expire. Exchange resets it.
	ts       oauth2.TokenSource
	method   Method
	account  string
	findADC  func(ctx context.Context, scopes ...string) (*google.Credentials, error)
	readFile func(string) ([]byte, error)
	now      func() time.Time
}

type pendingLogin struct {
	verifier string
	created  time.Time
}

func NewProvider(log *slog.Logger, cfg Config) *Provider {
	p := &Provider{
		log:      log,
		cfg:      cfg,
		pending:  make(map[string]pendingLogin),
		findADC:  google.FindDefaultCredentials,
		readFile: os.ReadFile,
		now:      time.Now,
	}
	if cfg.ClientID != "" {
		ep := cfg.Endpoint
		if ep.AuthURL == "" {
			ep = google.Endpoint
		}
		p.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     ep,
		}
	}
	return p
}

// AuthURL starts the interactive flow. The caller shows the URL to the user
// and later passes the returned state back to Exchange with the code.
func (p *Provider) AuthURL() (string, string, error) {
	if p.oauth == nil {
		return "", "", ErrLoginNotEnabled
	}
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	p.mu.Lock()
	now := p.now()
	p.prune(now)
	p.pending[state] = pendingLogin{verifier: verifier, created: now}
	p.mu.Unlock()
	url := p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	return url, state, nil
}

// Exchange completes the interactive flow.
func (p *Provider) Exchange(ctx context.Context, state, code string) error {
	if p.oauth == nil {
		return ErrLoginNotEnabled
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("exchange: empty code")
	}
	p.mu.Lock()
	p.prune(p.now())
	login, ok := p.pending[state]
	delete(p.pending, state)
	p.mu.Unlock()
	if !ok {
		return ErrInvalidState
	}
	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(login.verifier))
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	p.mu.Lock()
	p.token = tok
	p.ts, p.method, p.account = nil, MethodNone, ""
	p.mu.Unlock()
	p.log.Info("interactive login complete")
	return nil
}

// prune drops logins older than stateTTL and, if the map is still full,
// the oldest one. Callers hold p.mu.
func (p *Provider) prune(now time.Time) {
	var oldest string
	for state, l := range p.pending {
		if now.Sub(l.created) > stateTTL {
			delete(p.pending, state)
			continue
		}
		if oldest == "" || l.created.Before(p.pending[oldest].created) {
			oldest = state
		}
	}
	if len(p.pending) >= maxPending {
		delete(p.pending, oldest)
	}
}

// TokenSource returns the best available token source.
func (p *Provider) TokenSource(ctx context.Context) (oauth2.TokenSource, Method, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ts != nil {
		return p.ts, p.method, nil
	}
	// the source outlives the request that built it
	ctx = context.WithoutCancel(ctx)
	if p.token != nil && p.oauth != nil {
		p.ts = oauth2.ReuseTokenSource(p.token, p.oauth.TokenSource(ctx, p.token))
		p.method = MethodInteractive
		return p.ts, p.method, nil
	}
	if p.cfg.CredentialsJSON != "" {
		creds, err := p.serviceAccount(ctx)
		if err != nil {
			return nil, MethodNone, err
		}
		if cfg, err := google.JWTConfigFromJSON(creds.JSON, Scopes...); err == nil {
			p.account = cfg.Email
		}
		p.ts = oauth2.ReuseTokenSource(nil, creds.TokenSource)
		p.method = MethodServiceAccount
		return p.ts, p.method, nil
	}
	creds, err := p.findADC(ctx, Scopes...)
	if err != nil {
		return nil, MethodNone, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	p.ts = oauth2.ReuseTokenSource(nil, creds.TokenSource)
	p.method = MethodDefault
	return p.ts, p.method, nil
}

func (p *Provider) serviceAccount(ctx context.Context) (*google.Credentials, error) {
	raw := []byte(p.cfg.CredentialsJSON)
	if len(raw) == 0 || raw[0] != '{' {
		b, err := p.readFile(p.cfg.CredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		raw = b
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

// HTTPClient returns a client that attaches bearer tokens to every request.
func (p *Provider) HTTPClient(ctx context.Context, base *http.Client) (*http.Client, error) {
	ts, _, err := p.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	c := oauth2.NewClient(ctx, ts)
	if base != nil {
		c.Timeout = base.Timeout
	}
	return c, nil
}

// Status reports whether a token can be obtained right now.
func (p *Provider) Status(ctx context.Context) Status {
	ts, method, err := p.TokenSource(ctx)
	if err != nil {
		return Status{Method: MethodNone, Error: err.Error()}
	}
	if _, err := ts.Token(); err != nil {
		return Status{Method: method, Error: err.Error()}
	}
	st := Status{Authenticated: true, Method: method}
	if method == MethodServiceAccount {
		p.mu.Lock()
		st.Account = p.account
		p.mu.Unlock()
	}
	return st
}
