package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	"golang.org/x/oauth2"
)

const maxResponseSizeBytes = 4 << 20

var ErrUnauthorized = errors.New("directory rejected the bearer token")

type Config struct {
	BaseURL  string        `split_words:"true" default:"https://graph.microsoft.com/v1.0"`
	Timeout  time.Duration `split_words:"true" default:"10s"`
	MaxPages int           `split_words:"true" default:"1"`
}

// TokenProvider turns a delegated user token into a directory client. It holds
// no credentials of its own.
type TokenProvider struct {
	baseURL  string
	timeout  time.Duration
	maxPages int
	base     http.RoundTripper
}

type Option func(*TokenProvider)

// WithBaseTransport sets the transport the bearer header is layered on.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(p *TokenProvider) {
		if rt != nil {
			p.base = rt
		}
	}
}

func NewTokenProvider(cfg Config, opts ...Option) (*TokenProvider, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("directory base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	p := &TokenProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		maxPages: maxPages,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func MustNew(cfg Config, opts ...Option) *TokenProvider {
	p, err := NewTokenProvider(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Authenticate returns a client whose every request carries
// "Authorization: Bearer <token>".
func (p *TokenProvider) Authenticate(token string) contractx.Directory {
	return p.Client(token)
}

func (p *TokenProvider) Client(token string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{
		baseURL:  p.baseURL,
		maxPages: p.maxPages,
		httpClient: &http.Client{
			Timeout:   p.timeout,
			Transport: &oauth2.Transport{Source: src, Base: p.base},
		},
	}
}

// Client queries the directory on behalf of one signed-in user.
type Client struct {
	baseURL    string
	maxPages   int
	httpClient *http.Client
}

type usersPage struct {
	Value    []contractx.DirectoryUser `json:"value"`
	NextLink string                    `json:"@odata.nextLink"`
}

// ListUsers fetches the user listing, following next links up to the
// configured page limit.
func (c *Client) ListUsers(ctx context.Context) ([]contractx.DirectoryUser, error) {
	next := c.baseURL + "/users?$select=displayName,businessPhones"

	var users []contractx.DirectoryUser
	for page := 0; page < c.maxPages && next != ""; page++ {
		p, err := c.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		users = append(users, p.Value...)
		next = p.NextLink
	}
	return users, nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) (*usersPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute directory request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read directory response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status=%d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("directory http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var page usersPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	return &page, nil
}
