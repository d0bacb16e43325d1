package tokenservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseSizeBytes = 1 << 20

type Config struct {
	Enabled     bool          `split_words:"true" default:"false"`
	BaseURL     string        `split_words:"true" default:"https://api.botframework.com"`
	AppID       string        `split_words:"true"`
	AppPassword string        `split_words:"true"`
	TokenURL    string        `split_words:"true" default:"https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"`
	Scope       string        `split_words:"true" default:"https://api.botframework.com/.default"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Client talks to the user token store of the bot's identity provider. Requests
// are authenticated as the bot with OAuth2 client credentials.
type Client struct {
	baseURL    string
	appID      string
	httpClient *http.Client
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("token service url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errors.New("token service app id is required")
	}
	if strings.TrimSpace(cfg.AppPassword) == "" {
		return nil, errors.New("token service app password is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     appID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     strings.TrimSpace(cfg.TokenURL),
	}
	if scope := strings.TrimSpace(cfg.Scope); scope != "" {
		cc.Scopes = []string{scope}
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		appID:      appID,
		httpClient: httpClient,
	}, nil
}

func MustNew(ctx context.Context, cfg Config) *Client {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// GetUserToken returns the stored token for the user, redeeming MagicCode when
// set. It returns nil without error when the store has no token.
func (c *Client) GetUserToken(ctx context.Context, req contractx.UserTokenRequest) (*contractx.TokenResponse, error) {
	q := url.Values{}
	q.Set("userId", req.UserID)
	q.Set("connectionName", req.ConnectionName)
	q.Set("channelId", req.ChannelID)
	if req.MagicCode != "" {
		q.Set("code", req.MagicCode)
	}

	status, raw, err := c.do(ctx, http.MethodGet, "/api/usertoken/GetToken", q)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var tok contractx.TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.Token == "" {
		return nil, nil
	}
	return &tok, nil
}

type signInState struct {
	ConnectionName string `json:"connectionName"`
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	UserID         string `json:"userId"`
	MsAppID        string `json:"msAppId"`
}

func (c *Client) GetSignInLink(ctx context.Context, req contractx.UserTokenRequest) (string, error) {
	state, err := json.Marshal(signInState{
		ConnectionName: req.ConnectionName,
		ConversationID: req.ConversationID,
		ChannelID:      req.ChannelID,
		UserID:         req.UserID,
		MsAppID:        c.appID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal sign-in state: %w", err)
	}

	q := url.Values{}
	q.Set("state", base64.URLEncoding.EncodeToString(state))
	_, raw, err := c.do(ctx, http.MethodGet, "/api/botsignin/GetSignInUrl", q)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *Client) SignOut(ctx context.Context, req contractx.UserTokenRequest) error {
	q := url.Values{}
	q.Set("userId", req.UserID)
	q.Set("connectionName", req.ConnectionName)
	q.Set("channelId", req.ChannelID)
	_, _, err := c.do(ctx, http.MethodDelete, "/api/usertoken/SignOut", q)
	return err
}

// do returns the body for 2xx and 404 responses; any other status is an error.
func (c *Client) do(ctx context.Context, method, path string, q url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build token service request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute token service request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read token service response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, raw, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, nil, fmt.Errorf("token service http status=%d body=%s", resp.StatusCode, string(raw))
	}
	return resp.StatusCode, raw, nil
}
