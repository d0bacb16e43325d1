package state

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseSizeBytes = 2 << 20

// ErrUpstashCommand marks failures reported by the Upstash REST endpoint.
var ErrUpstashCommand = errors.New("upstash command failed")

type UpstashRedisConfig struct {
	URL       string        `envconfig:"URL" split_words:"true"`
	Token     string        `envconfig:"TOKEN" split_words:"true"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" split_words:"true" default:"bot:state:"`
	Timeout   time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL       time.Duration `envconfig:"TTL" split_words:"true" default:"24h"`
}

// UpstashRedisStore keeps records in Upstash Redis, speaking its REST protocol
// instead of RESP so it works from hosts without a TCP route to Redis.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithTTL overrides the configured expiry. Zero keeps records forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// upstashReply is the REST envelope: exactly one of Result or Error is set.
type upstashReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	switch {
	case endpoint == "":
		return nil, errors.New("upstash redis url is required")
	case strings.TrimSpace(cfg.Token) == "":
		return nil, errors.New("upstash redis token is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("upstash redis url: %w", err)
	}

	s := &UpstashRedisStore{
		baseURL:    endpoint,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: cmp.Or(cfg.Timeout, 10*time.Second)},
		keyPrefix:  cmp.Or(strings.TrimSpace(cfg.KeyPrefix), defaultStoreKeyPrefix),
		ttl:        cmp.Or(cfg.TTL, defaultStoreTTL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl < 0 {
		return nil, fmt.Errorf("upstash redis ttl must not be negative, got %s", s.ttl)
	}
	return s, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, key string) (*Record, error) {
	redisKey, err := prefixedKey(s.keyPrefix, key)
	if err != nil {
		return nil, err
	}

	result, err := s.command(ctx, "GET", redisKey)
	if err != nil {
		return nil, err
	}
	payload, err := bulkString(result)
	if err != nil {
		return nil, fmt.Errorf("upstash get %s: %w", redisKey, err)
	}
	return decodeRecord(payload)
}

func (s *UpstashRedisStore) Save(ctx context.Context, rec *Record) error {
	if err := prepareForSave(rec); err != nil {
		return err
	}
	redisKey, err := prefixedKey(s.keyPrefix, rec.Key)
	if err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	args := []any{"SET", redisKey, string(payload)}
	if s.ttl > 0 {
		args = append(args, "EX", expirySeconds(s.ttl))
	}
	if _, err := s.command(ctx, args...); err != nil {
		return fmt.Errorf("upstash set %s: %w", redisKey, err)
	}
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, key string) error {
	redisKey, err := prefixedKey(s.keyPrefix, key)
	if err != nil {
		return err
	}
	if _, err := s.command(ctx, "DEL", redisKey); err != nil {
		return fmt.Errorf("upstash del %s: %w", redisKey, err)
	}
	return nil
}

// command posts one Redis command as a JSON array and returns its result field.
func (s *UpstashRedisStore) command(ctx context.Context, args ...any) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode upstash command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstashCommand, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var reply upstashReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed reply: %w", ErrUpstashCommand, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstashCommand, reply.Error)
	}
	return reply.Result, nil
}

// bulkString unwraps a GET result. A nil reply means the key does not exist.
func bulkString(result json.RawMessage) ([]byte, error) {
	result = bytes.TrimSpace(result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}
	var payload string
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("%w: result is not a string", ErrUpstashCommand)
	}
	return []byte(payload), nil
}

// expirySeconds rounds ttl up to whole seconds for EX.
func expirySeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
