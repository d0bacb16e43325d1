package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrStateNotFound = errors.New("state record not found")
	ErrInvalidKey    = errors.New("state key is empty")
)

const (
	defaultStoreKeyPrefix = "bot:state:"
	defaultStoreTTL       = 24 * time.Hour
)

// Store is the durable state contract used by the turn dispatcher. Load returns
// ErrStateNotFound for an unknown key.
type Store interface {
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
}

// prefixedKey namespaces a partition key for key-value backends.
func prefixedKey(prefix, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrInvalidKey
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return prefix + key, nil
}
