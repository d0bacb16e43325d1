package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scope tells which identity a Record is partitioned by.
type Scope string

const (
	ScopeConversation Scope = "conversation"
	ScopeUser         Scope = "user"
)

// Record is one durable state partition: everything the bot remembers about a single
// conversation or a single user. Values are kept as raw JSON so that every backend
// stores the same document and typed access happens at the edges.
type Record struct {
	Key       string                     `json:"key"`
	Scope     Scope                      `json:"scope"`
	Values    map[string]json.RawMessage `json:"values,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

var (
	ErrNilRecord    = errors.New("state record is nil")
	ErrInvalidScope = errors.New("state scope is invalid")
	ErrEmptyValue   = errors.New("state value key is empty")
)

func NewRecord(key string, scope Scope, now time.Time) *Record {
	return &Record{
		Key:       key,
		Scope:     scope,
		Values:    make(map[string]json.RawMessage, 4),
		UpdatedAt: now.UTC(),
	}
}

// ConversationKey returns the partition key for a conversation on a channel.
func ConversationKey(channelID, conversationID string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	conversationID = strings.TrimSpace(conversationID)
	if channelID == "" || conversationID == "" {
		return "", fmt.Errorf("%w: channel and conversation id are required", ErrInvalidKey)
	}
	return channelID + "/conversations/" + conversationID, nil
}

// UserKey returns the partition key for a user on a channel.
func UserKey(channelID, userID string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	userID = strings.TrimSpace(userID)
	if channelID == "" || userID == "" {
		return "", fmt.Errorf("%w: channel and user id are required", ErrInvalidKey)
	}
	return channelID + "/users/" + userID, nil
}

func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}

// EnsureValues makes sure r.Values is initialized.
func (r *Record) EnsureValues() {
	if r.Values == nil {
		r.Values = make(map[string]json.RawMessage, 4)
	}
}

// Get decodes the value stored under key into out. It reports false when the key is absent.
func (r *Record) Get(key string, out any) (bool, error) {
	if r == nil {
		return false, ErrNilRecord
	}
	raw, ok := r.Values[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode state value %q: %w", key, err)
	}
	return true, nil
}

// Set encodes v and stores it under key.
func (r *Record) Set(key string, v any) error {
	if r == nil {
		return ErrNilRecord
	}
	if strings.TrimSpace(key) == "" {
		return ErrEmptyValue
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state value %q: %w", key, err)
	}
	r.EnsureValues()
	r.Values[key] = raw
	return nil
}

// Clone returns a deep copy so callers never share a map with the store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		Key:       r.Key,
		Scope:     r.Scope,
		UpdatedAt: r.UpdatedAt,
		Values:    make(map[string]json.RawMessage, len(r.Values)),
	}
	for k, v := range r.Values {
		out.Values[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if strings.TrimSpace(r.Key) == "" {
		return ErrInvalidKey
	}
	switch r.Scope {
	case ScopeConversation, ScopeUser:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, r.Scope)
	}
	for k, v := range r.Values {
		if !json.Valid(v) {
			return fmt.Errorf("state value %q is not valid json", k)
		}
	}
	return nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal state record: %w", err)
	}
	return payload, nil
}

func decodeRecord(payload []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal state record: %w", err)
	}
	rec.EnsureValues()
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state record loaded from store: %w", err)
	}
	return &rec, nil
}

// prepareForSave validates rec and stamps UpdatedAt when it was never set.
func prepareForSave(rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	rec.EnsureValues()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	} else {
		rec.UpdatedAt = rec.UpdatedAt.UTC()
	}
	return rec.Validate()
}
