package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN          string        `envconfig:"DSN" split_words:"true"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" split_words:"true" default:"5s"`
	CreateSchema bool          `envconfig:"CREATE_SCHEMA" split_words:"true" default:"true"`
}

type stateRow struct {
	bun.BaseModel `bun:"table:bot_state,alias:bs"`

	PartitionKey string    `bun:"partition_key,pk"`
	Scope        string    `bun:"scope,notnull"`
	Document     string    `bun:"document,type:jsonb,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

// PostgresStore persists records as JSONB rows in the bot_state table.
type PostgresStore struct {
	db *bun.DB
}

func OpenPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
	)
	db := bun.NewDB(sql.OpenDB(connector), pgdialect.New())

	store := NewPostgresStore(db)
	if cfg.CreateSchema {
		if err := store.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*stateRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create bot_state table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*Record, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}

	var row stateRow
	err := s.db.NewSelect().
		Model(&row).
		Where("partition_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("select state %s: %w", key, err)
	}
	return recordFromRow(row)
}

func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if err := prepareForSave(rec); err != nil {
		return err
	}
	row, err := rowFromRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.NewInsert().
		Model(&row).
		On("CONFLICT (partition_key) DO UPDATE").
		Set("scope = EXCLUDED.scope").
		Set("document = EXCLUDED.document").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert state %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	_, err := s.db.NewDelete().
		Model((*stateRow)(nil)).
		Where("partition_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func rowFromRecord(rec *Record) (stateRow, error) {
	payload, err := encodeRecord(rec)
	if err != nil {
		return stateRow{}, err
	}
	return stateRow{
		PartitionKey: rec.Key,
		Scope:        string(rec.Scope),
		Document:     string(payload),
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func recordFromRow(row stateRow) (*Record, error) {
	rec, err := decodeRecord([]byte(row.Document))
	if err != nil {
		return nil, err
	}
	if rec.Key != row.PartitionKey {
		return nil, fmt.Errorf("state row key mismatch: row=%s document=%s", row.PartitionKey, rec.Key)
	}
	return rec, nil
}
