package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DynamoDBConfig struct {
	Table string        `envconfig:"TABLE" split_words:"true"`
	TTL   time.Duration `envconfig:"TTL" split_words:"true" default:"720h"`
}

// dynamodbAPI is the minimal DynamoDB surface required by DynamoDBStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore persists one item per partition key: PK holds the key and document
// holds the JSON-encoded record. Items carry a ttl attribute for table-level expiry.
type DynamoDBStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoDBStore(api dynamodbAPI, cfg DynamoDBConfig) (*DynamoDBStore, error) {
	if api == nil {
		return nil, errors.New("state: dynamodb api must not be nil")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("state: dynamodb table name must not be empty")
	}
	return &DynamoDBStore{
		api:       api,
		tableName: strings.TrimSpace(cfg.Table),
		ttl:       cfg.TTL,
		now:       time.Now,
	}, nil
}

func (s *DynamoDBStore) Load(ctx context.Context, key string) (*Record, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("state: dynamodb get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrStateNotFound
	}

	doc, ok := out.Item["document"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("state: dynamodb attribute \"document\" is missing or not a string")
	}
	return decodeRecord([]byte(doc.Value))
}

func (s *DynamoDBStore) Save(ctx context.Context, rec *Record) error {
	if err := prepareForSave(rec); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: rec.Key},
		"scope":     &types.AttributeValueMemberS{Value: string(rec.Scope)},
		"document":  &types.AttributeValueMemberS{Value: string(payload)},
		"updatedAt": &types.AttributeValueMemberS{Value: rec.UpdatedAt.Format(time.RFC3339Nano)},
	}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", s.now().Add(s.ttl).Unix())}
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("state: dynamodb put item: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("state: dynamodb delete item: %w", err)
	}
	return nil
}
