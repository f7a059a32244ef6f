package repository

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

const (
	attrPK        = "PK"
	attrValue     = "value"
	attrUpdatedAt = "updatedAt"
	pkPrefix      = "KV#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDB stores string values in a table keyed by a single PK attribute.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDB creates a DynamoDB-backed key-value store.
func NewDynamoDB(api dynamodbAPI, tableName string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoDB{api: api, tableName: tableName, now: time.Now}, nil
}

// itemPK returns the DynamoDB partition key for a logical key.
func itemPK(key string) string {
	return pkPrefix + key
}

func (c *DynamoDB) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: itemPK(key)},
	}
}

// Get reads the value stored under key.
func (c *DynamoDB) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: Get get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}
	value, err := strAttr(out.Item, attrValue)
	if err != nil {
		return "", false, fmt.Errorf("repository: Get decode value: %w", err)
	}
	return value, true, nil
}

// Set writes or replaces the value stored under key.
func (c *DynamoDB) Set(ctx context.Context, key, value string) error {
	item := c.keyAttr(key)
	item[attrValue] = &types.AttributeValueMemberS{Value: value}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *DynamoDB) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
