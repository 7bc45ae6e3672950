package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixCookie = "COOKIE#"
	skValue        = "VALUE#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoCookies.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoCookies stores widget cookies in a DynamoDB table. The ttl attribute
// lets DynamoDB reap expired items; reads also check it because TTL deletion
// is lazy.
type DynamoCookies struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoCookies creates a DynamoDB-backed cookie backend.
func NewDynamoCookies(api dynamodbAPI, tableName string) (*DynamoCookies, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoCookies{api: api, tableName: tableName, now: time.Now}, nil
}

// cookiePK returns the partition key for a cookie name.
func cookiePK(name string) string {
	return pkPrefixCookie + name
}

func (c *DynamoCookies) key(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: cookiePK(name)},
		"SK": &types.AttributeValueMemberS{Value: skValue},
	}
}

// Get reads a cookie value, treating expired items as absent.
func (c *DynamoCookies) Get(ctx context.Context, name string) (string, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: Get get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}

	value, err := strAttr(out.Item, "value")
	if err != nil {
		return "", false, fmt.Errorf("repository: Get decode value: %w", err)
	}
	ttl, err := int64Attr(out.Item, "ttl")
	if err != nil {
		return "", false, fmt.Errorf("repository: Get decode ttl: %w", err)
	}
	if c.now().Unix() >= ttl {
		return "", false, nil
	}
	return value, true, nil
}

// Set writes or replaces a cookie value.
func (c *DynamoCookies) Set(ctx context.Context, name, value string, expires time.Time) error {
	item := c.key(name)
	item["name"] = &types.AttributeValueMemberS{Value: name}
	item["value"] = &types.AttributeValueMemberS{Value: value}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Set: %w", err)
	}
	return nil
}

// Delete removes a cookie. Deleting a missing cookie is not an error.
func (c *DynamoCookies) Delete(ctx context.Context, name string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(name),
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
