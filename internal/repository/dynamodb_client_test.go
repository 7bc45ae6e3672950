package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chat-widget/internal/cookie"
)

var _ cookie.Backend = (*DynamoCookies)(nil)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func mustNewDynamo(t *testing.T, db *fakeDynamo) *DynamoCookies {
	t.Helper()
	c, err := NewDynamoCookies(db, "widget-cookies")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func makeCookieItem(name, value string, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: cookiePK(name)},
		"SK":    &types.AttributeValueMemberS{Value: skValue},
		"value": &types.AttributeValueMemberS{Value: value},
		"ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func TestNewDynamoCookies_Validation(t *testing.T) {
	_, err := NewDynamoCookies(nil, "t")
	require.Error(t, err)
	_, err = NewDynamoCookies(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "table name")
}

func TestDynamoGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeCookieItem("chatbot_w1_session", `{"sessionId":"abc"}`, fixedNow.Add(time.Hour).Unix()),
	}}
	c := mustNewDynamo(t, db)

	v, ok, err := c.Get(context.Background(), "chatbot_w1_session")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"sessionId":"abc"}`, v)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "COOKIE#chatbot_w1_session",
		db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoGet_Missing(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := c.Get(context.Background(), "c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_ExpiredButNotYetReaped(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{
		Item: makeCookieItem("c", "v", fixedNow.Add(-time.Second).Unix()),
	}}
	c := mustNewDynamo(t, db)
	_, ok, err := c.Get(context.Background(), "c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_Error(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{getErr: errors.New("ResourceNotFoundException")})
	_, _, err := c.Get(context.Background(), "c")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Get get item")
}

func TestDynamoGet_MalformedTTL(t *testing.T) {
	item := makeCookieItem("c", "v", 0)
	item["ttl"] = &types.AttributeValueMemberS{Value: "soon"}
	c := mustNewDynamo(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, _, err := c.Get(context.Background(), "c")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode ttl")
}

func TestDynamoSet_WritesItem(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	expires := fixedNow.Add(14 * 24 * time.Hour)

	require.NoError(t, c.Set(context.Background(), "c", "payload", expires))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "widget-cookies", *db.lastPutInput.TableName)
	item := db.lastPutInput.Item
	require.Equal(t, "payload", item["value"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, strconv.FormatInt(expires.Unix(), 10), item["ttl"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoSet_Error(t *testing.T) {
	c := mustNewDynamo(t, &fakeDynamo{putErr: errors.New("throttled")})
	err := c.Set(context.Background(), "c", "v", fixedNow.Add(time.Hour))
	require.Error(t, err)
	require.Contains(t, err.Error(), "throttled")
}

func TestDynamoDelete(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewDynamo(t, db)
	require.NoError(t, c.Delete(context.Background(), "c"))
	require.Equal(t, "COOKIE#c", db.lastDelInput.Key["PK"].(*types.AttributeValueMemberS).Value)

	db.deleteErr = errors.New("boom")
	require.Error(t, c.Delete(context.Background(), "c"))
}
