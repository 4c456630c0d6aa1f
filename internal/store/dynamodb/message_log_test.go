package dynamodb

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/twinelabs/twine/internal/store"
)

type fakeClient struct {
	putInputs   []*dynamodb.PutItemInput
	putErrs     []error
	queryInputs []*dynamodb.QueryInput
	queryOut    *dynamodb.QueryOutput
	queryErr    error
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, params)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, params)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryOut, nil
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional put", func(t *testing.T) {
		client := &fakeClient{}
		log := NewMessageLog(client, "twine_messages")

		msg, err := log.Append(ctx, "lobby", "hello")
		require.NoError(t, err)
		require.Equal(t, "lobby", msg.Room)
		require.Equal(t, "hello", msg.Payload)

		require.Len(t, client.putInputs, 1)
		input := client.putInputs[0]
		require.Equal(t, "twine_messages", *input.TableName)
		require.Equal(t, "attribute_not_exists(created_at)", *input.ConditionExpression)
		require.Equal(t, "lobby", input.Item["room"].(*types.AttributeValueMemberS).Value)
	})

	t.Run("retries timestamp collisions", func(t *testing.T) {
		client := &fakeClient{
			putErrs: []error{&types.ConditionalCheckFailedException{}, nil},
		}
		log := NewMessageLog(client, "twine_messages")

		msg, err := log.Append(ctx, "lobby", "hello")
		require.NoError(t, err)
		require.Len(t, client.putInputs, 2)

		first := client.putInputs[0].Item["created_at"].(*types.AttributeValueMemberN).Value
		second := client.putInputs[1].Item["created_at"].(*types.AttributeValueMemberN).Value
		require.NotEqual(t, first, second)
		require.Equal(t, second, itoa(msg.CreatedAt))
	})

	t.Run("gives up after repeated collisions", func(t *testing.T) {
		client := &fakeClient{
			putErrs: []error{
				&types.ConditionalCheckFailedException{},
				&types.ConditionalCheckFailedException{},
				&types.ConditionalCheckFailedException{},
				&types.ConditionalCheckFailedException{},
				&types.ConditionalCheckFailedException{},
			},
		}
		log := NewMessageLog(client, "twine_messages")

		_, err := log.Append(ctx, "lobby", "hello")
		require.Error(t, err)
	})

	t.Run("maps throttling", func(t *testing.T) {
		client := &fakeClient{
			putErrs: []error{&types.ProvisionedThroughputExceededException{}},
		}
		log := NewMessageLog(client, "twine_messages")

		_, err := log.Append(ctx, "lobby", "hello")
		require.ErrorIs(t, err, store.ErrThrottled)
	})
}

func TestQueryAfter(t *testing.T) {
	ctx := context.Background()

	t.Run("maps items and pagination key", func(t *testing.T) {
		client := &fakeClient{
			queryOut: &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					{
						"room":       &types.AttributeValueMemberS{Value: "lobby"},
						"created_at": &types.AttributeValueMemberN{Value: "100"},
						"payload":    &types.AttributeValueMemberS{Value: "first"},
					},
					{
						"room":       &types.AttributeValueMemberS{Value: "lobby"},
						"created_at": &types.AttributeValueMemberN{Value: "200"},
						"payload":    &types.AttributeValueMemberS{Value: "second"},
					},
				},
				LastEvaluatedKey: map[string]types.AttributeValue{
					"room":       &types.AttributeValueMemberS{Value: "lobby"},
					"created_at": &types.AttributeValueMemberN{Value: "200"},
				},
			},
		}
		log := NewMessageLog(client, "twine_messages")

		page, err := log.QueryAfter(ctx, "lobby", time.UnixMilli(50), 2, "")
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		require.Equal(t, "first", page.Items[0].Payload)
		require.Equal(t, time.UnixMilli(100).UTC(), page.Items[0].CreatedAt)
		require.Equal(t, "200", page.NextCursor)

		require.Len(t, client.queryInputs, 1)
		input := client.queryInputs[0]
		require.EqualValues(t, 2, *input.Limit)
		require.Nil(t, input.ExclusiveStartKey)
	})

	t.Run("cursor resumes the scan", func(t *testing.T) {
		client := &fakeClient{queryOut: &dynamodb.QueryOutput{}}
		log := NewMessageLog(client, "twine_messages")

		page, err := log.QueryAfter(ctx, "lobby", time.UnixMilli(50), 2, "200")
		require.NoError(t, err)
		require.Empty(t, page.Items)
		require.Empty(t, page.NextCursor)

		input := client.queryInputs[0]
		require.NotNil(t, input.ExclusiveStartKey)
		require.Equal(t, "200", input.ExclusiveStartKey["created_at"].(*types.AttributeValueMemberN).Value)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		client := &fakeClient{queryOut: &dynamodb.QueryOutput{}}
		log := NewMessageLog(client, "twine_messages")

		_, err := log.QueryAfter(ctx, "lobby", time.Time{}, 2, "bogus")
		require.ErrorIs(t, err, store.ErrInvalidCursor)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		client := &fakeClient{queryErr: errors.New("boom")}
		log := NewMessageLog(client, "twine_messages")

		_, err := log.QueryAfter(ctx, "lobby", time.Time{}, 2, "")
		require.Error(t, err)
	})
}

func itoa(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
