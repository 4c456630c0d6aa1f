// Package dynamodb implements the message log on a DynamoDB table keyed by
// room (partition) and created_at in epoch milliseconds (sort), so history
// reads are a single Query with a strict greater-than key condition.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/store"
)

// appendAttempts bounds the timestamp-collision retry loop in Append.
const appendAttempts = 5

// DynamoDBAPI is the subset of the DynamoDB client used by the message log.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// MessageLog is a DynamoDB implementation of store.MessageLog.
//
// Retention is not implemented here: configure a TTL attribute on the table
// instead of scanning for expired items.
type MessageLog struct {
	client    DynamoDBAPI
	tableName string
}

// NewMessageLog creates a new DynamoDB message log.
func NewMessageLog(client DynamoDBAPI, tableName string) *MessageLog {
	return &MessageLog{
		client:    client,
		tableName: tableName,
	}
}

type messageItem struct {
	Room      string `dynamodbav:"room"`
	CreatedAt int64  `dynamodbav:"created_at"`
	Payload   string `dynamodbav:"payload"`
}

// Append persists a message keyed by the current wall clock in milliseconds.
// Two appends to the same room can land on the same millisecond, so the put
// is conditional on the sort key being free and retried one millisecond
// later on collision.
func (s *MessageLog) Append(ctx context.Context, room string, payload string) (*models.Message, error) {
	createdAt := time.Now().UnixMilli()

	for attempt := 0; attempt < appendAttempts; attempt++ {
		item, err := attributevalue.MarshalMap(messageItem{
			Room:      room,
			CreatedAt: createdAt,
			Payload:   payload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(created_at)"),
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				createdAt++
				continue
			}
			return nil, wrapAWSError(err, "failed to append message")
		}

		log.Debug().
			Str("room", room).
			Int64("created_at", createdAt).
			Msg("message appended")

		return &models.Message{
			Room:      room,
			Payload:   payload,
			CreatedAt: time.UnixMilli(createdAt).UTC(),
		}, nil
	}

	return nil, fmt.Errorf("failed to append message after %d timestamp collisions", appendAttempts)
}

// QueryAfter pages the room history with a strict greater-than key condition
// on created_at. The cursor round-trips DynamoDB's LastEvaluatedKey as the
// sort key value of the last item returned.
func (s *MessageLog) QueryAfter(ctx context.Context, room string, after time.Time, pageSize int, cursor string) (*store.Page, error) {
	keyCond := expression.Key("room").Equal(expression.Value(room)).
		And(expression.Key("created_at").GreaterThan(expression.Value(after.UnixMilli())))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if pageSize > 0 {
		input.Limit = aws.Int32(int32(pageSize))
	}

	if cursor != "" {
		if _, err := strconv.ParseInt(cursor, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %q", store.ErrInvalidCursor, cursor)
		}
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"room":       &types.AttributeValueMemberS{Value: room},
			"created_at": &types.AttributeValueMemberN{Value: cursor},
		}
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, wrapAWSError(err, "failed to query messages")
	}

	var items []messageItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	page := &store.Page{
		Items: make([]models.Message, 0, len(items)),
	}
	for _, item := range items {
		page.Items = append(page.Items, models.Message{
			Room:      item.Room,
			Payload:   item.Payload,
			CreatedAt: time.UnixMilli(item.CreatedAt).UTC(),
		})
	}

	if lek, ok := result.LastEvaluatedKey["created_at"]; ok {
		if n, ok := lek.(*types.AttributeValueMemberN); ok {
			page.NextCursor = n.Value
		}
	}

	return page, nil
}
