// Package mongodb implements the message log on a MongoDB collection with a
// compound index on (room, created_at).
package mongodb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/twinelabs/twine/internal/models"
	"github.com/twinelabs/twine/internal/store"
)

// Config holds connection settings for the MongoDB message log.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// MessageLog is a MongoDB implementation of store.MessageLog.
//
// CreatedAt is assigned from the relay's wall clock, so with multiple relay
// instances two messages in a room can share a millisecond. Equal-timestamp
// messages on the watermark boundary are both replayed, which is safe under
// at-least-once delivery. The page cursor carries the document id alongside
// the timestamp so an equal-timestamp pair straddling a page boundary is
// never skipped.
type MessageLog struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Room      string             `bson:"room"`
	Payload   string             `bson:"payload"`
	CreatedAt time.Time          `bson:"created_at"`
}

// NewMessageLog connects to MongoDB, verifies connectivity and ensures the
// history index exists.
func NewMessageLog(ctx context.Context, cfg *Config) (*MessageLog, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("mongodb message log ready")

	return &MessageLog{client: client, coll: coll}, nil
}

// Close disconnects the underlying client.
func (s *MessageLog) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Append inserts a message with the current wall clock truncated to
// millisecond precision, matching the watermark wire unit.
func (s *MessageLog) Append(ctx context.Context, room string, payload string) (*models.Message, error) {
	msg := models.Message{
		Room:      room,
		Payload:   payload,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := s.coll.InsertOne(ctx, messageDoc{
		Room:      msg.Room,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return nil, mapMongoError(err, "failed to append message")
	}

	return &msg, nil
}

// QueryAfter returns messages with created_at strictly after the bound,
// ascending by (created_at, _id). The cursor encodes both the wire timestamp
// and the document id of the last returned message, so a page resumes after
// that exact document rather than after its possibly shared timestamp.
func (s *MessageLog) QueryAfter(ctx context.Context, room string, after time.Time, pageSize int, cursor string) (*store.Page, error) {
	filter, err := historyFilter(room, after, cursor)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if pageSize > 0 {
		findOpts = findOpts.SetLimit(int64(pageSize))
	}

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, mapMongoError(err, "failed to query messages")
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapMongoError(err, "failed to decode messages")
	}

	page := &store.Page{
		Items: make([]models.Message, 0, len(docs)),
	}
	for _, doc := range docs {
		page.Items = append(page.Items, models.Message{
			Room:      doc.Room,
			Payload:   doc.Payload,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}

	if pageSize > 0 && len(docs) == pageSize {
		last := docs[len(docs)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return page, nil
}

// historyFilter builds the Find filter for one history page. A cursor
// resumes strictly after its (created_at, _id) position: later timestamps,
// or the same timestamp with a later document id.
func historyFilter(room string, after time.Time, cursor string) (bson.M, error) {
	filter := bson.M{
		"room":       room,
		"created_at": bson.M{"$gt": after},
	}
	if cursor == "" {
		return filter, nil
	}

	bound, lastID, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	filter["$or"] = []bson.M{
		{"created_at": bson.M{"$gt": bound}},
		{"created_at": bound, "_id": bson.M{"$gt": lastID}},
	}
	return filter, nil
}

func encodeCursor(createdAt time.Time, id primitive.ObjectID) string {
	return strconv.FormatInt(createdAt.UnixMilli(), 10) + "/" + id.Hex()
}

func parseCursor(cursor string) (time.Time, primitive.ObjectID, error) {
	rawMs, rawID, ok := strings.Cut(cursor, "/")
	if !ok {
		return time.Time{}, primitive.NilObjectID, fmt.Errorf("%w: %q", store.ErrInvalidCursor, cursor)
	}
	ms, err := strconv.ParseInt(rawMs, 10, 64)
	if err != nil {
		return time.Time{}, primitive.NilObjectID, fmt.Errorf("%w: %q", store.ErrInvalidCursor, cursor)
	}
	id, err := primitive.ObjectIDFromHex(rawID)
	if err != nil {
		return time.Time{}, primitive.NilObjectID, fmt.Errorf("%w: %q", store.ErrInvalidCursor, cursor)
	}
	return time.UnixMilli(ms).UTC(), id, nil
}

// PruneBefore deletes messages older than the cutoff across all rooms.
func (s *MessageLog) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, mapMongoError(err, "failed to prune messages")
	}
	return int(res.DeletedCount), nil
}

// mapMongoError maps connectivity failures to store.ErrMessageLogUnavailable
// and wraps everything else with context.
func mapMongoError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%s: %w: %v", msg, store.ErrMessageLogUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
