package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hypehub/task-escrow/escrow"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// LOG
// =============================================================================

// LogSink writes events to a structured logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, ev escrow.Event) error {
	s.log.InfoContext(ctx, "notification",
		"type", ev.Kind,
		"recipient", ev.Recipient,
		"task_id", ev.TaskID,
		"points", ev.Points,
		"message", ev.Message)
	return nil
}

// =============================================================================
// REDIS
// =============================================================================

// publisher is the part of *redis.Client RedisSink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes each event as JSON on <prefix>:<recipient>, so a
// realtime gateway can subscribe per user.
type RedisSink struct {
	client publisher
	prefix string
}

func NewRedisSink(client publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "escrow:notifications"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// DialRedis connects and pings. The caller owns the returned client.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rc, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(recipient escrow.UserID) string {
	return fmt.Sprintf("%s:%s", s.prefix, recipient)
}

func (s *RedisSink) Deliver(ctx context.Context, ev escrow.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.Channel(ev.Recipient), payload).Err()
}

// =============================================================================
// MONGODB
// =============================================================================

// inserter is the part of *mongo.Collection MongoSink needs.
type inserter interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// InboxDocument is one stored notification in a user's inbox.
type InboxDocument struct {
	Recipient string    `bson:"recipient"`
	Type      string    `bson:"type"`
	Title     string    `bson:"title"`
	Message   string    `bson:"message"`
	TaskID    string    `bson:"task_id,omitempty"`
	Platform  string    `bson:"platform,omitempty"`
	Points    int64     `bson:"points"`
	Read      bool      `bson:"read"`
	Timestamp time.Time `bson:"timestamp"`
}

func newInboxDocument(ev escrow.Event) InboxDocument {
	return InboxDocument{
		Recipient: string(ev.Recipient),
		Type:      string(ev.Kind),
		Title:     ev.Title,
		Message:   ev.Message,
		TaskID:    string(ev.TaskID),
		Platform:  ev.Platform,
		Points:    ev.Points,
		Timestamp: ev.OccurredAt,
	}
}

// MongoSink stores events as unread inbox documents.
type MongoSink struct {
	coll inserter
}

func NewMongoSink(coll inserter) *MongoSink {
	return &MongoSink{coll: coll}
}

// ConnectMongo connects and returns a sink on database.collection. The
// caller disconnects the returned client.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*mongo.Client, *MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, NewMongoSink(client.Database(database).Collection(collection)), nil
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Deliver(ctx context.Context, ev escrow.Event) error {
	_, err := s.coll.InsertOne(ctx, newInboxDocument(ev))
	return err
}
