package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDefaultDatabase = "voicechat"
	mongoCollection      = "chats"
)

type mongoMessage struct {
	Role        string     `bson:"role"`
	Text        string     `bson:"text"`
	Audio       string     `bson:"audio,omitempty"`
	ContentTime *time.Time `bson:"content_timestamp,omitempty"`
	Object      bool       `bson:"content_object,omitempty"`
	Timestamp   time.Time  `bson:"timestamp"`
}

type mongoChat struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	Messages  []mongoMessage     `bson:"messages"`
}

func toMongoMessage(m Message) mongoMessage {
	out := mongoMessage{
		Role:      string(m.Role),
		Text:      m.Content.Text,
		Audio:     m.Content.Audio,
		Object:    m.Content.Object,
		Timestamp: m.Timestamp,
	}
	if !m.Content.Timestamp.IsZero() {
		ts := m.Content.Timestamp
		out.ContentTime = &ts
	}
	return out
}

func (m mongoMessage) message() Message {
	out := Message{
		Role:      Role(m.Role),
		Content:   Content{Text: m.Text, Audio: m.Audio, Object: m.Object},
		Timestamp: m.Timestamp.UTC(),
	}
	if m.ContentTime != nil {
		out.Content.Timestamp = m.ContentTime.UTC()
	}
	return out
}

// MongoStore persists chat sessions as documents with an embedded message
// array. Identifiers are ObjectID hex strings.
type MongoStore struct {
	client *mongo.Client
	chats  *mongo.Collection
}

// NewMongoStore connects to uri. The database comes from the URI path and
// defaults to "voicechat".
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	dbName := mongoDefaultDatabase
	if name := databaseFromURL(uri); name != "" {
		dbName = name
	}
	return &MongoStore{
		client: client,
		chats:  client.Database(dbName).Collection(mongoCollection),
	}, nil
}

func (s *MongoStore) Create(ctx context.Context) (string, error) {
	doc := mongoChat{CreatedAt: time.Now().UTC(), Messages: []mongoMessage{}}
	res, err := s.chats.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("create chat: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *MongoStore) Append(ctx context.Context, id string, msg Message) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.chats.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"messages": toMongoMessage(msg)}},
	)
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Session, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Session{}, ErrNotFound
	}
	var doc mongoChat
	err = s.chats.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get chat: %w", err)
	}
	sess := Session{ID: doc.ID.Hex(), CreatedAt: doc.CreatedAt.UTC(), Messages: make([]Message, 0, len(doc.Messages))}
	for _, m := range doc.Messages {
		sess.Messages = append(sess.Messages, m.message())
	}
	return sess, nil
}

func (s *MongoStore) List(ctx context.Context) ([]Summary, error) {
	opts := options.Find().
		SetProjection(bson.M{"messages": 0}).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.chats.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer cur.Close(ctx)

	out := []Summary{}
	for cur.Next(ctx) {
		var doc mongoChat
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode chat: %w", err)
		}
		out = append(out, Summary{ID: doc.ID.Hex(), CreatedAt: doc.CreatedAt.UTC()})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.chats.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
