package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

var _ Store = (*MongoStore)(nil)

// ConnectMongo opens a client to uri, verifies it with a ping and binds it
// to database dbName. timeout is the per-operation client timeout.
func ConnectMongo(ctx context.Context, uri, dbName string, timeout time.Duration, log *zap.Logger) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, dbName, log), nil
}

// NewMongoStore wraps an already connected client.
func NewMongoStore(client *mongo.Client, dbName string, log *zap.Logger) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName), log: log}
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) FindOne(ctx context.Context, coll string, filter bson.M) (models.Record, error) {
	var doc bson.M
	err := s.db.Collection(coll).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find one", coll, err)
	}
	return Normalize(doc), nil
}

func (s *MongoStore) FindMany(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]models.Record, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	cur, err := s.db.Collection(coll).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, unavailable("find", coll, err)
	}
	return s.drain(ctx, coll, cur)
}

func (s *MongoStore) Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]models.Record, error) {
	cur, err := s.db.Collection(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable("aggregate", coll, err)
	}
	return s.drain(ctx, coll, cur)
}

func (s *MongoStore) drain(ctx context.Context, coll string, cur *mongo.Cursor) ([]models.Record, error) {
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("read cursor", coll, err)
	}
	out := make([]models.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, Normalize(d))
	}
	return out, nil
}

func (s *MongoStore) InsertOne(ctx context.Context, coll string, doc models.Record) (primitive.ObjectID, error) {
	res, err := s.db.Collection(coll).InsertOne(ctx, bson.M(doc))
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, fmt.Errorf("insert %s: %w", coll, ErrDuplicateKey)
	}
	if err != nil {
		return primitive.NilObjectID, unavailable("insert", coll, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("insert %s: unexpected id type %T", coll, res.InsertedID)
	}
	return oid, nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, coll string, filter bson.M, set bson.M) (int64, error) {
	res, err := s.db.Collection(coll).UpdateOne(ctx, filter, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return 0, fmt.Errorf("update %s: %w", coll, ErrDuplicateKey)
	}
	if err != nil {
		return 0, unavailable("update", coll, err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(coll).DeleteOne(ctx, filter)
	if err != nil {
		return 0, unavailable("delete", coll, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(coll).DeleteMany(ctx, filter)
	if err != nil {
		return 0, unavailable("delete many", coll, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	n, err := s.db.Collection(coll).CountDocuments(ctx, filter)
	if err != nil {
		return 0, unavailable("count", coll, err)
	}
	return n, nil
}

func (s *MongoStore) Distinct(ctx context.Context, coll string, field string, filter bson.M) ([]any, error) {
	values, err := s.db.Collection(coll).Distinct(ctx, field, filter)
	if err != nil {
		return nil, unavailable("distinct", coll, err)
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, normalizeValue(v))
	}
	return out, nil
}

func (s *MongoStore) EnsureUniqueIndex(ctx context.Context, coll string, field string) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	name, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model)
	if err != nil {
		return unavailable("create index", coll, err)
	}
	s.log.Debug("unique index ready", zap.String("collection", coll), zap.String("index", name))
	return nil
}

func (s *MongoStore) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": bson.M{"$regex": `^(?!system\.)`}})
	if err != nil {
		return nil, unavailable("list collections", s.db.Name(), err)
	}
	return names, nil
}
