// Package docstore is the boundary between the runtime and the document
// database. Store is implemented by MongoStore for production and by
// MemoryStore for tests and single-node development.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrDuplicateKey is returned when a write violates a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// FindOptions controls ordering and paging of FindMany. Zero Limit means no limit.
type FindOptions struct {
	Sort  bson.D
	Skip  int64
	Limit int64
}

// Store is the document database contract consumed by the record store.
// Absent documents are reported as a nil record with a nil error.
type Store interface {
	FindOne(ctx context.Context, coll string, filter bson.M) (models.Record, error)
	FindMany(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]models.Record, error)
	Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]models.Record, error)
	InsertOne(ctx context.Context, coll string, doc models.Record) (primitive.ObjectID, error)
	// UpdateOne applies set as a partial $set update and returns the modified count.
	UpdateOne(ctx context.Context, coll string, filter bson.M, set bson.M) (int64, error)
	DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error)
	Count(ctx context.Context, coll string, filter bson.M) (int64, error)
	Distinct(ctx context.Context, coll string, field string, filter bson.M) ([]any, error)
	// EnsureUniqueIndex is idempotent.
	EnsureUniqueIndex(ctx context.Context, coll string, field string) error
	Collections(ctx context.Context) ([]string, error)
}

func unavailable(op, coll string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, coll, models.ErrStoreUnavailable, err)
}

// Normalize converts a decoded document to the canonical in-process form:
// nested documents become map[string]any, arrays []any, integers int64 and
// datetimes UTC time.Time at millisecond precision.
func Normalize(doc map[string]any) models.Record {
	if doc == nil {
		return nil
	}
	out := make(models.Record, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case models.Record:
		return map[string]any(Normalize(t))
	case map[string]any:
		return map[string]any(Normalize(t))
	case bson.M:
		return map[string]any(Normalize(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case bson.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = map[string]any(Normalize(t[i]))
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC().Truncate(time.Millisecond)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case float32:
		return float64(t)
	case uint, uint8, uint16, uint32, uint64:
		if i, ok := models.AsInt(t); ok {
			return i
		}
		f, _ := models.AsFloat(t)
		return f
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	}
	return v
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i := range s {
		out[i] = normalizeValue(s[i])
	}
	return out
}
