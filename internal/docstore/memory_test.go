package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func seedWidgets(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	docs := []models.Record{
		{"rec_name": "w1", "name": "x", "deleted": 0, "list_order": 2, "tags": []any{"a", "b"}},
		{"rec_name": "w2", "name": "x", "deleted": 0, "list_order": 1},
		{"rec_name": "w3", "name": "y", "deleted": 0, "list_order": 3},
		{"rec_name": "w4", "name": "x", "deleted": 1700000000, "list_order": 4},
	}
	for _, d := range docs {
		_, err := s.InsertOne(ctx, "widget", d)
		require.NoError(t, err)
	}
}

func TestMemoryStore_FindManyFilterSortPage(t *testing.T) {
	s := NewMemoryStore()
	seedWidgets(t, s)
	ctx := context.Background()

	got, err := s.FindMany(ctx, "widget",
		bson.M{"$and": []bson.M{{"deleted": 0}, {"name": "x"}}},
		FindOptions{Sort: bson.D{{Key: "list_order", Value: 1}}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "w2", got[0].RecName())
	assert.Equal(t, "w1", got[1].RecName())

	got, err = s.FindMany(ctx, "widget", bson.M{}, FindOptions{
		Sort:  bson.D{{Key: "list_order", Value: -1}},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "w3", got[0].RecName())
	assert.Equal(t, "w1", got[1].RecName())
}

func TestMatch_Operators(t *testing.T) {
	now := time.Now().UTC()
	doc := map[string]any{
		"name":    "Widget",
		"count":   int64(5),
		"tags":    []any{"red", "blue"},
		"when":    now,
		"nested":  map[string]any{"k": "v"},
		"deleted": int64(0),
	}

	tests := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"equality", bson.M{"name": "Widget"}, true},
		{"numeric equality across types", bson.M{"count": 5.0}, true},
		{"missing equals null", bson.M{"absent": nil}, true},
		{"array contains", bson.M{"tags": "red"}, true},
		{"ne", bson.M{"name": bson.M{"$ne": "Other"}}, true},
		{"gt", bson.M{"count": bson.M{"$gt": 4}}, true},
		{"lte false", bson.M{"count": bson.M{"$lte": 4}}, false},
		{"range on missing", bson.M{"absent": bson.M{"$lt": 10}}, false},
		{"range across types", bson.M{"name": bson.M{"$gt": 1}}, false},
		{"in", bson.M{"name": bson.M{"$in": []any{"A", "Widget"}}}, true},
		{"nin", bson.M{"name": bson.M{"$nin": []string{"Widget"}}}, false},
		{"exists", bson.M{"absent": bson.M{"$exists": false}}, true},
		{"regex", bson.M{"name": bson.M{"$regex": "^wid", "$options": "i"}}, true},
		{"dotted path", bson.M{"nested.k": "v"}, true},
		{"time lte", bson.M{"when": bson.M{"$lte": now.Add(time.Second)}}, true},
		{"or", bson.M{"$or": []bson.M{{"name": "no"}, {"count": 5}}}, true},
		{"nor", bson.M{"$nor": []bson.M{{"name": "Widget"}}}, false},
		{"and", bson.M{"$and": bson.A{bson.M{"deleted": 0}, bson.M{"name": "Widget"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(doc, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_UnsupportedOperator(t *testing.T) {
	_, err := Match(map[string]any{"a": 1}, bson.M{"a": bson.M{"$where": "1"}})
	assert.Error(t, err)
}

func TestMemoryStore_AggregateGroupConcat(t *testing.T) {
	s := NewMemoryStore()
	seedWidgets(t, s)

	pipeline := []bson.M{
		{"$match": bson.M{"deleted": 0}},
		{"$group": bson.M{
			"_id":      "$_id",
			"rec_name": bson.M{"$first": "$rec_name"},
			"title":    bson.M{"$first": bson.M{"$concat": []any{"$rec_name", " - ", "$name"}}},
		}},
		{"$sort": bson.M{"title": -1}},
	}
	got, err := s.Aggregate(context.Background(), "widget", pipeline)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "w3 - y", got[0]["title"])
	assert.Equal(t, "w1 - x", got[2]["title"])
}

func TestMemoryStore_AggregateFrequency(t *testing.T) {
	s := NewMemoryStore()
	seedWidgets(t, s)

	pipeline := []bson.M{
		{"$match": bson.M{"deleted": 0}},
		{"$group": bson.M{"_id": "$name", "count": bson.M{"$sum": 1}}},
		{"$match": bson.M{"count": bson.M{"$gte": 2}}},
		{"$sort": bson.M{"count": -1}},
	}
	got, err := s.Aggregate(context.Background(), "widget", pipeline)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0]["_id"])
	assert.Equal(t, int64(2), got[0]["count"])
}

func TestMemoryStore_UniqueIndex(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EnsureUniqueIndex(ctx, "widget", "rec_name"))
	require.NoError(t, s.EnsureUniqueIndex(ctx, "widget", "rec_name"))

	_, err := s.InsertOne(ctx, "widget", models.Record{"rec_name": "w1"})
	require.NoError(t, err)
	_, err = s.InsertOne(ctx, "widget", models.Record{"rec_name": "w1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = s.InsertOne(ctx, "widget", models.Record{"rec_name": "w2"})
	require.NoError(t, err)
	_, err = s.UpdateOne(ctx, "widget", bson.M{"rec_name": "w2"}, bson.M{"rec_name": "w1"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestMemoryStore_UpdateDeleteCountDistinct(t *testing.T) {
	s := NewMemoryStore()
	seedWidgets(t, s)
	ctx := context.Background()

	n, err := s.UpdateOne(ctx, "widget", bson.M{"rec_name": "w1"}, bson.M{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "identical value must not count as modified")

	n, err = s.UpdateOne(ctx, "widget", bson.M{"rec_name": "w1"}, bson.M{"name": "z"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	values, err := s.Distinct(ctx, "widget", "name", bson.M{"deleted": 0})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"z", "x", "y"}, values)

	n, err = s.DeleteMany(ctx, "widget", bson.M{"deleted": bson.M{"$gt": 0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := s.Count(ctx, "widget", bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.InsertOne(ctx, "widget", models.Record{"rec_name": "w1", "data_value": map[string]any{"a": 1}})
	require.NoError(t, err)

	got, err := s.FindOne(ctx, "widget", bson.M{"rec_name": "w1"})
	require.NoError(t, err)
	got.Map("data_value")["a"] = 2

	again, err := s.FindOne(ctx, "widget", bson.M{"rec_name": "w1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Map("data_value")["a"])
}

func TestMemoryStore_FindOneAbsent(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.FindOne(context.Background(), "widget", bson.M{"rec_name": "nope"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Failure(t *testing.T) {
	s := NewMemoryStore()
	s.SetFailure(errors.New("connection refused"))

	_, err := s.Count(context.Background(), "widget", bson.M{})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	s.SetFailure(nil)
	_, err = s.Count(context.Background(), "widget", bson.M{})
	assert.NoError(t, err)
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("x", 3600))
	got := Normalize(map[string]any{
		"i":  3,
		"t":  ts,
		"d":  bson.D{{Key: "k", Value: int32(1)}},
		"a":  bson.A{int32(2)},
		"ss": []string{"u1"},
	})
	assert.Equal(t, int64(3), got["i"])
	assert.Equal(t, ts.UTC().Truncate(time.Millisecond), got["t"])
	assert.Equal(t, map[string]any{"k": int64(1)}, got["d"])
	assert.Equal(t, []any{int64(2)}, got["a"])
	assert.Equal(t, []any{"u1"}, got["ss"])
}
