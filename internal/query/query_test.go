package query

import (
	"context"
	"testing"
	"time"

	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func descriptor(ownerScoped bool) *models.Descriptor {
	return &models.Descriptor{Name: "widget", Collection: "widget", Sort: schema.DefaultSort(), OwnerScoped: ownerScoped}
}

func seed(t *testing.T) *docstore.MemoryStore {
	t.Helper()
	s := docstore.NewMemoryStore()
	for _, r := range []models.Record{
		{"rec_name": "a", "name": "x", "type": "std", "owner_uid": "u1", "deleted": int64(0), "list_order": 2},
		{"rec_name": "b", "name": "x", "type": "std", "owner_uid": "u2", "deleted": int64(0), "list_order": 1},
		{"rec_name": "c", "name": "y", "type": "alt", "owner_uid": "u1", "deleted": int64(0), "list_order": 3},
		{"rec_name": "d", "name": "x", "type": "std", "owner_uid": "u1", "deleted": time.Now().Add(time.Hour).Unix()},
	} {
		_, err := s.InsertOne(context.Background(), "widget", r)
		require.NoError(t, err)
	}
	return s
}

func names(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.RecName())
	}
	return out
}

func TestDefaultQuery_BaselineCannotBeOverridden(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	d := descriptor(false)

	got, err := s.FindMany(ctx, "widget", DefaultQuery(d, bson.M{"name": "x"}, Options{}), FindOptions(d, nil, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names(got))

	// A caller asking for deleted records through the filter still gets
	// only live ones.
	got, err = s.FindMany(ctx, "widget", DefaultQuery(d, bson.M{"deleted": bson.M{"$gt": 0}}, Options{}), FindOptions(d, nil, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.FindMany(ctx, "widget", DefaultQuery(d, bson.M{"name": "x"}, Options{IncludeDeleted: true}), FindOptions(d, nil, 0, 0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "d"}, names(got))
}

func TestDefaultQuery_Shapes(t *testing.T) {
	d := descriptor(false)
	assert.Equal(t, bson.M{"deleted": 0}, DefaultQuery(d, nil, Options{}))
	assert.Equal(t, bson.M{}, DefaultQuery(d, nil, Options{IncludeDeleted: true}))
	assert.Equal(t,
		bson.M{"$and": bson.A{bson.M{"deleted": 0}, bson.M{"type": "std"}, bson.M{"name": "x"}}},
		DefaultQuery(d, bson.M{"name": "x"}, Options{Type: "std"}))
}

func TestScopeOwner(t *testing.T) {
	user := &models.Session{UID: "u1", User: map[string]any{"allowed_users": []any{"u3"}}}
	admin := &models.Session{UID: "root", IsAdmin: true}

	assert.Nil(t, ScopeOwner(descriptor(false), user))
	assert.Nil(t, ScopeOwner(descriptor(true), admin))
	assert.Nil(t, ScopeOwner(descriptor(true), nil))
	assert.Equal(t, bson.M{"owner_uid": bson.M{"$in": bson.A{"u3", "u1"}}}, ScopeOwner(descriptor(true), user))

	s := seed(t)
	d := descriptor(true)
	got, err := s.FindMany(context.Background(), "widget", DefaultQuery(d, nil, Options{Session: user}), FindOptions(d, nil, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, names(got))
}

func TestFindOptions(t *testing.T) {
	d := descriptor(false)
	opts := FindOptions(d, []models.SortField{{Field: "name", Dir: -1}}, 5, 10)
	assert.Equal(t, bson.D{{Key: "name", Value: -1}}, opts.Sort)
	assert.Equal(t, int64(5), opts.Skip)
	assert.Equal(t, int64(10), opts.Limit)

	d.Sort = nil
	assert.Equal(t, schema.SortDoc(schema.DefaultSort()), FindOptions(d, nil, 0, 0).Sort)
}

func TestToDelete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, tc := range []struct {
		deleted int64
		want    bool
	}{
		{0, false},
		{now.Unix() - 1, true},
		{now.Unix(), true},
		{now.Unix() + 1, false},
	} {
		ok, err := docstore.Match(map[string]any{"deleted": tc.deleted}, ToDelete(now))
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.deleted)
	}
}

func TestCheckFilter(t *testing.T) {
	assert.NoError(t, CheckFilter(bson.M{"$and": bson.A{bson.M{"a": 1}, bson.M{"b": bson.M{"$in": bson.A{1}}}}}))
	assert.ErrorIs(t, CheckFilter(bson.M{"$where": "sleep(1000)"}), models.ErrValidation)
	assert.ErrorIs(t, CheckFilter(bson.M{"$or": []any{map[string]any{"$expr": true}}}), models.ErrValidation)
}

func TestLabelExpr(t *testing.T) {
	assert.Equal(t, bson.M{"$first": "$title"}, LabelExpr(""))
	assert.Equal(t, bson.M{"$first": "$name"}, LabelExpr("name"))
	assert.Equal(t,
		bson.M{"$first": bson.M{"$concat": bson.A{"$rec_name", " - ", "$name"}}},
		LabelExpr("rec_name, name"))
}

func TestDistinctPipeline(t *testing.T) {
	s := seed(t)
	d := descriptor(false)
	got, err := s.Aggregate(context.Background(), "widget",
		DistinctPipeline("rec_name", DefaultQuery(d, nil, Options{}), "rec_name,name"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a - x", got[0]["title"])
	assert.Equal(t, "a", got[0]["rec_name"])
	assert.Equal(t, "std", got[0]["type"])
	assert.Equal(t, "c - y", got[2]["title"])
}

func TestFrequencyPipeline(t *testing.T) {
	s := seed(t)
	got, err := s.Aggregate(context.Background(), "widget",
		FrequencyPipeline("name", nil, 1, -1, []string{"type"}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0]["_id"])
	assert.Equal(t, int64(2), got[0]["count"])
	assert.Equal(t, "std", got[0]["type"])
	assert.Equal(t, "y", got[1]["_id"])

	got, err = s.Aggregate(context.Background(), "widget",
		FrequencyPipeline("name", bson.M{"type": "std"}, 2, 1, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0]["count"])
}
