package service

import (
	"context"
	"testing"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func adminAndUser(t *testing.T, e *env) (admin, user *models.Session) {
	t.Helper()
	e.addUser(t, &models.User{UID: "root", IsAdmin: true, FullName: "Root"}, "pw")
	e.addUser(t, &models.User{UID: "alice", FullName: "Alice", Mail: "a@example.com"}, "pw")
	return e.login(t, "root", "pw"), e.login(t, "alice", "pw")
}

func TestWidgetScenario(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	// (a) insert then count
	res, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w1", "name": "a"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "alice", res.Record.Owner())
	assert.Equal(t, "Alice", res.Record["owner_name"])
	n, err := e.data.Count(ctx, alice, "widget", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// (b) diff save touches one field
	res, err = e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w1", "name": "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, res.Changed)
	assert.Equal(t, "b", res.Record["name"])
	assert.Equal(t, "w1", res.Record.RecName())
	assert.Equal(t, "alice", res.Record["update_uid"])

	// (c) frequency
	for _, name := range []string{"w2", "w3"} {
		_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": name, "name": "x"})
		require.NoError(t, err)
	}
	rows, err := e.data.Frequency(ctx, alice, "widget", FrequencyParams{Field: "name", MinOccurrence: 1, Filter: bson.M{"name": "x"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["_id"])
	assert.Equal(t, int64(2), rows[0]["count"])

	// (d) public session past its TTL
	pub, err := e.sessions.InitPublicSession(ctx)
	require.NoError(t, err)
	e.clock.advance(testTTL + time.Second)
	_, err = e.sessions.Resolve(ctx, Credentials{Cookie: pub.Token, Path: "/api/records/widget"})
	assert.ErrorIs(t, err, models.ErrNoSession)
	next, err := e.sessions.Resolve(ctx, Credentials{Cookie: pub.Token, Path: "/api/session"})
	require.NoError(t, err)
	assert.True(t, next.IsPublic)
	assert.NotEqual(t, pub.Token, next.Token)
}

func TestGetListDelete(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	for i, name := range []string{"w1", "w2", "w3"} {
		_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": name, "name": "n", "list_order": 3 - i})
		require.NoError(t, err)
	}
	foreign, err := e.data.SaveRecord(ctx, admin, "widget", models.Record{"rec_name": "w4", "name": "n", "list_order": 9})
	require.NoError(t, err)
	assert.Equal(t, "root", foreign.Record.Owner())

	rec, editable, err := e.data.GetRecord(ctx, alice, "widget", "w4")
	require.NoError(t, err)
	assert.Equal(t, "w4", rec.RecName())
	assert.False(t, editable)
	_, editable, err = e.data.GetRecord(ctx, alice, "widget", "w1")
	require.NoError(t, err)
	assert.True(t, editable)

	_, err = e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w4", "name": "mine"})
	assert.ErrorIs(t, err, models.ErrAuthorization)

	list, err := e.data.List(ctx, alice, "widget", ListParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"w3", "w2", "w1", "w4"}, recNames(list))

	list, err = e.data.List(ctx, alice, "widget", ListParams{Sort: "rec_name:desc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"w4", "w3"}, recNames(list))

	deleted, err := e.data.DeleteRecord(ctx, alice, "widget", "w2")
	require.NoError(t, err)
	assert.Equal(t, e.clock.t.Add(7*24*time.Hour).Unix(), deleted.Deleted())

	_, _, err = e.data.GetRecord(ctx, alice, "widget", "w2")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = e.data.DeleteRecord(ctx, alice, "widget", "w4")
	assert.ErrorIs(t, err, models.ErrAuthorization)

	list, err = e.data.List(ctx, alice, "widget", ListParams{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, list, 3, "deleted records are for admins only")
	list, err = e.data.List(ctx, admin, "widget", ListParams{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, err = e.data.List(ctx, alice, "widget", ListParams{Filter: bson.M{"$where": "1"}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func recNames(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.RecName())
	}
	return out
}

func TestOwnerScopedModel(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, true)

	_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "mine", "name": "x"})
	require.NoError(t, err)
	_, err = e.data.SaveRecord(ctx, admin, "widget", models.Record{"rec_name": "theirs", "name": "x"})
	require.NoError(t, err)

	list, err := e.data.List(ctx, alice, "widget", ListParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, recNames(list))

	n, err := e.data.Count(ctx, alice, "widget", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = e.data.Count(ctx, admin, "widget", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := e.data.Frequency(ctx, alice, "widget", FrequencyParams{Field: "name"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["count"])

	rows, err = e.data.Distinct(ctx, alice, "widget", DistinctParams{Label: "rec_name,name"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mine - x", rows[0]["title"])

	_, _, err = e.data.GetRecord(ctx, alice, "widget", "theirs")
	assert.ErrorIs(t, err, models.ErrAuthorization)
}

func TestReorder(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, alice := adminAndUser(t, e)
	e.widgetModel(t, false)
	for _, name := range []string{"a", "b", "c"} {
		_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": name})
		require.NoError(t, err)
	}

	n, err := e.data.Reorder(ctx, alice, "widget", []OrderItem{{"c", 0}, {"a", 1}, {"b", 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := e.data.List(ctx, alice, "widget", ListParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, recNames(list))

	_, err = e.data.Reorder(ctx, alice, "widget", []OrderItem{{"zzz", 0}})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminOperations(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	recs := []models.Record{
		{"rec_name": "i1", "name": "x", "owner_uid": "legacy", "create_datetime": "2020-01-01T00:00:00Z"},
		{"rec_name": "i2", "name": "y"},
	}
	_, err := e.data.ImportRaw(ctx, alice, "widget", recs)
	assert.ErrorIs(t, err, models.ErrAdminRequired)

	n, err := e.data.ImportRaw(ctx, admin, "widget", recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	i1, _, err := e.data.GetRecord(ctx, admin, "widget", "i1")
	require.NoError(t, err)
	assert.Equal(t, "legacy", i1.Owner())
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), i1["create_datetime"])
	i2, _, err := e.data.GetRecord(ctx, admin, "widget", "i2")
	require.NoError(t, err)
	assert.Equal(t, "root", i2.Owner())

	_, err = e.data.DeleteRecord(ctx, admin, "widget", "i1")
	require.NoError(t, err)
	_, err = e.data.DeleteRecord(ctx, admin, "widget", "i2")
	require.NoError(t, err)

	_, err = e.data.CleanModel(ctx, alice, "widget", nil)
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	cleaned, err := e.data.CleanModel(ctx, admin, "widget", bson.M{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleaned)

	_, err = e.data.CleanAllToDelete(ctx, alice)
	assert.ErrorIs(t, err, models.ErrAdminRequired)
	swept, err := e.data.CleanAllToDelete(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept["widget"], "retention not elapsed")

	e.clock.advance(8 * 24 * time.Hour)
	swept, err = e.data.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept["widget"])
	assert.NotContains(t, swept, "session")
}

func TestModelDefinitions(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	sch, err := e.data.SchemaModel(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, "Widget", sch.Title)
	assert.Equal(t, "list_order:asc,rec_name:asc", sch.Sort)
	var names []string
	for _, f := range sch.Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "name")
	assert.Contains(t, names, "rec_name")
	assert.NotContains(t, names, "owner_uid")
	assert.NotContains(t, names, "data_value")

	_, err = e.data.SaveRecord(ctx, alice, "component", models.Record{"rec_name": "gadget", "title": "Gadget"})
	assert.ErrorIs(t, err, models.ErrAuthorization, "model definitions are admin only")

	_, err = e.data.SaveRecord(ctx, admin, "component", models.Record{
		"rec_name": "widget",
		"fields":   []any{map[string]any{"name": "name", "type": "string"}, map[string]any{"name": "color", "type": "string"}},
	})
	require.NoError(t, err)
	_, err = e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w1", "color": "red"})
	require.NoError(t, err, "new field visible after the definition changed")

	_, err = e.data.List(ctx, admin, "session", ListParams{})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.List(ctx, admin, "nope", ListParams{})
	assert.ErrorIs(t, err, models.ErrUnknownModel)

	all, err := e.data.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"component", "user", "widget"}, all)
}

func TestRestoreAndArchive(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w1", "name": "a"})
	require.NoError(t, err)
	_, err = e.data.SaveRecord(ctx, admin, "widget", models.Record{"rec_name": "w2", "name": "b"})
	require.NoError(t, err)

	_, err = e.data.RestoreRecord(ctx, alice, "widget", "w1")
	assert.ErrorIs(t, err, models.ErrNotFound, "live records are not restorable")

	_, err = e.data.DeleteRecord(ctx, alice, "widget", "w1")
	require.NoError(t, err)
	restored, err := e.data.RestoreRecord(ctx, alice, "widget", "w1")
	require.NoError(t, err)
	assert.True(t, restored.IsLive())
	_, _, err = e.data.GetRecord(ctx, alice, "widget", "w1")
	require.NoError(t, err)

	archived, err := e.data.SetActive(ctx, alice, "widget", "w1", false)
	require.NoError(t, err)
	assert.False(t, archived.Bool("active"))
	active, err := e.data.SetActive(ctx, alice, "widget", "w1", true)
	require.NoError(t, err)
	assert.True(t, active.Bool("active"))

	_, err = e.data.SetActive(ctx, alice, "widget", "w2", false)
	assert.ErrorIs(t, err, models.ErrAuthorization)
}

func TestUserModelReads(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)

	_, err := e.data.List(ctx, alice, "user", ListParams{})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, _, err = e.data.GetRecord(ctx, alice, "user", "root")
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.Count(ctx, alice, "component", nil)
	assert.ErrorIs(t, err, models.ErrAuthorization)

	users, err := e.data.List(ctx, admin, "user", ListParams{})
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotContains(t, u, "password")
		assert.NotContains(t, u, "token")
	}
	root, _, err := e.data.GetRecord(ctx, admin, "user", "root")
	require.NoError(t, err)
	assert.NotContains(t, root, "password")

	_, err = e.data.Frequency(ctx, admin, "user", FrequencyParams{Field: "password"})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.Frequency(ctx, admin, "user", FrequencyParams{Field: "is_admin", AddFields: []string{"token"}})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.Distinct(ctx, admin, "user", DistinctParams{Field: "uid", Label: "uid, password"})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.Count(ctx, admin, "user", bson.M{"$or": []any{bson.M{"token": bson.M{"$regex": "^a"}}}})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	_, err = e.data.List(ctx, admin, "user", ListParams{Sort: "password:asc"})
	assert.ErrorIs(t, err, models.ErrAuthorization)

	rows, err := e.data.Distinct(ctx, admin, "user", DistinctParams{Field: "uid", Label: "full_name"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExport(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	admin, alice := adminAndUser(t, e)
	e.widgetModel(t, false)

	_, err := e.data.SaveRecord(ctx, alice, "widget", models.Record{
		"rec_name": "w1", "name": "a", "parent": "p1",
		"data_value": map[string]any{"k": "v", "_id": "x"},
	})
	require.NoError(t, err)
	_, err = e.data.SaveRecord(ctx, alice, "widget", models.Record{"rec_name": "w2", "name": "b"})
	require.NoError(t, err)

	out, err := e.data.Export(ctx, alice, "widget", ExportParams{})
	require.NoError(t, err)
	assert.Equal(t, ExportJSON, out.Mode)
	assert.Equal(t, "widget", out.Schema.Name)
	require.Len(t, out.Data, 2)
	assert.Equal(t, "w1", out.Data[0].RecName())
	assert.NotContains(t, out.Data[0], "_id")
	assert.Equal(t, "alice", out.Data[0]["owner_uid"], "user models keep their metadata")

	out, err = e.data.Export(ctx, alice, "widget", ExportParams{Mode: ExportValue, Parent: "p1"})
	require.NoError(t, err)
	require.Len(t, out.Data, 1)
	assert.Equal(t, models.Record{"k": "v"}, out.Data[0])

	_, err = e.data.Export(ctx, alice, "widget", ExportParams{Mode: "csv"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = e.data.Export(ctx, alice, "component", ExportParams{})
	assert.ErrorIs(t, err, models.ErrAuthorization)
	comps, err := e.data.Export(ctx, admin, "component", ExportParams{})
	require.NoError(t, err)
	require.Len(t, comps.Data, 1)
	assert.Equal(t, "widget", comps.Data[0].RecName())
	for _, meta := range []string{"_id", "owner_uid", "create_datetime", "deleted"} {
		assert.NotContains(t, comps.Data[0], meta)
	}

	users, err := e.data.Export(ctx, admin, "user", ExportParams{})
	require.NoError(t, err)
	require.Len(t, users.Data, 2)
	for _, u := range users.Data {
		assert.NotContains(t, u, "password")
	}
}
