package service

import (
	"testing"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	plain := &models.Descriptor{Name: "note"}
	scoped := &models.Descriptor{Name: "ticket", OwnerScoped: true}
	sys := &models.Descriptor{Name: "component", Sys: true}

	admin := &models.Session{UID: "root", IsAdmin: true, Active: true}
	alice := &models.Session{UID: "alice", Active: true, User: map[string]any{"allowed_users": []any{"bob"}}}
	public := &models.Session{IsPublic: true, Active: true}

	own := models.Record{"rec_name": "r1", "owner_uid": "alice"}
	delegated := models.Record{"rec_name": "r2", "owner_uid": "bob"}
	foreign := models.Record{"rec_name": "r3", "owner_uid": "eve"}
	unowned := models.Record{"rec_name": "r4"}

	var g Gate
	tests := []struct {
		name      string
		s         *models.Session
		d         *models.Descriptor
		r         models.Record
		read, upd bool
	}{
		{"admin foreign scoped", admin, scoped, foreign, true, true},
		{"admin sys", admin, sys, unowned, true, true},
		{"owner", alice, scoped, own, true, true},
		{"delegated owner", alice, scoped, delegated, true, true},
		{"foreign scoped", alice, scoped, foreign, false, false},
		{"foreign plain", alice, plain, foreign, true, false},
		{"unowned plain", alice, plain, unowned, true, true},
		{"unowned scoped", alice, scoped, unowned, false, true},
		{"new record", alice, plain, nil, true, true},
		{"sys model", alice, sys, unowned, false, false},
		{"public sys", public, sys, unowned, false, false},
		{"public plain", public, plain, unowned, true, false},
		{"public scoped", public, scoped, own, false, false},
		{"no session", nil, plain, own, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.read, g.CanRead(tt.s, tt.d, tt.r), "read")
			assert.Equal(t, tt.upd, g.CanUpdate(tt.s, tt.d, tt.r), "update")
		})
	}

	assert.True(t, g.CanReadModel(admin, sys))
	assert.False(t, g.CanReadModel(alice, sys))
	assert.True(t, g.CanReadModel(alice, scoped))
	assert.False(t, g.CanReadModel(public, scoped))
	assert.True(t, g.CanReadModel(public, plain))

	assert.NoError(t, g.RequireAdmin(admin))
	assert.ErrorIs(t, g.RequireAdmin(alice), models.ErrAdminRequired)
	assert.ErrorIs(t, g.RequireAdmin(nil), models.ErrAdminRequired)
}
