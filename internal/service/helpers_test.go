package service

import (
	"context"
	"testing"
	"time"

	"github.com/atinyakov/ozon/internal/credential"
	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/repository"
	"github.com/atinyakov/ozon/internal/schema"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	store    *docstore.MemoryStore
	clock    *testClock
	registry *schema.Registry
	records  *repository.RecordStore
	users    *repository.RecordUserDirectory
	sessions *SessionManager
	auth     *AuthService
	data     *DataService
	hasher   credential.Hasher
}

const testTTL = time.Hour

func newEnv(t *testing.T, cache SessionCache) *env {
	t.Helper()
	e := &env{
		store: docstore.NewMemoryStore(),
		clock: &testClock{t: time.Now().UTC().Truncate(time.Second)},
	}
	log := zap.NewNop()
	e.registry = schema.NewRegistry(e.store, log)
	e.records = repository.NewRecordStore(e.store, log, repository.WithClock(e.clock.now))
	e.users = repository.NewRecordUserDirectory(e.records, e.registry.MustBuiltin(schema.UserModel))
	e.sessions = NewSessionManager(e.records, e.registry.MustBuiltin(schema.SessionModel), e.users, cache,
		SessionConfig{TTL: testTTL, PublicEndpoints: []string{"/api/login", "/api/session"}}, log)
	e.hasher = credential.NewBcrypt(bcrypt.MinCost)

	var err error
	e.auth, err = NewAuthService(e.users, e.hasher, e.sessions, log)
	require.NoError(t, err)
	e.data = NewDataService(e.registry, e.records, 7, log)
	require.NoError(t, e.data.EnsureIndexes(context.Background()))
	return e
}

func (e *env) addUser(t *testing.T, u *models.User, password string) {
	t.Helper()
	require.NoError(t, e.auth.RegisterUser(context.Background(), u, password))
}

func (e *env) login(t *testing.T, uid, password string) *models.Session {
	t.Helper()
	s, err := e.auth.Login(context.Background(), uid, password, "")
	require.NoError(t, err)
	return s
}

func (e *env) widgetModel(t *testing.T, ownerScoped bool) {
	t.Helper()
	_, err := e.data.LoadDefinitions(context.Background(), []schema.Definition{{
		Name:        "widget",
		Title:       "Widget",
		OwnerScoped: ownerScoped,
		Fields:      []models.Field{{Name: "name", Type: models.FieldString}},
	}})
	require.NoError(t, err)
}
