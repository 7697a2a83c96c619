package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Names under which clients present their tokens.
const (
	TokenCookie    = "authtoken"
	TokenHeader    = "authtoken"
	TokenQuery     = "token"
	APITokenHeader = "apitoken"
)

// SessionCache is an optional read-through cache of sessions by token.
// Get reports a miss as a nil session with a nil error.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.Session, error)
	Set(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, token string) error
}

// Credentials are the token sources of one request.
type Credentials struct {
	Cookie   string
	Header   string
	Query    string
	APIToken string
	// Path is the endpoint being accessed, matched against the public list.
	Path string
}

// ExtractCredentials reads the token sources of r.
func ExtractCredentials(r *http.Request) Credentials {
	c := Credentials{
		Header:   r.Header.Get(TokenHeader),
		Query:    r.URL.Query().Get(TokenQuery),
		APIToken: r.Header.Get(APITokenHeader),
		Path:     r.URL.Path,
	}
	if ck, err := r.Cookie(TokenCookie); err == nil {
		c.Cookie = ck.Value
	}
	return c
}

// Token returns the first non-empty of cookie, header and query token.
func (c Credentials) Token() string {
	for _, t := range []string{c.Cookie, c.Header, c.Query} {
		if t != "" {
			return t
		}
	}
	return ""
}

// SessionConfig holds the session lifecycle settings.
type SessionConfig struct {
	TTL time.Duration
	// PublicEndpoints are the paths reachable without authentication.
	PublicEndpoints []string
}

// SessionManager creates, resolves and expires sessions. Sessions are
// records of the session model keyed by their token.
type SessionManager struct {
	records *repository.RecordStore
	desc    *models.Descriptor
	users   repository.UserDirectory
	cache   SessionCache
	cfg     SessionConfig
	public  map[string]bool
	log     *zap.Logger
}

// NewSessionManager wires a SessionManager. cache may be nil.
func NewSessionManager(
	records *repository.RecordStore,
	desc *models.Descriptor,
	users repository.UserDirectory,
	cache SessionCache,
	cfg SessionConfig,
	log *zap.Logger,
) *SessionManager {
	public := make(map[string]bool, len(cfg.PublicEndpoints))
	for _, p := range cfg.PublicEndpoints {
		public[p] = true
	}
	return &SessionManager{
		records: records,
		desc:    desc,
		users:   users,
		cache:   cache,
		cfg:     cfg,
		public:  public,
		log:     log,
	}
}

// IsPublic reports whether path is a public endpoint.
func (m *SessionManager) IsPublic(path string) bool {
	return m.public[path]
}

// InitPublicSession creates an anonymous session with a fresh token.
func (m *SessionManager) InitPublicSession(ctx context.Context) (*models.Session, error) {
	now := m.records.Now()
	s := &models.Session{
		Token:          uuid.NewString(),
		ExpireDatetime: now.Add(m.cfg.TTL),
		Active:         true,
		IsPublic:       true,
		App:            map[string]any{},
		User:           map[string]any{},
		CreateDatetime: now,
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	m.log.Debug("public session created")
	return s, nil
}

// InitSession binds a session to user. The session presented with
// currentToken is reused when it is live and already belongs to user;
// otherwise a new one is created.
func (m *SessionManager) InitSession(ctx context.Context, user *models.User, currentToken string) (*models.Session, error) {
	if cur, err := m.live(ctx, currentToken); err != nil {
		return nil, err
	} else if cur != nil && !cur.IsPublic && cur.UID == user.UID {
		return cur, nil
	}
	s := m.newUserSession(user, uuid.NewString())
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	m.log.Info("session created", zap.String("uid", user.UID), zap.Bool("is_admin", user.IsAdmin))
	return s, nil
}

// InitAPISession binds user to the caller-supplied token. A live session
// stored under that token for the same user is reused.
func (m *SessionManager) InitAPISession(ctx context.Context, user *models.User, token string) (*models.Session, error) {
	if token == "" {
		return nil, models.ErrAuthentication
	}
	if cur, err := m.live(ctx, token); err != nil {
		return nil, err
	} else if cur != nil && cur.UID == user.UID {
		return cur, nil
	}
	s := m.newUserSession(user, token)
	s.IsAPI = true
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	m.log.Info("api session created", zap.String("uid", user.UID))
	return s, nil
}

func (m *SessionManager) newUserSession(user *models.User, token string) *models.Session {
	now := m.records.Now()
	return &models.Session{
		Token:          token,
		UID:            user.UID,
		ExpireDatetime: now.Add(m.cfg.TTL),
		Active:         true,
		IsAdmin:        user.IsAdmin,
		App:            map[string]any{},
		User:           user.Snapshot(),
		CreateDatetime: now,
	}
}

// FindSessionByToken returns the stored session for token, or nil when
// there is none. It does not check expiry.
func (m *SessionManager) FindSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}
	if m.cache != nil {
		s, err := m.cache.Get(ctx, token)
		if err != nil {
			m.log.Warn("session cache read failed", zap.Error(err))
		} else if s != nil {
			return s, nil
		}
	}
	rec, err := m.records.FindOne(ctx, m.desc, bson.M{"token": token})
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	s := models.SessionFromRecord(rec)
	m.cacheSet(ctx, s)
	return s, nil
}

// live returns the session for token if it is active and unexpired. An
// expired session found on the way is marked inactive.
func (m *SessionManager) live(ctx context.Context, token string) (*models.Session, error) {
	s, err := m.FindSessionByToken(ctx, token)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Active {
		return nil, nil
	}
	if s.Expired(m.records.Now()) {
		s.Active = false
		if err := m.persist(ctx, s); err != nil {
			return nil, err
		}
		m.log.Debug("session expired", zap.String("uid", s.UID))
		return nil, nil
	}
	return s, nil
}

// Resolve produces the security context of a request.
//
// The token is taken from the cookie, the header or the query parameter,
// in that order. A request carrying none of them but an API token is
// resolved through the API-session path and fails closed with
// models.ErrAuthentication. Otherwise an absent, logged out or expired
// session yields a fresh public session on public endpoints and
// models.ErrNoSession elsewhere.
func (m *SessionManager) Resolve(ctx context.Context, c Credentials) (*models.Session, error) {
	token := c.Token()
	if token == "" && c.APIToken != "" {
		return m.resolveAPI(ctx, c.APIToken)
	}

	s, err := m.live(ctx, token)
	if err != nil {
		return nil, err
	}
	public := m.IsPublic(c.Path)
	if s != nil {
		if s.IsPublic && !public {
			return nil, models.ErrNoSession
		}
		return s, nil
	}
	if public {
		return m.InitPublicSession(ctx)
	}
	return nil, models.ErrNoSession
}

func (m *SessionManager) resolveAPI(ctx context.Context, token string) (*models.Session, error) {
	user, err := m.users.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve api token: %w", err)
	}
	if user == nil {
		m.log.Info("unknown api token")
		return nil, models.ErrAuthentication
	}
	return m.InitAPISession(ctx, user, token)
}

// Logout deactivates s. The record stays until the session sweep.
func (m *SessionManager) Logout(ctx context.Context, s *models.Session) error {
	if s == nil {
		return models.ErrNoSession
	}
	s.Active = false
	if err := m.persist(ctx, s); err != nil {
		return err
	}
	m.log.Info("session closed", zap.String("uid", s.UID))
	return nil
}

// UpdateApp merges patch into the interaction state of s and persists it.
// A nil value removes the key.
func (m *SessionManager) UpdateApp(ctx context.Context, s *models.Session, patch map[string]any) (*models.Session, error) {
	if s.App == nil {
		s.App = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(s.App, k)
			continue
		}
		s.App[k] = v
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CleanSessions removes every inactive session and every session that
// expired before before. It returns the number removed.
func (m *SessionManager) CleanSessions(ctx context.Context, before time.Time) (int64, error) {
	n, err := m.records.DeleteMany(ctx, m.desc, bson.M{"$or": bson.A{
		bson.M{"expire_datetime": bson.M{"$lt": before.UTC()}},
		bson.M{models.KeyActive: false},
	}})
	if err != nil {
		return 0, fmt.Errorf("clean sessions: %w", err)
	}
	if n > 0 {
		m.log.Info("sessions removed", zap.Int64("count", n))
	}
	return n, nil
}

func (m *SessionManager) persist(ctx context.Context, s *models.Session) error {
	res, err := m.records.Save(ctx, m.desc, s.ToRecord(), repository.SaveOptions{KeepMeta: true})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.ID = res.Record.ID()
	m.cacheSet(ctx, s)
	return nil
}

func (m *SessionManager) cacheSet(ctx context.Context, s *models.Session) {
	if m.cache == nil {
		return
	}
	var err error
	if s.Active && !s.Expired(m.records.Now()) {
		err = m.cache.Set(ctx, s)
	} else {
		err = m.cache.Delete(ctx, s.Token)
	}
	if err != nil {
		m.log.Warn("session cache write failed", zap.Error(err))
	}
}
