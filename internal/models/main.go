// Package models defines the core data structures of the runtime: sessions,
// users, schema-agnostic records and model descriptors.
package models

import (
	"time"
)

// Session is the persisted security context of one client.
type Session struct {
	// ID is the store-assigned identifier, empty until persisted.
	ID string `json:"id"`
	// Token is the opaque lookup key presented by the client.
	Token string `json:"token"`
	// UID is the owning user, empty for public sessions.
	UID string `json:"uid"`
	// ExpireDatetime is the absolute instant the session stops resolving.
	ExpireDatetime time.Time `json:"expire_datetime"`
	Active         bool      `json:"active"`
	IsAdmin        bool      `json:"is_admin"`
	IsPublic       bool      `json:"is_public"`
	// IsAPI marks sessions keyed by a caller-supplied API token.
	IsAPI bool `json:"is_api"`
	// App is free-form interaction state (layout, builder mode, ...).
	App map[string]any `json:"app"`
	// User is the user snapshot taken when the session was created.
	User           map[string]any `json:"user"`
	CreateDatetime time.Time      `json:"create_datetime"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpireDatetime)
}

// AllowedUsers returns the uids whose records this session may act on as owner.
func (s *Session) AllowedUsers() []string {
	out := []string{}
	if s.User != nil {
		switch v := s.User["allowed_users"].(type) {
		case []string:
			out = append(out, v...)
		case []any:
			for _, u := range v {
				if str, ok := u.(string); ok {
					out = append(out, str)
				}
			}
		}
	}
	if s.UID != "" && !contains(out, s.UID) {
		out = append(out, s.UID)
	}
	return out
}

// ToRecord converts the session to its persisted form.
func (s *Session) ToRecord() Record {
	rec := Record{
		"rec_name":        s.Token,
		"token":           s.Token,
		"uid":             s.UID,
		"expire_datetime": s.ExpireDatetime.UTC(),
		"active":          s.Active,
		"is_admin":        s.IsAdmin,
		"is_public":       s.IsPublic,
		"is_api":          s.IsAPI,
		"app":             orEmpty(s.App),
		"user":            orEmpty(s.User),
		"deleted":         int64(0),
		"create_datetime": s.CreateDatetime.UTC(),
	}
	if s.ID != "" {
		rec[KeyID] = s.ID
	}
	return rec
}

// SessionFromRecord rebuilds a Session from its persisted form.
func SessionFromRecord(r Record) *Session {
	return &Session{
		ID:             r.ID(),
		Token:          r.String("token"),
		UID:            r.String("uid"),
		ExpireDatetime: r.Time("expire_datetime"),
		Active:         r.Bool("active"),
		IsAdmin:        r.Bool("is_admin"),
		IsPublic:       r.Bool("is_public"),
		IsAPI:          r.Bool("is_api"),
		App:            orEmpty(r.Map("app")),
		User:           orEmpty(r.Map("user")),
		CreateDatetime: r.Time("create_datetime"),
	}
}

// User is an application user as stored in the user model or an external directory.
type User struct {
	UID          string `json:"uid"`
	PasswordHash string `json:"-"`
	// Token is the API token machine callers present instead of a session.
	Token        string         `json:"-"`
	FullName     string         `json:"full_name"`
	Mail         string         `json:"mail"`
	IsAdmin      bool           `json:"is_admin"`
	Sector       string         `json:"divisione_uo"`
	SectorID     int64          `json:"divisione_uo_id"`
	PersonalType string         `json:"tipo_personale"`
	JobTitle     string         `json:"qualifica"`
	Function     string         `json:"user_function"`
	AllowedUsers []string       `json:"allowed_users"`
	Extra        map[string]any `json:"user_data,omitempty"`
}

// Snapshot returns the denormalized user attributes stored on a session.
// allowed_users always includes the user's own uid.
func (u *User) Snapshot() map[string]any {
	allowed := append([]string(nil), u.AllowedUsers...)
	if !contains(allowed, u.UID) {
		allowed = append(allowed, u.UID)
	}
	snap := map[string]any{
		"uid":             u.UID,
		"full_name":       u.FullName,
		"mail":            u.Mail,
		"is_admin":        u.IsAdmin,
		"divisione_uo":    u.Sector,
		"divisione_uo_id": u.SectorID,
		"tipo_personale":  u.PersonalType,
		"qualifica":       u.JobTitle,
		"user_function":   u.Function,
		"allowed_users":   allowed,
	}
	for k, v := range u.Extra {
		if _, ok := snap[k]; !ok {
			snap[k] = v
		}
	}
	return snap
}

// OwnerFields returns the owner_* fields stamped on records this user creates.
func (u *User) OwnerFields() Record {
	return Record{
		"owner_uid":           u.UID,
		"owner_name":          u.FullName,
		"owner_mail":          u.Mail,
		"owner_sector":        u.Sector,
		"owner_sector_id":     u.SectorID,
		"owner_personal_type": u.PersonalType,
		"owner_job_title":     u.JobTitle,
		"owner_function":      u.Function,
	}
}

// UserFromRecord rebuilds a User from a record of the user model.
func UserFromRecord(r Record) *User {
	u := &User{
		UID:          r.String("uid"),
		PasswordHash: r.String("password"),
		Token:        r.String("token"),
		FullName:     r.String("full_name"),
		Mail:         r.String("mail"),
		IsAdmin:      r.Bool("is_admin"),
		Sector:       r.String("divisione_uo"),
		SectorID:     r.Int("divisione_uo_id"),
		PersonalType: r.String("tipo_personale"),
		JobTitle:     r.String("qualifica"),
		Function:     r.String("user_function"),
		Extra:        r.Map("user_data"),
	}
	switch v := r["allowed_users"].(type) {
	case []string:
		u.AllowedUsers = append(u.AllowedUsers, v...)
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				u.AllowedUsers = append(u.AllowedUsers, s)
			}
		}
	}
	return u
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
