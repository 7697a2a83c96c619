package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
)

// UserDirectory looks users up for login and API-token authentication.
// Absent users are reported as a nil user with a nil error.
type UserDirectory interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
	FindByToken(ctx context.Context, token string) (*models.User, error)
	Upsert(ctx context.Context, u *models.User) error
}

var (
	_ UserDirectory = (*RecordUserDirectory)(nil)
	_ UserDirectory = (*PostgresUserDirectory)(nil)
)

// RecordUserDirectory keeps users as records of the user model.
type RecordUserDirectory struct {
	records *RecordStore
	desc    *models.Descriptor
}

// NewRecordUserDirectory creates a directory over the user model described by desc.
func NewRecordUserDirectory(records *RecordStore, desc *models.Descriptor) *RecordUserDirectory {
	return &RecordUserDirectory{records: records, desc: desc}
}

func (d *RecordUserDirectory) find(ctx context.Context, key, value string) (*models.User, error) {
	if value == "" {
		return nil, nil
	}
	rec, err := d.records.FindOne(ctx, d.desc, bson.M{key: value, models.KeyDeleted: 0})
	if err != nil || rec == nil {
		return nil, err
	}
	return models.UserFromRecord(rec), nil
}

func (d *RecordUserDirectory) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	return d.find(ctx, "uid", uid)
}

func (d *RecordUserDirectory) FindByToken(ctx context.Context, token string) (*models.User, error) {
	return d.find(ctx, "token", token)
}

// Upsert stores u under rec_name = uid.
func (d *RecordUserDirectory) Upsert(ctx context.Context, u *models.User) error {
	rec := models.Record{
		models.KeyRecName: u.UID,
		"uid":             u.UID,
		"password":        u.PasswordHash,
		"full_name":       u.FullName,
		"mail":            u.Mail,
		"is_admin":        u.IsAdmin,
		"divisione_uo":    u.Sector,
		"divisione_uo_id": u.SectorID,
		"tipo_personale":  u.PersonalType,
		"qualifica":       u.JobTitle,
		"user_function":   u.Function,
	}
	if u.Token != "" {
		rec["token"] = u.Token
	}
	if len(u.AllowedUsers) > 0 {
		allowed := make([]any, 0, len(u.AllowedUsers))
		for _, a := range u.AllowedUsers {
			allowed = append(allowed, a)
		}
		rec["allowed_users"] = allowed
	}
	if len(u.Extra) > 0 {
		rec["user_data"] = u.Extra
	}
	_, err := d.records.Save(ctx, d.desc, rec, SaveOptions{})
	return err
}

// PostgresUserDirectory reads users from an existing PostgreSQL user table,
// for deployments where identities live outside the document store.
type PostgresUserDirectory struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresUserDirectory creates a directory over db.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{DB: db}
}

const userColumns = `uid, password, COALESCE(token, ''), full_name, mail, is_admin,
	divisione_uo, divisione_uo_id, tipo_personale, qualifica, user_function, allowed_users`

func (s *PostgresUserDirectory) findBy(ctx context.Context, column, value string) (*models.User, error) {
	if value == "" {
		return nil, nil
	}
	var (
		u       models.User
		allowed pq.StringArray
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`,
		value,
	).Scan(&u.UID, &u.PasswordHash, &u.Token, &u.FullName, &u.Mail, &u.IsAdmin,
		&u.Sector, &u.SectorID, &u.PersonalType, &u.JobTitle, &u.Function, &allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w: %w", column, models.ErrStoreUnavailable, err)
	}
	u.AllowedUsers = []string(allowed)
	return &u, nil
}

// FindByUID returns the user with the given uid.
func (s *PostgresUserDirectory) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	return s.findBy(ctx, "uid", uid)
}

// FindByToken returns the user holding the given API token.
func (s *PostgresUserDirectory) FindByToken(ctx context.Context, token string) (*models.User, error) {
	return s.findBy(ctx, "token", token)
}

// Upsert inserts u or, when its uid exists, overwrites every column.
func (s *PostgresUserDirectory) Upsert(ctx context.Context, u *models.User) error {
	var token sql.NullString
	if u.Token != "" {
		token = sql.NullString{String: u.Token, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (uid, password, token, full_name, mail, is_admin,
			divisione_uo, divisione_uo_id, tipo_personale, qualifica, user_function, allowed_users)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (uid) DO UPDATE SET
			password = EXCLUDED.password, token = EXCLUDED.token,
			full_name = EXCLUDED.full_name, mail = EXCLUDED.mail, is_admin = EXCLUDED.is_admin,
			divisione_uo = EXCLUDED.divisione_uo, divisione_uo_id = EXCLUDED.divisione_uo_id,
			tipo_personale = EXCLUDED.tipo_personale, qualifica = EXCLUDED.qualifica,
			user_function = EXCLUDED.user_function, allowed_users = EXCLUDED.allowed_users
	`, u.UID, u.PasswordHash, token, u.FullName, u.Mail, u.IsAdmin,
		u.Sector, u.SectorID, u.PersonalType, u.JobTitle, u.Function, pq.Array(append([]string{}, u.AllowedUsers...)))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("upsert user %s: %w", u.UID, models.ErrConflict)
		}
		return fmt.Errorf("upsert user %s: %w: %w", u.UID, models.ErrStoreUnavailable, err)
	}
	return nil
}
