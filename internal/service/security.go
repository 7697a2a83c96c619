package service

import (
	"github.com/atinyakov/ozon/internal/models"
)

// Gate makes read, update and admin decisions. Every decision is a pure
// function of the session, the model descriptor and the record.
type Gate struct{}

// CanReadModel reports whether s may read any record of desc. Framework
// models are admin only; public sessions never read owner-scoped models.
func (Gate) CanReadModel(s *models.Session, desc *models.Descriptor) bool {
	if s == nil {
		return false
	}
	if s.IsAdmin {
		return true
	}
	if desc.Sys {
		return false
	}
	return !desc.OwnerScoped || (!s.IsPublic && s.UID != "")
}

// CanRead reports whether s may see rec. Records of owner-scoped models are
// visible to their owner and the users delegating to s.
func (g Gate) CanRead(s *models.Session, desc *models.Descriptor, rec models.Record) bool {
	if !g.CanReadModel(s, desc) {
		return false
	}
	if s.IsAdmin || !desc.OwnerScoped {
		return true
	}
	return ownedBy(s, rec)
}

// CanUpdate reports whether s may modify rec. A nil rec asks about
// creating a new record. Public sessions never write; framework models
// are admin only; existing records need ownership unless they have no owner.
func (Gate) CanUpdate(s *models.Session, desc *models.Descriptor, rec models.Record) bool {
	if s == nil {
		return false
	}
	if s.IsAdmin {
		return true
	}
	if s.IsPublic || s.UID == "" || desc.Sys {
		return false
	}
	if rec == nil || rec.Owner() == "" {
		return true
	}
	return ownedBy(s, rec)
}

// RequireAdmin returns models.ErrAdminRequired unless s is an admin session.
func (Gate) RequireAdmin(s *models.Session) error {
	if s == nil || !s.IsAdmin {
		return models.ErrAdminRequired
	}
	return nil
}

func ownedBy(s *models.Session, rec models.Record) bool {
	owner := rec.Owner()
	if owner == "" {
		return false
	}
	for _, uid := range s.AllowedUsers() {
		if uid == owner {
			return true
		}
	}
	return false
}
