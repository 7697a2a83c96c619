// Package repository provides persistence for records of every model and
// for the user directory.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/query"
	"github.com/atinyakov/ozon/internal/schema"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// SaveOptions tune RecordStore.Save.
type SaveOptions struct {
	// KeepMeta lets the candidate rewrite metadata fields (owner, audit
	// stamps) of an existing record. By default they are stripped from the
	// candidate before diffing and never written by an update.
	KeepMeta bool
	// Actor, when set, is stamped as update_uid together with
	// update_datetime on every update that changes at least one field.
	Actor string
}

// SaveResult describes the outcome of a save.
type SaveResult struct {
	// Record is the stored record after the save.
	Record models.Record
	// Changed lists the candidate fields written by an update, sorted.
	// It is empty for inserts and no-op saves.
	Changed []string
	// Created is set when the candidate was inserted.
	Created bool
}

// RecordStore is the generic persistence engine: diff-based upsert, soft
// delete with retention and aggregation helpers over any model.
type RecordStore struct {
	store docstore.Store
	log   *zap.Logger
	now   func() time.Time
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithClock replaces time.Now as the source of deletion deadlines and
// creation stamps.
func WithClock(now func() time.Time) Option {
	return func(s *RecordStore) { s.now = now }
}

// NewRecordStore creates a RecordStore over store.
func NewRecordStore(store docstore.Store, log *zap.Logger, opts ...Option) *RecordStore {
	s := &RecordStore{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the store clock reading.
func (s *RecordStore) Now() time.Time {
	return s.now().UTC()
}

// Save validates candidate against desc and persists it.
//
// The stored original is looked up by rec_name, then by _id. When found,
// only the candidate fields that are absent from or differ in the original
// are written, and an empty diff performs no write at all. When no
// original exists the candidate is inserted. A rec_name collision on insert
// or update yields models.ErrConflict.
func (s *RecordStore) Save(ctx context.Context, desc *models.Descriptor, candidate models.Record, opts SaveOptions) (*SaveResult, error) {
	if len(candidate) == 0 {
		return nil, fmt.Errorf("save %s: %w: empty record", desc.Name, models.ErrValidation)
	}
	checked, err := schema.Validate(desc, candidate, false)
	if err != nil {
		return nil, err
	}

	original, err := s.resolve(ctx, desc, checked)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", desc.Name, err)
	}
	if original == nil {
		rec, err := s.insert(ctx, desc, checked)
		if err != nil {
			return nil, err
		}
		return &SaveResult{Record: rec, Created: true}, nil
	}
	return s.update(ctx, desc, original, checked, opts)
}

// Insert persists candidate as a new record and fails with
// models.ErrConflict when its rec_name is already taken.
func (s *RecordStore) Insert(ctx context.Context, desc *models.Descriptor, candidate models.Record) (models.Record, error) {
	checked, err := schema.Validate(desc, candidate, false)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, desc, checked)
}

func (s *RecordStore) resolve(ctx context.Context, desc *models.Descriptor, rec models.Record) (models.Record, error) {
	if name := rec.RecName(); name != "" {
		orig, err := s.store.FindOne(ctx, desc.Collection, bson.M{models.KeyRecName: name})
		if err != nil || orig != nil {
			return orig, err
		}
	}
	if oid, ok := rec.ObjectID(); ok {
		return s.store.FindOne(ctx, desc.Collection, bson.M{models.KeyID: oid})
	}
	return nil, nil
}

func (s *RecordStore) update(ctx context.Context, desc *models.Descriptor, original, candidate models.Record, opts SaveOptions) (*SaveResult, error) {
	cand := docstore.Normalize(candidate).Without(models.KeyID, models.KeyAltID)
	if !opts.KeepMeta {
		cand = cand.Without(models.MetaFieldsUpdate...)
	}

	var changed []string
	for k, v := range cand {
		old, had := original[k]
		if had && models.ValuesEqual(old, v) {
			continue
		}
		changed = append(changed, k)
	}
	if len(changed) == 0 {
		return &SaveResult{Record: original}, nil
	}
	sort.Strings(changed)

	set := bson.M{}
	for _, k := range changed {
		set[k] = cand[k]
	}
	if opts.Actor != "" {
		set[models.KeyUpdateUID] = opts.Actor
		set[models.KeyUpdatedAt] = s.Now()
	}

	filter := bson.M{models.KeyID: original[models.KeyID]}
	if _, err := s.store.UpdateOne(ctx, desc.Collection, filter, set); err != nil {
		return nil, s.writeErr("update", desc, original.RecName(), err)
	}
	updated, err := s.store.FindOne(ctx, desc.Collection, filter)
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", desc.Name, original.RecName(), err)
	}
	if updated == nil {
		return nil, fmt.Errorf("reload %s %s: %w", desc.Name, original.RecName(), models.ErrNotFound)
	}
	s.log.Debug("record updated",
		zap.String("model", desc.Name),
		zap.String("rec_name", updated.RecName()),
		zap.Strings("fields", changed))
	return &SaveResult{Record: updated, Changed: changed}, nil
}

func (s *RecordStore) insert(ctx context.Context, desc *models.Descriptor, candidate models.Record) (models.Record, error) {
	rec := candidate.Without(models.KeyAltID)
	switch id := rec[models.KeyID].(type) {
	case primitive.ObjectID:
	case string:
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			rec[models.KeyID] = oid
		} else {
			delete(rec, models.KeyID)
		}
	default:
		delete(rec, models.KeyID)
	}
	if rec.RecName() == "" {
		rec[models.KeyRecName] = desc.Name + "." + uuid.NewString()
	}
	setDefault(rec, models.KeyDeleted, int64(0))
	setDefault(rec, models.KeyListOrder, int64(0))
	setDefault(rec, models.KeyActive, true)
	setDefault(rec, models.KeyCreatedAt, s.Now())

	rec, err := schema.Validate(desc, rec, true)
	if err != nil {
		return nil, err
	}
	oid, err := s.store.InsertOne(ctx, desc.Collection, rec)
	if err != nil {
		return nil, s.writeErr("insert", desc, rec.RecName(), err)
	}
	stored, err := s.store.FindOne(ctx, desc.Collection, bson.M{models.KeyID: oid})
	if err != nil {
		return nil, fmt.Errorf("reload %s %s: %w", desc.Name, rec.RecName(), err)
	}
	if stored == nil {
		return nil, fmt.Errorf("reload %s %s: %w", desc.Name, rec.RecName(), models.ErrNotFound)
	}
	s.log.Debug("record inserted", zap.String("model", desc.Name), zap.String("rec_name", stored.RecName()))
	return stored, nil
}

func setDefault(rec models.Record, key string, v any) {
	if cur, ok := rec[key]; !ok || cur == nil {
		rec[key] = v
	}
}

func (s *RecordStore) writeErr(op string, desc *models.Descriptor, recName string, err error) error {
	if errors.Is(err, docstore.ErrDuplicateKey) {
		return fmt.Errorf("%s %s %s: %w: %v", op, desc.Name, recName, models.ErrConflict, err)
	}
	return fmt.Errorf("%s %s %s: %w", op, desc.Name, recName, err)
}

// SaveAll saves records in order. It is not atomic: on failure the
// records before the failing one stay persisted and their results are
// returned along with the error.
func (s *RecordStore) SaveAll(ctx context.Context, desc *models.Descriptor, records []models.Record, opts SaveOptions) ([]*SaveResult, error) {
	out := make([]*SaveResult, 0, len(records))
	for i, r := range records {
		res, err := s.Save(ctx, desc, r, opts)
		if err != nil {
			return out, fmt.Errorf("save item %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Delete removes rec permanently by its store-assigned id.
func (s *RecordStore) Delete(ctx context.Context, desc *models.Descriptor, rec models.Record) error {
	oid, ok := rec.ObjectID()
	if !ok {
		return fmt.Errorf("delete %s %s: %w: no id", desc.Name, rec.RecName(), models.ErrNotFound)
	}
	n, err := s.store.DeleteOne(ctx, desc.Collection, bson.M{models.KeyID: oid})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", desc.Name, rec.RecName(), err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s %s: %w", desc.Name, rec.RecName(), models.ErrNotFound)
	}
	return nil
}

// DeleteMany removes every record matching filter permanently.
func (s *RecordStore) DeleteMany(ctx context.Context, desc *models.Descriptor, filter bson.M) (int64, error) {
	n, err := s.store.DeleteMany(ctx, desc.Collection, filter)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", desc.Name, err)
	}
	return n, nil
}

// SoftDelete schedules rec for removal retentionDays from now. The record
// disappears from default queries at once and is removed by the sweep once
// the deadline has passed.
func (s *RecordStore) SoftDelete(ctx context.Context, desc *models.Descriptor, rec models.Record, retentionDays int) (models.Record, error) {
	if retentionDays < 0 {
		retentionDays = 0
	}
	deadline := s.Now().Add(time.Duration(retentionDays) * 24 * time.Hour).Unix()
	return s.patch(ctx, desc, rec, models.Record{models.KeyDeleted: deadline})
}

// SoftDeleteMany schedules every live record matching filter for removal
// and returns how many were marked.
func (s *RecordStore) SoftDeleteMany(ctx context.Context, desc *models.Descriptor, filter bson.M, retentionDays int) (int64, error) {
	recs, err := s.store.FindMany(ctx, desc.Collection, query.DefaultQuery(desc, filter, query.Options{}), docstore.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("soft delete %s: %w", desc.Name, err)
	}
	var n int64
	for _, r := range recs {
		if _, err := s.SoftDelete(ctx, desc, r, retentionDays); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Restore clears the deletion deadline of rec.
func (s *RecordStore) Restore(ctx context.Context, desc *models.Descriptor, rec models.Record) (models.Record, error) {
	return s.patch(ctx, desc, rec, models.Record{models.KeyDeleted: int64(0)})
}

// SetActive sets the active flag of rec. Archiving is SetActive(false).
func (s *RecordStore) SetActive(ctx context.Context, desc *models.Descriptor, rec models.Record, active bool) (models.Record, error) {
	return s.patch(ctx, desc, rec, models.Record{models.KeyActive: active})
}

// patch writes fields onto the stored record identified by rec, metadata
// included. It never inserts.
func (s *RecordStore) patch(ctx context.Context, desc *models.Descriptor, rec, fields models.Record) (models.Record, error) {
	checked, err := schema.Validate(desc, fields, false)
	if err != nil {
		return nil, err
	}
	original, err := s.resolve(ctx, desc, rec)
	if err != nil {
		return nil, fmt.Errorf("patch %s %s: %w", desc.Name, rec.RecName(), err)
	}
	if original == nil {
		return nil, fmt.Errorf("patch %s %s: %w", desc.Name, rec.RecName(), models.ErrNotFound)
	}
	res, err := s.update(ctx, desc, original, checked, SaveOptions{KeepMeta: true})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// SweepExpired permanently removes the records of desc whose deletion
// deadline is at or before now.
func (s *RecordStore) SweepExpired(ctx context.Context, desc *models.Descriptor) (int64, error) {
	n, err := s.store.DeleteMany(ctx, desc.Collection, query.ToDelete(s.Now()))
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", desc.Name, err)
	}
	if n > 0 {
		s.log.Info("expired records removed", zap.String("model", desc.Name), zap.Int64("count", n))
	}
	return n, nil
}

// FindByName returns the record with rec_name name, or nil when absent.
func (s *RecordStore) FindByName(ctx context.Context, desc *models.Descriptor, name string) (models.Record, error) {
	return s.FindOne(ctx, desc, bson.M{models.KeyRecName: name})
}

// FindByID returns the record with the given hex id, or nil when absent.
func (s *RecordStore) FindByID(ctx context.Context, desc *models.Descriptor, id string) (models.Record, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return s.FindOne(ctx, desc, bson.M{models.KeyID: oid})
}

// FindOne returns the first record matching filter, or nil when absent.
func (s *RecordStore) FindOne(ctx context.Context, desc *models.Descriptor, filter bson.M) (models.Record, error) {
	rec, err := s.store.FindOne(ctx, desc.Collection, filter)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", desc.Name, err)
	}
	return rec, nil
}

// Search returns the records matching filter in opts order. filter is
// used as is; build it with query.DefaultQuery.
func (s *RecordStore) Search(ctx context.Context, desc *models.Descriptor, filter bson.M, opts docstore.FindOptions) ([]models.Record, error) {
	recs, err := s.store.FindMany(ctx, desc.Collection, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", desc.Name, err)
	}
	return recs, nil
}

// Distinct returns one row per record matching filter with field, a
// display title computed from labelFields and type, sorted by title. An empty
// filter selects the live records.
func (s *RecordStore) Distinct(ctx context.Context, desc *models.Descriptor, field string, filter bson.M, labelFields string) ([]models.Record, error) {
	filter = query.DefaultQuery(desc, filter, query.Options{})
	rows, err := s.store.Aggregate(ctx, desc.Collection, query.DistinctPipeline(field, filter, labelFields))
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", desc.Name, field, err)
	}
	return rows, nil
}

// DistinctValues returns the distinct values of field among the live
// records matching filter.
func (s *RecordStore) DistinctValues(ctx context.Context, desc *models.Descriptor, field string, filter bson.M) ([]any, error) {
	vals, err := s.store.Distinct(ctx, desc.Collection, field, query.DefaultQuery(desc, filter, query.Options{}))
	if err != nil {
		return nil, fmt.Errorf("distinct values %s.%s: %w", desc.Name, field, err)
	}
	return vals, nil
}

// Frequency counts the live records matching fieldQuery per value of
// field, keeping values seen at least minOccurrence times, sorted by count
// in direction dir.
func (s *RecordStore) Frequency(ctx context.Context, desc *models.Descriptor, field string, fieldQuery bson.M, minOccurrence int64, dir int, addFields ...string) ([]models.Record, error) {
	rows, err := s.store.Aggregate(ctx, desc.Collection, query.FrequencyPipeline(field, fieldQuery, minOccurrence, dir, addFields))
	if err != nil {
		return nil, fmt.Errorf("frequency %s.%s: %w", desc.Name, field, err)
	}
	return rows, nil
}

// Count returns the number of live records matching filter.
func (s *RecordStore) Count(ctx context.Context, desc *models.Descriptor, filter bson.M) (int64, error) {
	n, err := s.store.Count(ctx, desc.Collection, query.DefaultQuery(desc, filter, query.Options{}))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", desc.Name, err)
	}
	return n, nil
}

// EnsureIndexes creates the uniqueness indexes of desc: rec_name plus
// every field the descriptor declares unique.
func (s *RecordStore) EnsureIndexes(ctx context.Context, desc *models.Descriptor) error {
	fields := append([]string{models.KeyRecName}, desc.Unique...)
	for _, f := range fields {
		if err := s.store.EnsureUniqueIndex(ctx, desc.Collection, f); err != nil {
			return fmt.Errorf("index %s.%s: %w", desc.Name, f, err)
		}
	}
	return nil
}
