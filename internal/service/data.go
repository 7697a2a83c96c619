package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/query"
	"github.com/atinyakov/ozon/internal/repository"
	"github.com/atinyakov/ozon/internal/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// ListParams selects records for DataService.List.
type ListParams struct {
	Filter bson.M
	// Sort is "field:dir,..."; empty uses the model sort.
	Sort  string
	Type  string
	Skip  int64
	Limit int64
	// IncludeDeleted is honoured for admin sessions only.
	IncludeDeleted bool
}

// DistinctParams selects the rows of DataService.Distinct.
type DistinctParams struct {
	Field  string
	Filter bson.M
	// Label is a comma separated list of fields joined into the row title.
	Label string
}

// FrequencyParams selects the groups of DataService.Frequency.
type FrequencyParams struct {
	Field         string
	Filter        bson.M
	MinOccurrence int64
	// Dir is 1 for ascending, -1 (default) for descending counts.
	Dir       int
	AddFields []string
}

// OrderItem assigns a list position to a record.
type OrderItem struct {
	RecName   string `json:"rec_name"`
	ListOrder int64  `json:"list_order"`
}

// ModelSchema is the user-facing shape of a model.
type ModelSchema struct {
	Name   string         `json:"name"`
	Title  string         `json:"title"`
	Sort   string         `json:"sort"`
	Fields []models.Field `json:"fields"`
}

// DataService implements the model-level operations exposed to clients.
// Every call takes the session it acts for.
type DataService struct {
	registry      *schema.Registry
	records       *repository.RecordStore
	gate          Gate
	retentionDays int
	log           *zap.Logger
}

// NewDataService wires a DataService. Soft-deleted records are kept for
// retentionDays before the sweep removes them.
func NewDataService(registry *schema.Registry, records *repository.RecordStore, retentionDays int, log *zap.Logger) *DataService {
	return &DataService{registry: registry, records: records, retentionDays: retentionDays, log: log}
}

func (d *DataService) model(ctx context.Context, name string) (*models.Descriptor, error) {
	desc, err := d.registry.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if name == schema.SessionModel {
		return nil, fmt.Errorf("%w: %s is internal", models.ErrAuthorization, name)
	}
	return desc, nil
}

// readable resolves name and checks that sess may read its records.
func (d *DataService) readable(ctx context.Context, sess *models.Session, name string) (*models.Descriptor, error) {
	desc, err := d.model(ctx, name)
	if err != nil {
		return nil, err
	}
	if !d.gate.CanReadModel(sess, desc) {
		return nil, fmt.Errorf("%w: %s", models.ErrAuthorization, name)
	}
	return desc, nil
}

// checkSecrets rejects field names and filter keys that reach a secret
// field of desc.
func checkSecrets(desc *models.Descriptor, filter bson.M, fields ...string) error {
	if len(desc.SecretFields()) == 0 {
		return nil
	}
	for _, f := range fields {
		if desc.IsSecret(strings.TrimSpace(f)) {
			return fmt.Errorf("%w: %s is not readable", models.ErrAuthorization, f)
		}
	}
	if key, ok := secretKey(desc, filter); ok {
		return fmt.Errorf("%w: %s is not readable", models.ErrAuthorization, key)
	}
	return nil
}

func secretKey(desc *models.Descriptor, v any) (string, bool) {
	switch t := v.(type) {
	case bson.M:
		return secretKey(desc, map[string]any(t))
	case map[string]any:
		for k, sub := range t {
			if !strings.HasPrefix(k, "$") && desc.IsSecret(k) {
				return k, true
			}
			if key, ok := secretKey(desc, sub); ok {
				return key, true
			}
		}
	case bson.D:
		for _, e := range t {
			if key, ok := secretKey(desc, bson.M{e.Key: e.Value}); ok {
				return key, true
			}
		}
	case bson.A:
		return secretKey(desc, []any(t))
	case []bson.M:
		for _, sub := range t {
			if key, ok := secretKey(desc, sub); ok {
				return key, true
			}
		}
	case []any:
		for _, sub := range t {
			if key, ok := secretKey(desc, sub); ok {
				return key, true
			}
		}
	}
	return "", false
}

func redactAll(desc *models.Descriptor, recs []models.Record) []models.Record {
	if len(desc.SecretFields()) == 0 {
		return recs
	}
	for i, r := range recs {
		recs[i] = desc.Redact(r)
	}
	return recs
}

// scoped conjoins filter with the ownership constraint of sess.
func scoped(desc *models.Descriptor, sess *models.Session, filter bson.M) bson.M {
	scope := query.ScopeOwner(desc, sess)
	switch {
	case scope == nil:
		return filter
	case len(filter) == 0:
		return scope
	}
	return bson.M{"$and": bson.A{filter, scope}}
}

// GetRecord returns the live record named recName and whether sess may edit it.
func (d *DataService) GetRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, bool, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return nil, false, err
	}
	rec, err := d.records.FindOne(ctx, desc, query.DefaultQuery(desc, bson.M{models.KeyRecName: recName}, query.Options{}))
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, fmt.Errorf("%s %s: %w", model, recName, models.ErrNotFound)
	}
	if !d.gate.CanRead(sess, desc, rec) {
		return nil, false, models.ErrAuthorization
	}
	return desc.Redact(rec), d.gate.CanUpdate(sess, desc, rec), nil
}

// List returns the records of model visible to sess.
func (d *DataService) List(ctx context.Context, sess *models.Session, model string, p ListParams) ([]models.Record, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return nil, err
	}
	if err := query.CheckFilter(p.Filter); err != nil {
		return nil, err
	}
	sortSpec, err := schema.ParseSort(p.Sort)
	if err != nil {
		return nil, err
	}
	sortFields := make([]string, 0, len(sortSpec))
	for _, f := range sortSpec {
		sortFields = append(sortFields, f.Field)
	}
	if err := checkSecrets(desc, p.Filter, sortFields...); err != nil {
		return nil, err
	}
	filter := query.DefaultQuery(desc, p.Filter, query.Options{
		IncludeDeleted: p.IncludeDeleted && sess != nil && sess.IsAdmin,
		Type:           p.Type,
		Session:        sess,
	})
	recs, err := d.records.Search(ctx, desc, filter, query.FindOptions(desc, sortSpec, p.Skip, p.Limit))
	if err != nil {
		return nil, err
	}
	return redactAll(desc, recs), nil
}

// SaveRecord creates or updates a record on behalf of sess. New records
// are stamped with the owner fields of the session user.
func (d *DataService) SaveRecord(ctx context.Context, sess *models.Session, model string, rec models.Record) (*repository.SaveResult, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return nil, err
	}
	existing, err := d.existing(ctx, desc, rec)
	if err != nil {
		return nil, err
	}
	if !d.gate.CanUpdate(sess, desc, existing) {
		return nil, models.ErrAuthorization
	}

	candidate := rec.Clone()
	if existing == nil {
		for k, v := range ownerFields(sess) {
			candidate[k] = v
		}
	}
	res, err := d.records.Save(ctx, desc, candidate, repository.SaveOptions{Actor: sess.UID})
	if err != nil {
		return nil, err
	}
	if desc.Name == schema.ComponentModel {
		if err := d.modelChanged(ctx, res.Record.RecName()); err != nil {
			return nil, err
		}
	}
	res.Record = desc.Redact(res.Record)
	return res, nil
}

func (d *DataService) existing(ctx context.Context, desc *models.Descriptor, rec models.Record) (models.Record, error) {
	if name := rec.RecName(); name != "" {
		found, err := d.records.FindByName(ctx, desc, name)
		if err != nil || found != nil {
			return found, err
		}
	}
	if id := rec.ID(); id != "" {
		return d.records.FindByID(ctx, desc, id)
	}
	return nil, nil
}

// modelChanged refreshes a model after its definition was saved and makes
// sure its indexes exist.
func (d *DataService) modelChanged(ctx context.Context, name string) error {
	d.registry.Invalidate(name)
	desc, err := d.registry.Resolve(ctx, name)
	if err != nil {
		return err
	}
	return d.records.EnsureIndexes(ctx, desc)
}

func ownerFields(sess *models.Session) models.Record {
	u := models.UserFromRecord(models.Record(sess.User))
	if u.UID == "" {
		u.UID = sess.UID
	}
	return u.OwnerFields()
}

// editable returns the record matching filter when sess may update it.
func (d *DataService) editable(ctx context.Context, sess *models.Session, desc *models.Descriptor, recName string, filter bson.M) (models.Record, error) {
	rec, err := d.records.FindOne(ctx, desc, filter)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s: %w", desc.Name, recName, models.ErrNotFound)
	}
	if !d.gate.CanUpdate(sess, desc, rec) {
		return nil, models.ErrAuthorization
	}
	return rec, nil
}

// DeleteRecord soft-deletes the record named recName.
func (d *DataService) DeleteRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return nil, err
	}
	rec, err := d.editable(ctx, sess, desc, recName,
		query.DefaultQuery(desc, bson.M{models.KeyRecName: recName}, query.Options{}))
	if err != nil {
		return nil, err
	}
	out, err := d.records.SoftDelete(ctx, desc, rec, d.retentionDays)
	if err != nil {
		return nil, err
	}
	return desc.Redact(out), nil
}

// RestoreRecord undoes the soft deletion of recName while it is still
// within its retention window.
func (d *DataService) RestoreRecord(ctx context.Context, sess *models.Session, model, recName string) (models.Record, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return nil, err
	}
	filter := query.DefaultQuery(desc, bson.M{"$and": bson.A{bson.M{models.KeyRecName: recName}, query.Trashed()}},
		query.Options{IncludeDeleted: true})
	rec, err := d.editable(ctx, sess, desc, recName, filter)
	if err != nil {
		return nil, err
	}
	out, err := d.records.Restore(ctx, desc, rec)
	if err != nil {
		return nil, err
	}
	return desc.Redact(out), nil
}

// SetActive archives (active=false) or reactivates the live record recName.
func (d *DataService) SetActive(ctx context.Context, sess *models.Session, model, recName string, active bool) (models.Record, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return nil, err
	}
	rec, err := d.editable(ctx, sess, desc, recName,
		query.DefaultQuery(desc, bson.M{models.KeyRecName: recName}, query.Options{}))
	if err != nil {
		return nil, err
	}
	out, err := d.records.SetActive(ctx, desc, rec, active)
	if err != nil {
		return nil, err
	}
	return desc.Redact(out), nil
}

// Distinct returns one labelled row per live record visible to sess.
func (d *DataService) Distinct(ctx context.Context, sess *models.Session, model string, p DistinctParams) ([]models.Record, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return nil, err
	}
	if err := query.CheckFilter(p.Filter); err != nil {
		return nil, err
	}
	field := p.Field
	if field == "" {
		field = models.KeyRecName
	}
	label := p.Label
	if label == "" {
		label = "title"
	}
	if err := checkSecrets(desc, p.Filter, append(strings.Split(label, ","), field)...); err != nil {
		return nil, err
	}
	filter := query.DefaultQuery(desc, p.Filter, query.Options{Session: sess})
	rows, err := d.records.Distinct(ctx, desc, field, filter, p.Label)
	if err != nil {
		return nil, err
	}
	return redactAll(desc, rows), nil
}

// Frequency counts the live records visible to sess per value of p.Field.
func (d *DataService) Frequency(ctx context.Context, sess *models.Session, model string, p FrequencyParams) ([]models.Record, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return nil, err
	}
	if p.Field == "" {
		return nil, fmt.Errorf("%w: field is required", models.ErrValidation)
	}
	if err := query.CheckFilter(p.Filter); err != nil {
		return nil, err
	}
	if err := checkSecrets(desc, p.Filter, append([]string{p.Field}, p.AddFields...)...); err != nil {
		return nil, err
	}
	dir := p.Dir
	if dir == 0 {
		dir = -1
	}
	minOcc := p.MinOccurrence
	if minOcc <= 0 {
		minOcc = 1
	}
	rows, err := d.records.Frequency(ctx, desc, p.Field, scoped(desc, sess, p.Filter), minOcc, dir, p.AddFields...)
	if err != nil {
		return nil, err
	}
	return redactAll(desc, rows), nil
}

// Count returns the number of live records visible to sess matching filter.
func (d *DataService) Count(ctx context.Context, sess *models.Session, model string, filter bson.M) (int64, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return 0, err
	}
	if err := query.CheckFilter(filter); err != nil {
		return 0, err
	}
	if err := checkSecrets(desc, filter); err != nil {
		return 0, err
	}
	return d.records.Count(ctx, desc, scoped(desc, sess, filter))
}

// ExportMode selects the shape of exported records.
type ExportMode string

const (
	// ExportJSON exports whole records without their store identity.
	// Framework models also lose their metadata.
	ExportJSON ExportMode = "json"
	// ExportValue exports the data_value payload of each record.
	ExportValue ExportMode = "value"
)

// ExportParams selects the records of DataService.Export.
type ExportParams struct {
	Mode   ExportMode
	Filter bson.M
	// Parent restricts the export to the children of one record.
	Parent string
}

// Export is a model dump ready to be re-imported or rendered as a list.
type Export struct {
	Model  string          `json:"model"`
	Mode   ExportMode      `json:"mode"`
	Schema *ModelSchema    `json:"schema"`
	Data   []models.Record `json:"data"`
}

// Export dumps the live records of model visible to sess in model sort
// order.
func (d *DataService) Export(ctx context.Context, sess *models.Session, model string, p ExportParams) (*Export, error) {
	desc, err := d.readable(ctx, sess, model)
	if err != nil {
		return nil, err
	}
	mode := p.Mode
	switch mode {
	case "":
		mode = ExportJSON
	case ExportJSON, ExportValue:
	default:
		return nil, fmt.Errorf("%w: unknown export mode %q", models.ErrValidation, mode)
	}
	if err := query.CheckFilter(p.Filter); err != nil {
		return nil, err
	}
	if err := checkSecrets(desc, p.Filter); err != nil {
		return nil, err
	}
	filter := p.Filter
	if p.Parent != "" {
		parent := bson.M{models.KeyParent: p.Parent}
		if len(filter) == 0 {
			filter = parent
		} else {
			filter = bson.M{"$and": bson.A{filter, parent}}
		}
	}
	recs, err := d.records.Search(ctx, desc,
		query.DefaultQuery(desc, filter, query.Options{Session: sess}), query.FindOptions(desc, nil, 0, 0))
	if err != nil {
		return nil, err
	}

	data := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		r = desc.Redact(r)
		switch {
		case mode == ExportValue:
			data = append(data, models.Record(r.Map(models.KeyDataValue)).Without(models.KeyID, models.KeyAltID))
		case desc.Sys:
			data = append(data, r.Without(models.MetaFields...))
		default:
			data = append(data, r.Without(models.KeyID))
		}
	}
	sch, err := d.SchemaModel(ctx, model)
	if err != nil {
		return nil, err
	}
	d.log.Info("records exported", zap.String("model", model), zap.String("mode", string(mode)), zap.Int("count", len(data)))
	return &Export{Model: desc.Name, Mode: mode, Schema: sch, Data: data}, nil
}

// Reorder sets list_order on each named record. Items are applied in
// order and the first failure stops the batch.
func (d *DataService) Reorder(ctx context.Context, sess *models.Session, model string, items []OrderItem) (int, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return 0, err
	}
	batch := make([]models.Record, 0, len(items))
	for _, it := range items {
		rec, err := d.records.FindByName(ctx, desc, it.RecName)
		if err != nil {
			return 0, err
		}
		if rec == nil {
			return 0, fmt.Errorf("%s %s: %w", model, it.RecName, models.ErrNotFound)
		}
		if !d.gate.CanUpdate(sess, desc, rec) {
			return 0, models.ErrAuthorization
		}
		batch = append(batch, models.Record{models.KeyRecName: it.RecName, models.KeyListOrder: it.ListOrder})
	}
	res, err := d.records.SaveAll(ctx, desc, batch, repository.SaveOptions{KeepMeta: true, Actor: sess.UID})
	return len(res), err
}

// ImportRaw saves records verbatim, metadata included. Records without an
// owner are stamped with the admin's owner fields. Admin only.
func (d *DataService) ImportRaw(ctx context.Context, sess *models.Session, model string, recs []models.Record) (int, error) {
	if err := d.gate.RequireAdmin(sess); err != nil {
		return 0, err
	}
	desc, err := d.model(ctx, model)
	if err != nil {
		return 0, err
	}
	batch := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		c := r.Clone()
		if c.Owner() == "" {
			for k, v := range ownerFields(sess) {
				c[k] = v
			}
		}
		batch = append(batch, c)
	}
	res, err := d.records.SaveAll(ctx, desc, batch, repository.SaveOptions{KeepMeta: true})
	if err != nil {
		return len(res), err
	}
	if desc.Name == schema.ComponentModel {
		for _, r := range res {
			if err := d.modelChanged(ctx, r.Record.RecName()); err != nil {
				return len(res), err
			}
		}
	}
	d.log.Info("records imported", zap.String("model", model), zap.Int("count", len(res)))
	return len(res), nil
}

// CleanModel permanently removes the soft-deleted records of model that
// match filter, whether or not their retention has elapsed. Admin only.
func (d *DataService) CleanModel(ctx context.Context, sess *models.Session, model string, filter bson.M) (int64, error) {
	if err := d.gate.RequireAdmin(sess); err != nil {
		return 0, err
	}
	desc, err := d.model(ctx, model)
	if err != nil {
		return 0, err
	}
	if err := query.CheckFilter(filter); err != nil {
		return 0, err
	}
	target := query.Trashed()
	if len(filter) > 0 {
		target = bson.M{"$and": bson.A{query.Trashed(), filter}}
	}
	n, err := d.records.DeleteMany(ctx, desc, target)
	if err != nil {
		return 0, err
	}
	d.log.Info("model cleaned", zap.String("model", model), zap.Int64("count", n))
	return n, nil
}

// CleanAllToDelete sweeps every model. Admin only.
func (d *DataService) CleanAllToDelete(ctx context.Context, sess *models.Session) (map[string]int64, error) {
	if err := d.gate.RequireAdmin(sess); err != nil {
		return nil, err
	}
	return d.SweepAll(ctx)
}

// SweepAll removes the records past their retention in every model. A
// model that fails to sweep does not stop the others; the errors are
// joined.
func (d *DataService) SweepAll(ctx context.Context) (map[string]int64, error) {
	names, err := d.registry.Models(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(names))
	var errs []error
	for _, name := range names {
		if name == schema.SessionModel {
			continue
		}
		desc, err := d.registry.Resolve(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := d.records.SweepExpired(ctx, desc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = n
	}
	return out, errors.Join(errs...)
}

// SchemaModel describes the user-visible fields of model.
func (d *DataService) SchemaModel(ctx context.Context, model string) (*ModelSchema, error) {
	desc, err := d.model(ctx, model)
	if err != nil {
		return nil, err
	}
	names := desc.UserFields()
	fields := make([]models.Field, 0, len(names))
	for _, n := range names {
		f, _ := desc.Field(n)
		fields = append(fields, f)
	}
	return &ModelSchema{Name: desc.Name, Title: desc.Title, Sort: schema.FormatSort(desc.Sort), Fields: fields}, nil
}

// Models lists every model except the internal session model.
func (d *DataService) Models(ctx context.Context) ([]string, error) {
	names, err := d.registry.Models(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if n != schema.SessionModel {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// EnsureIndexes creates the uniqueness indexes of every model.
func (d *DataService) EnsureIndexes(ctx context.Context) error {
	names, err := d.registry.Models(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		desc, err := d.registry.Resolve(ctx, name)
		if err != nil {
			return err
		}
		if err := d.records.EnsureIndexes(ctx, desc); err != nil {
			return err
		}
	}
	return nil
}

// LoadDefinitions saves model definitions into the component model and
// prepares their indexes. Existing definitions are updated in place.
func (d *DataService) LoadDefinitions(ctx context.Context, defs []schema.Definition) (int, error) {
	comp := d.registry.MustBuiltin(schema.ComponentModel)
	for i, def := range defs {
		if _, err := d.records.Save(ctx, comp, def.ToRecord(), repository.SaveOptions{}); err != nil {
			return i, fmt.Errorf("load model %s: %w", def.Name, err)
		}
		if err := d.modelChanged(ctx, def.Name); err != nil {
			return i, err
		}
	}
	return len(defs), nil
}
