package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is a thread-safe in-process Store. Documents are kept in
// insertion order per collection and always copied across the boundary.
type MemoryStore struct {
	mu     sync.RWMutex
	colls  map[string][]map[string]any
	unique map[string][]string
	// failWith, when set, is returned by every operation.
	failWith error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		colls:  make(map[string][]map[string]any),
		unique: make(map[string][]string),
	}
}

// SetFailure makes every subsequent call fail with err wrapped as
// ErrStoreUnavailable. Passing nil restores normal operation.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryStore) check(op, coll string) error {
	if m.failWith != nil {
		return unavailable(op, coll, m.failWith)
	}
	return nil
}

func (m *MemoryStore) filterLocked(coll string, filter bson.M) ([]int, error) {
	var idx []int
	for i, d := range m.colls[coll] {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", coll, err)
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func (m *MemoryStore) FindOne(ctx context.Context, coll string, filter bson.M) (models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("find one", coll); err != nil {
		return nil, err
	}
	idx, err := m.filterLocked(coll, filter)
	if err != nil || len(idx) == 0 {
		return nil, err
	}
	return models.Record(m.colls[coll][idx[0]]).Clone(), nil
}

func (m *MemoryStore) FindMany(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("find", coll); err != nil {
		return nil, err
	}
	idx, err := m.filterLocked(coll, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, 0, len(idx))
	for _, i := range idx {
		docs = append(docs, m.colls[coll][i])
	}
	sortDocs(docs, opts.Sort)
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int(opts.Limit) < len(docs) {
		docs = docs[:opts.Limit]
	}
	return cloneAll(docs), nil
}

func (m *MemoryStore) Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]models.Record, error) {
	m.mu.RLock()
	src := make([]map[string]any, 0, len(m.colls[coll]))
	for _, d := range m.colls[coll] {
		src = append(src, models.Record(d).Clone())
	}
	err := m.check("aggregate", coll)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out, err := runPipeline(src, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", coll, err)
	}
	res := make([]models.Record, 0, len(out))
	for _, d := range out {
		res = append(res, Normalize(d))
	}
	return res, nil
}

func (m *MemoryStore) InsertOne(ctx context.Context, coll string, doc models.Record) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert", coll); err != nil {
		return primitive.NilObjectID, err
	}

	stored := Normalize(doc)
	oid, ok := stored[models.KeyID].(primitive.ObjectID)
	if !ok {
		oid = primitive.NewObjectID()
		stored[models.KeyID] = oid
	}
	if err := m.checkUniqueLocked(coll, stored, -1); err != nil {
		return primitive.NilObjectID, err
	}
	m.colls[coll] = append(m.colls[coll], stored)
	return oid, nil
}

func (m *MemoryStore) UpdateOne(ctx context.Context, coll string, filter bson.M, set bson.M) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("update", coll); err != nil {
		return 0, err
	}
	idx, err := m.filterLocked(coll, filter)
	if err != nil || len(idx) == 0 {
		return 0, err
	}

	i := idx[0]
	updated := models.Record(m.colls[coll][i]).Clone()
	changed := false
	for k, v := range Normalize(set) {
		if k == models.KeyID {
			return 0, fmt.Errorf("update %s: _id is immutable", coll)
		}
		old, had := lookup(updated, k)
		if had && models.ValuesEqual(old, v) {
			continue
		}
		setPath(updated, k, v)
		changed = true
	}
	if !changed {
		return 0, nil
	}
	if err := m.checkUniqueLocked(coll, updated, i); err != nil {
		return 0, err
	}
	m.colls[coll][i] = updated
	return 1, nil
}

func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func (m *MemoryStore) DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error) {
	return m.delete(coll, filter, true)
}

func (m *MemoryStore) DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error) {
	return m.delete(coll, filter, false)
}

func (m *MemoryStore) delete(coll string, filter bson.M, one bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete", coll); err != nil {
		return 0, err
	}
	idx, err := m.filterLocked(coll, filter)
	if err != nil || len(idx) == 0 {
		return 0, err
	}
	if one {
		idx = idx[:1]
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := m.colls[coll][:0:0]
	for i, d := range m.colls[coll] {
		if !drop[i] {
			kept = append(kept, d)
		}
	}
	m.colls[coll] = kept
	return int64(len(idx)), nil
}

func (m *MemoryStore) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("count", coll); err != nil {
		return 0, err
	}
	idx, err := m.filterLocked(coll, filter)
	return int64(len(idx)), err
}

func (m *MemoryStore) Distinct(ctx context.Context, coll string, field string, filter bson.M) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("distinct", coll); err != nil {
		return nil, err
	}
	idx, err := m.filterLocked(coll, filter)
	if err != nil {
		return nil, err
	}
	var out []any
	add := func(v any) {
		for _, seen := range out {
			if models.ValuesEqual(seen, v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, i := range idx {
		v, ok := lookup(m.colls[coll][i], field)
		if !ok {
			continue
		}
		if list := asSlice(v); list != nil {
			for _, el := range list {
				add(el)
			}
			continue
		}
		add(v)
	}
	return out, nil
}

func (m *MemoryStore) EnsureUniqueIndex(ctx context.Context, coll string, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create index", coll); err != nil {
		return err
	}
	for _, f := range m.unique[coll] {
		if f == field {
			return nil
		}
	}
	m.unique[coll] = append(m.unique[coll], field)
	if _, ok := m.colls[coll]; !ok {
		m.colls[coll] = nil
	}
	return nil
}

func (m *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("list collections", ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.colls))
	for name := range m.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// checkUniqueLocked rejects doc when another document (other than position
// self) holds the same value for a unique field. Missing values count as
// null, as they do for a MongoDB unique index.
func (m *MemoryStore) checkUniqueLocked(coll string, doc map[string]any, self int) error {
	for _, field := range m.unique[coll] {
		v, _ := lookup(doc, field)
		for i, other := range m.colls[coll] {
			if i == self {
				continue
			}
			ov, _ := lookup(other, field)
			if models.ValuesEqual(v, ov) {
				return fmt.Errorf("%s.%s = %v: %w", coll, field, v, ErrDuplicateKey)
			}
		}
	}
	return nil
}

func cloneAll(docs []map[string]any) []models.Record {
	out := make([]models.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.Record(d).Clone())
	}
	return out
}
