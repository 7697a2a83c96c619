// Package schema resolves model names to runtime descriptors and checks
// candidate records against them.
package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Registry resolves model descriptors. Built-in models are static; every
// other model is defined by a record of the component model and its
// descriptor is rebuilt whenever that record changes.
type Registry struct {
	store   docstore.Store
	log     *zap.Logger
	builtin map[string]*models.Descriptor

	mu    sync.RWMutex
	cache map[string]*models.Descriptor
}

func NewRegistry(store docstore.Store, log *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		log:     log,
		builtin: builtinDescriptors(),
		cache:   make(map[string]*models.Descriptor),
	}
}

// Resolve returns the descriptor for model name. Unknown models yield
// models.ErrUnknownModel.
func (r *Registry) Resolve(ctx context.Context, name string) (*models.Descriptor, error) {
	if d, ok := r.builtin[name]; ok {
		return d, nil
	}

	def, err := r.store.FindOne(ctx, ComponentModel, bson.M{models.KeyRecName: name, models.KeyDeleted: 0})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	if def == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownModel, name)
	}

	version := Version(def)
	r.mu.RLock()
	cached, ok := r.cache[name]
	r.mu.RUnlock()
	if ok && cached.Version == version {
		return cached, nil
	}

	desc, err := FromComponent(def)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	desc.Version = version

	r.mu.Lock()
	r.cache[name] = desc
	r.mu.Unlock()
	r.log.Debug("model descriptor built", zap.String("model", name), zap.String("version", version))
	return desc, nil
}

// MustBuiltin returns one of the built-in descriptors.
func (r *Registry) MustBuiltin(name string) *models.Descriptor {
	d, ok := r.builtin[name]
	if !ok {
		panic("schema: no builtin model " + name)
	}
	return d
}

// Builtins returns the built-in descriptors sorted by name.
func (r *Registry) Builtins() []*models.Descriptor {
	out := make([]*models.Descriptor, 0, len(r.builtin))
	for _, d := range r.builtin {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Models returns every resolvable model name: built-ins first, then the
// live component definitions in rec_name order.
func (r *Registry) Models(ctx context.Context) ([]string, error) {
	defs, err := r.store.FindMany(ctx, ComponentModel, bson.M{models.KeyDeleted: 0},
		docstore.FindOptions{Sort: bson.D{{Key: models.KeyRecName, Value: 1}}})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(r.builtin)+len(defs))
	for _, d := range r.Builtins() {
		names = append(names, d.Name)
	}
	for _, def := range defs {
		if name := def.RecName(); name != "" {
			if _, ok := r.builtin[name]; !ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Invalidate drops the cached descriptor of name.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

// Version fingerprints a component definition. Metadata that does not
// affect the model shape is ignored.
func Version(def models.Record) string {
	shape := def.Without(models.MetaFields...)
	raw, err := json.Marshal(shape)
	if err != nil {
		raw = []byte(fmt.Sprint(shape))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// FromComponent builds a descriptor from a component record.
func FromComponent(def models.Record) (*models.Descriptor, error) {
	name := def.RecName()
	if name == "" {
		return nil, fmt.Errorf("component without rec_name")
	}
	title := def.String("title")
	if title == "" {
		title = name
	}

	desc := &models.Descriptor{
		Name:       name,
		Title:      title,
		Collection: strings.ToLower(name),
		Fields:     append([]models.Field(nil), models.BaseFields...),
		Sort:       DefaultSort(),
		Sys:        def.Bool("sys"),
	}

	props := def.Map("properties")
	if s, ok := props["sort"].(string); ok && s != "" {
		parsed, err := ParseSort(s)
		if err != nil {
			return nil, err
		}
		desc.Sort = parsed
	}
	if v, ok := props["owner_scoped"].(bool); ok {
		desc.OwnerScoped = v
	}

	raw, _ := def["fields"].([]any)
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %d: expected an object, got %T", i, item)
		}
		f := models.Field{
			Name:    stringOf(m["name"]),
			Type:    models.FieldType(stringOf(m["type"])),
			Default: m["default"],
		}
		f.Required, _ = m["required"].(bool)
		f.Unique, _ = m["unique"].(bool)
		f.Secret, _ = m["secret"].(bool)
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: missing name", i)
		}
		if f.Type == "" {
			f.Type = models.FieldAny
		}
		if !knownType(f.Type) {
			return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
		}
		if _, dup := desc.Field(f.Name); dup {
			return nil, fmt.Errorf("field %s: declared twice or shadows a system field", f.Name)
		}
		desc.Fields = append(desc.Fields, f)
		if f.Unique {
			desc.Unique = append(desc.Unique, f.Name)
		}
	}
	return desc, nil
}

func knownType(t models.FieldType) bool {
	switch t {
	case models.FieldString, models.FieldInt, models.FieldFloat, models.FieldBool,
		models.FieldDatetime, models.FieldObject, models.FieldArray, models.FieldAny:
		return true
	}
	return false
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
