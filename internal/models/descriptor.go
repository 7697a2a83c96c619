package models

import "strings"

// FieldType is the semantic type of a model field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
	FieldObject   FieldType = "object"
	FieldArray    FieldType = "array"
	FieldAny      FieldType = "any"
)

// Field describes one field of a model.
type Field struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Unique   bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
	// Secret fields are never returned to clients nor usable in filters.
	Secret bool `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// SortField is one term of a sort order. Dir is 1 or -1.
type SortField struct {
	Field string `json:"field"`
	Dir   int    `json:"dir"`
}

// Descriptor is the runtime description of a model, resolved from its
// schema definition. It is immutable once built; a changed definition
// yields a new Descriptor with a new Version.
type Descriptor struct {
	Name       string      `json:"name"`
	Title      string      `json:"title"`
	Collection string      `json:"collection"`
	Fields     []Field     `json:"fields"`
	Sort       []SortField `json:"sort"`
	Version    string      `json:"version"`
	// Sys marks framework models whose metadata is exported verbatim.
	Sys bool `json:"sys"`
	// OwnerScoped restricts non-admin reads to records owned by allowed users.
	OwnerScoped bool `json:"owner_scoped"`
	// Unique lists the fields backed by a uniqueness index besides rec_name.
	Unique []string `json:"unique"`
}

// Field returns the field named name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SecretFields returns the names of the fields marked Secret.
func (d *Descriptor) SecretFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Secret {
			out = append(out, f.Name)
		}
	}
	return out
}

// IsSecret reports whether path names a secret field or a key below one.
func (d *Descriptor) IsSecret(path string) bool {
	for _, name := range d.SecretFields() {
		if path == name || strings.HasPrefix(path, name+".") {
			return true
		}
	}
	return false
}

// Redact returns rec without its secret fields. rec is returned as is
// when the model has none.
func (d *Descriptor) Redact(rec Record) Record {
	secrets := d.SecretFields()
	if len(secrets) == 0 || rec == nil {
		return rec
	}
	return rec.Without(secrets...)
}

// UserFields returns the names of the fields shown to users: every field
// except metadata and the boxed data_value payload.
func (d *Descriptor) UserFields() []string {
	out := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if IsMetaField(f.Name) || f.Name == KeyDataValue || f.Secret {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// BaseFields are the system fields every model carries.
var BaseFields = []Field{
	{Name: "_id", Type: FieldAny},
	{Name: "id", Type: FieldString},
	{Name: KeyRecName, Type: FieldString},
	{Name: KeyDeleted, Type: FieldInt},
	{Name: KeyListOrder, Type: FieldInt},
	{Name: KeyActive, Type: FieldBool},
	{Name: KeyDataValue, Type: FieldObject},
	{Name: KeyType, Type: FieldString},
	{Name: KeyParent, Type: FieldString},
	{Name: "sys", Type: FieldBool},
	{Name: "default", Type: FieldBool},
	{Name: "demo", Type: FieldBool},
	{Name: "childs", Type: FieldArray},
	{Name: KeyOwnerUID, Type: FieldString},
	{Name: "owner_name", Type: FieldString},
	{Name: "owner_mail", Type: FieldString},
	{Name: "owner_sector", Type: FieldString},
	{Name: "owner_sector_id", Type: FieldInt},
	{Name: "owner_personal_type", Type: FieldString},
	{Name: "owner_job_title", Type: FieldString},
	{Name: "owner_function", Type: FieldString},
	{Name: KeyCreatedAt, Type: FieldDatetime},
	{Name: KeyUpdatedAt, Type: FieldDatetime},
	{Name: KeyUpdateUID, Type: FieldString},
}
