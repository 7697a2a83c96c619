package models

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record is a schema-agnostic document of one model. Its shape is checked
// against the model Descriptor on every write, not by the Go type system.
type Record map[string]any

// Well-known record keys.
const (
	KeyID        = "_id"
	KeyAltID     = "id"
	KeyRecName   = "rec_name"
	KeyDeleted   = "deleted"
	KeyListOrder = "list_order"
	KeyActive    = "active"
	KeyDataValue = "data_value"
	KeyType      = "type"
	KeyParent    = "parent"
	KeyOwnerUID  = "owner_uid"
	KeyCreatedAt = "create_datetime"
	KeyUpdatedAt = "update_datetime"
	KeyUpdateUID = "update_uid"
)

// MetaFields are system fields hidden from user-visible field lists and exports.
var MetaFields = []string{
	"_id", "id", "owner_uid", "owner_name", "owner_mail", "owner_sector",
	"owner_sector_id", "owner_personal_type", "owner_job_title", "owner_function",
	"create_datetime", "update_datetime", "update_uid", "sys", "default",
	"active", "demo", "childs", "deleted", "list_order",
}

// MetaFieldsUpdate are the fields a regular save never rewrites on an
// existing record: identity, ownership and audit stamps.
var MetaFieldsUpdate = []string{
	"_id", "id", "owner_uid", "owner_name", "owner_mail", "owner_sector",
	"owner_sector_id", "owner_personal_type", "owner_job_title", "owner_function",
	"create_datetime", "update_datetime", "update_uid",
}

// IsMetaField reports whether name is one of MetaFields.
func IsMetaField(name string) bool {
	return contains(MetaFields, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ID returns the store-assigned identifier as a hex string, or "".
func (r Record) ID() string {
	switch v := r[KeyID].(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	}
	if s, ok := r[KeyAltID].(string); ok {
		return s
	}
	return ""
}

// ObjectID returns the store-assigned identifier, if it is a valid ObjectID.
func (r Record) ObjectID() (primitive.ObjectID, bool) {
	switch v := r[KeyID].(type) {
	case primitive.ObjectID:
		return v, true
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		return oid, err == nil
	}
	if s, ok := r[KeyAltID].(string); ok {
		oid, err := primitive.ObjectIDFromHex(s)
		return oid, err == nil
	}
	return primitive.NilObjectID, false
}

func (r Record) RecName() string {
	return r.String(KeyRecName)
}

// Deleted returns the deletion deadline in unix seconds, 0 for live records.
func (r Record) Deleted() int64 {
	return r.Int(KeyDeleted)
}

// IsLive reports whether the record carries no deletion deadline.
func (r Record) IsLive() bool {
	return r.Deleted() == 0
}

func (r Record) Owner() string {
	return r.String(KeyOwnerUID)
}

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Int returns key as int64, accepting any numeric representation.
func (r Record) Int(key string) int64 {
	if i, ok := AsInt(r[key]); ok {
		return i
	}
	f, ok := AsFloat(r[key])
	if !ok {
		return 0
	}
	return int64(f)
}

// Time returns key as a UTC time.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v.UTC()
	case primitive.DateTime:
		return v.Time().UTC()
	}
	return time.Time{}
}

// Map returns the nested map under key, or nil.
func (r Record) Map(key string) map[string]any {
	switch v := r[key].(type) {
	case map[string]any:
		return v
	case Record:
		return v
	case bson.M:
		return v
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(cloneMap(r))
}

// Without returns a shallow copy of r minus keys.
func (r Record) Without(keys ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if contains(keys, k) {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Record:
		return Record(cloneMap(t))
	case bson.M:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// AsFloat converts any Go numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsInt converts an integer value to int64 without a float64 round trip.
// Floats qualify only when they hold an integer within the int64 range.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

// IsInteger reports whether v has an integer representation.
func IsInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return true
	case uint:
		return uint64(n) <= math.MaxInt64
	case uint64:
		return n <= math.MaxInt64
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

func uintToInt(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ValuesEqual compares two document values. Numbers compare by value across
// representations, integers exactly, times by instant, maps and slices
// element-wise.
func ValuesEqual(a, b any) bool {
	if IsInteger(a) && IsInteger(b) {
		ia, _ := AsInt(a)
		ib, _ := AsInt(b)
		return ia == ib
	}
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		return ok && (fa == fb || (math.IsNaN(fa) && math.IsNaN(fb)))
	}
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		return ok && ta.Equal(tb)
	}
	switch av := a.(type) {
	case map[string]any, Record, bson.M:
		am := toMap(av)
		bm := toMap(b)
		if bm == nil || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, ok := bm[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any, bson.A, []string:
		as := toSlice(av)
		bs := toSlice(b)
		if bs == nil || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !ValuesEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func toMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Record:
		return m
	case bson.M:
		return m
	}
	return nil
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case bson.A:
		return s
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}
