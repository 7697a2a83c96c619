package schema

import (
	"fmt"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Validate checks rec against desc and returns a copy with values coerced
// to their declared types: RFC 3339 strings become datetimes and integral
// floats become ints. When insert is set, defaults are applied and required
// fields enforced. Failures are reported as *models.ValidationError.
func Validate(desc *models.Descriptor, rec models.Record, insert bool) (models.Record, error) {
	out := rec.Clone()
	verr := models.NewValidationError(desc.Name)

	for name, v := range out {
		f, ok := desc.Field(name)
		if !ok {
			verr.Add(name, "unknown field")
			continue
		}
		if v == nil {
			continue
		}
		cv, err := coerce(f.Type, v)
		if err != nil {
			verr.Add(name, err.Error())
			continue
		}
		out[name] = cv
	}

	if insert {
		for _, f := range desc.Fields {
			if _, present := out[f.Name]; present && out[f.Name] != nil {
				continue
			}
			if f.Default != nil {
				out[f.Name] = f.Default
				continue
			}
			if f.Required {
				verr.Add(f.Name, "required")
			}
		}
	}

	if !verr.Empty() {
		return nil, verr
	}
	return out, nil
}

func coerce(t models.FieldType, v any) (any, error) {
	switch t {
	case models.FieldAny, "":
		return v, nil
	case models.FieldString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case models.FieldInt:
		if i, ok := models.AsInt(v); ok {
			return i, nil
		}
		if _, ok := models.AsFloat(v); ok {
			return nil, fmt.Errorf("expected an integer, got %v", v)
		}
	case models.FieldFloat:
		if f, ok := models.AsFloat(v); ok {
			return f, nil
		}
	case models.FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case models.FieldDatetime:
		switch d := v.(type) {
		case time.Time:
			return d.UTC(), nil
		case primitive.DateTime:
			return d.Time().UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339, d)
			if err != nil {
				return nil, fmt.Errorf("expected an RFC 3339 datetime, got %q", d)
			}
			return ts.UTC(), nil
		}
	case models.FieldObject:
		switch v.(type) {
		case map[string]any, models.Record, bson.M, bson.D:
			return v, nil
		}
	case models.FieldArray:
		switch v.(type) {
		case []any, bson.A, []string, []map[string]any:
			return v, nil
		}
	default:
		return nil, fmt.Errorf("unknown type %q", t)
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}
