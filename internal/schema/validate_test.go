package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetDescriptor(t *testing.T) *models.Descriptor {
	t.Helper()
	d, err := FromComponent(widgetComponent())
	require.NoError(t, err)
	d.Fields = append(d.Fields,
		models.Field{Name: "price", Type: models.FieldFloat},
		models.Field{Name: "due", Type: models.FieldDatetime},
		models.Field{Name: "tags", Type: models.FieldArray},
	)
	return d
}

func TestValidate_CoercesAndDefaults(t *testing.T) {
	d := widgetDescriptor(t)
	in := models.Record{
		"rec_name": "w1",
		"code":     "C1",
		"price":    int64(3),
		"due":      "2024-05-01T10:00:00+02:00",
		"tags":     []any{"a"},
		"deleted":  2.0,
	}
	out, err := Validate(d, in, true)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out["price"])
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), out["due"])
	assert.Equal(t, int64(2), out["deleted"])
	assert.Equal(t, int64(1), out["qty"], "default applied on insert")
	assert.Equal(t, "2024-05-01T10:00:00+02:00", in["due"], "input untouched")
}

func TestValidate_Failures(t *testing.T) {
	d := widgetDescriptor(t)
	_, err := Validate(d, models.Record{
		"rec_name": "w1",
		"qty":      1.5,
		"name":     7,
		"due":      "yesterday",
		"bogus":    true,
	}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "widget", verr.Model)
	assert.Contains(t, verr.Fields, "qty")
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "due")
	assert.Equal(t, "unknown field", verr.Fields["bogus"])
	assert.Equal(t, "required", verr.Fields["code"])
}

func TestValidate_UpdateSkipsRequired(t *testing.T) {
	d := widgetDescriptor(t)
	out, err := Validate(d, models.Record{"rec_name": "w1", "name": "b"}, false)
	require.NoError(t, err)
	assert.NotContains(t, out, "qty")
}
