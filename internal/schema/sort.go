package schema

import (
	"fmt"
	"strings"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultSort orders records by list_order, then rec_name, both ascending.
func DefaultSort() []models.SortField {
	return []models.SortField{
		{Field: models.KeyListOrder, Dir: 1},
		{Field: models.KeyRecName, Dir: 1},
	}
}

// ParseSort parses "field:dir,field:dir". dir is asc, desc, 1 or -1 and
// defaults to asc when omitted.
func ParseSort(s string) ([]models.SortField, error) {
	var out []models.SortField
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		name, dir, _ := strings.Cut(term, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty sort field in %q", models.ErrValidation, s)
		}
		sf := models.SortField{Field: name, Dir: 1}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc", "1":
		case "desc", "-1":
			sf.Dir = -1
		default:
			return nil, fmt.Errorf("%w: bad sort direction %q for %s", models.ErrValidation, dir, name)
		}
		out = append(out, sf)
	}
	return out, nil
}

// FormatSort is the inverse of ParseSort.
func FormatSort(fields []models.SortField) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		dir := "asc"
		if f.Dir < 0 {
			dir = "desc"
		}
		parts = append(parts, f.Field+":"+dir)
	}
	return strings.Join(parts, ",")
}

// SortDoc converts a sort string to the ordered document the store expects.
func SortDoc(fields []models.SortField) bson.D {
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Dir < 0 {
			dir = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: dir})
	}
	return out
}
