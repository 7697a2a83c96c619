// Package query builds the filters, sorts and aggregation pipelines the
// record store runs. Every filter it returns carries the live-record
// baseline unless the caller asked for deleted records explicitly.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/atinyakov/ozon/internal/docstore"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/atinyakov/ozon/internal/schema"
	"go.mongodb.org/mongo-driver/bson"
)

// Options tune DefaultQuery.
type Options struct {
	// IncludeDeleted drops the deleted == 0 baseline.
	IncludeDeleted bool
	// Type restricts the result to records of one model type.
	Type string
	// Session, when set, scopes owner-scoped models to the records its
	// user may act on.
	Session *models.Session
}

// Live matches records that carry no deletion deadline.
func Live() bson.M {
	return bson.M{models.KeyDeleted: 0}
}

// ByType matches records whose type field equals t.
func ByType(t string) bson.M {
	return bson.M{models.KeyType: t}
}

// ToDelete matches soft-deleted records whose deadline is at or before now.
func ToDelete(now time.Time) bson.M {
	return bson.M{models.KeyDeleted: bson.M{"$gt": 0, "$lte": now.Unix()}}
}

// Trashed matches every soft-deleted record, expired or not.
func Trashed() bson.M {
	return bson.M{models.KeyDeleted: bson.M{"$gt": 0}}
}

// ScopeOwner returns the ownership constraint for session on desc, or nil
// when none applies: admins and models without owner scoping are unrestricted.
func ScopeOwner(desc *models.Descriptor, session *models.Session) bson.M {
	if session == nil || session.IsAdmin || !desc.OwnerScoped {
		return nil
	}
	allowed := session.AllowedUsers()
	in := make(bson.A, 0, len(allowed))
	for _, uid := range allowed {
		in = append(in, uid)
	}
	return bson.M{models.KeyOwnerUID: bson.M{"$in": in}}
}

// DefaultQuery conjoins userQuery with the baseline constraints. The
// baseline is never replaced by a caller term: a userQuery naming deleted
// only narrows the result further.
func DefaultQuery(desc *models.Descriptor, userQuery bson.M, opts Options) bson.M {
	terms := bson.A{}
	if !opts.IncludeDeleted {
		terms = append(terms, Live())
	}
	if opts.Type != "" {
		terms = append(terms, ByType(opts.Type))
	}
	if scope := ScopeOwner(desc, opts.Session); scope != nil {
		terms = append(terms, scope)
	}
	if len(userQuery) > 0 {
		terms = append(terms, userQuery)
	}
	switch len(terms) {
	case 0:
		return bson.M{}
	case 1:
		return terms[0].(bson.M)
	}
	return bson.M{"$and": terms}
}

// FindOptions converts a sort string and paging to store options.
// An empty sort falls back to the descriptor's own sort.
func FindOptions(desc *models.Descriptor, sort []models.SortField, skip, limit int64) docstore.FindOptions {
	if len(sort) == 0 {
		sort = desc.Sort
	}
	if len(sort) == 0 {
		sort = schema.DefaultSort()
	}
	return docstore.FindOptions{Sort: schema.SortDoc(sort), Skip: skip, Limit: limit}
}

// forbidden are operators that would evaluate caller-supplied code or
// bypass field-level matching.
var forbidden = map[string]bool{
	"$where":       true,
	"$function":    true,
	"$accumulator": true,
	"$expr":        true,
}

// CheckFilter rejects caller filters using server-side evaluation operators.
func CheckFilter(filter any) error {
	switch f := filter.(type) {
	case bson.M:
		return checkMap(f)
	case map[string]any:
		return checkMap(f)
	case bson.A:
		for _, v := range f {
			if err := CheckFilter(v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range f {
			if err := CheckFilter(v); err != nil {
				return err
			}
		}
	case []bson.M:
		for _, v := range f {
			if err := checkMap(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkMap(m map[string]any) error {
	for k, v := range m {
		if forbidden[k] {
			return fmt.Errorf("%w: operator %s is not allowed", models.ErrValidation, k)
		}
		if err := CheckFilter(v); err != nil {
			return err
		}
	}
	return nil
}

// LabelExpr returns the group accumulator computing a display title:
// the first value of the single label field, or the " - " joined
// concatenation of several. An empty list uses the title field.
func LabelExpr(labelFields string) bson.M {
	var fields []string
	for _, f := range strings.Split(labelFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	switch len(fields) {
	case 0:
		return bson.M{"$first": "$title"}
	case 1:
		return bson.M{"$first": "$" + fields[0]}
	}
	parts := make(bson.A, 0, 2*len(fields)-1)
	for i, f := range fields {
		if i > 0 {
			parts = append(parts, " - ")
		}
		parts = append(parts, "$"+f)
	}
	return bson.M{"$first": bson.M{"$concat": parts}}
}

// DistinctPipeline emits one row per record with field, a computed title
// and type, sorted by title ascending. match is used as is; callers pass a
// DefaultQuery result.
func DistinctPipeline(field string, match bson.M, labelFields string) []bson.M {
	return []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":          "$_id",
			field:          bson.M{"$first": "$" + field},
			"title":        LabelExpr(labelFields),
			models.KeyType: bson.M{"$first": "$" + models.KeyType},
		}},
		{"$sort": bson.D{{Key: "title", Value: 1}}},
	}
}

// FrequencyPipeline groups live records matching fieldQuery by field,
// keeps groups with at least minOccurrence members and sorts them by
// count in direction dir (1 or -1). addFields carry the first value of
// each named field into every group.
func FrequencyPipeline(field string, fieldQuery bson.M, minOccurrence int64, dir int, addFields []string) []bson.M {
	group := bson.M{
		"_id":   "$" + field,
		"count": bson.M{"$sum": 1},
	}
	for _, f := range addFields {
		if f != "" && f != "_id" && f != "count" {
			group[f] = bson.M{"$first": "$" + f}
		}
	}
	terms := bson.A{Live()}
	if len(fieldQuery) > 0 {
		terms = append(terms, fieldQuery)
	}
	if dir < 0 {
		dir = -1
	} else {
		dir = 1
	}
	return []bson.M{
		{"$match": bson.M{"$and": terms}},
		{"$group": group},
		{"$match": bson.M{"count": bson.M{"$gte": minOccurrence}}},
		{"$sort": bson.D{{Key: "count", Value: dir}, {Key: "_id", Value: 1}}},
	}
}
