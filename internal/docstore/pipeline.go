package docstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// runPipeline evaluates the aggregation stages the record store emits:
// $match, $group, $sort, $skip, $limit and $project (inclusion only).
func runPipeline(docs []map[string]any, pipeline []bson.M) ([]map[string]any, error) {
	cur := docs
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("stage %d: expected exactly one operator", i)
		}
		for op, spec := range stage {
			var err error
			switch op {
			case "$match":
				cur, err = stageMatch(cur, spec)
			case "$group":
				cur, err = stageGroup(cur, spec)
			case "$sort":
				var keys bson.D
				keys, err = sortKeys(spec)
				if err == nil {
					sortDocs(cur, keys)
				}
			case "$skip":
				n, _ := models.AsFloat(spec)
				if int(n) >= len(cur) {
					cur = nil
				} else {
					cur = cur[int(n):]
				}
			case "$limit":
				n, _ := models.AsFloat(spec)
				if int(n) < len(cur) {
					cur = cur[:int(n)]
				}
			case "$project":
				cur, err = stageProject(cur, spec)
			default:
				err = fmt.Errorf("unsupported stage %s", op)
			}
			if err != nil {
				return nil, fmt.Errorf("stage %d %s: %w", i, op, err)
			}
		}
	}
	return cur, nil
}

func stageMatch(docs []map[string]any, spec any) ([]map[string]any, error) {
	filter := asMap(spec)
	if filter == nil {
		return nil, fmt.Errorf("expected a document, got %T", spec)
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type group struct {
	key   any
	doc   map[string]any
	count map[string]int
}

func stageGroup(docs []map[string]any, spec any) ([]map[string]any, error) {
	g := asMap(spec)
	if g == nil {
		return nil, fmt.Errorf("expected a document, got %T", spec)
	}
	idExpr, ok := g["_id"]
	if !ok {
		return nil, fmt.Errorf("missing _id")
	}

	var groups []*group
	for _, d := range docs {
		key := normalizeValue(evalExpr(d, idExpr))
		var grp *group
		for _, existing := range groups {
			if models.ValuesEqual(existing.key, key) {
				grp = existing
				break
			}
		}
		if grp == nil {
			grp = &group{key: key, doc: map[string]any{"_id": key}, count: map[string]int{}}
			groups = append(groups, grp)
		}
		for field, acc := range g {
			if field == "_id" {
				continue
			}
			if err := accumulate(grp, field, acc, d); err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
		}
	}

	out := make([]map[string]any, 0, len(groups))
	for _, grp := range groups {
		out = append(out, grp.doc)
	}
	return out, nil
}

func accumulate(grp *group, field string, acc any, doc map[string]any) error {
	spec := asMap(acc)
	if len(spec) != 1 {
		return fmt.Errorf("expected a single accumulator")
	}
	for op, expr := range spec {
		v := normalizeValue(evalExpr(doc, expr))
		seen := grp.count[field]
		grp.count[field] = seen + 1
		switch op {
		case "$first":
			if seen == 0 {
				grp.doc[field] = v
			}
		case "$last":
			grp.doc[field] = v
		case "$sum":
			total, _ := models.AsFloat(grp.doc[field])
			if n, ok := models.AsFloat(v); ok {
				total += n
			}
			if total == float64(int64(total)) {
				grp.doc[field] = int64(total)
			} else {
				grp.doc[field] = total
			}
		case "$push":
			list, _ := grp.doc[field].([]any)
			grp.doc[field] = append(list, v)
		case "$max", "$min":
			if v == nil {
				continue
			}
			cur, has := grp.doc[field]
			if !has || cur == nil {
				grp.doc[field] = v
				continue
			}
			c := compareValues(v, cur)
			if (op == "$max" && c > 0) || (op == "$min" && c < 0) {
				grp.doc[field] = v
			}
		default:
			return fmt.Errorf("unsupported accumulator %s", op)
		}
	}
	return nil
}

// evalExpr evaluates an aggregation expression: "$path" field references,
// {"$concat": [...]} and literals.
func evalExpr(doc map[string]any, expr any) any {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			v, _ := lookup(doc, strings.TrimPrefix(e, "$"))
			return v
		}
		return e
	}
	if m := asMap(expr); m != nil {
		if parts, ok := m["$concat"]; ok && len(m) == 1 {
			var b strings.Builder
			for _, p := range asSlice(parts) {
				s, ok := evalExpr(doc, p).(string)
				if !ok {
					return nil
				}
				b.WriteString(s)
			}
			return b.String()
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = evalExpr(doc, v)
		}
		return out
	}
	return expr
}

func stageProject(docs []map[string]any, spec any) ([]map[string]any, error) {
	proj := asMap(spec)
	if proj == nil {
		return nil, fmt.Errorf("expected a document, got %T", spec)
	}
	keepID := true
	if v, ok := proj["_id"]; ok {
		if n, isNum := models.AsFloat(v); (isNum && n == 0) || v == false {
			keepID = false
		}
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		nd := map[string]any{}
		if keepID {
			if id, ok := d["_id"]; ok {
				nd["_id"] = id
			}
		}
		for k, v := range proj {
			if k == "_id" {
				continue
			}
			if n, isNum := models.AsFloat(v); (isNum && n != 0) || v == true {
				if val, ok := lookup(d, k); ok {
					nd[k] = val
				}
				continue
			}
			nd[k] = evalExpr(d, v)
		}
		out = append(out, nd)
	}
	return out, nil
}

func sortKeys(spec any) (bson.D, error) {
	switch s := spec.(type) {
	case bson.D:
		return s, nil
	}
	m := asMap(spec)
	if m == nil {
		return nil, fmt.Errorf("expected a sort document, got %T", spec)
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(bson.D, 0, len(names))
	for _, k := range names {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out, nil
}

func sortDocs(docs []map[string]any, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := lookup(docs[i], k.Key)
			b, _ := lookup(docs[j], k.Key)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			dir, _ := models.AsFloat(k.Value)
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
