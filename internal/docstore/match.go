package docstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/atinyakov/ozon/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Match evaluates a MongoDB-style filter against doc. It supports the
// logical operators $and, $or, $nor and the field operators $eq, $ne, $gt,
// $gte, $lt, $lte, $in, $nin, $exists and $regex (with $options).
func Match(doc map[string]any, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		ok, err := matchTerm(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchTerm(doc map[string]any, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, err := subFilters(key, cond)
		if err != nil {
			return false, err
		}
		return matchLogical(doc, key, subs)
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("unsupported top-level operator %s", key)
	}

	value, present := lookup(doc, key)
	if ops, ok := operatorDoc(cond); ok {
		for op, arg := range ops {
			ok, err := matchOperator(value, present, op, arg, ops)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return equals(value, present, cond), nil
}

func matchLogical(doc map[string]any, op string, subs []map[string]any) (bool, error) {
	for _, sub := range subs {
		ok, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !ok:
			return false, nil
		case op == "$or" && ok:
			return true, nil
		case op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or" || len(subs) == 0, nil
}

func subFilters(op string, v any) ([]map[string]any, error) {
	var items []any
	switch t := v.(type) {
	case []bson.M:
		for _, m := range t {
			items = append(items, m)
		}
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	case bson.A:
		items = t
	case []any:
		items = t
	default:
		return nil, fmt.Errorf("%s expects an array, got %T", op, v)
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m := asMap(it)
		if m == nil {
			return nil, fmt.Errorf("%s expects documents, got %T", op, it)
		}
		out = append(out, m)
	}
	return out, nil
}

// operatorDoc reports whether cond is a document made only of $-operators.
func operatorDoc(cond any) (map[string]any, bool) {
	m := asMap(cond)
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperator(value any, present bool, op string, arg any, all map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return equals(value, present, arg), nil
	case "$ne":
		return !equals(value, present, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		return anyElement(value, func(v any) bool {
			c, ok := compareSameClass(v, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				return c > 0
			case "$gte":
				return c >= 0
			case "$lt":
				return c < 0
			default:
				return c <= 0
			}
		}), nil
	case "$in", "$nin":
		list := asSlice(arg)
		if list == nil {
			return false, fmt.Errorf("%s expects an array, got %T", op, arg)
		}
		found := false
		for _, candidate := range list {
			if equals(value, present, candidate) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$exists":
		want, _ := arg.(bool)
		return present == want, nil
	case "$regex":
		pattern, ok := regexSource(arg)
		if !ok {
			return false, fmt.Errorf("$regex expects a string, got %T", arg)
		}
		if opts, ok := all["$options"].(string); ok && strings.Contains(opts, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("$regex: %w", err)
		}
		return present && anyElement(value, func(v any) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		}), nil
	case "$options":
		return true, nil
	}
	return false, fmt.Errorf("unsupported operator %s", op)
}

func regexSource(arg any) (string, bool) {
	switch r := arg.(type) {
	case string:
		return r, true
	case primitive.Regex:
		if strings.Contains(r.Options, "i") {
			return "(?i)" + r.Pattern, true
		}
		return r.Pattern, true
	}
	return "", false
}

// equals implements MongoDB equality: a missing field equals null, and an
// array field matches when any element (or the whole array) equals want.
func equals(value any, present bool, want any) bool {
	if !present {
		return want == nil
	}
	if models.ValuesEqual(value, want) {
		return true
	}
	if list := asSlice(value); list != nil {
		for _, el := range list {
			if models.ValuesEqual(el, want) {
				return true
			}
		}
	}
	return false
}

func anyElement(value any, pred func(any) bool) bool {
	if list := asSlice(value); list != nil {
		for _, el := range list {
			if pred(el) {
				return true
			}
		}
		return false
	}
	return pred(value)
}

// lookup resolves a dotted path in doc.
func lookup(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m := asMap(cur)
		if m == nil {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case bson.M:
		return m
	case models.Record:
		return m
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

func asSlice(v any) []any {
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
	case []int64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}

// typeRank follows the BSON comparison order.
func typeRank(v any) int {
	if v == nil {
		return 1
	}
	if _, ok := models.AsFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case string:
		return 3
	case map[string]any, bson.M, models.Record, bson.D:
		return 4
	case []any, bson.A, []string:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	}
	return 10
}

// compareSameClass compares a and b only when they share a BSON type class,
// which is how range operators behave.
func compareSameClass(a, b any) (int, bool) {
	if typeRank(a) != typeRank(b) {
		return 0, false
	}
	return compareValues(a, b), true
}

// compareValues orders any two values using the BSON comparison order.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 2:
		if models.IsInteger(a) && models.IsInteger(b) {
			ia, _ := models.AsInt(a)
			ib, _ := models.AsInt(b)
			return cmpInt(ia, ib)
		}
		fa, _ := models.AsFloat(a)
		fb, _ := models.AsFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(oa.Hex(), ob.Hex())
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		ta, _ := toTime(a)
		tb, _ := toTime(b)
		return ta.Compare(tb)
	case 4:
		return compareMaps(asMap(a), asMap(b))
	case 5:
		sa, sb := asSlice(a), asSlice(b)
		for i := 0; i < len(sa) && i < len(sb); i++ {
			if c := compareValues(sa[i], sb[i]); c != 0 {
				return c
			}
		}
		return len(sa) - len(sb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareMaps(a, b map[string]any) int {
	keys := func(m map[string]any) []string {
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	ka, kb := keys(a), keys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := strings.Compare(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := compareValues(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return len(ka) - len(kb)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
