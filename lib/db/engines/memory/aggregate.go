package memory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
)

// aggregate runs pipeline over docs. docs are not modified.
func aggregate(docs []bson.M, pipeline []bson.M) ([]bson.M, error) {
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("pipeline stage %d must have exactly one field", i)
		}

		for name, spec := range stage {
			var err error
			docs, err = runStage(docs, name, spec)
			if err != nil {
				return nil, fmt.Errorf("stage %d (%s): %w", i, name, err)
			}
		}
	}
	return docs, nil
}

func runStage(docs []bson.M, name string, raw any) ([]bson.M, error) {
	// $sort keeps the raw value, normalizing would lose the key order of a bson.D
	if name == "$sort" {
		return stageSort(docs, raw)
	}

	spec, err := toValue(raw)
	if err != nil {
		return nil, err
	}

	switch name {
	case "$match":
		filter, ok := spec.(bson.M)
		if !ok {
			return nil, fmt.Errorf("$match needs a document")
		}
		out := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			hit, err := matches(d, filter)
			if err != nil {
				return nil, err
			}
			if hit {
				out = append(out, d)
			}
		}
		return out, nil

	case "$project":
		fields, ok := spec.(bson.M)
		if !ok {
			return nil, fmt.Errorf("$project needs a document")
		}
		return stageProject(docs, fields)

	case "$addFields", "$set":
		fields, ok := spec.(bson.M)
		if !ok {
			return nil, fmt.Errorf("%s needs a document", name)
		}
		out := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			nd := copyDoc(d)
			for _, path := range sortedKeys(fields) {
				v, err := eval(fields[path], d)
				if err != nil {
					return nil, err
				}
				if err := setPath(nd, path, v); err != nil {
					return nil, err
				}
			}
			out = append(out, nd)
		}
		return out, nil

	case "$unset":
		var paths []string
		switch t := spec.(type) {
		case string:
			paths = []string{t}
		case bson.A:
			for _, p := range t {
				s, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("$unset needs field names")
				}
				paths = append(paths, s)
			}
		default:
			return nil, fmt.Errorf("$unset needs a field name or an array of names")
		}
		out := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			nd := copyDoc(d)
			for _, p := range paths {
				excludePath(nd, splitPath(p))
			}
			out = append(out, nd)
		}
		return out, nil

	case "$group":
		g, ok := spec.(bson.M)
		if !ok {
			return nil, fmt.Errorf("$group needs a document")
		}
		return stageGroup(docs, g)

	case "$skip", "$limit":
		n, ok := toInt(spec)
		if !ok || n < 0 || (name == "$limit" && n == 0) {
			return nil, fmt.Errorf("%s needs a positive number", name)
		}
		if name == "$skip" {
			return window(docs, &n, nil), nil
		}
		return window(docs, nil, &n), nil

	case "$count":
		field, ok := spec.(string)
		if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
			return nil, fmt.Errorf("$count needs a plain field name")
		}
		if len(docs) == 0 {
			return []bson.M{}, nil
		}
		return []bson.M{{field: fromInt(int64(len(docs)), 0)}}, nil

	case "$unwind":
		return stageUnwind(docs, spec)
	}

	return nil, fmt.Errorf("%w: pipeline stage %s", db.ErrUnsupported, name)
}

func stageSort(docs []bson.M, raw any) ([]bson.M, error) {
	var spec bson.D
	switch t := raw.(type) {
	case bson.D:
		spec = t
	case bson.M:
		// a map has no order, fall back to the key order
		for _, k := range sortedKeys(t) {
			spec = append(spec, bson.E{Key: k, Value: t[k]})
		}
	default:
		return nil, fmt.Errorf("$sort needs a document")
	}

	keys, err := parseSort(spec)
	if err != nil {
		return nil, err
	}
	out := append([]bson.M(nil), docs...)
	sortDocs(out, keys)
	return out, nil
}

func stageProject(docs []bson.M, fields bson.M) ([]bson.M, error) {
	// plain 0/1 projections behave like find projections
	plain := true
	for _, v := range fields {
		if _, err := projectionFlag(v); err != nil {
			plain = false
			break
		}
	}
	if plain {
		p, err := parseProjection(fields)
		if err != nil {
			return nil, err
		}
		out := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			out = append(out, p.apply(d))
		}
		return out, nil
	}

	// computed fields imply inclusion mode
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		nd := bson.M{}
		if id, ok := d["_id"]; ok {
			nd["_id"] = id
		}
		for _, path := range sortedKeys(fields) {
			spec := fields[path]
			if on, err := projectionFlag(spec); err == nil {
				if path == "_id" && !on {
					delete(nd, "_id")
				} else if on {
					includePath(nd, d, splitPath(path))
				} else {
					return nil, fmt.Errorf("cannot exclude %s in a projection with computed fields", path)
				}
				continue
			}
			v, err := eval(spec, d)
			if err != nil {
				return nil, err
			}
			if err := setPath(nd, path, v); err != nil {
				return nil, err
			}
		}
		out = append(out, nd)
	}
	return out, nil
}

func stageUnwind(docs []bson.M, spec any) ([]bson.M, error) {
	var (
		path          string
		preserveEmpty bool
		indexField    string
	)
	switch t := spec.(type) {
	case string:
		path = t
	case bson.M:
		path, _ = t["path"].(string)
		preserveEmpty, _ = t["preserveNullAndEmptyArrays"].(bool)
		indexField, _ = t["includeArrayIndex"].(string)
	}
	if !strings.HasPrefix(path, "$") || len(path) < 2 {
		return nil, fmt.Errorf("$unwind needs a field path starting with $")
	}
	path = path[1:]

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		v, ok := getPath(d, path)
		arr, isArr := v.(bson.A)

		switch {
		case isArr && len(arr) > 0:
			for i, el := range arr {
				nd := copyDoc(d)
				_ = setPath(nd, path, deepCopy(el))
				if indexField != "" {
					nd[indexField] = int64(i)
				}
				out = append(out, nd)
			}
		case ok && !isArr && !isNull(v):
			nd := copyDoc(d)
			if indexField != "" {
				nd[indexField] = nil
			}
			out = append(out, nd)
		case preserveEmpty:
			nd := copyDoc(d)
			if isArr {
				unsetPath(nd, path)
			}
			if indexField != "" {
				nd[indexField] = nil
			}
			out = append(out, nd)
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// $group
// --------------------------------------------------------------------------

type group struct {
	id   any
	docs []bson.M
}

func stageGroup(docs []bson.M, spec bson.M) ([]bson.M, error) {
	idExpr, ok := spec["_id"]
	if !ok {
		return nil, fmt.Errorf("$group needs an _id")
	}

	var groups []*group
	for _, d := range docs {
		id, err := eval(idExpr, d)
		if err != nil {
			return nil, err
		}
		var g *group
		for _, existing := range groups {
			if valuesEqual(existing.id, id) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{id: id}
			groups = append(groups, g)
		}
		g.docs = append(g.docs, d)
	}

	out := make([]bson.M, 0, len(groups))
	for _, g := range groups {
		row := bson.M{"_id": g.id}
		for _, name := range sortedKeys(spec) {
			if name == "_id" {
				continue
			}
			acc, ok := spec[name].(bson.M)
			if !ok || len(acc) != 1 {
				return nil, fmt.Errorf("field %s must be an accumulator document", name)
			}
			for op, expr := range acc {
				v, err := accumulate(op, expr, g.docs)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				row[name] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func accumulate(op string, expr any, docs []bson.M) (any, error) {
	if op == "$count" {
		return fromInt(int64(len(docs)), 0), nil
	}

	values := make([]any, 0, len(docs))
	present := make([]bool, 0, len(docs))
	for _, d := range docs {
		v, err := eval(expr, d)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		present = append(present, v != nil || !isMissingPath(expr, d))
	}

	switch op {
	case "$sum":
		var sum any = int32(0)
		for _, v := range values {
			if !isNumber(v) {
				continue
			}
			var err error
			if sum, err = add(sum, v); err != nil {
				return nil, err
			}
		}
		return sum, nil

	case "$avg":
		var (
			total float64
			n     int
		)
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				total += f
				n++
			}
		}
		if n == 0 {
			return nil, nil
		}
		return total / float64(n), nil

	case "$min", "$max":
		var best any
		for _, v := range values {
			if isNull(v) {
				continue
			}
			c := 0
			if best != nil {
				c = compareValues(v, best)
			}
			if best == nil || (op == "$min" && c < 0) || (op == "$max" && c > 0) {
				best = v
			}
		}
		return best, nil

	case "$first":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil

	case "$last":
		if len(values) == 0 {
			return nil, nil
		}
		return values[len(values)-1], nil

	case "$push", "$addToSet":
		out := bson.A{}
		for i, v := range values {
			if !present[i] {
				continue
			}
			if op == "$addToSet" && contains(out, v) {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: accumulator %s", db.ErrUnsupported, op)
}

// isMissingPath reports whether expr is a field path that does not exist in doc
func isMissingPath(expr any, doc bson.M) bool {
	s, ok := expr.(string)
	if !ok || !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "$$") {
		return false
	}
	_, found := field(doc, splitPath(s[1:]))
	return !found
}

// --------------------------------------------------------------------------
// Expressions
// --------------------------------------------------------------------------

// eval evaluates an aggregation expression against doc.
// Missing fields evaluate to nil.
func eval(expr any, doc bson.M) (any, error) {
	switch t := expr.(type) {
	case string:
		switch {
		case t == "$$ROOT" || t == "$$CURRENT":
			return copyDoc(doc), nil
		case strings.HasPrefix(t, "$$"):
			return nil, fmt.Errorf("%w: variable %s", db.ErrUnsupported, t)
		case strings.HasPrefix(t, "$"):
			v, _ := field(doc, splitPath(t[1:]))
			return deepCopy(v), nil
		}
		return t, nil

	case bson.A:
		out := make(bson.A, 0, len(t))
		for _, e := range t {
			v, err := eval(e, doc)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case bson.M:
		if len(t) == 1 {
			for op, arg := range t {
				if strings.HasPrefix(op, "$") {
					return evalOperator(op, arg, doc)
				}
			}
		}
		out := bson.M{}
		for k, e := range t {
			v, err := eval(e, doc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return expr, nil
}

// evalArgs evaluates operator arguments, a single argument may be given without array
func evalArgs(arg any, doc bson.M) ([]any, error) {
	list, ok := arg.(bson.A)
	if !ok {
		list = bson.A{arg}
	}
	out := make([]any, 0, len(list))
	for _, e := range list {
		v, err := eval(e, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func evalOperator(op string, arg any, doc bson.M) (any, error) {
	if op == "$literal" {
		return arg, nil
	}

	args, err := evalArgs(arg, doc)
	if err != nil {
		return nil, err
	}

	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", op, n, len(args))
		}
		return nil
	}

	switch op {
	case "$strLenCP":
		if err := need(1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("$strLenCP requires a string argument, found %T", args[0])
		}
		return int32(utf8.RuneCountInString(s)), nil

	case "$concat":
		var b strings.Builder
		for _, a := range args {
			if isNull(a) {
				return nil, nil
			}
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("$concat only supports strings, found %T", a)
			}
			b.WriteString(s)
		}
		return b.String(), nil

	case "$toLower", "$toUpper":
		if err := need(1); err != nil {
			return nil, err
		}
		if isNull(args[0]) {
			return "", nil
		}
		s := fmt.Sprint(args[0])
		if op == "$toLower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil

	case "$add", "$multiply":
		var acc any = int32(0)
		if op == "$multiply" {
			acc = int32(1)
		}
		for _, a := range args {
			if isNull(a) {
				return nil, nil
			}
			var err error
			if op == "$add" {
				acc, err = add(acc, a)
			} else {
				acc, err = multiply(acc, a)
			}
			if err != nil {
				return nil, err
			}
		}
		return acc, nil

	case "$subtract":
		if err := need(2); err != nil {
			return nil, err
		}
		if isNull(args[0]) || isNull(args[1]) {
			return nil, nil
		}
		neg, err := multiply(args[1], int32(-1))
		if err != nil {
			return nil, err
		}
		return add(args[0], neg)

	case "$divide":
		if err := need(2); err != nil {
			return nil, err
		}
		if isNull(args[0]) || isNull(args[1]) {
			return nil, nil
		}
		x, ok1 := toFloat(args[0])
		y, ok2 := toFloat(args[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("$divide only supports numeric types")
		}
		if y == 0 {
			return nil, fmt.Errorf("can't $divide by zero")
		}
		return x / y, nil

	case "$size":
		if err := need(1); err != nil {
			return nil, err
		}
		arr, ok := args[0].(bson.A)
		if !ok {
			return nil, fmt.Errorf("the argument to $size must be an array, found %T", args[0])
		}
		return int32(len(arr)), nil

	case "$ifNull":
		if len(args) < 2 {
			return nil, fmt.Errorf("$ifNull needs at least two arguments")
		}
		for _, a := range args[:len(args)-1] {
			if !isNull(a) {
				return a, nil
			}
		}
		return args[len(args)-1], nil
	}

	return nil, fmt.Errorf("%w: expression operator %s", db.ErrUnsupported, op)
}
