package memory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches evaluates a query filter against doc
func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)

		switch key {
		case "$and", "$or", "$nor":
			ok, err = matchLogical(doc, key, cond)
		case "$comment":
			ok = true
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("%w: query operator %s", db.ErrUnsupported, key)
			}
			ok, err = matchCondition(lookup(doc, splitPath(key)), cond)
		}

		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc bson.M, op string, cond any) (bool, error) {
	clauses, ok := cond.(bson.A)
	if !ok || len(clauses) == 0 {
		return false, fmt.Errorf("%s needs a non-empty array", op)
	}

	for _, c := range clauses {
		sub, ok := c.(bson.M)
		if !ok {
			return false, fmt.Errorf("%s entries must be documents", op)
		}
		hit, err := matches(doc, sub)
		if err != nil {
			return false, err
		}

		switch {
		case op == "$and" && !hit:
			return false, nil
		case op == "$or" && hit:
			return true, nil
		case op == "$nor" && hit:
			return false, nil
		}
	}
	return op != "$or", nil
}

// isOperatorDoc reports whether cond is a document of query operators
func isOperatorDoc(cond any) (bson.M, bool) {
	m, ok := cond.(bson.M)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// matchCondition checks the values found at a path against a condition
func matchCondition(values []any, cond any) (bool, error) {
	if re, ok := cond.(primitive.Regex); ok {
		return matchRegex(values, re.Pattern, re.Options)
	}

	ops, ok := isOperatorDoc(cond)
	if !ok {
		return matchEq(values, cond), nil
	}

	for op, arg := range ops {
		hit, err := matchOperator(values, op, arg, ops)
		if err != nil || !hit {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(values []any, op string, arg any, siblings bson.M) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(values, arg), nil
	case "$ne":
		return !matchEq(values, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		return matchCompare(values, op, arg), nil
	case "$in", "$nin":
		list, ok := arg.(bson.A)
		if !ok {
			return false, fmt.Errorf("%s needs an array", op)
		}
		hit := false
		for _, want := range list {
			if re, ok := want.(primitive.Regex); ok {
				hit, _ = matchRegex(values, re.Pattern, re.Options)
			} else {
				hit = matchEq(values, want)
			}
			if hit {
				break
			}
		}
		return hit == (op == "$in"), nil
	case "$all":
		list, ok := arg.(bson.A)
		if !ok {
			return false, fmt.Errorf("$all needs an array")
		}
		for _, want := range list {
			if !matchEq(values, want) {
				return false, nil
			}
		}
		return len(list) > 0, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			n, isNum := toFloat(arg)
			want, ok = n != 0, isNum
		}
		if !ok {
			return false, fmt.Errorf("$exists needs a boolean")
		}
		return (len(values) > 0) == want, nil
	case "$regex":
		opts, _ := siblings["$options"].(string)
		switch p := arg.(type) {
		case string:
			return matchRegex(values, p, opts)
		case primitive.Regex:
			if opts == "" {
				opts = p.Options
			}
			return matchRegex(values, p.Pattern, opts)
		}
		return false, fmt.Errorf("$regex needs a string")
	case "$options":
		if _, ok := siblings["$regex"]; !ok {
			return false, fmt.Errorf("$options needs a $regex")
		}
		return true, nil
	case "$size":
		n, ok := toInt(arg)
		if !ok {
			return false, fmt.Errorf("$size needs a number")
		}
		for _, v := range values {
			if arr, ok := v.(bson.A); ok && int64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	case "$elemMatch":
		sub, ok := arg.(bson.M)
		if !ok {
			return false, fmt.Errorf("$elemMatch needs a document")
		}
		return matchElem(values, sub)
	case "$not":
		switch arg.(type) {
		case bson.M, primitive.Regex:
			hit, err := matchCondition(values, arg)
			return !hit, err
		}
		return false, fmt.Errorf("$not needs a document or a regex")
	}
	return false, fmt.Errorf("%w: query operator %s", db.ErrUnsupported, op)
}

// matchEq implements equality including array membership. A null condition
// also matches missing fields.
func matchEq(values []any, want any) bool {
	if isNull(want) && len(values) == 0 {
		return true
	}
	for _, v := range expand(values) {
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

// matchCompare only compares values of the same type class
func matchCompare(values []any, op string, arg any) bool {
	for _, v := range expand(values) {
		if typeRank(v) != typeRank(arg) {
			continue
		}
		c := compareValues(v, arg)
		switch {
		case op == "$gt" && c > 0,
			op == "$gte" && c >= 0,
			op == "$lt" && c < 0,
			op == "$lte" && c <= 0:
			return true
		}
	}
	return false
}

func matchRegex(values []any, pattern, options string) (bool, error) {
	re, err := compileRegex(pattern, options)
	if err != nil {
		return false, err
	}
	for _, v := range expand(values) {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return true, nil
		}
	}
	return false, nil
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'x', 'u':
		default:
			return nil, fmt.Errorf("invalid regex option %q", o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

func matchElem(values []any, sub bson.M) (bool, error) {
	_, operatorOnly := isOperatorDoc(sub)
	for _, v := range values {
		arr, ok := v.(bson.A)
		if !ok {
			continue
		}
		for _, el := range arr {
			var (
				hit bool
				err error
			)
			if m, isDoc := el.(bson.M); isDoc && !operatorOnly {
				hit, err = matches(m, sub)
			} else {
				hit, err = matchCondition([]any{el}, sub)
			}
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
	}
	return false, nil
}
