package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// checkUpdate verifies that update consists of update operators only
func checkUpdate(update bson.M) error {
	if len(update) == 0 {
		return fmt.Errorf("update document must not be empty")
	}
	for op := range update {
		if !strings.HasPrefix(op, "$") {
			return fmt.Errorf("update document requires atomic operators, found %q", op)
		}
	}
	return nil
}

// checkReplacement verifies that a replacement contains no update operators
func checkReplacement(doc bson.M) error {
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			return fmt.Errorf("replacement document must not contain update operators, found %q", k)
		}
	}
	return nil
}

// sortedOps applies operators in a fixed order so results are deterministic
func sortedOps(update bson.M) []string {
	ops := make([]string, 0, len(update))
	for op := range update {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// applyUpdate applies the operators of update to doc in place.
// $setOnInsert is only applied if inserting is true.
func applyUpdate(doc bson.M, update bson.M, inserting bool) error {
	for _, op := range sortedOps(update) {
		fields, ok := update[op].(bson.M)
		if !ok {
			return fmt.Errorf("%s needs a document", op)
		}

		for _, path := range sortedKeys(fields) {
			arg := fields[path]
			if path == "_id" || strings.HasPrefix(path, "_id.") {
				if op != "$set" && op != "$setOnInsert" {
					return fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
				}
				if cur, ok := doc["_id"]; ok && !inserting && !valuesEqual(cur, arg) {
					return fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
				}
			}

			if err := applyOperator(doc, op, path, arg, inserting); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyOperator(doc bson.M, op, path string, arg any, inserting bool) error {
	cur, exists := getPath(doc, path)

	switch op {
	case "$set":
		return setPath(doc, path, deepCopy(arg))

	case "$setOnInsert":
		if inserting {
			return setPath(doc, path, deepCopy(arg))
		}
		return nil

	case "$unset":
		unsetPath(doc, path)
		return nil

	case "$inc", "$mul":
		if !isNumber(arg) {
			return fmt.Errorf("cannot %s with non-numeric argument %v", op, arg)
		}
		if !exists {
			if op == "$mul" {
				zero, _ := multiply(arg, int32(0))
				return setPath(doc, path, zero)
			}
			return setPath(doc, path, arg)
		}
		if !isNumber(cur) {
			return fmt.Errorf("cannot apply %s to non-numeric field %s", op, path)
		}
		var (
			res any
			err error
		)
		if op == "$inc" {
			res, err = add(cur, arg)
		} else {
			res, err = multiply(cur, arg)
		}
		if err != nil {
			return err
		}
		return setPath(doc, path, res)

	case "$min", "$max":
		if !exists {
			return setPath(doc, path, deepCopy(arg))
		}
		c := compareValues(arg, cur)
		if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			return setPath(doc, path, deepCopy(arg))
		}
		return nil

	case "$currentDate":
		return setPath(doc, path, primitive.NewDateTimeFromTime(time.Now()))

	case "$rename":
		target, ok := arg.(string)
		if !ok || target == "" {
			return fmt.Errorf("$rename target must be a non-empty string")
		}
		if target == "_id" || strings.HasPrefix(target, "_id.") {
			return fmt.Errorf("performing an update on the path '_id' would modify the immutable field '_id'")
		}
		if !exists {
			return nil
		}
		unsetPath(doc, path)
		return setPath(doc, target, cur)

	case "$push", "$addToSet":
		items := bson.A{arg}
		if m, ok := arg.(bson.M); ok {
			if each, ok := m["$each"]; ok {
				arr, ok := each.(bson.A)
				if !ok {
					return fmt.Errorf("$each needs an array")
				}
				items = arr
			}
		}

		var arr bson.A
		if exists && !isNull(cur) {
			a, ok := cur.(bson.A)
			if !ok {
				return fmt.Errorf("cannot apply %s to non-array field %s", op, path)
			}
			arr = append(bson.A{}, a...)
		} else {
			arr = bson.A{}
		}

		for _, item := range items {
			if op == "$addToSet" && contains(arr, item) {
				continue
			}
			arr = append(arr, deepCopy(item))
		}
		return setPath(doc, path, arr)

	case "$pull":
		if !exists {
			return nil
		}
		a, ok := cur.(bson.A)
		if !ok {
			return fmt.Errorf("cannot apply $pull to non-array field %s", path)
		}
		kept := bson.A{}
		for _, el := range a {
			hit, err := pullMatches(el, arg)
			if err != nil {
				return err
			}
			if !hit {
				kept = append(kept, el)
			}
		}
		return setPath(doc, path, kept)

	case "$pop":
		if !exists {
			return nil
		}
		a, ok := cur.(bson.A)
		if !ok {
			return fmt.Errorf("cannot apply $pop to non-array field %s", path)
		}
		if len(a) == 0 {
			return nil
		}
		if n, _ := toInt(arg); n < 0 {
			return setPath(doc, path, append(bson.A{}, a[1:]...))
		}
		return setPath(doc, path, append(bson.A{}, a[:len(a)-1]...))
	}

	return fmt.Errorf("%w: update operator %s", db.ErrUnsupported, op)
}

func contains(arr bson.A, v any) bool {
	for _, el := range arr {
		if valuesEqual(el, v) {
			return true
		}
	}
	return false
}

// pullMatches reports whether an array element is removed by a $pull condition
func pullMatches(el any, cond any) (bool, error) {
	if _, ok := isOperatorDoc(cond); ok {
		return matchCondition([]any{el}, cond)
	}
	if sub, ok := cond.(bson.M); ok {
		if m, isDoc := el.(bson.M); isDoc {
			return matches(m, sub)
		}
		return false, nil
	}
	return valuesEqual(el, cond), nil
}

// upsertSeed builds the document an upsert starts from: the equality
// conditions of filter.
func upsertSeed(filter bson.M) (bson.M, error) {
	seed := bson.M{}
	if err := seedFrom(seed, filter); err != nil {
		return nil, err
	}
	return seed, nil
}

func seedFrom(seed bson.M, filter bson.M) error {
	for _, key := range sortedKeys(filter) {
		cond := filter[key]

		if key == "$and" {
			clauses, _ := cond.(bson.A)
			for _, c := range clauses {
				if sub, ok := c.(bson.M); ok {
					if err := seedFrom(seed, sub); err != nil {
						return err
					}
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			continue
		}

		if ops, ok := isOperatorDoc(cond); ok {
			if eq, ok := ops["$eq"]; ok {
				if err := setPath(seed, key, deepCopy(eq)); err != nil {
					return err
				}
			}
			continue
		}
		if _, isRegex := cond.(primitive.Regex); isRegex {
			continue
		}
		if err := setPath(seed, key, deepCopy(cond)); err != nil {
			return err
		}
	}
	return nil
}
