package memory

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// lookup returns every value reachable by path. Arrays on the way are
// traversed element wise and numeric parts index into arrays. A missing
// field yields no values, an explicit null yields nil.
func lookup(v any, parts []string) []any {
	if len(parts) == 0 {
		return []any{v}
	}

	switch t := v.(type) {
	case bson.M:
		child, ok := t[parts[0]]
		if !ok {
			return nil
		}
		return lookup(child, parts[1:])
	case bson.A:
		var out []any
		if idx, err := strconv.Atoi(parts[0]); err == nil && idx >= 0 && idx < len(t) {
			out = append(out, lookup(t[idx], parts[1:])...)
		}
		for _, el := range t {
			if m, ok := el.(bson.M); ok {
				out = append(out, lookup(m, parts)...)
			}
		}
		return out
	}
	return nil
}

// field returns the value at path the way aggregation expressions see it:
// arrays of documents map to arrays of the nested values.
func field(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}

	switch t := v.(type) {
	case bson.M:
		child, ok := t[parts[0]]
		if !ok {
			return nil, false
		}
		return field(child, parts[1:])
	case bson.A:
		out := bson.A{}
		for _, el := range t {
			if m, ok := el.(bson.M); ok {
				if val, ok := field(m, parts); ok {
					out = append(out, val)
				}
			}
		}
		return out, true
	}
	return nil, false
}

// expand adds the elements of array values to values
func expand(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
		if arr, ok := v.(bson.A); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// setPath sets path in doc, creating intermediate documents
func setPath(doc bson.M, path string, value any) error {
	parts := splitPath(path)
	var cur any = doc
	for i, part := range parts {
		last := i == len(parts)-1

		switch t := cur.(type) {
		case bson.M:
			if last {
				t[part] = value
				return nil
			}
			next, ok := t[part]
			if !ok || isNull(next) {
				next = bson.M{}
				t[part] = next
			}
			cur = next
		case bson.A:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 {
				return fmt.Errorf("cannot create field %q in array at %q", part, path)
			}
			for len(t) <= idx {
				t = append(t, nil)
			}
			// the grown array has to be written back to its parent
			if err := setPath(doc, strings.Join(parts[:i], "."), t); err != nil {
				return err
			}
			if last {
				t[idx] = value
				return nil
			}
			if t[idx] == nil {
				t[idx] = bson.M{}
			}
			cur = t[idx]
		default:
			return fmt.Errorf("cannot create field %q in %T at %q", part, cur, path)
		}
	}
	return nil
}

// getPath returns the value at path without array traversal
func getPath(doc bson.M, path string) (any, bool) {
	parts := splitPath(path)
	var cur any = doc
	for _, part := range parts {
		switch t := cur.(type) {
		case bson.M:
			next, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = next
		case bson.A:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// unsetPath removes path from doc. Array elements are set to null.
func unsetPath(doc bson.M, path string) {
	parts := splitPath(path)
	parent := doc
	if len(parts) > 1 {
		p, ok := getPath(doc, strings.Join(parts[:len(parts)-1], "."))
		if !ok {
			return
		}
		switch t := p.(type) {
		case bson.M:
			parent = t
		case bson.A:
			if idx, err := strconv.Atoi(parts[len(parts)-1]); err == nil && idx >= 0 && idx < len(t) {
				t[idx] = nil
			}
			return
		default:
			return
		}
	}
	delete(parent, parts[len(parts)-1])
}
