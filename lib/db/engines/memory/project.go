package memory

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
)

// --------------------------------------------------------------------------
// Projection
// --------------------------------------------------------------------------

// projection is a parsed find projection
type projection struct {
	include   bool // inclusion mode, else exclusion mode
	paths     []string
	excludeID bool
}

// parseProjection validates spec. Inclusion and exclusion must not be mixed,
// except for _id.
func parseProjection(spec bson.M) (*projection, error) {
	if len(spec) == 0 {
		return nil, nil
	}

	p := &projection{}
	modeSet := false
	for _, path := range sortedKeys(spec) {
		on, err := projectionFlag(spec[path])
		if err != nil {
			return nil, fmt.Errorf("projection of %s: %w", path, err)
		}

		if path == "_id" {
			p.excludeID = !on
			continue
		}
		if modeSet && p.include != on {
			return nil, fmt.Errorf("cannot mix inclusion and exclusion in a projection (field %s)", path)
		}
		p.include, modeSet = on, true
		p.paths = append(p.paths, path)
	}

	// only {_id: 1} or {_id: 0}
	if !modeSet {
		p.include = !p.excludeID
	}
	return p, nil
}

func projectionFlag(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int32, int64, float64, int:
		f, _ := toFloat(t)
		return f != 0, nil
	}
	return false, fmt.Errorf("%w: projection expression %v", db.ErrUnsupported, v)
}

func (p *projection) apply(doc bson.M) bson.M {
	if p == nil {
		return doc
	}

	var out bson.M
	if p.include {
		out = bson.M{}
		for _, path := range p.paths {
			includePath(out, doc, splitPath(path))
		}
		if id, ok := doc["_id"]; ok && !p.excludeID {
			out["_id"] = id
		}
		return out
	}

	out = copyDoc(doc)
	for _, path := range p.paths {
		excludePath(out, splitPath(path))
	}
	if p.excludeID {
		delete(out, "_id")
	}
	return out
}

// includePath copies the value at parts from src to dst. Arrays of
// documents are projected element wise.
func includePath(dst, src bson.M, parts []string) {
	v, ok := src[parts[0]]
	if !ok {
		return
	}
	if len(parts) == 1 {
		dst[parts[0]] = deepCopy(v)
		return
	}

	switch t := v.(type) {
	case bson.M:
		sub, _ := dst[parts[0]].(bson.M)
		if sub == nil {
			sub = bson.M{}
		}
		includePath(sub, t, parts[1:])
		dst[parts[0]] = sub
	case bson.A:
		existing, _ := dst[parts[0]].(bson.A)
		out := bson.A{}
		i := 0
		for _, el := range t {
			m, isDoc := el.(bson.M)
			if !isDoc {
				continue
			}
			var sub bson.M
			if i < len(existing) {
				sub, _ = existing[i].(bson.M)
			}
			if sub == nil {
				sub = bson.M{}
			}
			includePath(sub, m, parts[1:])
			out = append(out, sub)
			i++
		}
		dst[parts[0]] = out
	}
}

func excludePath(doc bson.M, parts []string) {
	if len(parts) == 1 {
		delete(doc, parts[0])
		return
	}
	switch t := doc[parts[0]].(type) {
	case bson.M:
		excludePath(t, parts[1:])
	case bson.A:
		for _, el := range t {
			if m, ok := el.(bson.M); ok {
				excludePath(m, parts[1:])
			}
		}
	}
}

// --------------------------------------------------------------------------
// Sorting
// --------------------------------------------------------------------------

type sortKey struct {
	path []string
	desc bool
}

func parseSort(spec bson.D) ([]sortKey, error) {
	keys := make([]sortKey, 0, len(spec))
	for _, e := range spec {
		dir, ok := toInt(e.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("sort direction of %s must be 1 or -1, got %v", e.Key, e.Value)
		}
		keys = append(keys, sortKey{path: splitPath(e.Key), desc: dir == -1})
	}
	return keys, nil
}

// sortValue picks the value a document sorts by: the smallest array
// element ascending, the largest descending, null if missing.
func sortValue(doc bson.M, key sortKey) any {
	values := lookup(doc, key.path)
	if len(values) == 0 {
		return nil
	}

	var candidates []any
	for _, v := range values {
		if arr, ok := v.(bson.A); ok && len(arr) > 0 {
			candidates = append(candidates, arr...)
		} else {
			candidates = append(candidates, v)
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		cmp := compareValues(c, best)
		if (key.desc && cmp > 0) || (!key.desc && cmp < 0) {
			best = c
		}
	}
	return best
}

// sortDocs sorts docs stably, equal documents keep their natural order
func sortDocs(docs []bson.M, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(sortValue(docs[i], k), sortValue(docs[j], k))
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// window applies skip and limit (0 = unlimited)
func window[T any](items []T, skip, limit *int64) []T {
	if skip != nil && *skip > 0 {
		if *skip >= int64(len(items)) {
			return items[:0]
		}
		items = items[*skip:]
	}
	if limit != nil && *limit > 0 && *limit < int64(len(items)) {
		items = items[:*limit]
	}
	return items
}
