package memory

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --------------------------------------------------------------------------
// Normalization
// --------------------------------------------------------------------------

// toDoc converts any document shaped value (bson.M, bson.D, map, struct) to
// the canonical form used internally: bson.M for documents, bson.A for
// arrays, int32/int64/float64 for numbers.
func toDoc(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("not a document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// toValue normalizes a single value the way toDoc normalizes fields
func toValue(v any) (any, error) {
	doc, err := toDoc(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	return doc["v"], nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(bson.M, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case primitive.Binary:
		return primitive.Binary{Subtype: t.Subtype, Data: append([]byte(nil), t.Data...)}
	default:
		return v
	}
}

func copyDoc(doc bson.M) bson.M {
	return deepCopy(doc).(bson.M)
}

// --------------------------------------------------------------------------
// Numbers
// --------------------------------------------------------------------------

func isNumber(v any) bool {
	switch v.(type) {
	case int32, int64, float64, int:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// numKind orders the numeric types by width, the result of arithmetic has
// the widest kind of its operands
func numKind(v any) int {
	switch v.(type) {
	case int32, int:
		return 0
	case int64:
		return 1
	default:
		return 2
	}
}

// fromInt returns n as int32 when kind allows it and it fits, else int64
func fromInt(n int64, kind int) any {
	if kind == 0 && n >= math.MinInt32 && n <= math.MaxInt32 {
		return int32(n)
	}
	return n
}

// arith applies op to two numbers keeping integer types where possible
func arith(a, b any, intOp func(x, y int64) (int64, bool), floatOp func(x, y float64) float64) (any, error) {
	if !isNumber(a) || !isNumber(b) {
		return nil, fmt.Errorf("arithmetic on non-numeric values %v (%T) and %v (%T)", a, a, b, b)
	}
	kind := numKind(a)
	if k := numKind(b); k > kind {
		kind = k
	}
	if kind < 2 {
		x, _ := toInt(a)
		y, _ := toInt(b)
		if r, ok := intOp(x, y); ok {
			return fromInt(r, kind), nil
		}
	}
	x, _ := toFloat(a)
	y, _ := toFloat(b)
	return floatOp(x, y), nil
}

func add(a, b any) (any, error) {
	return arith(a, b, func(x, y int64) (int64, bool) {
		r := x + y
		return r, (r > x) == (y > 0)
	}, func(x, y float64) float64 { return x + y })
}

func multiply(a, b any) (any, error) {
	return arith(a, b, func(x, y int64) (int64, bool) {
		if x == 0 || y == 0 {
			return 0, true
		}
		r := x * y
		return r, r/y == x
	}, func(x, y float64) float64 { return x * y })
}

// --------------------------------------------------------------------------
// Comparison in BSON type order
// --------------------------------------------------------------------------

// typeRank returns the position of v's type in the BSON comparison order
func typeRank(v any) int {
	switch v.(type) {
	case primitive.MinKey:
		return 0
	case nil, primitive.Null, primitive.Undefined:
		return 1
	case int32, int64, float64, int, primitive.Decimal128:
		return 2
	case string, primitive.Symbol:
		return 3
	case bson.M, bson.D:
		return 4
	case bson.A:
		return 5
	case primitive.Binary:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime, time.Time:
		return 9
	case primitive.Timestamp:
		return 10
	case primitive.Regex:
		return 11
	case primitive.MaxKey:
		return 13
	default:
		return 12
	}
}

func sign[T int | int64 | float64](x T) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	}
	return 0
}

// compareValues orders a and b like the server sorts them. Values of
// different types are ordered by type.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return sign(ra - rb)
	}

	switch x := a.(type) {
	case int32, int64, int:
		if y, ok := toInt(b); ok && numKind(b) < 2 {
			xi, _ := toInt(x)
			return sign(xi - y)
		}
		xf, _ := toFloat(x)
		yf, _ := toFloat(b)
		return compareFloat(xf, yf)
	case float64:
		yf, ok := toFloat(b)
		if !ok {
			return 0
		}
		return compareFloat(x, yf)
	case string:
		return strings.Compare(x, toString(b))
	case primitive.Symbol:
		return strings.Compare(string(x), toString(b))
	case bson.M:
		return compareDocs(x, asM(b))
	case bson.D:
		return compareDocs(x.Map(), asM(b))
	case bson.A:
		y := b.(bson.A)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return sign(len(x) - len(y))
	case primitive.Binary:
		y := b.(primitive.Binary)
		if len(x.Data) != len(y.Data) {
			return sign(len(x.Data) - len(y.Data))
		}
		if x.Subtype != y.Subtype {
			return sign(int(x.Subtype) - int(y.Subtype))
		}
		return bytes.Compare(x.Data, y.Data)
	case primitive.ObjectID:
		y := b.(primitive.ObjectID)
		return bytes.Compare(x[:], y[:])
	case bool:
		y := b.(bool)
		if x == y {
			return 0
		}
		if !x {
			return -1
		}
		return 1
	case primitive.DateTime, time.Time:
		return sign(toMillis(a) - toMillis(b))
	case primitive.Timestamp:
		y := b.(primitive.Timestamp)
		if x.T != y.T {
			return sign(int64(x.T) - int64(y.T))
		}
		return sign(int64(x.I) - int64(y.I))
	case primitive.Regex:
		y := b.(primitive.Regex)
		if c := strings.Compare(x.Pattern, y.Pattern); c != 0 {
			return c
		}
		return strings.Compare(x.Options, y.Options)
	}
	return 0
}

func compareFloat(x, y float64) int {
	// NaN sorts before all other numbers
	switch {
	case math.IsNaN(x) && math.IsNaN(y):
		return 0
	case math.IsNaN(x):
		return -1
	case math.IsNaN(y):
		return 1
	}
	return sign(x - y)
}

// compareDocs compares documents field by field in key order
func compareDocs(x, y bson.M) int {
	kx, ky := sortedKeys(x), sortedKeys(y)
	for i := 0; i < len(kx) && i < len(ky); i++ {
		if c := strings.Compare(kx[i], ky[i]); c != 0 {
			return c
		}
		if c := compareValues(x[kx[i]], y[ky[i]]); c != 0 {
			return c
		}
	}
	return sign(len(kx) - len(ky))
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asM(v any) bson.M {
	switch t := v.(type) {
	case bson.M:
		return t
	case bson.D:
		return t.Map()
	}
	return nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case primitive.Symbol:
		return string(s)
	}
	return ""
}

func toMillis(v any) int64 {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t)
	case time.Time:
		return t.UnixMilli()
	}
	return 0
}

// valuesEqual reports equality the way the server does for queries:
// numbers compare by value regardless of their type.
func valuesEqual(a, b any) bool {
	return typeRank(a) == typeRank(b) && compareValues(a, b) == 0
}

// docsIdentical reports whether an update left a document unchanged,
// including the types of its values
func docsIdentical(a, b bson.M) bool {
	return reflect.DeepEqual(a, b)
}

func isNull(v any) bool {
	return typeRank(v) == 1
}

// idKey maps an _id to a string that is equal for equal ids
func idKey(v any) string {
	if f, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
