package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/VictoriaMetrics/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

var logger = logging.GetLogger("cache")

// Results of a memoized call, used as metric label
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultBypass = "bypass"
	resultError  = "error"
	resultAlias  = "alias"
)

// --------------------------------------------------------------------------
// Memoizer
// --------------------------------------------------------------------------

// Memoizer stores operation results in an Engine.
// A nil *Memoizer is valid and never caches.
type Memoizer struct {
	namespace string
	engine    Engine
}

// NewMemoizer creates a memoizer whose keys are prefixed by namespace.
// Memoizers sharing an engine must use distinct namespaces.
func NewMemoizer(namespace string, engine Engine) *Memoizer {
	return &Memoizer{namespace: namespace, engine: engine}
}

// Engine returns the underlying engine (nil for a nil memoizer)
func (m *Memoizer) Engine() Engine {
	if m == nil {
		return nil
	}
	return m.engine
}

// Namespace returns the key prefix of this memoizer
func (m *Memoizer) Namespace() string {
	if m == nil {
		return ""
	}
	return m.namespace
}

// envelope is the stored form of a result. K holds the full call identity.
type envelope[T any] struct {
	K string `bson:"k"`
	V T      `bson:"v"`
}

// identity serializes op and args as canonical extended json. Map keys are
// sorted, bson.D keeps its order, and typed values such as ObjectIDs or dates
// keep their type, so a filter on an ObjectID never shares an entry with a
// filter on its hex string.
func identity(op string, args any) (string, error) {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "op", Value: op}, {Key: "args", Value: canonical(args)}}, true, false)
	if err != nil {
		return "", fmt.Errorf("failed to serialize arguments of %s: %w", op, err)
	}
	return string(b), nil
}

// canonical rewrites maps with string keys into bson.D sorted by key and
// slices into bson.A, recursively. Other values are returned unchanged.
func canonical(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: canonical(e.Value)}
		}
		return out
	case []byte:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		out := make(bson.D, len(keys))
		for i, k := range keys {
			out[i] = bson.E{Key: k.String(), Value: canonical(rv.MapIndex(k).Interface())}
		}
		return out
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make(bson.A, rv.Len())
		for i := range out {
			out[i] = canonical(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// decode unmarshals an entry. Embedded documents decode as bson.M, the form
// the engines return, also where the result type only says any.
func decode[T any](raw []byte) (envelope[T], error) {
	var env envelope[T]
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
	if err != nil {
		return env, err
	}
	dec.DefaultDocumentM()
	err = dec.Decode(&env)
	return env, err
}

func (m *Memoizer) key(op, ident string) string {
	sum := sha256.Sum256([]byte(ident))
	return m.namespace + ":" + op + ":" + hex.EncodeToString(sum[:])
}

func count(op, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_cache_requests_total{op=%q,result=%q}`, op, result)).Inc()
}

// Memoize returns the cached result of op(args) or runs fn and caches its result for ttl.
//
// A ttl <= 0 always runs fn. Errors of fn are returned and not cached. Engine
// failures and undecodable entries are logged and treated as misses.
func Memoize[T any](ctx context.Context, m *Memoizer, op string, args any, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if m == nil || m.engine == nil || ttl <= 0 {
		count(op, resultBypass)
		return fn(ctx)
	}

	ident, err := identity(op, args)
	if err != nil {
		logger.Warnf("not caching %s: %v", op, err)
		count(op, resultBypass)
		return fn(ctx)
	}
	key := m.key(op, ident)

	raw, found, err := m.engine.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warnf("cache read for %s failed: %v", op, err)
		count(op, resultError)
	case found:
		if env, err := decode[T](raw); err != nil {
			logger.Warnf("dropping undecodable cache entry for %s: %v", op, err)
			count(op, resultError)
		} else if env.K != ident {
			logger.Debugf("cache key of %s aliases another call", op)
			count(op, resultAlias)
		} else {
			count(op, resultHit)
			return env.V, nil
		}
	default:
		count(op, resultMiss)
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}

	raw, err = bson.Marshal(envelope[T]{K: ident, V: v})
	if err != nil {
		logger.Warnf("result of %s is not cacheable: %v", op, err)
		return v, nil
	}
	if err := m.engine.Set(ctx, key, raw, ttl); err != nil {
		logger.Warnf("cache write for %s failed: %v", op, err)
	}
	return v, nil
}
