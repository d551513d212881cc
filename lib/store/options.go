package store

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	// DefaultReadTTL is how long results of reads are cached without WithTTL
	DefaultReadTTL = time.Hour
	// DefaultWriteTTL is zero, results of writes are not cached without WithTTL
	DefaultWriteTTL = time.Duration(0)
)

// Options configure a single store call. Nil fields are unset. Every call
// ignores the options that do not apply to it.
type Options struct {
	Sort             bson.D `bson:"sort,omitempty" json:"sort,omitempty"`
	Limit            *int64 `bson:"limit,omitempty" json:"limit,omitempty"`
	Skip             *int64 `bson:"skip,omitempty" json:"skip,omitempty"`
	Projection       bson.M `bson:"projection,omitempty" json:"projection,omitempty"`
	Upsert           *bool  `bson:"upsert,omitempty" json:"upsert,omitempty"`
	Ordered          *bool  `bson:"ordered,omitempty" json:"ordered,omitempty"`
	BypassValidation *bool  `bson:"bypassDocumentValidation,omitempty" json:"bypassDocumentValidation,omitempty"`

	One       bool           `bson:"one,omitempty" json:"one,omitempty"`             // single document call
	IncludeID bool           `bson:"includeId,omitempty" json:"includeId,omitempty"` // keep _id in find results
	TTL       *time.Duration `bson:"ttl,omitempty" json:"ttl,omitempty"`             // cache duration, 0 disables caching

	// Extra holds engine specific options which are passed through unchecked
	Extra bson.M `bson:"extra,omitempty" json:"extra,omitempty"`
}

// Option sets a field of Options
type Option func(*Options)

// NewOptions applies opts to empty Options
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// TTLOr returns the TTL or def if none was set
func (o Options) TTLOr(def time.Duration) time.Duration {
	if o.TTL == nil {
		return def
	}
	return *o.TTL
}

// Identity returns the options that distinguish results, i.e. without the TTL
func (o Options) Identity() Options {
	o.TTL = nil
	return o
}

// recognized are the lower case names of all typed options
var recognized = []string{
	"sort", "limit", "skip", "projection", "upsert", "ordered",
	"bypassdocumentvalidation", "one", "includeid", "ttl",
}

// Validate checks the typed options. Keys of Extra are not checked except
// that they must not shadow a typed option.
func (o Options) Validate() error {
	if o.Limit != nil && *o.Limit < 0 {
		return NewError(RetCValidationError, fmt.Sprintf("limit must not be negative, got %d", *o.Limit))
	}
	if o.Skip != nil && *o.Skip < 0 {
		return NewError(RetCValidationError, fmt.Sprintf("skip must not be negative, got %d", *o.Skip))
	}
	if o.TTL != nil && *o.TTL < 0 {
		return NewError(RetCValidationError, fmt.Sprintf("ttl must not be negative, got %s", *o.TTL))
	}
	for _, e := range o.Sort {
		if e.Key == "" {
			return NewError(RetCValidationError, "sort keys must not be empty")
		}
		if !isDirection(e.Value) {
			return NewError(RetCValidationError, fmt.Sprintf("sort direction of %q must be 1 or -1, got %v", e.Key, e.Value))
		}
	}
	for key := range o.Extra {
		for _, r := range recognized {
			if strings.ToLower(key) == r {
				return NewError(RetCValidationError, fmt.Sprintf("extra option %q shadows a typed option", key))
			}
		}
	}
	return nil
}

func isDirection(v any) bool {
	switch n := v.(type) {
	case int:
		return n == 1 || n == -1
	case int32:
		return n == 1 || n == -1
	case int64:
		return n == 1 || n == -1
	case float64:
		return n == 1 || n == -1
	}
	return false
}

// --------------------------------------------------------------------------
// Functional Options
// --------------------------------------------------------------------------

// WithSort orders results by the given keys, 1 ascending, -1 descending
func WithSort(sort bson.D) Option {
	return func(o *Options) { o.Sort = sort }
}

// WithLimit returns at most n documents (0 = no limit)
func WithLimit(n int64) Option {
	return func(o *Options) { o.Limit = &n }
}

// WithSkip skips the first n documents
func WithSkip(n int64) Option {
	return func(o *Options) { o.Skip = &n }
}

// WithProjection selects the returned fields. It is merged with the default
// exclusion of _id, an explicit _id entry wins.
func WithProjection(p bson.M) Option {
	return func(o *Options) { o.Projection = p }
}

// WithUpsert inserts a document if an update or replace matches nothing
func WithUpsert(upsert bool) Option {
	return func(o *Options) { o.Upsert = &upsert }
}

// WithOrdered controls whether inserting a sequence stops at the first error
func WithOrdered(ordered bool) Option {
	return func(o *Options) { o.Ordered = &ordered }
}

// WithBypassValidation skips schema validation of the database on writes
func WithBypassValidation(bypass bool) Option {
	return func(o *Options) { o.BypassValidation = &bypass }
}

// WithOne selects the single document variant of find, update and delete
func WithOne(one bool) Option {
	return func(o *Options) { o.One = one }
}

// WithID keeps the _id field in find results
func WithID(include bool) Option {
	return func(o *Options) { o.IncludeID = include }
}

// WithTTL caches the result of the call for ttl. 0 disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}

// WithExtra adds engine specific options
func WithExtra(extra bson.M) Option {
	return func(o *Options) {
		if o.Extra == nil {
			o.Extra = bson.M{}
		}
		for k, v := range extra {
			o.Extra[k] = v
		}
	}
}

// WithOptions sets every field that is set in other
func WithOptions(other Options) Option {
	return func(o *Options) {
		if other.Sort != nil {
			o.Sort = other.Sort
		}
		if other.Limit != nil {
			o.Limit = other.Limit
		}
		if other.Skip != nil {
			o.Skip = other.Skip
		}
		if other.Projection != nil {
			o.Projection = other.Projection
		}
		if other.Upsert != nil {
			o.Upsert = other.Upsert
		}
		if other.Ordered != nil {
			o.Ordered = other.Ordered
		}
		if other.BypassValidation != nil {
			o.BypassValidation = other.BypassValidation
		}
		if other.TTL != nil {
			o.TTL = other.TTL
		}
		o.One = o.One || other.One
		o.IncludeID = o.IncludeID || other.IncludeID
		if other.Extra != nil {
			WithExtra(other.Extra)(o)
		}
	}
}
