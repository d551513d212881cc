package mongo

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Extra option keys understood by this engine
const (
	extraHint         = "hint"
	extraComment      = "comment"
	extraMaxTimeMS    = "maxTimeMS"
	extraAllowDiskUse = "allowDiskUse"
	extraBatchSize    = "batchSize"
	extraCollation    = "collation"
)

// extra is the parsed form of db.Options.Extra. Nil fields are unset.
type extra struct {
	hint         interface{}
	comment      *string
	maxTime      *time.Duration
	allowDiskUse *bool
	batchSize    *int32
	collation    *options.Collation
}

// parseExtra converts the extra options of a call. Keys outside allowed are rejected.
func parseExtra(op string, raw bson.M, allowed ...string) (extra, error) {
	var e extra
	for key, value := range raw {
		if !contains(allowed, key) {
			return e, fmt.Errorf("%w: option %q for %s", db.ErrUnsupported, key, op)
		}

		switch key {
		case extraHint:
			e.hint = value
		case extraComment:
			s, ok := value.(string)
			if !ok {
				return e, fmt.Errorf("option %s must be a string, got %T", key, value)
			}
			e.comment = &s
		case extraMaxTimeMS:
			ms, ok := toInt64(value)
			if !ok || ms < 0 {
				return e, fmt.Errorf("option %s must be a non-negative number, got %v", key, value)
			}
			d := time.Duration(ms) * time.Millisecond
			e.maxTime = &d
		case extraAllowDiskUse:
			b, ok := value.(bool)
			if !ok {
				return e, fmt.Errorf("option %s must be a boolean, got %T", key, value)
			}
			e.allowDiskUse = &b
		case extraBatchSize:
			n, ok := toInt64(value)
			if !ok || n < 0 || n > 1<<31-1 {
				return e, fmt.Errorf("option %s must be a non-negative 32 bit number, got %v", key, value)
			}
			n32 := int32(n)
			e.batchSize = &n32
		case extraCollation:
			c, err := toCollation(value)
			if err != nil {
				return e, err
			}
			e.collation = c
		}
	}
	return e, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), n == float64(int64(n))
	default:
		return 0, false
	}
}

// toCollation accepts a locale string or a document {locale, strength}
func toCollation(v interface{}) (*options.Collation, error) {
	switch c := v.(type) {
	case string:
		return &options.Collation{Locale: c}, nil
	case bson.M:
		locale, _ := c["locale"].(string)
		if locale == "" {
			return nil, fmt.Errorf("collation needs a locale")
		}
		col := &options.Collation{Locale: locale}
		if s, ok := toInt64(c["strength"]); ok {
			col.Strength = int(s)
		}
		return col, nil
	case map[string]interface{}:
		return toCollation(bson.M(c))
	default:
		return nil, fmt.Errorf("collation must be a locale or a document, got %T", v)
	}
}

// --------------------------------------------------------------------------
// Driver option builders
// --------------------------------------------------------------------------

func findOptions(o db.Options) (*options.FindOptions, error) {
	e, err := parseExtra("find", o.Extra, extraHint, extraComment, extraMaxTimeMS, extraAllowDiskUse, extraBatchSize, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if o.Projection != nil {
		opts.SetProjection(o.Projection)
	}
	if len(o.Sort) > 0 {
		opts.SetSort(o.Sort)
	}
	if o.Limit != nil {
		opts.SetLimit(*o.Limit)
	}
	if o.Skip != nil {
		opts.SetSkip(*o.Skip)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.maxTime != nil {
		opts.SetMaxTime(*e.maxTime)
	}
	if e.allowDiskUse != nil {
		opts.SetAllowDiskUse(*e.allowDiskUse)
	}
	if e.batchSize != nil {
		opts.SetBatchSize(*e.batchSize)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func findOneOptions(o db.Options) (*options.FindOneOptions, error) {
	e, err := parseExtra("find_one", o.Extra, extraHint, extraComment, extraMaxTimeMS, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if o.Projection != nil {
		opts.SetProjection(o.Projection)
	}
	if len(o.Sort) > 0 {
		opts.SetSort(o.Sort)
	}
	if o.Skip != nil {
		opts.SetSkip(*o.Skip)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.maxTime != nil {
		opts.SetMaxTime(*e.maxTime)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func aggregateOptions(o db.Options) (*options.AggregateOptions, error) {
	e, err := parseExtra("aggregate", o.Extra, extraHint, extraComment, extraMaxTimeMS, extraAllowDiskUse, extraBatchSize, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Aggregate()
	if o.BypassValidation != nil {
		opts.SetBypassDocumentValidation(*o.BypassValidation)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.maxTime != nil {
		opts.SetMaxTime(*e.maxTime)
	}
	if e.allowDiskUse != nil {
		opts.SetAllowDiskUse(*e.allowDiskUse)
	}
	if e.batchSize != nil {
		opts.SetBatchSize(*e.batchSize)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func countOptions(o db.Options) (*options.CountOptions, error) {
	e, err := parseExtra("count", o.Extra, extraHint, extraComment, extraMaxTimeMS, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Count()
	if o.Limit != nil {
		opts.SetLimit(*o.Limit)
	}
	if o.Skip != nil {
		opts.SetSkip(*o.Skip)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.maxTime != nil {
		opts.SetMaxTime(*e.maxTime)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func distinctOptions(o db.Options) (*options.DistinctOptions, error) {
	e, err := parseExtra("distinct", o.Extra, extraComment, extraMaxTimeMS, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Distinct()
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.maxTime != nil {
		opts.SetMaxTime(*e.maxTime)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func insertOneOptions(o db.Options) (*options.InsertOneOptions, error) {
	e, err := parseExtra("insert", o.Extra, extraComment)
	if err != nil {
		return nil, err
	}

	opts := options.InsertOne()
	if o.BypassValidation != nil {
		opts.SetBypassDocumentValidation(*o.BypassValidation)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	return opts, nil
}

func insertManyOptions(o db.Options) (*options.InsertManyOptions, error) {
	e, err := parseExtra("insert", o.Extra, extraComment)
	if err != nil {
		return nil, err
	}

	opts := options.InsertMany()
	if o.Ordered != nil {
		opts.SetOrdered(*o.Ordered)
	}
	if o.BypassValidation != nil {
		opts.SetBypassDocumentValidation(*o.BypassValidation)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	return opts, nil
}

func updateOptions(o db.Options) (*options.UpdateOptions, error) {
	e, err := parseExtra("update", o.Extra, extraHint, extraComment, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Update()
	if o.Upsert != nil {
		opts.SetUpsert(*o.Upsert)
	}
	if o.BypassValidation != nil {
		opts.SetBypassDocumentValidation(*o.BypassValidation)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func replaceOptions(o db.Options) (*options.ReplaceOptions, error) {
	e, err := parseExtra("replace", o.Extra, extraHint, extraComment, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Replace()
	if o.Upsert != nil {
		opts.SetUpsert(*o.Upsert)
	}
	if o.BypassValidation != nil {
		opts.SetBypassDocumentValidation(*o.BypassValidation)
	}
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}

func deleteOptions(o db.Options) (*options.DeleteOptions, error) {
	e, err := parseExtra("delete", o.Extra, extraHint, extraComment, extraCollation)
	if err != nil {
		return nil, err
	}

	opts := options.Delete()
	if e.hint != nil {
		opts.SetHint(e.hint)
	}
	if e.comment != nil {
		opts.SetComment(*e.comment)
	}
	if e.collation != nil {
		opts.SetCollation(e.collation)
	}
	return opts, nil
}
