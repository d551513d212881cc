package doc

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

func setupOptionFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.Duration("ttl", 0, util.WrapString("How long the server caches the result, 0s disables the cache. Defaults to 1h for reads and 0s for writes"))
	flags.String("sort", "", util.WrapString(`Sort document, e.g. {"timestamp": -1}`))
	flags.Int64("limit", 0, util.WrapString("Return at most this many documents"))
	flags.Int64("skip", 0, util.WrapString("Skip this many documents"))
	flags.String("projection", "", util.WrapString(`Projection document, e.g. {"user": 1}`))
	flags.Bool("upsert", false, util.WrapString("Insert a document if nothing matches (update, replace)"))
	flags.Bool("id", false, util.WrapString("Include the _id field in find results"))
	flags.String("extra", "", util.WrapString(`Engine specific options, e.g. {"comment": "cli"}`))
}

// options converts the changed option flags of cmd into store options.
// Flags that were not given are left unset so the store defaults apply.
func options(cmd *cobra.Command) ([]store.Option, error) {
	flags := cmd.Flags()
	var opts []store.Option

	if flags.Changed("ttl") {
		ttl, _ := flags.GetDuration("ttl")
		opts = append(opts, store.WithTTL(ttl))
	}
	if flags.Changed("limit") {
		n, _ := flags.GetInt64("limit")
		opts = append(opts, store.WithLimit(n))
	}
	if flags.Changed("skip") {
		n, _ := flags.GetInt64("skip")
		opts = append(opts, store.WithSkip(n))
	}
	if flags.Changed("upsert") {
		upsert, _ := flags.GetBool("upsert")
		opts = append(opts, store.WithUpsert(upsert))
	}
	if id, _ := flags.GetBool("id"); id {
		opts = append(opts, store.WithID(true))
	}

	if s, _ := flags.GetString("sort"); s != "" {
		var sort bson.D
		if err := bson.UnmarshalExtJSON([]byte(s), false, &sort); err != nil {
			return nil, fmt.Errorf("invalid sort: %w", err)
		}
		opts = append(opts, store.WithSort(sort))
	}
	if s, _ := flags.GetString("projection"); s != "" {
		projection, err := parseDocument(s)
		if err != nil {
			return nil, fmt.Errorf("invalid projection: %w", err)
		}
		opts = append(opts, store.WithProjection(projection))
	}
	if s, _ := flags.GetString("extra"); s != "" {
		extra, err := parseDocument(s)
		if err != nil {
			return nil, fmt.Errorf("invalid extra options: %w", err)
		}
		opts = append(opts, store.WithExtra(extra))
	}

	return opts, nil
}

// --------------------------------------------------------------------------
// Extended JSON helpers
// --------------------------------------------------------------------------

// parseValue parses any Extended JSON value. Documents decode to bson.M and
// arrays to bson.A.
func parseValue(s string) (any, error) {
	var envelope bson.M
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+s+`}`), false, &envelope); err != nil {
		return nil, err
	}
	return envelope["v"], nil
}

// parseDocument parses an Extended JSON document
func parseDocument(s string) (bson.M, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseFilter parses the optional filter argument at index i of args
func parseFilter(args []string, i int) (store.Filter, error) {
	if len(args) <= i {
		return nil, nil
	}
	filter, err := parseDocument(args[i])
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return filter, nil
}

// parsePipeline parses an Extended JSON array of stages
func parsePipeline(s string) (store.Pipeline, error) {
	v, err := parseValue(s)
	if err != nil {
		return nil, err
	}
	stages, ok := v.(bson.A)
	if !ok {
		return nil, fmt.Errorf("a pipeline must be an array of stages")
	}
	pipeline := make(store.Pipeline, len(stages))
	for i, stage := range stages {
		if pipeline[i], ok = stage.(bson.M); !ok {
			return nil, fmt.Errorf("stage %d is not a document", i)
		}
	}
	return pipeline, nil
}

// toExtJSON renders v as relaxed Extended JSON
func toExtJSON(v any) (string, error) {
	data, err := bson.MarshalExtJSONIndent(bson.M{"v": v}, false, false, "", "  ")
	if err != nil {
		return "", err
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", err
	}
	return string(envelope["v"]), nil
}
