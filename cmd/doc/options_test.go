package doc

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseValue(t *testing.T) {
	v, err := parseValue(`{"user": "CuriousNinja42", "tags": ["a", "b"], "nested": {"n": 1}}`)
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := v.(bson.M)
	if !ok {
		t.Fatalf("expected a document, got %T", v)
	}
	if _, ok := doc["tags"].(bson.A); !ok {
		t.Errorf("expected an array, got %T", doc["tags"])
	}
	if _, ok := doc["nested"].(bson.M); !ok {
		t.Errorf("expected a nested document, got %T", doc["nested"])
	}

	v, err = parseValue(`[{"a": 1}, {"b": 2}]`)
	if err != nil {
		t.Fatal(err)
	}
	if arr, ok := v.(bson.A); !ok || len(arr) != 2 {
		t.Errorf("expected an array of two documents, got %v", v)
	}

	v, err = parseValue(`{"timestamp": {"$date": "2024-01-01T00:00:00Z"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(bson.M)["timestamp"]; !ok {
		t.Errorf("expected a timestamp, got %v", v)
	}

	if _, err := parseValue(`{"broken"`); err == nil {
		t.Errorf("expected an error for invalid json")
	}
}

func TestParsePipeline(t *testing.T) {
	pipeline, err := parsePipeline(`[{"$addFields": {"length": {"$strLenCP": "$post"}}}, {"$group": {"_id": null, "total": {"$sum": "$length"}}}]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline) != 2 {
		t.Fatalf("expected two stages, got %v", pipeline)
	}
	if _, ok := pipeline[1]["$group"]; !ok {
		t.Errorf("unexpected second stage %v", pipeline[1])
	}

	for _, bad := range []string{`{"$match": {}}`, `[1, 2]`} {
		if _, err := parsePipeline(bad); err == nil {
			t.Errorf("expected an error for %s", bad)
		}
	}
}

func TestParseFilter(t *testing.T) {
	filter, err := parseFilter(nil, 0)
	if err != nil || filter != nil {
		t.Errorf("expected no filter, got %v (%v)", filter, err)
	}
	filter, err = parseFilter([]string{"user", `{"a": {"$gt": 0}}`}, 1)
	if err != nil || filter["a"] == nil {
		t.Errorf("unexpected filter %v (%v)", filter, err)
	}
	if _, err := parseFilter([]string{`[1]`}, 0); err == nil {
		t.Errorf("expected an error for an array filter")
	}
}

func TestOptions(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	setupOptionFlags(cmd)
	if err := cmd.ParseFlags([]string{
		"--ttl", "30s", "--limit", "3", "--sort", `{"b": -1, "a": 1}`,
		"--projection", `{"a": 1}`, "--id", "--upsert",
	}); err != nil {
		t.Fatal(err)
	}

	opts, err := options(cmd)
	if err != nil {
		t.Fatal(err)
	}
	o := store.NewOptions(opts...)
	if o.TTL == nil || *o.TTL != 30*time.Second {
		t.Errorf("unexpected ttl %v", o.TTL)
	}
	if o.Limit == nil || *o.Limit != 3 || o.Skip != nil {
		t.Errorf("unexpected limit/skip %v %v", o.Limit, o.Skip)
	}
	if len(o.Sort) != 2 || o.Sort[0].Key != "b" {
		t.Errorf("expected the sort order to be kept, got %v", o.Sort)
	}
	if !o.IncludeID || o.Upsert == nil || !*o.Upsert || o.Projection["a"] == nil {
		t.Errorf("unexpected options %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("expected valid options, got %v", err)
	}

	// unchanged flags leave the defaults of the store in place
	cmd = &cobra.Command{Use: "test"}
	setupOptionFlags(cmd)
	if opts, err := options(cmd); err != nil || len(opts) != 0 {
		t.Errorf("expected no options, got %d (%v)", len(opts), err)
	}
}

func TestToExtJSON(t *testing.T) {
	out, err := toExtJSON(bson.M{"user": "CuriousNinja42", "likes": 3})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"user": "CuriousNinja42"`) || !strings.Contains(out, `"likes": 3`) {
		t.Errorf("unexpected output %s", out)
	}

	out, err = toExtJSON(store.DeleteResult{DeletedCount: 2})
	if err != nil || !strings.Contains(out, `"deleted_count": 2`) {
		t.Errorf("unexpected output %s (%v)", out, err)
	}
}
