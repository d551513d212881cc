package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
	"go.mongodb.org/mongo-driver/bson"
)

func TestConnectionURI(t *testing.T) {
	uri, err := ConnectionURI("mongodb://localhost:27017", map[string]any{
		"retryWrites":              false,
		"w":                        "majority",
		"serverSelectionTimeoutMS": 5000,
	})
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("result is not a url: %v", err)
	}
	q := u.Query()
	if q.Get("retryWrites") != "false" || q.Get("w") != "majority" || q.Get("serverSelectionTimeoutMS") != "5000" {
		t.Errorf("kwargs missing in %s", uri)
	}
	if u.Path != "/" {
		t.Errorf("expected path separator before options, got %q", u.Path)
	}
}

func TestConnectionURIKeepsExistingOptions(t *testing.T) {
	uri, err := ConnectionURI("mongodb://localhost/app?authSource=admin&w=1", map[string]any{"w": "majority"})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(uri)
	if u.Query().Get("authSource") != "admin" || u.Query().Get("w") != "majority" {
		t.Errorf("unexpected options in %s", uri)
	}
	if u.Path != "/app" {
		t.Errorf("database path lost: %s", uri)
	}
}

func TestConnectionURIWithoutKwargs(t *testing.T) {
	in := "mongodb+srv://cluster0.example.net"
	if out, _ := ConnectionURI(in, nil); out != in {
		t.Errorf("uri without kwargs must stay unchanged, got %s", out)
	}
}

func TestParseExtra(t *testing.T) {
	e, err := parseExtra("find", bson.M{
		"hint":         bson.M{"timestamp": -1},
		"comment":      "wall",
		"maxTimeMS":    int32(250),
		"allowDiskUse": true,
		"batchSize":    100,
		"collation":    bson.M{"locale": "de", "strength": 2},
	}, extraHint, extraComment, extraMaxTimeMS, extraAllowDiskUse, extraBatchSize, extraCollation)
	if err != nil {
		t.Fatal(err)
	}
	if *e.comment != "wall" || *e.maxTime != 250*time.Millisecond || !*e.allowDiskUse || *e.batchSize != 100 {
		t.Errorf("unexpected parse result %+v", e)
	}
	if e.collation.Locale != "de" || e.collation.Strength != 2 {
		t.Errorf("unexpected collation %+v", e.collation)
	}
}

func TestParseExtraRejectsUnknownKeys(t *testing.T) {
	_, err := parseExtra("count", bson.M{"allowDiskUse": true}, extraHint)
	if !errors.Is(err, db.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	if _, err := parseExtra("find", bson.M{"maxTimeMS": "soon"}, extraMaxTimeMS); err == nil {
		t.Errorf("expected a type error for maxTimeMS")
	}
}

func TestDocumentsAsM(t *testing.T) {
	in := bson.D{{Key: "n", Value: int32(1)}, {Key: "tags", Value: bson.A{bson.D{{Key: "t", Value: "x"}}, "y"}}}
	want := bson.M{"n": int32(1), "tags": bson.A{bson.M{"t": "x"}, "y"}}
	if got := documentsAsM(in); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
	if got := documentsAsM("plain"); got != "plain" {
		t.Errorf("scalars must stay unchanged, got %#v", got)
	}
}

func TestConnectUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Connect(ctx, "mongodb://127.0.0.1:1", "db", "coll", map[string]any{"serverSelectionTimeoutMS": 200})
	if err == nil {
		t.Errorf("expected an error for an unreachable server")
	}
}

// The conformance suite needs a server, e.g. DDOC_TEST_MONGO_URL=mongodb://localhost:27017
func TestCollection(t *testing.T) {
	url := os.Getenv("DDOC_TEST_MONGO_URL")
	if url == "" {
		t.Skip("DDOC_TEST_MONGO_URL not set")
	}

	n := 0
	dbtesting.RunCollectionTests(t, "Mongo", func() db.Collection {
		n++
		ctx := context.Background()
		coll, err := Connect(ctx, url, "ddoc_test", fmt.Sprintf("suite_%d_%d", time.Now().UnixNano(), n), nil)
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		return coll
	})
}
