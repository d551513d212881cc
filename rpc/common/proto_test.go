package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/store"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRequestDecoding(t *testing.T) {
	msg, err := NewRequest(MsgTAggregate, nil, store.Pipeline{
		{"$match": bson.M{"user": "BraveFox42"}},
		{"$count": "n"},
	}, store.NewOptions(store.WithTTL(0)))
	if err != nil {
		t.Fatal(err)
	}

	if msg.Filter != nil {
		t.Errorf("a nil filter must not be encoded")
	}
	if f, err := msg.DecodeFilter(); err != nil || f != nil {
		t.Errorf("expected a nil filter, got %v (%v)", f, err)
	}

	pipeline, err := msg.DecodePipeline()
	if err != nil || len(pipeline) != 2 || pipeline[1]["$count"] != "n" {
		t.Errorf("unexpected pipeline %v (%v)", pipeline, err)
	}

	// a document is no pipeline
	msg, _ = NewRequest(MsgTAggregate, nil, bson.M{"$match": bson.M{}}, store.Options{})
	if _, err := msg.DecodePipeline(); !store.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}

	// garbage payloads are validation errors
	broken := &Message{MsgType: MsgTFind, Filter: []byte{1, 2, 3}, Options: []byte{4}}
	if _, err := broken.DecodeFilter(); !store.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
	if _, err := broken.DecodeOptions(); !store.IsValidationError(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestErrorResponses(t *testing.T) {
	cases := []struct {
		err  error
		code store.RetCode
	}{
		{store.NewError(store.RetCConnectionError, "down"), store.RetCConnectionError},
		{fmt.Errorf("%w: _id 1", db.ErrDuplicateKey), store.RetCValidationError},
		{fmt.Errorf("%w: query operator $near", db.ErrUnsupported), store.RetCUnsupportedOperation},
		{errors.New("boom"), store.RetCInternalError},
	}
	for _, c := range cases {
		msg := NewResponse(MsgTFind, nil, c.err)
		if msg.Ok || msg.Code != c.code {
			t.Errorf("%v: expected code %s, got %s", c.err, c.code, msg.Code)
		}
		if err := msg.Error(); store.CodeOf(err) != c.code {
			t.Errorf("%v: the client side error lost its code: %v", c.err, err)
		}
	}

	// the message of a store error is not prefixed twice
	msg := NewErrorResponse(MsgTFind, store.NewError(store.RetCValidationError, "bad limit"))
	if strings.Count(msg.Error().Error(), "StoreError") != 1 {
		t.Errorf("unexpected message %q", msg.Error())
	}

	if NewResponse(MsgTCount, int64(1), nil).Error() != nil {
		t.Errorf("a success response must not carry an error")
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for typ := MsgTSuccess; typ <= MsgTInfo; typ++ {
		b, err := typ.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		var got MessageType
		if err := got.UnmarshalJSON(b); err != nil || got != typ {
			t.Errorf("%s: round trip gave %s (%v)", typ, got, err)
		}
	}
	var got MessageType
	if err := got.UnmarshalJSON([]byte(`"set"`)); err == nil {
		t.Errorf("expected an error for an unknown type")
	}
}

func TestServerConfigValidate(t *testing.T) {
	valid := ServerConfig{
		Shards:     []ServerShard{{ShardID: 100, Collection: "posts"}, {ShardID: 200, Collection: "connection"}},
		Connection: store.ConnectionConfig{URL: "memory://", Database: "streamy"},
		Cache:      "maple",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected a valid config, got %v", err)
	}
	if got := valid.ShardConnection(valid.Shards[1]); got.Collection != "connection" || got.Database != "streamy" {
		t.Errorf("unexpected shard connection %+v", got)
	}

	invalid := []func(c *ServerConfig){
		func(c *ServerConfig) { c.Shards = nil },
		func(c *ServerConfig) { c.Shards = append(c.Shards, ServerShard{ShardID: 100, Collection: "x"}) },
		func(c *ServerConfig) { c.Shards = []ServerShard{{ShardID: 1}} },
		func(c *ServerConfig) { c.Connection.URL = "ftp://host" },
		func(c *ServerConfig) { c.Cache = "redis" },
		func(c *ServerConfig) { c.Cache = "memcached" },
	}
	for i, mutate := range invalid {
		c := valid
		c.Shards = append([]ServerShard(nil), valid.Shards...)
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestServerConfigStringRedacts(t *testing.T) {
	c := ServerConfig{
		Shards:     []ServerShard{{ShardID: 100, Collection: "posts"}},
		Connection: store.ConnectionConfig{URL: "mongodb://admin:hunter2@db:27017", Database: "streamy"},
		Cache:      "redis",
		RedisURL:   "redis://:topsecret@cache:6379/0",
	}
	s := c.String()
	if strings.Contains(s, "hunter2") || strings.Contains(s, "topsecret") {
		t.Errorf("passwords must be redacted:\n%s", s)
	}
	if !strings.Contains(s, "posts") {
		t.Errorf("expected the shards to be listed:\n%s", s)
	}
}
