package server

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db/engines/memory"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"go.mongodb.org/mongo-driver/bson"
)

func newTestServer(t *testing.T) (*RPCServer, serializer.IRPCSerializer) {
	t.Helper()
	s := serializer.NewJSONSerializer()
	srv := NewRPCServer(common.ServerConfig{}, http.NewHttpServerTransport(), s)
	srv.AddShard(1, cstore.NewStore(memory.New("test", t.Name()), nil))
	t.Cleanup(func() { _ = srv.Close() })
	return srv, s
}

func roundTrip(t *testing.T, srv *RPCServer, s serializer.IRPCSerializer, shard uint64, req *common.Message) *common.Message {
	t.Helper()
	b, err := s.Serialize(*req)
	if err != nil {
		t.Fatal(err)
	}
	var resp common.Message
	if err := s.Deserialize(srv.Handle(context.Background(), shard, b), &resp); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	return &resp
}

func TestHandle(t *testing.T) {
	srv, s := newTestServer(t)

	insert, _ := common.NewRequest(common.MsgTInsert, nil, bson.M{"_id": "a", "n": 1}, store.Options{})
	if resp := roundTrip(t, srv, s, 1, insert); resp.Error() != nil || resp.MsgType != common.MsgTInsert {
		t.Fatalf("unexpected insert response %+v", resp)
	}

	count, _ := common.NewRequest(common.MsgTCount, store.Filter{"n": 1}, nil, store.Options{})
	resp := roundTrip(t, srv, s, 1, count)
	if v, err := resp.DecodeValue(); err != nil || v != int64(1) {
		t.Errorf("expected a count of 1, got %v (%v)", v, err)
	}
}

func TestHandleFailures(t *testing.T) {
	srv, s := newTestServer(t)

	// unknown shard
	req, _ := common.NewRequest(common.MsgTCount, nil, nil, store.Options{})
	if resp := roundTrip(t, srv, s, 2, req); !store.IsValidationError(resp.Error()) {
		t.Errorf("expected a validation error for an unknown shard, got %v", resp.Error())
	}

	// unknown message type
	if resp := roundTrip(t, srv, s, 1, &common.Message{MsgType: common.MsgTSuccess}); store.CodeOf(resp.Error()) != store.RetCUnsupportedOperation {
		t.Errorf("expected an unsupported operation, got %v", resp.Error())
	}

	// undecodable request
	var resp common.Message
	if err := s.Deserialize(srv.Handle(context.Background(), 1, []byte("{")), &resp); err != nil {
		t.Fatalf("malformed response: %v", err)
	}
	if !store.IsValidationError(resp.Error()) {
		t.Errorf("expected a validation error, got %v", resp.Error())
	}
}

func TestAddShardReplaces(t *testing.T) {
	srv, s := newTestServer(t)
	srv.AddShard(1, cstore.NewStore(memory.New("test", t.Name()+"-other"), nil))

	insert, _ := common.NewRequest(common.MsgTInsert, nil, bson.M{"x": 1}, store.Options{})
	roundTrip(t, srv, s, 1, insert)

	info, _ := common.NewRequest(common.MsgTInfo, nil, nil, store.Options{})
	var got store.Info
	if err := roundTrip(t, srv, s, 1, info).DecodeResult(&got); err != nil {
		t.Fatal(err)
	}
	if got.Collection.Collection != t.Name()+"-other" || got.Collection.Documents != 1 {
		t.Errorf("expected the replacing store to serve the shard, got %+v", got.Collection)
	}
}
