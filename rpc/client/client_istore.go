package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"go.mongodb.org/mongo-driver/bson"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, store.WrapError(store.RetCConnectionError, err, "failed to connect to %v", config.Endpoints)
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// call builds a request, sends it and returns the response
func (i *rpcStore) call(ctx context.Context, t common.MessageType, filter store.Filter, data any, field string, opts []store.Option) (*common.Message, error) {
	o := store.NewOptions(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	req, err := common.NewRequest(t, filter, data, o)
	if err != nil {
		return nil, store.WrapError(store.RetCValidationError, err, "invalid %s arguments", t)
	}
	req.Field = field
	return invokeRPCRequest(ctx, i.shardId, req, i.transport, i.serializer)
}

// documents decodes an enveloped list of documents
func documents(resp *common.Message) ([]store.Document, error) {
	v, err := resp.DecodeValue()
	if err != nil {
		return nil, store.WrapError(store.RetCInternalError, err, "malformed %s result", resp.MsgType)
	}
	if v == nil {
		return []store.Document{}, nil
	}
	a, ok := v.(bson.A)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("malformed %s result: %T", resp.MsgType, v))
	}
	return common.ToDocuments(a)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Find(ctx context.Context, filter store.Filter, opts ...store.Option) ([]store.Document, error) {
	resp, err := i.call(ctx, common.MsgTFind, filter, nil, "", opts)
	if err != nil {
		return nil, err
	}
	return documents(resp)
}

func (i *rpcStore) FindOne(ctx context.Context, filter store.Filter, opts ...store.Option) (store.Document, error) {
	docs, err := i.Find(ctx, filter, append(opts, store.WithOne(true))...)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (i *rpcStore) Insert(ctx context.Context, data any, opts ...store.Option) (res store.InsertResult, err error) {
	resp, err := i.call(ctx, common.MsgTInsert, nil, data, "", opts)
	if err != nil {
		return res, err
	}
	err = resp.DecodeResult(&res)
	return res, err
}

func (i *rpcStore) Update(ctx context.Context, filter store.Filter, update any, opts ...store.Option) (res store.UpdateResult, err error) {
	if update == nil {
		return res, store.NewError(store.RetCValidationError, "update must not be empty")
	}
	resp, err := i.call(ctx, common.MsgTUpdate, filter, update, "", opts)
	if err != nil {
		return res, err
	}
	err = resp.DecodeResult(&res)
	return res, err
}

func (i *rpcStore) UpdateOne(ctx context.Context, filter store.Filter, update any, opts ...store.Option) (store.UpdateResult, error) {
	return i.Update(ctx, filter, update, append(opts, store.WithOne(true))...)
}

func (i *rpcStore) Delete(ctx context.Context, filter store.Filter, opts ...store.Option) (res store.DeleteResult, err error) {
	resp, err := i.call(ctx, common.MsgTDelete, filter, nil, "", opts)
	if err != nil {
		return res, err
	}
	err = resp.DecodeResult(&res)
	return res, err
}

func (i *rpcStore) DeleteOne(ctx context.Context, filter store.Filter, opts ...store.Option) (store.DeleteResult, error) {
	return i.Delete(ctx, filter, append(opts, store.WithOne(true))...)
}

func (i *rpcStore) Replace(ctx context.Context, filter store.Filter, replacement any, opts ...store.Option) (res store.UpdateResult, err error) {
	if replacement == nil {
		return res, store.NewError(store.RetCValidationError, "replacement must be a document")
	}
	resp, err := i.call(ctx, common.MsgTReplace, filter, replacement, "", opts)
	if err != nil {
		return res, err
	}
	err = resp.DecodeResult(&res)
	return res, err
}

func (i *rpcStore) Aggregate(ctx context.Context, pipeline store.Pipeline, opts ...store.Option) ([]store.Document, error) {
	var data any
	if pipeline != nil {
		data = pipeline
	}
	resp, err := i.call(ctx, common.MsgTAggregate, nil, data, "", opts)
	if err != nil {
		return nil, err
	}
	return documents(resp)
}

func (i *rpcStore) Count(ctx context.Context, filter store.Filter, opts ...store.Option) (int64, error) {
	resp, err := i.call(ctx, common.MsgTCount, filter, nil, "", opts)
	if err != nil {
		return 0, err
	}
	v, err := resp.DecodeValue()
	if err != nil {
		return 0, store.WrapError(store.RetCInternalError, err, "malformed count result")
	}
	n, ok := v.(int64)
	if !ok {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("malformed count result: %T", v))
	}
	return n, nil
}

func (i *rpcStore) Distinct(ctx context.Context, field string, filter store.Filter, opts ...store.Option) ([]any, error) {
	if field == "" {
		return nil, store.NewError(store.RetCValidationError, "distinct needs a field name")
	}
	resp, err := i.call(ctx, common.MsgTDistinct, filter, nil, field, opts)
	if err != nil {
		return nil, err
	}
	v, err := resp.DecodeValue()
	if err != nil {
		return nil, store.WrapError(store.RetCInternalError, err, "malformed distinct result")
	}
	if v == nil {
		return []any{}, nil
	}
	a, ok := v.(bson.A)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("malformed distinct result: %T", v))
	}
	return []any(a), nil
}

func (i *rpcStore) GetInfo(ctx context.Context) (info store.Info, err error) {
	resp, err := i.call(ctx, common.MsgTInfo, nil, nil, "", nil)
	if err != nil {
		return info, err
	}
	err = resp.DecodeResult(&info)
	return info, err
}

// Close closes the transport. The remote store stays open.
func (i *rpcStore) Close(_ context.Context) error {
	return i.transport.Close()
}
