package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"go.mongodb.org/mongo-driver/bson"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, req *common.Message, s store.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse(common.MsgTError, fmt.Errorf("handler: store is nil"))
	}

	// Decode the arguments shared by all operations
	filter, err := req.DecodeFilter()
	if err != nil {
		return common.NewErrorResponse(req.MsgType, err)
	}
	o, err := req.DecodeOptions()
	if err != nil {
		return common.NewErrorResponse(req.MsgType, err)
	}
	opts := []store.Option{store.WithOptions(o)}

	var (
		result any
		opErr  error
	)

	switch req.MsgType {
	case common.MsgTFind:
		result, opErr = s.Find(ctx, filter, opts...)
	case common.MsgTInsert:
		data, err := req.DecodeData()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		result, opErr = s.Insert(ctx, data, opts...)
	case common.MsgTUpdate:
		update, err := req.DecodeData()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		result, opErr = s.Update(ctx, filter, pipelineOrDocument(update), opts...)
	case common.MsgTDelete:
		result, opErr = s.Delete(ctx, filter, opts...)
	case common.MsgTReplace:
		replacement, err := req.DecodeData()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		result, opErr = s.Replace(ctx, filter, replacement, opts...)
	case common.MsgTAggregate:
		pipeline, err := req.DecodePipeline()
		if err != nil {
			return common.NewErrorResponse(req.MsgType, err)
		}
		result, opErr = s.Aggregate(ctx, pipeline, opts...)
	case common.MsgTCount:
		result, opErr = s.Count(ctx, filter, opts...)
	case common.MsgTDistinct:
		result, opErr = s.Distinct(ctx, req.Field, filter, opts...)
	case common.MsgTInfo:
		result, opErr = s.GetInfo(ctx)
	default:
		return common.NewErrorResponse(req.MsgType, store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType)))
	}

	return common.NewResponse(req.MsgType, result, opErr)
}

// pipelineOrDocument turns a decoded sequence of update stages into a
// pipeline update. Documents are returned unchanged.
func pipelineOrDocument(update any) any {
	stages, ok := update.(bson.A)
	if !ok {
		return update
	}
	pipeline, err := common.ToDocuments(stages)
	if err != nil {
		return update
	}
	return pipeline
}
