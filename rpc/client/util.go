package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

var (
	Logger = logging.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It returns the response message or an error. Errors reported by the server
// are returned as *store.Error with the server's code, transport failures
// as *store.Error with RetCConnectionError.
func invokeRPCRequest(ctx context.Context, shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, store.WrapError(store.RetCValidationError, err, "failed to serialize %s request", req.MsgType)
	}

	respBytes, err := transport.Send(ctx, shardId, reqBytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, store.WrapError(store.RetCConnectionError, err, "shard %d unreachable", shardId)
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.WrapError(store.RetCInternalError, err, "malformed %s response", req.MsgType)
	}

	// Check if the response is an error response
	if err := resp.Error(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, store.NewError(store.RetCInternalError,
			fmt.Sprintf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType))
	}

	return resp, nil
}
