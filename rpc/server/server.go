package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dDoc/lib/cache"
	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/cstore"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logging.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter that handles
// requests for the store
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer hosts one store per shard behind a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	engine     cache.Engine
}

// AddShard registers s under shardId, replacing a previous store. The
// server takes ownership of s and closes it on shutdown.
func (s *RPCServer) AddShard(shardId uint64, st store.IStore) {
	if old, loaded := s.shards.LoadAndStore(shardId, serverShard{Store: st, Adapter: NewIStoreServerAdapter()}); loaded {
		if err := old.Store.Close(context.Background()); err != nil {
			Logger.Warnf("failed to close replaced store of shard %d: %v", shardId, err)
		}
	}
}

// Handle decodes a serialized request for shardId, runs it and returns the
// serialized response. Failures are always reported as error responses.
func (s *RPCServer) Handle(ctx context.Context, shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	shard, ok := s.shards.Load(shardId)
	if !ok {
		respMsg = common.NewErrorResponse(common.MsgTError,
			store.NewError(store.RetCValidationError, fmt.Sprintf("shard %d not found", shardId)))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(common.MsgTError,
			store.WrapError(store.RetCValidationError, err, "failed to deserialize request"))
	} else {
		respMsg = shard.Adapter.Handle(ctx, &msg, shard.Store)
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_rpc_requests_total{shard="%d",op=%q,code=%q}`,
		shardId, respMsg.MsgType, responseCode(respMsg))).Inc()

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(common.MsgTError,
			fmt.Errorf("failed to serialize response: %w", err)))
	}
	return val
}

// init opens the cache engine and the stores of all configured shards
func (s *RPCServer) init(ctx context.Context) error {
	if err := logging.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	if err := s.config.Validate(); err != nil {
		return err
	}

	engine, err := cstore.OpenCache(ctx, s.config.Cache, s.config.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}
	s.engine = engine

	for _, shardConfig := range s.config.Shards {
		st, err := cstore.Open(ctx, s.config.ShardConnection(shardConfig), engine)
		if err != nil {
			return fmt.Errorf("failed to open store for shard %d: %w", shardConfig.ShardID, err)
		}
		s.AddShard(shardConfig.ShardID, st)
		Logger.Infof("created store for shard %d (collection %s)", shardConfig.ShardID, shardConfig.Collection)
	}

	Logger.Infof("dDoc setup completed successfully")

	s.transport.RegisterHandler(s.Handle)
	return nil
}

// Serve initializes the shards and serves requests until ctx is cancelled.
// All stores and the cache engine are closed before Serve returns.
func (s *RPCServer) Serve(ctx context.Context) error {
	defer s.Close()
	if err := s.init(ctx); err != nil {
		return err
	}
	return s.transport.Listen(ctx, s.config)
}

// Close closes all stores and the cache engine
func (s *RPCServer) Close() error {
	var errs []error
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.Store.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
		s.shards.Delete(id)
		return true
	})
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
		s.engine = nil
	}
	return errors.Join(errs...)
}

// responseCode is the metric label of a response
func responseCode(msg *common.Message) string {
	if err := msg.Error(); err != nil {
		return store.CodeOf(err).String()
	}
	return store.RetCSuccess.String()
}
