package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/web/lifecycle"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var Logger = logging.GetLogger("transport/rpc")

// maxRequestBytes limits the body of a single request
const maxRequestBytes = 64 << 20

// NewHttpServerTransport creates the http server transport. Besides the rpc
// route (POST /{shardId}) it serves /healthz, /readyz and /metrics.
func NewHttpServerTransport() *HttpServerTransport {
	return &HttpServerTransport{probes: lifecycle.NewProbes(nil)}
}

// HttpServerTransport implements transport.IRPCServerTransport over http
type HttpServerTransport struct {
	handler transport.ServerHandleFunc
	timeout time.Duration
	probes  *lifecycle.Probes
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *HttpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *HttpServerTransport) Listen(ctx context.Context, config common.ServerConfig) error {
	t.timeout = time.Duration(config.TimeoutSecond) * time.Second

	t.probes.SetReady(true)
	defer t.probes.SetReady(false)

	Logger.Infof("Starting HTTP server on %s", config.Endpoint)
	return lifecycle.Serve(ctx, config.Endpoint, t.Handler())
}

// Handler returns the router of the transport. It is exposed for tests and
// for embedding the rpc api into another server.
func (t *HttpServerTransport) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(lifecycle.RequestLogger(Logger))

	t.probes.Mount(r)
	r.Post("/{shardId}", t.handleRequest)
	return r
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *HttpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	shardId, err := strconv.ParseUint(chi.URLParam(r, "shardId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid shardId", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if t.handler == nil {
		http.Error(w, "No handler registered", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	resp := t.handler(ctx, shardId, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		Logger.Warnf("Failed to write response: %v", err)
	}
}
