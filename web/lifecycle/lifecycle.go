package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var logger = logging.GetLogger("http")

const (
	// ShutdownTimeout bounds the time in-flight requests get to finish
	ShutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Serve runs an http server for h on addr until ctx is cancelled. On
// cancellation it drains in-flight requests for at most ShutdownTimeout.
// It returns nil after a graceful shutdown.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	logger.Infof("listening on %s", addr)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Infof("stopped listening on %s", addr)
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// --------------------------------------------------------------------------
// Probes
// --------------------------------------------------------------------------

// Probes holds the readiness state of a process. The zero value is not ready.
type Probes struct {
	ready atomic.Bool
	check func(ctx context.Context) error
}

// NewProbes creates probes whose readiness additionally requires check to
// succeed. check may be nil.
func NewProbes(check func(ctx context.Context) error) *Probes {
	return &Probes{check: check}
}

// SetReady marks the process as (not) ready to serve traffic
func (p *Probes) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Mount registers /healthz, /readyz and /metrics on r.
//
//	/healthz  200 as long as the process serves http
//	/readyz   200 once SetReady(true) was called and check succeeds, 503 otherwise
//	/metrics  all VictoriaMetrics metrics in Prometheus text format
func (p *Probes) Mount(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !p.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if p.check != nil {
			if err := p.check(r.Context()); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
}

// --------------------------------------------------------------------------
// Middleware
// --------------------------------------------------------------------------

// RequestLogger logs every request at debug level and counts responses in
// ddoc_http_requests_total{code}. Route patterns are logged instead of raw
// paths where chi knows them.
func RequestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_http_requests_total{code="%d"}`, status)).Inc()

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			log.Debugf("%s %s => %d took %s", r.Method, path, status, time.Since(start))
		})
	}
}
