package lifecycle

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestProbes(t *testing.T) {
	var failing bool
	probes := NewProbes(func(ctx context.Context) error {
		if failing {
			return errors.New("database unreachable")
		}
		return nil
	})

	r := chi.NewRouter()
	r.Use(RequestLogger(logging.GetLogger("test")))
	probes.Mount(r)

	if code, _ := get(t, r, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz must always succeed, got %d", code)
	}
	if code, _ := get(t, r, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("expected not ready before SetReady, got %d", code)
	}

	probes.SetReady(true)
	if code, _ := get(t, r, "/readyz"); code != http.StatusOK {
		t.Errorf("expected ready, got %d", code)
	}

	failing = true
	if code, body := get(t, r, "/readyz"); code != http.StatusServiceUnavailable || !strings.Contains(body, "database unreachable") {
		t.Errorf("expected the failing check to be reported, got %d %q", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.GetOrCreateCounter(`ddoc_lifecycle_test_total`).Inc()

	r := chi.NewRouter()
	NewProbes(nil).Mount(r)

	code, body := get(t, r, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "ddoc_lifecycle_test_total 1") {
		t.Errorf("expected the counter in the output, got %d %q", code, body)
	}
}

func TestServeShutsDownGracefully(t *testing.T) {
	// reserve a free port
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("hello"))
		}))
	}()

	// wait until the server accepts requests
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "hello" {
		t.Errorf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a graceful shutdown, got %v", err)
		}
	case <-time.After(ShutdownTimeout):
		t.Fatalf("server did not stop")
	}
}
