package web

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/identity"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/ops"
)

// Deps are the collaborators the HTTP surface calls into.
type Deps struct {
	DB       *sql.DB
	Config   *config.Config
	Identity identity.Verifier
	Gateway  *ops.Gateway
	Registry *cancel.Registry
	Sweeper  *ops.Sweeper
	Log      *logger.Logger
}

// NewServer creates the HTTP server for the callcoach API.
func NewServer(d Deps) *http.Server {
	h := &Handlers{
		db:       d.DB,
		cfg:      d.Config,
		identity: d.Identity,
		gateway:  d.Gateway,
		registry: d.Registry,
		sweeper:  d.Sweeper,
		log:      d.Log,
	}

	return &http.Server{
		Addr:              d.Config.HTTPAddr,
		Handler:           requestLog(d.Log, securityHeaders(h.routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HandleHealth)

	mux.HandleFunc("POST /ingest/credential", h.HandleCredential)
	mux.HandleFunc("POST /ingest/complete-callback", h.HandleCompleteCallback)
	mux.HandleFunc("POST /ingest/storage-event", h.HandleStorageEvent)
	mux.HandleFunc("GET /ingest/{id}", h.HandleIngestionStatus)

	mux.HandleFunc("POST /operations/{id}/cancel", h.HandleCancel)

	mux.HandleFunc("GET /analyses/progression", h.HandleProgression)
	mux.HandleFunc("GET /analyses/{id}", h.HandleAnalysis)
	mux.HandleFunc("POST /analyses", h.HandleSubmitAnalysis)
	mux.HandleFunc("POST /analyses/backfill", h.admin(h.HandleBackfill))

	mux.HandleFunc("POST /storage/sweep", h.admin(h.HandleSweep))
	mux.HandleFunc("GET /storage/stats", h.admin(h.HandleStats))

	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLog logs one line per request with its request id.
func requestLog(l *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := l.WithRequest(r).WithField("status", rec.status).WithField("duration_ms", time.Since(start).Milliseconds())
		if rec.status >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Info("request")
	})
}

// Run serves until SIGINT/SIGTERM, then shuts the listener down gracefully.
// drain runs after the listener stops so in-flight pipelines can finish.
func Run(srv *http.Server, l *logger.Logger, drain func(ctx context.Context)) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	l.WithField("addr", srv.Addr).Info("callcoach API listening")
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, ":") || strings.Contains(srv.Addr, "::") {
		l.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		l.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(ctx)
		if drain != nil {
			drain(ctx)
		}
		return err
	}
}
