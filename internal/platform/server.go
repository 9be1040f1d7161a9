package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ticketing/internal/tickets"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogctx "github.com/veqryn/slog-context"
)

// HTTPServerConfig holds ops HTTP server tunables.
type HTTPServerConfig struct {
	Enabled      bool          `envconfig:"ENABLED" default:"true"`
	Port         int           `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	EnableTLS    bool          `envconfig:"ENABLE_TLS"`
	CertFile     string        `envconfig:"CERT_FILE"`
	KeyFile      string        `envconfig:"KEY_FILE"`
}

// Routes carries what the ops server exposes. Store may be nil, in which
// case the ticket routes are not mounted.
type Routes struct {
	Conn    ConnStatus
	Store   tickets.Store
	Metrics *Metrics
}

// NewRouter builds the ops HTTP handler.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.Metrics))
	r.Use(middleware.Recoverer)

	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/health", Health(rt.Conn))
	if rt.Store != nil {
		r.Get("/tickets", ListTickets(rt.Store))
		r.Get("/tickets/{id}", GetTicket(rt.Store))
	}
	return r
}

// RunHTTPServer starts an HTTP server and returns a channel that will receive
// an error when the server exits (gracefully or not). A listen failure and
// the later shutdown each send once; neither blocks on an unread channel.
func RunHTTPServer(ctx context.Context, handler http.Handler, cfg HTTPServerConfig) <-chan error {
	errCh := make(chan error, 2)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errCh <- err
			return
		}
		errCh <- ctx.Err()
	}()

	go func() {
		slog.Info("Ops HTTP server listening", "addr", srv.Addr, "tls", cfg.EnableTLS)
		var err error
		if cfg.EnableTLS {
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}

// requestLogger records request metrics and logs each request. The request
// id is attached to the context logger for downstream handlers.
func requestLogger(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t0 := time.Now()
			ctx := slogctx.Append(r.Context(), "request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			duration := time.Since(t0)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if m != nil {
				m.httpRequests.WithLabelValues(r.Method, route, fmt.Sprint(ww.Status())).Inc()
				m.httpDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
			}
			slog.InfoContext(ctx, "http", "method", r.Method, "path", r.URL.Path, "route", route, "status", ww.Status(), "duration", duration)
		})
	}
}
