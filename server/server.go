package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
)

const DefaultReloadTimeout = 5 * time.Minute

// What the HTTP interface needs from the arrivals engine. Satisfied by
// *arrivals.Manager.
type Service interface {
	Arrivals(ctx context.Context, stopID string, routeID string) (*model.ArrivalsResponse, error)
	Health() model.StaticStatus
	ReloadStatic(ctx context.Context) error
}

type Config struct {
	Service Service

	// Routes listed on the index page.
	Routes []string

	Metrics *metrics.Collector
	Logger  zerolog.Logger

	// Per IP, over RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration

	ReloadTimeout time.Duration
}

type handler struct {
	cfg Config
}

func NewRouter(cfg Config) *chi.Mux {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = DefaultReloadTimeout
	}

	h := &handler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(cfg.Logger))
	r.Use(Recovery(cfg.Logger))

	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.methodNotAllowed)

	r.Get("/", h.index)
	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimitByIP(cfg.RateLimit, cfg.RateWindow))
		}

		r.Get("/v1/arrivals/{stopID}", h.arrivals("route"))
		r.Get("/transit/{stopID}", h.arrivals("line"))
		r.Post("/v1/static/reload", h.reload)
	})

	return r
}

func (h *handler) arrivals(routeParam string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.cfg.Service.Arrivals(
			r.Context(),
			chi.URLParam(r, "stopID"),
			r.URL.Query().Get(routeParam),
		)
		if err != nil {
			writeError(w, r, h.cfg.Logger, err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

type HealthResponse struct {
	Status string             `json:"status"`
	Static model.StaticStatus `json:"static"`
}

// Degraded while the static schedule isn't loaded. Realtime queries
// still work then, without scheduled times.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	static := h.cfg.Service.Health()

	status := "ok"
	if !static.Loaded {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Static: static})
}

func (h *handler) reload(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ReloadTimeout)
		defer cancel()

		if err := h.cfg.Service.ReloadStatic(ctx); err != nil {
			h.cfg.Logger.Error().Err(err).Str("request_id", requestID).Msg("static reload failed")
			return
		}
		h.cfg.Logger.Info().Str("request_id", requestID).Msg("static reload complete")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reloading"})
}

type IndexResponse struct {
	Service string   `json:"service"`
	Usage   []string `json:"usage"`
	Routes  []string `json:"routes"`
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	routes := h.cfg.Routes
	if routes == nil {
		routes = []string{}
	}

	writeJSON(w, http.StatusOK, IndexResponse{
		Service: "MTA subway arrivals",
		Usage: []string{
			"GET /v1/arrivals/{stop_id}?route={route_id}",
			"GET /transit/{stop_id}?line={route_id}",
			"GET /health",
			"POST /v1/static/reload",
			"GET /metrics",
		},
		Routes: routes,
	})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		ErrorKind: arrivals.KindInvalidRequest.String(),
		Message:   fmt.Sprintf("no such endpoint: %s", r.URL.Path),
		RequestID: GetRequestID(r.Context()),
	})
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		ErrorKind: arrivals.KindInvalidRequest.String(),
		Message:   fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
		RequestID: GetRequestID(r.Context()),
	})
}

// Serves h on addr until ctx is done, then shuts down
// gracefully, giving in-flight requests up to shutdownTimeout.
func ListenAndServe(
	ctx context.Context,
	addr string,
	h http.Handler,
	shutdownTimeout time.Duration,
	log zerolog.Logger,
) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return Serve(ctx, ln, h, shutdownTimeout, log)
}

func Serve(
	ctx context.Context,
	ln net.Listener,
	h http.Handler,
	shutdownTimeout time.Duration,
	log zerolog.Logger,
) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errs <- srv.Serve(ln)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}
