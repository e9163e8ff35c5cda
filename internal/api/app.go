package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mehrguard/mehrguard/internal/config"
	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/metrics"
	"github.com/mehrguard/mehrguard/internal/tables/update"
	"github.com/mehrguard/mehrguard/pkg/ratelimit"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type App struct {
	cfg       *config.Config
	engine    *engine.Engine
	updater   *update.Updater
	persister update.Persister
	metrics   *metrics.Collector
	limiter   *ratelimit.Keyed
	logger    *slog.Logger
}

// Deps are the collaborators of an App. Only Engine is required.
type Deps struct {
	Engine *engine.Engine
	// Updater backs the /tables/update routes; nil disables them.
	Updater *update.Updater
	// Persister records manifests accepted through PUT /tables.
	Persister update.Persister
	Metrics   *metrics.Collector
	// Limiter meters analyses per client address; nil disables it.
	Limiter *ratelimit.Keyed
	Logger  *slog.Logger
}

func NewApp(cfg *config.Config, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &App{
		cfg:       cfg,
		engine:    deps.Engine,
		updater:   deps.Updater,
		persister: deps.Persister,
		metrics:   deps.Metrics,
		limiter:   deps.Limiter,
		logger:    logger,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, a.ready)
	if a.cfg.Metrics.Enabled && a.metrics != nil {
		store := a.engine.Tables()
		r.Method(http.MethodGet, a.cfg.Metrics.Path, a.metrics.Handler(metrics.HandlerOptions{
			TablesVersion: func() int { return store.Current().Version },
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", a.analyze)
		r.Post("/analyze/batch", a.analyzeBatch)

		r.Get("/reasons", a.listReasons)

		r.Get("/tables", a.getTables)
		r.Put("/tables", a.putTables)
		r.Get("/tables/update", a.updateStatus)
		r.Post("/tables/update", a.triggerUpdate)
	})

	return otelhttp.NewHandler(r, "mehrguard.api")
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	if a.engine == nil || a.engine.Tables().Current() == nil {
		writeText(w, http.StatusServiceUnavailable, "not ready\n")
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

// allow charges n analyses to the calling client. On refusal it writes a
// 429 and returns false.
func (a *App) allow(w http.ResponseWriter, r *http.Request, n int) bool {
	if a.limiter == nil {
		return true
	}
	if b := a.limiter.Burst(); n > b {
		n = b
	}
	key := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		key = host
	}
	ok, retryAfter := a.limiter.AllowN(key, n)
	if ok {
		return true
	}
	secs := int(retryAfter.Seconds())
	if retryAfter%time.Second != 0 || secs == 0 {
		secs++
	}
	a.metrics.IncRejected()
	a.logger.Debug("rate limited", "request_id", requestIDFrom(r.Context()), "client", key, "cost", n)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

type requestIDKey struct{}

// requestID echoes a caller-supplied X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
