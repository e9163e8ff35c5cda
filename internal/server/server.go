package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mehrguard/mehrguard/internal/api"
	"github.com/mehrguard/mehrguard/internal/config"
	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/metrics"
	"github.com/mehrguard/mehrguard/internal/tables"
	"github.com/mehrguard/mehrguard/internal/tables/sqlite"
	"github.com/mehrguard/mehrguard/internal/tables/update"
	"github.com/mehrguard/mehrguard/pkg/ratelimit"
)

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	store   *tables.Store
	history *sqlite.Store

	// manifest applies tables.manifest_path; remote polls tables.update.url.
	manifest *update.Updater
	remote   *update.Updater
	watcher  *update.Watcher

	logger *slog.Logger

	pprofLn     net.Listener
	pprofServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	engineCfg, err := cfg.Engine.Build()
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	store := tables.NewStore(tables.Default())
	store.OnSwap(func(prev, next *tables.Snapshot) {
		collector.IncTableSwap()
		logger.Info("tables activated",
			"version", next.Version,
			"previous", prev.Version,
			"source", next.Source,
		)
	})

	srv := &Server{store: store, logger: logger}

	var persister update.Persister
	if cfg.Tables.DBPath != "" {
		db, err := sqlite.Open(cfg.Tables.DBPath)
		if err != nil {
			return nil, err
		}
		srv.history = db
		if err := srv.restore(context.Background()); err != nil {
			_ = srv.Close()
			return nil, err
		}
		persister = metrics.WrapPersister(historyPersister{db: db, keep: cfg.Tables.HistoryKeep, logger: logger}, collector)
	}

	onTransition := func(_, to update.State) {
		if to.Terminal() {
			collector.IncUpdateCheck(string(to))
		}
	}

	if cfg.Tables.ManifestPath != "" {
		srv.manifest = update.New(store, update.NewFileSource(cfg.Tables.ManifestPath), update.Options{
			AllowDowngrade: cfg.Tables.Update.AllowDowngrade,
			Persister:      persister,
			Logger:         logger,
			OnTransition:   onTransition,
		})
		st, err := srv.manifest.CheckNow(context.Background())
		if err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("apply %s: %w", cfg.Tables.ManifestPath, err)
		}
		if st.State == update.StateNoUpdateNeeded {
			logger.Warn("manifest not newer than active tables; keeping active",
				"path", cfg.Tables.ManifestPath,
				"offered", st.OfferedVersion,
				"active", store.Current().Version,
			)
		}
		if cfg.Tables.Watch {
			w, err := update.NewWatcher(update.WatcherConfig{
				Path:     cfg.Tables.ManifestPath,
				Updater:  srv.manifest,
				Debounce: cfg.Tables.Debounce,
			})
			if err != nil {
				_ = srv.Close()
				return nil, err
			}
			srv.watcher = w
		}
	}

	if cfg.Tables.Update.Enabled {
		client := &http.Client{
			Timeout:   cfg.Tables.Update.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		srv.remote = update.New(store, update.NewHTTPSource(cfg.Tables.Update.URL, client), update.Options{
			Interval:       cfg.Tables.Update.Interval,
			AllowDowngrade: cfg.Tables.Update.AllowDowngrade,
			Persister:      persister,
			Logger:         logger,
			OnTransition:   onTransition,
		})
	}

	eng := engine.New(
		engine.WithTables(store),
		engine.WithConfig(engineCfg),
		engine.WithLogger(logger),
	)

	// The API triggers the remote source when there is one.
	apiUpdater := srv.remote
	if apiUpdater == nil {
		apiUpdater = srv.manifest
	}
	var limiter *ratelimit.Keyed
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = ratelimit.NewKeyed(rl.PerSecond, rl.Burst)
		logger.Info("rate limiting analyses", "per_second", rl.PerSecond, "burst", rl.Burst)
	}

	app := api.NewApp(cfg, api.Deps{
		Engine:    eng,
		Updater:   apiUpdater,
		Persister: persister,
		Metrics:   collector,
		Limiter:   limiter,
		Logger:    logger,
	})

	readTimeout, err := time.ParseDuration(cfg.Server.HTTP.ReadTimeout)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("parse server.http.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.HTTP.WriteTimeout)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("parse server.http.write_timeout: %w", err)
	}
	maxReqBytes, err := config.ParseByteSize(cfg.Server.HTTP.MaxRequestSize)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("parse server.http.max_request_size: %w", err)
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTP.Addr,
		Handler:           withRequestBodyLimit(app.Router(), maxReqBytes),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	if !isLoopbackListenAddr(cfg.Server.HTTP.Addr) {
		logger.Warn("api listening beyond loopback without authentication", "addr", cfg.Server.HTTP.Addr)
	}
	ln, err := listenHTTP(cfg)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	srv.httpLn = ln

	if cfg.Development.PProf.Enabled {
		addr := cfg.Development.PProf.Addr
		if !isLoopbackListenAddr(addr) {
			_ = srv.Close()
			return nil, fmt.Errorf("refusing to serve pprof on non-loopback address %q", addr)
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("pprof listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		srv.pprofLn = ln
		srv.pprofServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return srv, nil
}

// restore activates the newest persisted manifest when it beats the
// bundled tables. A corrupt record is logged and skipped.
func (s *Server) restore(ctx context.Context) error {
	snap, _, err := s.history.Latest(ctx)
	switch {
	case errors.Is(err, sqlite.ErrNoManifest):
		return nil
	case err != nil:
		s.logger.Warn("stored tables not restored", "error", err)
		return nil
	}
	if snap.Version <= s.store.Current().Version {
		return nil
	}
	_, err = s.store.Swap(snap)
	return err
}

// historyPersister saves accepted manifests and trims old ones.
type historyPersister struct {
	db     *sqlite.Store
	keep   int
	logger *slog.Logger
}

func (p historyPersister) Save(ctx context.Context, snap *tables.Snapshot, raw []byte) error {
	if err := p.db.Save(ctx, snap, raw); err != nil {
		return err
	}
	if p.keep > 0 {
		if _, err := p.db.Prune(ctx, p.keep); err != nil {
			p.logger.Warn("manifest history not pruned", "error", err)
		}
	}
	return nil
}

func withRequestBodyLimit(next http.Handler, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func listenHTTP(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.HTTP.Addr
	if !cfg.Server.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
		return nil, fmt.Errorf("server.tls enabled but cert_file/key_file missing")
	}
	cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	// ":8080" binds on all interfaces.
	if a == "" || strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.pprofLn != nil && s.pprofServer != nil {
		go func() { _ = s.pprofServer.Serve(s.pprofLn) }()
	}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch manifest: %w", err)
		}
	}
	if s.remote != nil {
		go s.remote.Run(ctx)
	}

	s.logger.Info("serving",
		"addr", s.Addr(),
		"tables_version", s.store.Current().Version,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.pprofServer != nil {
			_ = s.pprofServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if s.pprofServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.pprofServer.Shutdown(shutdownCtx)
		}
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.pprofLn != nil {
		_ = s.pprofLn.Close()
		s.pprofLn = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Stop()
		s.watcher = nil
	}
	if s.history != nil {
		_ = s.history.Close()
		s.history = nil
	}
	return nil
}

// Addr is the bound API address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func (s *Server) PProfAddr() string {
	if s == nil || s.pprofLn == nil {
		return ""
	}
	return s.pprofLn.Addr().String()
}

// Tables returns the active table store.
func (s *Server) Tables() *tables.Store { return s.store }
