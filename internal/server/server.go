package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tinywall/procman/internal/api"
	"github.com/tinywall/procman/internal/auth"
	"github.com/tinywall/procman/internal/config"
	"github.com/tinywall/procman/internal/logging"
	"github.com/tinywall/procman/internal/metrics"
	"github.com/tinywall/procman/internal/process"
	storepkg "github.com/tinywall/procman/internal/store"
	"github.com/tinywall/procman/internal/store/composite"
	"github.com/tinywall/procman/internal/store/jsonl"
	"github.com/tinywall/procman/internal/store/sqlite"
	"github.com/tinywall/procman/internal/watch"
	"github.com/tinywall/procman/pkg/hotreload"
)

const pruneInterval = time.Hour

type Server struct {
	cfg     *hotreload.Reloadable[config.Config]
	cfgPath string
	logger  *logging.Logger
	native  process.Native

	procs   *process.Manager
	store   storepkg.EventStore
	sqlite  *sqlite.Store
	watcher *watch.Watcher
	metrics *metrics.Collector
	keys    *auth.APIKeys

	httpServer *http.Server
	httpLn     net.Listener
	reloader   *hotreload.FileWatcher
}

type Option func(*Server)

// WithConfigPath enables reloading of the logging level and termination
// defaults when the file at path changes.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.cfgPath = path }
}

// WithNative replaces the host process capability set.
func WithNative(n process.Native) Option {
	return func(s *Server) { s.native = n }
}

func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		l, err := logging.New(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	s := &Server{cfg: hotreload.NewReloadable(cfg), logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.AuthEnabled() {
		keys, err := auth.LoadAPIKeys(cfg.Auth.APIKey.KeysFile, cfg.Auth.APIKey.HeaderName)
		if err != nil {
			return nil, fmt.Errorf("load api keys (set auth.type: none to serve without keys): %w", err)
		}
		s.keys = keys
	}

	procOpts := []process.Option{
		process.WithLogger(logger.Logger),
		process.WithPathCapacity(cfg.Inventory.PathBuffer),
	}
	if s.native != nil {
		procOpts = append(procOpts, process.WithNative(s.native))
	}
	s.procs = process.New(procOpts...)

	st, err := s.openStore(cfg)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics.New()
	st = metrics.WrapEventStore(st, s.metrics)
	s.store = st

	if cfg.Watch.Enabled {
		wopts := []watch.Option{
			watch.WithInterval(cfg.WatchInterval()),
			watch.WithLogger(logger.Logger),
		}
		if st != nil {
			wopts = append(wopts, watch.WithStore(st))
		}
		s.watcher = watch.New(s.procs, wopts...)
	}

	maxReq, err := config.ParseByteSize(cfg.Server.MaxRequestSize)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("parse server.max_request_size: %w", err)
	}
	readTimeout, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("parse server.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.WriteTimeout)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("parse server.write_timeout: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:      withRequestBodyLimit(s.router(), maxReq),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ln, err := listen(cfg.Server)
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.httpLn = ln

	if s.cfgPath != "" {
		fw, err := hotreload.NewFileWatcher(hotreload.WatcherConfig{
			Path: s.cfgPath,
			Load: s.reload,
			OnChange: func(path string, err error) {
				if err != nil {
					s.logger.Warn("config reload failed", slog.String("path", path), slog.Any("error", err))
				}
			},
		})
		if err != nil {
			_ = ln.Close()
			s.closeStore()
			return nil, err
		}
		s.reloader = fw
	}
	return s, nil
}

// openStore builds the event store: SQLite as the queryable primary, with an
// optional JSONL copy. It returns nil when neither is configured.
func (s *Server) openStore(cfg *config.Config) (storepkg.EventStore, error) {
	var primary, mirror storepkg.EventStore
	if cfg.Events.SQLitePath != "" {
		db, err := sqlite.Open(cfg.Events.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.sqlite = db
		primary = db
	}
	if cfg.Events.JSONLPath != "" {
		j, err := jsonl.New(cfg.Events.JSONLPath, cfg.Events.MaxSizeMB, cfg.Events.MaxBackups)
		if err != nil {
			if primary != nil {
				_ = primary.Close()
			}
			return nil, err
		}
		mirror = j
	}
	switch {
	case primary != nil && mirror != nil:
		return composite.New(primary, []storepkg.EventStore{mirror}, composite.WithLogger(s.logger.Logger)), nil
	case primary != nil:
		return primary, nil
	case mirror != nil:
		return mirror, nil
	}
	return nil, nil
}

func (s *Server) closeStore() {
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

func (s *Server) router() http.Handler {
	var appOpts []api.Option
	if s.keys != nil {
		appOpts = append(appOpts, api.WithAPIKeys(s.keys))
	}
	app := api.NewApp(s.cfg, s.procs, s.store, s.watcher, s.logger.Logger, appOpts...)
	var opts metrics.HandlerOptions
	if s.watcher != nil {
		opts.TrackedProcesses = s.watcher.Tracked
	}
	if s.cfgPath != "" {
		// The reloader is created after the router.
		opts.ConfigReloads = func() (int64, int64) {
			if s.reloader == nil {
				return 0, 0
			}
			st := s.reloader.Stats()
			return st.ReloadsSuccess, st.ReloadsFailed
		}
	}
	r := chi.NewRouter()
	r.Handle("/metrics", s.metrics.Handler(opts))
	r.Mount("/", app.Router())
	return r
}

func listen(cfg config.ServerConfig) (net.Listener, error) {
	if cfg.Pipe != "" {
		return listenPipe(cfg.Pipe)
	}
	// Keys travel in clear text; the API must not be reachable off-host.
	if !isLoopbackListenAddr(cfg.Addr) {
		return nil, fmt.Errorf("refusing to listen on %q (use 127.0.0.1/localhost or server.pipe)", cfg.Addr)
	}
	return net.Listen("tcp", cfg.Addr)
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

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// reload applies a changed config file. Only the logging level and the
// termination defaults take effect without a restart.
func (s *Server) reload(path string) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}
	old := s.cfg.Swap(next)
	if old == nil || old.Logging.Level != next.Logging.Level {
		s.logger.SetLevel(next.Logging.Level)
	}
	s.logger.Info("config reloaded",
		slog.String("path", path),
		slog.String("log_level", next.Logging.Level),
		slog.String("terminate_timeout", next.Terminate.Timeout),
		slog.Int64("version", s.cfg.Version()))
	return nil
}

// Config returns the configuration currently in effect.
func (s *Server) Config() *config.Config {
	return s.cfg.Get()
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("process watcher stopped", slog.Any("error", err))
			}
		}()
	}
	if s.reloader != nil {
		if err := s.reloader.Start(ctx); err != nil {
			s.logger.Warn("config watcher not started", slog.Any("error", err))
		} else {
			defer s.reloader.Stop()
		}
	}
	if s.sqlite != nil && s.cfg.Get().Retention() > 0 {
		go s.pruneLoop(ctx)
	}

	s.logger.Info("serving", slog.String("addr", s.Addr()))
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
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		s.pruneOnce(ctx, time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) pruneOnce(ctx context.Context, now time.Time) {
	retention := s.cfg.Get().Retention()
	if retention <= 0 {
		return
	}
	n, err := s.sqlite.Prune(ctx, now.Add(-retention))
	if err != nil {
		s.logger.Warn("prune events failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Debug("pruned events", slog.Int64("count", n))
	}
}

func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.reloader != nil {
		_ = s.reloader.Stop()
	}
	s.closeStore()
	return nil
}
