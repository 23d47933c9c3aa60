package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/bus"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/dictation"
	"github.com/loqalabs/loqa-grammar/internal/dispatch"
	"github.com/loqalabs/loqa-grammar/internal/engine"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/grammarfile"
	"github.com/loqalabs/loqa-grammar/internal/history"
	"github.com/loqalabs/loqa-grammar/internal/natsserver"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	history       *history.Store
	engine        *engine.Engine
	loader        *grammarfile.Loader
	dispatch      *dispatch.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Engine returns the recognition engine once Start has built it.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/grammars", r.handleGrammars)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	if r.cfg.Grammars.Watch && r.loader != nil {
		watcher := grammarfile.NewWatcher(r.loader)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := watcher.Run(ctx); err != nil {
				r.logger.Error("grammar watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.history, err = history.Open(ctx, r.cfg.History, r.logger.With(slog.String("component", "history")))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	r.engine = engine.New(
		engine.WithLogger(r.logger),
		engine.WithWindowSource(r.windowSource()),
		engine.WithMaxWords(r.cfg.Engine.MaxWords),
	)

	if dir := r.cfg.Grammars.Directory; dir != "" {
		r.loader = grammarfile.NewLoader(dir, r.engine, r.logger, r.cfg.Grammars.Exclusive)
		report, err := r.loader.Sync()
		if err != nil {
			r.logger.Warn("some grammar files were not loaded", slog.String("error", err.Error()))
		}
		r.logger.Info("grammars loaded", slog.Int("count", len(report.Loaded)))
	}

	r.dispatch, err = dispatch.NewService(ctx, r.cfg.Dispatch, r.bus, r.engine, r.logger,
		dispatch.WithHistory(r.history),
		dispatch.WithDictation(dictation.Options{TwoSpacesAfterPeriod: r.cfg.Dictation.TwoSpacesAfterPeriod}),
	)
	if err != nil {
		return err
	}
	return r.dispatch.Start()
}

func (r *Runtime) windowSource() engine.WindowSource {
	switch r.cfg.Engine.WindowSource {
	case "hyprland":
		return engine.HyprlandWindow{Command: r.cfg.Engine.HyprctlCommand}
	default:
		return engine.StaticWindow(grammar.Window{
			Executable: r.cfg.Engine.Executable,
			Title:      r.cfg.Engine.Title,
		})
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.dispatch != nil {
		r.dispatch.Close()
	}
	if r.loader != nil {
		if err := r.loader.Close(); err != nil {
			r.logger.Warn("unloading grammars failed", slog.String("error", err.Error()))
		}
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.dispatch != nil && r.dispatch.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type grammarStatus struct {
	Name        string   `json:"name"`
	State       string   `json:"state"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	ActiveRules []string `json:"active_rules"`
}

func (r *Runtime) handleGrammars(w http.ResponseWriter, _ *http.Request) {
	active := r.engine.ActiveRules()
	var out []grammarStatus
	for _, g := range r.engine.Grammars() {
		out = append(out, grammarStatus{
			Name:        g.Name(),
			State:       string(g.State()),
			Fingerprint: g.Fingerprint(),
			ActiveRules: active[g.Name()],
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		r.logger.Warn("encode grammar status failed", slog.String("error", err.Error()))
	}
}
