// Command malamar boots the runner core: it opens the store, wires the
// in-process capabilities (event bus, SSE registry, subprocess registry, CLI
// adapters, input builder, action executors, workers), and runs the
// scheduler until a termination signal arrives.
//
// Grounded on the teacher's cmd/maestro/main.go boot sequence: flag-parsed
// config path, signal-driven graceful shutdown with a bounded grace period.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malamar-dev/malamar/internal/chatexec"
	"github.com/malamar-dev/malamar/internal/chatworker"
	"github.com/malamar-dev/malamar/internal/cliadapter"
	"github.com/malamar-dev/malamar/internal/config"
	"github.com/malamar-dev/malamar/internal/eventbus"
	"github.com/malamar-dev/malamar/internal/inputbuilder"
	"github.com/malamar-dev/malamar/internal/logx"
	"github.com/malamar-dev/malamar/internal/procreg"
	"github.com/malamar-dev/malamar/internal/runner"
	"github.com/malamar-dev/malamar/internal/sse"
	"github.com/malamar-dev/malamar/internal/store"
	"github.com/malamar-dev/malamar/internal/taskexec"
	"github.com/malamar-dev/malamar/internal/taskworker"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("MALAMAR_CONFIG")
	}

	log := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("load config: %v", err)
		os.Exit(1)
	}

	if err := run(*cfg, log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logx.Logger) error {
	dbPath := filepath.Join(cfg.DataDir, "malamar.db")
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	if err := store.Open(dbPath); err != nil {
		return fmt.Errorf("open store at %s: %w", dbPath, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close store: %v", err)
		}
	}()

	if err := os.MkdirAll(cfg.Runner.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp dir %s: %w", cfg.Runner.TempDir, err)
	}

	db := store.DB()
	workspaces := store.NewWorkspaceStore(db)
	agents := store.NewAgentStore(db)
	tasks := store.NewTaskStore(db)
	taskQueue := store.NewTaskQueueStore(db)
	chats := store.NewChatStore(db)
	chatQueue := store.NewChatQueueStore(db)

	bus := eventbus.New()
	sseRegistry := sse.New()
	sseRegistry.Init(bus)
	defer sseRegistry.Shutdown()

	procs := procreg.New()

	adapters := cliadapter.NewRegistry()
	for _, a := range cliadapter.DefaultAdapters() {
		adapters.Register(a)
	}

	builder, err := inputbuilder.NewBuilder()
	if err != nil {
		return fmt.Errorf("init input builder: %w", err)
	}

	taskExecutor := taskexec.New(tasks, workspaces, bus)
	chatExecutor := chatexec.New(agents, workspaces, chats)

	tWorker := taskworker.New(taskQueue, tasks, workspaces, agents, adapters, procs, builder, taskExecutor, bus)
	cWorker := chatworker.New(chatQueue, chats, workspaces, agents, adapters, procs, builder, chatExecutor, bus)

	sched := runner.New(taskQueue, chatQueue, tWorker, cWorker, procs, cfg.PollInterval(), cfg.Runner.TempDir)

	metricsServer := startMetricsServer(cfg.Server.Host, cfg.Server.Port+1, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("runner starting (poll interval %s, temp dir %s)", cfg.PollInterval(), cfg.Runner.TempDir)

	// Run blocks until ctx is cancelled (by a signal), then performs its own
	// graceful shutdown (kill all subprocesses, quiesce, wait for workers)
	// before returning.
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler exited: %w", err)
	}
	return nil
}

// startMetricsServer exposes the Prometheus registry on /metrics for
// external scraping; it is not part of the collaborator HTTP layer's API
// surface and requires no request routing beyond the one handler.
func startMetricsServer(host string, port int, log *logx.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server: %v", err)
		}
	}()

	return srv
}
