package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/bus"
	"github.com/jobd-io/jobd/internal/circuitbreaker"
	"github.com/jobd-io/jobd/internal/config"
	"github.com/jobd-io/jobd/internal/engine"
	"github.com/jobd-io/jobd/internal/metrics"
	"github.com/jobd-io/jobd/internal/ops"
	"github.com/jobd-io/jobd/internal/reconciler"
	"github.com/jobd-io/jobd/internal/singleton"
	"github.com/jobd-io/jobd/internal/stats"
	"github.com/jobd-io/jobd/internal/store/postgres"
	"github.com/jobd-io/jobd/internal/tasks"
	"github.com/jobd-io/jobd/internal/workflow"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "start":
		os.Exit(runStart())
	case "stop":
		os.Exit(runStop())
	case "migrate":
		os.Exit(runMigrate())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`jobd - database-backed dynamic job scheduler

Usage:
  jobd <command>

Commands:
  start      Run the scheduling engine and reconciler until interrupted
  stop       Signal a running jobd process (requires PIDFILE)
  migrate    Apply pending database migrations
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for run stats (optional)
  HTTP_ADDR                 Ops HTTP server address (default: ":8080")
  TIMEZONE                  Default IANA zone for cron triggers (default: "UTC")
  WORKFLOW_SWEEP_URL        Deadline sweep collaborator endpoint (optional)
  PIDFILE                   Path to write the process pid (optional)
  LOG_LEVEL                 Log level (default: "info")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  RECONCILE_INTERVAL        Reconciliation cadence (default: "30s")
  ABANDONED_AFTER           Age before a running record is swept to timeout (default: "10m")
  DRAIN_TIMEOUT             Engine shutdown drain bound (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  SWEEP_INTERVAL            Deadline sweep job cadence (default: "60s")
  RETENTION_DAYS            Run record retention in days (default: "30")
  EVENTBUS_BUFFER_SIZE      Run event buffer size (default: "100")
  STATS_RETENTION           Redis stats bucket TTL (default: "24h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  BREAKER_THRESHOLD         Consecutive failures before a job is paused, 0 disables (default: "5")
  BREAKER_COOLDOWN          Pause length for a tripped job (default: "2m")

  SINGLETON_LOCK_ENABLED    Guard scheduling with a pg advisory lock (default: "false")
  SINGLETON_LOCK_KEY        Advisory lock key (default: "728311")
  SINGLETON_RETRY_INTERVAL  Lock acquisition retry cadence (default: "5s")
  SINGLETON_HEARTBEAT_INTERVAL  Lock connection ping cadence (default: "2s")`)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func runStart() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger := newLogger(cfg.LogLevel)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timezone: %v\n", err)
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	logger.Info().Int("max_open", cfg.DBMaxOpenConns).Int("max_idle", cfg.DBMaxIdleConns).
		Msg("db pool configured")

	store := postgres.New(db, cfg.DBOpTimeout)

	// Metrics sink (optional).
	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			logger.Info().Str("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).
				Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	} else {
		logger.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	// Workflow collaborator for the deadline sweep job.
	var workflowTasks tasks.WorkflowTasks = workflow.Noop{}
	if cfg.WorkflowSweepURL != "" {
		workflowTasks = workflow.NewHTTPClient(cfg.WorkflowSweepURL)
		logger.Info().Str("url", cfg.WorkflowSweepURL).Msg("workflow sweep collaborator configured")
	} else {
		logger.Info().Msg("WORKFLOW_SWEEP_URL not set; deadline sweep uses no-op collaborator")
	}

	// Closed target registry from the static manifest.
	reg := tasks.Manifest(tasks.Deps{
		Workflow: workflowTasks,
		Runs:     store,
		Logger:   logger,
	})

	// Seed the reserved maintenance jobs; no-op when they exist.
	ensureCtx, ensureCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = tasks.EnsureBuiltinJobs(ensureCtx, store, cfg.SweepInterval, cfg.RetentionDays)
	ensureCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure builtin jobs: %v\n", err)
		return exitRuntimeError
	}

	eventBus := bus.NewRunEventBus(cfg.EventBusBufferSize)

	eng := engine.New(
		engine.Config{DefaultLocation: loc},
		reg,
		store,
		logger,
	).WithMetrics(sink).WithPublisher(eventBus)

	if cfg.BreakerThreshold > 0 {
		eng = eng.WithBreaker(circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown))
		logger.Info().Int("threshold", cfg.BreakerThreshold).Dur("cooldown", cfg.BreakerCooldown).
			Msg("circuit breaker enabled")
	}

	recon := reconciler.New(
		reconciler.Config{
			Interval:       cfg.ReconcileInterval,
			AbandonedAfter: cfg.AbandonedAfter,
		},
		store,
		eng,
		logger,
	).WithMetrics(sink)

	// Stats recorder consumes run events when Redis is configured.
	var recorderWg sync.WaitGroup
	var cancelRecorder context.CancelFunc
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		recorder := stats.NewRecorder(stats.NewRedisSink(redisClient, cfg.StatsRetention), logger)

		var recorderCtx context.Context
		recorderCtx, cancelRecorder = context.WithCancel(context.Background())
		recorderWg.Add(1)
		go func() {
			defer recorderWg.Done()
			recorder.Run(recorderCtx, eventBus.Channel())
		}()
		logger.Info().Str("redis", cfg.RedisAddr).Msg("run stats enabled")
	} else {
		logger.Info().Msg("REDIS_ADDR not set; run stats disabled")
	}

	// Ops HTTP server.
	opsServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: ops.NewHandler(eng, store, version),
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("ops http server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("ops http server error")
		}
	}()

	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write pidfile: %v\n", err)
			if cancelRecorder != nil {
				cancelRecorder()
			}
			return exitRuntimeError
		}
		defer os.Remove(cfg.PidFile)
	}

	// startDuties syncs once so no job is missing before the first
	// periodic pass, starts the engine, and runs the reconciler loop
	// until its context is cancelled.
	var dutiesWg sync.WaitGroup
	startDuties := func(ctx context.Context) {
		if err := recon.SyncOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("initial reconciliation failed; continuing with empty timer set")
		}
		if err := eng.Start(); err != nil {
			logger.Error().Err(err).Msg("engine start failed")
			return
		}
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			recon.Run(ctx)
		}()
	}
	stopDuties := func() {
		dutiesWg.Wait()
		if err := eng.Stop(cfg.DrainTimeout); err != nil {
			logger.Error().Err(err).Msg("engine stop failed")
		}
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	var guardWg sync.WaitGroup

	if cfg.SingletonLockEnabled {
		guard := singleton.New(
			db,
			cfg.SingletonLockKey,
			cfg.SingletonRetryInterval,
			cfg.SingletonHeartbeatInterval,
			startDuties,
			stopDuties,
			logger,
		)
		guardWg.Add(1)
		go func() {
			defer guardWg.Done()
			guard.Run(rootCtx)
		}()
	} else {
		startDuties(rootCtx)
	}

	logger.Info().Str("version", version).Str("tz", cfg.Timezone).
		Dur("reconcile_interval", cfg.ReconcileInterval).Msg("jobd started")

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info().Str("signal", received.String()).Msg("shutting down")

	// A second signal exits immediately.
	go func() {
		second := <-sig
		logger.Warn().Str("signal", second.String()).Msg("forced exit")
		os.Exit(exitRuntimeError)
	}()

	// Phase 1: stop scheduling duties (reconciler, then engine drain).
	cancelRoot()
	if cfg.SingletonLockEnabled {
		guardWg.Wait()
	} else {
		stopDuties()
	}

	// Phase 2: stop the stats recorder (drains buffered events).
	if cancelRecorder != nil {
		cancelRecorder()
		recorderWg.Wait()
	}

	// Phase 3: stop HTTP servers.
	shutdownServer(opsServer, cfg.HTTPShutdownTimeout, logger, "ops http")
	if metricsServer != nil {
		shutdownServer(metricsServer, cfg.HTTPShutdownTimeout, logger, "metrics")
	}

	logger.Info().Msg("jobd stopped")
	return exitSuccess
}

func shutdownServer(srv *http.Server, timeout time.Duration, logger zerolog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Str("server", name).Msg("http shutdown error")
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func runStop() int {
	cfg := config.Load()
	if cfg.PidFile == "" {
		fmt.Fprintln(os.Stderr, "stop requires PIDFILE to be set")
		return exitInvalidConfig
	}

	data, err := os.ReadFile(cfg.PidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read pidfile: %v\n", err)
		return exitRuntimeError
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pidfile contents: %v\n", err)
		return exitRuntimeError
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal pid %d: %v\n", pid, err)
		return exitRuntimeError
	}

	fmt.Printf("sent SIGTERM to pid %d\n", pid)
	return exitSuccess
}

func runMigrate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := postgres.Migrate(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println("migrations applied")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("jobd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
