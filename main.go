package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collection-viewer/internal/collectionindex"
	"collection-viewer/internal/credentials"
	"collection-viewer/internal/docstore"
	"collection-viewer/internal/httpapi"
	"collection-viewer/internal/imageproc"
	"collection-viewer/internal/jobs"
	"collection-viewer/internal/kvstore"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/memory"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"
	"collection-viewer/internal/msgbus"
	"collection-viewer/internal/scheduler"
	"collection-viewer/internal/startup"
	"collection-viewer/internal/thumbnail"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// GOMEMLIMIT must be in place before any significant allocation.
	memResult := memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryConfig(startup.MemoryConfig{
		Configured:     memResult.Configured,
		Source:         memResult.Source,
		ContainerLimit: memResult.ContainerLimit,
		GoMemLimit:     memResult.GoMemLimit,
		Ratio:          memResult.Ratio,
	})

	metrics.InitializeMetrics()
	build := startup.GetBuildInfo()
	metrics.SetAppInfo(build.Version, build.Commit, build.GoVersion)

	// Connect backing services
	startup.LogBackendSection()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelConnect()

	docStart := time.Now()
	store, err := docstore.Connect(connectCtx, config.MongoURI, config.MongoDatabase)
	if err != nil {
		startup.LogFatal("Document store connection failed: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logging.Warn("Document store close error: %v", err)
		}
	}()
	startup.LogBackendReady("Document store", time.Since(docStart))

	kvStart := time.Now()
	kvs := kvstore.NewStore(config.RedisAddr, config.RedisPassword, config.RedisDB)
	defer kvs.Close()
	if err := kvs.WaitReady(connectCtx, 30*time.Second); err != nil {
		startup.LogFatal("Key-value store connection failed: %v", err)
	}
	startup.LogBackendReady("Key-value store", time.Since(kvStart))

	// A dead broker is not fatal: the supervisor's poll loop keeps jobs
	// moving, and publishes reconnect lazily.
	bus := msgbus.NewClient(msgbus.Config{URL: config.AMQPURL, Exchange: config.ExchangeName})
	defer bus.Close()
	busStart := time.Now()
	if err := bus.Ping(connectCtx); err != nil {
		startup.LogBackendDegraded("Message bus", err)
	} else {
		startup.LogBackendReady("Message bus", time.Since(busStart))
	}

	// Image pipeline
	startup.LogVideoSupportInit()
	if err := imageproc.InitVips(); err != nil {
		logging.Warn("libvips unavailable, using pure-Go decoding: %v", err)
	}
	defer imageproc.ShutdownVips()

	// Collection index
	startup.LogIndexInit()
	settings := thumbnail.NewSettingsCache(store.Settings, 0)
	encoder := thumbnail.NewEncoder(thumbnail.DefaultPolicy(), settings)
	engine := collectionindex.NewEngine(kvs, store.Collections, encoder)
	engine.SetFolderSource(store.CacheFolders)

	healthProbe := func(ctx context.Context) models.SystemHealth {
		health := models.SystemHealth{
			IndexStoreConnected: kvs.Ping(ctx) == nil,
			DocStoreConnected:   store.Ping(ctx) == nil,
			BrokerConnected:     bus.Connected(),
		}
		if n, err := store.Jobs.CountPending(ctx); err == nil {
			health.PendingJobs = n
		}
		return health
	}
	engine.SetHealthProbe(healthProbe)

	if n, err := engine.IndexedCount(connectCtx); err == nil {
		logging.Info("  [OK] Index holds %d collections", n)
	}

	// Memory pressure monitor
	memCfg := memory.DefaultConfig()
	if config.MemoryLimitMB > 0 {
		memCfg.MemoryLimitBytes = int64(config.MemoryLimitMB) << 20
	}
	monitor := memory.NewMonitor(memCfg)
	monitor.Start()

	// Background jobs
	startup.LogJobRunnerInit(config.JobWorkers, config.JobPollInterval)
	runner := jobs.NewRunner(jobs.Config{
		Queue:     store.Jobs,
		Docs:      store.Collections,
		Libraries: store.Libraries,
		Folders:   store.CacheFolders,
		Index:     engine,
		Bus:       bus,
		Memory:    monitor,
		CacheDir:  config.CacheDir,
		Settings:  settings,
	})

	jobCtx, stopJobs := context.WithCancel(context.Background())
	supervisor := jobs.NewSupervisor(runner, config.JobWorkers, config.JobPollInterval)
	supervisor.Start(jobCtx)

	consumers := jobs.NewConsumers(bus, runner)
	consumers.Start(jobCtx)

	// Scheduler
	var sched *scheduler.Service
	if config.SchedulerEnabled {
		sched = scheduler.New(store.ScheduledJobs, runner)
		if n, err := sched.Load(connectCtx); err != nil {
			logging.Warn("Scheduler load failed, continuing without schedules: %v", err)
			sched = nil
		} else {
			sched.Start()
			startup.LogSchedulerInit(n)
		}
	}

	// Polled gauges
	var collector *metrics.Collector
	if config.MetricsEnabled {
		collector = metrics.NewCollector(&gaugeSource{engine: engine, kvs: kvs, jobs: store.Jobs}, 30*time.Second)
		collector.Start()
	}

	// Token issuer
	secret := []byte(config.JWTSecret)
	if len(secret) == 0 {
		generated, err := credentials.Generate(32)
		if err != nil {
			startup.LogFatal("Failed to generate session secret: %v", err)
		}
		secret = []byte(generated)
	}
	issuer := credentials.NewTokenIssuer(secret, config.JWTIssuer, config.JWTAudience)

	// HTTP API
	h := httpapi.New(httpapi.Config{
		Collections: store.Collections,
		Queue:       store.Jobs,
		Runner:      runner,
		Users:       store.Users,
		Tokens:      store.RefreshTokens,
		Engine:      engine,
		Issuer:      issuer,
		Health:      healthProbe,
	})

	startup.LogHTTPRoutes(h.Routes(), config.LogStaticFiles, config.LogHealthChecks)

	handler := h.NewRouter(httpapi.RouterOptions{
		LogHealthChecks: config.LogHealthChecks,
		MetricsEnabled:  config.MetricsEnabled,
	})

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	go handleShutdown(components{
		srv:        srv,
		metricsSrv: metricsSrv,
		sched:      sched,
		stopJobs:   stopJobs,
		supervisor: supervisor,
		consumers:  consumers,
		monitor:    monitor,
		collector:  collector,
	})

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

// indexedCounter reports the size of the collection index.
type indexedCounter interface {
	IndexedCount(ctx context.Context) (int64, error)
}

// keyCounter reports the number of keys in the key-value store.
type keyCounter interface {
	DBSize(ctx context.Context) (int64, error)
}

// pendingCounter reports the number of jobs waiting to run.
type pendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// gaugeSource polls point-in-time counts for the metrics collector. A
// failed read reports -1, which leaves that gauge at its last value.
type gaugeSource struct {
	engine indexedCounter
	kvs    keyCounter
	jobs   pendingCounter
}

func (g *gaugeSource) GetGaugeStats() metrics.GaugeStats {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := metrics.GaugeStats{IndexedCollections: -1, KVSKeys: -1, PendingJobs: -1}
	if n, err := g.engine.IndexedCount(ctx); err == nil {
		stats.IndexedCollections = n
	}
	if n, err := g.kvs.DBSize(ctx); err == nil {
		stats.KVSKeys = n
	}
	if n, err := g.jobs.CountPending(ctx); err == nil {
		stats.PendingJobs = n
	}
	return stats
}

// components carries everything the shutdown path stops, in order: no new
// work first, then in-flight work, then the listeners. The backing store
// connections close via defers in main once the server loop returns.
type components struct {
	srv        *http.Server
	metricsSrv *http.Server
	sched      *scheduler.Service
	stopJobs   context.CancelFunc
	supervisor *jobs.Supervisor
	consumers  *jobs.Consumers
	monitor    *memory.Monitor
	collector  *metrics.Collector
}

func handleShutdown(c components) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.sched != nil {
		startup.LogShutdownStep("Stopping scheduler")
		c.sched.Stop()
		startup.LogShutdownStepComplete("Scheduler stopped")
	}

	startup.LogShutdownStep("Stopping job workers")
	c.stopJobs()
	c.supervisor.Wait()
	c.consumers.Wait()
	startup.LogShutdownStepComplete("Job workers stopped")

	if c.collector != nil {
		c.collector.Stop()
	}
	c.monitor.Stop()

	if c.metricsSrv != nil {
		if err := c.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := c.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
