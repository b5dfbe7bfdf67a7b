package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/vulnscan-armada/internal/api"
	"github.com/ahrav/vulnscan-armada/internal/app/scheduling"
	"github.com/ahrav/vulnscan-armada/internal/app/trigger"
	"github.com/ahrav/vulnscan-armada/internal/config"
	"github.com/ahrav/vulnscan-armada/internal/config/fileloader"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/internal/infra/storage"
	pgstore "github.com/ahrav/vulnscan-armada/internal/infra/storage/postgres"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/otel"
	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

const serviceType = "controller"

var (
	app        = kingpin.New("controller", "Vulnerability scan task orchestration controller.")
	configPath = app.Flag("config", "Path to a YAML config file.").Envar("VULNSCAN_CONFIG").String()

	serveCmd = app.Command("serve", "Run the controller: HTTP surface, leader election and state triggers.").Default()

	triggerCmd   = app.Command("trigger", "Run a single cycle for one state and exit.")
	triggerState = triggerCmd.Arg("state", "State to handle: pending, running, stopped, failed or deleted.").Required().String()
)

func main() {
	_, _ = maxprocs.Set()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := fileloader.NewFileLoader(*configPath).Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	var runErr error
	switch command {
	case serveCmd.FullCommand():
		runErr = serve(ctx, cfg, log)
	case triggerCmd.FullCommand():
		runErr = runOnce(ctx, cfg, log, *triggerState)
	}
	if runErr != nil {
		log.Error(ctx, "controller exited with error", "command", command, "error", runErr)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	hostname, _ := os.Hostname()

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	metadata := map[string]string{
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	return logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(cfg.Log.Level),
		cfg.Log.ServiceName,
		otel.GetTraceID,
		logEvents,
		metadata,
	)
}

// controller holds the components shared by every command.
type controller struct {
	cfg      *config.Config
	log      *logger.Logger
	tel      otel.Telemetry
	registry *prometheus.Registry

	deps    *dependencies
	cleanup []func()
}

func (rt *controller) close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
}

func setup(ctx context.Context, cfg *config.Config, log *logger.Logger) (*controller, error) {
	hostname, _ := os.Hostname()
	rt := &controller{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tel, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Log.ServiceName,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
			"/metrics":      {},
		},
		Probability: cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Otel.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.tel = tel
	rt.cleanup = append(rt.cleanup, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		teardown(shutdownCtx)
	})

	pool, err := storage.Connect(ctx, storage.PoolConfig{
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, log)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.cleanup = append(rt.cleanup, pool.Close)

	if err := storage.Migrate(pool, cfg.Database.MigrationsPath); err != nil {
		rt.close()
		return nil, err
	}
	log.Info(ctx, "Migrations applied successfully")

	deps, err := buildDependencies(ctx, cfg, pool, tel, log)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.deps = deps
	rt.cleanup = append(rt.cleanup, deps.close)

	return rt, nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	rt, err := setup(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	tracer := rt.tel.TracerProvider.Tracer(cfg.Log.ServiceName)

	runner, err := trigger.NewRunner(rt.deps.engine, trigger.Intervals{
		task.ProgressPending: cfg.Trigger.Pending,
		task.ProgressRunning: cfg.Trigger.Running,
		task.ProgressStopped: cfg.Trigger.Stopped,
		task.ProgressFailed:  cfg.Trigger.Failed,
		task.ProgressDeleted: cfg.Trigger.Deleted,
	}, log, tracer)
	if err != nil {
		return fmt.Errorf("failed to create trigger runner: %w", err)
	}
	defer runner.Stop()

	coord, err := buildCoordinator(cfg, log, tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := coord.Stop(); err != nil {
			log.Error(context.Background(), "failed to stop coordinator", "error", err)
		}
	}()
	coord.OnLeadershipChange(runner.LeadershipHandler(ctx))

	scheduler := scheduling.NewService(
		pgstore.NewTaskStore(rt.deps.pool, tracer),
		scheduling.Config{MinDuration: cfg.Scheduling.MinDuration, MaxLeadTime: cfg.Scheduling.MaxLeadTime},
		timeutil.Default(),
		log,
		tracer,
	)

	server, err := api.NewServer(api.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Debug:           cfg.HTTP.Debug,
	}, rt.deps.engine, scheduler, rt.deps.pool.Ping, rt.registry, log, tracer)
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	log.Info(ctx, "Controller initialized",
		"provider", cfg.Provider.Type,
		"cluster_mode", cfg.Cluster.Mode,
		"reports_backend", cfg.Reports.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Start(gctx) })
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info(context.Background(), "Controller stopped")
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, log *logger.Logger, state string) error {
	p, err := task.ParseProgress(state)
	if err != nil {
		return err
	}

	rt, err := setup(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	if !rt.deps.engine.Handle(ctx, p) {
		return fmt.Errorf("cycle for %s could not read its queue", p)
	}
	return nil
}
