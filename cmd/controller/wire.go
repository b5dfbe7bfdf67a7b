package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/app/cluster"
	"github.com/ahrav/vulnscan-armada/internal/app/orchestration"
	"github.com/ahrav/vulnscan-armada/internal/config"
	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	domainnotif "github.com/ahrav/vulnscan-armada/internal/domain/notification"
	k8scluster "github.com/ahrav/vulnscan-armada/internal/infra/cluster/kubernetes"
	"github.com/ahrav/vulnscan-armada/internal/infra/cluster/standalone"
	"github.com/ahrav/vulnscan-armada/internal/infra/deployment/docker"
	k8sdeploy "github.com/ahrav/vulnscan-armada/internal/infra/deployment/kubernetes"
	"github.com/ahrav/vulnscan-armada/internal/infra/deployment/local"
	"github.com/ahrav/vulnscan-armada/internal/infra/engine/gmp"
	"github.com/ahrav/vulnscan-armada/internal/infra/kube"
	"github.com/ahrav/vulnscan-armada/internal/infra/notification"
	kafkanotif "github.com/ahrav/vulnscan-armada/internal/infra/notification/kafka"
	"github.com/ahrav/vulnscan-armada/internal/infra/notification/webhook"
	"github.com/ahrav/vulnscan-armada/internal/infra/reportstore"
	"github.com/ahrav/vulnscan-armada/internal/infra/reportstore/s3store"
	pgstore "github.com/ahrav/vulnscan-armada/internal/infra/storage/postgres"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/otel"
	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

// dependencies are the engine and the resources it holds open.
type dependencies struct {
	pool    *pgxpool.Pool
	engine  *orchestration.Engine
	closers []func() error
	log     *logger.Logger
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warn(context.Background(), "failed to release resource", "error", err)
		}
	}
}

func buildDependencies(
	ctx context.Context,
	cfg *config.Config,
	pool *pgxpool.Pool,
	tel otel.Telemetry,
	log *logger.Logger,
) (*dependencies, error) {
	tracer := tel.TracerProvider.Tracer(cfg.Log.ServiceName)
	d := &dependencies{pool: pool, log: log}

	provider, err := buildProvider(cfg, log, tracer)
	if err != nil {
		return nil, err
	}

	reports, err := reportstore.New(ctx, reportstore.Config{
		Backend:  reportstore.Backend(cfg.Reports.Backend),
		LocalDir: cfg.Reports.LocalDir,
		S3: s3store.Config{
			Bucket:   cfg.Reports.S3.Bucket,
			Prefix:   cfg.Reports.S3.Prefix,
			Region:   cfg.Reports.S3.Region,
			Endpoint: cfg.Reports.S3.Endpoint,
		},
	}, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to create report store: %w", err)
	}

	notifier, err := d.buildNotifier(cfg, log, tracer)
	if err != nil {
		d.close()
		return nil, err
	}

	scanner := gmp.NewClient(gmp.Config{
		Username:           cfg.Scanner.Username,
		Password:           cfg.Scanner.Password,
		Profile:            cfg.Scanner.Profile,
		AliveTest:          cfg.Scanner.AliveTest,
		ScannerID:          cfg.Scanner.ScannerID,
		ReportFilter:       cfg.Scanner.ReportFilter,
		Timeout:            cfg.Scanner.Timeout,
		InsecureSkipVerify: cfg.Scanner.InsecureSkipVerify,
	}, log, tracer)

	metrics, err := orchestration.NewEngineMetrics(tel.MeterProvider)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}

	d.engine, err = orchestration.NewEngine(
		orchestration.Config{
			MaxParallelSessions: cfg.Engine.MaxParallelSessions,
			MinRemainingWindow:  cfg.Engine.MinRemainingWindow,
			MaxScanDuration:     cfg.Engine.MaxScanDuration,
			MaxLaunchFailures:   cfg.Engine.MaxLaunchFailures,
		},
		pgstore.NewTaskStore(pool, tracer),
		pgstore.NewFindingStore(pool, tracer),
		provider,
		scanner,
		reports,
		notifier,
		timeutil.Default(),
		log,
		metrics,
		tracer,
	)
	if err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func buildProvider(cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (deployment.Provider, error) {
	switch cfg.Provider.Type {
	case config.ProviderLocal:
		return local.NewProvider(cfg.Provider.Local.Host, cfg.Provider.Local.Port), nil

	case config.ProviderKubernetes:
		pc := cfg.Provider.Kubernetes
		client, err := kube.NewClient(pc.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		kcfg := k8sdeploy.DefaultConfig()
		kcfg.Namespace = pc.Namespace
		kcfg.Image = pc.Image
		kcfg.ControlPort = pc.ControlPort
		kcfg.ServicePort = pc.ServicePort
		kcfg.CPULimit = pc.CPULimit
		kcfg.MemoryLimit = pc.MemoryLimit
		return k8sdeploy.NewProvider(client, kcfg, log, tracer)

	case config.ProviderDocker:
		pc := cfg.Provider.Docker
		client, err := docker.NewClient()
		if err != nil {
			return nil, err
		}
		dcfg := docker.DefaultConfig()
		dcfg.Image = pc.Image
		dcfg.ControlPort = pc.ControlPort
		dcfg.AdvertiseHost = pc.AdvertiseHost
		dcfg.CPULimit = pc.CPULimit
		dcfg.MemoryLimit = pc.MemoryLimitMB << 20
		return docker.NewProvider(client, dcfg, log, tracer), nil
	}
	return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
}

// buildNotifier always posts to chat webhooks and adds the Kafka stream
// when enabled.
func (d *dependencies) buildNotifier(cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (domainnotif.Notifier, error) {
	wc := cfg.Notifier.Webhook
	sinks := notification.Fanout{
		webhook.New(webhook.Config{
			Username:      wc.Username,
			IconEmoji:     wc.IconEmoji,
			Timeout:       wc.Timeout,
			RatePerSecond: wc.RatePerSecond,
			Burst:         wc.Burst,
		}, &http.Client{Timeout: wc.Timeout}, log, tracer),
	}

	if kc := cfg.Notifier.Kafka; kc.Enabled {
		producer, err := kafkanotif.Connect(kafkanotif.Config{
			Brokers:  kc.Brokers,
			Topic:    kc.Topic,
			ClientID: kc.ClientID,
		}, log, tracer)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, producer.Close)
		sinks = append(sinks, producer)
	}
	return sinks, nil
}

func buildCoordinator(cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (cluster.Coordinator, error) {
	if cfg.Cluster.Mode == config.ClusterStandalone {
		return standalone.NewCoordinator(log), nil
	}

	client, err := kube.NewClient(cfg.Provider.Kubernetes.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	identity := cfg.Cluster.Identity
	if identity == "" {
		identity = os.Getenv("POD_NAME")
	}
	if identity == "" {
		identity, _ = os.Hostname()
	}
	namespace := cfg.Cluster.Namespace
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" && namespace == "" {
		namespace = ns
	}

	return k8scluster.NewCoordinator(client, k8scluster.Config{
		Namespace:     namespace,
		LeaseName:     cfg.Cluster.LeaseName,
		Identity:      identity,
		LeaseDuration: durationOr(cfg.Cluster.LeaseDuration, 15*time.Second),
		RenewDeadline: durationOr(cfg.Cluster.RenewDeadline, 10*time.Second),
		RetryPeriod:   durationOr(cfg.Cluster.RetryPeriod, 2*time.Second),
	}, log, tracer)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
