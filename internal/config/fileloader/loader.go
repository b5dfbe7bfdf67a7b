// Package fileloader loads the controller configuration from an optional
// YAML file overlaid with VULNSCAN_* environment variables.
package fileloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ahrav/vulnscan-armada/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. VULNSCAN_DATABASE_DSN
// sets database.dsn.
const EnvPrefix = "VULNSCAN"

var _ config.Loader = (*FileLoader)(nil)

// FileLoader implements config.Loader with viper.
type FileLoader struct {
	// path is the YAML file to read; empty uses defaults and environment only.
	path string
}

// NewFileLoader creates a FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load merges defaults, the file and the environment, in increasing
// precedence, and validates the result.
func (l *FileLoader) Load(_ context.Context) (*config.Config, error) {
	v := viper.New()
	setDefaults(v, config.Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// the file does not mention.
func setDefaults(v *viper.Viper, d config.Config) {
	defaults := map[string]any{
		"log.level":        d.Log.Level,
		"log.service_name": d.Log.ServiceName,

		"database.dsn":             d.Database.DSN,
		"database.max_conns":       d.Database.MaxConns,
		"database.migrations_path": d.Database.MigrationsPath,
		"database.connect_timeout": d.Database.ConnectTimeout,

		"engine.max_parallel_sessions": d.Engine.MaxParallelSessions,
		"engine.min_remaining_window":  d.Engine.MinRemainingWindow,
		"engine.max_scan_duration":     d.Engine.MaxScanDuration,
		"engine.max_launch_failures":   d.Engine.MaxLaunchFailures,

		"provider.type":                    string(d.Provider.Type),
		"provider.local.host":              d.Provider.Local.Host,
		"provider.local.port":              d.Provider.Local.Port,
		"provider.kubernetes.kubeconfig":   d.Provider.Kubernetes.Kubeconfig,
		"provider.kubernetes.namespace":    d.Provider.Kubernetes.Namespace,
		"provider.kubernetes.image":        d.Provider.Kubernetes.Image,
		"provider.kubernetes.control_port": d.Provider.Kubernetes.ControlPort,
		"provider.kubernetes.service_port": d.Provider.Kubernetes.ServicePort,
		"provider.kubernetes.cpu_limit":    d.Provider.Kubernetes.CPULimit,
		"provider.kubernetes.memory_limit": d.Provider.Kubernetes.MemoryLimit,
		"provider.docker.image":            d.Provider.Docker.Image,
		"provider.docker.control_port":     d.Provider.Docker.ControlPort,
		"provider.docker.advertise_host":   d.Provider.Docker.AdvertiseHost,
		"provider.docker.cpu_limit":        d.Provider.Docker.CPULimit,
		"provider.docker.memory_limit_mb":  d.Provider.Docker.MemoryLimitMB,

		"scanner.username":             d.Scanner.Username,
		"scanner.password":             d.Scanner.Password,
		"scanner.profile":              d.Scanner.Profile,
		"scanner.alive_test":           d.Scanner.AliveTest,
		"scanner.scanner_id":           d.Scanner.ScannerID,
		"scanner.report_filter":        d.Scanner.ReportFilter,
		"scanner.timeout":              d.Scanner.Timeout,
		"scanner.insecure_skip_verify": d.Scanner.InsecureSkipVerify,

		"reports.backend":     d.Reports.Backend,
		"reports.local_dir":   d.Reports.LocalDir,
		"reports.s3.bucket":   d.Reports.S3.Bucket,
		"reports.s3.prefix":   d.Reports.S3.Prefix,
		"reports.s3.region":   d.Reports.S3.Region,
		"reports.s3.endpoint": d.Reports.S3.Endpoint,

		"notifier.webhook.username":        d.Notifier.Webhook.Username,
		"notifier.webhook.icon_emoji":      d.Notifier.Webhook.IconEmoji,
		"notifier.webhook.timeout":         d.Notifier.Webhook.Timeout,
		"notifier.webhook.rate_per_second": d.Notifier.Webhook.RatePerSecond,
		"notifier.webhook.burst":           d.Notifier.Webhook.Burst,
		"notifier.kafka.enabled":           d.Notifier.Kafka.Enabled,
		"notifier.kafka.brokers":           d.Notifier.Kafka.Brokers,
		"notifier.kafka.topic":             d.Notifier.Kafka.Topic,
		"notifier.kafka.client_id":         d.Notifier.Kafka.ClientID,

		"trigger.pending": d.Trigger.Pending,
		"trigger.running": d.Trigger.Running,
		"trigger.stopped": d.Trigger.Stopped,
		"trigger.failed":  d.Trigger.Failed,
		"trigger.deleted": d.Trigger.Deleted,

		"scheduling.min_duration":  d.Scheduling.MinDuration,
		"scheduling.max_lead_time": d.Scheduling.MaxLeadTime,

		"cluster.mode":           string(d.Cluster.Mode),
		"cluster.namespace":      d.Cluster.Namespace,
		"cluster.lease_name":     d.Cluster.LeaseName,
		"cluster.identity":       d.Cluster.Identity,
		"cluster.lease_duration": d.Cluster.LeaseDuration,
		"cluster.renew_deadline": d.Cluster.RenewDeadline,
		"cluster.retry_period":   d.Cluster.RetryPeriod,

		"http.addr":             d.HTTP.Addr,
		"http.read_timeout":     d.HTTP.ReadTimeout,
		"http.write_timeout":    d.HTTP.WriteTimeout,
		"http.shutdown_timeout": d.HTTP.ShutdownTimeout,
		"http.debug":            d.HTTP.Debug,

		"otel.endpoint":    d.Otel.Endpoint,
		"otel.probability": d.Otel.Probability,
		"otel.insecure":    d.Otel.Insecure,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
