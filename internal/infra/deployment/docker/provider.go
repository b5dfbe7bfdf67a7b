// Package docker runs one scan engine container per task on a Docker host.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ deployment.Provider = (*Provider)(nil)

const managedByLabel = "app.kubernetes.io/managed-by"

// API is the subset of the Docker engine client used by the Provider.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Config describes the engine container.
type Config struct {
	Image       string
	ControlPort int
	// AdvertiseHost is the address at which published ports are reachable
	// from the controller.
	AdvertiseHost string
	CPULimit      float64
	MemoryLimit   int64
	IDPrefix      string
}

// DefaultConfig returns the container defaults.
func DefaultConfig() Config {
	return Config{
		Image:         "mikesplain/openvas:9",
		ControlPort:   9390,
		AdvertiseHost: "127.0.0.1",
		CPULimit:      0.4,
		MemoryLimit:   800 << 20,
		IDPrefix:      "pre",
	}
}

// Provider implements deployment.Provider on a Docker host.
type Provider struct {
	api API
	cfg Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient connects to the Docker host described by the environment.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// NewProvider creates a Provider using api.
func NewProvider(api API, cfg Config, logger *logger.Logger, tracer trace.Tracer) *Provider {
	return &Provider{
		api:    api,
		cfg:    cfg,
		logger: logger.With("component", "docker_provider"),
		tracer: tracer,
	}
}

func (p *Provider) controlPort() nat.Port {
	return nat.Port(strconv.Itoa(p.cfg.ControlPort) + "/tcp")
}

// Create starts the container named id when it does not exist yet and
// reports its state. The returned Info carries the id even on error.
func (p *Provider) Create(ctx context.Context, id string) (deployment.Info, error) {
	if id == "" {
		id = p.cfg.IDPrefix + uuid.NewString()
	}
	pending := deployment.Info{ID: id, Status: deployment.StatusWaiting}

	ctx, span := p.tracer.Start(ctx, "docker_provider.create",
		trace.WithAttributes(attribute.String("deployment_id", id)))
	defer span.End()

	info, err := p.describe(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to inspect container")
		return pending, err
	}
	if info.Status != deployment.StatusNotExist {
		return info, nil
	}

	if err := p.run(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start container")
		return pending, err
	}
	span.AddEvent("container_started")
	p.logger.Info(ctx, "Scanner container started", "deployment_id", id, "image", p.cfg.Image)

	info, err = p.describe(ctx, id)
	if err != nil {
		return pending, err
	}
	if info.Status == deployment.StatusNotExist {
		info.Status = deployment.StatusWaiting
	}
	return info, nil
}

func (p *Provider) run(ctx context.Context, id string) error {
	port := p.controlPort()
	cfg := &container.Config{
		Image:        p.cfg.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{managedByLabel: "vulnscan-armada"},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0"}}},
		Resources: container.Resources{
			NanoCPUs: int64(p.cfg.CPULimit * 1e9),
			Memory:   p.cfg.MemoryLimit,
		},
	}

	resp, err := p.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, id)
	if errdefs.IsNotFound(err) {
		if perr := p.pull(ctx); perr != nil {
			return perr
		}
		resp, err = p.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, id)
	}
	if err != nil {
		return fmt.Errorf("create container %s: %w", id, err)
	}

	if err := p.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rerr := p.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rerr != nil {
			p.logger.Warn(ctx, "Failed to remove container after start failure", "deployment_id", id, "error", rerr)
		}
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (p *Provider) pull(ctx context.Context) error {
	rc, err := p.api.ImagePull(ctx, p.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", p.cfg.Image, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", p.cfg.Image, err)
	}
	return nil
}

// Delete force-removes the container. A missing container is not an error.
func (p *Provider) Delete(ctx context.Context, id string) error {
	ctx, span := p.tracer.Start(ctx, "docker_provider.delete",
		trace.WithAttributes(attribute.String("deployment_id", id)))
	defer span.End()

	err := p.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to remove container")
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

// IsReady reports whether the container runs with its control port published.
func (p *Provider) IsReady(ctx context.Context, id string) (bool, error) {
	info, err := p.describe(ctx, id)
	if err != nil {
		return false, err
	}
	return info.Ready(), nil
}

func (p *Provider) describe(ctx context.Context, id string) (deployment.Info, error) {
	info := deployment.Info{ID: id, Status: deployment.StatusNotExist}

	resp, err := p.api.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return info, nil
		}
		return deployment.Info{}, fmt.Errorf("inspect container %s: %w", id, err)
	}

	info.Status = deployment.StatusWaiting
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return info, nil
	}
	if resp.State.Dead || resp.State.OOMKilled || (resp.State.Status == "exited" && resp.State.ExitCode != 0) {
		info.Status = deployment.StatusFailed
		return info, nil
	}

	if resp.NetworkSettings != nil {
		if bindings := resp.NetworkSettings.Ports[p.controlPort()]; len(bindings) > 0 {
			if port, err := strconv.Atoi(bindings[0].HostPort); err == nil {
				info.Host = p.cfg.AdvertiseHost
				info.Port = port
			}
		}
	}
	if resp.State.Running && info.Port > 0 {
		info.Status = deployment.StatusRunning
	}
	return info, nil
}
