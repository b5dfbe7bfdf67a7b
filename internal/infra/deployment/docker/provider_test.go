package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
	networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	args := m.Called(ctx, config, hostConfig, containerName)
	return args.Get(0).(container.CreateResponse), args.Error(1)
}

func (m *mockAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return m.Called(ctx, containerID).Error(0)
}

func (m *mockAPI) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(container.InspectResponse), args.Error(1)
}

func (m *mockAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	return m.Called(ctx, containerID, options).Error(0)
}

func (m *mockAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, refStr)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

var errNotFound = errdefs.NotFound(errors.New("no such container"))

func inspectResponse(running bool, hostPort string) container.InspectResponse {
	resp := container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{Running: running, Status: "created"},
		},
		NetworkSettings: &container.NetworkSettings{},
	}
	if running {
		resp.State.Status = "running"
	}
	if hostPort != "" {
		resp.NetworkSettings.Ports = nat.PortMap{
			"9390/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		}
	}
	return resp
}

func newTestProvider() (*Provider, *mockAPI) {
	api := new(mockAPI)
	return NewProvider(api, DefaultConfig(), logger.Noop(), noop.NewTracerProvider().Tracer("test")), api
}

func TestProvider_CreateStartsContainer(t *testing.T) {
	t.Parallel()
	p, api := newTestProvider()
	ctx := context.Background()

	api.On("ContainerInspect", mock.Anything, "pre-1").Return(container.InspectResponse{}, errNotFound).Once()
	api.On("ContainerCreate", mock.Anything, mock.MatchedBy(func(c *container.Config) bool {
		_, exposed := c.ExposedPorts["9390/tcp"]
		return c.Image == "mikesplain/openvas:9" && exposed
	}), mock.MatchedBy(func(h *container.HostConfig) bool {
		return len(h.PortBindings["9390/tcp"]) == 1 && h.Resources.NanoCPUs == 400_000_000
	}), "pre-1").Return(container.CreateResponse{ID: "abc"}, nil).Once()
	api.On("ContainerStart", mock.Anything, "abc").Return(nil).Once()
	api.On("ContainerInspect", mock.Anything, "pre-1").Return(inspectResponse(true, ""), nil).Once()

	info, err := p.Create(ctx, "pre-1")
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusWaiting, info.Status)
	assert.False(t, info.Ready())
	api.AssertExpectations(t)
}

func TestProvider_CreateGeneratesID(t *testing.T) {
	t.Parallel()
	p, api := newTestProvider()

	api.On("ContainerInspect", mock.Anything, mock.Anything).Return(container.InspectResponse{}, errNotFound).Once()
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{ID: "abc"}, nil).Once()
	api.On("ContainerStart", mock.Anything, "abc").Return(nil).Once()
	api.On("ContainerInspect", mock.Anything, mock.Anything).Return(inspectResponse(false, ""), nil).Once()

	info, err := p.Create(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "pre"))
}

func TestProvider_CreatePullsMissingImage(t *testing.T) {
	t.Parallel()
	p, api := newTestProvider()

	api.On("ContainerInspect", mock.Anything, "pre-1").Return(container.InspectResponse{}, errNotFound).Once()
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, "pre-1").
		Return(container.CreateResponse{}, errdefs.NotFound(errors.New("no such image"))).Once()
	api.On("ImagePull", mock.Anything, "mikesplain/openvas:9").
		Return(io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil).Once()
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, "pre-1").
		Return(container.CreateResponse{ID: "abc"}, nil).Once()
	api.On("ContainerStart", mock.Anything, "abc").Return(nil).Once()
	api.On("ContainerInspect", mock.Anything, "pre-1").Return(inspectResponse(true, "49153"), nil).Once()

	info, err := p.Create(context.Background(), "pre-1")
	require.NoError(t, err)
	assert.Equal(t, deployment.StatusRunning, info.Status)
	assert.Equal(t, "127.0.0.1", info.Host)
	assert.Equal(t, 49153, info.Port)
	api.AssertExpectations(t)
}

func TestProvider_CreateRemovesContainerWhenStartFails(t *testing.T) {
	t.Parallel()
	p, api := newTestProvider()

	api.On("ContainerInspect", mock.Anything, "pre-1").Return(container.InspectResponse{}, errNotFound).Once()
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, "pre-1").
		Return(container.CreateResponse{ID: "abc"}, nil).Once()
	api.On("ContainerStart", mock.Anything, "abc").Return(errors.New("port already allocated")).Once()
	api.On("ContainerRemove", mock.Anything, "abc", mock.Anything).Return(nil).Once()

	_, err := p.Create(context.Background(), "pre-1")
	require.Error(t, err)
	api.AssertExpectations(t)
}

func TestProvider_CreateReturnsIDOnInspectFailure(t *testing.T) {
	t.Parallel()
	p, api := newTestProvider()

	api.On("ContainerInspect", mock.Anything, mock.Anything).Return(container.InspectResponse{}, errNotFound).Once()
	api.On("ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(container.CreateResponse{ID: "abc"}, nil).Once()
	api.On("ContainerStart", mock.Anything, "abc").Return(nil).Once()
	api.On("ContainerInspect", mock.Anything, mock.Anything).
		Return(container.InspectResponse{}, errors.New("daemon timeout")).Once()

	info, err := p.Create(context.Background(), "")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "pre"))
	assert.Equal(t, deployment.StatusWaiting, info.Status)
	api.AssertExpectations(t)
}

func TestProvider_CreateExisting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inspect container.InspectResponse
		want    deployment.Status
	}{
		{name: "running with port", inspect: inspectResponse(true, "49153"), want: deployment.StatusRunning},
		{name: "running without port", inspect: inspectResponse(true, ""), want: deployment.StatusWaiting},
		{name: "starting", inspect: inspectResponse(false, ""), want: deployment.StatusWaiting},
		{
			name: "crashed",
			inspect: container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{
				State: &container.State{Status: "exited", ExitCode: 137},
			}},
			want: deployment.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, api := newTestProvider()
			api.On("ContainerInspect", mock.Anything, "pre-1").Return(tt.inspect, nil)

			info, err := p.Create(context.Background(), "pre-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Status)
			api.AssertNotCalled(t, "ContainerCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProvider_Delete(t *testing.T) {
	t.Parallel()

	p, api := newTestProvider()
	api.On("ContainerRemove", mock.Anything, "pre-1", container.RemoveOptions{Force: true, RemoveVolumes: true}).Return(nil).Once()
	api.On("ContainerRemove", mock.Anything, "pre-2", mock.Anything).Return(errNotFound).Once()
	api.On("ContainerRemove", mock.Anything, "pre-3", mock.Anything).Return(errors.New("daemon unavailable")).Once()

	assert.NoError(t, p.Delete(context.Background(), "pre-1"))
	assert.NoError(t, p.Delete(context.Background(), "pre-2"))
	assert.Error(t, p.Delete(context.Background(), "pre-3"))
}

func TestProvider_IsReady(t *testing.T) {
	t.Parallel()

	p, api := newTestProvider()
	api.On("ContainerInspect", mock.Anything, "pre-1").Return(inspectResponse(true, "49153"), nil).Once()
	api.On("ContainerInspect", mock.Anything, "pre-2").Return(container.InspectResponse{}, errNotFound).Once()

	ready, err := p.IsReady(context.Background(), "pre-1")
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = p.IsReady(context.Background(), "pre-2")
	require.NoError(t, err)
	assert.False(t, ready)
}
