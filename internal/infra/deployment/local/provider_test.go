package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
)

func TestProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewProvider("127.0.0.1", 9390)

	info, err := p.Create(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, deployment.StatusRunning, info.Status)
	assert.True(t, info.Ready())
	assert.Equal(t, "127.0.0.1", info.Host)
	assert.Equal(t, 9390, info.Port)

	again, err := p.Create(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, again)

	ready, err := p.IsReady(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.NoError(t, p.Delete(ctx, info.ID))
}
