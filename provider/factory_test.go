package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func TestFactoryBuildsMemory(t *testing.T) {
	p, err := New(context.Background(), logger.NewNopLogger(), &types.ProviderConfig{
		Name: "l1",
		Type: "memory",
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "l1", p.Name())
}

func TestFactoryUnknownType(t *testing.T) {
	_, err := New(context.Background(), logger.NewNopLogger(), &types.ProviderConfig{
		Name: "l1",
		Type: "memcached",
	})
	assert.True(t, types.IsError(err, types.ErrProviderTypeUnknown))
}

func TestFactoryNilConfig(t *testing.T) {
	_, err := New(context.Background(), logger.NewNopLogger(), nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)
}

func TestFactoryCustomProvider(t *testing.T) {
	Register("custom", func(config interface{}) (types.CacheProvider, error) {
		return NewMemory(context.Background(), logger.NewNopLogger(), "custom", config)
	})

	p, err := New(context.Background(), logger.NewNopLogger(), &types.ProviderConfig{
		Name: "c1",
		Type: "custom",
	})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "custom", p.Name())
}
