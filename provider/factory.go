package provider

import (
	"context"

	"github.com/saiset-co/sai-cache/types"
)

var customProviderCreators = make(map[string]types.ProviderCreator)

// Register installs a custom tier type usable from config alongside the
// built-in memory/redis/sqlite/clover types.
func Register(providerType string, creator types.ProviderCreator) {
	customProviderCreators[providerType] = creator
}

func New(ctx context.Context, logger types.Logger, config *types.ProviderConfig) (types.CacheProvider, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	switch config.Type {
	case "memory":
		return NewMemory(ctx, logger, config.Name, config.Config)
	case "redis":
		return NewRedis(ctx, logger, config.Name, config.Config)
	case "sqlite":
		return NewSQLite(ctx, logger, config.Name, config.Config)
	case "clover":
		return NewClover(ctx, logger, config.Name, config.Config)
	default:
		if creator, exists := customProviderCreators[config.Type]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrProviderTypeUnknown, "type: %s", config.Type)
	}
}
