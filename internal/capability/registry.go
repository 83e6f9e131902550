package capability

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// PluginLister supplies the plugins a user has activated.
type PluginLister interface {
	ListActiveCapabilitiesForUser(ctx context.Context, userID string) ([]PluginSource, error)
}

// Registry computes descriptors per turn. Nothing is cached between turns.
type Registry struct {
	modules []Module
	plugins PluginLister
	logger  *zap.Logger
}

func NewRegistry(modules []Module, plugins PluginLister, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(modules) == 0 {
		modules = CoreModules
	}
	return &Registry{modules: modules, plugins: plugins, logger: logger}
}

// ForUser returns the core descriptors plus the user's plugin descriptors.
// A failing plugin lister or an invalid plugin only drops plugin actions;
// the core set is always returned.
func (r *Registry) ForUser(ctx context.Context, userID string) []Descriptor {
	descs := CoreDescriptors(r.modules...)
	if r.plugins == nil {
		return descs
	}

	sources, err := r.plugins.ListActiveCapabilitiesForUser(ctx, userID)
	if err != nil {
		r.logger.Warn("capability: plugin listing failed", zap.String("user_id", userID), zap.Error(err))
		return descs
	}

	for _, src := range sources {
		pds, err := src.Descriptors()
		if err != nil {
			r.logger.Warn("capability: plugin skipped", zap.String("plugin", src.Slug), zap.Error(err))
			continue
		}
		for _, d := range pds {
			if _, dup := Find(descs, d.Name); dup {
				r.logger.Warn("capability: plugin action dropped",
					zap.String("plugin", src.Slug), zap.String("action", d.Name),
					zap.Error(ErrCollision))
				continue
			}
			descs = append(descs, d)
		}
	}
	return descs
}

// IsCollision reports whether err came from a name collision.
func IsCollision(err error) bool { return errors.Is(err, ErrCollision) }
