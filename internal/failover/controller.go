// Package failover chains a primary model with fallbacks behind the
// provider.Provider interface. Adapters never retry; this is the one place
// that moves a request to another model.
package failover

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/provider"
)

// Controller tries its models in order, skipping providers that are cooling
// down after a retryable failure.
type Controller struct {
	registry  *provider.Registry
	cooldowns *CooldownTracker
	models    []provider.ModelRef
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Controller)

func WithCooldowns(ct *CooldownTracker) Option {
	return func(c *Controller) { c.cooldowns = ct }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(registry *provider.Registry, primary provider.ModelRef, fallbacks []provider.ModelRef, opts ...Option) *Controller {
	c := &Controller{
		registry:  registry,
		cooldowns: NewCooldownTracker(DefaultCooldownConfig()),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	seen := map[provider.ModelRef]bool{}
	for _, m := range append([]provider.ModelRef{primary}, fallbacks...) {
		if !seen[m] {
			seen[m] = true
			c.models = append(c.models, m)
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ provider.Provider = (*Controller)(nil)

// ID is the primary provider's id, so failures are attributed to it.
func (c *Controller) ID() string { return c.models[0].Provider() }

func (c *Controller) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	var resp *provider.CompletionResponse
	err := c.execute(ctx, req, func(p provider.Provider, r *provider.CompletionRequest) error {
		var err error
		resp, err = p.Complete(ctx, r)
		return err
	})
	return resp, err
}

// Stream fails over only while opening the stream. Once tokens flow, an
// error belongs to the caller.
func (c *Controller) Stream(ctx context.Context, req *provider.CompletionRequest) (provider.ResponseStream, error) {
	var stream provider.ResponseStream
	err := c.execute(ctx, req, func(p provider.Provider, r *provider.CompletionRequest) error {
		var err error
		stream, err = p.Stream(ctx, r)
		return err
	})
	return stream, err
}

func (c *Controller) Models() []provider.ModelInfo {
	var out []provider.ModelInfo
	for _, m := range c.models {
		p, err := c.registry.GetForModel(m)
		if err != nil {
			continue
		}
		for _, info := range p.Models() {
			if info.ID == m.Model() {
				out = append(out, info)
			}
		}
	}
	return out
}

func (c *Controller) SupportsFeature(feature provider.Feature) bool {
	p, err := c.registry.GetForModel(c.models[0])
	return err == nil && p.SupportsFeature(feature)
}

func (c *Controller) execute(ctx context.Context, req *provider.CompletionRequest, fn func(provider.Provider, *provider.CompletionRequest) error) error {
	attempted := make([]string, 0, len(c.models))
	var lastErr error

	for i, m := range c.models {
		last := i == len(c.models)-1
		if !last && c.cooldowns.InCooldown(m.Provider(), c.now()) {
			continue
		}
		p, err := c.registry.GetForModel(m)
		if err != nil {
			lastErr = err
			continue
		}
		attempted = append(attempted, m.String())

		r := *req
		r.Model = m.Model()
		err = fn(p, &r)
		if err == nil {
			c.cooldowns.Reset(m.Provider())
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}
		until := c.cooldowns.PutInCooldown(m.Provider(), c.now())
		c.logger.Warn("failover: model failed, trying next",
			zap.String("model", m.String()), zap.Time("cooldown_until", until), zap.Error(err))
	}

	if len(attempted) == 1 {
		return lastErr
	}
	return &AllExhaustedError{Attempted: attempted, Last: lastErr}
}
