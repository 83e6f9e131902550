package failover

import (
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    time.Minute,
		Max:        time.Hour,
		Multiplier: 5,
	}
}

// CooldownTracker benches failing providers for a growing interval.
type CooldownTracker struct {
	config CooldownConfig
	mu     sync.Mutex
	errors map[string]int
	until  map[string]time.Time
}

func NewCooldownTracker(cfg CooldownConfig) *CooldownTracker {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &CooldownTracker{
		config: cfg,
		errors: make(map[string]int),
		until:  make(map[string]time.Time),
	}
}

func (ct *CooldownTracker) PutInCooldown(providerID string, now time.Time) time.Time {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.errors[providerID]++
	until := now.Add(ct.calculateDuration(ct.errors[providerID]))
	ct.until[providerID] = until
	return until
}

func (ct *CooldownTracker) InCooldown(providerID string, now time.Time) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return now.Before(ct.until[providerID])
}

func (ct *CooldownTracker) Reset(providerID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.errors, providerID)
	delete(ct.until, providerID)
}

func (ct *CooldownTracker) calculateDuration(errorCount int) time.Duration {
	d := ct.config.Initial
	for i := 1; i < errorCount; i++ {
		d *= time.Duration(ct.config.Multiplier)
		if d > ct.config.Max {
			return ct.config.Max
		}
	}
	return d
}
