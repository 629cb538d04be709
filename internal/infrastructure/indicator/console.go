package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/davarch/buildlight/internal/domain"
	"go.uber.org/zap"
)

// Console is a simulated device: it logs every output change instead of
// driving hardware.
type Console struct {
	log *zap.Logger

	mu sync.Mutex
	on map[domain.OutputID]bool
}

func NewConsole(log *zap.Logger) *Console {
	return &Console{log: log, on: make(map[domain.OutputID]bool)}
}

func (c *Console) set(id domain.OutputID, on bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.on[id] != on
	c.on[id] = on
	return changed
}

func (c *Console) SetOutput(id domain.OutputID, on bool) error {
	if id == domain.NoOutput {
		return nil
	}
	if c.set(id, on) {
		c.log.Info("output", zap.Stringer("pin", id), zap.Bool("on", on))
	}
	return nil
}

func (c *Console) Buzz(ctx context.Context, id domain.OutputID, d time.Duration) error {
	if id == domain.NoOutput {
		return nil
	}
	c.log.Info("buzz", zap.Stringer("pin", id), zap.Duration("for", d))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

// AllOff clears outputs silently; it runs on shutdown too.
func (c *Console) AllOff(ids []domain.OutputID) error {
	for _, id := range ids {
		if id != domain.NoOutput {
			c.set(id, false)
		}
	}
	return nil
}

// Lit returns whether an output is currently on.
func (c *Console) Lit(id domain.OutputID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on[id]
}

func (c *Console) Close() error {
	c.log.Debug("console indicator closed")
	return nil
}

func (c *Console) CloseUrgently() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.on {
		c.on[id] = false
	}
	return nil
}
