// Package health provides liveness and readiness checks for a live guest
// memory layout.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/memarena/pkg/layout"
)

// ErrReleased is reported once the layout's backing store is gone.
var ErrReleased = errors.New("backing store released")

// Provider checks one layout.
type Provider struct {
	l       *layout.Layout
	workers int
	timeout time.Duration

	mu sync.Mutex
}

// NewProvider returns checks for l. Readiness runs the alias probe with the
// given number of workers and gives up after timeout.
func NewProvider(l *layout.Layout, workers int, timeout time.Duration) *Provider {
	return &Provider{l: l, workers: workers, timeout: timeout}
}

// Liveness fails when the backing store is no longer mapped.
func (p *Provider) Liveness() error {
	if p.l.Arena().Backing() == nil {
		return ErrReleased
	}
	return nil
}

// Readiness fails when any alias of the layout stops observing the bytes
// written through its view. Probes never overlap.
func (p *Provider) Readiness() error {
	if err := p.Liveness(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	_, err := layout.Probe(ctx, p.l, p.workers)
	return err
}

// Register adds the checks to h.
func (p *Provider) Register(h healthcheck.Handler) {
	h.AddLivenessCheck("backing-store", p.Liveness)
	h.AddReadinessCheck("alias-probe", p.Readiness)
}
