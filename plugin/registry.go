package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onSettlementCompleted  []OnSettlementCompleted
	onSettlementFailed     []OnSettlementFailed
	onObligationPaid       []OnObligationPaid
	onSourceRegistered     []OnSourceRegistered
	onObligationRegistered []OnObligationRegistered
	onAutopayCompleted     []OnAutopayCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSettlementCompleted); ok {
		r.onSettlementCompleted = append(r.onSettlementCompleted, v)
	}
	if v, ok := p.(OnSettlementFailed); ok {
		r.onSettlementFailed = append(r.onSettlementFailed, v)
	}
	if v, ok := p.(OnObligationPaid); ok {
		r.onObligationPaid = append(r.onObligationPaid, v)
	}
	if v, ok := p.(OnSourceRegistered); ok {
		r.onSourceRegistered = append(r.onSourceRegistered, v)
	}
	if v, ok := p.(OnObligationRegistered); ok {
		r.onObligationRegistered = append(r.onObligationRegistered, v)
	}
	if v, ok := p.(OnAutopayCompleted); ok {
		r.onAutopayCompleted = append(r.onAutopayCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnSettlementCompleted)(nil)).Elem(), "OnSettlementCompleted")
	checkInterface(reflect.TypeOf((*OnSettlementFailed)(nil)).Elem(), "OnSettlementFailed")
	checkInterface(reflect.TypeOf((*OnObligationPaid)(nil)).Elem(), "OnObligationPaid")
	checkInterface(reflect.TypeOf((*OnSourceRegistered)(nil)).Elem(), "OnSourceRegistered")
	checkInterface(reflect.TypeOf((*OnObligationRegistered)(nil)).Elem(), "OnObligationRegistered")
	checkInterface(reflect.TypeOf((*OnAutopayCompleted)(nil)).Elem(), "OnAutopayCompleted")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementCompleted emits a settlement completed event.
func (r *Registry) EmitSettlementCompleted(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onSettlementCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementCompleted(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementFailed emits a settlement failed event.
func (r *Registry) EmitSettlementFailed(ctx context.Context, reference string, cause error) {
	r.mu.RLock()
	plugins := r.onSettlementFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementFailed(ctx, reference, cause)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitObligationPaid emits an obligation paid event.
func (r *Registry) EmitObligationPaid(ctx context.Context, obl interface{}) {
	r.mu.RLock()
	plugins := r.onObligationPaid
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnObligationPaid(ctx, obl)
		}); err != nil {
			r.logger.Warn("plugin OnObligationPaid failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSourceRegistered emits a source registered event.
func (r *Registry) EmitSourceRegistered(ctx context.Context, src interface{}) {
	r.mu.RLock()
	plugins := r.onSourceRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSourceRegistered(ctx, src)
		}); err != nil {
			r.logger.Warn("plugin OnSourceRegistered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitObligationRegistered emits an obligation registered event.
func (r *Registry) EmitObligationRegistered(ctx context.Context, obl interface{}) {
	r.mu.RLock()
	plugins := r.onObligationRegistered
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnObligationRegistered(ctx, obl)
		}); err != nil {
			r.logger.Warn("plugin OnObligationRegistered failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitAutopayCompleted emits an autopay batch completed event.
func (r *Registry) EmitAutopayCompleted(ctx context.Context, result interface{}, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onAutopayCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnAutopayCompleted(ctx, result, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnAutopayCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the settlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
