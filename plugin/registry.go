package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onInvoiceCreated      []OnInvoiceCreated
	onPaymentReceived     []OnPaymentReceived
	onFundsReleased       []OnFundsReleased
	onInvoiceCancelled    []OnInvoiceCancelled
	onCommandRejected     []OnCommandRejected
	onTransferCompensated []OnTransferCompensated
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnInvoiceCreated); ok {
		r.onInvoiceCreated = append(r.onInvoiceCreated, v)
	}
	if v, ok := p.(OnPaymentReceived); ok {
		r.onPaymentReceived = append(r.onPaymentReceived, v)
	}
	if v, ok := p.(OnFundsReleased); ok {
		r.onFundsReleased = append(r.onFundsReleased, v)
	}
	if v, ok := p.(OnInvoiceCancelled); ok {
		r.onInvoiceCancelled = append(r.onInvoiceCancelled, v)
	}
	if v, ok := p.(OnCommandRejected); ok {
		r.onCommandRejected = append(r.onCommandRejected, v)
	}
	if v, ok := p.(OnTransferCompensated); ok {
		r.onTransferCompensated = append(r.onTransferCompensated, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", Interfaces(p),
	)

	return nil
}

// Interfaces returns the hook interfaces implemented by p.
func Interfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnInvoiceCreated)(nil)).Elem(), "OnInvoiceCreated")
	checkInterface(reflect.TypeOf((*OnPaymentReceived)(nil)).Elem(), "OnPaymentReceived")
	checkInterface(reflect.TypeOf((*OnFundsReleased)(nil)).Elem(), "OnFundsReleased")
	checkInterface(reflect.TypeOf((*OnInvoiceCancelled)(nil)).Elem(), "OnInvoiceCancelled")
	checkInterface(reflect.TypeOf((*OnCommandRejected)(nil)).Elem(), "OnCommandRejected")
	checkInterface(reflect.TypeOf((*OnTransferCompensated)(nil)).Elem(), "OnTransferCompensated")

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
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnInit", func() error {
			return p.OnInit(ctx, ledger)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnShutdown", func() error {
			return p.OnShutdown(ctx)
		})
	}
}

// EmitEvent routes a committed journal event to the matching hook.
func (r *Registry) EmitEvent(ctx context.Context, inv *invoice.Invoice, ev *event.Event) {
	switch ev.Type {
	case event.TypeInvoiceCreated:
		r.EmitInvoiceCreated(ctx, inv, ev)
	case event.TypePaymentReceived:
		r.EmitPaymentReceived(ctx, inv, ev)
	case event.TypeFundsReleased:
		r.EmitFundsReleased(ctx, inv, ev)
	case event.TypeInvoiceCancelled:
		r.EmitInvoiceCancelled(ctx, inv, ev)
	default:
		r.logger.Warn("plugin: unknown event type", "type", string(ev.Type))
	}
}

// EmitInvoiceCreated emits an invoice created event.
func (r *Registry) EmitInvoiceCreated(ctx context.Context, inv *invoice.Invoice, ev *event.Event) {
	r.mu.RLock()
	plugins := r.onInvoiceCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnInvoiceCreated", func() error {
			return p.OnInvoiceCreated(ctx, inv, ev)
		})
	}
}

// EmitPaymentReceived emits a payment received event.
func (r *Registry) EmitPaymentReceived(ctx context.Context, inv *invoice.Invoice, ev *event.Event) {
	r.mu.RLock()
	plugins := r.onPaymentReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnPaymentReceived", func() error {
			return p.OnPaymentReceived(ctx, inv, ev)
		})
	}
}

// EmitFundsReleased emits a funds released event.
func (r *Registry) EmitFundsReleased(ctx context.Context, inv *invoice.Invoice, ev *event.Event) {
	r.mu.RLock()
	plugins := r.onFundsReleased
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnFundsReleased", func() error {
			return p.OnFundsReleased(ctx, inv, ev)
		})
	}
}

// EmitInvoiceCancelled emits an invoice cancelled event.
func (r *Registry) EmitInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, ev *event.Event) {
	r.mu.RLock()
	plugins := r.onInvoiceCancelled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnInvoiceCancelled", func() error {
			return p.OnInvoiceCancelled(ctx, inv, ev)
		})
	}
}

// EmitCommandRejected emits a rejected command.
func (r *Registry) EmitCommandRejected(ctx context.Context, rej Rejection) {
	r.mu.RLock()
	plugins := r.onCommandRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnCommandRejected", func() error {
			return p.OnCommandRejected(ctx, rej)
		})
	}
}

// EmitTransferCompensated emits a compensated transfer.
func (r *Registry) EmitTransferCompensated(ctx context.Context, op string, invoiceID uint64, err, compErr error) {
	r.mu.RLock()
	plugins := r.onTransferCompensated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.call(ctx, p.Name(), "OnTransferCompensated", func() error {
			return p.OnTransferCompensated(ctx, op, invoiceID, err, compErr)
		})
	}
}

func (r *Registry) call(ctx context.Context, pluginName, hook string, fn func() error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins never block a command past the registry timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
