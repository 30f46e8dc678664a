// ABOUTME: Hook and filter dispatch engine.
// ABOUTME: Runs handlers in registration order, isolating plugin failures from the caller.

package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// HookHandler reacts to an event. conf is the plugin's effective
// configuration for the current scope, nil when none is stored.
type HookHandler func(ctx context.Context, conf map[string]any, args Args) error

// FilterHandler transforms value and returns the value passed to the next
// handler.
type FilterHandler func(ctx context.Context, value any, conf map[string]any, args Args) (any, error)

// Failure describes a handler error caught during dispatch.
type Failure struct {
	Plugin         string
	ExtensionPoint string
	Err            error
	At             time.Time
}

// FailureSink receives handler failures.
type FailureSink interface {
	RecordFailure(ctx context.Context, f Failure)
}

// LogSink writes failures to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) RecordFailure(ctx context.Context, f Failure) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "plugin handler failed",
		"plugin", f.Plugin,
		"extension_point", f.ExtensionPoint,
		"error", f.Err.Error(),
	)
}

type connection struct {
	plugin string
	hook   HookHandler
	filter FilterHandler
}

// Dispatcher keeps handlers per extension point, in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	catalog  *Catalog
	handlers map[string][]connection

	sink    FailureSink
	logger  *slog.Logger
	timeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFailureSink sets where handler failures are recorded.
func WithFailureSink(s FailureSink) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHandlerTimeout sets the default per-handler timeout. Zero disables it.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher returns a dispatcher resolving points through catalog.
func NewDispatcher(catalog *Catalog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalog:  catalog,
		handlers: make(map[string][]connection),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = LogSink{Logger: d.logger}
	}
	return d
}

// Connect appends a hook handler of plugin to point. Connecting the same
// plugin twice adds a second handler; both run.
func (d *Dispatcher) Connect(point, plugin string, h HookHandler) error {
	if h == nil {
		return fmt.Errorf("plugin %s: nil handler for %s", plugin, point)
	}
	return d.connect(point, KindHook, connection{plugin: plugin, hook: h})
}

// ConnectFilter appends a filter handler of plugin to point.
func (d *Dispatcher) ConnectFilter(point, plugin string, h FilterHandler) error {
	if h == nil {
		return fmt.Errorf("plugin %s: nil handler for %s", plugin, point)
	}
	return d.connect(point, KindFilter, connection{plugin: plugin, filter: h})
}

func (d *Dispatcher) connect(point string, kind Kind, c connection) error {
	p, err := d.catalog.Lookup(point)
	if err != nil {
		return err
	}
	if p.Kind != kind {
		return fmt.Errorf("extension point %s is a %s, not a %s", point, p.Kind, kind)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[point] = append(d.handlers[point], c)
	return nil
}

// Disconnect removes every handler of plugin from every point.
func (d *Dispatcher) Disconnect(plugin string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for point, conns := range d.handlers {
		d.handlers[point] = slices.DeleteFunc(conns, func(c connection) bool { return c.plugin == plugin })
	}
}

// Hooks returns the hook handlers plugin connected to point.
func (d *Dispatcher) Hooks(point, plugin string) []HookHandler {
	var out []HookHandler
	for _, c := range d.connections(point) {
		if c.plugin == plugin && c.hook != nil {
			out = append(out, c.hook)
		}
	}
	return out
}

func (d *Dispatcher) connections(point string) []connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]connection(nil), d.handlers[point]...)
}

// DispatchOption tunes a single dispatch.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	force   bool
	strict  bool
	timeout time.Duration
}

// Force runs handlers regardless of the enabled flag, for always-on
// system plugins.
func Force() DispatchOption {
	return func(o *dispatchOptions) { o.force = true }
}

// Strict stops at the first failing handler and returns its error.
// The failure is still recorded.
func Strict() DispatchOption {
	return func(o *dispatchOptions) { o.strict = true }
}

// WithTimeout bounds each handler call. Zero means no timeout.
func WithTimeout(timeout time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.timeout = timeout }
}

func (d *Dispatcher) prepare(name string, kind Kind, args Args, opts []DispatchOption) ([]connection, dispatchOptions, error) {
	o := dispatchOptions{timeout: d.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	p, err := d.catalog.Lookup(name)
	if err != nil {
		return nil, o, err
	}
	if p.Kind != kind {
		return nil, o, fmt.Errorf("extension point %s is a %s, not a %s", name, p.Kind, kind)
	}
	if err := p.CheckArgs(args); err != nil {
		return nil, o, err
	}
	return d.connections(name), o, nil
}

// DispatchHook calls every enabled hook handler of name in registration
// order. Handler errors are recorded and never returned, except in Strict
// mode. Unknown points and undeclared arguments fail before any handler runs.
func (d *Dispatcher) DispatchHook(ctx context.Context, name string, args Args, confs map[string]EffectiveConfig, opts ...DispatchOption) error {
	conns, o, err := d.prepare(name, KindHook, args, opts)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		d.logger.DebugContext(ctx, "no handler found", "hook", name)
		return nil
	}
	d.logger.DebugContext(ctx, "dispatching hook", "hook", name, "handlers", len(conns))

	for _, c := range conns {
		conf, ok := d.enabled(c.plugin, confs, o)
		if !ok {
			continue
		}
		d.logger.DebugContext(ctx, "calling handler", "hook", name, "plugin", c.plugin)
		_, err := invoke(ctx, o.timeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.hook(ctx, conf, args)
		})
		if err := d.settle(ctx, c.plugin, name, err, o); err != nil {
			return err
		}
	}
	d.logger.DebugContext(ctx, "hook done", "hook", name)
	return nil
}

// DispatchFilter threads value through every enabled filter handler of name
// and returns the result. A failing handler leaves the value unchanged.
func (d *Dispatcher) DispatchFilter(ctx context.Context, name string, value any, args Args, confs map[string]EffectiveConfig, opts ...DispatchOption) (any, error) {
	conns, o, err := d.prepare(name, KindFilter, args, opts)
	if err != nil {
		return value, err
	}
	d.logger.DebugContext(ctx, "dispatching filter", "filter", name, "handlers", len(conns))

	for _, c := range conns {
		conf, ok := d.enabled(c.plugin, confs, o)
		if !ok {
			continue
		}
		current := value
		next, err := invoke(ctx, o.timeout, func(ctx context.Context) (any, error) {
			return c.filter(ctx, current, conf, args)
		})
		if err != nil {
			if err := d.settle(ctx, c.plugin, name, err, o); err != nil {
				return value, err
			}
			continue
		}
		value = next
	}
	return value, nil
}

func (d *Dispatcher) enabled(plugin string, confs map[string]EffectiveConfig, o dispatchOptions) (map[string]any, bool) {
	conf := confs[plugin]
	if !conf.Enabled && !o.force {
		return nil, false
	}
	return conf.Conf, true
}

// settle classifies a handler result. It returns non-nil only in strict mode.
func (d *Dispatcher) settle(ctx context.Context, plugin, point string, err error, o dispatchOptions) error {
	if err == nil {
		return nil
	}
	if IsSkip(err) {
		d.logger.DebugContext(ctx, "handler skipped", "extension_point", point, "plugin", plugin)
		return nil
	}
	d.sink.RecordFailure(ctx, Failure{Plugin: plugin, ExtensionPoint: point, Err: err, At: time.Now()})
	if o.strict {
		return fmt.Errorf("plugin %s failed during %s: %w", plugin, point, err)
	}
	return nil
}

func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return protect(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := protect(ctx, fn)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("handler did not return within %s: %w", timeout, ctx.Err())
	}
}

func protect[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx)
}
