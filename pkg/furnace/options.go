// SPDX-License-Identifier: MPL-2.0

package furnace

import (
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/furnace-run/furnace/internal/lifecycle"
)

type (
	// Addon is the running behavior of a module.
	Addon = lifecycle.Addon
	// Factory creates the Addon for a descriptor.
	Factory = lifecycle.Factory
	// FactoryFunc adapts a function to Factory.
	FactoryFunc = lifecycle.FactoryFunc
	// Runtime is what a started Addon sees of the container.
	Runtime = lifecycle.Runtime
	// FileSet is the resolved location of every library an addon declared.
	FileSet = lifecycle.FileSet
	// ArtifactResolver supplies the libraries a descriptor declares.
	ArtifactResolver = lifecycle.ArtifactResolver
	// ScanResult describes one completed scan.
	ScanResult = lifecycle.ScanResult

	// Option configures a Container.
	Option func(*Container)
)

// WithLogger sets the logger shared by the container and its components.
func WithLogger(l *log.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFactory serves descriptors whose entry is entry. The empty entry is
// the default factory.
func WithFactory(entry string, f Factory) Option {
	return func(c *Container) {
		c.controllerOpts = append(c.controllerOpts, lifecycle.WithFactory(entry, f))
	}
}

// WithResolver sets the artifact resolver.
func WithResolver(r ArtifactResolver) Option {
	return func(c *Container) {
		c.controllerOpts = append(c.controllerOpts, lifecycle.WithResolver(r))
	}
}

// WithTracerProvider sets the provider for lifecycle spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Container) {
		c.controllerOpts = append(c.controllerOpts, lifecycle.WithTracerProvider(tp))
	}
}

// WithHTTP serves /metrics, /live and /ready on addr while running. An
// empty addr disables the listener.
func WithHTTP(addr string) Option {
	return func(c *Container) { c.httpAddr = addr }
}

// WithWatch overrides the configured watch.enabled setting.
func WithWatch(enabled bool) Option {
	return func(c *Container) { c.watchEnabled = enabled }
}

// WithStrictReadiness makes /ready fail while any module is failed.
func WithStrictReadiness() Option {
	return func(c *Container) { c.strictReady = true }
}
