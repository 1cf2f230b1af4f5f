// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/furnace-run/furnace/pkg/addon"
)

var (
	// ErrNoFactory is returned when no factory serves a descriptor's entry.
	ErrNoFactory = errors.New("no factory for addon entry")
	// ErrClosed is returned by operations on a controller after Shutdown.
	ErrClosed = errors.New("controller is shut down")
	// ErrResolution is the sentinel error wrapped by ResolutionError.
	ErrResolution = errors.New("artifact resolution failed")
)

type (
	// Addon is the running behavior of a module.
	Addon interface {
		// Start runs while the controller holds WRITE. It may export
		// services and look up dependencies through rt.
		Start(ctx context.Context, rt *Runtime) error
		// Stop runs while the controller holds WRITE.
		Stop(ctx context.Context) error
	}

	// Factory creates the Addon for a descriptor, given its resolved files.
	Factory interface {
		New(d *addon.Descriptor, files FileSet) (Addon, error)
	}

	// FactoryFunc adapts a function to Factory.
	FactoryFunc func(d *addon.Descriptor, files FileSet) (Addon, error)

	// FileSet is the resolved location of every library an addon declared.
	FileSet []string

	// ArtifactResolver supplies the libraries a descriptor declares. The
	// controller calls it once per start and never retries a failure.
	ArtifactResolver interface {
		Resolve(ctx context.Context, d *addon.Descriptor) (FileSet, error)
	}

	// ResolutionError lists the libraries that could not be resolved.
	ResolutionError struct {
		Addon    addon.ID
		Failures []error
	}

	// StartError records a failure raised by the factory or by Addon.Start.
	StartError struct {
		Addon addon.ID
		Panic any
		Err   error
	}

	// LocalResolver resolves libraries as paths relative to the addon
	// directory. Coordinates with a scheme or version ("host/x@v1") are
	// remote and fail to resolve.
	LocalResolver struct{}
)

// New calls f.
func (f FactoryFunc) New(d *addon.Descriptor, files FileSet) (Addon, error) {
	return f(d, files)
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("addon %s: artifact resolution failed: %s", e.Addon, strings.Join(msgs, "; "))
}

// Unwrap returns ErrResolution and every failure.
func (e *ResolutionError) Unwrap() []error {
	return append([]error{ErrResolution}, e.Failures...)
}

// Error implements the error interface.
func (e *StartError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("addon %s panicked while starting: %v", e.Addon, e.Panic)
	}
	return fmt.Sprintf("addon %s failed to start: %v", e.Addon, e.Err)
}

// Unwrap returns the start error.
func (e *StartError) Unwrap() error { return e.Err }

// Resolve checks that every library exists under the addon directory.
func (LocalResolver) Resolve(ctx context.Context, d *addon.Descriptor) (FileSet, error) {
	var (
		files    FileSet
		failures []error
	)
	for _, lib := range d.Libraries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(lib, "://") || strings.Contains(lib, "@") {
			failures = append(failures, fmt.Errorf("%s: remote artifacts are not supported by the local resolver", lib))
			continue
		}
		path := filepath.Join(d.Location, filepath.FromSlash(lib))
		rel, err := filepath.Rel(d.Location, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			failures = append(failures, fmt.Errorf("%s: path escapes the addon directory", lib))
			continue
		}
		if _, err := os.Stat(path); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", lib, err))
			continue
		}
		files = append(files, path)
	}
	if len(failures) > 0 {
		return nil, &ResolutionError{Addon: d.ID, Failures: failures}
	}
	return files, nil
}

// isTerminal reports whether a module failure sticks until Reload or a
// content change.
func isTerminal(err error) bool {
	switch err.(type) {
	case *StartError, *ResolutionError:
		return true
	default:
		return false
	}
}
