// SPDX-License-Identifier: MPL-2.0

package furnace

import (
	"context"

	"github.com/furnace-run/furnace/pkg/addon"
)

type inertAddon struct {
	rt *Runtime
}

// InertFactory returns a Factory whose addons start and stop without
// behavior. Hosts use it to validate storage and resolve the dependency
// graph without running addon code.
func InertFactory() Factory {
	return FactoryFunc(func(*addon.Descriptor, FileSet) (Addon, error) {
		return &inertAddon{}, nil
	})
}

func (a *inertAddon) Start(_ context.Context, rt *Runtime) error {
	a.rt = rt
	rt.Logger().Debug("started", "files", len(rt.Files()))
	return nil
}

func (a *inertAddon) Stop(context.Context) error {
	if a.rt != nil {
		a.rt.Logger().Debug("stopped")
	}
	return nil
}
