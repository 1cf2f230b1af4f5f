// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/furnace-run/furnace/internal/config"
	"github.com/furnace-run/furnace/internal/issue"
	"github.com/furnace-run/furnace/pkg/furnace"
)

type (
	// App is the composition root of the CLI. Command handlers receive it
	// and reach configuration and output through it.
	App struct {
		Config config.Provider
		// Factories maps descriptor entries to factories. The empty entry is
		// the default; when absent, addons start inert.
		Factories map[string]furnace.Factory
		stdout    io.Writer
		stderr    io.Writer

		configFile string
		locations  []string
		stateFile  string
		verbose    bool
	}

	// Dependencies are the injection points for NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config    config.Provider
		Factories map[string]furnace.Factory
		Stdout    io.Writer
		Stderr    io.Writer
	}
)

// NewApp builds an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		Factories: deps.Factories,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig applies the global flags on top of file and environment
// configuration.
func (a *App) loadConfig(ctx context.Context) (*config.Loaded, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	// Flag paths are relative to the working directory, not the config file.
	overrides := make(map[string]any)
	if len(a.locations) > 0 {
		locs := make([]string, len(a.locations))
		for i, loc := range a.locations {
			locs[i] = absFrom(wd, loc)
		}
		overrides["locations"] = locs
	}
	if a.stateFile != "" {
		overrides["state_file"] = absFrom(wd, a.stateFile)
	}
	return a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: a.configFile,
		BaseDir:        wd,
		Env:            overrides,
	})
}

func absFrom(wd, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(wd, path)
}

// logger builds the CLI logger. --verbose wins over log.level.
func (a *App) logger(cfg *config.Config) *log.Logger {
	l := log.NewWithOptions(a.stderr, log.Options{Prefix: config.AppName})
	if a.verbose {
		l.SetLevel(log.DebugLevel)
		return l
	}
	if lvl, err := cfg.LogLevel(); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// container creates a container for the loaded configuration.
func (a *App) container(cfg *config.Config, opts ...furnace.Option) (*furnace.Container, error) {
	base := []furnace.Option{furnace.WithLogger(a.logger(cfg))}
	if _, ok := a.Factories[""]; !ok {
		base = append(base, furnace.WithFactory("", furnace.InertFactory()))
	}
	for entry, f := range a.Factories {
		base = append(base, furnace.WithFactory(entry, f))
	}
	return furnace.New(cfg, append(base, opts...)...)
}

// formatError renders err for the terminal, expanding actionable errors.
func formatError(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	if i, ok := issue.Classify(err); ok {
		return err.Error() + "\n\n" + i.Render()
	}
	return err.Error()
}
