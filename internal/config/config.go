// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/furnace-run/furnace/internal/issue"
	"github.com/furnace-run/furnace/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "furnace"
	// FileName is the config file looked up in the config and working
	// directories.
	FileName = "furnace.cue"
	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "FURNACE"
)

//go:embed config_schema.cue
var configSchemaSource string

// Every config field is optional, so documents need not be concrete.
var configSchema = cueutil.MustCompile(configSchemaSource, "#Config", cueutil.WithConcrete(false))

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate the user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions loads configuration without package-level state. It
// returns the config and the path of the file it read, if any.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range opts.Env {
		v.Set(key, value)
	}

	path, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestions(issue.Get(issue.ConfigLoadFailedID).Hints()...).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	base := opts.BaseDir
	if path != "" {
		base = filepath.Dir(path)
	}
	resolvePaths(&cfg, base)

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check FURNACE_* environment variables as well as the config file").
			Wrap(err).
			BuildError()
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("locations", d.Locations)
	v.SetDefault("state_file", d.StateFile)
	v.SetDefault("lock.wait_timeout", d.Lock.WaitTimeout)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.ignore", d.Watch.Ignore)
	v.SetDefault("events.parallel", d.Events.Parallel)
	v.SetDefault("events.workers", d.Events.Workers)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("serve.addr", d.Serve.Addr)
}

// findConfigFile returns the explicit file, else furnace.cue in the config
// directory, else furnace.cue in BaseDir. A missing default file is not an
// error.
func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'furnace config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		if d, err := Dir(); err == nil {
			dir = d
		}
	}
	candidates := []string{filepath.Join(opts.BaseDir, FileName)}
	if dir != "" {
		candidates = append([]string{filepath.Join(dir, FileName)}, candidates...)
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper validates path against #Config and merges it into v.
// Fields are optional, so validation does not require concreteness and the
// result is merged as a map rather than decoded into Config.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var configMap map[string]any
	if err := configSchema.Decode(data, path, &configMap); err != nil {
		return err
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func resolvePaths(cfg *Config, base string) {
	if base == "" {
		return
	}
	for i, loc := range cfg.Locations {
		if loc != "" && !filepath.IsAbs(loc) {
			cfg.Locations[i] = filepath.Join(base, loc)
		}
	}
	if cfg.StateFile != "" && !filepath.IsAbs(cfg.StateFile) {
		cfg.StateFile = filepath.Join(base, cfg.StateFile)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a furnace.cue document.
func GenerateCUE(cfg *Config) string {
	var b strings.Builder
	b.WriteString("// furnace configuration\n\n")

	b.WriteString("locations: [\n")
	for _, loc := range cfg.Locations {
		fmt.Fprintf(&b, "\t%q,\n", loc)
	}
	b.WriteString("]\n")
	fmt.Fprintf(&b, "state_file: %q\n", cfg.StateFile)

	fmt.Fprintf(&b, "\nlock: {\n\twait_timeout: %q\n}\n", cfg.Lock.WaitTimeout.String())

	b.WriteString("\nwatch: {\n")
	fmt.Fprintf(&b, "\tenabled:  %v\n", cfg.Watch.Enabled)
	fmt.Fprintf(&b, "\tdebounce: %q\n", cfg.Watch.Debounce.String())
	if len(cfg.Watch.Ignore) > 0 {
		b.WriteString("\tignore: [\n")
		for _, pat := range cfg.Watch.Ignore {
			fmt.Fprintf(&b, "\t\t%q,\n", pat)
		}
		b.WriteString("\t]\n")
	}
	b.WriteString("}\n")

	fmt.Fprintf(&b, "\nevents: {\n\tparallel: %v\n\tworkers:  %d\n}\n", cfg.Events.Parallel, cfg.Events.Workers)
	fmt.Fprintf(&b, "\nlog: {\n\tlevel: %q\n}\n", cfg.Log.Level)
	fmt.Fprintf(&b, "\nserve: {\n\taddr: %q\n}\n", cfg.Serve.Addr)
	return b.String()
}
