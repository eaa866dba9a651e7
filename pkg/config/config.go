/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config binds the process's configuration surface (spec §6)
// with github.com/spf13/pflag, the same flag-then-env layering the
// teacher's pkg/operator/options performs, minus the webhook/manager
// flags that have no analogue here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/scheduling"
)

// Config is the fully resolved process configuration.
type Config struct {
	// Domain surface (spec §6).
	AutoScale              bool
	SchedulingAlgo         scheduling.Policy
	DefaultNodeCapacity    int
	AutoScaleHighThreshold float64
	AutoScaleLowThreshold  float64
	HeavenlyRestriction    bool
	ScaleDownBlackoutStart string
	ScaleDownBlackoutEnd   string

	// Ambient surface: present in every teacher binary alongside its
	// domain flags, even though spec.md's §6 table only enumerates the
	// domain ones.
	ListenAddr   string
	MetricsAddr  string
	Development  bool
	NodeTimeout  time.Duration
	PollInterval time.Duration
}

// Default returns the configuration's zero-argument defaults, matching
// the literal numbers spec.md's own examples use throughout (§9).
func Default() Config {
	return Config{
		AutoScale:              false,
		SchedulingAlgo:         scheduling.FirstFit,
		DefaultNodeCapacity:    4,
		AutoScaleHighThreshold: 80,
		AutoScaleLowThreshold:  20,
		HeavenlyRestriction:    false,
		ListenAddr:             ":8080",
		MetricsAddr:            ":9090",
		Development:            false,
		NodeTimeout:            10 * time.Second,
		PollInterval:           15 * time.Second,
	}
}

// Parse builds a Config from defaults, then flags, then environment
// variable overrides (CONTROLPLANE_* wins over a flag default, a flag
// explicitly passed on argv wins over both).
func Parse(args []string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("controlplaned", pflag.ContinueOnError)
	fs.BoolVar(&cfg.AutoScale, "auto-scale", cfg.AutoScale, "enable automatic node scaling")
	algo := fs.String("scheduling-algo", string(cfg.SchedulingAlgo), "scheduling policy: first-fit, best-fit, worst-fit")
	fs.IntVar(&cfg.DefaultNodeCapacity, "default-node-capacity", cfg.DefaultNodeCapacity, "cpu capacity for a node added without an explicit size")
	fs.Float64Var(&cfg.AutoScaleHighThreshold, "auto-scale-high-threshold", cfg.AutoScaleHighThreshold, "scale up above this cluster usage percent")
	fs.Float64Var(&cfg.AutoScaleLowThreshold, "auto-scale-low-threshold", cfg.AutoScaleLowThreshold, "scale down below this cluster usage percent")
	fs.BoolVar(&cfg.HeavenlyRestriction, "heavenly-restriction", cfg.HeavenlyRestriction, "forwarded to workers verbatim; the control plane does not act on it")
	fs.StringVar(&cfg.ScaleDownBlackoutStart, "scale-down-blackout-start", cfg.ScaleDownBlackoutStart, "cron expression marking the start of a scale-down blackout window")
	fs.StringVar(&cfg.ScaleDownBlackoutEnd, "scale-down-blackout-end", cfg.ScaleDownBlackoutEnd, "cron expression marking the end of a scale-down blackout window")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address the command surface listens on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "parsed and validated but not bound by controlplaned; /metrics is served on listen-addr")
	fs.BoolVar(&cfg.Development, "development", cfg.Development, "console-formatted, debug-level logging instead of JSON")
	fs.DurationVar(&cfg.NodeTimeout, "node-timeout", cfg.NodeTimeout, "heartbeat age after which a node is marked unhealthy")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "metrics aggregator and autoscaler tick interval")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.SchedulingAlgo = scheduling.Policy(*algo)
	if err := applyEnvOverrides(&cfg, fs); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides lets CONTROLPLANE_<FLAG_NAME> override a flag that
// the caller did not explicitly pass on argv.
func applyEnvOverrides(cfg *Config, fs *pflag.FlagSet) error {
	overrides := map[string]func(string) error{
		"auto-scale": func(v string) (err error) { cfg.AutoScale, err = strconv.ParseBool(v); return },
		"scheduling-algo": func(v string) error {
			cfg.SchedulingAlgo = scheduling.Policy(v)
			return nil
		},
		"default-node-capacity": func(v string) (err error) { cfg.DefaultNodeCapacity, err = strconv.Atoi(v); return },
		"auto-scale-high-threshold": func(v string) (err error) {
			cfg.AutoScaleHighThreshold, err = strconv.ParseFloat(v, 64)
			return
		},
		"auto-scale-low-threshold": func(v string) (err error) {
			cfg.AutoScaleLowThreshold, err = strconv.ParseFloat(v, 64)
			return
		},
		"heavenly-restriction": func(v string) (err error) { cfg.HeavenlyRestriction, err = strconv.ParseBool(v); return },
		"scale-down-blackout-start": func(v string) error { cfg.ScaleDownBlackoutStart = v; return nil },
		"scale-down-blackout-end":   func(v string) error { cfg.ScaleDownBlackoutEnd = v; return nil },
		"listen-addr":               func(v string) error { cfg.ListenAddr = v; return nil },
		"metrics-addr":              func(v string) error { cfg.MetricsAddr = v; return nil },
		"development":               func(v string) (err error) { cfg.Development, err = strconv.ParseBool(v); return },
		"node-timeout":              func(v string) (err error) { cfg.NodeTimeout, err = time.ParseDuration(v); return },
		"poll-interval":             func(v string) (err error) { cfg.PollInterval, err = time.ParseDuration(v); return },
	}
	for flagName, apply := range overrides {
		f := fs.Lookup(flagName)
		if f == nil || f.Changed {
			continue
		}
		envName := "CONTROLPLANE_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
		v, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		if err := apply(v); err != nil {
			return fmt.Errorf("parsing %s: %w", envName, err)
		}
	}
	return nil
}

// Validate checks the invariants spec §6 states on the configuration
// surface: a positive default capacity, thresholds in range with high
// strictly above low, and a known scheduling policy.
func (c Config) Validate() error {
	switch c.SchedulingAlgo {
	case scheduling.FirstFit, scheduling.BestFit, scheduling.WorstFit:
	default:
		return ctlerrors.New(ctlerrors.Validation, fmt.Sprintf("unknown scheduling_algo %q", c.SchedulingAlgo))
	}
	if c.DefaultNodeCapacity <= 0 {
		return ctlerrors.New(ctlerrors.Validation, "default_node_capacity must be positive")
	}
	if c.AutoScaleHighThreshold < 0 || c.AutoScaleHighThreshold > 100 ||
		c.AutoScaleLowThreshold < 0 || c.AutoScaleLowThreshold > 100 {
		return ctlerrors.New(ctlerrors.Validation, "auto_scale thresholds must be between 0 and 100")
	}
	if c.AutoScaleHighThreshold <= c.AutoScaleLowThreshold {
		return ctlerrors.New(ctlerrors.Validation, "auto_scale_high_threshold must exceed auto_scale_low_threshold")
	}
	return nil
}
