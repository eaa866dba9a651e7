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

// Command controlplaned wires and runs the control plane process: the
// command surface, the metrics aggregator, and the autoscaler loop.
// This plays the role pkg/operator/operator.go plays for the teacher's
// controller binary, minus the k8s manager, webhook server and leader
// election machinery that has no analogue here.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podfleet/controlplane/pkg/api"
	"github.com/podfleet/controlplane/pkg/autoscaler"
	cloudproviderfake "github.com/podfleet/controlplane/pkg/cloudprovider/fake"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/config"
	"github.com/podfleet/controlplane/pkg/ctlog"
	"github.com/podfleet/controlplane/pkg/health"
	"github.com/podfleet/controlplane/pkg/lifecycle"
	"github.com/podfleet/controlplane/pkg/metrics"
	"github.com/podfleet/controlplane/pkg/pending"
	"github.com/podfleet/controlplane/pkg/scheduling"
	workerclientfake "github.com/podfleet/controlplane/pkg/workerclient/fake"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}

	zapLogger := ctlog.New(cfg.Development)
	defer zapLogger.Sync() //nolint:errcheck
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctlog.IntoContext(ctx, zapLogger)
	logger := ctlog.FromContext(ctx)

	registry := cluster.NewRegistry(cluster.WithNodeTimeout(cfg.NodeTimeout))
	pendingQ := pending.NewQueue()
	scheduler := scheduling.New(cfg.SchedulingAlgo)

	// The underlying worker container provisioner is an external
	// collaborator out of this core's scope (spec §1); wiring real
	// provisioning here would mean picking a cloud SDK the spec
	// deliberately stays silent on. The in-memory fakes are a complete,
	// self-consistent substitute: the fake provisioner's handle is
	// exactly the key the fake worker registry dials.
	provisioner := cloudproviderfake.New()
	workers := workerclientfake.NewRegistry()

	manager := lifecycle.NewManager(registry, pendingQ, scheduler, provisioner, workers.Factory(), lifecycle.Config{
		DefaultNodeCapacity: cfg.DefaultNodeCapacity,
		AutoScale:           cfg.AutoScale,
		HeavenlyRestriction: cfg.HeavenlyRestriction,
	})
	healthMonitor := health.NewMonitor(registry)
	aggregator := metrics.NewAggregator(registry, workers.Factory(), cfg.PollInterval)
	promRegistry := metrics.Registry()

	scaler := autoscaler.New(registry, manager, autoscaler.Config{
		Enabled:                cfg.AutoScale,
		HighThreshold:          cfg.AutoScaleHighThreshold,
		LowThreshold:           cfg.AutoScaleLowThreshold,
		DefaultNodeCapacity:    cfg.DefaultNodeCapacity,
		Interval:               cfg.PollInterval,
		ScaleDownBlackoutStart: cfg.ScaleDownBlackoutStart,
		ScaleDownBlackoutEnd:   cfg.ScaleDownBlackoutEnd,
	})

	server := api.NewServer(manager, registry, healthMonitor, aggregator, pendingQ, promRegistry)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go aggregator.Run(ctx)
	go scaler.Run(ctx)
	go func() {
		logger.Info("command surface listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "command surface stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
