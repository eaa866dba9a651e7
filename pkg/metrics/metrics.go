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

// Package metrics registers the control plane's Prometheus series, the
// same shape as the teacher's pkg/metrics/metrics.go (counters grouped
// by subsystem, registered once, incremented from the owning
// controller) but against a plain prometheus.Registry instead of
// controller-runtime's global one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const Namespace = "podfleet"

var (
	PodsPlacedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pods",
			Name:      "placed_total",
			Help:      "Number of pods successfully placed on a node.",
		},
		[]string{"policy"},
	)
	PodsPendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "pods",
			Name:      "pending",
			Help:      "Number of pods currently sitting in the pending queue.",
		},
	)
	PodsRescheduledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pods",
			Name:      "rescheduled_total",
			Help:      "Number of pods displaced by a node removal, labeled by reschedule outcome.",
		},
		[]string{"outcome"}, // "rescheduled" or "failed"
	)
	NodesProvisionedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nodes",
			Name:      "provisioned_total",
			Help:      "Number of nodes provisioned, labeled by trigger.",
		},
		[]string{"trigger"}, // "manual" or "auto_scale"
	)
	NodesRemovedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nodes",
			Name:      "removed_total",
			Help:      "Number of nodes removed, labeled by trigger.",
		},
		[]string{"trigger"},
	)
	SchedulingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "decision_duration_seconds",
			Help:      "Duration of a single scheduling decision.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"policy"},
	)
	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "aggregator",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one metrics-aggregator poll across all live nodes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	ClusterUsagePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "autoscaler",
			Name:      "usage_percent",
			Help:      "Percent of healthy node capacity allocated to placed pods' cpu requests, as computed by the autoscaler each tick.",
		},
	)
)

// Registry is the process's Prometheus registry. pkg/api exposes it at
// /metrics.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		PodsPlacedCounter,
		PodsPendingGauge,
		PodsRescheduledCounter,
		NodesProvisionedCounter,
		NodesRemovedCounter,
		SchedulingDuration,
		PollDuration,
		ClusterUsagePercent,
	)
	return reg
}
