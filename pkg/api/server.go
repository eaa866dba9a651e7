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

// Package api is the ExternalEdge (spec §6): a thin HTTP/JSON adapter
// in front of LifecycleManager, HealthMonitor, MetricsAggregator and
// PendingQueue. Route names follow the original KubeSim reference's
// Flask routes (/add-node, /launch-pod, /list-nodes, ...) rather than a
// fresh REST redesign, the same "keep the wire shape, replace the
// transport" move the teacher's pkg/operator/operator.go makes for its
// own webhook paths.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/ctlog"
	"github.com/podfleet/controlplane/pkg/health"
	"github.com/podfleet/controlplane/pkg/lifecycle"
	"github.com/podfleet/controlplane/pkg/metrics"
	"github.com/podfleet/controlplane/pkg/pending"
)

// Server wires the command surface to the control plane's components.
type Server struct {
	manager      *lifecycle.Manager
	registry     *cluster.Registry
	healthMon    *health.Monitor
	aggregator   *metrics.Aggregator
	pendingQ     *pending.Queue
	promRegistry *prometheus.Registry
}

func NewServer(manager *lifecycle.Manager, registry *cluster.Registry, healthMon *health.Monitor, aggregator *metrics.Aggregator, pendingQ *pending.Queue, promRegistry *prometheus.Registry) *Server {
	return &Server{
		manager:      manager,
		registry:     registry,
		healthMon:    healthMon,
		aggregator:   aggregator,
		pendingQ:     pendingQ,
		promRegistry: promRegistry,
	}
}

// Handler builds the routed, request-id-logged http.Handler for this
// server. Go 1.22's method-and-wildcard ServeMux patterns replace the
// hand-rolled path switch the original Flask app used.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add-node", s.handleAddNode)
	mux.HandleFunc("POST /launch-pod", s.handleLaunchPod)
	mux.HandleFunc("DELETE /delete-pod", s.handleDeletePod)
	mux.HandleFunc("DELETE /delete-node", s.handleDeleteNode)
	mux.HandleFunc("GET /list-nodes", s.handleListNodes)
	mux.HandleFunc("GET /nodes/{id}", s.handleGetNode)
	mux.HandleFunc("GET /pod-status", s.handlePodStatus)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /pending-pods", s.handlePendingPods)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	return withRequestLogging(mux)
}

// withRequestLogging assigns every inbound request a request id,
// threads a logger carrying it through the request's context, and logs
// completion with status and duration - the structured-request-logging
// behavior the original KubeSim's per-request print statements
// approximated, done properly here with ctlog.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		logger := ctlog.FromContext(r.Context()).WithValues("request_id", requestID, "method", r.Method, "path", r.URL.Path)
		ctx := ctlog.IntoContextLogr(r.Context(), logger)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		logger.Info("request handled", "status", sw.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	node, err := s.manager.AddNode(r.Context(), req.Cores)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addNodeResponse{NodeID: node.ID, Capacity: node.Capacity, AutoScaled: false})
}

func (s *Server) handleLaunchPod(w http.ResponseWriter, r *http.Request) {
	var req launchPodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.manager.LaunchPod(r.Context(), req.PodID, req.CPU)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, launchPodResponse{PodID: result.PodID, NodeID: result.NodeID})
}

func (s *Server) handleDeletePod(w http.ResponseWriter, r *http.Request) {
	var req deletePodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.manager.DeletePod(r.Context(), req.NodeID, req.PodID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	var req deleteNodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.manager.RemoveNode(r.Context(), req.NodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := deleteNodeResponse{
		Removed:     report.Removed,
		Rescheduled: report.Rescheduled,
		Failed:      report.Failed,
		Partial:     report.Partial,
	}
	if resp.Rescheduled == nil {
		resp.Rescheduled = []string{}
	}
	if resp.Failed == nil {
		resp.Failed = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.registry.ListNodes()
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, toNodeView(n.ID, n.State != "Unhealthy" && n.State != "Removing", n.PodHealth, n.LastHeartbeat, n.Capacity))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeView(n.ID, n.State != "Unhealthy" && n.State != "Removing", n.PodHealth, n.LastHeartbeat, n.Capacity))
}

func toNodeView(id string, healthy bool, podHealth map[string]bool, lastHeartbeat time.Time, capacity int) nodeView {
	return nodeView{
		NodeID:                id,
		Healthy:               healthy,
		PodHealth:             podHealth,
		SecondsSinceHeartbeat: time.Since(lastHeartbeat).Seconds(),
		Capacity:              capacity,
	}
}

func (s *Server) handlePodStatus(w http.ResponseWriter, r *http.Request) {
	published := s.aggregator.Published()
	out := make(map[string]map[string]podStatusEntry, len(published))
	for nodeID, pods := range published {
		entries := make(map[string]podStatusEntry, len(pods))
		for podID, p := range pods {
			entries[podID] = podStatusEntry{
				CPUUsage:   p.CPUUsage,
				CPURequest: p.CPURequest,
				Healthy:    p.Healthy,
				Restricted: p.Restricted,
			}
		}
		out[nodeID] = entries
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.healthMon.Heartbeat(req.NodeID, req.PodHealth); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handlePendingPods(w http.ResponseWriter, r *http.Request) {
	entries := s.pendingQ.Snapshot()
	views := make([]pendingEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, pendingEntryView{
			PodID:        e.PodID,
			CPURequest:   e.CPURequest,
			OriginNode:   e.OriginNodeID,
			WaitingSince: e.QueuedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, pendingPodsResponse{PendingPods: views, Count: len(views)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, ctlerrors.Wrap(ctlerrors.Validation, "decoding request body", err))
		return false
	}
	return true
}

// decodeOptionalBody tolerates an empty body (e.g. `POST /add-node`
// with no payload, to use the configured default capacity).
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a typed ctlerrors.Kind to the HTTP status spec §6's
// command table specifies per endpoint.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch ctlerrors.KindOf(err) {
	case ctlerrors.Validation, ctlerrors.NoCapacity, ctlerrors.WorkerRejection:
		status = http.StatusBadRequest
	case ctlerrors.NotFound:
		status = http.StatusNotFound
	case ctlerrors.Transport, ctlerrors.Provision:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
