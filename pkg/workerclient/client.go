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

// Package workerclient is the uniform outbound interface to a worker
// node (spec §4.6): Place, Remove, FetchMetrics, each with its own
// timeout/retry discipline. This plays the role the teacher's
// provisioner.launch and termination.terminate play towards a real
// cloud instance, narrowed to three verbs and backed here by plain
// HTTP/JSON rather than the Kubernetes API.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
)

const callTimeout = 5 * time.Second

// PodMetric is a worker's reported view of one hosted pod.
type PodMetric struct {
	CPUUsage   float64 `json:"cpu_usage"`
	CPURequest int     `json:"cpu_request"`
	Restricted bool    `json:"restricted,omitempty"`
}

// WorkerClient is the per-node transport contract.
type WorkerClient interface {
	// Place attempts up to 3 times with exponential backoff from a 1s
	// base (1s, then 2s between attempts), 5s timeout per attempt. Returns a WorkerRejection error if the
	// worker itself rejected the pod, Transport if unreachable.
	// heavenlyRestriction is forwarded verbatim; the control plane
	// never interprets it (spec §6).
	Place(ctx context.Context, podID string, cpuRequest int, heavenlyRestriction bool) error
	// Remove is a single attempt, 5s timeout.
	Remove(ctx context.Context, podID string) error
	// FetchMetrics is a single attempt, 5s timeout. Keys in the raw
	// response beginning with "_" are reserved worker-info metadata and
	// are dropped before returning.
	FetchMetrics(ctx context.Context) (map[string]PodMetric, error)
}

// HTTPClient talks to one worker over plain JSON/HTTP, per spec §6's
// worker-facing outbound calls.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
	}
}

type placeRequest struct {
	PodID               string `json:"pod_id"`
	CPURequest          int    `json:"cpu_request"`
	HeavenlyRestriction bool   `json:"heavenly_restriction,omitempty"`
}

func (c *HTTPClient) Place(ctx context.Context, podID string, cpuRequest int, heavenlyRestriction bool) error {
	body, err := json.Marshal(placeRequest{PodID: podID, CPURequest: cpuRequest, HeavenlyRestriction: heavenlyRestriction})
	if err != nil {
		return fmt.Errorf("encoding place request: %w", err)
	}

	return retry.Do(
		func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()
			return c.doPlace(attemptCtx, body)
		},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	)
}

func (c *HTTPClient) doPlace(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/add-pod", bytes.NewReader(body))
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Transport, "building place request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Transport, "calling worker add-pod", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	reason, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return ctlerrors.New(ctlerrors.WorkerRejection, string(reason))
	}
	return ctlerrors.Wrap(ctlerrors.Transport, "worker add-pod failed", fmt.Errorf("status %d: %s", resp.StatusCode, reason))
}

// isRetryable only retries transport failures; a worker rejection is
// terminal after the first attempt since retrying won't change the
// worker's local capacity decision.
func isRetryable(err error) bool {
	return ctlerrors.KindOf(err) == ctlerrors.Transport
}

func (c *HTTPClient) Remove(ctx context.Context, podID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/delete-pod?pod_id="+podID, nil)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Transport, "building remove request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.Transport, "calling worker delete-pod", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	reason, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return ctlerrors.New(ctlerrors.WorkerRejection, string(reason))
	}
	return ctlerrors.Wrap(ctlerrors.Transport, "worker delete-pod failed", fmt.Errorf("status %d: %s", resp.StatusCode, reason))
}

func (c *HTTPClient) FetchMetrics(ctx context.Context) (map[string]PodMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/metrics", nil)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Transport, "building metrics request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Transport, "calling worker metrics", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ctlerrors.Wrap(ctlerrors.Transport, "worker metrics failed", fmt.Errorf("status %d", resp.StatusCode))
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Transport, "decoding worker metrics", err)
	}
	out := map[string]PodMetric{}
	for podID, msg := range raw {
		// Reserved worker-info keys are prefixed with "_"; the
		// aggregator ignores them entirely.
		if len(podID) > 0 && podID[0] == '_' {
			continue
		}
		var m PodMetric
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		out[podID] = m
	}
	return out, nil
}
