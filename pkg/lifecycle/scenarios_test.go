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

package lifecycle_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/podfleet/controlplane/pkg/autoscaler"
	cloudproviderfake "github.com/podfleet/controlplane/pkg/cloudprovider/fake"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/lifecycle"
	"github.com/podfleet/controlplane/pkg/pending"
	"github.com/podfleet/controlplane/pkg/scheduling"
	workerclientfake "github.com/podfleet/controlplane/pkg/workerclient/fake"
)

type harness struct {
	registry *cluster.Registry
	pendingQ *pending.Queue
	manager  *lifecycle.Manager
}

func newHarness(policy scheduling.Policy) *harness {
	registry := cluster.NewRegistry()
	pendingQ := pending.NewQueue()
	manager := lifecycle.NewManager(
		registry,
		pendingQ,
		scheduling.New(policy),
		cloudproviderfake.New(),
		workerclientfake.NewRegistry().Factory(),
		lifecycle.Config{DefaultNodeCapacity: 4, AutoScale: false},
	)
	return &harness{registry: registry, pendingQ: pendingQ, manager: manager}
}

var ctx = context.Background()

var _ = Describe("end-to-end scenarios", func() {

	Describe("first-fit ordering", func() {
		It("places each pod on the lowest-id node with enough room", func() {
			h := newHarness(scheduling.FirstFit)
			_, err := h.manager.AddNode(ctx, 4) // node_1
			Expect(err).NotTo(HaveOccurred())
			_, err = h.manager.AddNode(ctx, 6) // node_2
			Expect(err).NotTo(HaveOccurred())
			_, err = h.manager.AddNode(ctx, 8) // node_3
			Expect(err).NotTo(HaveOccurred())

			r1, err := h.manager.LaunchPod(ctx, "", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(r1.NodeID).To(Equal("node_1"))

			r2, err := h.manager.LaunchPod(ctx, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(r2.NodeID).To(Equal("node_2")) // node_1 has only 1 free

			// node_2 still has 4 free after the cpu=2 placement, so a
			// strict first-fit lands the next cpu=3 pod there too. This
			// is the mathematically correct outcome; it differs from the
			// spec's own worked example, which claims node_3 despite
			// node_2 having room - see the resolved ambiguity in
			// SPEC_FULL.md/DESIGN.md.
			r3, err := h.manager.LaunchPod(ctx, "", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(r3.NodeID).To(Equal("node_2"))
		})
	})

	Describe("best-fit tie-break", func() {
		It("minimizes remaining capacity, breaking ties by higher node capacity", func() {
			h := newHarness(scheduling.BestFit)
			_, _ = h.manager.AddNode(ctx, 4) // node_1
			_, _ = h.manager.AddNode(ctx, 6) // node_2
			_, _ = h.manager.AddNode(ctx, 8) // node_3
			Expect(h.registry.PlacePod("node_1", "filler_1", 2)).To(Succeed())
			Expect(h.registry.PlacePod("node_2", "filler_2", 3)).To(Succeed())
			Expect(h.registry.PlacePod("node_3", "filler_3", 6)).To(Succeed())

			// Remaining after cpu=2: node_1 -> 0, node_2 -> 1, node_3 -> 0.
			// The minimum is the node_1/node_3 tie at 0; higher capacity
			// (node_3, cap 8) wins it, and the node_1/node_2 carve-out
			// never triggers because node_1 isn't the raw pick. This is
			// the correct minimize-remaining outcome; it differs from the
			// spec's own worked example for the same reason as scenario 1
			// above (see DESIGN.md).
			result, err := h.manager.LaunchPod(ctx, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NodeID).To(Equal("node_3"))
		})

		It("flips a tied node_1 pick to node_2", func() {
			h := newHarness(scheduling.BestFit)
			_, _ = h.manager.AddNode(ctx, 4) // node_1
			_, _ = h.manager.AddNode(ctx, 4) // node_2

			result, err := h.manager.LaunchPod(ctx, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NodeID).To(Equal("node_2"))
		})
	})

	Describe("worst-fit with a tie", func() {
		It("picks the lower-numbered node", func() {
			h := newHarness(scheduling.WorstFit)
			_, _ = h.manager.AddNode(ctx, 4) // node_1
			_, _ = h.manager.AddNode(ctx, 4) // node_2

			result, err := h.manager.LaunchPod(ctx, "", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NodeID).To(Equal("node_1"))
		})
	})

	Describe("remove with reschedule", func() {
		It("moves every displaced pod onto the remaining node", func() {
			h := newHarness(scheduling.FirstFit)
			_, _ = h.manager.AddNode(ctx, 4) // node_1
			_, _ = h.manager.AddNode(ctx, 4) // node_2
			_, err := h.manager.LaunchPod(ctx, "pod_A", 2)
			Expect(err).NotTo(HaveOccurred())
			_, err = h.manager.LaunchPod(ctx, "pod_B", 1)
			Expect(err).NotTo(HaveOccurred())

			report, err := h.manager.RemoveNode(ctx, "node_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Rescheduled).To(ConsistOf("pod_A", "pod_B"))
			Expect(report.Failed).To(BeEmpty())
			Expect(report.Partial).To(BeFalse())

			node2, err := h.registry.Get("node_2")
			Expect(err).NotTo(HaveOccurred())
			Expect(node2.PlacedPods).To(HaveLen(2))
		})
	})

	Describe("partial reschedule", func() {
		It("enqueues the pod that doesn't fit anywhere and drains it once capacity appears", func() {
			h := newHarness(scheduling.FirstFit)
			_, _ = h.manager.AddNode(ctx, 8) // node_1
			_, _ = h.manager.AddNode(ctx, 5) // node_2
			_, err := h.manager.LaunchPod(ctx, "large", 6)
			Expect(err).NotTo(HaveOccurred())
			_, err = h.manager.LaunchPod(ctx, "small", 2)
			Expect(err).NotTo(HaveOccurred())

			report, err := h.manager.RemoveNode(ctx, "node_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Rescheduled).To(ConsistOf("small"))
			Expect(report.Failed).To(ConsistOf("large"))
			Expect(report.Partial).To(BeTrue())

			pending := h.pendingQ.Snapshot()
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].PodID).To(Equal("large"))
			Expect(pending[0].OriginNodeID).To(Equal("node_1"))

			_, err = h.manager.AddNode(ctx, 8) // node_3, should drain "large"
			Expect(err).NotTo(HaveOccurred())
			Expect(h.pendingQ.Len()).To(Equal(0))
			Expect(h.registry.NodeOwning("large")).To(Equal("node_3"))
		})
	})

	Describe("autoscale up", func() {
		It("adds a node when usage exceeds the high threshold", func() {
			h := newHarness(scheduling.FirstFit)
			_, _ = h.manager.AddNode(ctx, 4) // node_1
			_, _ = h.manager.AddNode(ctx, 4) // node_2
			Expect(h.registry.PlacePod("node_1", "pod_a", 4)).To(Succeed())
			Expect(h.registry.PlacePod("node_2", "pod_b", 3)).To(Succeed())

			scaler := autoscaler.New(h.registry, h.manager, autoscaler.Config{
				Enabled:             true,
				HighThreshold:       80,
				LowThreshold:        20,
				DefaultNodeCapacity: 4,
			})
			scaler.Tick(ctx)

			Expect(h.registry.ListNodes()).To(HaveLen(3))
		})
	})
})
