package tcsim

import (
	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("RedQueueDisc", func() {
	var (
		clock *ManualClock
		rd    *RedQueueDisc
	)

	BeforeEach(func() {
		clock = CreateManualClock()
		rd = CreateRedQueueDisc()
		rd.SetClock(clock)
		rd.AssignStream("red-test")
		Expect(rd.SetAttributes(map[string]string{
			"MaxSize": "25p",
			"MinTh":   "5",
			"MaxTh":   "15",
		})).To(Succeed())
	})

	offer := func(n int, tos uint8) int {
		accepted := 0
		for idx := 0; idx < n; idx++ {
			if rd.Enqueue(testItem(500, 1, tos)) {
				accepted += 1
			}
		}
		return accepted
	}

	It("holds a burst within its limit and counts the overflow apart", func() {
		rd.Initialize()
		offer(30, 0)

		st := rd.Stats()
		Expect(rd.NPackets()).To(BeNumerically("<=", 25))
		Expect(st.NTotalDroppedPackets).To(BeNumerically(">", 0))
		Expect(rd.RedStats().QLimDrop).To(BeNumerically(">", 0))
		Expect(st.NDroppedPacketsBeforeEnqueue[RedQueueLimitDrop]).To(Equal(rd.RedStats().QLimDrop))
		Expect(conserved(rd.QueueDisc)).To(BeTrue())
	})

	It("never drops while the average is below the minimum threshold", func() {
		Expect(rd.SetAttribute("QW", "1")).To(Succeed())
		rd.Initialize()
		Expect(offer(5, 0)).To(Equal(5))
		Expect(rd.AverageQueueSize()).To(BeNumerically("<", 5))
		Expect(rd.LastDropType()).To(Equal(DropTypeNone))
		Expect(rd.Stats().NTotalDroppedPackets).To(BeZero())
	})

	It("forces drops once the average reaches the maximum threshold", func() {
		Expect(rd.SetAttribute("QW", "1")).To(Succeed())
		rd.Initialize()

		// with a unit weight the average is the queue length
		Expect(offer(30, 0)).To(Equal(15))
		Expect(rd.NPackets()).To(Equal(15))
		Expect(rd.RedStats().ForcedDrop).To(Equal(15))
		Expect(rd.RedStats().UnforcedDrop).To(BeZero())
		Expect(rd.LastDropType()).To(Equal(DropTypeForced))
		Expect(rd.LastDropType().String()).To(Equal("DTYPE_FORCED"))
	})

	It("marks ECN capable packets instead of forcing drops when hard drops are off", func() {
		Expect(rd.SetAttributes(map[string]string{
			"QW":          "1",
			"UseEcn":      "true",
			"UseHardDrop": "false",
		})).To(Succeed())
		rd.Initialize()

		offer(30, ect0)
		Expect(rd.RedStats().ForcedMark).To(Equal(15))
		Expect(rd.RedStats().ForcedDrop).To(BeZero())
		Expect(rd.RedStats().QLimDrop).To(Equal(5))
		Expect(rd.NPackets()).To(Equal(25))
		Expect(rd.Stats().NTotalMarkedPackets).To(Equal(15))
		Expect(rd.Stats().NMarkedPackets[RedForcedMark]).To(Equal(15))
	})

	It("keeps dropping packets that are not ECN capable", func() {
		Expect(rd.SetAttributes(map[string]string{
			"QW":          "1",
			"UseEcn":      "true",
			"UseHardDrop": "false",
		})).To(Succeed())
		rd.Initialize()

		offer(30, 0)
		Expect(rd.RedStats().ForcedMark).To(BeZero())
		Expect(rd.RedStats().ForcedDrop).To(Equal(15))
	})

	It("ages the average across an idle period", func() {
		Expect(rd.SetAttribute("QW", "0.5")).To(Succeed())
		rd.Initialize()
		offer(10, 0)
		busyAvg := rd.AverageQueueSize()
		for rd.Dequeue() != nil {
		}

		clock.Advance(1.0)
		offer(1, 0)
		Expect(rd.AverageQueueSize()).To(BeNumerically("<", busyAvg/100))
	})

	Context("adaptive RED", func() {
		It("chooses its thresholds from the link", func() {
			Expect(rd.SetAttribute("ARED", "true")).To(Succeed())
			rd.Initialize()
			minTh, maxTh := rd.Thresholds()
			Expect(minTh).To(BeNumerically("~", 5.0, 1e-9))
			Expect(maxTh).To(BeNumerically("~", 15.0, 1e-9))
			Expect(rd.CurMaxP()).To(BeNumerically("~", 0.02, 1e-12))
		})

		It("moves the maximum probability toward the middle of the thresholds", func() {
			rd.Initialize()
			Expect(rd.CurMaxP()).To(BeNumerically("~", 0.02, 1e-12))

			// above the target range: additive increase, capped at a quarter of curMaxP
			rd.updateMaxP(14.0)
			Expect(rd.CurMaxP()).To(BeNumerically("~", 0.025, 1e-12))

			// below it: multiplicative decrease
			rd.updateMaxP(5.0)
			Expect(rd.CurMaxP()).To(BeNumerically("~", 0.0225, 1e-12))
		})
	})

	It("rejects thresholds in the wrong order", func() {
		rd.SetThresholds(10, 5)
		Expect(rd.CheckConfig()).To(HaveOccurred())
	})

	It("rejects a non-positive link bandwidth", func() {
		Expect(rd.SetAttribute("LinkBandwidth", "0")).To(HaveOccurred())
	})
})
