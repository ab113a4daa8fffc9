package tcsim

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("CoDelQueueDisc", func() {
	var (
		clock *ManualClock
		cd    *CoDelQueueDisc
	)

	BeforeEach(func() {
		clock = CreateManualClock()
		cd = CreateCoDelQueueDisc()
		cd.SetClock(clock)
	})

	fill := func(n int, tos uint8) {
		for idx := 0; idx < n; idx++ {
			Expect(cd.Enqueue(testItem(1000, 1, tos))).To(BeTrue())
		}
	}

	It("never drops while the sojourn time stays below target", func() {
		cd.Initialize()
		for idx := 0; idx < 100; idx++ {
			fill(1, 0)
			clock.Advance(0.001)
			Expect(cd.Dequeue()).ToNot(BeNil())
			Expect(cd.Dropping()).To(BeFalse())
		}
		Expect(cd.DropCount()).To(BeZero())
		Expect(cd.LastSojourn()).To(BeNumerically("~", 0.001, 1e-9))
	})

	It("enters the dropping state after a full interval above target", func() {
		cd.Initialize()
		fill(100, 0)

		// above target, but not yet for an interval
		clock.AdvanceTo(0.01)
		Expect(cd.Dequeue()).ToNot(BeNil())
		Expect(cd.Dropping()).To(BeFalse())
		Expect(cd.DropCount()).To(BeZero())

		clock.AdvanceTo(0.12)
		Expect(cd.Dequeue()).ToNot(BeNil())
		Expect(cd.Dropping()).To(BeTrue())
		Expect(cd.DropCount()).To(Equal(1))
		Expect(cd.Count()).To(Equal(1))
		Expect(cd.DropNext()).To(BeNumerically("~", 0.22, 1e-9))
		Expect(cd.Stats().NDroppedPacketsAfterDequeue[CoDelTargetExceededDrop]).To(Equal(1))

		// the next drop comes interval/sqrt(2) after the one scheduled
		clock.AdvanceTo(0.23)
		Expect(cd.Dequeue()).ToNot(BeNil())
		Expect(cd.Count()).To(Equal(2))
		Expect(cd.DropCount()).To(Equal(2))
		Expect(cd.DropNext()).To(BeNumerically("~", 0.22+0.1/math.Sqrt(2), 1e-9))

		Expect(cd.NPackets()).To(Equal(95))
		Expect(conserved(cd.QueueDisc)).To(BeTrue())
	})

	It("leaves the dropping state when the queue drains", func() {
		cd.Initialize()
		fill(10, 0)
		clock.AdvanceTo(0.01)
		cd.Dequeue()
		clock.AdvanceTo(0.12)
		cd.Dequeue()
		Expect(cd.Dropping()).To(BeTrue())

		for cd.Dequeue() != nil {
		}
		Expect(cd.Dropping()).To(BeFalse())
		Expect(cd.NPackets()).To(BeZero())
		Expect(conserved(cd.QueueDisc)).To(BeTrue())
	})

	It("does not drop from a queue holding less than MinBytes", func() {
		Expect(cd.SetAttribute("MinBytes", "100000")).To(Succeed())
		cd.Initialize()
		fill(50, 0)
		clock.AdvanceTo(0.01)
		cd.Dequeue()
		clock.AdvanceTo(0.5)
		cd.Dequeue()
		Expect(cd.Dropping()).To(BeFalse())
		Expect(cd.DropCount()).To(BeZero())
	})

	It("marks ECN capable packets instead of dropping them", func() {
		Expect(cd.SetAttribute("UseEcn", "true")).To(Succeed())
		cd.Initialize()
		fill(100, ect0)

		clock.AdvanceTo(0.01)
		cd.Dequeue()
		clock.AdvanceTo(0.12)
		item := cd.Dequeue()
		Expect(item).ToNot(BeNil())
		Expect(item.Packet.IsCE()).To(BeTrue())
		Expect(cd.Dropping()).To(BeTrue())
		Expect(cd.MarkCount()).To(Equal(1))
		Expect(cd.DropCount()).To(BeZero())
		Expect(cd.Stats().NMarkedPackets[CoDelTargetExceededMark]).To(Equal(1))
	})

	It("marks above the CE threshold", func() {
		Expect(cd.SetAttributes(map[string]string{"UseEcn": "1", "CeThreshold": "2ms"})).To(Succeed())
		cd.Initialize()
		fill(1, ect0)
		clock.AdvanceTo(0.003)
		item := cd.Dequeue()
		Expect(item.Packet.IsCE()).To(BeTrue())
		Expect(cd.Stats().NMarkedPackets[CoDelCeThresholdExceeded]).To(Equal(1))
	})

	It("drops when full", func() {
		Expect(cd.SetAttribute("MaxSize", "4p")).To(Succeed())
		cd.Initialize()
		for idx := 0; idx < 6; idx++ {
			cd.Enqueue(testItem(1000, 1, 0))
		}
		Expect(cd.DropOverLimit()).To(Equal(2))
		Expect(cd.NPackets()).To(Equal(4))
	})
})
