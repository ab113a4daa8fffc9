package tcsim

import (
	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("PfifoFastQueueDisc", func() {
	var pf *PfifoFastQueueDisc

	prioItem := func(prio uint8) *QueueDiscItem {
		item := testItem(100, 1, 0)
		item.Packet.Priority = prio
		return item
	}

	BeforeEach(func() {
		pf = CreatePfifoFastQueueDisc()
		Expect(pf.SetAttribute("MaxSize", "5p")).To(Succeed())
	})

	It("creates three bands", func() {
		pf.Initialize()
		Expect(pf.NInternalQueues()).To(Equal(3))
	})

	It("places items by socket priority when no filter matches", func() {
		pf.Initialize()
		Expect(pf.Enqueue(prioItem(6))).To(BeTrue())
		Expect(pf.Enqueue(prioItem(0))).To(BeTrue())
		Expect(pf.Enqueue(prioItem(1))).To(BeTrue())

		Expect(pf.InternalQueue(0).NPackets()).To(Equal(1))
		Expect(pf.InternalQueue(1).NPackets()).To(Equal(1))
		Expect(pf.InternalQueue(2).NPackets()).To(Equal(1))
	})

	It("always serves a higher priority band first", func() {
		pf.Initialize()
		low := prioItem(1)
		mid := prioItem(0)
		high := prioItem(6)
		pf.Enqueue(low)
		pf.Enqueue(mid)
		pf.Enqueue(high)

		Expect(pf.Peek()).To(BeIdenticalTo(high))
		Expect(pf.Dequeue()).To(BeIdenticalTo(high))
		Expect(pf.Dequeue()).To(BeIdenticalTo(mid))
		Expect(pf.Dequeue()).To(BeIdenticalTo(low))
		Expect(pf.Dequeue()).To(BeNil())
	})

	It("takes the band from the TOS byte through its filter", func() {
		Expect(pf.AddPacketFilter(CreatePfifoFastPacketFilter(4))).To(Succeed())
		pf.Initialize()

		// TOS 0x10 is low delay, 0x08 is high throughput
		pf.Enqueue(testItem(100, 1, 0x10))
		pf.Enqueue(testItem(100, 1, 0x08))
		pf.Enqueue(testItem(100, 1, 0x00))

		Expect(pf.InternalQueue(0).NPackets()).To(Equal(1))
		Expect(pf.InternalQueue(1).NPackets()).To(Equal(1))
		Expect(pf.InternalQueue(2).NPackets()).To(Equal(1))
	})

	It("drops at the limit of the whole disc", func() {
		pf.Initialize()
		for idx := 0; idx < 6; idx++ {
			pf.Enqueue(prioItem(uint8(idx)))
		}
		Expect(pf.NPackets()).To(Equal(5))
		Expect(pf.Stats().NDroppedPacketsBeforeEnqueue[LimitExceededDrop]).To(Equal(1))
		Expect(conserved(pf.QueueDisc)).To(BeTrue())
	})

	It("rejects a configuration with the wrong number of bands", func() {
		Expect(pf.AddInternalQueue(CreateDropTailQueue(QueueSize{Unit: Packets, Value: 5}))).To(Succeed())
		Expect(pf.CheckConfig()).To(HaveOccurred())
	})

	It("rejects bands smaller than the disc", func() {
		for band := 0; band < 3; band++ {
			Expect(pf.AddInternalQueue(CreateDropTailQueue(QueueSize{Unit: Packets, Value: 2}))).To(Succeed())
		}
		Expect(pf.CheckConfig()).To(MatchError(ContainSubstring("below the disc limit")))
	})
})
