package tcsim

import (
	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("FqCoDelQueueDisc", func() {
	var (
		clock *ManualClock
		fq    *FqCoDelQueueDisc
	)

	BeforeEach(func() {
		clock = CreateManualClock()
		fq = CreateFqCoDelQueueDisc()
		fq.SetClock(clock)
		Expect(fq.AddPacketFilter(portFilter{})).To(Succeed())
	})

	offer := func(n int, port uint16, size int) {
		for idx := 0; idx < n; idx++ {
			fq.Enqueue(testItem(size, port, 0))
		}
	}

	It("creates one flow per bucket, as traffic arrives", func() {
		fq.Initialize()
		Expect(fq.NFlows()).To(BeZero())
		offer(3, 1, 1000)
		offer(2, 2, 1000)
		offer(1, 1025, 1000)

		// ports 1 and 1025 share a bucket of 1024
		Expect(fq.NFlows()).To(Equal(2))
		Expect(fq.NQueueDiscClasses()).To(Equal(2))
		Expect(fq.Flow(0).Bucket()).To(Equal(uint32(1)))
		Expect(fq.Flow(0).QueueDisc().NPackets()).To(Equal(4))
		Expect(fq.Flow(1).QueueDisc().NPackets()).To(Equal(2))
		Expect(fq.NPackets()).To(Equal(6))
	})

	It("shares the link byte for byte between backlogged flows", func() {
		fq.SetQuantum(1000)
		fq.Initialize()
		offer(10, 1, 1000)
		offer(20, 2, 500)

		served := map[uint16]int{}
		for idx := 0; idx < 12; idx++ {
			item := fq.Dequeue()
			Expect(item).ToNot(BeNil())
			served[item.Packet.Header.SrcPort] += item.Size()
		}
		Expect(served[1]).To(Equal(4000))
		Expect(served[2]).To(Equal(4000))
	})

	It("moves flows between the new, old and inactive states", func() {
		fq.SetQuantum(1000)
		fq.Initialize()
		offer(2, 1, 1000)
		flow := fq.Flow(0)
		Expect(flow.Status()).To(Equal(FlowNew))
		Expect(flow.Deficit()).To(Equal(1000))
		Expect(fq.NNewFlows()).To(Equal(1))

		Expect(fq.Dequeue()).ToNot(BeNil())
		Expect(flow.Deficit()).To(BeZero())

		// out of credit: to the old list with a fresh quantum
		Expect(fq.Dequeue()).ToNot(BeNil())
		Expect(flow.Status()).To(Equal(FlowOld))
		Expect(fq.NNewFlows()).To(BeZero())
		Expect(fq.NOldFlows()).To(Equal(1))

		// empty: out of the lists
		Expect(fq.Dequeue()).To(BeNil())
		Expect(flow.Status()).To(Equal(FlowInactive))
		Expect(flow.Deficit()).To(BeZero())
		Expect(fq.NOldFlows()).To(BeZero())
		Expect(flow.Status().String()).To(Equal("INACTIVE"))
	})

	It("sends an emptied new flow behind the old ones", func() {
		fq.SetQuantum(1000)
		fq.Initialize()
		offer(3, 1, 500)
		for idx := 0; idx < 3; idx++ {
			Expect(fq.Dequeue()).ToNot(BeNil())
		}
		first := fq.Flow(0)
		Expect(first.Status()).To(Equal(FlowOld))
		Expect(first.Deficit()).To(Equal(500))

		// the old flow keeps credit while a new one arrives with a single packet
		offer(1, 2, 500)
		offer(1, 1, 500)
		second := fq.Flow(1)
		Expect(second.Status()).To(Equal(FlowNew))

		item := fq.Dequeue()
		Expect(item.Packet.Header.SrcPort).To(Equal(uint16(2)))
		item = fq.Dequeue()
		Expect(item.Packet.Header.SrcPort).To(Equal(uint16(1)))
		Expect(second.Status()).To(Equal(FlowOld))
		Expect(fq.NOldFlows()).To(Equal(2))
		Expect(fq.NNewFlows()).To(BeZero())
	})

	It("drops from the head of the fattest flow when over its limit", func() {
		Expect(fq.SetAttribute("MaxSize", "10p")).To(Succeed())
		fq.Initialize()
		offer(8, 1, 1000)
		offer(3, 2, 1000)

		Expect(fq.OverlimitDrops()).To(Equal(4))
		Expect(fq.Flow(0).QueueDisc().NPackets()).To(Equal(4))
		Expect(fq.Flow(1).QueueDisc().NPackets()).To(Equal(3))
		Expect(fq.NPackets()).To(Equal(7))
		Expect(fq.Stats().NDroppedPacketsAfterDequeue[FqCoDelOverlimitDrop]).To(Equal(4))
		Expect(conserved(fq.QueueDisc)).To(BeTrue())
	})

	It("drops no more than a batch at a time", func() {
		Expect(fq.SetAttributes(map[string]string{"MaxSize": "10p", "DropBatchSize": "2"})).To(Succeed())
		fq.Initialize()
		offer(8, 1, 1000)
		offer(3, 2, 1000)
		Expect(fq.OverlimitDrops()).To(Equal(2))
		Expect(fq.NPackets()).To(Equal(9))
	})

	It("drops what its filters cannot classify", func() {
		fq.Initialize()
		noHdr := CreateQueueDiscItem(CreatePacket(100, nil), "", 0x0806)
		Expect(fq.Enqueue(noHdr)).To(BeFalse())
		Expect(fq.Stats().NDroppedPacketsBeforeEnqueue[UnclassifiedDrop]).To(Equal(1))
	})

	It("spreads colliding flows over a set with the set-associative hash", func() {
		Expect(fq.SetAttributes(map[string]string{"EnableSetAssociativeHash": "true", "SetWays": "8"})).To(Succeed())
		fq.Initialize()
		offer(1, 1, 1000)
		offer(1, 1025, 1000)
		Expect(fq.NFlows()).To(Equal(2))
		Expect(fq.Flow(0).Bucket()).To(Equal(uint32(0)))
		Expect(fq.Flow(1).Bucket()).To(Equal(uint32(1)))
	})

	It("hashes the 5-tuple when it has no filter", func() {
		qd := CreateFqCoDelQueueDisc()
		qd.SetClock(clock)
		qd.Initialize()
		qd.Enqueue(testItem(1000, 7, 0))
		qd.Enqueue(testItem(1000, 7, 0))
		Expect(qd.NFlows()).To(Equal(1))
		Expect(qd.Flow(0).QueueDisc().NPackets()).To(Equal(2))
	})

	Context("configuration", func() {
		It("requires a packet limit", func() {
			Expect(fq.SetAttribute("MaxSize", "10000B")).To(Succeed())
			Expect(fq.CheckConfig()).To(HaveOccurred())
		})

		It("requires the flows to divide into sets", func() {
			Expect(fq.SetAttributes(map[string]string{
				"EnableSetAssociativeHash": "true",
				"Flows":                    "100",
				"SetWays":                  "8",
			})).To(Succeed())
			Expect(fq.CheckConfig()).To(HaveOccurred())
		})

		It("refuses internal queues", func() {
			Expect(fq.AddInternalQueue(CreateDropTailQueue(QueueSize{Unit: Packets, Value: 10}))).To(Succeed())
			Expect(fq.CheckConfig()).To(HaveOccurred())
		})

		It("passes its parameters to the flows", func() {
			Expect(fq.SetAttributes(map[string]string{"Target": "2ms", "Interval": "50ms", "UseEcn": "false"})).To(Succeed())
			fq.Initialize()
			offer(1, 1, 1000)
			cd := AsCoDelQueueDisc(fq.Flow(0).QueueDisc())
			Expect(cd).ToNot(BeNil())
			Expect(cd.Target()).To(BeNumerically("~", 0.002, 1e-12))
			Expect(cd.Interval()).To(BeNumerically("~", 0.05, 1e-12))
			Expect(cd.Clock()).To(BeIdenticalTo(clock))
		})
	})
})
