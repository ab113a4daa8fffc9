package tcsim

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"

	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("TrafficControlLayer", func() {
	var (
		layer  *TrafficControlLayer
		dev    *mockNetDevice
		txqs   []*simTxQueue
		clock  *ManualClock
		helper *TrafficControlHelper
	)

	BeforeEach(func() {
		layer = CreateTrafficControlLayer("node0")
		dev, txqs = newMockNetDevice("eth0", 1)
		clock = CreateManualClock()
		helper = NewTrafficControlHelper()
		helper.SetClock(clock)
	})

	expectSend := func() {
		dev.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)
	}

	Context("without a root queue disc", func() {
		It("hands items straight to the device", func() {
			expectSend()
			layer.SetupDevice(dev)
			Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeTrue())
			dev.AssertNumberOfCalls(GinkgoT(), "Send", 1)
		})

		It("refuses items while the device queue is stopped", func() {
			layer.SetupDevice(dev)
			txqs[0].stopped = true
			Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeFalse())
			dev.AssertNotCalled(GinkgoT(), "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})

		It("refuses items for a device it does not know", func() {
			Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeFalse())
		})

		It("sets up a device once", func() {
			layer.SetupDevice(dev)
			layer.SetupDevice(dev)
			Expect(layer.Devices()).To(HaveLen(1))
			Expect(layer.GetRootQueueDiscOnDevice(dev)).To(BeNil())
		})
	})

	Context("with a root queue disc", func() {
		var root *QueueDisc

		BeforeEach(func() {
			expectSend()
			_, err := helper.SetRootQueueDisc("CoDelQueueDisc", map[string]string{"MaxSize": "100p"})
			Expect(err).ToNot(HaveOccurred())
			roots, err := helper.Install(layer, dev)
			Expect(err).ToNot(HaveOccurred())
			Expect(roots.N()).To(Equal(1))
			root = roots.Get(0)
		})

		It("runs the disc after each enqueue", func() {
			Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeTrue())
			Expect(root.Stats().NTotalSentPackets).To(Equal(1))
			Expect(root.NPackets()).To(BeZero())
			dev.AssertNumberOfCalls(GinkgoT(), "Send", 1)
		})

		It("holds items while the device is stopped and sends them on wake", func() {
			txqs[0].stopped = true
			for idx := 0; idx < 3; idx++ {
				Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeTrue())
			}
			Expect(root.NPackets()).To(Equal(3))
			dev.AssertNotCalled(GinkgoT(), "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

			txqs[0].stopped = false
			Expect(txqs[0].wake).ToNot(BeNil())
			txqs[0].wake()
			Expect(root.NPackets()).To(BeZero())
			Expect(root.Stats().NTotalSentPackets).To(Equal(3))
		})

		It("stops sending when the device fills up", func() {
			dev, txqs = newMockNetDevice("eth0", 1)
			dev.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { txqs[0].stopped = true }).Return(true)

			other := CreateTrafficControlLayer("node1")
			roots, err := helper.Install(other, dev)
			Expect(err).ToNot(HaveOccurred())
			txqs[0].stopped = true
			for idx := 0; idx < 3; idx++ {
				other.Send(dev, testItem(100, 1, 0))
			}

			txqs[0].stopped = false
			txqs[0].wake()
			Expect(roots.Get(0).Stats().NTotalSentPackets).To(Equal(1))
			Expect(roots.Get(0).NPackets()).To(Equal(2))
		})

		It("reports the drops of the disc to the sender", func() {
			txqs[0].stopped = true
			accepted := 0
			for idx := 0; idx < 105; idx++ {
				if layer.Send(dev, testItem(100, 1, 0)) {
					accepted += 1
				}
			}
			Expect(accepted).To(Equal(100))
			Expect(root.Stats().NTotalDroppedPackets).To(Equal(5))
		})

		It("refuses a second root", func() {
			Expect(layer.SetRootQueueDiscOnDevice(dev, CreateCoDelQueueDisc().QueueDisc)).To(HaveOccurred())
		})

		It("deletes the root and forgets the device", func() {
			Expect(layer.DeleteRootQueueDiscOnDevice(dev)).To(Succeed())
			Expect(layer.GetRootQueueDiscOnDevice(dev)).To(BeNil())
			Expect(layer.Devices()).To(BeEmpty())
			Expect(txqs[0].wake).To(BeNil())
			Expect(layer.DeleteRootQueueDiscOnDevice(dev)).To(HaveOccurred())
		})

		It("renders the installed tree", func() {
			layer.Send(dev, testItem(100, 1, 0))
			dump := layer.Dump()
			Expect(dump).To(ContainSubstring("node0"))
			Expect(dump).To(ContainSubstring("eth0"))
			Expect(dump).To(ContainSubstring("CoDelQueueDisc 1:0"))
			Expect(dump).To(ContainSubstring("sent 1"))
		})
	})

	Context("transmission queue selection", func() {
		BeforeEach(func() {
			dev, txqs = newMockNetDevice("eth1", 2)
			expectSend()
			layer.SetupDevice(dev)
		})

		It("uses the queue the callback picks", func() {
			Expect(layer.SetSelectQueueCallback(dev, func(item *QueueDiscItem) int { return 1 })).To(Succeed())
			item := testItem(100, 1, 0)
			Expect(layer.Send(dev, item)).To(BeTrue())
			Expect(item.TxQueue).To(Equal(1))
			dev.AssertCalled(GinkgoT(), "Send", item.Packet, mock.Anything, mock.Anything, 1)
		})

		It("rejects a queue the device does not have", func() {
			Expect(layer.SetSelectQueueCallback(dev, func(item *QueueDiscItem) int { return 5 })).To(Succeed())
			Expect(layer.Send(dev, testItem(100, 1, 0))).To(BeFalse())
			dev.AssertNotCalled(GinkgoT(), "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})

		It("needs the device to be set up first", func() {
			other, _ := newMockNetDevice("eth2", 2)
			Expect(layer.SetSelectQueueCallback(other, func(item *QueueDiscItem) int { return 0 })).To(HaveOccurred())
		})

		It("sees the device as stopped when any queue is", func() {
			_, err := helper.SetRootQueueDisc("PfifoFastQueueDisc", nil)
			Expect(err).ToNot(HaveOccurred())
			other, otherQueues := newMockNetDevice("eth3", 2)
			otherQueues[1].stopped = true
			roots, err := helper.Install(layer, other)
			Expect(err).ToNot(HaveOccurred())

			layer.Send(other, testItem(100, 1, 0))
			Expect(roots.Get(0).NPackets()).To(Equal(1))
			other.AssertNotCalled(GinkgoT(), "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	})

	Context("receiving", func() {
		type delivery struct {
			handler string
			from    string
		}
		var got []delivery

		record := func(name string) ProtocolHandler {
			return func(dev NetDevice, pkt *Packet, protocol uint16, from, to string) {
				got = append(got, delivery{handler: name, from: from})
			}
		}

		BeforeEach(func() {
			got = nil
			layer.SetupDevice(dev)
			layer.RegisterProtocolHandler(record("ipv4"), Ipv4Protocol, nil, false)
			layer.RegisterProtocolHandler(record("any"), 0, nil, false)
			layer.RegisterProtocolHandler(record("eth0-only"), 0, dev, false)
			layer.RegisterProtocolHandler(record("sniffer"), 0, nil, true)
		})

		It("hands a packet to every handler that matches it", func() {
			layer.Receive(dev, CreatePacket(100, testHeader(1, 0)), Ipv4Protocol, "peer", "eth0")
			Expect(got).To(HaveLen(4))
			Expect(got[0]).To(Equal(delivery{handler: "ipv4", from: "peer"}))
		})

		It("filters on protocol and device", func() {
			other, _ := newMockNetDevice("eth9", 1)
			layer.Receive(other, CreatePacket(100, nil), Ipv6Protocol, "peer", "")
			handlers := make([]string, 0)
			for _, d := range got {
				handlers = append(handlers, d.handler)
			}
			Expect(handlers).To(Equal([]string{"any", "sniffer"}))
		})

		It("gives packets for someone else only to promiscuous handlers", func() {
			layer.Receive(dev, CreatePacket(100, nil), Ipv4Protocol, "peer", "elsewhere")
			Expect(got).To(Equal([]delivery{{handler: "sniffer", from: "peer"}}))
		})
	})

	Context("netlink export", func() {
		It("describes a prio tree as kernel qdiscs", func() {
			expectSend()
			rootHandle, err := helper.SetRootQueueDisc("PrioQueueDisc", nil)
			Expect(err).ToNot(HaveOccurred())
			classes, err := helper.AddQueueDiscClasses(rootHandle, 3)
			Expect(err).ToNot(HaveOccurred())
			_, err = helper.AddChildQueueDiscs(rootHandle, classes, "CoDelQueueDisc", nil)
			Expect(err).ToNot(HaveOccurred())
			_, err = helper.Install(layer, dev)
			Expect(err).ToNot(HaveOccurred())

			qdiscs, err := layer.ExportNetlinkQdiscs(dev, 7)
			Expect(err).ToNot(HaveOccurred())
			Expect(qdiscs).To(HaveLen(4))

			prio, ok := qdiscs[0].(*netlink.Prio)
			Expect(ok).To(BeTrue())
			Expect(prio.Bands).To(Equal(uint8(3)))
			Expect(prio.Attrs().Parent).To(Equal(uint32(netlink.HANDLE_ROOT)))
			Expect(prio.Attrs().Handle).To(Equal(netlink.MakeHandle(1, 0)))
			Expect(prio.Attrs().LinkIndex).To(Equal(7))

			for idx, qdisc := range qdiscs[1:] {
				Expect(qdisc.Type()).To(Equal("codel"))
				Expect(qdisc.Attrs().Parent).To(Equal(netlink.MakeHandle(1, uint16(idx+1))))
				Expect(qdisc.Attrs().Handle).To(Equal(netlink.MakeHandle(uint16(idx+2), 0)))
			}
		})

		It("describes FQ-CoDel with the quantum fitted to the device", func() {
			expectSend()
			_, err := Default(1).Install(layer, dev)
			Expect(err).ToNot(HaveOccurred())

			qdiscs, err := layer.ExportNetlinkQdiscs(dev, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(qdiscs).To(HaveLen(1))
			fq, ok := qdiscs[0].(*netlink.FqCodel)
			Expect(ok).To(BeTrue())
			Expect(fq.Quantum).To(Equal(uint32(1514)))
			Expect(fq.Flows).To(Equal(uint32(1024)))
			Expect(fq.Limit).To(Equal(uint32(10240)))
			Expect(fq.Target).To(Equal(uint32(5000)))
			Expect(fq.Interval).To(Equal(uint32(100000)))
			Expect(fq.ECN).To(Equal(uint32(1)))
		})

		It("needs a root to export", func() {
			layer.SetupDevice(dev)
			_, err := layer.ExportNetlinkQdiscs(dev, 1)
			Expect(err).To(HaveOccurred())
		})
	})
})
