package tcsim

import (
	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("PacketSource", func() {
	var (
		clock  *ManualClock
		layer0 *TrafficControlLayer
		layer1 *TrafficControlLayer
		dev0   *SimpleNetDevice
		dev1   *SimpleNetDevice
		helper *TrafficControlHelper
		rcvd   int
	)

	BeforeEach(func() {
		clock = CreateManualClock()
		layer0 = CreateTrafficControlLayer("node0")
		layer1 = CreateTrafficControlLayer("node1")
		dev0 = CreateSimpleNetDevice("eth0", 1, 10, clock)
		dev1 = CreateSimpleNetDevice("eth1", 1, 10, clock)
		ConnectDevices(dev0, dev1)
		dev1.SetReceiveCallback(layer1.Receive)

		rcvd = 0
		layer1.RegisterProtocolHandler(func(dev NetDevice, pkt *Packet, protocol uint16, from, to string) {
			rcvd += 1
		}, Ipv4Protocol, nil, false)

		helper = NewTrafficControlHelper()
		helper.SetClock(clock)
	})

	newSource := func(rate float64) *PacketSource {
		ps := CreatePacketSource("src", layer0, dev0, *testHeader(1, 0), 1000, rate, clock)
		ps.AssignStream("flow-sim-test")
		Expect(ps.SetAttribute("dest", "eth1")).To(Succeed())
		return ps
	}

	It("carries a paced flow across the link", func() {
		_, err := helper.SetRootQueueDisc("CoDelQueueDisc", nil)
		Expect(err).ToNot(HaveOccurred())
		roots, err := helper.Install(layer0, dev0)
		Expect(err).ToNot(HaveOccurred())

		ps := newSource(1000)
		Expect(ps.SetAttribute("dist", "const")).To(Succeed())
		ps.Start(0.0, 1.0)
		clock.AdvanceTo(2.0)

		Expect(ps.Offered).To(BeNumerically("~", 1000, 2))
		Expect(ps.Accepted).To(Equal(ps.Offered))
		Expect(dev0.TxPackets).To(Equal(ps.Offered))
		Expect(dev0.TxBytes).To(Equal(1000 * ps.Offered))
		Expect(dev1.RxPackets).To(Equal(ps.Offered))
		Expect(rcvd).To(Equal(ps.Offered))
		Expect(roots.Get(0).Stats().NTotalDroppedPackets).To(BeZero())
	})

	It("loses the excess of an overloaded link at the root", func() {
		Expect(dev0.SetAttribute("bandwidth", "4e6")).To(Succeed())
		_, err := helper.SetRootQueueDisc("PfifoFastQueueDisc", map[string]string{"MaxSize": "10p"})
		Expect(err).ToNot(HaveOccurred())
		helper.SetQueueLimits(map[string]string{"txqueuelen": "1"})
		roots, err := helper.Install(layer0, dev0)
		Expect(err).ToNot(HaveOccurred())
		root := roots.Get(0)

		ps := newSource(1000)
		Expect(ps.SetAttribute("dist", "constant")).To(Succeed())
		ps.Start(0.0, 1.0)
		clock.AdvanceTo(3.0)

		lost := ps.Offered - ps.Accepted
		Expect(lost).To(BeNumerically(">", 400))
		Expect(root.Stats().NTotalDroppedPacketsBeforeEnqueue).To(Equal(lost))
		Expect(root.Stats().NDroppedPacketsBeforeEnqueue[LimitExceededDrop]).To(Equal(lost))
		Expect(root.NPackets()).To(BeZero())
		Expect(dev0.TxPackets).To(Equal(ps.Accepted))
		Expect(conserved(root)).To(BeTrue())
	})

	It("draws poisson arrivals by default", func() {
		_, err := helper.SetRootQueueDisc("FqCoDelQueueDisc", nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = helper.Install(layer0, dev0)
		Expect(err).ToNot(HaveOccurred())

		ps := newSource(1000)
		ps.Start(0.0, 1.0)
		clock.AdvanceTo(1.5)
		Expect(ps.Offered).To(BeNumerically("~", 1000, 200))
	})

	It("offers nothing once stopped", func() {
		layer0.SetupDevice(dev0)
		ps := newSource(1000)
		ps.Start(0.1, 0)
		ps.Stop()
		clock.AdvanceTo(1.0)
		Expect(ps.Offered).To(BeZero())

		quiet := newSource(0)
		quiet.Start(0.0, 1.0)
		Expect(clock.Pending()).To(BeZero())
	})

	It("checks its attributes", func() {
		ps := newSource(1000)
		Expect(ps.SetAttribute("dist", "uniform")).To(HaveOccurred())
		Expect(ps.SetAttribute("size", "0")).To(HaveOccurred())
		Expect(ps.SetAttribute("burst", "3")).To(HaveOccurred())
		Expect(ps.SetAttribute("size", "1500")).To(Succeed())
		Expect(ps.String()).To(ContainSubstring("10.0.0.1:1 -> 10.0.0.2:9"))
		Expect(ps.String()).To(ContainSubstring("1500 bytes"))
	})
})
