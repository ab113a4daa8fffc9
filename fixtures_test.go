package tcsim

import (
	"net/netip"
)

// testHeader returns a fresh IPv4 UDP header; items never share headers since marking rewrites them
func testHeader(srcPort uint16, tos uint8) *IPHeader {
	return &IPHeader{
		Version:  4,
		Src:      netip.MustParseAddr("10.0.0.1"),
		Dst:      netip.MustParseAddr("10.0.0.2"),
		Protocol: UDPProtocol,
		Tos:      tos,
		SrcPort:  srcPort,
		DstPort:  9,
	}
}

func testItem(size int, srcPort uint16, tos uint8) *QueueDiscItem {
	return CreateQueueDiscItem(CreatePacket(size, testHeader(srcPort, tos)), "10.0.0.2", Ipv4Protocol)
}

// ect0 is a TOS byte carrying ECT(0)
const ect0 uint8 = 0x02

// portFilter classifies by source port, and refuses items without a header
type portFilter struct{}

func (pf portFilter) CheckProtocol(item *QueueDiscItem) bool {
	return item.Packet.Header != nil
}

func (pf portFilter) DoClassify(item *QueueDiscItem) int {
	return int(item.Packet.Header.SrcPort)
}

// conserved is the counter identity every disc keeps: everything received is
// stored, dropped or gone out
func conserved(qd *QueueDisc) bool {
	st := qd.Stats()
	return st.NTotalReceivedPackets == qd.NPackets()+st.NTotalDroppedPackets+st.NTotalDequeuedPackets
}
