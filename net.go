package tcsim

// net.go holds the packet and network-device collaborators of the traffic-control
// layer: the parsed header fields filters look at, the interfaces a device offers
// to the layer, and a simple simulated device whose transmit queues stop when full
// and wake the layer when they drain

import (
	"net/netip"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// protocol numbers carried by items, as found in the ethernet type field
const (
	Ipv4Protocol uint16 = 0x0800
	Ipv6Protocol uint16 = 0x86DD
)

// IP protocol numbers seen by the filters
const (
	TCPProtocol uint8 = 6
	UDPProtocol uint8 = 17
)

// ecnCode is the base type for the ECN codepoint carried in the low two bits of the TOS field
type ecnCode uint8

const (
	ecnNotECT ecnCode = iota
	ecnECT1
	ecnECT0
	ecnCE
)

// ecnCodeToStr returns a string corresponding to an input ecnCode
func ecnCodeToStr(code ecnCode) string {
	switch code {
	case ecnNotECT:
		return "Not-ECT"
	case ecnECT1:
		return "ECT(1)"
	case ecnECT0:
		return "ECT(0)"
	case ecnCE:
		return "CE"
	}
	return "Unknown"
}

// IPHeader carries the already-parsed header fields of a packet
type IPHeader struct {
	Version  int // 4 or 6
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8 // transport protocol number
	Tos      uint8 // TOS byte (v4) or traffic class (v6)
	SrcPort  uint16
	DstPort  uint16
}

// ecn returns the ECN codepoint of the header
func (hdr *IPHeader) ecn() ecnCode {
	return ecnCode(hdr.Tos & 0x3)
}

// Packet is the payload handle carried by a queue disc item
type Packet struct {
	UID      int       // unique identifier
	Size     int       // bytes, headers included
	Priority uint8     // socket priority, consulted by pfifo-fast when no filter matches
	Header   *IPHeader // nil for non-IP payloads
}

// number of packets created, used to generate UIDs
var numPackets int = 0

// CreatePacket is a constructor
func CreatePacket(size int, hdr *IPHeader) *Packet {
	numPackets += 1
	pkt := new(Packet)
	pkt.UID = numPackets
	pkt.Size = size
	pkt.Header = hdr
	return pkt
}

// EcnCapable is true when the packet carries ECT(0), ECT(1) or CE
func (pkt *Packet) EcnCapable() bool {
	return pkt.Header != nil && pkt.Header.ecn() != ecnNotECT
}

// MarkCE sets the congestion-experienced codepoint, if the packet is ECN capable.
// The return tells whether the packet now carries CE
func (pkt *Packet) MarkCE() bool {
	if !pkt.EcnCapable() {
		return false
	}
	pkt.Header.Tos |= uint8(ecnCE)
	return true
}

// IsCE tells whether the packet carries the congestion-experienced codepoint
func (pkt *Packet) IsCE() bool {
	return pkt.Header != nil && pkt.Header.ecn() == ecnCE
}

// NetDeviceQueue is one transmission queue of a device, as seen by the layer
type NetDeviceQueue interface {
	// IsStopped is true when the queue will not accept another packet
	IsStopped() bool

	// SetWakeCallback registers the function called when a stopped queue has drained
	SetWakeCallback(cb func())
}

// NetDevice is the device-side collaborator of the traffic-control layer
type NetDevice interface {
	Name() string
	MTU() int
	NumTxQueues() int
	TxQueue(idx int) NetDeviceQueue

	// Send hands a packet to transmission queue txq.  The return is false if the device refused it
	Send(pkt *Packet, dest string, protocol uint16, txq int) bool
}

// simTxQueue is a transmission queue of a SimpleNetDevice
type simTxQueue struct {
	stopped  bool
	wake     func()
	waiting  []*simFrame // frames accepted but not yet on the wire
	capacity int         // number of frames the queue holds before it stops
	busy     bool        // true while a frame is being transmitted
}

// IsStopped tells whether the queue is full
func (txq *simTxQueue) IsStopped() bool {
	return txq.stopped
}

// SetWakeCallback saves the function to call when the queue drains
func (txq *simTxQueue) SetWakeCallback(cb func()) {
	txq.wake = cb
}

// simFrame is a packet in a SimpleNetDevice transmit queue
type simFrame struct {
	pkt      *Packet
	dest     string
	protocol uint16
}

// SimpleNetDevice is a point-to-point device that serializes packets at a fixed bandwidth
type SimpleNetDevice struct {
	name     string
	number   int
	mtu      int
	bndwdth  float64 // bits per second
	latency  float64 // propagation delay to the peer, seconds
	txQueues []*simTxQueue
	peer     *SimpleNetDevice
	clock    SimClock
	log      klog.Logger

	// called when a frame finishes transmission
	transmitted func(pkt *Packet, now float64)

	// called when a frame arrives from the peer
	rxCallback func(dev NetDevice, pkt *Packet, protocol uint16, from, to string)

	TxPackets int
	TxBytes   int
	RxPackets int
}

// CreateSimpleNetDevice is a constructor.  Each of the nTxQueues transmission queues
// holds txQueueLen frames before it stops
func CreateSimpleNetDevice(name string, nTxQueues, txQueueLen int, clock SimClock) *SimpleNetDevice {
	dev := new(SimpleNetDevice)
	dev.name = name
	dev.number = nxtId()
	dev.mtu = 1500
	dev.bndwdth = 1e7
	dev.latency = 0.0
	dev.clock = clock
	dev.log = klog.Background().WithName("SimpleNetDevice")
	if nTxQueues < 1 {
		nTxQueues = 1
	}
	if txQueueLen < 1 {
		txQueueLen = 1
	}
	dev.txQueues = make([]*simTxQueue, nTxQueues)
	for idx := range dev.txQueues {
		dev.txQueues[idx] = &simTxQueue{capacity: txQueueLen, waiting: make([]*simFrame, 0)}
	}
	return dev
}

// ConnectDevices makes each device the peer of the other
func ConnectDevices(dev1, dev2 *SimpleNetDevice) {
	dev1.peer = dev2
	dev2.peer = dev1
}

// Name returns the device name
func (dev *SimpleNetDevice) Name() string {
	return dev.name
}

// MTU returns the device MTU in bytes
func (dev *SimpleNetDevice) MTU() int {
	return dev.mtu
}

// NumTxQueues returns the number of transmission queues
func (dev *SimpleNetDevice) NumTxQueues() int {
	return len(dev.txQueues)
}

// TxQueue returns the idx-th transmission queue
func (dev *SimpleNetDevice) TxQueue(idx int) NetDeviceQueue {
	return dev.txQueues[idx]
}

// SetTransmitCallback registers a function called each time a frame leaves the device
func (dev *SimpleNetDevice) SetTransmitCallback(cb func(pkt *Packet, now float64)) {
	dev.transmitted = cb
}

// SetReceiveCallback registers the function that gets frames arriving from the peer
func (dev *SimpleNetDevice) SetReceiveCallback(cb func(dev NetDevice, pkt *Packet, protocol uint16, from, to string)) {
	dev.rxCallback = cb
}

// SetAttribute sets one device parameter by name
func (dev *SimpleNetDevice) SetAttribute(param, value string) error {
	return dev.setParam(param, stringToValueStruct(value))
}

// setParam assigns the device parameter named by paramType
func (dev *SimpleNetDevice) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "bandwidth", "DataRate":
		// units of bandwidth are bits/sec
		if value.floatValue <= 0.0 {
			return errors.Errorf("device %s bandwidth must be positive", dev.name)
		}
		dev.bndwdth = value.floatValue
	case "latency", "Delay":
		// units of latency are seconds
		dev.latency = value.floatValue
	case "MTU", "Mtu":
		// number of bytes in maximally sized packet
		dev.mtu = value.intValue
	case "txqueuelen":
		for _, txq := range dev.txQueues {
			txq.capacity = value.intValue
		}
	default:
		return unknownParam(dev, paramType)
	}
	return nil
}

// paramObjName helps SimpleNetDevice satisfy paramObj interface, returns device name
func (dev *SimpleNetDevice) paramObjName() string {
	return dev.name
}

// Send accepts a frame into transmission queue txqIdx if that queue is not stopped
func (dev *SimpleNetDevice) Send(pkt *Packet, dest string, protocol uint16, txqIdx int) bool {
	if txqIdx < 0 || txqIdx >= len(dev.txQueues) {
		return false
	}
	txq := dev.txQueues[txqIdx]
	if txq.stopped {
		dev.log.V(4).Info("Send on stopped queue", "device", dev.name, "txq", txqIdx, "uid", pkt.UID)
		return false
	}
	txq.waiting = append(txq.waiting, &simFrame{pkt: pkt, dest: dest, protocol: protocol})

	// stop the queue once it is full, the layer will hear when it drains
	if len(txq.waiting) >= txq.capacity {
		txq.stopped = true
	}
	if !txq.busy {
		dev.startTx(txq)
	}
	return true
}

// startTx puts the frame at the head of txq on the wire
func (dev *SimpleNetDevice) startTx(txq *simTxQueue) {
	txq.busy = true
	frame := txq.waiting[0]
	txTime := float64(frame.pkt.Size*8) / dev.bndwdth
	dev.clock.Schedule(txTime, func() { dev.completeTx(txq) })
}

// completeTx is called when the frame at the head of txq has been serialized
func (dev *SimpleNetDevice) completeTx(txq *simTxQueue) {
	frame := txq.waiting[0]
	txq.waiting = txq.waiting[1:]
	txq.busy = false
	dev.TxPackets += 1
	dev.TxBytes += frame.pkt.Size

	if dev.transmitted != nil {
		dev.transmitted(frame.pkt, dev.clock.Now())
	}
	if dev.peer != nil {
		peer := dev.peer
		dev.clock.Schedule(dev.latency, func() { peer.receive(frame.pkt, frame.protocol, dev.name, frame.dest) })
	}

	// a stopped queue with room again is restarted, and whoever feeds it is told
	if txq.stopped && len(txq.waiting) < txq.capacity {
		txq.stopped = false
		if txq.wake != nil {
			txq.wake()
		}
	}
	if !txq.busy && len(txq.waiting) > 0 {
		dev.startTx(txq)
	}
}

// receive delivers a frame that arrived from the peer
func (dev *SimpleNetDevice) receive(pkt *Packet, protocol uint16, from, to string) {
	dev.RxPackets += 1
	if dev.rxCallback != nil {
		dev.rxCallback(dev, pkt, protocol, from, to)
	}
}
