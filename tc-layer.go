package tcsim

// tc-layer.go holds the TrafficControlLayer, which sits between the protocols of a
// node and its devices.  Outgoing packets go through the root queue disc installed
// on their device, incoming packets are handed to the protocol handlers registered
// for them, and a device queue that drains restarts its root queue disc

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"github.com/xlab/treeprint"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

// ProtocolHandler receives the packets delivered up by the layer
type ProtocolHandler func(dev NetDevice, pkt *Packet, protocol uint16, from, to string)

// SelectQueueCallback picks the device transmission queue of an outgoing item
type SelectQueueCallback func(item *QueueDiscItem) int

// protocolHandlerEntry is a registered handler with its filter.  Protocol 0 and a nil device match anything
type protocolHandlerEntry struct {
	handler     ProtocolHandler
	protocol    uint16
	device      NetDevice
	promiscuous bool
}

// rootDevQueue is the device as seen by a root disc: stopped whenever one of
// its transmission queues is
type rootDevQueue struct {
	dev NetDevice
}

// IsStopped tells whether any transmission queue of the device is stopped
func (rdq *rootDevQueue) IsStopped() bool {
	for idx := 0; idx < rdq.dev.NumTxQueues(); idx++ {
		if rdq.dev.TxQueue(idx).IsStopped() {
			return true
		}
	}
	return false
}

// SetWakeCallback registers cb with every transmission queue of the device
func (rdq *rootDevQueue) SetWakeCallback(cb func()) {
	for idx := 0; idx < rdq.dev.NumTxQueues(); idx++ {
		rdq.dev.TxQueue(idx).SetWakeCallback(cb)
	}
}

// netDeviceInfo is what the layer keeps about one device
type netDeviceInfo struct {
	rootQueueDisc *QueueDisc
	devQueue      *rootDevQueue
	selectQueue   SelectQueueCallback
}

// TrafficControlLayer owns the root queue disc of each device of a node
type TrafficControlLayer struct {
	name     string
	devices  map[NetDevice]*netDeviceInfo
	devOrder []NetDevice // devices in order of setup
	handlers []protocolHandlerEntry
	log      klog.Logger
}

// CreateTrafficControlLayer is a constructor
func CreateTrafficControlLayer(name string) *TrafficControlLayer {
	tcl := new(TrafficControlLayer)
	tcl.name = name
	tcl.devices = make(map[NetDevice]*netDeviceInfo)
	tcl.devOrder = make([]NetDevice, 0)
	tcl.handlers = make([]protocolHandlerEntry, 0)
	tcl.log = klog.Background().WithName("TrafficControlLayer")
	return tcl
}

// Name returns the name of the layer
func (tcl *TrafficControlLayer) Name() string {
	return tcl.name
}

// SetLogger replaces the logger of the layer
func (tcl *TrafficControlLayer) SetLogger(logger klog.Logger) {
	tcl.log = logger.WithName("TrafficControlLayer")
}

// SetupDevice makes the layer aware of a device.  Calling it again for the same device does nothing
func (tcl *TrafficControlLayer) SetupDevice(dev NetDevice) {
	if _, present := tcl.devices[dev]; present {
		return
	}
	tcl.devices[dev] = &netDeviceInfo{devQueue: &rootDevQueue{dev: dev}}
	tcl.devOrder = append(tcl.devOrder, dev)
	tcl.log.V(2).Info("Device set up", "layer", tcl.name, "device", dev.Name(), "txQueues", dev.NumTxQueues())
}

// Devices returns the devices known to the layer, in order of setup
func (tcl *TrafficControlLayer) Devices() []NetDevice {
	return slices.Clone(tcl.devOrder)
}

// SetSelectQueueCallback gives the function choosing the transmission queue of items sent on dev
func (tcl *TrafficControlLayer) SetSelectQueueCallback(dev NetDevice, cb SelectQueueCallback) error {
	info, present := tcl.devices[dev]
	if !present {
		return errors.Errorf("layer %s: device %s is not set up", tcl.name, dev.Name())
	}
	info.selectQueue = cb
	return nil
}

// SetRootQueueDiscOnDevice attaches qdisc as the root of dev, wires it to the
// device and initializes it.  A configuration error in the tree aborts the run
func (tcl *TrafficControlLayer) SetRootQueueDiscOnDevice(dev NetDevice, qdisc *QueueDisc) error {
	tcl.SetupDevice(dev)
	info := tcl.devices[dev]
	if info.rootQueueDisc != nil {
		return errors.Errorf("layer %s: device %s already has root queue disc %s",
			tcl.name, dev.Name(), info.rootQueueDisc.Name())
	}

	// FQ-CoDel credits a full frame per round unless told otherwise
	if fq := AsFqCoDelQueueDisc(qdisc); fq != nil && !fq.quantumSet {
		fq.quantum = dev.MTU() + 14
	}

	qdisc.SetNetDeviceQueue(info.devQueue)
	qdisc.SetSendCallback(func(item *QueueDiscItem) {
		if !dev.Send(item.Packet, item.Address, item.Protocol, item.TxQueue) {
			tcl.log.V(4).Info("Device refused item", "device", dev.Name(), "uid", item.Packet.UID)
		}
	})
	qdisc.Initialize()

	info.rootQueueDisc = qdisc
	info.devQueue.SetWakeCallback(func() { qdisc.Run() })
	tcl.log.V(2).Info("Root queue disc installed", "layer", tcl.name, "device", dev.Name(),
		"qdisc", qdisc.Name(), "handle", qdisc.HandleString())
	return nil
}

// GetRootQueueDiscOnDevice returns the root queue disc of dev, or nil if it has none
func (tcl *TrafficControlLayer) GetRootQueueDiscOnDevice(dev NetDevice) *QueueDisc {
	info, present := tcl.devices[dev]
	if !present {
		return nil
	}
	return info.rootQueueDisc
}

// DeleteRootQueueDiscOnDevice disposes of the root queue disc of dev and forgets the device
func (tcl *TrafficControlLayer) DeleteRootQueueDiscOnDevice(dev NetDevice) error {
	info, present := tcl.devices[dev]
	if !present || info.rootQueueDisc == nil {
		return errors.Errorf("layer %s: device %s has no root queue disc", tcl.name, dev.Name())
	}
	info.devQueue.SetWakeCallback(nil)
	info.rootQueueDisc.Dispose()
	tcl.log.V(2).Info("Root queue disc deleted", "layer", tcl.name, "device", dev.Name(),
		"qdisc", info.rootQueueDisc.Name())

	delete(tcl.devices, dev)
	if idx := slices.Index(tcl.devOrder, dev); idx >= 0 {
		tcl.devOrder = slices.Delete(tcl.devOrder, idx, idx+1)
	}
	return nil
}

// Send pushes an item towards dev.  With a root queue disc the item is enqueued
// and the disc run, otherwise it goes straight to the device if the device can
// take it.  The return tells whether the item was accepted
func (tcl *TrafficControlLayer) Send(dev NetDevice, item *QueueDiscItem) bool {
	info, present := tcl.devices[dev]
	if !present {
		tcl.log.V(4).Info("Send on unknown device", "layer", tcl.name, "device", dev.Name())
		return false
	}

	txq := 0
	if dev.NumTxQueues() > 1 && info.selectQueue != nil {
		txq = info.selectQueue(item)
	}
	if txq < 0 || txq >= dev.NumTxQueues() {
		tcl.log.Error(nil, "Transmission queue out of range", "device", dev.Name(), "txq", txq,
			"txQueues", dev.NumTxQueues())
		return false
	}
	item.TxQueue = txq

	if info.rootQueueDisc == nil {
		if dev.TxQueue(txq).IsStopped() {
			return false
		}
		return dev.Send(item.Packet, item.Address, item.Protocol, txq)
	}

	accepted := info.rootQueueDisc.Enqueue(item)
	info.rootQueueDisc.Run()
	return accepted
}

// RegisterProtocolHandler adds a receiver of incoming packets.  Protocol 0 matches
// every protocol and a nil device every device.  Only a promiscuous handler sees
// packets addressed to someone else
func (tcl *TrafficControlLayer) RegisterProtocolHandler(handler ProtocolHandler, protocol uint16, dev NetDevice, promiscuous bool) {
	tcl.handlers = append(tcl.handlers, protocolHandlerEntry{handler: handler, protocol: protocol,
		device: dev, promiscuous: promiscuous})
}

// Receive hands a packet arriving on dev to every handler that matches it.  It
// has the signature of a device receive callback
func (tcl *TrafficControlLayer) Receive(dev NetDevice, pkt *Packet, protocol uint16, from, to string) {
	forUs := to == "" || to == dev.Name()
	delivered := 0
	for _, entry := range tcl.handlers {
		if entry.device != nil && entry.device != dev {
			continue
		}
		if entry.protocol != 0 && entry.protocol != protocol {
			continue
		}
		if !forUs && !entry.promiscuous {
			continue
		}
		entry.handler(dev, pkt, protocol, from, to)
		delivered += 1
	}
	if delivered == 0 {
		tcl.log.V(4).Info("No handler for packet", "device", dev.Name(), "protocol", protocol, "uid", pkt.UID)
	}
}

// Dump renders the installed trees, with their counters, as text
func (tcl *TrafficControlLayer) Dump() string {
	tree := treeprint.NewWithRoot(tcl.name)
	for _, dev := range tcl.devOrder {
		branch := tree.AddBranch(fmt.Sprintf("%s (mtu %d, %d tx queues)", dev.Name(), dev.MTU(), dev.NumTxQueues()))
		root := tcl.devices[dev].rootQueueDisc
		if root == nil {
			branch.AddNode("noqueue")
			continue
		}
		dumpQueueDisc(branch, root)
	}
	return tree.String()
}

// dumpQueueDisc adds qd and its subtree below node
func dumpQueueDisc(node treeprint.Tree, qd *QueueDisc) {
	branch := node.AddBranch(fmt.Sprintf("%s %s limit %s: %s", qd.typeName, qd.HandleString(),
		qd.maxSize.String(), qd.stats.String()))
	for idx, queue := range qd.queues {
		branch.AddNode(fmt.Sprintf("queue %d: %s of %s", idx, queue.CurrentSize().String(), queue.MaxSize().String()))
	}
	for _, filter := range qd.filters {
		if named, ok := filter.(paramObj); ok {
			branch.AddNode("filter " + named.paramObjName())
		} else {
			branch.AddNode(fmt.Sprintf("filter %T", filter))
		}
	}
	for _, qdc := range qd.classes {
		classBranch := branch.AddBranch("class " + netlink.HandleStr(qdc.classID))
		dumpQueueDisc(classBranch, qdc.qdisc)
	}
}

// ExportNetlinkQdiscs describes the tree on dev as the kernel qdiscs that would
// reproduce it on the link with the given index, root first
func (tcl *TrafficControlLayer) ExportNetlinkQdiscs(dev NetDevice, linkIndex int) ([]netlink.Qdisc, error) {
	root := tcl.GetRootQueueDiscOnDevice(dev)
	if root == nil {
		return nil, errors.Errorf("layer %s: device %s has no root queue disc", tcl.name, dev.Name())
	}
	qdiscs := make([]netlink.Qdisc, 0)
	return exportQueueDisc(qdiscs, root, linkIndex, netlink.HANDLE_ROOT), nil
}

// exportQueueDisc appends the netlink form of qd, attached at parent, and then of its children
func exportQueueDisc(qdiscs []netlink.Qdisc, qd *QueueDisc, linkIndex int, parent uint32) []netlink.Qdisc {
	attrs := netlink.QdiscAttrs{
		LinkIndex: linkIndex,
		Handle:    qd.handle,
		Parent:    parent,
	}

	switch ops := qd.ops.(type) {
	case *FqCoDelQueueDisc:
		ecn := uint32(0)
		if ops.useEcn {
			ecn = 1
		}
		// kernel times are in microseconds
		qdiscs = append(qdiscs, &netlink.FqCodel{
			QdiscAttrs: attrs,
			Target:     uint32(math.Round(ops.target * 1e6)),
			Limit:      qd.maxSize.Value,
			Interval:   uint32(math.Round(ops.interval * 1e6)),
			ECN:        ecn,
			Flows:      ops.flows,
			Quantum:    uint32(ops.quantum),
		})
	case *PrioQueueDisc:
		qdiscs = append(qdiscs, &netlink.Prio{
			QdiscAttrs:  attrs,
			Bands:       uint8(len(qd.classes)),
			PriorityMap: ops.prio2band,
		})
	case *PfifoFastQueueDisc:
		qdiscs = append(qdiscs, &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: "pfifo_fast"})
	case *RedQueueDisc:
		qdiscs = append(qdiscs, &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: "red"})
	case *CoDelQueueDisc:
		qdiscs = append(qdiscs, &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: "codel"})
	case *PieQueueDisc:
		qdiscs = append(qdiscs, &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: "pie"})
	default:
		qdiscs = append(qdiscs, &netlink.GenericQdisc{QdiscAttrs: attrs, QdiscType: qd.typeName})
	}

	// the flows of FQ-CoDel live inside the kernel qdisc
	if AsFqCoDelQueueDisc(qd) != nil {
		return qdiscs
	}
	for _, qdc := range qd.classes {
		qdiscs = exportQueueDisc(qdiscs, qdc.qdisc, linkIndex, qdc.classID)
	}
	return qdiscs
}
