package tcsim

// queue-disc.go holds the QueueDisc record shared by all queueing disciplines.
// A QueueDisc owns its internal queues, its classes (each wrapping one child
// QueueDisc) and its packet filters, keeps the aggregate counters, and drives
// transmission to the device in Run.   What is particular to a discipline (admission,
// selection of the next item, configuration checks) is reached through queueDiscOps

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"
)

// DefaultQuota is the number of packets a Run sends before yielding
const DefaultQuota int = 64

// drop reasons recorded by the base
const (
	InternalQueueDrop string = "Internal queue drop"
	UnclassifiedDrop  string = "Unclassified drop"
)

// queueDiscOps is the capability set each discipline implements
type queueDiscOps interface {
	// doEnqueue decides admission; a refusing discipline has already called DropBeforeEnqueue
	doEnqueue(item *QueueDiscItem) bool
	doDequeue() *QueueDiscItem
	doPeek() *QueueDiscItem
	checkConfig() error
	initializeParams()

	// setDiscParam assigns a discipline-specific attribute.  The bool is false if
	// the name is not one the discipline knows
	setDiscParam(param string, value valueStruct) (bool, error)

	// dispose releases timers and other resources when the disc is torn down
	dispose()
}

// WakeMode is the base type for the enumerated ways a device wake reaches a tree
type WakeMode int

const (
	WakeRoot WakeMode = iota
	WakeChild
)

// wakeModeFromStr returns the WakeMode corresponding to a string name for it
func wakeModeFromStr(mode string) (WakeMode, error) {
	switch mode {
	case "WAKE_ROOT", "root":
		return WakeRoot, nil
	case "WAKE_CHILD", "child":
		return WakeChild, nil
	}
	return WakeRoot, errors.Errorf("unknown wake mode %q", mode)
}

// wakeModeToStr returns a string corresponding to an input WakeMode
func wakeModeToStr(mode WakeMode) string {
	if mode == WakeChild {
		return "WAKE_CHILD"
	}
	return "WAKE_ROOT"
}

// QueueDiscStats is a snapshot of the counters of a queue disc
type QueueDiscStats struct {
	NTotalReceivedPackets int
	NTotalReceivedBytes   int
	NTotalEnqueuedPackets int
	NTotalEnqueuedBytes   int
	NTotalDequeuedPackets int
	NTotalDequeuedBytes   int
	NTotalRequeuedPackets int
	NTotalRequeuedBytes   int
	NTotalSentPackets     int
	NTotalSentBytes       int
	NTotalDroppedPackets  int
	NTotalDroppedBytes    int
	NTotalMarkedPackets   int
	NTotalMarkedBytes     int

	NTotalDroppedPacketsBeforeEnqueue int
	NTotalDroppedBytesBeforeEnqueue   int
	NTotalDroppedPacketsAfterDequeue  int
	NTotalDroppedBytesAfterDequeue    int

	// per-reason counts
	NDroppedPacketsBeforeEnqueue map[string]int
	NDroppedPacketsAfterDequeue  map[string]int
	NMarkedPackets               map[string]int
}

// createQueueDiscStats is a constructor
func createQueueDiscStats() QueueDiscStats {
	return QueueDiscStats{
		NDroppedPacketsBeforeEnqueue: make(map[string]int),
		NDroppedPacketsAfterDequeue:  make(map[string]int),
		NMarkedPackets:               make(map[string]int),
	}
}

// copyStats gives a snapshot whose maps are not shared with the live counters
func (st QueueDiscStats) copyStats() QueueDiscStats {
	cp := st
	cp.NDroppedPacketsBeforeEnqueue = make(map[string]int)
	cp.NDroppedPacketsAfterDequeue = make(map[string]int)
	cp.NMarkedPackets = make(map[string]int)
	for reason, n := range st.NDroppedPacketsBeforeEnqueue {
		cp.NDroppedPacketsBeforeEnqueue[reason] = n
	}
	for reason, n := range st.NDroppedPacketsAfterDequeue {
		cp.NDroppedPacketsAfterDequeue[reason] = n
	}
	for reason, n := range st.NMarkedPackets {
		cp.NMarkedPackets[reason] = n
	}
	return cp
}

// NDroppedPackets returns the number of packets dropped for the given reason, before or after dequeue
func (st QueueDiscStats) NDroppedPackets(reason string) int {
	return st.NDroppedPacketsBeforeEnqueue[reason] + st.NDroppedPacketsAfterDequeue[reason]
}

// String summarizes the counters on one line
func (st QueueDiscStats) String() string {
	return fmt.Sprintf("rx %d enq %d deq %d sent %d requeued %d drop %d (before enq %d, after deq %d) marked %d",
		st.NTotalReceivedPackets, st.NTotalEnqueuedPackets, st.NTotalDequeuedPackets, st.NTotalSentPackets,
		st.NTotalRequeuedPackets, st.NTotalDroppedPackets, st.NTotalDroppedPacketsBeforeEnqueue,
		st.NTotalDroppedPacketsAfterDequeue, st.NTotalMarkedPackets)
}

// ItemCallback observes an item passing a trace point
type ItemCallback func(item *QueueDiscItem)

// DropCallback observes a drop and its reason
type DropCallback func(item *QueueDiscItem, reason string)

// queueDiscTraces holds the subscribers of each trace point
type queueDiscTraces struct {
	enqueue           []ItemCallback
	dequeue           []ItemCallback
	requeue           []ItemCallback
	dropBeforeEnqueue []DropCallback
	dropAfterDequeue  []DropCallback
	mark              []DropCallback
}

// QueueDisc is the part shared by every queueing discipline
type QueueDisc struct {
	name     string
	number   int
	typeName string
	handle   uint32
	ops      queueDiscOps

	queues  []*DropTailQueue
	classes []*QueueDiscClass
	filters []PacketFilter

	maxSize  QueueSize
	quota    int
	wakeMode WakeMode

	nPackets int
	nBytes   int
	stats    QueueDiscStats

	requeued    *QueueDiscItem
	running     bool
	initialized bool
	disposed    bool

	// reports drops to the parent of a child disc
	parentDrop func(item *QueueDiscItem, reason string, afterDequeue bool)

	// device side, set on the root by the layer
	devQueue NetDeviceQueue
	send     func(item *QueueDiscItem)

	clock  SimClock
	log    klog.Logger
	traces queueDiscTraces
}

// createQueueDisc is the constructor used by every discipline for its shared record
func createQueueDisc(typeName string, ops queueDiscOps, maxSize QueueSize) *QueueDisc {
	qd := new(QueueDisc)
	qd.number = nxtId()
	qd.typeName = typeName
	qd.name = fmt.Sprintf("%s-%d", typeName, qd.number)
	qd.ops = ops
	qd.queues = make([]*DropTailQueue, 0)
	qd.classes = make([]*QueueDiscClass, 0)
	qd.filters = make([]PacketFilter, 0)
	qd.maxSize = maxSize
	qd.quota = DefaultQuota
	qd.wakeMode = WakeRoot
	qd.stats = createQueueDiscStats()
	qd.clock = defaultClock
	qd.log = klog.Background().WithName(typeName)
	return qd
}

// Name returns the unique name of the disc
func (qd *QueueDisc) Name() string {
	return qd.name
}

// ID returns the unique integer id of the disc
func (qd *QueueDisc) ID() int {
	return qd.number
}

// TypeName returns the registry name of the discipline
func (qd *QueueDisc) TypeName() string {
	return qd.typeName
}

// Handle returns the tc handle assigned to the disc when its tree was built
func (qd *QueueDisc) Handle() uint32 {
	return qd.handle
}

// SetHandle assigns the tc handle
func (qd *QueueDisc) SetHandle(handle uint32) {
	qd.handle = handle
}

// HandleString renders the handle in major:minor form
func (qd *QueueDisc) HandleString() string {
	return netlink.HandleStr(qd.handle)
}

// SetLogger replaces the logger of the disc and of its children
func (qd *QueueDisc) SetLogger(logger klog.Logger) {
	qd.log = logger.WithName(qd.typeName)
	for _, qdc := range qd.classes {
		qdc.qdisc.SetLogger(logger)
	}
}

// SetClock gives the disc, and its children, the simulation clock
func (qd *QueueDisc) SetClock(clock SimClock) {
	qd.clock = clock
	for _, qdc := range qd.classes {
		qdc.qdisc.SetClock(clock)
	}
}

// Clock returns the simulation clock in use
func (qd *QueueDisc) Clock() SimClock {
	return qd.clock
}

// SetAttribute sets one attribute by name, e.g. SetAttribute("MaxSize", "25p")
func (qd *QueueDisc) SetAttribute(param, value string) error {
	return qd.setParam(param, stringToValueStruct(value))
}

// SetAttributes sets a dictionary of attributes
func (qd *QueueDisc) SetAttributes(attrbs map[string]string) error {
	return setAttributes(qd, attrbs)
}

// setParam handles the attributes all discs share, and passes on the others
func (qd *QueueDisc) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "MaxSize":
		if !value.isSize {
			return errors.Errorf("MaxSize of %s needs a queue size such as 25p, got %q", qd.name, value.stringValue)
		}
		qd.maxSize = value.sizeValue
		return nil
	case "Quota":
		if value.intValue < 1 {
			return errors.Errorf("Quota of %s must be positive", qd.name)
		}
		qd.quota = value.intValue
		return nil
	case "WakeMode":
		mode, err := wakeModeFromStr(value.stringValue)
		if err != nil {
			return err
		}
		qd.wakeMode = mode
		return nil
	}
	known, err := qd.ops.setDiscParam(paramType, value)
	if err != nil {
		return errors.Wrapf(err, "%s", qd.name)
	}
	if !known {
		return unknownParam(qd, paramType)
	}
	return nil
}

// paramObjName helps QueueDisc satisfy paramObj interface
func (qd *QueueDisc) paramObjName() string {
	return qd.name
}

// MaxSize returns the configured limit
func (qd *QueueDisc) MaxSize() QueueSize {
	return qd.maxSize
}

// SetMaxSize changes the configured limit
func (qd *QueueDisc) SetMaxSize(maxSize QueueSize) {
	qd.maxSize = maxSize
}

// CurrentSize gives the occupancy of the disc in the unit of its limit
func (qd *QueueDisc) CurrentSize() QueueSize {
	if qd.maxSize.Unit == Bytes {
		return QueueSize{Unit: Bytes, Value: uint32(qd.nBytes)}
	}
	return QueueSize{Unit: Packets, Value: uint32(qd.nPackets)}
}

// Quota returns the number of packets a Run sends at most
func (qd *QueueDisc) Quota() int {
	return qd.quota
}

// SetQuota bounds the number of packets a Run sends
func (qd *QueueDisc) SetQuota(quota int) {
	if quota < 1 {
		quota = 1
	}
	qd.quota = quota
}

// WakeMode returns the wake mode of the disc
func (qd *QueueDisc) WakeMode() WakeMode {
	return qd.wakeMode
}

// NPackets returns the number of packets stored in the disc, its queues and its subtree
func (qd *QueueDisc) NPackets() int {
	return qd.nPackets
}

// NBytes returns the number of bytes stored in the disc, its queues and its subtree
func (qd *QueueDisc) NBytes() int {
	return qd.nBytes
}

// Stats returns a snapshot of the counters
func (qd *QueueDisc) Stats() QueueDiscStats {
	return qd.stats.copyStats()
}

// AddInternalQueue appends a FIFO to the disc.  Structure is fixed once the disc is initialized
func (qd *QueueDisc) AddInternalQueue(queue *DropTailQueue) error {
	if qd.initialized {
		return errors.Errorf("%s: internal queues cannot be added after initialization", qd.name)
	}
	qd.queues = append(qd.queues, queue)
	return nil
}

// InternalQueue returns the idx-th internal queue
func (qd *QueueDisc) InternalQueue(idx int) *DropTailQueue {
	return qd.queues[idx]
}

// NInternalQueues returns the number of internal queues
func (qd *QueueDisc) NInternalQueues() int {
	return len(qd.queues)
}

// AddPacketFilter appends a filter, consulted in order by Classify
func (qd *QueueDisc) AddPacketFilter(filter PacketFilter) error {
	if qd.initialized {
		return errors.Errorf("%s: packet filters cannot be added after initialization", qd.name)
	}
	qd.filters = append(qd.filters, filter)
	return nil
}

// PacketFilter returns the idx-th filter
func (qd *QueueDisc) PacketFilter(idx int) PacketFilter {
	return qd.filters[idx]
}

// NPacketFilters returns the number of filters
func (qd *QueueDisc) NPacketFilters() int {
	return len(qd.filters)
}

// AddQueueDiscClass appends a class.  The class's child reports its drops to this disc
func (qd *QueueDisc) AddQueueDiscClass(qdc *QueueDiscClass) error {
	if qd.initialized && !qd.dynamicClasses() {
		return errors.Errorf("%s: classes cannot be added after initialization", qd.name)
	}
	if qdc.qdisc == nil {
		return errors.Errorf("%s: class has no queue disc", qd.name)
	}
	qdc.index = len(qd.classes)
	qdc.qdisc.SetParentDropCallback(qd.childDropped)
	qdc.qdisc.SetClock(qd.clock)
	qd.classes = append(qd.classes, qdc)
	return nil
}

// dynamicClasses is true for disciplines that create their classes while traffic flows
func (qd *QueueDisc) dynamicClasses() bool {
	_, isFq := qd.ops.(*FqCoDelQueueDisc)
	return isFq
}

// QueueDiscClass returns the idx-th class
func (qd *QueueDisc) QueueDiscClass(idx int) *QueueDiscClass {
	return qd.classes[idx]
}

// NQueueDiscClasses returns the number of classes
func (qd *QueueDisc) NQueueDiscClasses() int {
	return len(qd.classes)
}

// SetParentDropCallback registers the function through which a child disc
// tells its parent about the items it drops
func (qd *QueueDisc) SetParentDropCallback(cb func(item *QueueDiscItem, reason string, afterDequeue bool)) {
	qd.parentDrop = cb
}

// childDropped accounts a drop made by a child disc as a drop of this disc
func (qd *QueueDisc) childDropped(item *QueueDiscItem, reason string, afterDequeue bool) {
	if afterDequeue {
		qd.DropAfterDequeue(item, reason)
	} else {
		qd.DropBeforeEnqueue(item, reason)
	}
}

// SetNetDeviceQueue gives the root disc the device queue whose state gates Run
func (qd *QueueDisc) SetNetDeviceQueue(devQueue NetDeviceQueue) {
	qd.devQueue = devQueue
}

// SetSendCallback gives the root disc the function that hands items to the device
func (qd *QueueDisc) SetSendCallback(send func(item *QueueDiscItem)) {
	qd.send = send
}

// TraceEnqueue subscribes cb to items accepted by the disc
func (qd *QueueDisc) TraceEnqueue(cb ItemCallback) {
	qd.traces.enqueue = append(qd.traces.enqueue, cb)
}

// TraceDequeue subscribes cb to items leaving the disc
func (qd *QueueDisc) TraceDequeue(cb ItemCallback) {
	qd.traces.dequeue = append(qd.traces.dequeue, cb)
}

// TraceRequeue subscribes cb to items put back because the device stopped
func (qd *QueueDisc) TraceRequeue(cb ItemCallback) {
	qd.traces.requeue = append(qd.traces.requeue, cb)
}

// TraceDropBeforeEnqueue subscribes cb to items refused admission
func (qd *QueueDisc) TraceDropBeforeEnqueue(cb DropCallback) {
	qd.traces.dropBeforeEnqueue = append(qd.traces.dropBeforeEnqueue, cb)
}

// TraceDropAfterDequeue subscribes cb to stored items that were dropped
func (qd *QueueDisc) TraceDropAfterDequeue(cb DropCallback) {
	qd.traces.dropAfterDequeue = append(qd.traces.dropAfterDequeue, cb)
}

// TraceMark subscribes cb to items marked CE instead of being dropped
func (qd *QueueDisc) TraceMark(cb DropCallback) {
	qd.traces.mark = append(qd.traces.mark, cb)
}

// Initialize checks the configuration, sets the derived parameters and initializes
// the children.  A bad configuration aborts the run
func (qd *QueueDisc) Initialize() {
	if qd.initialized {
		return
	}
	if err := qd.CheckConfig(); err != nil {
		panic(err)
	}
	qd.ops.initializeParams()
	qd.initialized = true
	qd.log.V(2).Info("Initialized", "qdisc", qd.name, "handle", qd.HandleString(), "maxSize", qd.maxSize.String())

	for _, qdc := range qd.classes {
		qdc.qdisc.Initialize()
	}
}

// CheckConfig validates the structure of the disc without aborting
func (qd *QueueDisc) CheckConfig() error {
	if qd.wakeMode != WakeRoot {
		return errors.Errorf("%s: wake mode %s is not supported", qd.name, wakeModeToStr(qd.wakeMode))
	}
	if err := qd.ops.checkConfig(); err != nil {
		return errors.Wrapf(err, "queue disc %s", qd.name)
	}
	return nil
}

// Initialized reports whether Initialize has completed
func (qd *QueueDisc) Initialized() bool {
	return qd.initialized
}

// Dispose tears down the disc and its subtree
func (qd *QueueDisc) Dispose() {
	if qd.disposed {
		return
	}
	qd.disposed = true
	qd.ops.dispose()
	for _, qdc := range qd.classes {
		qdc.qdisc.Dispose()
	}
	qd.send = nil
	qd.devQueue = nil
}

// Enqueue offers an item to the disc.  The return tells whether it was admitted
func (qd *QueueDisc) Enqueue(item *QueueDiscItem) bool {
	qd.stats.NTotalReceivedPackets += 1
	qd.stats.NTotalReceivedBytes += item.Size()
	item.TimeStamp = qd.clock.Now()

	retval := qd.ops.doEnqueue(item)
	if !retval {
		return false
	}

	qd.nPackets += 1
	qd.nBytes += item.Size()
	qd.stats.NTotalEnqueuedPackets += 1
	qd.stats.NTotalEnqueuedBytes += item.Size()
	qd.log.V(5).Info("Enqueued", "qdisc", qd.name, "uid", item.Packet.UID, "packets", qd.nPackets)

	for _, cb := range qd.traces.enqueue {
		cb(item)
	}
	return true
}

// Dequeue removes the next item chosen by the discipline, or returns nil if nothing is stored
func (qd *QueueDisc) Dequeue() *QueueDiscItem {
	var item *QueueDiscItem

	// an item put back earlier goes first
	if qd.requeued != nil {
		item = qd.requeued
		qd.requeued = nil
	} else {
		item = qd.ops.doDequeue()
	}
	if item == nil {
		return nil
	}

	qd.nPackets -= 1
	qd.nBytes -= item.Size()
	qd.stats.NTotalDequeuedPackets += 1
	qd.stats.NTotalDequeuedBytes += item.Size()

	for _, cb := range qd.traces.dequeue {
		cb(item)
	}
	return item
}

// Peek returns the item Dequeue would return, without removing it
func (qd *QueueDisc) Peek() *QueueDiscItem {
	if qd.requeued != nil {
		return qd.requeued
	}
	return qd.ops.doPeek()
}

// peekByDequeue is the peek of disciplines whose selection has side effects:
// the selected item is taken out and held, still counted, until the next Dequeue
func (qd *QueueDisc) peekByDequeue() *QueueDiscItem {
	if qd.requeued == nil {
		qd.requeued = qd.ops.doDequeue()
	}
	return qd.requeued
}

// Classify runs the filters in order.  The first result other than PfNoMatch wins
func (qd *QueueDisc) Classify(item *QueueDiscItem) int {
	for _, filter := range qd.filters {
		ret := classifyItem(filter, item)
		if ret != PfNoMatch {
			return ret
		}
	}
	return PfNoMatch
}

// Requeue puts back an item that the device could not take
func (qd *QueueDisc) Requeue(item *QueueDiscItem) {
	qd.requeued = item
	qd.nPackets += 1
	qd.nBytes += item.Size()
	qd.stats.NTotalRequeuedPackets += 1
	qd.stats.NTotalRequeuedBytes += item.Size()
	qd.stats.NTotalDequeuedPackets -= 1
	qd.stats.NTotalDequeuedBytes -= item.Size()

	for _, cb := range qd.traces.requeue {
		cb(item)
	}
}

// DropBeforeEnqueue records that item was refused admission, for the given reason
func (qd *QueueDisc) DropBeforeEnqueue(item *QueueDiscItem, reason string) {
	qd.stats.NTotalDroppedPackets += 1
	qd.stats.NTotalDroppedBytes += item.Size()
	qd.stats.NTotalDroppedPacketsBeforeEnqueue += 1
	qd.stats.NTotalDroppedBytesBeforeEnqueue += item.Size()
	qd.stats.NDroppedPacketsBeforeEnqueue[reason] += 1
	qd.log.V(4).Info("Drop before enqueue", "qdisc", qd.name, "uid", item.Packet.UID, "reason", reason)

	for _, cb := range qd.traces.dropBeforeEnqueue {
		cb(item, reason)
	}
	if qd.parentDrop != nil {
		qd.parentDrop(item, reason, false)
	}
}

// DropAfterDequeue records that a stored item, already taken out of its queue, was dropped
func (qd *QueueDisc) DropAfterDequeue(item *QueueDiscItem, reason string) {
	qd.nPackets -= 1
	qd.nBytes -= item.Size()
	qd.stats.NTotalDroppedPackets += 1
	qd.stats.NTotalDroppedBytes += item.Size()
	qd.stats.NTotalDroppedPacketsAfterDequeue += 1
	qd.stats.NTotalDroppedBytesAfterDequeue += item.Size()
	qd.stats.NDroppedPacketsAfterDequeue[reason] += 1
	qd.log.V(4).Info("Drop after dequeue", "qdisc", qd.name, "uid", item.Packet.UID, "reason", reason)

	for _, cb := range qd.traces.dropAfterDequeue {
		cb(item, reason)
	}
	if qd.parentDrop != nil {
		qd.parentDrop(item, reason, true)
	}
}

// Mark sets CE on item and records the marking.  It returns false, and records
// nothing, if the packet is not ECN capable
func (qd *QueueDisc) Mark(item *QueueDiscItem, reason string) bool {
	if !item.Mark() {
		return false
	}
	qd.stats.NTotalMarkedPackets += 1
	qd.stats.NTotalMarkedBytes += item.Size()
	qd.stats.NMarkedPackets[reason] += 1

	for _, cb := range qd.traces.mark {
		cb(item, reason)
	}
	return true
}

// enqueueInternal puts item on the idx-th internal queue, recording a drop with the given
// reason if the queue refuses it
func (qd *QueueDisc) enqueueInternal(idx int, item *QueueDiscItem, reason string) bool {
	if !qd.queues[idx].Enqueue(item) {
		qd.DropBeforeEnqueue(item, reason)
		return false
	}
	return true
}

// Run sends items to the device until quota packets went out, the disc is empty,
// or the device stopped.  It resumes on the next Enqueue or device wake
func (qd *QueueDisc) Run() {
	if qd.running || qd.disposed {
		return
	}
	qd.running = true
	quota := qd.quota
	for quota > 0 && qd.restart() {
		quota -= 1
	}
	qd.running = false
}

// restart moves one item to the device.  The return is false if nothing more should be tried now
func (qd *QueueDisc) restart() bool {
	item := qd.dequeuePacket()
	if item == nil {
		return false
	}
	return qd.transmit(item)
}

// dequeuePacket takes the next item unless the device cannot accept it
func (qd *QueueDisc) dequeuePacket() *QueueDiscItem {
	if qd.devQueue != nil && qd.devQueue.IsStopped() {
		return nil
	}
	return qd.Dequeue()
}

// transmit hands item to the device, or puts it back if the device stopped meanwhile
func (qd *QueueDisc) transmit(item *QueueDiscItem) bool {
	if qd.send == nil || (qd.devQueue != nil && qd.devQueue.IsStopped()) {
		qd.Requeue(item)
		return false
	}
	qd.send(item)
	qd.stats.NTotalSentPackets += 1
	qd.stats.NTotalSentBytes += item.Size()

	if qd.devQueue != nil && qd.devQueue.IsStopped() {
		return false
	}
	return true
}

// QueueDiscClass is a labeled child of a classful disc.  It exclusively owns the child
type QueueDiscClass struct {
	qdisc   *QueueDisc
	classID uint32
	index   int // position in the parent's class list, lookup only
}

// CreateQueueDiscClass is a constructor
func CreateQueueDiscClass(child *QueueDisc) *QueueDiscClass {
	qdc := new(QueueDiscClass)
	qdc.qdisc = child
	return qdc
}

// QueueDisc returns the child disc
func (qdc *QueueDiscClass) QueueDisc() *QueueDisc {
	return qdc.qdisc
}

// SetQueueDisc replaces the child disc
func (qdc *QueueDiscClass) SetQueueDisc(child *QueueDisc) {
	qdc.qdisc = child
}

// ClassID returns the tc class id
func (qdc *QueueDiscClass) ClassID() uint32 {
	return qdc.classID
}

// SetClassID assigns the tc class id
func (qdc *QueueDiscClass) SetClassID(classID uint32) {
	qdc.classID = classID
}

// Index returns the position of the class in its parent
func (qdc *QueueDiscClass) Index() int {
	return qdc.index
}
