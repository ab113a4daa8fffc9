package tcsim

// fq-codel.go implements FQ-CoDel.  Arrivals are hashed to one of a fixed number
// of flow buckets, each bucket gets a CoDel child created on its first packet, and
// the active flows are served by deficit round robin, new flows ahead of old ones.
// When the disc is over its limit the flow with the largest backlog loses packets
// from its head

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// FqCoDelOverlimitDrop is recorded for the packets taken from the fattest flow when the disc is full
const FqCoDelOverlimitDrop string = "Overlimit drop"

// FlowStatus is the base type for the enumerated scheduling states of a flow
type FlowStatus int

const (
	FlowInactive FlowStatus = iota
	FlowNew
	FlowOld
)

// flowStatusToStr returns a string corresponding to an input FlowStatus
func flowStatusToStr(status FlowStatus) string {
	switch status {
	case FlowInactive:
		return "INACTIVE"
	case FlowNew:
		return "NEW_FLOW"
	case FlowOld:
		return "OLD_FLOW"
	}
	return "UNKNOWN"
}

func (status FlowStatus) String() string {
	return flowStatusToStr(status)
}

// FqCoDelFlow is a class of FQ-CoDel: one flow bucket with its CoDel child,
// its scheduling status and its deficit.  The deficit means nothing while inactive
type FqCoDelFlow struct {
	*QueueDiscClass
	deficit int
	status  FlowStatus
	bucket  uint32
}

// CreateFqCoDelFlow is a constructor
func CreateFqCoDelFlow(child *QueueDisc, bucket uint32) *FqCoDelFlow {
	flow := new(FqCoDelFlow)
	flow.QueueDiscClass = CreateQueueDiscClass(child)
	flow.bucket = bucket
	flow.status = FlowInactive
	return flow
}

// Deficit returns the bytes the flow may still send in this round
func (flow *FqCoDelFlow) Deficit() int {
	return flow.deficit
}

// SetDeficit sets the deficit
func (flow *FqCoDelFlow) SetDeficit(deficit int) {
	flow.deficit = deficit
}

// IncreaseDeficit adds to (or, negative, takes from) the deficit
func (flow *FqCoDelFlow) IncreaseDeficit(deficit int) {
	flow.deficit += deficit
}

// Status returns the scheduling status
func (flow *FqCoDelFlow) Status() FlowStatus {
	return flow.status
}

// SetStatus changes the scheduling status.  An inactive flow has no deficit
func (flow *FqCoDelFlow) SetStatus(status FlowStatus) {
	flow.status = status
	if status == FlowInactive {
		flow.deficit = 0
	}
}

// Bucket returns the flow bucket the class serves
func (flow *FqCoDelFlow) Bucket() uint32 {
	return flow.bucket
}

// FqCoDelQueueDisc is the FQ-CoDel discipline
type FqCoDelQueueDisc struct {
	*QueueDisc

	// parameters
	useEcn                   bool
	interval                 float64
	target                   float64
	flows                    uint32 // number of flow buckets
	dropBatchSize            int
	perturbation             uint32
	quantum                  int
	quantumSet               bool
	ceThreshold              float64
	enableSetAssociativeHash bool
	setWays                  uint32

	// state
	flowList     []*FqCoDelFlow    // indexed as the classes are
	flowsIndices map[uint32]int    // bucket -> class index
	tags         map[uint32]uint32 // bucket -> hash of the flow that owns it, set-associative mode
	newFlows     []*FqCoDelFlow
	oldFlows     []*FqCoDelFlow

	overlimitDrops int
}

// CreateFqCoDelQueueDisc is a constructor, filling in the default parameters
func CreateFqCoDelQueueDisc() *FqCoDelQueueDisc {
	fq := new(FqCoDelQueueDisc)
	fq.QueueDisc = createQueueDisc("FqCoDelQueueDisc", fq, QueueSize{Unit: Packets, Value: 10240})
	fq.useEcn = true
	fq.interval = 0.1
	fq.target = 0.005
	fq.flows = 1024
	fq.dropBatchSize = 64
	fq.quantum = 1514
	fq.setWays = 8
	fq.flowList = make([]*FqCoDelFlow, 0)
	fq.flowsIndices = make(map[uint32]int)
	fq.tags = make(map[uint32]uint32)
	fq.newFlows = make([]*FqCoDelFlow, 0)
	fq.oldFlows = make([]*FqCoDelFlow, 0)
	return fq
}

// AsFqCoDelQueueDisc returns the FQ-CoDel view of qd, or nil if qd is another discipline
func AsFqCoDelQueueDisc(qd *QueueDisc) *FqCoDelQueueDisc {
	fq, _ := qd.ops.(*FqCoDelQueueDisc)
	return fq
}

// Quantum returns the bytes a flow is credited per round
func (fq *FqCoDelQueueDisc) Quantum() int {
	return fq.quantum
}

// SetQuantum sets the bytes a flow is credited per round
func (fq *FqCoDelQueueDisc) SetQuantum(quantum int) {
	fq.quantum = quantum
	fq.quantumSet = true
}

// NFlows returns the number of flow classes created so far
func (fq *FqCoDelQueueDisc) NFlows() int {
	return len(fq.flowList)
}

// Flow returns the idx-th flow class
func (fq *FqCoDelQueueDisc) Flow(idx int) *FqCoDelFlow {
	return fq.flowList[idx]
}

// NNewFlows returns the length of the new-flow list
func (fq *FqCoDelQueueDisc) NNewFlows() int {
	return len(fq.newFlows)
}

// NOldFlows returns the length of the old-flow list
func (fq *FqCoDelQueueDisc) NOldFlows() int {
	return len(fq.oldFlows)
}

// OverlimitDrops returns the number of packets dropped because the disc was full
func (fq *FqCoDelQueueDisc) OverlimitDrops() int {
	return fq.overlimitDrops
}

// setDiscParam assigns the FQ-CoDel parameter named by param
func (fq *FqCoDelQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	switch param {
	case "UseEcn":
		fq.useEcn = boolParam(value)
	case "Interval":
		if value.floatValue <= 0.0 {
			return true, errors.New("Interval must be positive")
		}
		fq.interval = value.floatValue
	case "Target":
		if value.floatValue <= 0.0 {
			return true, errors.New("Target must be positive")
		}
		fq.target = value.floatValue
	case "Flows":
		if value.intValue < 1 {
			return true, errors.New("Flows must be positive")
		}
		fq.flows = uint32(value.intValue)
	case "DropBatchSize":
		if value.intValue < 1 {
			return true, errors.New("DropBatchSize must be positive")
		}
		fq.dropBatchSize = value.intValue
	case "Perturbation":
		fq.perturbation = uint32(value.intValue)
	case "Quantum":
		if value.intValue < 1 {
			return true, errors.New("Quantum must be positive")
		}
		fq.SetQuantum(value.intValue)
	case "CeThreshold":
		fq.ceThreshold = value.floatValue
	case "EnableSetAssociativeHash":
		fq.enableSetAssociativeHash = boolParam(value)
	case "SetWays":
		if value.intValue < 1 {
			return true, errors.New("SetWays must be positive")
		}
		fq.setWays = uint32(value.intValue)
	default:
		return false, nil
	}
	return true, nil
}

// setAssociativeHash picks a bucket within the set of setWays buckets the hash falls in,
// preferring one already owned by this flow, unused, or inactive
func (fq *FqCoDelQueueDisc) setAssociativeHash(flowHash uint32) uint32 {
	h := flowHash % fq.flows
	innerHash := h % fq.setWays
	outerHash := h - innerHash

	for bucket := outerHash; bucket < outerHash+fq.setWays; bucket++ {
		idx, present := fq.flowsIndices[bucket]
		tag, tagged := fq.tags[bucket]
		if !present || (tagged && tag == flowHash) || fq.flowList[idx].status == FlowInactive {
			fq.tags[bucket] = flowHash
			return bucket
		}
	}

	// every bucket of the set is busy, share the first
	fq.tags[outerHash] = flowHash
	return outerHash
}

// flowBucket maps an item to its bucket, returning false for an item the filters cannot classify
func (fq *FqCoDelQueueDisc) flowBucket(item *QueueDiscItem) (uint32, bool) {
	var flowHash uint32
	if len(fq.filters) == 0 {
		flowHash = item.Hash(fq.perturbation)
	} else {
		ret := fq.Classify(item)
		if ret == PfNoMatch {
			return 0, false
		}
		flowHash = uint32(ret)
	}

	if fq.enableSetAssociativeHash {
		return fq.setAssociativeHash(flowHash), true
	}
	return flowHash % fq.flows, true
}

// newFlow creates the CoDel child serving bucket
func (fq *FqCoDelQueueDisc) newFlow(bucket uint32) *FqCoDelFlow {
	cd := CreateCoDelQueueDisc()
	cd.maxSize = fq.maxSize
	cd.interval = fq.interval
	cd.target = fq.target
	cd.useEcn = fq.useEcn
	cd.ceThreshold = fq.ceThreshold
	cd.SetLogger(fq.log)

	flow := CreateFqCoDelFlow(cd.QueueDisc, bucket)
	if err := fq.AddQueueDiscClass(flow.QueueDiscClass); err != nil {
		panic(err)
	}
	cd.Initialize()

	fq.flowsIndices[bucket] = flow.index
	fq.flowList = append(fq.flowList, flow)
	fq.log.V(4).Info("Created flow", "qdisc", fq.name, "bucket", bucket, "class", flow.index)
	return flow
}

// doEnqueue puts the item in its flow, and evicts from the fattest flow when over the limit
func (fq *FqCoDelQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	bucket, ok := fq.flowBucket(item)
	if !ok {
		fq.DropBeforeEnqueue(item, UnclassifiedDrop)
		return false
	}

	var flow *FqCoDelFlow
	idx, present := fq.flowsIndices[bucket]
	if present {
		flow = fq.flowList[idx]
	} else {
		flow = fq.newFlow(bucket)
	}

	if flow.status == FlowInactive {
		flow.SetStatus(FlowNew)
		flow.deficit = fq.quantum
		fq.newFlows = append(fq.newFlows, flow)
	}

	// a refusal by the child has been accounted through the drop callback
	if !flow.qdisc.Enqueue(item) {
		return false
	}

	if fq.CurrentSize().Value+fq.maxSize.itemValue(item) > fq.maxSize.Value {
		fq.fqCoDelDrop()
	}
	return true
}

// fqCoDelDrop takes packets from the head of the flow with the largest backlog, until
// dropBatchSize are gone or half its backlog is.  It returns the class index of that flow
func (fq *FqCoDelQueueDisc) fqCoDelDrop() int {
	maxBacklog := 0
	index := 0
	for idx, flow := range fq.flowList {
		bytes := flow.qdisc.NBytes()
		if bytes > maxBacklog {
			maxBacklog = bytes
			index = idx
		}
	}

	threshold := maxBacklog >> 1
	child := fq.flowList[index].qdisc
	dropped := 0
	count := 0
	for {
		item := child.queues[0].Dequeue()
		if item == nil {
			break
		}
		child.DropAfterDequeue(item, FqCoDelOverlimitDrop)
		fq.overlimitDrops += 1
		dropped += item.Size()
		count += 1
		if count >= fq.dropBatchSize || dropped >= threshold {
			break
		}
	}
	fq.log.V(4).Info("Overlimit", "qdisc", fq.name, "class", index, "dropped", count)
	return index
}

// doDequeue runs deficit round robin, new flows first
func (fq *FqCoDelQueueDisc) doDequeue() *QueueDiscItem {
	var flow *FqCoDelFlow
	var item *QueueDiscItem

	for item == nil {
		found := false
		fromNew := false

		for !found && len(fq.newFlows) > 0 {
			flow = fq.newFlows[0]
			if flow.deficit <= 0 {
				// out of credit, to the back of the old flows with a fresh quantum
				flow.IncreaseDeficit(fq.quantum)
				flow.SetStatus(FlowOld)
				fq.newFlows = slices.Delete(fq.newFlows, 0, 1)
				fq.oldFlows = append(fq.oldFlows, flow)
			} else {
				found = true
				fromNew = true
			}
		}

		for !found && len(fq.oldFlows) > 0 {
			flow = fq.oldFlows[0]
			if flow.deficit <= 0 {
				flow.IncreaseDeficit(fq.quantum)
				fq.oldFlows = slices.Delete(fq.oldFlows, 0, 1)
				fq.oldFlows = append(fq.oldFlows, flow)
			} else {
				found = true
			}
		}

		if !found {
			return nil
		}

		item = flow.qdisc.Dequeue()
		if item != nil {
			break
		}

		// the flow is empty
		if fromNew {
			fq.newFlows = slices.Delete(fq.newFlows, 0, 1)
			if len(fq.oldFlows) > 0 {
				// an empty new flow goes to the old list, so it cannot cut ahead again right away
				flow.SetStatus(FlowOld)
				fq.oldFlows = append(fq.oldFlows, flow)
			} else {
				flow.SetStatus(FlowInactive)
			}
		} else {
			fq.oldFlows = slices.Delete(fq.oldFlows, 0, 1)
			flow.SetStatus(FlowInactive)
		}
	}

	flow.IncreaseDeficit(-item.Size())
	return item
}

// doPeek holds the item chosen by the round robin until the next Dequeue
func (fq *FqCoDelQueueDisc) doPeek() *QueueDiscItem {
	return fq.peekByDequeue()
}

// checkConfig makes sure the disc starts with no classes or queues, and a usable hash layout
func (fq *FqCoDelQueueDisc) checkConfig() error {
	if len(fq.classes) > 0 {
		return errors.New("FqCoDelQueueDisc cannot have classes")
	}
	if len(fq.queues) > 0 {
		return errors.New("FqCoDelQueueDisc cannot have internal queues")
	}
	if fq.maxSize.Unit != Packets {
		return errors.Errorf("FqCoDelQueueDisc limit must be in packets, got %s", fq.maxSize.String())
	}
	if fq.enableSetAssociativeHash && fq.flows%fq.setWays != 0 {
		return errors.Errorf("FqCoDelQueueDisc needs Flows (%d) to be a multiple of SetWays (%d)", fq.flows, fq.setWays)
	}
	return nil
}

// initializeParams empties the flow tables
func (fq *FqCoDelQueueDisc) initializeParams() {
	fq.flowList = fq.flowList[:0]
	fq.flowsIndices = make(map[uint32]int)
	fq.tags = make(map[uint32]uint32)
	fq.newFlows = fq.newFlows[:0]
	fq.oldFlows = fq.oldFlows[:0]
}

func (fq *FqCoDelQueueDisc) dispose() {
	fq.newFlows = nil
	fq.oldFlows = nil
}
