package tcsim

// pie.go implements PIE (proportional integral controller enhanced).  Every
// tUpdate seconds a timer recomputes the drop probability from the queueing
// delay: the error from the reference delay and the change since the last
// update, each weighted.  The delay is estimated from the measured departure
// rate (or, if configured, from item timestamps).  Arrivals are dropped at random
// with the current probability, except during the burst allowance that follows a
// quiet period, and except when the queue is nearly empty

import (
	"github.com/iti/rngstream"
	"github.com/pkg/errors"
)

// PieBurstState is the base type of the burst-allowance state machine
type PieBurstState int

const (
	NoBurst PieBurstState = iota
	InBurst
	InBurstProtecting
)

// pieBurstStateToStr returns a string corresponding to an input PieBurstState
func pieBurstStateToStr(bs PieBurstState) string {
	switch bs {
	case NoBurst:
		return "NO_BURST"
	case InBurst:
		return "IN_BURST"
	case InBurstProtecting:
		return "IN_BURST_PROTECTING"
	}
	return "UNKNOWN"
}

func (bs PieBurstState) String() string {
	return pieBurstStateToStr(bs)
}

// drop and mark reasons of PIE
const (
	PieForcedDrop   string = "Forced drop"
	PieUnforcedDrop string = "Unforced drop"
	PieUnforcedMark string = "Unforced mark"
)

// dqCount value meaning no departure-rate measurement is under way
const dqCountInvalid int = -1

// PieStats is a snapshot of the PIE drop counters
type PieStats struct {
	ForcedDrop   int // drops because the queue was full
	UnforcedDrop int // random early drops
	UnforcedMark int
}

// PieQueueDisc is the PIE discipline
type PieQueueDisc struct {
	*QueueDisc

	// parameters
	meanPktSize          int     // bytes
	a                    float64 // weight of the delay error
	b                    float64 // weight of the delay change
	tUpdate              float64 // seconds between probability updates
	sUpdate              float64 // time of the first update
	dqThreshold          int     // bytes that must be queued to measure the departure rate
	qDelayRef            float64 // reference (target) delay, seconds
	maxBurst             float64 // burst allowance granted after a quiet period, seconds
	useDqRateEstimator   bool
	useCapDropAdjustment bool
	useDerandomization   bool
	useEcn               bool
	markEcnTh            float64 // ECT packets are marked rather than dropped while dropProb is at most this
	activeThreshold      float64 // delay that activates the disc, 0 when always active

	// state
	burstAllowance float64
	burstState     PieBurstState
	dropProb       float64
	accuProb       float64
	qDelay         float64
	qDelayOld      float64
	avgDqRate      float64 // bytes per second
	dqStart        float64
	dqCount        int
	inMeasurement  bool
	active         bool
	timerGen       int
	pieStats       PieStats

	rng *rngstream.RngStream
}

// CreatePieQueueDisc is a constructor, filling in the default parameters
func CreatePieQueueDisc() *PieQueueDisc {
	pie := new(PieQueueDisc)
	pie.QueueDisc = createQueueDisc("PieQueueDisc", pie, QueueSize{Unit: Packets, Value: 25})
	pie.meanPktSize = 1000
	pie.a = 0.125
	pie.b = 1.25
	pie.tUpdate = 0.015
	pie.sUpdate = 0.0
	pie.dqThreshold = 16384
	pie.qDelayRef = 0.015
	pie.maxBurst = 0.15
	pie.useDqRateEstimator = true
	pie.useCapDropAdjustment = true
	pie.markEcnTh = 0.1
	return pie
}

// AsPieQueueDisc returns the PIE view of qd, or nil if qd is another discipline
func AsPieQueueDisc(qd *QueueDisc) *PieQueueDisc {
	pie, _ := qd.ops.(*PieQueueDisc)
	return pie
}

// AssignStream gives the disc its own named random stream
func (pie *PieQueueDisc) AssignStream(name string) {
	pie.rng = rngstream.New(name)
}

// PieStats returns a snapshot of the PIE counters
func (pie *PieQueueDisc) PieStats() PieStats {
	return pie.pieStats
}

// DropProb returns the current drop probability
func (pie *PieQueueDisc) DropProb() float64 {
	return pie.dropProb
}

// QueueDelay returns the current queueing delay estimate, seconds
func (pie *PieQueueDisc) QueueDelay() float64 {
	if pie.useDqRateEstimator {
		if pie.avgDqRate > 0 {
			return float64(pie.queues[0].NBytes()) / pie.avgDqRate
		}
		return 0.0
	}
	return pie.qDelay
}

// AvgDqRate returns the measured departure rate, bytes per second
func (pie *PieQueueDisc) AvgDqRate() float64 {
	return pie.avgDqRate
}

// BurstState returns the state of the burst-allowance machine
func (pie *PieQueueDisc) BurstState() PieBurstState {
	return pie.burstState
}

// BurstAllowance returns the burst allowance left, seconds
func (pie *PieQueueDisc) BurstAllowance() float64 {
	return pie.burstAllowance
}

// setDiscParam assigns the PIE parameter named by param
func (pie *PieQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	switch param {
	case "MeanPktSize":
		if value.intValue <= 0 {
			return true, errors.New("MeanPktSize must be positive")
		}
		pie.meanPktSize = value.intValue
	case "A":
		pie.a = value.floatValue
	case "B":
		pie.b = value.floatValue
	case "Tupdate":
		if value.floatValue <= 0.0 {
			return true, errors.New("Tupdate must be positive")
		}
		pie.tUpdate = value.floatValue
	case "Supdate":
		pie.sUpdate = value.floatValue
	case "DequeueThreshold":
		pie.dqThreshold = value.intValue
	case "QueueDelayReference":
		pie.qDelayRef = value.floatValue
	case "MaxBurstAllowance":
		pie.maxBurst = value.floatValue
	case "UseDequeueRateEstimator":
		pie.useDqRateEstimator = boolParam(value)
	case "UseCapDropAdjustment":
		pie.useCapDropAdjustment = boolParam(value)
	case "UseDerandomization":
		pie.useDerandomization = boolParam(value)
	case "UseEcn":
		pie.useEcn = boolParam(value)
	case "MarkEcnThreshold":
		pie.markEcnTh = value.floatValue
	case "ActiveThreshold":
		pie.activeThreshold = value.floatValue
	default:
		return false, nil
	}
	return true, nil
}

// doEnqueue drops at the hard limit, and at random with the current probability
func (pie *PieQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	qSize := pie.CurrentSize().Value

	if !pie.active && pie.activeThreshold > 0.0 && pie.QueueDelay() >= pie.activeThreshold {
		pie.activate()
	}

	if qSize+pie.maxSize.itemValue(item) > pie.maxSize.Value {
		// the queue is full
		pie.pieStats.ForcedDrop += 1
		pie.accuProb = 0
		pie.DropBeforeEnqueue(item, PieForcedDrop)
		return false
	}

	if pie.active && pie.dropEarly(item, qSize) {
		if pie.useEcn && pie.dropProb <= pie.markEcnTh && pie.Mark(item, PieUnforcedMark) {
			pie.pieStats.UnforcedMark += 1
		} else {
			pie.pieStats.UnforcedDrop += 1
			pie.accuProb = 0
			pie.DropBeforeEnqueue(item, PieUnforcedDrop)
			return false
		}
	}

	return pie.enqueueInternal(0, item, InternalQueueDrop)
}

// activate starts the controller from a clean state
func (pie *PieQueueDisc) activate() {
	pie.active = true
	pie.qDelayOld = 0
	pie.dropProb = 0
	pie.inMeasurement = true
	pie.dqCount = 0
	pie.avgDqRate = 0
	pie.dqStart = pie.clock.Now()
	pie.burstAllowance = pie.maxBurst
	pie.accuProb = 0
	pie.log.V(5).Info("Activated", "qdisc", pie.name)
}

// dropEarly draws against the drop probability for one arrival, given the queue size qSize
func (pie *PieQueueDisc) dropEarly(item *QueueDiscItem, qSize uint32) bool {
	if pie.burstAllowance > 0.0 {
		// a burst after a quiet period is let through
		if pie.burstState == NoBurst {
			pie.burstState = InBurstProtecting
			pie.log.V(5).Info("Protecting burst", "qdisc", pie.name, "allowance", pie.burstAllowance)
		}
		return false
	}

	// no early drops while delay and probability are both small
	if pie.qDelayOld < 0.5*pie.qDelayRef && pie.dropProb < 0.2 {
		return false
	}

	// nor with only a couple of packets queued
	if pie.maxSize.Unit == Bytes {
		if qSize <= uint32(2*pie.meanPktSize) {
			return false
		}
	} else if qSize <= 2 {
		return false
	}

	p := pie.dropProb
	if pie.maxSize.Unit == Bytes {
		p = p * float64(item.Size()) / float64(pie.meanPktSize)
	}

	if pie.useDerandomization {
		// spread drops evenly by accumulating the probability
		if p == 0 {
			pie.accuProb = 0
		}
		pie.accuProb += p
		if pie.accuProb < 0.85 {
			return false
		}
		if pie.accuProb >= 8.5 {
			return true
		}
	}

	u := pie.rng.RandU01()
	return u <= p
}

// calculateP is the periodic update of the drop probability
func (pie *PieQueueDisc) calculateP() {
	qDelay := pie.qDelay
	missingInitFlag := false

	if pie.useDqRateEstimator {
		if pie.avgDqRate > 0 {
			qDelay = float64(pie.queues[0].NBytes()) / pie.avgDqRate
		} else {
			qDelay = 0.0
			missingInitFlag = pie.queues[0].NPackets() > 0
		}
		pie.qDelay = qDelay
	}

	p := pie.a*(qDelay-pie.qDelayRef) + pie.b*(qDelay-pie.qDelayOld)

	// small probabilities move in small steps
	switch {
	case pie.dropProb < 0.000001:
		p /= 2048
	case pie.dropProb < 0.00001:
		p /= 512
	case pie.dropProb < 0.0001:
		p /= 128
	case pie.dropProb < 0.001:
		p /= 32
	case pie.dropProb < 0.01:
		p /= 8
	case pie.dropProb < 0.1:
		p /= 2
	}

	// large probabilities do not grow by more than 2% at once
	if pie.useCapDropAdjustment && pie.dropProb >= 0.1 && p > 0.02 {
		p = 0.02
	}

	pie.dropProb += p

	// decay when there is no queueing at all
	if qDelay == 0 && pie.qDelayOld == 0 {
		pie.dropProb *= 0.98
	}

	// severe delay
	if qDelay > 0.25 {
		pie.dropProb += 0.02
	}

	if pie.dropProb < 0 {
		pie.dropProb = 0
	}
	if pie.dropProb > 1 {
		pie.dropProb = 1
	}

	// the burst allowance runs down with time
	if pie.burstAllowance > pie.tUpdate {
		pie.burstAllowance -= pie.tUpdate
	} else {
		pie.burstAllowance = 0
	}
	if pie.burstState == InBurstProtecting && pie.burstAllowance == 0 {
		pie.burstState = InBurst
	}

	// a quiet queue earns a fresh allowance
	if qDelay < 0.5*pie.qDelayRef && pie.qDelayOld < 0.5*pie.qDelayRef && pie.dropProb == 0 && !missingInitFlag {
		pie.burstAllowance = pie.maxBurst
		pie.burstState = NoBurst
	}

	pie.qDelayOld = qDelay
	pie.log.V(5).Info("Updated drop probability", "qdisc", pie.name, "qDelay", qDelay, "dropProb", pie.dropProb,
		"burstState", pie.burstState.String())
}

// scheduleUpdate arranges the next run of calculateP.  A disposed disc
// invalidates the updates already scheduled
func (pie *PieQueueDisc) scheduleUpdate(delay float64) {
	gen := pie.timerGen
	pie.clock.Schedule(delay, func() {
		if gen != pie.timerGen {
			return
		}
		pie.calculateP()
		pie.scheduleUpdate(pie.tUpdate)
	})
}

// doDequeue serves the internal queue and feeds the departure-rate estimate
func (pie *PieQueueDisc) doDequeue() *QueueDiscItem {
	queue := pie.queues[0]
	qBytes := queue.NBytes()
	item := queue.Dequeue()
	if item == nil {
		if pie.activeThreshold > 0.0 {
			pie.active = false
		}
		return nil
	}

	now := pie.clock.Now()
	if pie.useDqRateEstimator {
		pie.updateDqRate(qBytes, item.Size(), now)
	} else {
		pie.qDelay = now - item.TimeStamp
	}
	return item
}

// updateDqRate measures the departure rate over cycles of at least dqThreshold bytes.
// qBytes is the queue content before the departure of size bytes
func (pie *PieQueueDisc) updateDqRate(qBytes, size int, now float64) {
	// start a measurement cycle once enough is queued
	if !pie.inMeasurement && qBytes >= pie.dqThreshold {
		pie.dqStart = now
		pie.dqCount = 0
		pie.inMeasurement = true
	}

	if !pie.inMeasurement {
		return
	}

	pie.dqCount += size
	if pie.dqCount < pie.dqThreshold {
		return
	}

	dqTime := now - pie.dqStart
	if dqTime > 0 {
		rate := float64(pie.dqCount) / dqTime
		if pie.avgDqRate == 0 {
			pie.avgDqRate = rate
		} else {
			pie.avgDqRate = 0.5*pie.avgDqRate + 0.5*rate
		}
	}

	// start the next cycle if the queue still holds enough
	if qBytes-size > pie.dqThreshold {
		pie.dqStart = now
		pie.dqCount = 0
		pie.inMeasurement = true
	} else {
		pie.dqCount = dqCountInvalid
		pie.inMeasurement = false
	}
}

func (pie *PieQueueDisc) doPeek() *QueueDiscItem {
	return pie.queues[0].Peek()
}

// checkConfig makes sure PIE has one internal queue and no classes or filters
func (pie *PieQueueDisc) checkConfig() error {
	if len(pie.classes) > 0 {
		return errors.New("PieQueueDisc cannot have classes")
	}
	if len(pie.filters) > 0 {
		return errors.New("PieQueueDisc cannot have packet filters")
	}
	if len(pie.queues) == 0 {
		pie.queues = append(pie.queues, CreateDropTailQueue(pie.maxSize))
	}
	if len(pie.queues) != 1 {
		return errors.Errorf("PieQueueDisc needs 1 internal queue, has %d", len(pie.queues))
	}
	return nil
}

// initializeParams sets the initial state and starts the update timer
func (pie *PieQueueDisc) initializeParams() {
	pie.burstAllowance = pie.maxBurst
	pie.burstState = NoBurst
	pie.dropProb = 0
	pie.accuProb = 0
	pie.qDelay = 0
	pie.qDelayOld = 0
	pie.avgDqRate = 0
	pie.dqStart = 0
	pie.dqCount = dqCountInvalid
	pie.inMeasurement = false
	pie.active = pie.activeThreshold == 0.0

	if pie.rng == nil {
		pie.rng = rngstream.New(pie.name)
	}
	pie.scheduleUpdate(pie.sUpdate)
}

// dispose cancels the pending probability update
func (pie *PieQueueDisc) dispose() {
	pie.timerGen += 1
}
