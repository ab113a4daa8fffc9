package tcsim

// red.go implements Random Early Detection, with the adaptive (ARED) and
// nonlinear (NLRED) variants.   On every arrival the exponentially weighted
// average queue size is updated.  Below the minimum threshold nothing is
// dropped, at or above the maximum threshold (twice the maximum in gentle
// mode) every arrival is dropped, and in between the drop probability rises
// linearly, spread out by the count of arrivals since the last drop

import (
	"math"

	"github.com/iti/rngstream"
	"github.com/pkg/errors"
)

// RedDropType classifies the outcome of a RED admission decision
type RedDropType int

const (
	DropTypeNone RedDropType = iota
	DropTypeForced
	DropTypeUnforced
)

// redDropTypeToStr returns a string corresponding to an input RedDropType
func redDropTypeToStr(dt RedDropType) string {
	switch dt {
	case DropTypeNone:
		return "DTYPE_NONE"
	case DropTypeForced:
		return "DTYPE_FORCED"
	case DropTypeUnforced:
		return "DTYPE_UNFORCED"
	}
	return "DTYPE_UNKNOWN"
}

func (dt RedDropType) String() string {
	return redDropTypeToStr(dt)
}

// drop and mark reasons of RED
const (
	RedUnforcedDrop   string = "Unforced drop"
	RedForcedDrop     string = "Forced drop"
	RedUnforcedMark   string = "Unforced mark"
	RedForcedMark     string = "Forced mark"
	RedQueueLimitDrop string = "Queue limit exceeded"
)

// RedStats is a snapshot of the RED drop counters
type RedStats struct {
	UnforcedDrop int // early drops, below the hard limit and the forced region
	ForcedDrop   int // drops because the average reached the forced region
	QLimDrop     int // drops because the queue was full
	UnforcedMark int
	ForcedMark   int
}

// RedQueueDisc is the RED / ARED discipline
type RedQueueDisc struct {
	*QueueDisc

	// parameters
	meanPktSize   int     // average packet size, bytes
	idlePktSize   int     // packet size used to age the average across idle periods, bytes
	isWait        bool    // true to wait between dropping packets
	isGentle      bool    // true to ramp the probability between maxTh and 2*maxTh
	isARED        bool    // true to turn on adaptive RED
	isAdaptMaxP   bool    // true to adapt curMaxP
	isNonlinear   bool    // true for NLRED
	minTh         float64 // minimum average length threshold, packets or bytes
	maxTh         float64 // maximum average length threshold, packets or bytes
	qW            float64 // weight of the current queue size in the average
	lInterm       float64 // inverse of the maximum drop probability
	targetDelay   float64 // delay the automatic thresholds aim at, seconds
	interval      float64 // time between adaptations of curMaxP, seconds
	top           float64 // upper bound of curMaxP
	bottom        float64 // lower bound of curMaxP
	alpha         float64 // additive increase of curMaxP
	beta          float64 // multiplicative decrease of curMaxP
	lastSet       float64 // last time curMaxP was adapted
	linkBandwidth float64 // bits per second of the link served
	useEcn        bool
	useHardDrop   bool // forced drops are drops even when ECN is on

	// state
	ptc          float64 // packet time constant, packets per second
	qAvg         float64 // average queue size
	count        int     // arrivals since the last drop
	countBytes   int     // bytes since the last drop
	old          bool    // set when the average first exceeded minTh
	idle         bool    // queue is idle
	idleTime     float64 // start of the current idle period
	vA, vB       float64 // linear ramp, minTh to maxTh
	vC, vD       float64 // gentle ramp, maxTh to 2*maxTh
	curMaxP      float64 // current maximum drop probability
	vProb        float64 // probability of the last early decision
	lastDropType RedDropType
	redStats     RedStats

	rng *rngstream.RngStream
}

// CreateRedQueueDisc is a constructor, filling in the default parameters
func CreateRedQueueDisc() *RedQueueDisc {
	rd := new(RedQueueDisc)
	rd.QueueDisc = createQueueDisc("RedQueueDisc", rd, QueueSize{Unit: Packets, Value: 25})
	rd.meanPktSize = 500
	rd.idlePktSize = 0
	rd.isWait = true
	rd.isGentle = false
	rd.minTh = 5
	rd.maxTh = 15
	rd.qW = 0.002
	rd.lInterm = 50
	rd.targetDelay = 0.005
	rd.interval = 0.5
	rd.top = 0.5
	rd.bottom = 0.0
	rd.alpha = 0.01
	rd.beta = 0.9
	rd.linkBandwidth = 1.5e6
	rd.useHardDrop = true
	return rd
}

// AsRedQueueDisc returns the RED view of qd, or nil if qd is another discipline
func AsRedQueueDisc(qd *QueueDisc) *RedQueueDisc {
	rd, _ := qd.ops.(*RedQueueDisc)
	return rd
}

// AssignStream gives the disc its own named random stream
func (rd *RedQueueDisc) AssignStream(name string) {
	rd.rng = rngstream.New(name)
}

// RedStats returns a snapshot of the RED counters
func (rd *RedQueueDisc) RedStats() RedStats {
	return rd.redStats
}

// AverageQueueSize returns the current average
func (rd *RedQueueDisc) AverageQueueSize() float64 {
	return rd.qAvg
}

// CurMaxP returns the current maximum drop probability
func (rd *RedQueueDisc) CurMaxP() float64 {
	return rd.curMaxP
}

// Thresholds returns minTh and maxTh, after any automatic setting
func (rd *RedQueueDisc) Thresholds() (float64, float64) {
	return rd.minTh, rd.maxTh
}

// LastDropType returns the classification of the last admission decision
func (rd *RedQueueDisc) LastDropType() RedDropType {
	return rd.lastDropType
}

// SetThresholds sets minTh and maxTh
func (rd *RedQueueDisc) SetThresholds(minTh, maxTh float64) {
	rd.minTh = minTh
	rd.maxTh = maxTh
}

// setDiscParam assigns the RED parameter named by param
func (rd *RedQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	switch param {
	case "MeanPktSize":
		if value.intValue <= 0 {
			return true, errors.New("MeanPktSize must be positive")
		}
		rd.meanPktSize = value.intValue
	case "IdlePktSize":
		rd.idlePktSize = value.intValue
	case "Wait":
		rd.isWait = boolParam(value)
	case "Gentle":
		rd.isGentle = boolParam(value)
	case "ARED":
		rd.isARED = boolParam(value)
	case "AdaptMaxP":
		rd.isAdaptMaxP = boolParam(value)
	case "NLRED":
		rd.isNonlinear = boolParam(value)
	case "MinTh":
		rd.minTh = value.floatValue
	case "MaxTh":
		rd.maxTh = value.floatValue
	case "QW":
		rd.qW = value.floatValue
	case "LInterm":
		if value.floatValue <= 0.0 {
			return true, errors.New("LInterm must be positive")
		}
		rd.lInterm = value.floatValue
	case "TargetDelay":
		rd.targetDelay = value.floatValue
	case "Interval":
		rd.interval = value.floatValue
	case "Top":
		rd.top = value.floatValue
	case "Bottom":
		rd.bottom = value.floatValue
	case "Alpha":
		rd.alpha = value.floatValue
	case "Beta":
		rd.beta = value.floatValue
	case "LastSet":
		rd.lastSet = value.floatValue
	case "LinkBandwidth":
		if value.floatValue <= 0.0 {
			return true, errors.New("LinkBandwidth must be positive")
		}
		rd.linkBandwidth = value.floatValue
	case "UseEcn":
		rd.useEcn = boolParam(value)
	case "UseHardDrop":
		rd.useHardDrop = boolParam(value)
	default:
		return false, nil
	}
	return true, nil
}

// doEnqueue updates the average and decides whether the arrival is dropped
func (rd *RedQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	nQueued := rd.CurrentSize().Value

	// age the average across an idle period as if m small packets had been served
	m := 0
	if rd.idle {
		now := rd.clock.Now()
		if rd.idlePktSize > 0 {
			m = int(rd.ptc * (now - rd.idleTime) * float64(rd.meanPktSize) / float64(rd.idlePktSize))
		} else {
			m = int(rd.ptc * (now - rd.idleTime))
		}
		rd.idle = false
	}

	rd.qAvg = rd.estimator(int(nQueued), m+1, rd.qAvg, rd.qW)

	if rd.qAvg >= rd.minTh {
		rd.count += 1
		rd.countBytes += item.Size()
	}

	dropType := DropTypeNone
	if rd.qAvg >= rd.minTh && nQueued > 1 {
		if (!rd.isGentle && rd.qAvg >= rd.maxTh) || (rd.isGentle && rd.qAvg >= 2*rd.maxTh) {
			dropType = DropTypeForced
		} else if !rd.old {
			// first time the average is above minTh, start counting, do not drop
			rd.count = 1
			rd.countBytes = item.Size()
			rd.old = true
		} else if rd.dropEarly(item) {
			dropType = DropTypeUnforced
		}
	} else {
		// average below minTh
		rd.vProb = 0.0
		rd.old = false
	}
	rd.lastDropType = dropType

	switch dropType {
	case DropTypeUnforced:
		if rd.useEcn && rd.Mark(item, RedUnforcedMark) {
			rd.redStats.UnforcedMark += 1
			break
		}
		rd.log.V(4).Info("Unforced drop", "qdisc", rd.name, "avg", rd.qAvg, "prob", rd.vProb)
		rd.redStats.UnforcedDrop += 1
		rd.DropBeforeEnqueue(item, RedUnforcedDrop)
		return false
	case DropTypeForced:
		if !rd.useHardDrop && rd.useEcn && rd.Mark(item, RedForcedMark) {
			rd.redStats.ForcedMark += 1
			break
		}
		rd.log.V(4).Info("Forced drop", "qdisc", rd.name, "avg", rd.qAvg)
		rd.redStats.ForcedDrop += 1
		rd.DropBeforeEnqueue(item, RedForcedDrop)
		return false
	}

	if !rd.enqueueInternal(0, item, RedQueueLimitDrop) {
		// the hard limit is a forced drop, counted apart
		rd.lastDropType = DropTypeForced
		rd.redStats.QLimDrop += 1
		return false
	}
	return true
}

// estimator computes the new average from the old one and the current size nQueued,
// weighting the old average m times
func (rd *RedQueueDisc) estimator(nQueued, m int, qAvg, qW float64) float64 {
	newAve := qAvg * math.Pow(1.0-qW, float64(m))
	newAve += qW * float64(nQueued)

	now := rd.clock.Now()
	if rd.isAdaptMaxP && now > rd.lastSet+rd.interval {
		rd.updateMaxP(newAve)
	}
	return newAve
}

// updateMaxP moves curMaxP so that the average drifts into the middle of [minTh, maxTh]
func (rd *RedQueueDisc) updateMaxP(newAve float64) {
	now := rd.clock.Now()
	part := 0.4 * (rd.maxTh - rd.minTh)

	if newAve < rd.minTh+part && rd.curMaxP > rd.bottom {
		// below the target range, decrease curMaxP multiplicatively
		rd.curMaxP = rd.curMaxP * rd.beta
		rd.lastSet = now
	} else if newAve > rd.maxTh-part && rd.top > rd.curMaxP {
		// above the target range, increase curMaxP additively
		alpha := rd.alpha
		if alpha > 0.25*rd.curMaxP {
			alpha = 0.25 * rd.curMaxP
		}
		rd.curMaxP = rd.curMaxP + alpha
		rd.lastSet = now
	}
	rd.log.V(5).Info("Adapted max drop probability", "qdisc", rd.name, "curMaxP", rd.curMaxP)
}

// dropEarly draws against the early drop probability of the arrival
func (rd *RedQueueDisc) dropEarly(item *QueueDiscItem) bool {
	prob1 := rd.calculatePNew()
	rd.vProb = rd.modifyP(prob1, item.Size())

	u := rd.rng.RandU01()
	if u <= rd.vProb {
		// drop, and start counting again
		rd.count = 0
		rd.countBytes = 0
		return true
	}
	return false
}

// calculatePNew returns the probability before the count since the last drop is applied
func (rd *RedQueueDisc) calculatePNew() float64 {
	var p float64

	if rd.isGentle && rd.qAvg >= rd.maxTh {
		// p ranges from curMaxP to 1 as the average ranges from maxTh to twice maxTh
		p = rd.vC*rd.qAvg + rd.vD
	} else if !rd.isGentle && rd.qAvg >= rd.maxTh {
		p = 1.0
	} else {
		// p ranges from 0 to curMaxP as the average ranges from minTh to maxTh
		p = rd.vA*rd.qAvg + rd.vB
		if rd.isNonlinear {
			p *= p * 1.5
		}
		p *= rd.curMaxP
	}

	if p > 1.0 {
		p = 1.0
	}
	return p
}

// modifyP spreads drops out by the count of arrivals since the last drop
func (rd *RedQueueDisc) modifyP(p float64, size int) float64 {
	count1 := float64(rd.count)
	if rd.maxSize.Unit == Bytes {
		count1 = float64(rd.countBytes) / float64(rd.meanPktSize)
	}

	if rd.isWait {
		if count1*p < 1.0 {
			p = 0.0
		} else if count1*p < 2.0 {
			p /= (2.0 - count1*p)
		} else {
			p = 1.0
		}
	} else {
		if count1*p < 1.0 {
			p /= (1.0 - count1*p)
		} else {
			p = 1.0
		}
	}

	// in byte mode large packets are more likely to be dropped
	if rd.maxSize.Unit == Bytes && p < 1.0 {
		p = (p * float64(size)) / float64(rd.meanPktSize)
	}

	if p > 1.0 {
		p = 1.0
	}
	return p
}

// doDequeue serves the internal queue and notes the start of idle periods
func (rd *RedQueueDisc) doDequeue() *QueueDiscItem {
	item := rd.queues[0].Dequeue()
	if item == nil {
		if !rd.idle {
			rd.idle = true
			rd.idleTime = rd.clock.Now()
		}
		return nil
	}
	rd.idle = false
	if rd.queues[0].IsEmpty() {
		rd.idle = true
		rd.idleTime = rd.clock.Now()
	}
	return item
}

func (rd *RedQueueDisc) doPeek() *QueueDiscItem {
	return rd.queues[0].Peek()
}

// checkConfig makes sure RED has one internal queue and no classes or filters
func (rd *RedQueueDisc) checkConfig() error {
	if len(rd.classes) > 0 {
		return errors.New("RedQueueDisc cannot have classes")
	}
	if len(rd.filters) > 0 {
		return errors.New("RedQueueDisc cannot have packet filters")
	}
	if len(rd.queues) == 0 {
		rd.queues = append(rd.queues, CreateDropTailQueue(rd.maxSize))
	}
	if len(rd.queues) != 1 {
		return errors.Errorf("RedQueueDisc needs 1 internal queue, has %d", len(rd.queues))
	}
	if rd.queues[0].MaxSize().Unit != rd.maxSize.Unit || rd.queues[0].MaxSize().Value < rd.maxSize.Value {
		return errors.Errorf("internal queue limit %s is below the disc limit %s",
			rd.queues[0].MaxSize().String(), rd.maxSize.String())
	}
	if rd.maxTh < rd.minTh {
		return errors.Errorf("MaxTh %g is below MinTh %g", rd.maxTh, rd.minTh)
	}
	return nil
}

// initializeParams derives the ramp coefficients and the automatic settings
func (rd *RedQueueDisc) initializeParams() {
	if rd.isARED {
		// automatic thresholds and weight, and curMaxP follows the average
		rd.minTh = 0
		rd.maxTh = 0
		rd.qW = 0
		rd.isAdaptMaxP = true
		rd.isGentle = true
	}

	rd.ptc = rd.linkBandwidth / (8.0 * float64(rd.meanPktSize))

	if rd.minTh == 0 && rd.maxTh == 0 {
		rd.minTh = 5.0

		// minTh is at least half the queue the target delay corresponds to
		targetQueue := rd.targetDelay * rd.ptc
		if rd.minTh < targetQueue/2.0 {
			rd.minTh = targetQueue / 2.0
		}
		if rd.maxSize.Unit == Bytes {
			rd.minTh = rd.minTh * float64(rd.meanPktSize)
		}
		rd.maxTh = 3 * rd.minTh
	}

	rd.qAvg = 0.0
	rd.count = 0
	rd.countBytes = 0
	rd.old = false
	rd.idle = true
	rd.idleTime = 0.0

	thDiff := rd.maxTh - rd.minTh
	if thDiff == 0 {
		thDiff = 1.0
	}
	rd.vA = 1.0 / thDiff
	rd.curMaxP = 1.0 / rd.lInterm
	rd.vB = -rd.minTh / thDiff

	if rd.isGentle {
		rd.vC = (1.0 - rd.curMaxP) / rd.maxTh
		rd.vD = 2.0*rd.curMaxP - 1.0
	}

	switch rd.qW {
	case 0.0:
		rd.qW = 1.0 - math.Exp(-1.0/rd.ptc)
	case -1.0:
		rtt := math.Max(3.0/rd.ptc, 0.1)
		rd.qW = 1.0 - math.Exp(-1.0/(10*rtt*rd.ptc))
	case -2.0:
		rd.qW = 1.0 - math.Exp(-10.0/rd.ptc)
	}

	if rd.bottom == 0 {
		rd.bottom = 0.01
	}

	if rd.rng == nil {
		rd.rng = rngstream.New(rd.name)
	}
	rd.log.V(2).Info("RED parameters", "qdisc", rd.name, "minTh", rd.minTh, "maxTh", rd.maxTh,
		"qW", rd.qW, "curMaxP", rd.curMaxP, "gentle", rd.isGentle, "adaptMaxP", rd.isAdaptMaxP)
}

func (rd *RedQueueDisc) dispose() {}
