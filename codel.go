package tcsim

// codel.go implements the CoDel (controlled delay) discipline.  The sojourn time of
// each departing item is compared with a target.  When it has stayed at or above
// the target for a whole interval the disc enters the dropping state, and drops at
// times spaced interval/sqrt(count) apart until the sojourn time falls below target

import (
	"math"

	"github.com/pkg/errors"
)

// drop and mark reasons of CoDel
const (
	CoDelOverlimitDrop       string = "Overlimit drop"
	CoDelTargetExceededDrop  string = "Target exceeded drop"
	CoDelTargetExceededMark  string = "Target exceeded mark"
	CoDelCeThresholdExceeded string = "CE threshold exceeded mark"
)

// CoDelQueueDisc is the CoDel discipline
type CoDelQueueDisc struct {
	*QueueDisc

	// parameters
	minBytes    int     // below this many queued bytes the disc never drops
	interval    float64 // seconds
	target      float64 // seconds
	useEcn      bool
	ceThreshold float64 // sojourn above which ECT packets are marked, 0 for off

	// state
	count          int     // drops (or marks) in the current dropping episode
	lastCount      int     // count at the end of the previous episode
	dropping       bool    // in the dropping state
	firstAboveTime float64 // time the sojourn went above target, plus interval; 0 when below
	dropNext       float64 // time of the next drop while dropping
	lastSojourn    float64

	dropOverLimit int // drops because the queue was full
	dropCount     int // drops because the target was exceeded
	markCount     int
}

// CreateCoDelQueueDisc is a constructor, filling in the default parameters
func CreateCoDelQueueDisc() *CoDelQueueDisc {
	cd := new(CoDelQueueDisc)
	cd.QueueDisc = createQueueDisc("CoDelQueueDisc", cd, QueueSize{Unit: Packets, Value: 1500})
	cd.minBytes = 1500
	cd.interval = 0.1
	cd.target = 0.005
	return cd
}

// AsCoDelQueueDisc returns the CoDel view of qd, or nil if qd is another discipline
func AsCoDelQueueDisc(qd *QueueDisc) *CoDelQueueDisc {
	cd, _ := qd.ops.(*CoDelQueueDisc)
	return cd
}

// Target returns the target sojourn time
func (cd *CoDelQueueDisc) Target() float64 {
	return cd.target
}

// Interval returns the measurement interval
func (cd *CoDelQueueDisc) Interval() float64 {
	return cd.interval
}

// DropNext returns the time of the next scheduled drop, meaningful while dropping
func (cd *CoDelQueueDisc) DropNext() float64 {
	return cd.dropNext
}

// Dropping reports whether the disc is in the dropping state
func (cd *CoDelQueueDisc) Dropping() bool {
	return cd.dropping
}

// Count returns the number of drops in the current dropping episode
func (cd *CoDelQueueDisc) Count() int {
	return cd.count
}

// LastCount returns the count of the previous dropping episode
func (cd *CoDelQueueDisc) LastCount() int {
	return cd.lastCount
}

// DropCount returns the number of drops made because the target was exceeded
func (cd *CoDelQueueDisc) DropCount() int {
	return cd.dropCount
}

// DropOverLimit returns the number of drops made because the queue was full
func (cd *CoDelQueueDisc) DropOverLimit() int {
	return cd.dropOverLimit
}

// MarkCount returns the number of items marked instead of dropped
func (cd *CoDelQueueDisc) MarkCount() int {
	return cd.markCount
}

// LastSojourn returns the sojourn time of the last item examined at dequeue
func (cd *CoDelQueueDisc) LastSojourn() float64 {
	return cd.lastSojourn
}

// setDiscParam assigns the CoDel parameter named by param
func (cd *CoDelQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	switch param {
	case "MinBytes":
		cd.minBytes = value.intValue
	case "Interval":
		if value.floatValue <= 0.0 {
			return true, errors.New("Interval must be positive")
		}
		cd.interval = value.floatValue
	case "Target":
		if value.floatValue <= 0.0 {
			return true, errors.New("Target must be positive")
		}
		cd.target = value.floatValue
	case "UseEcn":
		cd.useEcn = boolParam(value)
	case "CeThreshold":
		cd.ceThreshold = value.floatValue
	default:
		return false, nil
	}
	return true, nil
}

// doEnqueue refuses items only when the queue is full
func (cd *CoDelQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	if cd.CurrentSize().Value+cd.maxSize.itemValue(item) > cd.maxSize.Value {
		cd.dropOverLimit += 1
		cd.DropBeforeEnqueue(item, CoDelOverlimitDrop)
		return false
	}
	return cd.enqueueInternal(0, item, InternalQueueDrop)
}

// controlLaw returns the time of the drop following one at t
func (cd *CoDelQueueDisc) controlLaw(t float64) float64 {
	return t + cd.interval/math.Sqrt(float64(cd.count))
}

// okToDrop tells whether item has been preceded by a full interval of sojourn times above target
func (cd *CoDelQueueDisc) okToDrop(item *QueueDiscItem, now float64) bool {
	sojourn := now - item.TimeStamp
	cd.lastSojourn = sojourn

	if sojourn < cd.target || cd.queues[0].NBytes() <= cd.minBytes {
		// went below target, or the queue is too small to matter
		cd.firstAboveTime = 0
		return false
	}

	okToDrop := false
	if cd.firstAboveTime == 0 {
		// just went above target, wait an interval before dropping
		cd.firstAboveTime = now + cd.interval
	} else if now >= cd.firstAboveTime {
		okToDrop = true
	}
	return okToDrop
}

// doDequeue runs the CoDel state machine on departing items
func (cd *CoDelQueueDisc) doDequeue() *QueueDiscItem {
	queue := cd.queues[0]
	item := queue.Dequeue()
	if item == nil {
		// an empty queue ends any dropping episode
		cd.firstAboveTime = 0
		cd.dropping = false
		return nil
	}

	now := cd.clock.Now()
	okToDrop := cd.okToDrop(item, now)

	if cd.dropping {
		if !okToDrop {
			// sojourn time below target, leave the dropping state
			cd.dropping = false
			cd.log.V(5).Info("Leaving dropping state", "qdisc", cd.name, "count", cd.count)
		} else if now >= cd.dropNext {
			// time for the next drop.  Several may be due
			for cd.dropping && now >= cd.dropNext {
				cd.count += 1
				if cd.useEcn && cd.Mark(item, CoDelTargetExceededMark) {
					cd.markCount += 1
					cd.dropNext = cd.controlLaw(cd.dropNext)
					return item
				}
				cd.dropCount += 1
				cd.DropAfterDequeue(item, CoDelTargetExceededDrop)

				item = queue.Dequeue()
				if item == nil {
					cd.dropping = false
					cd.firstAboveTime = 0
					return nil
				}
				if cd.okToDrop(item, now) {
					cd.dropNext = cd.controlLaw(cd.dropNext)
				} else {
					cd.dropping = false
				}
			}
		}
	} else if okToDrop {
		// enter the dropping state, dropping (or marking) this item
		if cd.useEcn && cd.Mark(item, CoDelTargetExceededMark) {
			cd.markCount += 1
		} else {
			cd.dropCount += 1
			cd.DropAfterDequeue(item, CoDelTargetExceededDrop)
			item = queue.Dequeue()
			if item != nil {
				cd.okToDrop(item, now)
			}
		}
		cd.dropping = true

		// if the last episode ended recently, resume near its drop rate
		delta := cd.count - cd.lastCount
		if delta > 1 && now-cd.dropNext < 16*cd.interval {
			cd.count = delta
		} else {
			cd.count = 1
		}
		cd.lastCount = cd.count
		cd.dropNext = cd.controlLaw(now)
		cd.log.V(5).Info("Entering dropping state", "qdisc", cd.name, "count", cd.count, "dropNext", cd.dropNext)

		if item == nil {
			return nil
		}
	}

	if cd.useEcn && cd.ceThreshold > 0.0 && now-item.TimeStamp > cd.ceThreshold {
		cd.Mark(item, CoDelCeThresholdExceeded)
	}
	return item
}

// doPeek holds the item selected by the state machine until the next Dequeue
func (cd *CoDelQueueDisc) doPeek() *QueueDiscItem {
	return cd.peekByDequeue()
}

// checkConfig makes sure CoDel has one internal queue and no classes or filters
func (cd *CoDelQueueDisc) checkConfig() error {
	if len(cd.classes) > 0 {
		return errors.New("CoDelQueueDisc cannot have classes")
	}
	if len(cd.filters) > 0 {
		return errors.New("CoDelQueueDisc cannot have packet filters")
	}
	if len(cd.queues) == 0 {
		cd.queues = append(cd.queues, CreateDropTailQueue(cd.maxSize))
	}
	if len(cd.queues) != 1 {
		return errors.Errorf("CoDelQueueDisc needs 1 internal queue, has %d", len(cd.queues))
	}
	return nil
}

// initializeParams starts the state machine outside the dropping state
func (cd *CoDelQueueDisc) initializeParams() {
	cd.count = 0
	cd.lastCount = 0
	cd.dropping = false
	cd.firstAboveTime = 0
	cd.dropNext = 0
}

func (cd *CoDelQueueDisc) dispose() {}
