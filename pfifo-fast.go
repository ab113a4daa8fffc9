package tcsim

import (
	"github.com/pkg/errors"
)

// pfifo-fast.go implements the three-band static priority baseline.
// Band 0 is always served before band 1, and band 1 before band 2

// prio2band maps a socket priority to a band, as the Linux default priomap does
var prio2band [16]uint8 = [16]uint8{1, 2, 2, 2, 1, 2, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1}

// number of bands of pfifo-fast
const pfifoFastBands int = 3

// LimitExceededDrop is recorded when the whole disc is at its limit
const LimitExceededDrop string = "Queue disc limit exceeded"

// PfifoFastQueueDisc is the pfifo-fast discipline
type PfifoFastQueueDisc struct {
	*QueueDisc
}

// CreatePfifoFastQueueDisc is a constructor
func CreatePfifoFastQueueDisc() *PfifoFastQueueDisc {
	pf := new(PfifoFastQueueDisc)
	pf.QueueDisc = createQueueDisc("PfifoFastQueueDisc", pf, QueueSize{Unit: Packets, Value: 1000})
	return pf
}

// AsPfifoFastQueueDisc returns the pfifo-fast view of qd, or nil if qd is another discipline
func AsPfifoFastQueueDisc(qd *QueueDisc) *PfifoFastQueueDisc {
	pf, _ := qd.ops.(*PfifoFastQueueDisc)
	return pf
}

// doEnqueue places the item in the band its filter (or its socket priority) selects
func (pf *PfifoFastQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	if pf.CurrentSize().Value+pf.maxSize.itemValue(item) > pf.maxSize.Value {
		pf.DropBeforeEnqueue(item, LimitExceededDrop)
		return false
	}

	band := 1
	ret := pf.Classify(item)
	if ret == PfNoMatch {
		band = int(prio2band[item.Packet.Priority&0x0f])
	} else if ret >= 0 && ret < pfifoFastBands {
		band = ret
	} else {
		pf.log.V(4).Info("Filter returned an invalid band, using band 1", "qdisc", pf.name, "band", ret)
	}

	return pf.enqueueInternal(band, item, InternalQueueDrop)
}

// doDequeue drains the highest priority band that holds something
func (pf *PfifoFastQueueDisc) doDequeue() *QueueDiscItem {
	for _, queue := range pf.queues {
		item := queue.Dequeue()
		if item != nil {
			return item
		}
	}
	return nil
}

// doPeek looks at the head of the highest priority band that holds something
func (pf *PfifoFastQueueDisc) doPeek() *QueueDiscItem {
	for _, queue := range pf.queues {
		item := queue.Peek()
		if item != nil {
			return item
		}
	}
	return nil
}

// checkConfig creates the three bands when none were given, and checks given ones
func (pf *PfifoFastQueueDisc) checkConfig() error {
	if len(pf.classes) > 0 {
		return errors.New("PfifoFastQueueDisc cannot have classes")
	}

	if len(pf.queues) == 0 {
		for band := 0; band < pfifoFastBands; band++ {
			pf.queues = append(pf.queues, CreateDropTailQueue(pf.maxSize))
		}
	}

	if len(pf.queues) != pfifoFastBands {
		return errors.Errorf("PfifoFastQueueDisc needs %d internal queues, has %d", pfifoFastBands, len(pf.queues))
	}

	for idx, queue := range pf.queues {
		if queue.MaxSize().Unit != pf.maxSize.Unit || queue.MaxSize().Value < pf.maxSize.Value {
			return errors.Errorf("internal queue %d limit %s is below the disc limit %s",
				idx, queue.MaxSize().String(), pf.maxSize.String())
		}
	}
	return nil
}

func (pf *PfifoFastQueueDisc) initializeParams() {}

// setDiscParam: pfifo-fast has only the shared attributes
func (pf *PfifoFastQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	return false, nil
}

func (pf *PfifoFastQueueDisc) dispose() {}
