package tcsim

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PrioQueueDisc is a classful strict-priority disc.  Each class holds a child
// disc; class 0 is served first.  Items go to the class their filter names,
// or the one the priomap gives for their socket priority
type PrioQueueDisc struct {
	*QueueDisc
	prio2band [16]uint8
}

// CreatePrioQueueDisc is a constructor
func CreatePrioQueueDisc() *PrioQueueDisc {
	pq := new(PrioQueueDisc)
	pq.QueueDisc = createQueueDisc("PrioQueueDisc", pq, QueueSize{Unit: Packets, Value: 1000})
	pq.prio2band = prio2band
	return pq
}

// AsPrioQueueDisc returns the prio view of qd, or nil if qd is another discipline
func AsPrioQueueDisc(qd *QueueDisc) *PrioQueueDisc {
	pq, _ := qd.ops.(*PrioQueueDisc)
	return pq
}

// BandForPriority returns the class the priomap assigns to a socket priority
func (pq *PrioQueueDisc) BandForPriority(prio uint8) int {
	return int(pq.prio2band[prio&0x0f])
}

// parsePriomap reads 16 space separated band numbers
func parsePriomap(s string) ([16]uint8, error) {
	var pmap [16]uint8
	fields := strings.Fields(s)
	if len(fields) != len(pmap) {
		return pmap, errors.Errorf("priomap needs %d entries, got %d", len(pmap), len(fields))
	}
	for idx, field := range fields {
		band, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return pmap, errors.Wrapf(err, "priomap entry %d", idx)
		}
		pmap[idx] = uint8(band)
	}
	return pmap, nil
}

func (pq *PrioQueueDisc) setDiscParam(param string, value valueStruct) (bool, error) {
	switch param {
	case "Priomap":
		pmap, err := parsePriomap(value.stringValue)
		if err != nil {
			return true, err
		}
		pq.prio2band = pmap
	default:
		return false, nil
	}
	return true, nil
}

func (pq *PrioQueueDisc) doEnqueue(item *QueueDiscItem) bool {
	band := int(pq.prio2band[0])
	ret := pq.Classify(item)
	if ret == PfNoMatch {
		band = pq.BandForPriority(item.Packet.Priority)
	} else if ret >= 0 && ret < len(pq.classes) {
		band = ret
	}

	// a refusal by the child reaches this disc through the drop callback
	return pq.classes[band].qdisc.Enqueue(item)
}

func (pq *PrioQueueDisc) doDequeue() *QueueDiscItem {
	for _, qdc := range pq.classes {
		item := qdc.qdisc.Dequeue()
		if item != nil {
			return item
		}
	}
	return nil
}

func (pq *PrioQueueDisc) doPeek() *QueueDiscItem {
	for _, qdc := range pq.classes {
		item := qdc.qdisc.Peek()
		if item != nil {
			return item
		}
	}
	return nil
}

// checkConfig gives the disc three CoDel children when none were configured, and
// makes sure the priomap only names existing classes
func (pq *PrioQueueDisc) checkConfig() error {
	if len(pq.queues) > 0 {
		return errors.New("PrioQueueDisc cannot have internal queues")
	}
	if len(pq.classes) == 0 {
		for band := 0; band < pfifoFastBands; band++ {
			child := CreateCoDelQueueDisc()
			child.SetLogger(pq.log)
			if err := pq.AddQueueDiscClass(CreateQueueDiscClass(child.QueueDisc)); err != nil {
				return err
			}
		}
	}
	if len(pq.classes) < 2 {
		return errors.Errorf("PrioQueueDisc needs at least 2 classes, has %d", len(pq.classes))
	}
	for prio, band := range pq.prio2band {
		if int(band) >= len(pq.classes) {
			return errors.Errorf("priomap sends priority %d to band %d, only %d classes", prio, band, len(pq.classes))
		}
	}
	return nil
}

func (pq *PrioQueueDisc) initializeParams() {}

func (pq *PrioQueueDisc) dispose() {}
