package tcsim

// queue.go holds the unit of queueing (QueueDiscItem), the size measure used by
// limits (QueueSize), and the plain FIFO internal queue owned by a queue disc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// QueueSizeUnit is the base type for the enumerated units of a queue size
type QueueSizeUnit int

const (
	Packets QueueSizeUnit = iota
	Bytes
)

// QueueSize is a limit or occupancy, measured in packets or in bytes
type QueueSize struct {
	Unit  QueueSizeUnit
	Value uint32
}

// ParseQueueSize reads strings like "25p", "3000B", "64KB" or "1MB"
func ParseQueueSize(s string) (QueueSize, error) {
	s = strings.TrimSpace(s)
	suffixes := []struct {
		sfx  string
		unit QueueSizeUnit
		mult uint64
	}{
		{"MB", Bytes, 1000000},
		{"KB", Bytes, 1000},
		{"kB", Bytes, 1000},
		{"B", Bytes, 1},
		{"p", Packets, 1},
	}
	for _, suffix := range suffixes {
		if !strings.HasSuffix(s, suffix.sfx) {
			continue
		}
		num := strings.TrimSuffix(s, suffix.sfx)
		value, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return QueueSize{}, errors.Wrapf(err, "queue size %q", s)
		}
		total := value * suffix.mult
		if total > 0xffffffff {
			return QueueSize{}, errors.Errorf("queue size %q overflows", s)
		}
		return QueueSize{Unit: suffix.unit, Value: uint32(total)}, nil
	}
	return QueueSize{}, errors.Errorf("queue size %q has no unit (p or B)", s)
}

// String gives the form read by ParseQueueSize
func (qs QueueSize) String() string {
	if qs.Unit == Bytes {
		return fmt.Sprintf("%dB", qs.Value)
	}
	return fmt.Sprintf("%dp", qs.Value)
}

// itemValue is what one item adds to a size measured in the unit of qs
func (qs QueueSize) itemValue(item *QueueDiscItem) uint32 {
	if qs.Unit == Bytes {
		return uint32(item.Size())
	}
	return 1
}

// QueueDiscItem is the unit being queued.  It is owned by exactly one queue at a time
type QueueDiscItem struct {
	Packet    *Packet
	Address   string  // destination address handed to the device
	Protocol  uint16  // protocol number handed to the device
	TxQueue   int     // index of the device transmission queue
	TimeStamp float64 // simulation time the item entered its queue disc
}

// CreateQueueDiscItem is a constructor
func CreateQueueDiscItem(pkt *Packet, addr string, protocol uint16) *QueueDiscItem {
	item := new(QueueDiscItem)
	item.Packet = pkt
	item.Address = addr
	item.Protocol = protocol
	return item
}

// Size returns the number of bytes the item occupies
func (item *QueueDiscItem) Size() int {
	return item.Packet.Size
}

// Mark sets CE on the item's packet, returning false if the packet is not ECN capable
func (item *QueueDiscItem) Mark() bool {
	return item.Packet.MarkCE()
}

// Hash computes a 32 bit flow hash over the 5-tuple of the item, salted by perturbation.
// Items without an IP header all hash to the value of their protocol number
func (item *QueueDiscItem) Hash(perturbation uint32) uint32 {
	buf := make([]byte, 0, 48)
	hdr := item.Packet.Header
	if hdr == nil {
		buf = binary.BigEndian.AppendUint16(buf, item.Protocol)
	} else {
		src := hdr.Src.As16()
		dst := hdr.Dst.As16()
		buf = append(buf, src[:]...)
		buf = append(buf, dst[:]...)
		buf = append(buf, hdr.Protocol)
		buf = binary.BigEndian.AppendUint16(buf, hdr.SrcPort)
		buf = binary.BigEndian.AppendUint16(buf, hdr.DstPort)
	}
	buf = binary.BigEndian.AppendUint32(buf, perturbation)
	sum := xxhash.Sum64(buf)
	return uint32(sum) ^ uint32(sum>>32)
}

// DropTailQueue is a FIFO store of items bounded by a QueueSize.
// An item that does not fit is refused
type DropTailQueue struct {
	name    string
	maxSize QueueSize
	items   []*QueueDiscItem
	nBytes  int

	nTotalEnqueued int
	nTotalDequeued int
	nTotalDropped  int
}

// CreateDropTailQueue is a constructor
func CreateDropTailQueue(maxSize QueueSize) *DropTailQueue {
	dtq := new(DropTailQueue)
	dtq.name = fmt.Sprintf("DropTailQueue-%d", nxtId())
	dtq.maxSize = maxSize
	dtq.items = make([]*QueueDiscItem, 0)
	return dtq
}

// setParam assigns the queue parameter named by paramType
func (dtq *DropTailQueue) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "MaxSize":
		if !value.isSize {
			return errors.Errorf("MaxSize of %s needs a queue size, got %q", dtq.name, value.stringValue)
		}
		dtq.maxSize = value.sizeValue
	default:
		return unknownParam(dtq, paramType)
	}
	return nil
}

// paramObjName helps DropTailQueue satisfy paramObj interface
func (dtq *DropTailQueue) paramObjName() string {
	return dtq.name
}

// MaxSize returns the limit of the queue
func (dtq *DropTailQueue) MaxSize() QueueSize {
	return dtq.maxSize
}

// SetMaxSize changes the limit of the queue
func (dtq *DropTailQueue) SetMaxSize(maxSize QueueSize) {
	dtq.maxSize = maxSize
}

// CurrentSize gives the occupancy in the unit of the queue limit
func (dtq *DropTailQueue) CurrentSize() QueueSize {
	if dtq.maxSize.Unit == Bytes {
		return QueueSize{Unit: Bytes, Value: uint32(dtq.nBytes)}
	}
	return QueueSize{Unit: Packets, Value: uint32(len(dtq.items))}
}

// NPackets returns the number of stored items
func (dtq *DropTailQueue) NPackets() int {
	return len(dtq.items)
}

// NBytes returns the number of stored bytes
func (dtq *DropTailQueue) NBytes() int {
	return dtq.nBytes
}

// IsEmpty is true when the queue holds nothing
func (dtq *DropTailQueue) IsEmpty() bool {
	return len(dtq.items) == 0
}

// Enqueue appends item if it fits under the limit
func (dtq *DropTailQueue) Enqueue(item *QueueDiscItem) bool {
	if dtq.CurrentSize().Value+dtq.maxSize.itemValue(item) > dtq.maxSize.Value {
		dtq.nTotalDropped += 1
		return false
	}
	dtq.items = append(dtq.items, item)
	dtq.nBytes += item.Size()
	dtq.nTotalEnqueued += 1
	return true
}

// Dequeue removes and returns the head item, or nil if the queue is empty
func (dtq *DropTailQueue) Dequeue() *QueueDiscItem {
	if len(dtq.items) == 0 {
		return nil
	}
	item := dtq.items[0]
	dtq.items[0] = nil
	dtq.items = dtq.items[1:]
	dtq.nBytes -= item.Size()
	dtq.nTotalDequeued += 1
	return item
}

// Remove takes the head item out of the queue, counting it as dropped by the queue
func (dtq *DropTailQueue) Remove() *QueueDiscItem {
	item := dtq.Dequeue()
	if item != nil {
		dtq.nTotalDequeued -= 1
		dtq.nTotalDropped += 1
	}
	return item
}

// Peek returns the head item without removing it
func (dtq *DropTailQueue) Peek() *QueueDiscItem {
	if len(dtq.items) == 0 {
		return nil
	}
	return dtq.items[0]
}
