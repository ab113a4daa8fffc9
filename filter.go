package tcsim

import (
	"fmt"
)

// PfNoMatch is returned by a filter that has no opinion about an item
const PfNoMatch int = -1

// PacketFilter maps an item to a class index (or a flow hash), or to PfNoMatch.
// A filter looks only at immutable item fields
type PacketFilter interface {
	// CheckProtocol tells whether the filter understands the item at all
	CheckProtocol(item *QueueDiscItem) bool

	// DoClassify gives the class of an item whose protocol checked out
	DoClassify(item *QueueDiscItem) int
}

// classifyItem applies a filter, returning PfNoMatch for items of a protocol it does not handle
func classifyItem(filter PacketFilter, item *QueueDiscItem) int {
	if !filter.CheckProtocol(item) {
		return PfNoMatch
	}
	return filter.DoClassify(item)
}

// tos2prio maps bits 1-4 of the TOS byte to a socket priority, as Linux does
var tos2prio [16]uint8 = [16]uint8{0, 0, 0, 0, 2, 2, 2, 2, 6, 6, 6, 6, 4, 4, 4, 4}

// PfifoFastPacketFilter selects a pfifo-fast band from the TOS (v4) or traffic class (v6) byte
type PfifoFastPacketFilter struct {
	name    string
	version int
}

// CreatePfifoFastPacketFilter is a constructor for IP version 4 or 6
func CreatePfifoFastPacketFilter(version int) *PfifoFastPacketFilter {
	pf := new(PfifoFastPacketFilter)
	pf.version = version
	pf.name = fmt.Sprintf("PfifoFastIpv%dPacketFilter-%d", version, nxtId())
	return pf
}

// CheckProtocol accepts IP packets of the filter's version
func (pf *PfifoFastPacketFilter) CheckProtocol(item *QueueDiscItem) bool {
	hdr := item.Packet.Header
	return hdr != nil && hdr.Version == pf.version
}

// DoClassify returns the band, 0 (highest priority) to 2
func (pf *PfifoFastPacketFilter) DoClassify(item *QueueDiscItem) int {
	prio := tos2prio[(item.Packet.Header.Tos&0x1e)>>1]
	return int(prio2band[prio])
}

// setParam: the filter has no attributes
func (pf *PfifoFastPacketFilter) setParam(paramType string, value valueStruct) error {
	return unknownParam(pf, paramType)
}

// paramObjName helps PfifoFastPacketFilter satisfy paramObj interface
func (pf *PfifoFastPacketFilter) paramObjName() string {
	return pf.name
}

// FqCoDelPacketFilter hashes the 5-tuple of IP packets of one version
type FqCoDelPacketFilter struct {
	name         string
	version      int
	perturbation uint32
}

// CreateFqCoDelPacketFilter is a constructor for IP version 4 or 6
func CreateFqCoDelPacketFilter(version int) *FqCoDelPacketFilter {
	ff := new(FqCoDelPacketFilter)
	ff.version = version
	ff.name = fmt.Sprintf("FqCoDelIpv%dPacketFilter-%d", version, nxtId())
	return ff
}

// CheckProtocol accepts IP packets of the filter's version
func (ff *FqCoDelPacketFilter) CheckProtocol(item *QueueDiscItem) bool {
	hdr := item.Packet.Header
	return hdr != nil && hdr.Version == ff.version
}

// DoClassify returns the flow hash of the item
func (ff *FqCoDelPacketFilter) DoClassify(item *QueueDiscItem) int {
	return int(item.Hash(ff.perturbation))
}

// setParam assigns the filter parameter named by paramType
func (ff *FqCoDelPacketFilter) setParam(paramType string, value valueStruct) error {
	switch paramType {
	case "Perturbation":
		ff.perturbation = uint32(value.intValue)
	default:
		return unknownParam(ff, paramType)
	}
	return nil
}

// paramObjName helps FqCoDelPacketFilter satisfy paramObj interface
func (ff *FqCoDelPacketFilter) paramObjName() string {
	return ff.name
}
