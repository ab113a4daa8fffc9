// Package tcsim is a traffic-control layer for discrete-event network simulation.
// It holds trees of queueing disciplines (pfifo-fast, prio, RED/ARED, CoDel, PIE, FqCoDel)
// attached to simulated network devices, and the helper that builds them from
// declarative descriptions.
package tcsim

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// A valueStruct type holds the different types a configuration value might have.
// Typically only one of these is used, and which one is known by context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool

	// set when the string named a queue size, e.g. "25p" or "3000B"
	sizeValue QueueSize
	isSize    bool
}

// paramObj is satisfied by every object whose attributes are set by name:
// queue discs, packet filters and internal queues
type paramObj interface {
	setParam(string, valueStruct) error
	paramObjName() string
}

// stringToValueStruct takes a string (used in the configuration phase)
// and determines whether it is an integer, floating point, duration, queue size, bool or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{intValue: 0, floatValue: 0.0, stringValue: v, boolValue: false}

	// try conversion to int
	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	// failing that, try conversion to float
	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		vs.intValue = int(fvalue)
		return vs
	}

	// durations are carried in seconds
	dvalue, derr := time.ParseDuration(v)
	if derr == nil {
		vs.floatValue = dvalue.Seconds()
		return vs
	}

	// queue sizes
	qs, qerr := ParseQueueSize(v)
	if qerr == nil {
		vs.sizeValue = qs
		vs.isSize = true
		vs.intValue = int(qs.Value)
		return vs
	}

	// left with it being a string.  See if true, True
	if v == "true" || v == "True" {
		vs.boolValue = true
	}
	return vs
}

// setAttributes applies a dictionary of named attribute values to a paramObj.
// Names are applied in sorted order so that a run is reproducible
func setAttributes(obj paramObj, attrbs map[string]string) error {
	names := make([]string, 0, len(attrbs))
	for name := range attrbs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := obj.setParam(name, stringToValueStruct(attrbs[name])); err != nil {
			return errors.Wrapf(err, "setting %s=%s on %s", name, attrbs[name], obj.paramObjName())
		}
	}
	return nil
}

// unknownParam is the error returned by setParam when an attribute name is not recognized
func unknownParam(obj paramObj, param string) error {
	return errors.Errorf("%s has no attribute %q", obj.paramObjName(), param)
}

// boolParam interprets a value as a bool, accepting 0/1 as well as true/false
func boolParam(value valueStruct) bool {
	if value.boolValue {
		return true
	}
	if strings.EqualFold(value.stringValue, "false") {
		return false
	}
	return value.intValue != 0
}

// utility function for generating unique integer ids on demand
var numIds int = 0

// nxtId creates an id for objects created within tcsim that are unique among those objects
func nxtId() int {
	numIds += 1
	return numIds
}

// QueueDiscFactory constructs a queue disc of one registered type
type QueueDiscFactory func() *QueueDisc

// PacketFilterFactory constructs a packet filter of one registered type
type PacketFilterFactory func() PacketFilter

// QueueFactory constructs an internal queue of one registered type
type QueueFactory func() *DropTailQueue

// static registries, name -> constructor, resolved when a tree is built
var queueDiscByName map[string]QueueDiscFactory = map[string]QueueDiscFactory{}
var packetFilterByName map[string]PacketFilterFactory = map[string]PacketFilterFactory{}
var queueByName map[string]QueueFactory = map[string]QueueFactory{}

// RegisterQueueDisc makes a queue disc constructor available to the helper under the given name
func RegisterQueueDisc(name string, factory QueueDiscFactory) {
	queueDiscByName[name] = factory
}

// RegisterPacketFilter makes a packet filter constructor available under the given name
func RegisterPacketFilter(name string, factory PacketFilterFactory) {
	packetFilterByName[name] = factory
}

// RegisterQueue makes an internal queue constructor available under the given name
func RegisterQueue(name string, factory QueueFactory) {
	queueByName[name] = factory
}

// createQueueDiscByName looks up the registry and constructs a queue disc
func createQueueDiscByName(name string) (*QueueDisc, error) {
	factory, present := queueDiscByName[name]
	if !present {
		return nil, errors.Errorf("unknown queue disc type %q", name)
	}
	return factory(), nil
}

// createPacketFilterByName looks up the registry and constructs a packet filter
func createPacketFilterByName(name string) (PacketFilter, error) {
	factory, present := packetFilterByName[name]
	if !present {
		return nil, errors.Errorf("unknown packet filter type %q", name)
	}
	return factory(), nil
}

// createQueueByName looks up the registry and constructs an internal queue
func createQueueByName(name string) (*DropTailQueue, error) {
	factory, present := queueByName[name]
	if !present {
		return nil, errors.Errorf("unknown queue type %q", name)
	}
	return factory(), nil
}

func init() {
	RegisterQueueDisc("PfifoFastQueueDisc", func() *QueueDisc { return CreatePfifoFastQueueDisc().QueueDisc })
	RegisterQueueDisc("RedQueueDisc", func() *QueueDisc { return CreateRedQueueDisc().QueueDisc })
	RegisterQueueDisc("CoDelQueueDisc", func() *QueueDisc { return CreateCoDelQueueDisc().QueueDisc })
	RegisterQueueDisc("PieQueueDisc", func() *QueueDisc { return CreatePieQueueDisc().QueueDisc })
	RegisterQueueDisc("FqCoDelQueueDisc", func() *QueueDisc { return CreateFqCoDelQueueDisc().QueueDisc })
	RegisterQueueDisc("PrioQueueDisc", func() *QueueDisc { return CreatePrioQueueDisc().QueueDisc })

	RegisterPacketFilter("PfifoFastIpv4PacketFilter", func() PacketFilter { return CreatePfifoFastPacketFilter(4) })
	RegisterPacketFilter("PfifoFastIpv6PacketFilter", func() PacketFilter { return CreatePfifoFastPacketFilter(6) })
	RegisterPacketFilter("FqCoDelIpv4PacketFilter", func() PacketFilter { return CreateFqCoDelPacketFilter(4) })
	RegisterPacketFilter("FqCoDelIpv6PacketFilter", func() PacketFilter { return CreateFqCoDelPacketFilter(6) })

	RegisterQueue("DropTailQueue", func() *DropTailQueue { return CreateDropTailQueue(QueueSize{Unit: Packets, Value: 100}) })
}
