package tcsim

// tc-helper.go holds the TrafficControlHelper.  A helper records a description of
// a queue disc tree (disc types and attributes by handle, internal queues, filters,
// classes and the child disc of each class) and builds one such tree for every
// device it is installed on

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"
)

// largest handle or class number a tree may use
const maxTcHandle int = 0xffff

// queueSpec describes internal queues to create
type queueSpec struct {
	typeName string
	attrs    map[string]string
}

// filterSpec describes a packet filter to create
type filterSpec struct {
	typeName string
	attrs    map[string]string
}

// classSpec describes one class, and the handle of its child disc (0 when none yet)
type classSpec struct {
	childHandle uint16
}

// queueDiscSpec describes one queue disc of the tree
type queueDiscSpec struct {
	typeName string
	attrs    map[string]string
	queues   []queueSpec
	filters  []filterSpec
	classes  []classSpec
}

// QueueDiscContainer holds the root queue discs created by an Install, in device order
type QueueDiscContainer []*QueueDisc

// N returns the number of queue discs held
func (qdcn QueueDiscContainer) N() int {
	return len(qdcn)
}

// Get returns the idx-th queue disc
func (qdcn QueueDiscContainer) Get(idx int) *QueueDisc {
	return qdcn[idx]
}

// TrafficControlHelper builds queue disc trees and installs them on devices
type TrafficControlHelper struct {
	specs       []*queueDiscSpec // handle h is specs[h-1]
	queueLimits map[string]string
	clock       SimClock
	log         klog.Logger
}

// NewTrafficControlHelper is a constructor of a helper with an empty description
func NewTrafficControlHelper() *TrafficControlHelper {
	tch := new(TrafficControlHelper)
	tch.specs = make([]*queueDiscSpec, 0)
	tch.clock = defaultClock
	tch.log = klog.Background().WithName("TrafficControlHelper")
	return tch
}

// Default returns a helper installing FQ-CoDel as the root disc.  With several
// transmission queues the root serves them all and the layer picks the queue of each item
func Default(nTxQueues int) *TrafficControlHelper {
	tch := NewTrafficControlHelper()
	if _, err := tch.SetRootQueueDisc("FqCoDelQueueDisc", nil); err != nil {
		panic(err)
	}
	if nTxQueues > 1 {
		tch.log.V(2).Info("One FqCoDel root serves all transmission queues", "txQueues", nTxQueues)
	}
	return tch
}

// SetClock gives the clock the discs built by the helper will use
func (tch *TrafficControlHelper) SetClock(clock SimClock) {
	tch.clock = clock
}

// SetLogger gives the logger the helper and the discs it builds will use
func (tch *TrafficControlHelper) SetLogger(logger klog.Logger) {
	tch.log = logger.WithName("TrafficControlHelper")
}

// spec returns the description of the disc with the given handle
func (tch *TrafficControlHelper) spec(handle uint16) (*queueDiscSpec, error) {
	if handle == 0 || int(handle) > len(tch.specs) {
		return nil, errors.Errorf("no queue disc with handle %d", handle)
	}
	return tch.specs[handle-1], nil
}

// addSpec appends a disc description and returns its handle
func (tch *TrafficControlHelper) addSpec(typeName string, attrs map[string]string) (uint16, error) {
	if _, present := queueDiscByName[typeName]; !present {
		return 0, errors.Errorf("unknown queue disc type %q", typeName)
	}
	if len(tch.specs) >= maxTcHandle {
		return 0, errors.Errorf("no handle left for queue disc %s", typeName)
	}
	tch.specs = append(tch.specs, &queueDiscSpec{typeName: typeName, attrs: attrs})
	return uint16(len(tch.specs)), nil
}

// SetRootQueueDisc names the type and attributes of the root disc, and returns its handle
func (tch *TrafficControlHelper) SetRootQueueDisc(typeName string, attrs map[string]string) (uint16, error) {
	if len(tch.specs) > 0 {
		return 0, errors.New("the root queue disc has already been set")
	}
	return tch.addSpec(typeName, attrs)
}

// AddInternalQueues gives the disc with the given handle count internal queues of the given type
func (tch *TrafficControlHelper) AddInternalQueues(handle uint16, count int, typeName string, attrs map[string]string) error {
	spec, err := tch.spec(handle)
	if err != nil {
		return err
	}
	if _, present := queueByName[typeName]; !present {
		return errors.Errorf("unknown queue type %q", typeName)
	}
	for idx := 0; idx < count; idx++ {
		spec.queues = append(spec.queues, queueSpec{typeName: typeName, attrs: attrs})
	}
	return nil
}

// AddPacketFilter gives the disc with the given handle a filter of the given type
func (tch *TrafficControlHelper) AddPacketFilter(handle uint16, typeName string, attrs map[string]string) error {
	spec, err := tch.spec(handle)
	if err != nil {
		return err
	}
	if _, present := packetFilterByName[typeName]; !present {
		return errors.Errorf("unknown packet filter type %q", typeName)
	}
	spec.filters = append(spec.filters, filterSpec{typeName: typeName, attrs: attrs})
	return nil
}

// AddQueueDiscClasses gives the disc with the given handle count classes, and returns their ids
func (tch *TrafficControlHelper) AddQueueDiscClasses(handle uint16, count int) ([]uint16, error) {
	spec, err := tch.spec(handle)
	if err != nil {
		return nil, err
	}
	if count < 0 || len(spec.classes)+count > maxTcHandle {
		return nil, errors.Errorf("queue disc %d cannot have %d more classes", handle, count)
	}
	classIDs := make([]uint16, 0, count)
	for idx := 0; idx < count; idx++ {
		spec.classes = append(spec.classes, classSpec{})
		classIDs = append(classIDs, uint16(len(spec.classes)-1))
	}
	return classIDs, nil
}

// AddChildQueueDisc attaches a new disc of the given type to class classID of the
// disc with the given handle, and returns the handle of the new disc
func (tch *TrafficControlHelper) AddChildQueueDisc(handle, classID uint16, typeName string, attrs map[string]string) (uint16, error) {
	spec, err := tch.spec(handle)
	if err != nil {
		return 0, err
	}
	if int(classID) >= len(spec.classes) {
		return 0, errors.Errorf("queue disc %d has no class %d", handle, classID)
	}
	if spec.classes[classID].childHandle != 0 {
		return 0, errors.Errorf("class %d of queue disc %d already has a child", classID, handle)
	}
	child, err := tch.addSpec(typeName, attrs)
	if err != nil {
		return 0, err
	}
	spec.classes[classID].childHandle = child
	return child, nil
}

// AddChildQueueDiscs attaches a new disc of the given type to each of the listed classes
func (tch *TrafficControlHelper) AddChildQueueDiscs(handle uint16, classIDs []uint16, typeName string, attrs map[string]string) ([]uint16, error) {
	handles := make([]uint16, 0, len(classIDs))
	for _, classID := range classIDs {
		child, err := tch.AddChildQueueDisc(handle, classID, typeName, attrs)
		if err != nil {
			return nil, err
		}
		handles = append(handles, child)
	}
	return handles, nil
}

// SetQueueLimits gives the attributes applied to the transmission queues of each
// device the helper is installed on, e.g. {"txqueuelen": "10"}
func (tch *TrafficControlHelper) SetQueueLimits(attrs map[string]string) {
	tch.queueLimits = attrs
}

// build creates the tree described by the helper and returns its root
func (tch *TrafficControlHelper) build() (*QueueDisc, error) {
	discs := make([]*QueueDisc, len(tch.specs))

	for idx, spec := range tch.specs {
		qd, err := createQueueDiscByName(spec.typeName)
		if err != nil {
			return nil, err
		}
		qd.SetHandle(netlink.MakeHandle(uint16(idx+1), 0))
		qd.SetClock(tch.clock)
		qd.SetLogger(tch.log)
		if err := qd.SetAttributes(spec.attrs); err != nil {
			return nil, err
		}

		for _, qs := range spec.queues {
			queue, err := createQueueByName(qs.typeName)
			if err != nil {
				return nil, err
			}
			if err := setAttributes(queue, qs.attrs); err != nil {
				return nil, err
			}
			if err := qd.AddInternalQueue(queue); err != nil {
				return nil, err
			}
		}

		for _, fs := range spec.filters {
			filter, err := createPacketFilterByName(fs.typeName)
			if err != nil {
				return nil, err
			}
			if len(fs.attrs) > 0 {
				obj, ok := filter.(paramObj)
				if !ok {
					return nil, errors.Errorf("packet filter %s has no attributes", fs.typeName)
				}
				if err := setAttributes(obj, fs.attrs); err != nil {
					return nil, err
				}
			}
			if err := qd.AddPacketFilter(filter); err != nil {
				return nil, err
			}
		}
		discs[idx] = qd
	}

	// children exist before their parents are wired to them
	for idx, spec := range tch.specs {
		for classIdx, cs := range spec.classes {
			if cs.childHandle == 0 {
				return nil, errors.Errorf("class %d of queue disc %d has no child queue disc", classIdx, idx+1)
			}
			qdc := CreateQueueDiscClass(discs[cs.childHandle-1])
			qdc.SetClassID(netlink.MakeHandle(uint16(idx+1), uint16(classIdx+1)))
			if err := discs[idx].AddQueueDiscClass(qdc); err != nil {
				return nil, err
			}
		}
	}
	return discs[0], nil
}

// Install builds a tree for each device and makes it the root of the device on layer
func (tch *TrafficControlHelper) Install(layer *TrafficControlLayer, devices ...NetDevice) (QueueDiscContainer, error) {
	if len(tch.specs) == 0 {
		return nil, errors.New("no root queue disc has been set")
	}
	container := make(QueueDiscContainer, 0, len(devices))
	for _, dev := range devices {
		if layer.GetRootQueueDiscOnDevice(dev) != nil {
			return container, errors.Errorf("device %s already has a root queue disc", dev.Name())
		}
		if len(tch.queueLimits) > 0 {
			obj, ok := dev.(paramObj)
			if !ok {
				return container, errors.Errorf("device %s does not take queue limits", dev.Name())
			}
			if err := setAttributes(obj, tch.queueLimits); err != nil {
				return container, err
			}
		}

		root, err := tch.build()
		if err != nil {
			return container, errors.Wrapf(err, "building tree for device %s", dev.Name())
		}
		if err := layer.SetRootQueueDiscOnDevice(dev, root); err != nil {
			return container, err
		}
		container = append(container, root)
		tch.log.V(2).Info("Installed", "device", dev.Name(), "root", root.Name(), "discs", len(tch.specs))
	}
	return container, nil
}

// Uninstall removes the root queue disc of each device from layer
func (tch *TrafficControlHelper) Uninstall(layer *TrafficControlLayer, devices ...NetDevice) error {
	for _, dev := range devices {
		if err := layer.DeleteRootQueueDiscOnDevice(dev); err != nil {
			return err
		}
		tch.log.V(2).Info("Uninstalled", "device", dev.Name())
	}
	return nil
}
