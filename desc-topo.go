package tcsim

// desc-topo.go holds the serializable description of a queue disc tree.
// A TcDesc lists the discs of a tree by handle, with for each the internal
// queues, filters and classes it has and the handle of the child disc of each
// class.  Descriptions are read from and written to yaml or json files, and turned
// into a TrafficControlHelper after the tree shape is validated

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gopkg.in/yaml.v3"
)

// QueueDesc describes Count internal queues of one type
type QueueDesc struct {
	Type  string            `json:"type" yaml:"type"`
	Count int               `json:"count" yaml:"count"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// FilterDesc describes one packet filter
type FilterDesc struct {
	Type  string            `json:"type" yaml:"type"`
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// ChildDesc attaches the disc with handle Handle to class Class of its parent
type ChildDesc struct {
	Class  uint16 `json:"class" yaml:"class"`
	Handle uint16 `json:"handle" yaml:"handle"`
}

// QueueDiscDesc describes one disc of a tree
type QueueDiscDesc struct {
	Handle   uint16            `json:"handle" yaml:"handle"`
	Type     string            `json:"type" yaml:"type"`
	Attrs    map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Queues   []QueueDesc       `json:"queues,omitempty" yaml:"queues,omitempty"`
	Filters  []FilterDesc      `json:"filters,omitempty" yaml:"filters,omitempty"`
	Classes  int               `json:"classes,omitempty" yaml:"classes,omitempty"`
	Children []ChildDesc       `json:"children,omitempty" yaml:"children,omitempty"`
}

// TcDesc describes a whole tree.  Root is the handle of the root disc
type TcDesc struct {
	Name        string            `json:"name" yaml:"name"`
	Root        uint16            `json:"root" yaml:"root"`
	QueueDiscs  []QueueDiscDesc   `json:"queuediscs" yaml:"queuediscs"`
	QueueLimits map[string]string `json:"queuelimits,omitempty" yaml:"queuelimits,omitempty"`
}

// CreateTcDesc is a constructor
func CreateTcDesc(name string) *TcDesc {
	td := new(TcDesc)
	td.Name = name
	td.QueueDiscs = make([]QueueDiscDesc, 0)
	return td
}

// queueDisc returns the description of the disc with the given handle
func (td *TcDesc) queueDisc(handle uint16) (*QueueDiscDesc, error) {
	for idx := range td.QueueDiscs {
		if td.QueueDiscs[idx].Handle == handle {
			return &td.QueueDiscs[idx], nil
		}
	}
	return nil, errors.Errorf("tc description %s has no queue disc %d", td.Name, handle)
}

// AddQueueDisc describes a disc.  The first disc added is the root
func (td *TcDesc) AddQueueDisc(handle uint16, typeName string, attrs map[string]string) error {
	if handle == 0 {
		return errors.Errorf("tc description %s: handle 0 is reserved", td.Name)
	}
	if _, err := td.queueDisc(handle); err == nil {
		return errors.Errorf("tc description %s already has queue disc %d", td.Name, handle)
	}
	if len(td.QueueDiscs) == 0 {
		td.Root = handle
	}
	td.QueueDiscs = append(td.QueueDiscs, QueueDiscDesc{Handle: handle, Type: typeName, Attrs: attrs})
	return nil
}

// AddQueues gives the disc with the given handle count internal queues
func (td *TcDesc) AddQueues(handle uint16, count int, typeName string, attrs map[string]string) error {
	qdd, err := td.queueDisc(handle)
	if err != nil {
		return err
	}
	qdd.Queues = append(qdd.Queues, QueueDesc{Type: typeName, Count: count, Attrs: attrs})
	return nil
}

// AddFilter gives the disc with the given handle a packet filter
func (td *TcDesc) AddFilter(handle uint16, typeName string, attrs map[string]string) error {
	qdd, err := td.queueDisc(handle)
	if err != nil {
		return err
	}
	qdd.Filters = append(qdd.Filters, FilterDesc{Type: typeName, Attrs: attrs})
	return nil
}

// AddChild attaches the disc child to class class of the disc parent, adding classes as needed
func (td *TcDesc) AddChild(parent, class, child uint16) error {
	qdd, err := td.queueDisc(parent)
	if err != nil {
		return err
	}
	if int(class) >= qdd.Classes {
		qdd.Classes = int(class) + 1
	}
	qdd.Children = append(qdd.Children, ChildDesc{Class: class, Handle: child})
	return nil
}

// validate checks that the discs form one tree below Root, and returns their
// handles with every parent before its children
func (td *TcDesc) validate() ([]uint16, error) {
	if len(td.QueueDiscs) == 0 {
		return nil, errors.Errorf("tc description %s has no queue discs", td.Name)
	}
	if _, err := td.queueDisc(td.Root); err != nil {
		return nil, errors.Wrap(err, "root")
	}

	g := simple.NewDirectedGraph()
	for _, qdd := range td.QueueDiscs {
		if g.Node(int64(qdd.Handle)) != nil {
			return nil, errors.Errorf("tc description %s: handle %d used twice", td.Name, qdd.Handle)
		}
		g.AddNode(simple.Node(int64(qdd.Handle)))
	}

	for _, qdd := range td.QueueDiscs {
		classUsed := make(map[uint16]bool)
		for _, cd := range qdd.Children {
			if int(cd.Class) >= qdd.Classes {
				return nil, errors.Errorf("queue disc %d has no class %d", qdd.Handle, cd.Class)
			}
			if classUsed[cd.Class] {
				return nil, errors.Errorf("class %d of queue disc %d has two children", cd.Class, qdd.Handle)
			}
			classUsed[cd.Class] = true
			if g.Node(int64(cd.Handle)) == nil {
				return nil, errors.Errorf("queue disc %d names unknown child %d", qdd.Handle, cd.Handle)
			}
			if cd.Handle == qdd.Handle || cd.Handle == td.Root {
				return nil, errors.Errorf("queue disc %d cannot be a child of %d", cd.Handle, qdd.Handle)
			}
			if g.To(int64(cd.Handle)).Len() > 0 {
				return nil, errors.Errorf("queue disc %d has more than one parent", cd.Handle)
			}
			g.SetEdge(g.NewEdge(simple.Node(int64(qdd.Handle)), simple.Node(int64(cd.Handle))))
		}
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		return nil, errors.Wrapf(err, "tc description %s is not a tree", td.Name)
	}

	order := make([]uint16, 0, len(sorted))
	for _, node := range sorted {
		handle := uint16(node.ID())
		if handle != td.Root && g.To(node.ID()).Len() == 0 {
			return nil, errors.Errorf("queue disc %d is not attached to the tree", handle)
		}
		order = append(order, handle)
	}
	return order, nil
}

// NewTrafficControlHelperFromDesc validates a description and returns a helper that builds it
func NewTrafficControlHelperFromDesc(td *TcDesc) (*TrafficControlHelper, error) {
	order, err := td.validate()
	if err != nil {
		return nil, err
	}

	tch := NewTrafficControlHelper()
	helperHandle := make(map[uint16]uint16)

	for _, handle := range order {
		qdd, _ := td.queueDisc(handle)
		if handle == td.Root {
			hh, err := tch.SetRootQueueDisc(qdd.Type, qdd.Attrs)
			if err != nil {
				return nil, err
			}
			helperHandle[handle] = hh
		}
		hh := helperHandle[handle]

		for _, qd := range qdd.Queues {
			if err := tch.AddInternalQueues(hh, qd.Count, qd.Type, qd.Attrs); err != nil {
				return nil, err
			}
		}
		for _, fd := range qdd.Filters {
			if err := tch.AddPacketFilter(hh, fd.Type, fd.Attrs); err != nil {
				return nil, err
			}
		}
		if qdd.Classes > 0 {
			if _, err := tch.AddQueueDiscClasses(hh, qdd.Classes); err != nil {
				return nil, err
			}
		}

		children := slices.Clone(qdd.Children)
		slices.SortFunc(children, func(a, b ChildDesc) int { return int(a.Class) - int(b.Class) })
		for _, cd := range children {
			childDesc, _ := td.queueDisc(cd.Handle)
			ch, err := tch.AddChildQueueDisc(hh, cd.Class, childDesc.Type, childDesc.Attrs)
			if err != nil {
				return nil, err
			}
			helperHandle[cd.Handle] = ch
		}
	}

	if len(td.QueueLimits) > 0 {
		tch.SetQueueLimits(td.QueueLimits)
	}
	return tch, nil
}

// Desc describes the tree the helper builds, with the helper's handles
func (tch *TrafficControlHelper) Desc(name string) *TcDesc {
	td := CreateTcDesc(name)
	for idx, spec := range tch.specs {
		handle := uint16(idx + 1)
		qdd := QueueDiscDesc{Handle: handle, Type: spec.typeName, Attrs: spec.attrs, Classes: len(spec.classes)}

		// runs of identical queues are described once
		for _, qs := range spec.queues {
			last := len(qdd.Queues) - 1
			if last >= 0 && qdd.Queues[last].Type == qs.typeName && fmt.Sprint(qdd.Queues[last].Attrs) == fmt.Sprint(qs.attrs) {
				qdd.Queues[last].Count += 1
				continue
			}
			qdd.Queues = append(qdd.Queues, QueueDesc{Type: qs.typeName, Count: 1, Attrs: qs.attrs})
		}
		for _, fs := range spec.filters {
			qdd.Filters = append(qdd.Filters, FilterDesc{Type: fs.typeName, Attrs: fs.attrs})
		}
		for classIdx, cs := range spec.classes {
			if cs.childHandle != 0 {
				qdd.Children = append(qdd.Children, ChildDesc{Class: uint16(classIdx), Handle: cs.childHandle})
			}
		}
		td.QueueDiscs = append(td.QueueDiscs, qdd)
	}
	if len(td.QueueDiscs) > 0 {
		td.Root = 1
	}
	td.QueueLimits = tch.queueLimits
	return td
}

// A TcDescDict holds instances of TcDesc structures, in a map whose key is
// the name of the description.  Used to store pre-built trees
type TcDescDict struct {
	DictName string            `json:"dictname" yaml:"dictname"`
	Descs    map[string]TcDesc `json:"descs" yaml:"descs"`
}

// CreateTcDescDict is a constructor. Saves the dictionary name, initializes the TcDesc map
func CreateTcDescDict(name string) *TcDescDict {
	tdd := new(TcDescDict)
	tdd.DictName = name
	tdd.Descs = make(map[string]TcDesc)
	return tdd
}

// AddTcDesc includes a TcDesc into the dictionary, returning an error
// if one with the same name has already been included and overwrite is false
func (tdd *TcDescDict) AddTcDesc(td *TcDesc, overwrite bool) error {
	if !overwrite {
		_, present := tdd.Descs[td.Name]
		if present {
			return errors.Errorf("attempt to overwrite TcDesc %s in TcDescDict", td.Name)
		}
	}
	tdd.Descs[td.Name] = *td
	return nil
}

// RecoverTcDesc returns a copy (if one exists) of the TcDesc with name equal to the input argument name.
// Returns a boolean indicating whether the entry was actually found
func (tdd *TcDescDict) RecoverTcDesc(name string) (*TcDesc, bool) {
	td, present := tdd.Descs[name]
	if present {
		return &td, true
	}
	return nil, false
}

// writeByExt serializes obj to the named file.  The extension of the name selects json or yaml
func writeByExt(filename string, obj any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(obj)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	default:
		return errors.Errorf("file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return errors.Wrapf(merr, "serializing for %s", filename)
	}
	if werr := os.WriteFile(filename, bytes, 0644); werr != nil {
		return errors.Wrapf(werr, "writing %s", filename)
	}
	return nil
}

// readByExt fills obj from dict, or from the named file if dict is empty
func readByExt(filename string, useYAML bool, dict []byte, obj any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return errors.Wrapf(err, "reading %s", filename)
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, obj)
	} else {
		err = json.Unmarshal(dict, obj)
	}
	if err != nil {
		return errors.Wrapf(err, "deserializing %s", filename)
	}
	return nil
}

// WriteToFile serializes the TcDescDict and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format
func (tdd *TcDescDict) WriteToFile(filename string) error {
	return writeByExt(filename, *tdd)
}

// ReadTcDescDict deserializes a slice of bytes into a TcDescDict.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read
func ReadTcDescDict(filename string, useYAML bool, dict []byte) (*TcDescDict, error) {
	example := TcDescDict{}
	if err := readByExt(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile serializes the TcDesc and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format
func (td *TcDesc) WriteToFile(filename string) error {
	return writeByExt(filename, *td)
}

// ReadTcDesc deserializes a slice of bytes into a TcDesc.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read
func ReadTcDesc(filename string, useYAML bool, dict []byte) (*TcDesc, error) {
	example := TcDesc{}
	if err := readByExt(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}
