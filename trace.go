package tcsim

import (
	"strconv"

	"github.com/iti/evt/vrtime"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// trace operations recorded for queue discs
const (
	TraceOpEnqueue           string = "enqueue"
	TraceOpDequeue           string = "dequeue"
	TraceOpRequeue           string = "requeue"
	TraceOpDropBeforeEnqueue string = "drop-before-enqueue"
	TraceOpDropAfterDequeue  string = "drop-after-dequeue"
	TraceOpMark              string = "mark"
)

type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers the events of the queue discs connected to it, for
// post-run analysis.  Records are kept per queue disc id
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`

	// sojourn times of dequeued items, by queue disc id
	sojourns map[int][]float64
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  An inactive
// manager may be connected everywhere and records nothing
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	tm.sojourns = make(map[int][]float64)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a trace record under the given object id
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName adds an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the TraceManager to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	return writeByExt(filename, *tm)
}

// QdiscTrace saves what happened to one item at one queue disc
type QdiscTrace struct {
	Time     float64 // time in float64
	Ticks    int64   // ticks variable of time
	Priority int64   // priority field of time-stamp
	ObjID    int     // id of the queue disc
	Op       string  // one of the TraceOp constants
	PcktUID  int
	Size     int
	Ecn      string  // ECN codepoint of the packet after the event
	Reason   string  // drop or mark reason
	Sojourn  float64 // seconds in the disc, on dequeue
	Backlog  int     // packets in the disc after the event
}

// Serialize renders the record as yaml
func (qtr *QdiscTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*qtr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddQdiscTrace creates a record of an event at qd and stores it
func AddQdiscTrace(tm *TraceManager, vrt vrtime.Time, qd *QueueDisc, item *QueueDiscItem, op, reason string) {
	if !tm.InUse {
		return
	}
	qtr := new(QdiscTrace)
	qtr.Time = vrt.Seconds()
	qtr.Ticks = vrt.Ticks()
	qtr.Priority = vrt.Pri()
	qtr.ObjID = qd.ID()
	qtr.Op = op
	qtr.PcktUID = item.Packet.UID
	qtr.Size = item.Size()
	qtr.Ecn = ecnCodeToStr(ecnNotECT)
	if item.Packet.Header != nil {
		qtr.Ecn = ecnCodeToStr(item.Packet.Header.ecn())
	}
	qtr.Reason = reason
	qtr.Backlog = qd.NPackets()
	if op == TraceOpDequeue {
		qtr.Sojourn = vrt.Seconds() - item.TimeStamp
		tm.sojourns[qd.ID()] = append(tm.sojourns[qd.ID()], qtr.Sojourn)
	}

	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "qdisc", TraceStr: qtr.Serialize()}
	tm.AddTrace(vrt, qd.ID(), trcInst)
}

// Connect subscribes the manager to every trace point of qd
func (tm *TraceManager) Connect(qd *QueueDisc) {
	tm.AddName(qd.ID(), qd.Name(), qd.TypeName())
	now := func() vrtime.Time { return vrtime.SecondsToTime(qd.Clock().Now()) }

	qd.TraceEnqueue(func(item *QueueDiscItem) { AddQdiscTrace(tm, now(), qd, item, TraceOpEnqueue, "") })
	qd.TraceDequeue(func(item *QueueDiscItem) { AddQdiscTrace(tm, now(), qd, item, TraceOpDequeue, "") })
	qd.TraceRequeue(func(item *QueueDiscItem) { AddQdiscTrace(tm, now(), qd, item, TraceOpRequeue, "") })
	qd.TraceDropBeforeEnqueue(func(item *QueueDiscItem, reason string) {
		AddQdiscTrace(tm, now(), qd, item, TraceOpDropBeforeEnqueue, reason)
	})
	qd.TraceDropAfterDequeue(func(item *QueueDiscItem, reason string) {
		AddQdiscTrace(tm, now(), qd, item, TraceOpDropAfterDequeue, reason)
	})
	qd.TraceMark(func(item *QueueDiscItem, reason string) { AddQdiscTrace(tm, now(), qd, item, TraceOpMark, reason) })
}

// ConnectTree connects qd and every disc below it that exists now
func (tm *TraceManager) ConnectTree(qd *QueueDisc) {
	tm.Connect(qd)
	for _, qdc := range qd.classes {
		tm.ConnectTree(qdc.qdisc)
	}
}

// SojournSummary describes the sojourn times observed at one queue disc, in seconds
type SojournSummary struct {
	N      int
	Mean   float64
	StdDev float64
	Median float64
	P95    float64
	Max    float64
}

// SojournSummary summarizes the sojourn times recorded for the queue disc with the given id.
// The bool is false if no item has left that disc
func (tm *TraceManager) SojournSummary(objID int) (SojournSummary, bool) {
	samples := tm.sojourns[objID]
	if len(samples) == 0 {
		return SojournSummary{}, false
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	ss := SojournSummary{N: len(sorted)}
	ss.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		ss.StdDev = stat.StdDev(sorted, nil)
	}
	ss.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	ss.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	ss.Max = sorted[len(sorted)-1]
	return ss, true
}
