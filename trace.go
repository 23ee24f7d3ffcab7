package ane

import (
	"strconv"
	"sync"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one serialized trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers the passage of frames through the MAC pipeline.
// Partitions add records concurrently.
type TraceManager struct {
	mu sync.Mutex

	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each station id
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records, indexed by frame id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a record under the frame id it describes
func (tm *TraceManager) AddTrace(vrt vrtime.Time, frameID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.Traces[frameID] = append(tm.Traces[frameID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.InUse {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, present := tm.NameByID[id]; present {
		panic("duplicated id in AddName")
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// Len is the number of records held
func (tm *TraceManager) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	n := 0
	for _, records := range tm.Traces {
		n += len(records)
	}
	return n
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.InUse {
		return nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return writeDescFile(filename, tm)
}

// traceID is the id under which a station is named in the trace dictionary
func traceID(key StationKey) int {
	return key.Node*1000 + key.Intrfc
}

// MacTrace records the handling of one event at one station
type MacTrace struct {
	Time     float64 `yaml:"time"`
	Ticks    int64   `yaml:"ticks"`
	Priority int64   `yaml:"priority"`
	ObjID    int     `yaml:"objid"`
	Station  string  `yaml:"station"`
	Event    string  `yaml:"event"`
	FrameID  int     `yaml:"frameid"`
	Status   string  `yaml:"status"`
}

// Serialize renders the record as yaml
func (mtr *MacTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*mtr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// addMacTrace creates a record of an event at a station and stores it
func addMacTrace(tm *TraceManager, vrt vrtime.Time, st *Station, msg *macMsg) {
	mtr := new(MacTrace)
	mtr.Time = vrt.Seconds()
	mtr.Ticks = vrt.Ticks()
	mtr.Priority = vrt.Pri()
	mtr.ObjID = traceID(st.key)
	mtr.Station = st.name
	mtr.Event = msg.kind.String()
	mtr.FrameID = msg.frameID()
	mtr.Status = st.status.String()

	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	tm.AddTrace(vrt, mtr.FrameID, TraceInst{TraceTime: traceTime, TraceType: "mac", TraceStr: mtr.Serialize()})
}
