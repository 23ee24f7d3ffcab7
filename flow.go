package ane

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Flow is a source of frames at one station.  Frames of FrameSize bytes are
// enqueued at the station's portal queue, addressed to Dst, at Rate frames
// per second from Start until Stop.
type Flow struct {
	Name      string
	Src       string // name of the sending station
	Dst       Address
	Rate      float64 // frames per second
	FrameSize int     // bytes
	Priority  Priority
	Dist      string // "exp" or "const"
	Start     float64
	Stop      float64 // zero runs to the end of the simulation
	Groups    []string

	station   *Station
	portal    *NetworkPortal
	rng       *rngstream.RngStream
	sample    func(float64, []float64) float64
	generated int
}

// createFlow is a constructor.  Rate, size and timing may be changed by
// parameters before the flow is started.
func createFlow(name string, src *Station, dst Address, portal *NetworkPortal) *Flow {
	flw := new(Flow)
	flw.Name = name
	flw.Src = src.name
	flw.Dst = dst
	flw.Priority = Nominal
	flw.Dist = "exp"
	flw.Groups = []string{}
	flw.station = src
	flw.portal = portal
	flw.rng = rngstream.New(name)
	return flw
}

// Generated is the number of frames the flow has enqueued
func (flw *Flow) Generated() int {
	return flw.generated
}

func (flw *Flow) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return flw.Name == attrbValue
	case "group":
		return slices.Contains(flw.Groups, attrbValue)
	case "src":
		return flw.Src == attrbValue
	}
	return false
}

func (flw *Flow) setParam(paramType string, value valueStruct) {
	switch paramType {
	case "rate":
		flw.Rate = value.floatValue
	case "frame-size":
		flw.FrameSize = value.intValue
	case "priority":
		flw.Priority = priorityFromStr(value.rawValue)
	case "distribution":
		flw.Dist = value.rawValue
	case "start":
		flw.Start = value.floatValue
	case "stop":
		flw.Stop = value.floatValue
	}
}

func (flw *Flow) paramObjName() string {
	return flw.Name
}

// validate checks the flow after parameters have been applied
func (flw *Flow) validate() error {
	if !(flw.Rate > 0) {
		return fmt.Errorf("flow %s: rate %g must be positive", flw.Name, flw.Rate)
	}
	if flw.FrameSize < 1 {
		return fmt.Errorf("flow %s: frame size %d must be positive", flw.Name, flw.FrameSize)
	}
	if !flw.Priority.valid() {
		return fmt.Errorf("flow %s: unrecognized priority", flw.Name)
	}
	if flw.Start < 0 || (flw.Stop > 0 && flw.Stop <= flw.Start) {
		return fmt.Errorf("flow %s: start %g and stop %g do not make an interval", flw.Name, flw.Start, flw.Stop)
	}
	switch flw.Dist {
	case "exp", "exponential":
		flw.sample = sampleExpRV
	case "const", "constant":
		flw.sample = sampleConst
	default:
		return fmt.Errorf("flow %s: unrecognized inter-arrival distribution %s", flw.Name, flw.Dist)
	}
	return nil
}

// start schedules the first arrival on the partition of the sending station
func (flw *Flow) start() {
	if flw.sample == nil {
		if err := flw.validate(); err != nil {
			panic(err)
		}
	}
	evtMgr := flw.station.ptn.evtMgr
	offset := math.Max(0.0, flw.Start-evtMgr.CurrentSeconds())
	evtMgr.Schedule(flw, nil, flowArrival, vrtime.SecondsToTime(roundFloat(offset, delayDigits)))
}

// flowArrival enqueues one frame, wakes the station, and schedules the next arrival
func flowArrival(evtMgr *evtm.EventManager, context any, data any) any {
	flw := context.(*Flow)
	now := evtMgr.CurrentSeconds()
	if flw.Stop > 0 && now >= flw.Stop {
		return nil
	}

	flw.generated += 1
	payload := []byte(fmt.Sprintf("%s#%d", flw.Name, flw.generated))
	frame := CreateFrame(payload, flw.FrameSize)
	flw.portal.Enqueue(flw.station.key, frame, flw.Dst, flw.Priority)
	logrus.Debugf("flow %s: frame %d enqueued at %s at %g", flw.Name, frame.ID, flw.station.key, now)
	flw.station.OnUpperLayerPacketReady()

	interarrival := flw.sample(flw.rng.RandU01(), []float64{flw.Rate})
	evtMgr.Schedule(flw, nil, flowArrival, vrtime.SecondsToTime(roundFloat(interarrival, delayDigits)))
	return nil
}

// roundFloat rounds the input val to the number of decimal places given by precision
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the signature of the flow's interarrival sampler
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the signature of the flow's interarrival sampler, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}
