package ane

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Delivery records a frame reaching the upper layer of a station
type Delivery struct {
	Station StationKey `json:"station" yaml:"station"`
	Time    float64    `json:"time" yaml:"time"`
	Src     Address    `json:"src" yaml:"src"`
	Dst     Address    `json:"dst" yaml:"dst"`
	FrameID int        `json:"frameid" yaml:"frameid"`
	Size    int        `json:"size" yaml:"size"`
	Payload []byte     `json:"-" yaml:"-"`

	// the frame was shown to a promiscuous station but not addressed to it
	Peeked bool `json:"peeked" yaml:"peeked"`
}

// NetworkPortal is the upper layer of every station of a network.  Traffic
// sources enqueue frames on it and the MAC hands back what it receives.
//
// The queue of a station is touched only by the partition that owns the
// station, so queues are not locked.  Deliveries are gathered from every
// partition and are locked.
type NetworkPortal struct {
	queues map[StationKey]*frameQueue
	addrOf map[StationKey]Address

	mu         sync.Mutex
	deliveries []Delivery
}

// CreateNetworkPortal is a constructor
func CreateNetworkPortal() *NetworkPortal {
	np := new(NetworkPortal)
	np.queues = make(map[StationKey]*frameQueue)
	np.addrOf = make(map[StationKey]Address)
	np.deliveries = make([]Delivery, 0)
	return np
}

// addStation creates the queue of a station.  Called while the network is built.
func (np *NetworkPortal) addStation(key StationKey, addr Address) {
	if _, present := np.queues[key]; present {
		panic(fmt.Errorf("network portal: station %s added twice", key))
	}
	np.queues[key] = createFrameQueue()
	np.addrOf[key] = addr
}

func (np *NetworkPortal) queue(station StationKey) *frameQueue {
	fq, present := np.queues[station]
	if !present {
		panic(fmt.Errorf("network portal: no queue for station %s", station))
	}
	return fq
}

// Enqueue hands a frame for dst down to the station.  The caller follows
// with the station's OnUpperLayerPacketReady.
func (np *NetworkPortal) Enqueue(station StationKey, frame *Frame, dst Address, pri Priority) {
	if !pri.valid() {
		panic(fmt.Errorf("network portal: frame %d for %s enqueued with %s", frame.ID, station, pri))
	}
	np.queue(station).push(frame, dst, pri)
}

// QueueLen is the number of frames waiting at the station
func (np *NetworkPortal) QueueLen(station StationKey) int {
	return np.queue(station).Len()
}

func (np *NetworkPortal) IsEmpty(station StationKey) bool {
	return np.queue(station).Len() == 0
}

func (np *NetworkPortal) Dequeue(station StationKey) (*Frame, Address, Priority) {
	qf := np.queue(station).pop()
	if qf == nil {
		return nil, 0, Nominal
	}
	return qf.frame, qf.nextHop, qf.pri
}

func (np *NetworkPortal) DeliverUp(station StationKey, frame *Frame, src Address) {
	logrus.Debugf("%s: frame %d from %s delivered at %g", station, frame.ID, src, frame.Arrived)
	np.record(Delivery{Station: station, Time: frame.Arrived, Src: src, Dst: np.addrOf[station],
		FrameID: frame.ID, Size: frame.Size, Payload: frame.Payload})
}

func (np *NetworkPortal) Peek(station StationKey, frame *Frame, src, dst Address) {
	np.record(Delivery{Station: station, Time: frame.Arrived, Src: src, Dst: dst,
		FrameID: frame.ID, Size: frame.Size, Payload: frame.Payload, Peeked: true})
}

func (np *NetworkPortal) record(dlv Delivery) {
	np.mu.Lock()
	defer np.mu.Unlock()
	np.deliveries = append(np.deliveries, dlv)
}

// Deliveries returns the frames delivered to station, in order of delivery.
// Peeked frames are not included.
func (np *NetworkPortal) Deliveries(station StationKey) []Delivery {
	return np.filter(func(dlv Delivery) bool { return dlv.Station == station && !dlv.Peeked })
}

// Peeks returns the frames shown to the promiscuous station without being delivered
func (np *NetworkPortal) Peeks(station StationKey) []Delivery {
	return np.filter(func(dlv Delivery) bool { return dlv.Station == station && dlv.Peeked })
}

// AllDeliveries returns every record, peeks included
func (np *NetworkPortal) AllDeliveries() []Delivery {
	return np.filter(func(Delivery) bool { return true })
}

func (np *NetworkPortal) filter(keep func(Delivery) bool) []Delivery {
	np.mu.Lock()
	defer np.mu.Unlock()
	found := make([]Delivery, 0)
	for _, dlv := range np.deliveries {
		if keep(dlv) {
			found = append(found, dlv)
		}
	}
	return found
}
