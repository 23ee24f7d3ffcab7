package ane

import (
	"fmt"
	"strconv"

	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// StationKey identifies a station by the node that owns it and the
// index of the interface on that node
type StationKey struct {
	Node   int `json:"node" yaml:"node"`
	Intrfc int `json:"intrfc" yaml:"intrfc"`
}

func (key StationKey) String() string {
	return fmt.Sprintf("node[%d].interface[%d]", key.Node, key.Intrfc)
}

// domainType is the arrangement of stations on a broadcast domain
type domainType int

const (
	peerToPeer domainType = iota
	clientServer
	unknownDomainType
)

func domainTypeFromStr(name string) domainType {
	switch name {
	case "", "peer-to-peer", "p2p", "symmetric", "Symmetric":
		return peerToPeer
	case "client-server", "asymmetric", "Asymmetric":
		return clientServer
	}
	return unknownDomainType
}

func domainTypeToStr(dtype domainType) string {
	switch dtype {
	case peerToPeer:
		return "peer-to-peer"
	case clientServer:
		return "client-server"
	}
	return "unknown"
}

// arbitrationMode says which station processes bandwidth requests
type arbitrationMode int

const (
	// every station is its own request handler
	distributed arbitrationMode = iota

	// a designated arbiter handles every request on the domain
	centralized
	unknownMode
)

func arbitrationModeFromStr(name string) arbitrationMode {
	switch name {
	case "", "distributed", "Distributed":
		return distributed
	case "centralized", "Centralized":
		return centralized
	}
	return unknownMode
}

func arbitrationModeToStr(mode arbitrationMode) string {
	switch mode {
	case distributed:
		return "distributed"
	case centralized:
		return "centralized"
	}
	return "unknown"
}

// Domain is one broadcast domain, the set of stations sharing a channel
type Domain struct {
	name      string
	groups    []string
	dtype     domainType
	mode      arbitrationMode
	model     channelModelCode
	broadcast Address

	headend    StationKey
	hasHeadend bool
	arbiter    StationKey

	// in configuration order, which is the fan-out order
	members  []StationKey
	stations map[StationKey]*Station

	params paramBag

	// shared with every station of the domain, satellite model only
	subnet *SubnetState
}

// createDomain is a constructor
func createDomain(name string, dtype domainType, mode arbitrationMode, model channelModelCode) *Domain {
	dmn := new(Domain)
	dmn.name = name
	dmn.dtype = dtype
	dmn.mode = mode
	dmn.model = model
	dmn.broadcast = AnyDest
	dmn.members = make([]StationKey, 0)
	dmn.stations = make(map[StationKey]*Station)
	dmn.params = make(paramBag)
	return dmn
}

// Name returns the name of the domain
func (dmn *Domain) Name() string {
	return dmn.name
}

func (dmn *Domain) addStation(st *Station) {
	dmn.members = append(dmn.members, st.key)
	dmn.stations[st.key] = st
	st.domain = dmn
}

// isHeadend is true if key is the headend of a client-server domain
func (dmn *Domain) isHeadend(key StationKey) bool {
	return dmn.hasHeadend && dmn.headend == key
}

func (dmn *Domain) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return dmn.name == attrbValue
	case "group":
		return slices.Contains(dmn.groups, attrbValue)
	case "type":
		return domainTypeFromStr(attrbValue) == dmn.dtype
	case "mode":
		return arbitrationModeFromStr(attrbValue) == dmn.mode
	case "model":
		return channelModelFromStr(attrbValue) == dmn.model
	}
	return false
}

func (dmn *Domain) setParam(param string, value valueStruct) {
	dmn.params[param] = value
}

func (dmn *Domain) paramObjName() string {
	return dmn.name
}

// txStatus is the state of a station's transmitter
type txStatus int

const (
	txIdle txStatus = iota
	txRequesting
	txGranted
	txActive
)

func (status txStatus) String() string {
	switch status {
	case txIdle:
		return "idle"
	case txRequesting:
		return "requesting"
	case txGranted:
		return "granted"
	case txActive:
		return "active"
	}
	return "unknown"
}

// Station is the MAC state of one network interface attached to a domain
type Station struct {
	key    StationKey
	name   string
	groups []string

	addr      Address
	prefixLen int

	// subnet broadcast addresses of every interface on this station's node
	nodeBroadcasts []Address

	domain *Domain
	ptn    *Partition
	net    *Network

	status      txStatus
	promiscuous bool
	headend     bool
	traced      bool

	channel ChannelModel

	// populated by NotifyInterest when this station arbitrates a centralized domain
	interests *InterestRegistry

	// stations discovered through the directory, distributed mode
	remote map[StationKey]*Station

	params paramBag
	stats  Statistics
	rng    *rngstream.RngStream
}

// createStation is a constructor
func createStation(name string, key StationKey, addr Address, prefixLen int) *Station {
	st := new(Station)
	st.name = name
	st.key = key
	st.addr = addr
	st.prefixLen = prefixLen
	st.nodeBroadcasts = []Address{subnetBroadcast(addr, prefixLen)}
	st.status = txIdle
	st.remote = make(map[StationKey]*Station)
	st.params = make(paramBag)
	st.rng = rngstream.New(name)
	return st
}

// Key returns the station's identity
func (st *Station) Key() StationKey {
	return st.key
}

// Name returns the configured name of the station
func (st *Station) Name() string {
	return st.name
}

// Address returns the station's unicast address
func (st *Station) Address() Address {
	return st.addr
}

// Domain returns the broadcast domain the station is attached to
func (st *Station) Domain() *Domain {
	return st.domain
}

// Stats returns a copy of the station's counters
func (st *Station) Stats() Statistics {
	return st.stats.clone()
}

// handlerKey is the station that processes this station's bandwidth requests
func (st *Station) handlerKey() StationKey {
	if st.domain.mode == centralized {
		return st.domain.arbiter
	}
	return st.key
}

// acceptsAddress is the delivery filter: own unicast address, a subnet
// broadcast of the node, the global broadcast, or any address at a headend
func (st *Station) acceptsAddress(dst Address) bool {
	return dst == st.addr ||
		slices.Contains(st.nodeBroadcasts, dst) ||
		dst == AnyDest ||
		st.headend
}

// wantsFrameFor is true if a frame with the given destination should be
// replicated to this station.  Promiscuous stations want every frame.
func (st *Station) wantsFrameFor(dst Address) bool {
	return st.promiscuous || st.acceptsAddress(dst)
}

// interestAddresses lists the addresses the station announces in centralized mode
func (st *Station) interestAddresses() []Address {
	addrs := []Address{st.addr, AnyDest}
	for _, bcast := range st.nodeBroadcasts {
		if !slices.Contains(addrs, bcast) {
			addrs = append(addrs, bcast)
		}
	}
	return addrs
}

func (st *Station) now() float64 {
	return st.ptn.evtMgr.CurrentSeconds()
}

func (st *Station) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return st.name == attrbValue
	case "group":
		return slices.Contains(st.groups, attrbValue)
	case "domain":
		return st.domain != nil && st.domain.name == attrbValue
	case "node":
		return strconv.Itoa(st.key.Node) == attrbValue
	case "headend":
		return strconv.FormatBool(st.headend) == attrbValue
	}
	return false
}

func (st *Station) setParam(param string, value valueStruct) {
	st.params[param] = value
}

func (st *Station) paramObjName() string {
	return st.name
}
