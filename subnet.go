package ane

// subnet.go holds the state shared by every station of a satellite domain:
// the upstream channels, the mapping of stations to them, and the downstream
// parameters of the headend.  Exactly one SubnetState exists per domain; the
// first station to build one publishes it in the directory and every other
// station uses the published copy.

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// satelliteArchitecture selects the propagation multiplier of the satellite
type satelliteArchitecture int

const (
	processPayload satelliteArchitecture = iota
	bentPipe
	unknownArchitecture
)

func satelliteArchitectureFromStr(name string) satelliteArchitecture {
	switch name {
	case "process-payload", "PROCESS-PAYLOAD", "processing-payload":
		return processPayload
	case "bent-pipe", "BENTPIPE", "bentpipe":
		return bentPipe
	}
	return unknownArchitecture
}

func satelliteArchitectureToStr(arch satelliteArchitecture) string {
	switch arch {
	case processPayload:
		return "process-payload"
	case bentPipe:
		return "bent-pipe"
	}
	return "unknown"
}

const (
	defaultSatellitePropagation = 0.135 // seconds, one way
	defaultDownstreamBandwidth  = 70e6
	defaultUpstreamBandwidth    = 1e6
	defaultDownstreamLatency    = 0.005
	defaultUpstreamLatency      = 0.040
	defaultUpstreamCount        = 1
	defaultUpstreamGroup        = "DefaultUpstreamGroup"
)

// SubnetState is the shared channel state of one satellite domain
type SubnetState struct {
	name         string
	architecture satelliteArchitecture

	upstreams       *UpstreamGroup
	stationUpstream map[StationKey]int

	headend    StationKey
	hasHeadend bool

	downstreamBandwidth float64
	downstreamLatency   float64
	propagationDelay    float64 // one way
}

// Name returns the name of the domain the state belongs to
func (ss *SubnetState) Name() string {
	return ss.name
}

func (ss *SubnetState) isHeadend(key StationKey) bool {
	return ss.hasHeadend && ss.headend == key
}

// upstream returns the slot serving key
func (ss *SubnetState) upstream(key StationKey) *UpstreamSlot {
	idx, present := ss.stationUpstream[key]
	if !present {
		panic(fmt.Errorf("subnet %s: station %s has no upstream channel", ss.name, key))
	}
	return ss.upstreams.Slot(idx)
}

// MediaAccessLatency is the delay from now until key may transmit
func (ss *SubnetState) MediaAccessLatency(key StationKey, now float64) float64 {
	if ss.isHeadend(key) {
		return ss.downstreamLatency
	}
	return ss.upstream(key).AccessLatency(now)
}

// Bandwidth is the rate of the channel key transmits on
func (ss *SubnetState) Bandwidth(key StationKey) float64 {
	if ss.isHeadend(key) {
		return ss.downstreamBandwidth
	}
	return ss.upstream(key).Bandwidth()
}

// ReportSerializationDelay extends the reservation of key's upstream
func (ss *SubnetState) ReportSerializationDelay(key StationKey, duration float64) {
	if ss.isHeadend(key) {
		return
	}
	ss.upstream(key).LockFor(duration)
}

// PropagationLatency is the delay from transmitter to receiver.  A bent pipe
// relays without processing, which costs a second traversal.
func (ss *SubnetState) PropagationLatency() float64 {
	if ss.architecture == bentPipe {
		return 2.0 * ss.propagationDelay
	}
	return ss.propagationDelay
}

// Reserve is MediaAccessLatency and ReportSerializationDelay for a frame of
// the given size, done without another station's reservation in between
func (ss *SubnetState) Reserve(key StationKey, now float64, bits int) (float64, float64) {
	if ss.isHeadend(key) {
		return ss.downstreamLatency, float64(bits) / ss.downstreamBandwidth
	}
	return ss.upstream(key).Reserve(now, bits)
}

// acquireSubnetState returns the domain's published SubnetState, building and
// publishing it if no station has yet
func acquireSubnetState(dir *Directory, dmn *Domain) *SubnetState {
	key := subnetStateKey(dmn.name)
	if published, present := dir.Get(key, GlobalScope(), Weak); present {
		return published.(*SubnetState)
	}

	candidate := buildSubnetState(dir, dmn)
	if dir.PutImmutable(key, candidate, GlobalScope()) {
		return candidate
	}
	published, _ := dir.Get(key, GlobalScope(), Strong)
	return published.(*SubnetState)
}

// buildSubnetState reads the domain's satellite configuration
func buildSubnetState(dir *Directory, dmn *Domain) *SubnetState {
	owner := dmn.name
	params := dmn.params

	ss := new(SubnetState)
	ss.name = dmn.name
	ss.headend = dmn.headend
	ss.hasHeadend = dmn.hasHeadend

	archName := params.readString(owner, "satellite-architecture", "process-payload")
	ss.architecture = satelliteArchitectureFromStr(archName)
	if ss.architecture == unknownArchitecture {
		panic(fmt.Errorf("domain %s: unknown satellite architecture %s", owner, archName))
	}

	ss.propagationDelay = params.readFloat(owner, "propagation-latency", defaultSatellitePropagation)
	ss.downstreamBandwidth = params.readFloat(owner, "downstream-bandwidth", defaultDownstreamBandwidth)
	ss.downstreamLatency = params.readFloat(owner, "downstream-mac-latency", defaultDownstreamLatency)
	if !(ss.downstreamBandwidth > 0) {
		panic(fmt.Errorf("domain %s: downstream bandwidth %g must be positive", owner, ss.downstreamBandwidth))
	}

	count := params.readInt(owner, "upstream-count", defaultUpstreamCount)
	if count < 1 {
		panic(fmt.Errorf("domain %s: upstream count %d must be at least one", owner, count))
	}
	groupName := params.readString(owner, "upstream-group", defaultUpstreamGroup)
	ss.upstreams = acquireUpstreamGroup(dir, dmn, groupName, count)

	ss.stationUpstream = make(map[StationKey]int)
	for _, key := range dmn.members {
		if ss.isHeadend(key) {
			continue
		}
		st := dmn.stations[key]
		idx := 0
		if count > 1 {
			vs, present := st.params.lookup("uplink-channel")
			if !present {
				panic(fmt.Errorf("domain %s has %d upstream channels but station %s has no uplink-channel",
					owner, count, st.name))
			}
			idx = vs.intValue
		}
		if idx < 0 || idx >= ss.upstreams.Len() {
			panic(fmt.Errorf("station %s: uplink-channel %d outside [0,%d)", st.name, idx, ss.upstreams.Len()))
		}
		ss.stationUpstream[key] = idx
	}
	return ss
}

// acquireUpstreamGroup returns the named group of upstream channels, building
// and publishing it if no domain naming it has yet
func acquireUpstreamGroup(dir *Directory, dmn *Domain, groupName string, count int) *UpstreamGroup {
	key := upstreamGroupKey(groupName)
	published, present := dir.Get(key, GlobalScope(), Weak)
	if !present {
		bandwidths := make([]float64, count)
		latencies := make([]float64, count)
		for idx := 0; idx < count; idx++ {
			bandwidths[idx] = dmn.params.readFloat(dmn.name, instanceParam("upstream-bandwidth", idx),
				defaultUpstreamBandwidth)
			latencies[idx] = dmn.params.readFloat(dmn.name, instanceParam("upstream-mac-latency", idx),
				defaultUpstreamLatency)
		}
		candidate := createUpstreamGroup(groupName, bandwidths, latencies)
		if dir.PutImmutable(key, candidate, GlobalScope()) {
			return candidate
		}
		published, _ = dir.Get(key, GlobalScope(), Strong)
	}

	ug := published.(*UpstreamGroup)
	if ug.Len() != count {
		logrus.Warnf("domain %s: upstream group %s has %d channels, domain configures %d",
			dmn.name, groupName, ug.Len(), count)
	}
	return ug
}
