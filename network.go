package ane

// network.go turns an ExperimentDesc and an optional ExpCfg of run-time
// parameters into a runnable Network: domains, stations assigned to
// partitions, channel models, interest registries and traffic sources.

import (
	"fmt"
	"io"

	"github.com/iti/evt/vrtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// NetworkOpts are the choices made by the caller of BuildNetwork
type NetworkOpts struct {
	// minimum delay between partitions; zero takes the description's value,
	// and DefaultLookahead if that is zero too
	Lookahead float64

	// nil or inactive disables tracing
	Trace *TraceManager

	// nil disables Prometheus metrics
	Registerer prometheus.Registerer

	// nil selects the network's own NetworkPortal
	Upper UpperLayer

	// warn on interest lookups for addresses never announced
	StrictInterest bool
}

// Network is a built experiment
type Network struct {
	Name string

	dir    *Directory
	kernel *Kernel

	// in description order
	domains []*Domain

	stations       map[StationKey]*Station
	stationsByName map[string]*Station

	upper   UpperLayer
	portal  *NetworkPortal
	metrics *MacCollector
	trace   *TraceManager
	flows   []*Flow
}

// GetExperimentDicts reads the experiment description and the optional
// run-time parameters named in syn, under the keys "desc" and "params"
func GetExperimentDicts(syn map[string]string) (*ExperimentDesc, *ExpCfg, error) {
	descFile, present := syn["desc"]
	if !present || descFile == "" {
		return nil, nil, fmt.Errorf("no experiment description named")
	}
	files := []string{descFile}
	if syn["params"] != "" {
		files = append(files, syn["params"])
	}
	if ok, err := CheckReadableFiles(files); !ok {
		return nil, nil, err
	}

	desc, err := ReadExperimentDesc(descFile, useYAMLFor(descFile), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", descFile, err)
	}

	var expCfg *ExpCfg
	if paramFile := syn["params"]; paramFile != "" {
		expCfg, err = ReadExpCfg(paramFile, useYAMLFor(paramFile), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", paramFile, err)
		}
	}
	return desc, expCfg, nil
}

// BuildNetwork creates the network described by desc.  Errors in the
// description are returned aggregated; configuration that the model cannot
// run with (an unknown channel model, a client-server domain without a
// headend, a centralized domain without an arbiter) panics.
func BuildNetwork(desc *ExperimentDesc, expCfg *ExpCfg, opts NetworkOpts) (*Network, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	lookahead := opts.Lookahead
	if !(lookahead > 0) {
		lookahead = desc.Lookahead
	}

	net := new(Network)
	net.Name = desc.Name
	net.dir = CreateDirectory()
	net.kernel = CreateKernel(lookahead)
	net.domains = make([]*Domain, 0, len(desc.Domains))
	net.stations = make(map[StationKey]*Station)
	net.stationsByName = make(map[string]*Station)
	net.portal = CreateNetworkPortal()
	net.upper = opts.Upper
	if net.upper == nil {
		net.upper = net.portal
	}
	net.trace = opts.Trace

	if opts.Registerer != nil {
		collector, err := NewMacCollector(opts.Registerer)
		if err != nil {
			return nil, err
		}
		net.metrics = collector
	}

	for idx := range desc.Domains {
		net.domains = append(net.domains, net.buildDomain(&desc.Domains[idx]))
	}
	net.assignNodeBroadcasts()

	if err := net.buildFlows(desc.Flows); err != nil {
		return nil, err
	}

	if err := applyParameters(expCfg, net.paramObjs()); err != nil {
		return nil, err
	}

	for _, dmn := range net.domains {
		for _, key := range dmn.members {
			st := dmn.stations[key]
			st.promiscuous = st.promiscuous || st.params.readBool("promiscuous")
			st.traced = !(dmn.params.has("trace") && !dmn.params.readBool("trace")) &&
				!(st.params.has("trace") && !st.params.readBool("trace"))

			net.dir.PutImmutable(stationStateKey(key), st, GlobalScope())
			net.dir.RegisterStation(st)
			if net.trace != nil {
				net.trace.AddName(traceID(key), st.name, "station")
			}
		}
	}

	// channel models read the parameters of every station of the domain
	for _, dmn := range net.domains {
		for _, key := range dmn.members {
			st := dmn.stations[key]
			st.channel = createChannelModel(st, net.dir)
		}
	}

	for _, dmn := range net.domains {
		if dmn.mode != centralized {
			continue
		}
		arbiter := dmn.stations[dmn.arbiter]
		arbiter.interests = createInterestRegistry(opts.StrictInterest)
		for _, key := range dmn.members {
			st := dmn.stations[key]
			st.ptn.evtMgr.Schedule(st, createMacMsg(publishNotifications), stationEventHandler,
				vrtime.SecondsToTime(0.0))
		}
	}

	errs := []error{}
	for _, flw := range net.flows {
		errs = append(errs, flw.validate())
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	for _, flw := range net.flows {
		flw.start()
	}

	logrus.Infof("network %s: %d domain(s), %d station(s), %d flow(s), %d partition(s)",
		net.Name, len(net.domains), len(net.stations), len(net.flows), net.kernel.NumPartitions())
	return net, nil
}

// buildDomain creates a domain and its stations
func (net *Network) buildDomain(dd *DomainDesc) *Domain {
	model := channelModelFromStr(dd.ChannelModel)
	if model == unknownModel {
		panic(fmt.Errorf("domain %s: unknown channel model %s", dd.Name, dd.ChannelModel))
	}
	dmn := createDomain(dd.Name, domainTypeFromStr(dd.Type), arbitrationModeFromStr(dd.Mode), model)
	dmn.groups = append(dmn.groups, dd.Groups...)

	for _, sd := range dd.Stations {
		addr, prefixLen, err := ParseInterfaceAddress(sd.Address)
		if err != nil {
			panic(fmt.Errorf("station %s: %w", sd.Name, err))
		}
		key := StationKey{Node: sd.Node, Intrfc: sd.Intrfc}
		st := createStation(sd.Name, key, addr, prefixLen)
		st.groups = append(st.groups, sd.Groups...)
		st.promiscuous = sd.Promiscuous
		st.net = net
		st.ptn = net.kernel.Partition(sd.Partition)
		dmn.addStation(st)

		net.stations[key] = st
		net.stationsByName[sd.Name] = st
		net.portal.addStation(key, addr)

		if sd.Name == dd.Headend {
			dmn.headend = key
			dmn.hasHeadend = true
			st.headend = true
		}
		if sd.Name == dd.Arbiter {
			dmn.arbiter = key
		}
	}

	if dmn.dtype == clientServer && !dmn.hasHeadend {
		panic(fmt.Errorf("client-server domain %s has no headend", dmn.name))
	}
	if dmn.mode == centralized {
		if dd.Arbiter == "" {
			panic(fmt.Errorf("centralized domain %s has no arbiter", dmn.name))
		}
		ptn := dmn.stations[dmn.arbiter].ptn
		for _, key := range dmn.members {
			if dmn.stations[key].ptn != ptn {
				panic(fmt.Errorf("centralized domain %s spans partitions %d and %d: the arbiter must share a partition with every member",
					dmn.name, ptn.id, dmn.stations[key].ptn.id))
			}
		}
	}
	return dmn
}

// assignNodeBroadcasts gives every station the subnet broadcast address of
// every interface on its node
func (net *Network) assignNodeBroadcasts() {
	byNode := make(map[int][]Address)
	for _, key := range sortedKeys(net.stations) {
		st := net.stations[key]
		bcast := subnetBroadcast(st.addr, st.prefixLen)
		found := false
		for _, known := range byNode[key.Node] {
			found = found || known == bcast
		}
		if !found {
			byNode[key.Node] = append(byNode[key.Node], bcast)
		}
	}
	for key, st := range net.stations {
		st.nodeBroadcasts = append([]Address{}, byNode[key.Node]...)
	}
}

func (net *Network) buildFlows(fds []FlowDesc) error {
	if len(fds) > 0 && net.upper != UpperLayer(net.portal) {
		return fmt.Errorf("network %s: flows need the network portal as upper layer", net.Name)
	}
	for _, fd := range fds {
		dst, err := parseFlowDst(fd.Dst)
		if err != nil {
			return fmt.Errorf("flow %s: %w", fd.Name, err)
		}
		flw := createFlow(fd.Name, net.stationsByName[fd.Src], dst, net.portal)
		flw.Rate = fd.Rate
		flw.FrameSize = fd.FrameSize
		flw.Priority = priorityFromStr(fd.Priority)
		if fd.Distribution != "" {
			flw.Dist = fd.Distribution
		}
		flw.Start = fd.Start
		flw.Stop = fd.Stop
		flw.Groups = append(flw.Groups, fd.Groups...)
		net.flows = append(net.flows, flw)
	}
	return nil
}

// paramObjs lists the run-time configurable objects by kind
func (net *Network) paramObjs() map[string][]paramObj {
	objs := map[string][]paramObj{"Domain": {}, "Station": {}, "Flow": {}}
	for _, dmn := range net.domains {
		objs["Domain"] = append(objs["Domain"], dmn)
		for _, key := range dmn.members {
			objs["Station"] = append(objs["Station"], dmn.stations[key])
		}
	}
	for _, flw := range net.flows {
		objs["Flow"] = append(objs["Flow"], flw)
	}
	return objs
}

// Station returns the station with the given key
func (net *Network) Station(key StationKey) (*Station, bool) {
	st, present := net.stations[key]
	return st, present
}

// StationByName returns the station configured with the given name
func (net *Network) StationByName(name string) (*Station, bool) {
	st, present := net.stationsByName[name]
	return st, present
}

// Domains returns the broadcast domains in description order
func (net *Network) Domains() []*Domain {
	return net.domains
}

// Portal returns the upper layer that traffic sources enqueue frames on
func (net *Network) Portal() *NetworkPortal {
	return net.portal
}

// Directory returns the shared directory of the run
func (net *Network) Directory() *Directory {
	return net.dir
}

// Kernel returns the partitions of the run
func (net *Network) Kernel() *Kernel {
	return net.kernel
}

// Metrics returns the Prometheus collector, nil if metrics are off
func (net *Network) Metrics() *MacCollector {
	return net.metrics
}

// Flows returns the traffic sources in description order
func (net *Network) Flows() []*Flow {
	return net.flows
}

// Run advances the simulation through time end
func (net *Network) Run(end float64) error {
	return net.kernel.Run(end)
}

// Finalize ends the run of every station and returns its counters.  When w
// is not nil a report of every station is written to it.
func (net *Network) Finalize(w io.Writer) map[StationKey]Statistics {
	results := make(map[StationKey]Statistics)
	for _, dmn := range net.domains {
		if w != nil {
			fmt.Fprintf(w, "domain %s (%s, %s, %s)\n", dmn.name, domainTypeToStr(dmn.dtype),
				arbitrationModeToStr(dmn.mode), channelModelToStr(dmn.model))
		}
		for _, key := range dmn.members {
			st := dmn.stations[key]
			stats := st.Finalize()
			results[key] = stats
			if w != nil {
				stats.writeReport(w, st.name, key)
			}
		}
	}
	return results
}
