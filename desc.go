package ane

// desc.go holds the serializable description of an experiment: its broadcast
// domains, the stations attached to them, and the flows offering traffic.
// A description is built programmatically or read from yaml or json, and is
// turned into a runnable Network by BuildNetwork.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StationDesc describes one interface attached to a broadcast domain
type StationDesc struct {
	Name   string `json:"name" yaml:"name"`
	Node   int    `json:"node" yaml:"node"`
	Intrfc int    `json:"intrfc" yaml:"intrfc"`

	// "a.b.c.d/n"; a bare address is given a /24 subnet
	Address string `json:"address" yaml:"address"`

	// partition whose event manager runs this station
	Partition int `json:"partition" yaml:"partition"`

	Promiscuous bool     `json:"promiscuous" yaml:"promiscuous"`
	Groups      []string `json:"groups" yaml:"groups"`
}

// DomainDesc describes a broadcast domain
type DomainDesc struct {
	Name         string        `json:"name" yaml:"name"`
	Type         string        `json:"type" yaml:"type"`                 // "peer-to-peer" or "client-server"
	Mode         string        `json:"mode" yaml:"mode"`                 // "distributed" or "centralized"
	ChannelModel string        `json:"channelmodel" yaml:"channelmodel"` // "ane-default-mac" or "ane-satellite"
	Headend      string        `json:"headend,omitempty" yaml:"headend"` // station name, client-server only
	Arbiter      string        `json:"arbiter,omitempty" yaml:"arbiter"` // station name, centralized only
	Groups       []string      `json:"groups" yaml:"groups"`
	Stations     []StationDesc `json:"stations" yaml:"stations"`
}

// FlowDesc describes a traffic source at a station
type FlowDesc struct {
	Name string `json:"name" yaml:"name"`
	Src  string `json:"src" yaml:"src"` // station name

	// destination address, or "broadcast"
	Dst string `json:"dst" yaml:"dst"`

	Rate         float64  `json:"rate" yaml:"rate"`           // frames per second
	FrameSize    int      `json:"framesize" yaml:"framesize"` // bytes
	Priority     string   `json:"priority" yaml:"priority"`
	Distribution string   `json:"distribution" yaml:"distribution"`
	Start        float64  `json:"start" yaml:"start"`
	Stop         float64  `json:"stop" yaml:"stop"`
	Groups       []string `json:"groups" yaml:"groups"`
}

// ExperimentDesc is the complete description of a simulated network
type ExperimentDesc struct {
	Name      string       `json:"name" yaml:"name"`
	Lookahead float64      `json:"lookahead" yaml:"lookahead"`
	Domains   []DomainDesc `json:"domains" yaml:"domains"`
	Flows     []FlowDesc   `json:"flows" yaml:"flows"`
}

// CreateExperimentDesc is a constructor
func CreateExperimentDesc(name string) *ExperimentDesc {
	return &ExperimentDesc{Name: name, Domains: []DomainDesc{}, Flows: []FlowDesc{}}
}

// CreateDomainDesc is a constructor
func CreateDomainDesc(name, dtype, mode, model string) *DomainDesc {
	return &DomainDesc{Name: name, Type: dtype, Mode: mode, ChannelModel: model,
		Groups: []string{}, Stations: []StationDesc{}}
}

// AddStation attaches a station to the domain.  Names and (node, interface)
// pairs must be unique within the domain.
func (dd *DomainDesc) AddStation(name string, node, intrfc int, addr string) (*StationDesc, error) {
	for _, sd := range dd.Stations {
		if sd.Name == name {
			return nil, fmt.Errorf("domain %s already has a station named %s", dd.Name, name)
		}
		if sd.Node == node && sd.Intrfc == intrfc {
			return nil, fmt.Errorf("domain %s already has a station at node %d interface %d", dd.Name, node, intrfc)
		}
	}
	dd.Stations = append(dd.Stations, StationDesc{Name: name, Node: node, Intrfc: intrfc,
		Address: addr, Groups: []string{}})
	return &dd.Stations[len(dd.Stations)-1], nil
}

// AddDomain appends a copy of the domain description
func (ed *ExperimentDesc) AddDomain(dd *DomainDesc) {
	ed.Domains = append(ed.Domains, *dd)
}

// AddFlow appends a flow offering frames from the named station
func (ed *ExperimentDesc) AddFlow(fd FlowDesc) {
	if fd.Groups == nil {
		fd.Groups = []string{}
	}
	ed.Flows = append(ed.Flows, fd)
}

// WriteToFile stores the ExperimentDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (ed *ExperimentDesc) WriteToFile(filename string) error {
	return writeDescFile(filename, *ed)
}

// ReadExperimentDesc deserializes a byte slice holding a representation of an ExperimentDesc.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadExperimentDesc(filename string, useYAML bool, dict []byte) (*ExperimentDesc, error) {
	var err error
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if serr != nil || fileInfo.IsDir() {
			return nil, fmt.Errorf("experiment description %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExperimentDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// Validate checks the description for errors that can be reported without
// building the network, and returns them aggregated
func (ed *ExperimentDesc) Validate() error {
	errs := []error{}
	stationNames := make(map[string]bool)
	keys := make(map[StationKey]string)
	domainNames := make(map[string]bool)

	for _, dd := range ed.Domains {
		if domainNames[dd.Name] {
			errs = append(errs, fmt.Errorf("domain name %s is used more than once", dd.Name))
		}
		domainNames[dd.Name] = true

		if domainTypeFromStr(dd.Type) == unknownDomainType {
			errs = append(errs, fmt.Errorf("domain %s: unrecognized type %s", dd.Name, dd.Type))
		}
		if arbitrationModeFromStr(dd.Mode) == unknownMode {
			errs = append(errs, fmt.Errorf("domain %s: unrecognized mode %s", dd.Name, dd.Mode))
		}
		if len(dd.Stations) == 0 {
			errs = append(errs, fmt.Errorf("domain %s has no stations", dd.Name))
		}

		for _, sd := range dd.Stations {
			if stationNames[sd.Name] {
				errs = append(errs, fmt.Errorf("station name %s is used more than once", sd.Name))
			}
			stationNames[sd.Name] = true

			key := StationKey{Node: sd.Node, Intrfc: sd.Intrfc}
			if other, present := keys[key]; present {
				errs = append(errs, fmt.Errorf("stations %s and %s are both %s", other, sd.Name, key))
			}
			keys[key] = sd.Name

			if _, _, err := ParseInterfaceAddress(sd.Address); err != nil {
				errs = append(errs, fmt.Errorf("station %s: %w", sd.Name, err))
			}
			if sd.Partition < 0 {
				errs = append(errs, fmt.Errorf("station %s: partition %d is negative", sd.Name, sd.Partition))
			}
		}

		if dd.Headend != "" && !dd.hasStation(dd.Headend) {
			errs = append(errs, fmt.Errorf("domain %s: headend %s is not attached to it", dd.Name, dd.Headend))
		}
		if dd.Arbiter != "" && !dd.hasStation(dd.Arbiter) {
			errs = append(errs, fmt.Errorf("domain %s: arbiter %s is not attached to it", dd.Name, dd.Arbiter))
		}
	}

	flowNames := make(map[string]bool)
	for _, fd := range ed.Flows {
		if flowNames[fd.Name] {
			errs = append(errs, fmt.Errorf("flow name %s is used more than once", fd.Name))
		}
		flowNames[fd.Name] = true
		if !stationNames[fd.Src] {
			errs = append(errs, fmt.Errorf("flow %s: source %s is not a station", fd.Name, fd.Src))
		}
		if _, err := parseFlowDst(fd.Dst); err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", fd.Name, err))
		}
		if priorityFromStr(fd.Priority) == invalidPriority {
			errs = append(errs, fmt.Errorf("flow %s: unrecognized priority %s", fd.Name, fd.Priority))
		}
	}
	return ReportErrs(errs)
}

func (dd *DomainDesc) hasStation(name string) bool {
	for _, sd := range dd.Stations {
		if sd.Name == name {
			return true
		}
	}
	return false
}

// parseFlowDst interprets a flow destination
func parseFlowDst(dst string) (Address, error) {
	switch dst {
	case "broadcast", "any", "*":
		return AnyDest, nil
	}
	return ParseAddress(dst)
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}
	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if directory == "" {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
			continue
		}
		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
