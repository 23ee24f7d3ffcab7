package ane

import (
	"fmt"
)

// ChannelModel computes the timing of a transmission on a domain and decides
// the fate of each copy.  Each station holds its own instance.
type ChannelModel interface {
	// TransmissionTime returns the delay until the frame may start and the
	// time to serialize it
	TransmissionTime(now float64, hdr *FrameHeader) (float64, float64)

	// DelayByNode returns the propagation delay to dst, or that the copy is lost
	DelayByNode(dst StationKey) (bool, float64)

	// NodeReadyTime is the extra time the sending station is held by its own conditioner
	NodeReadyTime(now float64, hdr *FrameHeader) float64

	// StationProcess decides whether a received frame is kept
	StationProcess(hdr *FrameHeader) bool

	ManagementRequest(req ManagementRequest) ManagementResponse
	HeaderSize() int
	Finalize()
}

// channelModelCode is the closed set of channel models
type channelModelCode int

const (
	defaultModel channelModelCode = iota
	satelliteModel
	unknownModel
)

const (
	defaultModelName   = "ane-default-mac"
	satelliteModelName = "ane-satellite"
)

func channelModelFromStr(name string) channelModelCode {
	switch name {
	case "", defaultModelName, "default", "ane_default_mac":
		return defaultModel
	case satelliteModelName, "satellite", "anesat":
		return satelliteModel
	}
	return unknownModel
}

func channelModelToStr(code channelModelCode) string {
	switch code {
	case defaultModel:
		return defaultModelName
	case satelliteModel:
		return satelliteModelName
	}
	return "unknown"
}

// ManagementOp is the vocabulary of run-time reconfiguration requests
type ManagementOp int

const (
	Unspecified ManagementOp = iota
	Echo
	SetBandwidthLimit
	SetGroupMembership
)

// ManagementResult is the outcome of a management request
type ManagementResult int

const (
	ManagementOK ManagementResult = iota
	ManagementUnsupported
)

func (res ManagementResult) String() string {
	if res == ManagementOK {
		return "OK"
	}
	return "Unsupported"
}

// ManagementRequest is a reconfiguration request addressed to one station
type ManagementRequest struct {
	Op    ManagementOp
	Value float64
}

// ManagementResponse answers a ManagementRequest
type ManagementResponse struct {
	Result ManagementResult
}

const (
	defaultHeaderSize       = 32     // bytes
	defaultBandwidth        = 1.0e6  // bits/sec
	defaultPropagationDelay = 0.040  // seconds
	minPropagationDelay     = 100e-6 // seconds, substituted for a negative delay
)

// DefaultChannelModel is a channel with fixed bandwidth and fixed delay
type DefaultChannelModel struct {
	bandwidth  float64
	delay      float64
	headerSize int

	// probability a received frame is lost, zero unless configured
	dropRatio float64
	st        *Station
}

// createDefaultChannelModel is a constructor.  Parameters come from the station's domain.
func createDefaultChannelModel(st *Station) *DefaultChannelModel {
	owner := st.domain.name
	cm := new(DefaultChannelModel)
	cm.st = st
	cm.bandwidth = st.domain.params.readFloat(owner, "bandwidth", defaultBandwidth)
	cm.delay = st.domain.params.readFloat(owner, "propagation-delay", defaultPropagationDelay)
	cm.headerSize = st.domain.params.readInt(owner, "header-size", defaultHeaderSize)
	if st.params.has("drop-ratio") {
		cm.dropRatio = st.params.readFloat(st.name, "drop-ratio", 0.0)
	}
	if !(cm.bandwidth > 0) {
		panic(fmt.Errorf("domain %s: bandwidth %g must be positive", owner, cm.bandwidth))
	}
	return cm
}

func (cm *DefaultChannelModel) TransmissionTime(now float64, hdr *FrameHeader) (float64, float64) {
	return 0.0, float64(hdr.bits()) / cm.bandwidth
}

func (cm *DefaultChannelModel) DelayByNode(dst StationKey) (bool, float64) {
	return false, cm.delay
}

func (cm *DefaultChannelModel) NodeReadyTime(now float64, hdr *FrameHeader) float64 {
	return 0.0
}

func (cm *DefaultChannelModel) StationProcess(hdr *FrameHeader) bool {
	return keepFrame(cm.st, cm.dropRatio)
}

func (cm *DefaultChannelModel) ManagementRequest(req ManagementRequest) ManagementResponse {
	if req.Op == Echo {
		return ManagementResponse{Result: ManagementOK}
	}
	return ManagementResponse{Result: ManagementUnsupported}
}

func (cm *DefaultChannelModel) HeaderSize() int {
	return cm.headerSize
}

func (cm *DefaultChannelModel) Finalize() {
	cm.st = nil
}

// keepFrame samples the station's stream against its loss probability
func keepFrame(st *Station, dropRatio float64) bool {
	if !(dropRatio > 0) {
		return true
	}
	return st.rng.RandU01() >= dropRatio
}

// createChannelModel builds the channel model selected for the station's domain
func createChannelModel(st *Station, dir *Directory) ChannelModel {
	switch st.domain.model {
	case defaultModel:
		return createDefaultChannelModel(st)
	case satelliteModel:
		return createSatelliteChannelModel(st, dir)
	}
	panic(fmt.Errorf("domain %s: unknown channel model", st.domain.name))
}
