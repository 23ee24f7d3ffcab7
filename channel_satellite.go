package ane

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SatelliteChannelModel is an asymmetric channel.  Remote stations contend
// for upstream channels held in the domain's SubnetState; the headend sends
// on a dedicated downstream.
type SatelliteChannelModel struct {
	subnet     *SubnetState
	st         *Station
	headerSize int
	dropRatio  float64

	// nil for the headend and for stations configured without one
	conditioner TrafficConditioner
}

// createSatelliteChannelModel is a constructor
func createSatelliteChannelModel(st *Station, dir *Directory) *SatelliteChannelModel {
	dmn := st.domain
	if dmn.subnet == nil {
		dmn.subnet = acquireSubnetState(dir, dmn)
	}

	cm := new(SatelliteChannelModel)
	cm.st = st
	cm.subnet = dmn.subnet
	cm.headerSize = dmn.params.readInt(dmn.name, "header-size", defaultHeaderSize)
	if st.params.has("drop-ratio") {
		cm.dropRatio = st.params.readFloat(st.name, "drop-ratio", 0.0)
	}

	if !cm.subnet.isHeadend(st.key) {
		codeName := "none"
		if st.params.has("traffic-conditioning") {
			codeName = st.params.readString(st.name, "traffic-conditioning", "none")
		}
		code := conditionerFromStr(codeName)
		if code == unknownConditioner {
			panic(fmt.Errorf("station %s: unknown traffic conditioning %s", st.name, codeName))
		}
		if code != noConditioner {
			limit := st.params.readFloat(st.name, "bandwidth-limit", defaultBandwidthLimit)
			minimum := st.params.readFloat(st.name, "bandwidth-minimum", defaultBandwidthMinimum)
			cm.conditioner = createConditioner(code, limit, minimum)
		}
	}
	return cm
}

// TransmissionTime books the requester's channel: the start is the media
// access latency and the duration is the serialization time on that channel
func (cm *SatelliteChannelModel) TransmissionTime(now float64, hdr *FrameHeader) (float64, float64) {
	start, duration := cm.subnet.Reserve(hdr.Origin, now, hdr.bits())
	logrus.Debugf("%s: %s reserved upstream at %g for %g after %g",
		cm.subnet.name, hdr.Origin, now, duration, start)
	return start, duration
}

func (cm *SatelliteChannelModel) DelayByNode(dst StationKey) (bool, float64) {
	return false, cm.subnet.PropagationLatency()
}

// NodeReadyTime is the time the station's conditioner needs to pass the frame
func (cm *SatelliteChannelModel) NodeReadyTime(now float64, hdr *FrameHeader) float64 {
	if cm.conditioner == nil {
		return 0.0
	}
	bits := hdr.bits()
	available := cm.conditioner.BandwidthAvailable(now)
	if !(available > 0) {
		panic(fmt.Errorf("station %s: traffic conditioner offers bandwidth %g", cm.st.name, available))
	}
	ready := float64(bits) / available
	cm.conditioner.ReportBitsSent(bits)
	return ready
}

func (cm *SatelliteChannelModel) StationProcess(hdr *FrameHeader) bool {
	return keepFrame(cm.st, cm.dropRatio)
}

func (cm *SatelliteChannelModel) ManagementRequest(req ManagementRequest) ManagementResponse {
	switch req.Op {
	case Echo:
		return ManagementResponse{Result: ManagementOK}
	case SetBandwidthLimit:
		if _, strict := cm.conditioner.(*StrictConditioner); strict {
			setConditionerLimit(cm.conditioner, req.Value)
			return ManagementResponse{Result: ManagementOK}
		}
	}
	return ManagementResponse{Result: ManagementUnsupported}
}

func (cm *SatelliteChannelModel) HeaderSize() int {
	return cm.headerSize
}

// Finalize drops the station's reference to the shared subnet state
func (cm *SatelliteChannelModel) Finalize() {
	cm.subnet = nil
	cm.conditioner = nil
	cm.st = nil
}

// Conditioner exposes the station's traffic conditioner, nil if none
func (cm *SatelliteChannelModel) Conditioner() TrafficConditioner {
	return cm.conditioner
}
