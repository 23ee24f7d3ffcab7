package ane

// mac.go holds the transmission and reception pipeline of a station.
//
// A frame moves through these events
//
//	StationRequest -> RequestIndication (request handler) -> GrantIndication ->
//	StationDepart -> ChannelArrive (request handler) -> ChannelDepart (each recipient) ->
//	StationArrive -> StationProcess
//
// with TransmitterIdle following StationDepart at the sender.  The request
// handler is the sender itself in distributed mode and the domain's arbiter
// in centralized mode; nothing else differs between the two.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/sirupsen/logrus"
)

// UpperLayer is the protocol stack above the MAC
type UpperLayer interface {
	IsEmpty(station StationKey) bool
	Dequeue(station StationKey) (*Frame, Address, Priority)
	DeliverUp(station StationKey, frame *Frame, src Address)
	Peek(station StationKey, frame *Frame, src, dst Address)
}

// stationEventHandler is the evtm handler of every event scheduled on a station
func stationEventHandler(evtMgr *evtm.EventManager, context any, data any) any {
	st := context.(*Station)
	msg := data.(*macMsg)
	st.dispatch(msg)
	return nil
}

// dispatch runs the handler for the event's kind
func (st *Station) dispatch(msg *macMsg) {
	st.traceEvent(msg)

	switch msg.kind {
	case stationRequest:
		st.onStationRequest()
	case requestIndication:
		st.onRequestIndication(msg)
	case grantIndication:
		st.onGrantIndication(msg)
	case stationDepart:
		st.onStationDepart(msg)
	case transmitterIdle:
		st.onTransmitterIdle()
	case channelArrive:
		st.onChannelArrive(msg)
	case channelDepart:
		st.onChannelDepart(msg)
	case stationArrive:
		st.onStationArrive(msg)
	case stationProcess:
		st.onStationProcess(msg)
	case notifyInterest:
		st.onNotifyInterest(msg)
	case publishNotifications:
		st.onPublishNotifications()
	default:
		logrus.Warnf("%s: discarding unexpected event %s", st.key, msg.kind)
	}
}

// OnUpperLayerPacketReady is called by the upper layer after it enqueues a
// frame.  Transmission starts if the transmitter is idle.
func (st *Station) OnUpperLayerPacketReady() {
	if st.status != txIdle {
		return
	}
	if st.net.upper.IsEmpty(st.key) {
		return
	}
	st.send(st.key, createMacMsg(stationRequest), 0.0)
}

// ManagementRequest passes a reconfiguration request to the station's channel model
func (st *Station) ManagementRequest(req ManagementRequest) ManagementResponse {
	resp := st.channel.ManagementRequest(req)
	logrus.Debugf("%s: management request %d answered %s", st.key, req.Op, resp.Result)
	return resp
}

// TruncateReceive would cut short a frame being received.  The model has no
// partial receptions.
func (st *Station) TruncateReceive(frame *Frame) {
	panic(fmt.Errorf("%s: truncating the reception of frame %d is not supported", st.key, frame.ID))
}

// onStationRequest takes the next frame from the upper layer and asks the
// request handler for the channel
func (st *Station) onStationRequest() {
	if st.status != txIdle {
		panic(fmt.Errorf("%s: transmission requested while transmitter is %s", st.key, st.status))
	}
	if st.net.upper.IsEmpty(st.key) {
		return
	}

	frame, nextHop, pri := st.net.upper.Dequeue(st.key)
	if frame == nil {
		return
	}
	frame.Sent = st.now()
	frame.addHeader(&FrameHeader{
		Src:         st.addr,
		Dst:         nextHop,
		PayloadSize: frame.Size,
		HeaderSize:  st.channel.HeaderSize(),
		Origin:      st.key,
	})

	msg := createMacMsg(requestIndication)
	msg.req = createBandwidthRequest(st.key, pri, frame)
	st.status = txRequesting
	st.send(st.handlerKey(), msg, 0.0)
}

// onRequestIndication runs at the request handler.  The channel model
// decides when the requester may start and for how long it will transmit.
func (st *Station) onRequestIndication(msg *macMsg) {
	req := msg.req
	if !req.Priority.valid() {
		panic(fmt.Errorf("%s: bandwidth request from %s carries %s", st.key, req.Requester, req.Priority))
	}
	start, duration := st.channel.TransmissionTime(st.now(), req.frame.header())
	req.grant(start, duration)

	grant := createMacMsg(grantIndication)
	grant.req = req
	st.send(req.Requester, grant, 0.0)
}

// onGrantIndication schedules the departure of a granted frame
func (st *Station) onGrantIndication(msg *macMsg) {
	req := msg.req
	if !req.Processed || !req.Granted {
		panic(fmt.Errorf("%s: grant indication for frame %d that was not granted", st.key, req.frame.ID))
	}
	if st.status != txRequesting {
		panic(fmt.Errorf("%s: grant indication while transmitter is %s", st.key, st.status))
	}
	st.status = txGranted

	depart := createMacMsg(stationDepart)
	depart.req = req
	st.send(st.key, depart, req.Start)
}

// onStationDepart puts the frame on the channel
func (st *Station) onStationDepart(msg *macMsg) {
	if st.status == txActive {
		panic(fmt.Errorf("%s: departure while the transmitter is already active", st.key))
	}
	req := msg.req
	frame := req.frame

	st.status = txActive
	st.stats.Sent += 1
	st.net.metrics.frameSent(st)

	readyTime := st.channel.NodeReadyTime(st.now(), frame.header())

	arrive := createMacMsg(channelArrive)
	arrive.frame = frame
	arrive.req = req
	st.send(st.handlerKey(), arrive, 0.0)

	st.send(st.key, createMacMsg(transmitterIdle), math.Max(readyTime, req.Duration))
}

// onTransmitterIdle frees the transmitter and starts the next frame, if any
func (st *Station) onTransmitterIdle() {
	st.status = txIdle
	st.OnUpperLayerPacketReady()
}

// onChannelArrive runs at the request handler and replicates the frame to
// every station that should hear it.  On a client-server domain only the
// headend hears a remote station; every station may hear the headend.
func (st *Station) onChannelArrive(msg *macMsg) {
	frame := msg.frame
	hdr := frame.header()
	dmn := st.domain

	recipients := make([]StationKey, 0, len(dmn.members))
	if dmn.dtype == peerToPeer || dmn.isHeadend(hdr.Origin) {
		for _, key := range dmn.members {
			if key == hdr.Origin {
				continue
			}
			if st.recipientWants(key, hdr.Dst) {
				recipients = append(recipients, key)
			}
		}
	} else if dmn.headend != hdr.Origin {
		recipients = append(recipients, dmn.headend)
	}

	firstCopy := true
	for _, key := range recipients {
		dropped, delay := st.channel.DelayByNode(key)
		if dropped {
			continue
		}
		if delay < 0 {
			logrus.Warnf("%s: propagation delay %g to %s is negative, using %g",
				st.key, delay, key, minPropagationDelay)
			delay = minPropagationDelay
		}

		cp := frame.duplicate()
		cp.header().FirstCopy = firstCopy
		firstCopy = false

		st.stats.Forwarded += 1
		st.net.metrics.frameForwarded(st)

		depart := createMacMsg(channelDepart)
		depart.frame = cp
		st.send(key, depart, msg.req.Duration+delay)
	}
}

// recipientWants asks whether the station key wants a frame for dst.  A
// centralized arbiter answers from its registry; otherwise the station is
// found through the directory and asked directly.
func (st *Station) recipientWants(key StationKey, dst Address) bool {
	if st.domain.mode == centralized {
		return st.interests.IsInterested(key, dst)
	}

	remote, present := st.remote[key]
	if !present {
		value, _ := st.net.dir.Get(stationStateKey(key), GlobalScope(), Strong)
		remote = value.(*Station)
		st.remote[key] = remote
	}
	return remote.wantsFrameFor(dst)
}

// onChannelDepart is the last bit of a copy reaching its recipient
func (st *Station) onChannelDepart(msg *macMsg) {
	arrive := createMacMsg(stationArrive)
	arrive.frame = msg.frame
	st.send(st.key, arrive, 0.0)
}

func (st *Station) onStationArrive(msg *macMsg) {
	st.stats.Detected += 1

	process := createMacMsg(stationProcess)
	process.frame = msg.frame
	st.send(st.key, process, 0.0)
}

// onStationProcess applies the channel's keep test and then the delivery filter
func (st *Station) onStationProcess(msg *macMsg) {
	frame := msg.frame
	if !st.channel.StationProcess(frame.header()) {
		st.stats.Dropped += 1
		st.net.metrics.frameDropped(st)
		return
	}
	st.stats.Locked += 1

	hdr := frame.stripHeader()
	if st.acceptsAddress(hdr.Dst) {
		frame.Arrived = st.now()
		st.stats.Received += 1
		st.stats.addLatency(frame.Arrived - frame.Sent)
		st.net.metrics.frameReceived(st, frame.Arrived-frame.Sent)
		st.net.upper.DeliverUp(st.key, frame, hdr.Src)
		return
	}

	if st.promiscuous {
		frame.Arrived = st.now()
		st.stats.Peeked += 1
		st.net.metrics.framePeeked(st)
		st.net.upper.Peek(st.key, frame, hdr.Src, hdr.Dst)
	}
}

// onPublishNotifications announces the station's addresses to the arbiter
func (st *Station) onPublishNotifications() {
	if st.domain.mode != centralized {
		return
	}
	for _, addr := range st.interestAddresses() {
		note := createMacMsg(notifyInterest)
		note.note = &interestNote{station: st.key, addr: addr, interested: true}
		st.send(st.domain.arbiter, note, 0.0)
	}
	if st.promiscuous || st.headend {
		note := createMacMsg(notifyInterest)
		note.note = &interestNote{station: st.key, interested: true, allAddresses: true}
		st.send(st.domain.arbiter, note, 0.0)
	}
}

// onNotifyInterest records an announcement at the arbiter
func (st *Station) onNotifyInterest(msg *macMsg) {
	if st.interests == nil {
		logrus.Warnf("%s: interest notification from %s reached a station that does not arbitrate",
			st.key, msg.note.station)
		return
	}
	note := msg.note
	if note.allAddresses {
		st.interests.NotifyInterestInAll(note.station, note.interested)
		return
	}
	st.interests.NotifyInterest(note.station, note.addr, note.interested)
}

// Finalize ends the station's participation in the run and returns its counters
func (st *Station) Finalize() Statistics {
	if st.channel != nil {
		st.channel.Finalize()
	}
	st.net.dir.DeregisterStation(st.key)
	return st.stats.clone()
}

func (st *Station) traceEvent(msg *macMsg) {
	if !st.traced || st.net.trace == nil || !st.net.trace.Active() {
		return
	}
	addMacTrace(st.net.trace, st.ptn.evtMgr.CurrentTime(), st, msg)
}
