package ane

import "fmt"

// eventKind enumerates the events of the MAC pipeline
type eventKind int

const (
	stationDepart eventKind = iota + 1
	channelArrive
	channelDepart
	stationArrive
	stationProcess
	transmitterIdle
	grantIndication
	stationRequest
	requestIndication
	notifyInterest
	publishNotifications
)

var eventKindToStr = map[eventKind]string{
	stationDepart:        "StationDepart",
	channelArrive:        "ChannelArrive",
	channelDepart:        "ChannelDepart",
	stationArrive:        "StationArrive",
	stationProcess:       "StationProcess",
	transmitterIdle:      "TransmitterIdle",
	grantIndication:      "GrantIndication",
	stationRequest:       "StationRequest",
	requestIndication:    "RequestIndication",
	notifyInterest:       "NotifyInterest",
	publishNotifications: "PublishNotifications",
}

func (kind eventKind) String() string {
	name, present := eventKindToStr[kind]
	if present {
		return name
	}
	return fmt.Sprintf("event(%d)", int(kind))
}

// interestNote is the body of a NotifyInterest event
type interestNote struct {
	station    StationKey
	addr       Address
	interested bool

	// the station wants every frame regardless of destination
	allAddresses bool
}

// macMsg is the data carried by every event scheduled on a station
type macMsg struct {
	kind  eventKind
	frame *Frame
	req   *BandwidthRequest
	note  *interestNote
}

func createMacMsg(kind eventKind) *macMsg {
	return &macMsg{kind: kind}
}

func (msg *macMsg) frameID() int {
	switch {
	case msg.frame != nil:
		return msg.frame.ID
	case msg.req != nil && msg.req.frame != nil:
		return msg.req.frame.ID
	}
	return 0
}
