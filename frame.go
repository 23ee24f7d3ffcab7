package ane

import (
	"fmt"
	"sync/atomic"
)

// Priority of a frame, as given by the upper layer
type Priority int

const (
	Nominal Priority = iota
	Expedited
	Bulk
	invalidPriority
)

// priorityFromStr maps a configuration string to a Priority
func priorityFromStr(name string) Priority {
	switch name {
	case "", "nominal", "Nominal":
		return Nominal
	case "expedited", "Expedited":
		return Expedited
	case "bulk", "Bulk":
		return Bulk
	}
	return invalidPriority
}

func (pri Priority) String() string {
	switch pri {
	case Nominal:
		return "nominal"
	case Expedited:
		return "expedited"
	case Bulk:
		return "bulk"
	}
	return fmt.Sprintf("priority(%d)", int(pri))
}

func (pri Priority) valid() bool {
	return pri == Nominal || pri == Expedited || pri == Bulk
}

// rank orders priorities for queueing, smaller first
func (pri Priority) rank() int {
	switch pri {
	case Expedited:
		return 0
	case Nominal:
		return 1
	}
	return 2
}

// FrameHeader is the envelope the MAC wraps around a payload while the
// frame is in the channel
type FrameHeader struct {
	Src         Address
	Dst         Address
	PayloadSize int // bytes
	HeaderSize  int // bytes
	Origin      StationKey

	// set on exactly one of the copies produced by one fan-out
	FirstCopy bool
}

// bits is the number of bits clocked onto the channel
func (hdr *FrameHeader) bits() int {
	return 8 * (hdr.PayloadSize + hdr.HeaderSize)
}

// Frame is a payload handed down by the upper layer.  The payload bytes are
// never modified once the frame is created; copies made for fan-out share them.
type Frame struct {
	ID      int
	Payload []byte
	Size    int // bytes, may exceed len(Payload) for synthetic traffic

	Sent    float64 // time the frame was taken from the upper layer queue
	Arrived float64 // time the frame was accepted at a receiver

	hdr *FrameHeader
}

// frame ids are drawn by every partition
var nxtFrameID atomic.Int64

// CreateFrame is a constructor.  A size smaller than the payload is raised to it.
func CreateFrame(payload []byte, size int) *Frame {
	if size < len(payload) {
		size = len(payload)
	}
	return &Frame{ID: int(nxtFrameID.Add(1)), Payload: payload, Size: size}
}

func (frame *Frame) addHeader(hdr *FrameHeader) {
	if frame.hdr != nil {
		panic(fmt.Errorf("frame %d already carries an envelope header", frame.ID))
	}
	frame.hdr = hdr
}

func (frame *Frame) header() *FrameHeader {
	if frame.hdr == nil {
		panic(fmt.Errorf("frame %d has no envelope header", frame.ID))
	}
	return frame.hdr
}

func (frame *Frame) stripHeader() *FrameHeader {
	hdr := frame.header()
	frame.hdr = nil
	return hdr
}

// duplicate copies the frame and its header, sharing the payload
func (frame *Frame) duplicate() *Frame {
	cp := *frame
	if frame.hdr != nil {
		hdrCopy := *frame.hdr
		cp.hdr = &hdrCopy
	}
	return &cp
}

// BandwidthRequest asks the request handler for the right to transmit one frame
type BandwidthRequest struct {
	Requester StationKey
	Priority  Priority
	Bits      int

	// relative to the time of the grant
	Start    float64
	Duration float64

	Processed bool
	Granted   bool

	frame *Frame
}

// createBandwidthRequest is a constructor
func createBandwidthRequest(requester StationKey, pri Priority, frame *Frame) *BandwidthRequest {
	return &BandwidthRequest{Requester: requester, Priority: pri, Bits: frame.header().bits(), frame: frame}
}

func (req *BandwidthRequest) grant(start, duration float64) {
	req.Processed = true
	req.Granted = true
	req.Start = start
	req.Duration = duration
}
