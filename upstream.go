package ane

// upstream.go holds the reservation timeline of a physical upstream channel.
// Stations contending for one upstream are served one at a time, and the
// slot remembers when the channel next becomes free.

import (
	"fmt"
	"math"
	"sync"
)

// UpstreamSlot is a single-server reservation timeline
type UpstreamSlot struct {
	mu sync.Mutex

	// absolute time at which the next caller may begin service.  Never decreases.
	firstAvailable float64

	bandwidth   float64 // bits/sec
	baseLatency float64 // seconds of media access latency on an idle channel
}

// createUpstreamSlot is a constructor
func createUpstreamSlot(bandwidth, baseLatency float64) *UpstreamSlot {
	if !(bandwidth > 0) {
		panic(fmt.Errorf("upstream bandwidth %g must be positive", bandwidth))
	}
	if baseLatency < 0 {
		panic(fmt.Errorf("upstream media access latency %g must be non-negative", baseLatency))
	}
	return &UpstreamSlot{bandwidth: bandwidth, baseLatency: baseLatency}
}

// Bandwidth returns the upstream rate in bits/sec
func (us *UpstreamSlot) Bandwidth() float64 {
	return us.bandwidth
}

// BaseLatency returns the idle-channel access latency
func (us *UpstreamSlot) BaseLatency() float64 {
	return us.baseLatency
}

// FirstAvailable returns the time the slot is reserved through
func (us *UpstreamSlot) FirstAvailable() float64 {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.firstAvailable
}

// AccessLatency returns the delay from now until the caller may start to
// transmit, and reserves the slot through the end of that delay
func (us *UpstreamSlot) AccessLatency(now float64) float64 {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.accessLatency(now)
}

func (us *UpstreamSlot) accessLatency(now float64) float64 {
	prior := math.Max(0.0, us.firstAvailable-now)
	us.lockUntil(now + prior + us.baseLatency)
	return us.baseLatency + prior
}

// LockUntil extends the reservation to at least t
func (us *UpstreamSlot) LockUntil(t float64) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.lockUntil(t)
}

func (us *UpstreamSlot) lockUntil(t float64) {
	us.firstAvailable = math.Max(us.firstAvailable, t)
}

// LockFor extends the reservation by dt, the serialization time of the
// frame whose access latency was just computed
func (us *UpstreamSlot) LockFor(dt float64) {
	if dt < 0 {
		panic(fmt.Errorf("upstream reservation extended by negative duration %g", dt))
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	us.firstAvailable += dt
}

// Reserve computes the access latency and serialization time of a frame of
// the given size and books both, as one step.  The returned start is relative to now.
func (us *UpstreamSlot) Reserve(now float64, bits int) (float64, float64) {
	us.mu.Lock()
	defer us.mu.Unlock()
	start := us.accessLatency(now)
	duration := float64(bits) / us.bandwidth
	us.firstAvailable += duration
	return start, duration
}

// UpstreamGroup is the set of upstream channels shared by the subnets that name it
type UpstreamGroup struct {
	Name  string
	slots []*UpstreamSlot
}

// createUpstreamGroup is a constructor.  bandwidths and latencies are indexed by upstream channel
func createUpstreamGroup(name string, bandwidths, latencies []float64) *UpstreamGroup {
	if len(bandwidths) == 0 || len(bandwidths) != len(latencies) {
		panic(fmt.Errorf("upstream group %s needs matching bandwidth and latency lists", name))
	}
	ug := &UpstreamGroup{Name: name, slots: make([]*UpstreamSlot, len(bandwidths))}
	for idx := range bandwidths {
		ug.slots[idx] = createUpstreamSlot(bandwidths[idx], latencies[idx])
	}
	return ug
}

// Len is the number of upstream channels
func (ug *UpstreamGroup) Len() int {
	return len(ug.slots)
}

// Slot returns the idx-th upstream channel
func (ug *UpstreamGroup) Slot(idx int) *UpstreamSlot {
	if idx < 0 || idx >= len(ug.slots) {
		panic(fmt.Errorf("upstream group %s has no channel %d", ug.Name, idx))
	}
	return ug.slots[idx]
}
