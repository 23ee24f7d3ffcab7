package ane

// partition.go runs groups of stations in parallel.  Each Partition owns an
// evtm.EventManager and is driven by its own goroutine.  Partitions advance
// in windows of one lookahead: a message between partitions must be sent with
// at least that much delay, so a message sent inside a window is never due
// before the next window begins.  At every window boundary the partitions
// meet at a barrier and move the messages posted to them onto their own event lists.

import (
	"fmt"
	"sync"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"golang.org/x/exp/slices"
)

// delays are scheduled at a resolution of 100ns
var delayDigits uint = 7

// DefaultLookahead is the smallest delay of a message between partitions
const DefaultLookahead = 100e-6

// crossMsg is an event posted to a station of another partition
type crossMsg struct {
	at  float64 // absolute time
	src StationKey
	seq int
	dst *Station
	msg *macMsg
}

// Partition is a set of stations whose events are processed in time order by one goroutine
type Partition struct {
	id     int
	evtMgr *evtm.EventManager
	kernel *Kernel

	// messages posted by other partitions, guarded by mu
	mu      sync.Mutex
	mailbox []crossMsg

	// sequence numbers of messages this partition posts
	posted int
}

// ID returns the partition number
func (p *Partition) ID() int {
	return p.id
}

// EventManager returns the partition's event manager
func (p *Partition) EventManager() *evtm.EventManager {
	return p.evtMgr
}

func (p *Partition) post(cm crossMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mailbox = append(p.mailbox, cm)
}

// drainMailbox schedules every posted message.  Messages are ordered by
// time, then sender, then the sender's sequence, so that the order in which
// partitions happened to post them does not matter.
func (p *Partition) drainMailbox() {
	p.mu.Lock()
	pending := p.mailbox
	p.mailbox = nil
	p.mu.Unlock()

	slices.SortFunc(pending, func(a, b crossMsg) int {
		switch {
		case a.at < b.at:
			return -1
		case a.at > b.at:
			return 1
		case a.src.Node != b.src.Node:
			return a.src.Node - b.src.Node
		case a.src.Intrfc != b.src.Intrfc:
			return a.src.Intrfc - b.src.Intrfc
		}
		return a.seq - b.seq
	})

	now := p.evtMgr.CurrentSeconds()
	for _, cm := range pending {
		offset := roundFloat(cm.at-now, delayDigits)
		if offset < 0 {
			panic(fmt.Errorf("partition %d: message for %s due at %g drained at %g",
				p.id, cm.dst.key, cm.at, now))
		}
		p.evtMgr.Schedule(cm.dst, cm.msg, stationEventHandler, vrtime.SecondsToTime(offset))
	}
}

// windowBoundary is the self-rescheduling event marking the end of a window
func windowBoundary(evtMgr *evtm.EventManager, context any, data any) any {
	p := context.(*Partition)
	k := p.kernel
	if err := k.barrier.await(); err != nil {
		panic(err)
	}
	p.drainMailbox()

	if evtMgr.CurrentSeconds()+k.lookahead < k.end {
		evtMgr.Schedule(p, nil, windowBoundary, vrtime.SecondsToTime(k.lookahead))
	}
	return nil
}

// run processes the partition's events through end.  A panic aborts the
// barrier so the other partitions do not wait for this one.
func (p *Partition) run(end float64) {
	defer func() {
		if r := recover(); r != nil {
			if p.kernel.barrier != nil {
				p.kernel.barrier.abort(fmt.Errorf("partition %d: %v", p.id, r))
			}
			panic(r)
		}
	}()
	p.evtMgr.Run(end)
}

// windowBarrier is a reusable barrier that can be broken
type windowBarrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation int
	err        error
}

func createWindowBarrier(parties int) *windowBarrier {
	b := &windowBarrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// await blocks until every party has arrived, or the barrier is aborted
func (b *windowBarrier) await() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	gen := b.generation
	b.waiting += 1
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation += 1
		b.cond.Broadcast()
		return nil
	}
	for gen == b.generation && b.err == nil {
		b.cond.Wait()
	}
	if gen == b.generation {
		return b.err
	}
	return nil
}

func (b *windowBarrier) abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

// Kernel holds the partitions of a run
type Kernel struct {
	partitions map[int]*Partition
	lookahead  float64
	end        float64
	barrier    *windowBarrier
}

// CreateKernel is a constructor.  A non-positive lookahead selects DefaultLookahead.
func CreateKernel(lookahead float64) *Kernel {
	if !(lookahead > 0) {
		lookahead = DefaultLookahead
	}
	return &Kernel{partitions: make(map[int]*Partition), lookahead: lookahead}
}

// Lookahead returns the minimum delay of a message between partitions
func (k *Kernel) Lookahead() float64 {
	return k.lookahead
}

// Partition returns partition id, creating it on first reference
func (k *Kernel) Partition(id int) *Partition {
	p, present := k.partitions[id]
	if !present {
		p = &Partition{id: id, evtMgr: evtm.New(), kernel: k}
		k.partitions[id] = p
	}
	return p
}

// NumPartitions is the number of partitions created
func (k *Kernel) NumPartitions() int {
	return len(k.partitions)
}

// Run drives every partition through simulation time end.  A panic in any
// partition stops the run and is returned as an error.
func (k *Kernel) Run(end float64) error {
	k.end = end
	ids := make([]int, 0, len(k.partitions))
	for id := range k.partitions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if len(ids) > 1 {
		k.barrier = createWindowBarrier(len(ids))
		if k.lookahead < end {
			for _, id := range ids {
				p := k.partitions[id]
				p.evtMgr.Schedule(p, nil, windowBoundary, vrtime.SecondsToTime(k.lookahead))
			}
		}
	}
	logrus.Infof("running %d partition(s) to %g with lookahead %g", len(ids), end, k.lookahead)

	var wg conc.WaitGroup
	for _, id := range ids {
		p := k.partitions[id]
		wg.Go(func() { p.run(end) })
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		return recovered.AsError()
	}
	return nil
}

// send delivers msg to the station dst after delay.  A zero delay to the
// sending station itself is a direct call; everything else is an event.
func (st *Station) send(dst StationKey, msg *macMsg, delay float64) {
	delay = roundFloat(delay, delayDigits)
	if delay < 0 {
		panic(fmt.Errorf("%s: %s scheduled with negative delay %g", st.key, msg.kind, delay))
	}
	if dst == st.key && delay == 0 {
		st.dispatch(msg)
		return
	}

	target, present := st.net.stations[dst]
	if !present {
		panic(fmt.Errorf("%s: %s addressed to unknown station %s", st.key, msg.kind, dst))
	}

	if target.ptn == st.ptn {
		st.ptn.evtMgr.Schedule(target, msg, stationEventHandler, vrtime.SecondsToTime(delay))
		return
	}

	k := st.ptn.kernel
	if delay < k.lookahead {
		panic(fmt.Errorf("%s: %s to %s in partition %d has delay %g below lookahead %g",
			st.key, msg.kind, dst, target.ptn.id, delay, k.lookahead))
	}
	st.ptn.posted += 1
	target.ptn.post(crossMsg{at: st.now() + delay, src: st.key, seq: st.ptn.posted, dst: target, msg: msg})
}
