package ane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantFlowDelivers(t *testing.T) {
	desc := lanDesc("distributed", "", lanStations())
	desc.AddFlow(FlowDesc{Name: "ab", Src: "A", Dst: "10.0.0.2", Rate: 100, FrameSize: 968,
		Distribution: "const", Start: 0.001, Stop: 0.0505})
	net := buildNet(t, desc, lanParams(), NetworkOpts{})
	require.NoError(t, net.Run(0.2))

	b := stationNamed(t, net, "B")
	dlvs := net.Portal().Deliveries(b.Key())
	require.Len(t, dlvs, 5)
	for idx, dlv := range dlvs {
		assert.InDelta(t, 0.001+0.01*float64(idx)+0.048, dlv.Time, 1e-6)
		assert.Equal(t, stationNamed(t, net, "A").Address(), dlv.Src)
	}
	assert.Equal(t, "ab#1", string(dlvs[0].Payload))
	assert.Empty(t, net.Portal().Deliveries(stationNamed(t, net, "C").Key()))

	require.Len(t, net.Flows(), 1)
	assert.Equal(t, 5, net.Flows()[0].Generated())
}

func TestFlowParametersOverrideDescription(t *testing.T) {
	desc := lanDesc("distributed", "", lanStations())
	desc.AddFlow(FlowDesc{Name: "ab", Src: "A", Dst: "broadcast", Rate: 1, FrameSize: 100, Groups: []string{"g"}})
	expCfg := lanParams()
	require.NoError(t, expCfg.AddParameter("Flow", []AttrbStruct{{AttrbName: "group", AttrbValue: "g"}}, "rate", "50"))
	require.NoError(t, expCfg.AddParameter("Flow", []AttrbStruct{{AttrbName: "src", AttrbValue: "A"}}, "priority", "expedited"))
	require.NoError(t, expCfg.AddParameter("Flow", []AttrbStruct{{AttrbName: "name", AttrbValue: "ab"}}, "distribution", "const"))

	net := buildNet(t, desc, expCfg, NetworkOpts{})
	flw := net.Flows()[0]
	assert.Equal(t, 50.0, flw.Rate)
	assert.Equal(t, Expedited, flw.Priority)
	assert.Equal(t, "const", flw.Dist)
}

func TestFlowValidate(t *testing.T) {
	st := createStation("A", StationKey{Node: 1}, 0x0a000001, 24)
	valid := func() *Flow {
		flw := createFlow("f", st, AnyDest, CreateNetworkPortal())
		flw.Rate = 10
		flw.FrameSize = 100
		return flw
	}
	require.NoError(t, valid().validate())

	cases := map[string]func(*Flow){
		"rate":         func(flw *Flow) { flw.Rate = 0 },
		"frame size":   func(flw *Flow) { flw.FrameSize = 0 },
		"priority":     func(flw *Flow) { flw.Priority = invalidPriority },
		"interval":     func(flw *Flow) { flw.Start, flw.Stop = 2, 1 },
		"distribution": func(flw *Flow) { flw.Dist = "pareto" },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			flw := valid()
			modify(flw)
			assert.Error(t, flw.validate())
		})
	}
}

func TestBuildNetworkRejectsBadFlow(t *testing.T) {
	desc := lanDesc("distributed", "", lanStations())
	desc.AddFlow(FlowDesc{Name: "f", Src: "A", Dst: "broadcast", Rate: 0, FrameSize: 100})
	_, err := BuildNetwork(desc, lanParams(), NetworkOpts{})
	assert.ErrorContains(t, err, "rate 0 must be positive")
}

func TestInterarrivalSamplers(t *testing.T) {
	assert.Equal(t, 0.01, sampleConst(0.3, []float64{100}))
	assert.Equal(t, 0.0, sampleExpRV(0.0, []float64{100}))
	assert.InDelta(t, 0.00693147, sampleExpRV(0.5, []float64{100}), 1e-8)
	assert.Equal(t, 0.0123457, roundFloat(0.01234567, 7))
}

func TestFrameQueuePriorityOrder(t *testing.T) {
	fq := createFrameQueue()
	assert.Nil(t, fq.pop())

	bulk := CreateFrame(nil, 10)
	nominal1 := CreateFrame(nil, 10)
	expedited := CreateFrame(nil, 10)
	nominal2 := CreateFrame(nil, 10)
	fq.push(bulk, AnyDest, Bulk)
	fq.push(nominal1, AnyDest, Nominal)
	fq.push(expedited, AnyDest, Expedited)
	fq.push(nominal2, AnyDest, Nominal)
	assert.Equal(t, 4, fq.Len())

	for _, want := range []*Frame{expedited, nominal1, nominal2, bulk} {
		assert.Same(t, want, fq.pop().frame)
	}
	assert.Equal(t, 0, fq.Len())
}

func TestNetworkPortal(t *testing.T) {
	np := CreateNetworkPortal()
	a := StationKey{Node: 1}
	b := StationKey{Node: 2}
	np.addStation(a, 0x0a000001)
	np.addStation(b, 0x0a000002)
	assert.Panics(t, func() { np.addStation(a, 0x0a000001) })
	assert.Panics(t, func() { np.IsEmpty(StationKey{Node: 9}) })

	frame := CreateFrame([]byte("x"), 100)
	assert.Panics(t, func() { np.Enqueue(a, frame, 0x0a000002, invalidPriority) })

	assert.True(t, np.IsEmpty(a))
	np.Enqueue(a, frame, 0x0a000002, Nominal)
	assert.Equal(t, 1, np.QueueLen(a))

	got, dst, pri := np.Dequeue(a)
	assert.Same(t, frame, got)
	assert.Equal(t, Address(0x0a000002), dst)
	assert.Equal(t, Nominal, pri)
	got, _, _ = np.Dequeue(a)
	assert.Nil(t, got)

	frame.Arrived = 0.25
	np.DeliverUp(b, frame, 0x0a000001)
	np.Peek(a, frame, 0x0a000001, 0x0a000002)

	dlvs := np.Deliveries(b)
	require.Len(t, dlvs, 1)
	assert.Equal(t, 0.25, dlvs[0].Time)
	assert.Equal(t, Address(0x0a000002), dlvs[0].Dst)
	assert.Empty(t, np.Deliveries(a))
	require.Len(t, np.Peeks(a), 1)
	assert.True(t, np.Peeks(a)[0].Peeked)
	assert.Len(t, np.AllDeliveries(), 2)
}
