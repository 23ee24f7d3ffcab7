package ane

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEveryOtherStation(t *testing.T) {
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")

	// 968 bytes of payload and 32 of header is 8000 bits, 8 ms at 1 Mbit/s
	frame := injectFrame(net, a, 0.0, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	for _, name := range []string{"B", "C"} {
		st := stationNamed(t, net, name)
		delivered := net.Portal().Deliveries(st.Key())
		require.Len(t, delivered, 1, "station %s", name)
		assert.InDelta(t, 0.048, delivered[0].Time, 1e-6)
		assert.Equal(t, frame.ID, delivered[0].FrameID)
		assert.Equal(t, a.Address(), delivered[0].Src)
		assert.Equal(t, []byte("A"), delivered[0].Payload)
	}
	assert.Empty(t, net.Portal().Deliveries(a.Key()))

	stats := net.Finalize(nil)
	assert.Equal(t, 1, stats[a.Key()].Sent)
	assert.Equal(t, 2, stats[a.Key()].Forwarded)
	assert.Equal(t, 0, stats[a.Key()].Received)
	for _, name := range []string{"B", "C"} {
		key := stationNamed(t, net, name).Key()
		assert.Equal(t, 1, stats[key].Received)
		assert.Equal(t, 1, stats[key].Detected)
		assert.Equal(t, 1, stats[key].Locked)
		mean, _ := stats[key].Latency()
		assert.InDelta(t, 0.048, mean, 1e-6)
	}
}

func TestUnicastSkipsUninterestedStations(t *testing.T) {
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")
	b := stationNamed(t, net, "B")
	c := stationNamed(t, net, "C")

	injectFrame(net, a, 0.0, b.Address(), 968)
	require.NoError(t, net.Run(1.0))

	assert.Len(t, net.Portal().Deliveries(b.Key()), 1)
	assert.Empty(t, net.Portal().Deliveries(c.Key()))
	assert.Equal(t, 0, c.Stats().Detected, "no copy is made for a station that does not want it")
	assert.Equal(t, 1, a.Stats().Forwarded)
}

func TestBackToBackFramesQueue(t *testing.T) {
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")
	b := stationNamed(t, net, "B")

	injectFrame(net, a, 0.0, AnyDest, 968)
	injectFrame(net, a, 0.0, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	delivered := net.Portal().Deliveries(b.Key())
	require.Len(t, delivered, 2)
	assert.InDelta(t, 0.048, delivered[0].Time, 1e-6)

	// the second frame waits for the transmitter to go idle at 8 ms
	assert.InDelta(t, 0.056, delivered[1].Time, 1e-6)
	assert.Equal(t, txIdle, a.status)
}

func TestPromiscuousStationPeeks(t *testing.T) {
	for _, mode := range []string{"distributed", "centralized"} {
		t.Run(mode, func(t *testing.T) {
			specs := append(lanStations(), stationSpec{name: "D", node: 4, addr: "10.0.0.4/24", promiscuous: true})
			arbiter := ""
			if mode == "centralized" {
				arbiter = "C"
			}
			net := buildNet(t, lanDesc(mode, arbiter, specs), lanParams(), NetworkOpts{})
			a := stationNamed(t, net, "A")
			b := stationNamed(t, net, "B")
			d := stationNamed(t, net, "D")

			injectFrame(net, a, 0.001, b.Address(), 968)
			require.NoError(t, net.Run(1.0))

			assert.Len(t, net.Portal().Deliveries(b.Key()), 1)
			assert.Empty(t, net.Portal().Deliveries(d.Key()))

			peeks := net.Portal().Peeks(d.Key())
			require.Len(t, peeks, 1)
			assert.Equal(t, b.Address(), peeks[0].Dst)
			assert.Equal(t, a.Address(), peeks[0].Src)

			stats := d.Stats()
			assert.Equal(t, 0, stats.Received)
			assert.Equal(t, 1, stats.Locked)
			assert.Equal(t, 1, stats.Peeked)
		})
	}
}

// deliveryTuple is what an upper layer can observe of one delivery
type deliveryTuple struct {
	station string
	time    float64
	payload string
}

func TestCentralizedMatchesDistributed(t *testing.T) {
	type traffic struct {
		src, dst string // dst "" is the global broadcast
		at       float64
		size     int
	}
	cases := []struct {
		name      string
		desc      func(mode, arbiter string) *ExperimentDesc
		params    func() *ExpCfg
		arbiter   string
		stations  []string
		traffic   []traffic
		perSource map[string]int
	}{
		{
			name:     "default model",
			desc:     func(mode, arbiter string) *ExperimentDesc { return lanDesc(mode, arbiter, lanStations()) },
			params:   lanParams,
			arbiter:  "C",
			stations: []string{"A", "B", "C"},
			traffic: []traffic{
				{src: "A", at: 0.001, size: 968},
				{src: "B", dst: "A", at: 0.002, size: 468},
				{src: "A", dst: "B", at: 0.003, size: 968},
			},
			perSource: map[string]int{"A": 1, "B": 2, "C": 1},
		},
		{
			// the arbiter reserves the remotes' shared upstream on their behalf
			name:     "satellite upstream contention",
			desc:     satelliteDesc,
			params:   satelliteParams,
			arbiter:  "hub",
			stations: []string{"hub", "R1", "R2"},
			traffic: []traffic{
				{src: "R1", dst: "hub", at: 0.001, size: 968},
				{src: "R2", dst: "hub", at: 0.002, size: 968},
				{src: "R1", dst: "hub", at: 0.003, size: 468},
				{src: "hub", at: 0.004, size: 968},
			},
			perSource: map[string]int{"hub": 3, "R1": 1, "R2": 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deliveries := func(mode, arbiter string) []deliveryTuple {
				net := buildNet(t, tc.desc(mode, arbiter), tc.params(), NetworkOpts{})
				for _, tr := range tc.traffic {
					dst := AnyDest
					if tr.dst != "" {
						dst = stationNamed(t, net, tr.dst).Address()
					}
					injectFrame(net, stationNamed(t, net, tr.src), tr.at, dst, tr.size)
				}
				require.NoError(t, net.Run(2.0))

				tuples := []deliveryTuple{}
				for _, name := range tc.stations {
					for _, dlv := range net.Portal().Deliveries(stationNamed(t, net, name).Key()) {
						tuples = append(tuples, deliveryTuple{station: name, time: dlv.Time, payload: string(dlv.Payload)})
					}
				}
				return tuples
			}

			distributed := deliveries("distributed", "")
			centralized := deliveries("centralized", tc.arbiter)

			counts := make(map[string]int)
			for _, dlv := range distributed {
				counts[dlv.station] += 1
			}
			assert.Equal(t, tc.perSource, counts)

			require.Len(t, centralized, len(distributed))
			for idx := range distributed {
				assert.Equal(t, distributed[idx].station, centralized[idx].station)
				assert.Equal(t, distributed[idx].payload, centralized[idx].payload)
				assert.InDelta(t, distributed[idx].time, centralized[idx].time, 1e-6,
					"%s delivery of %s", distributed[idx].station, distributed[idx].payload)
			}
		})
	}
}

func TestCentralizedArbiterCountsForwards(t *testing.T) {
	net := buildNet(t, lanDesc("centralized", "C", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")
	c := stationNamed(t, net, "C")

	injectFrame(net, a, 0.001, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	require.NotNil(t, c.interests)
	assert.Positive(t, c.interests.Len())
	assert.Equal(t, 1, a.Stats().Sent)
	assert.Equal(t, 0, a.Stats().Forwarded)
	assert.Equal(t, 2, c.Stats().Forwarded)
	assert.Len(t, net.Portal().Deliveries(c.Key()), 1)
}

func TestClientServerRoutesThroughHeadend(t *testing.T) {
	desc := CreateExperimentDesc("star")
	dd := domainDesc("star", "client-server", "distributed", "ane-default-mac", []stationSpec{
		{name: "H", node: 1, addr: "10.1.0.1/24"},
		{name: "R1", node: 2, addr: "10.1.0.2/24"},
		{name: "R2", node: 3, addr: "10.1.0.3/24"},
	})
	dd.Headend = "H"
	desc.AddDomain(&dd)
	net := buildNet(t, desc, lanParams(), NetworkOpts{})
	h := stationNamed(t, net, "H")
	r1 := stationNamed(t, net, "R1")
	r2 := stationNamed(t, net, "R2")

	// a remote is heard only by the headend, which takes any address
	injectFrame(net, r1, 0.0, r2.Address(), 968)
	// the headend is heard by every remote
	injectFrame(net, h, 0.1, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	fromRemote := net.Portal().Deliveries(h.Key())
	require.Len(t, fromRemote, 1)
	assert.Equal(t, r1.Address(), fromRemote[0].Src)

	require.Len(t, net.Portal().Deliveries(r2.Key()), 1)
	assert.Equal(t, h.Address(), net.Portal().Deliveries(r2.Key())[0].Src)
	require.Len(t, net.Portal().Deliveries(r1.Key()), 1)
}

// satelliteDesc is a client-server satellite domain with headend hub and remotes R1 and R2
func satelliteDesc(mode, arbiter string) *ExperimentDesc {
	desc := CreateExperimentDesc("vsat")
	dd := domainDesc("vsat", "client-server", mode, "ane-satellite", []stationSpec{
		{name: "hub", node: 1, addr: "10.2.0.1/24"},
		{name: "R1", node: 2, addr: "10.2.0.2/24"},
		{name: "R2", node: 3, addr: "10.2.0.3/24"},
	})
	dd.Headend = "hub"
	dd.Arbiter = arbiter
	desc.AddDomain(&dd)
	return desc
}

// satelliteParams shares one 1 Mbit/s upstream with a 40 ms access latency
func satelliteParams() *ExpCfg {
	expCfg := CreateExpCfg("vsat")
	wildcard := []AttrbStruct{{AttrbName: "*", AttrbValue: ""}}
	for param, value := range map[string]string{
		"upstream-bandwidth":   "1000000",
		"upstream-mac-latency": "0.04",
		"propagation-latency":  "0.135",
		"header-size":          "32",
	} {
		if err := expCfg.AddParameter("Domain", wildcard, param, value); err != nil {
			panic(err)
		}
	}
	return expCfg
}

func TestSatelliteUpstreamContention(t *testing.T) {
	net := buildNet(t, satelliteDesc("distributed", ""), satelliteParams(), NetworkOpts{})
	hub := stationNamed(t, net, "hub")
	r1 := stationNamed(t, net, "R1")
	r2 := stationNamed(t, net, "R2")

	injectFrame(net, r1, 0.0, hub.Address(), 968)
	injectFrame(net, r2, 0.001, hub.Address(), 968)
	require.NoError(t, net.Run(2.0))

	delivered := net.Portal().Deliveries(hub.Key())
	require.Len(t, delivered, 2)

	// R1 starts after the 40 ms access latency and finishes at 48 ms
	assert.InDelta(t, 0.040+0.008+0.135, delivered[0].Time, 1e-6)
	assert.Equal(t, r1.Address(), delivered[0].Src)

	// R2 waits for the upstream to free at 48 ms, then its own 40 ms
	assert.InDelta(t, 0.088+0.008+0.135, delivered[1].Time, 1e-6)
	assert.Equal(t, r2.Address(), delivered[1].Src)
}

func TestTrafficConditionerHoldsTransmitter(t *testing.T) {
	cases := []struct {
		conditioning string
		held         float64 // time the first frame keeps the transmitter
	}{
		// 8000 bits at the 32 kbit/s limit
		{"strict", 0.25},
		// an idle residual conditioner bursts at twice its limit
		{"residual", 0.125},
		// without a conditioner the transmitter frees after serialization
		{"none", 0.008},
	}
	for _, tc := range cases {
		t.Run(tc.conditioning, func(t *testing.T) {
			expCfg := satelliteParams()
			named := []AttrbStruct{{AttrbName: "name", AttrbValue: "R1"}}
			require.NoError(t, expCfg.AddParameter("Station", named, "traffic-conditioning", tc.conditioning))
			require.NoError(t, expCfg.AddParameter("Station", named, "bandwidth-limit", "32000"))
			require.NoError(t, expCfg.AddParameter("Station", named, "bandwidth-minimum", "1000"))

			net := buildNet(t, satelliteDesc("distributed", ""), expCfg, NetworkOpts{})
			hub := stationNamed(t, net, "hub")
			r1 := stationNamed(t, net, "R1")
			injectFrame(net, r1, 0.0, hub.Address(), 968)
			injectFrame(net, r1, 0.0, hub.Address(), 968)
			require.NoError(t, net.Run(2.0))

			delivered := net.Portal().Deliveries(hub.Key())
			require.Len(t, delivered, 2)
			assert.InDelta(t, 0.040+0.008+0.135, delivered[0].Time, 1e-6)

			// the second request waits for the transmitter, then the access latency
			assert.InDelta(t, 0.040+tc.held+0.040+0.008+0.135, delivered[1].Time, 1e-6)

			if tc.conditioning != "none" {
				conditioner := r1.channel.(*SatelliteChannelModel).Conditioner()
				require.NotNil(t, conditioner)
				assert.Equal(t, 16000, conditioner.BitsSent())
			}
		})
	}
}

func TestNegativePropagationDelayIsClamped(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	expCfg := lanParams()
	require.NoError(t, expCfg.AddParameter("Domain",
		[]AttrbStruct{{AttrbName: "name", AttrbValue: "lan"}}, "propagation-delay", "-1"))
	net := buildNet(t, lanDesc("distributed", "", lanStations()), expCfg, NetworkOpts{})
	a := stationNamed(t, net, "A")
	b := stationNamed(t, net, "B")

	injectFrame(net, a, 0.0, b.Address(), 968)
	require.NoError(t, net.Run(1.0))

	delivered := net.Portal().Deliveries(b.Key())
	require.Len(t, delivered, 1)
	assert.InDelta(t, 0.008+minPropagationDelay, delivered[0].Time, 1e-9)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "is negative") {
			warned = true
		}
	}
	assert.True(t, warned, "clamping the delay is logged as a warning")
}

func TestSatelliteManagementRequests(t *testing.T) {
	expCfg := CreateExpCfg("vsat")
	require.NoError(t, expCfg.AddParameter("Station",
		[]AttrbStruct{{AttrbName: "name", AttrbValue: "R1"}}, "traffic-conditioning", "strict"))
	require.NoError(t, expCfg.AddParameter("Station",
		[]AttrbStruct{{AttrbName: "name", AttrbValue: "R2"}}, "traffic-conditioning", "residual"))

	net := buildNet(t, satelliteDesc("distributed", ""), expCfg, NetworkOpts{})
	r1 := stationNamed(t, net, "R1")
	r2 := stationNamed(t, net, "R2")
	hub := stationNamed(t, net, "hub")

	resp := r1.ManagementRequest(ManagementRequest{Op: SetBandwidthLimit, Value: 32e3})
	assert.Equal(t, ManagementOK, resp.Result)
	assert.Equal(t, 32e3, r1.channel.(*SatelliteChannelModel).Conditioner().(*StrictConditioner).Limit())

	assert.Equal(t, ManagementUnsupported, r2.ManagementRequest(ManagementRequest{Op: SetBandwidthLimit, Value: 1}).Result)
	assert.Equal(t, ManagementUnsupported, hub.ManagementRequest(ManagementRequest{Op: SetBandwidthLimit, Value: 1}).Result)
	assert.Equal(t, ManagementUnsupported, r1.ManagementRequest(ManagementRequest{Op: SetGroupMembership}).Result)
	assert.Equal(t, ManagementOK, hub.ManagementRequest(ManagementRequest{Op: Echo}).Result)
	assert.Nil(t, hub.channel.(*SatelliteChannelModel).Conditioner())
}

func TestPipelineInvariants(t *testing.T) {
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")

	t.Run("re-entrant request", func(t *testing.T) {
		a.status = txRequesting
		defer func() { a.status = txIdle }()
		assert.Panics(t, func() { a.dispatch(createMacMsg(stationRequest)) })
	})

	t.Run("departure while active", func(t *testing.T) {
		frame := CreateFrame(nil, 100)
		frame.addHeader(&FrameHeader{PayloadSize: 100, HeaderSize: 32, Origin: a.key})
		depart := createMacMsg(stationDepart)
		depart.req = createBandwidthRequest(a.key, Nominal, frame)

		a.status = txActive
		defer func() { a.status = txIdle }()
		assert.Panics(t, func() { a.dispatch(depart) })
	})

	t.Run("request without a priority", func(t *testing.T) {
		frame := CreateFrame(nil, 100)
		frame.addHeader(&FrameHeader{PayloadSize: 100, HeaderSize: 32, Origin: a.key})
		indication := createMacMsg(requestIndication)
		indication.req = createBandwidthRequest(a.key, invalidPriority, frame)
		assert.Panics(t, func() { a.dispatch(indication) })
	})

	t.Run("grant that was not granted", func(t *testing.T) {
		frame := CreateFrame(nil, 100)
		frame.addHeader(&FrameHeader{PayloadSize: 100, HeaderSize: 32, Origin: a.key})
		grant := createMacMsg(grantIndication)
		grant.req = createBandwidthRequest(a.key, Nominal, frame)

		a.status = txRequesting
		defer func() { a.status = txIdle }()
		assert.Panics(t, func() { a.dispatch(grant) })
		assert.Equal(t, txRequesting, a.status)
	})

	t.Run("grant while idle", func(t *testing.T) {
		frame := CreateFrame(nil, 100)
		frame.addHeader(&FrameHeader{PayloadSize: 100, HeaderSize: 32, Origin: a.key})
		grant := createMacMsg(grantIndication)
		grant.req = createBandwidthRequest(a.key, Nominal, frame)
		grant.req.grant(0.0, 0.001)
		assert.Panics(t, func() { a.dispatch(grant) })
	})

	t.Run("truncated reception", func(t *testing.T) {
		assert.Panics(t, func() { a.TruncateReceive(CreateFrame(nil, 10)) })
	})

	t.Run("unexpected event", func(t *testing.T) {
		hook := logtest.NewGlobal()
		defer hook.Reset()
		a.dispatch(createMacMsg(eventKind(99)))
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		assert.Equal(t, txIdle, a.status)
	})
}

func TestDefaultModelManagement(t *testing.T) {
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{})
	a := stationNamed(t, net, "A")

	assert.Equal(t, ManagementOK, a.ManagementRequest(ManagementRequest{Op: Echo}).Result)
	assert.Equal(t, ManagementUnsupported, a.ManagementRequest(ManagementRequest{Op: SetBandwidthLimit, Value: 1}).Result)
	assert.Equal(t, ManagementUnsupported, a.ManagementRequest(ManagementRequest{Op: Unspecified}).Result)
}

func TestDropRatioLosesEverything(t *testing.T) {
	expCfg := lanParams()
	require.NoError(t, expCfg.AddParameter("Station",
		[]AttrbStruct{{AttrbName: "name", AttrbValue: "B"}}, "drop-ratio", "1.0"))
	net := buildNet(t, lanDesc("distributed", "", lanStations()), expCfg, NetworkOpts{})
	a := stationNamed(t, net, "A")
	b := stationNamed(t, net, "B")

	injectFrame(net, a, 0.0, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	assert.Empty(t, net.Portal().Deliveries(b.Key()))
	assert.Equal(t, 1, b.Stats().Detected)
	assert.Equal(t, 1, b.Stats().Dropped)
	assert.Len(t, net.Portal().Deliveries(stationNamed(t, net, "C").Key()), 1)
}
