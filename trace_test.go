package ane

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/iti/evt/vrtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTraceFollowsFrame(t *testing.T) {
	tm := CreateTraceManager("lan", true)
	net := buildNet(t, lanDesc("distributed", "", lanStations()), lanParams(), NetworkOpts{Trace: tm})
	assert.Len(t, tm.NameByID, 3)
	assert.Equal(t, "A", tm.NameByID[traceID(StationKey{Node: 1})].Name)

	frame := injectFrame(net, stationNamed(t, net, "A"), 0.0, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	records := tm.Traces[frame.ID]
	require.NotEmpty(t, records)
	stations := map[string]bool{}
	for _, rec := range records {
		mtr := MacTrace{}
		require.NoError(t, yaml.Unmarshal([]byte(rec.TraceStr), &mtr))
		assert.Equal(t, frame.ID, mtr.FrameID)
		stations[mtr.Station] = true
	}
	assert.True(t, stations["A"])
	assert.True(t, stations["B"])
	assert.True(t, stations["C"])

	filename := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(filename))
	written, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(written), "expname: lan")
}

func TestTraceSuppressedByParameter(t *testing.T) {
	tm := CreateTraceManager("lan", true)
	expCfg := lanParams()
	require.NoError(t, expCfg.AddParameter("Station",
		[]AttrbStruct{{AttrbName: "name", AttrbValue: "B"}}, "trace", "false"))
	net := buildNet(t, lanDesc("distributed", "", lanStations()), expCfg, NetworkOpts{Trace: tm})

	frame := injectFrame(net, stationNamed(t, net, "A"), 0.0, AnyDest, 968)
	require.NoError(t, net.Run(1.0))

	for _, rec := range tm.Traces[frame.ID] {
		mtr := MacTrace{}
		require.NoError(t, yaml.Unmarshal([]byte(rec.TraceStr), &mtr))
		assert.NotEqual(t, "B", mtr.Station)
	}
}

func TestInactiveTraceManager(t *testing.T) {
	tm := CreateTraceManager("off", false)
	tm.AddName(1, "A", "station")
	tm.AddTrace(vrtime.SecondsToTime(0.0), 1, TraceInst{TraceStr: "x"})
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.NameByID)

	filename := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(filename))
	_, err := os.Stat(filename)
	assert.True(t, os.IsNotExist(err))
}

func TestTraceManagerDuplicateName(t *testing.T) {
	tm := CreateTraceManager("dup", true)
	tm.AddName(1, "A", "station")
	assert.Panics(t, func() { tm.AddName(1, "B", "station") })
}

func TestStatisticsLatency(t *testing.T) {
	stats := Statistics{}
	mean, stddev := stats.Latency()
	assert.Zero(t, mean)
	assert.Zero(t, stddev)

	stats.addLatency(0.048)
	mean, stddev = stats.Latency()
	assert.Equal(t, 0.048, mean)
	assert.Zero(t, stddev)

	stats.addLatency(0.052)
	mean, stddev = stats.Latency()
	assert.InDelta(t, 0.050, mean, 1e-12)
	assert.InDelta(t, 0.0028284271, stddev, 1e-9)

	cp := stats.clone()
	cp.addLatency(1.0)
	assert.Len(t, stats.latencies, 2)
}

func TestStatisticsReport(t *testing.T) {
	stats := Statistics{Sent: 1, Received: 2, Forwarded: 3, Detected: 4, Locked: 5}
	stats.addLatency(0.048)
	stats.addLatency(0.048)

	var report bytes.Buffer
	stats.writeReport(&report, "B", StationKey{Node: 2})
	text := report.String()
	assert.Contains(t, text, "B (node[2].interface[0])")
	assert.Contains(t, text, "frames received (delivered) 2")
	assert.Contains(t, text, "mean 0.048000 s")
	assert.NotContains(t, text, "frames dropped")
	assert.NotContains(t, text, "frames peeked")
}

func TestSortedKeys(t *testing.T) {
	m := map[StationKey]int{{Node: 2}: 0, {Node: 1, Intrfc: 1}: 0, {Node: 1}: 0}
	assert.Equal(t, []StationKey{{Node: 1}, {Node: 1, Intrfc: 1}, {Node: 2}}, sortedKeys(m))
}
