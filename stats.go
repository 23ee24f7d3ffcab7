package ane

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
	"golang.org/x/exp/slices"
)

// Statistics are the counters a station keeps over a run
type Statistics struct {
	Sent      int // frames put on the channel
	Received  int // frames accepted and delivered up
	Forwarded int // copies produced while handling requests of the domain

	Detected int // copies that reached the station
	Locked   int // copies kept by the channel model
	Dropped  int // copies lost in the channel model
	Peeked   int // copies shown to a promiscuous station without delivery

	latencies []float64
}

func (stats *Statistics) addLatency(latency float64) {
	stats.latencies = append(stats.latencies, latency)
}

func (stats Statistics) clone() Statistics {
	cp := stats
	cp.latencies = slices.Clone(stats.latencies)
	return cp
}

// Latency returns the mean and standard deviation of the time from a
// frame leaving the upper layer to its delivery at this station
func (stats Statistics) Latency() (float64, float64) {
	switch len(stats.latencies) {
	case 0:
		return 0.0, 0.0
	case 1:
		return stats.latencies[0], 0.0
	}
	return stat.MeanStdDev(stats.latencies, nil)
}

// writeReport prints the human-readable summary of one station
func (stats Statistics) writeReport(w io.Writer, name string, key StationKey) {
	mean, stddev := stats.Latency()
	fmt.Fprintf(w, "%s (%s)\n", name, key)
	fmt.Fprintf(w, "  frames sent                 %d\n", stats.Sent)
	fmt.Fprintf(w, "  frames received (delivered) %d\n", stats.Received)
	fmt.Fprintf(w, "  frames forwarded            %d\n", stats.Forwarded)
	fmt.Fprintf(w, "  signals detected            %d\n", stats.Detected)
	fmt.Fprintf(w, "  signals locked on           %d\n", stats.Locked)
	if stats.Dropped > 0 {
		fmt.Fprintf(w, "  frames dropped              %d\n", stats.Dropped)
	}
	if stats.Peeked > 0 {
		fmt.Fprintf(w, "  frames peeked               %d\n", stats.Peeked)
	}
	if stats.Received > 0 {
		fmt.Fprintf(w, "  delivery latency            mean %.6f s, std-dev %.6f s\n", mean, stddev)
	}
}

// sortedKeys returns the keys of a station map in (node, interface) order
func sortedKeys[V any](m map[StationKey]V) []StationKey {
	keys := make([]StationKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b StationKey) int {
		if a.Node != b.Node {
			return a.Node - b.Node
		}
		return a.Intrfc - b.Intrfc
	})
	return keys
}
