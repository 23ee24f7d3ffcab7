package ane

import (
	"fmt"
	"math"
)

// conditionerCode selects the traffic conditioning policy of a station
type conditionerCode int

const (
	noConditioner conditionerCode = iota
	strictConditioner
	residualConditioner
	unknownConditioner
)

// conditionerFromStr maps the configuration value to a conditionerCode
func conditionerFromStr(name string) conditionerCode {
	switch name {
	case "", "none", "NONE":
		return noConditioner
	case "strict", "STRICT":
		return strictConditioner
	case "residual", "RESIDUAL":
		return residualConditioner
	}
	return unknownConditioner
}

func conditionerToStr(code conditionerCode) string {
	switch code {
	case noConditioner:
		return "none"
	case strictConditioner:
		return "strict"
	case residualConditioner:
		return "residual"
	}
	return "unknown"
}

const (
	defaultBandwidthLimit   = 512e3
	defaultBandwidthMinimum = 64e3
)

// TrafficConditioner limits the rate at which a station may send
type TrafficConditioner interface {
	ReportBitsSent(bits int)
	BandwidthAvailable(elapsed float64) float64
	Reset()
	BitsSent() int
}

// StrictConditioner allows a fixed rate, changeable at run-time
type StrictConditioner struct {
	bitsSent int
	limit    float64
}

// createStrictConditioner is a constructor
func createStrictConditioner(limit float64) *StrictConditioner {
	return &StrictConditioner{limit: limit}
}

func (sc *StrictConditioner) ReportBitsSent(bits int) {
	sc.bitsSent += bits
}

func (sc *StrictConditioner) BandwidthAvailable(elapsed float64) float64 {
	return sc.limit
}

func (sc *StrictConditioner) Reset() {
	sc.bitsSent = 0
}

func (sc *StrictConditioner) BitsSent() int {
	return sc.bitsSent
}

// Limit returns the current rate limit
func (sc *StrictConditioner) Limit() float64 {
	return sc.limit
}

// ResidualConditioner lets a lightly loaded station burst up to twice its
// limit and throttles it toward its minimum as average usage climbs
type ResidualConditioner struct {
	bitsSent int
	limit    float64
	minimum  float64
}

// createResidualConditioner is a constructor
func createResidualConditioner(limit, minimum float64) *ResidualConditioner {
	return &ResidualConditioner{limit: limit, minimum: minimum}
}

func (rc *ResidualConditioner) ReportBitsSent(bits int) {
	rc.bitsSent += bits
}

// BandwidthAvailable is max(minimum, 2*limit - usage), where usage is
// the average rate since the start of the epoch
func (rc *ResidualConditioner) BandwidthAvailable(elapsed float64) float64 {
	usage := 0.0
	if elapsed > 0 {
		usage = float64(rc.bitsSent) / elapsed
	}
	return math.Max(rc.minimum, 2.0*rc.limit-usage)
}

func (rc *ResidualConditioner) Reset() {
	rc.bitsSent = 0
}

func (rc *ResidualConditioner) BitsSent() int {
	return rc.bitsSent
}

// createConditioner builds the conditioner named by code, nil for none
func createConditioner(code conditionerCode, limit, minimum float64) TrafficConditioner {
	switch code {
	case noConditioner:
		return nil
	case strictConditioner:
		return createStrictConditioner(limit)
	case residualConditioner:
		return createResidualConditioner(limit, minimum)
	}
	panic(fmt.Errorf("unknown traffic conditioner code %d", code))
}

// setConditionerLimit changes the rate of a strict conditioner.  No other
// conditioner supports a dynamic change.
func setConditionerLimit(tc TrafficConditioner, limit float64) {
	sc, ok := tc.(*StrictConditioner)
	if !ok || sc == nil {
		panic(fmt.Errorf("traffic conditioner %T does not support a dynamic bandwidth limit", tc))
	}
	sc.limit = limit
}
