package ane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidualConditionerClampsToMinimum(t *testing.T) {
	rc := createResidualConditioner(100, 10)
	assert.Equal(t, 200.0, rc.BandwidthAvailable(1.0))

	rc.ReportBitsSent(250)
	assert.Equal(t, 10.0, rc.BandwidthAvailable(1.0))

	rc.Reset()
	assert.Equal(t, 0, rc.BitsSent())
	assert.Equal(t, 200.0, rc.BandwidthAvailable(1.0))
}

func TestResidualConditionerIsMonotone(t *testing.T) {
	rc := createResidualConditioner(1000, 50)
	previous := rc.BandwidthAvailable(1.0)
	for step := 0; step < 40; step++ {
		rc.ReportBitsSent(100)
		available := rc.BandwidthAvailable(1.0)
		assert.LessOrEqual(t, available, previous)
		assert.GreaterOrEqual(t, available, 50.0)
		previous = available
	}
}

func TestStrictConditioner(t *testing.T) {
	tc := createConditioner(strictConditioner, 64e3, 1)
	require.IsType(t, &StrictConditioner{}, tc)

	tc.ReportBitsSent(1e6)
	assert.Equal(t, 64e3, tc.BandwidthAvailable(1.0))

	setConditionerLimit(tc, 128e3)
	assert.Equal(t, 128e3, tc.(*StrictConditioner).Limit())
}

func TestDynamicLimitOnlyForStrict(t *testing.T) {
	rc := createConditioner(residualConditioner, 100, 10)
	assert.Panics(t, func() { setConditionerLimit(rc, 200) })
}

func TestConditionerNames(t *testing.T) {
	assert.Equal(t, noConditioner, conditionerFromStr(conditionerToStr(noConditioner)))
	assert.Equal(t, strictConditioner, conditionerFromStr(conditionerToStr(strictConditioner)))
	assert.Equal(t, residualConditioner, conditionerFromStr(conditionerToStr(residualConditioner)))
	assert.Equal(t, unknownConditioner, conditionerFromStr("leaky-bucket"))
	assert.Nil(t, createConditioner(noConditioner, 1, 1))
}
