package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorst_RanksUnhealthyOverDegradedOverHealthy(t *testing.T) {
	assert.Equal(t, StateDegraded, Worst(StateHealthy, StateDegraded))
	assert.Equal(t, StateUnhealthy, Worst(StateDegraded, StateUnhealthy))
	assert.Equal(t, StateUnhealthy, Worst(StateUnhealthy, StateHealthy))
	assert.Equal(t, StateHealthy, Worst(StateHealthy, StateHealthy))
}
