package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelDropsOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 5; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{2, 3, 4}, got, "MUST keep only the newest values")
	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
}

func TestRingChannelSendAfterClose(t *testing.T) {
	rc := New[string](1)
	rc.Close()
	rc.Close()

	require.NotPanics(t, func() { rc.Send("late") }, "send after close MUST NOT panic")
	assert.False(t, rc.TrySend("late"), "TrySend after close MUST fail")
}

func TestRingChannelTrySend(t *testing.T) {
	rc := New[int](1)
	assert.True(t, rc.TrySend(1))
	assert.False(t, rc.TrySend(2), "TrySend MUST NOT overwrite")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
