package stagesched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusWordCompareAndSwap(t *testing.T) {
	w := newStatusWord(StatusUnstarted)
	require.Equal(t, StatusUnstarted, w.Load())

	require.True(t, w.CompareAndSwap(StatusUnstarted, StatusWaitingSto))
	assert.Equal(t, StatusWaitingSto, w.Load())

	// a stale CAS must fail and leave the word unchanged
	require.False(t, w.CompareAndSwap(StatusUnstarted, StatusRunning))
	assert.Equal(t, StatusWaitingSto, w.Load())
}

func TestStatusWordStore(t *testing.T) {
	w := newStatusWord(StatusRunning)
	w.Store(StatusTerminated)
	assert.Equal(t, StatusTerminated, w.Load())
}

func TestStatusSto(t *testing.T) {
	cases := []struct {
		in, want Status
	}{
		{StatusWaitingRun, StatusWaitingSto},
		{StatusSendingLockRun, StatusSendingLockSto},
		{StatusWakingRun, StatusWakingSto},
		{StatusStagemigRun, StatusStagemigSto},
		{StatusQueued, StatusQueued}, // not a _run/_sto pair member
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.in.sto())
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "invalid", Status(9999).String())
}
