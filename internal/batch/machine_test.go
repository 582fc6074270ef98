package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"groupbot/internal/remote"
)

func TestMachineRetryKeepsIndex(t *testing.T) {
	t.Parallel()
	m := NewMachine(3)
	assert.Equal(t, StepCreated, m.Apply(remote.Ok()))
	assert.Equal(t, 2, m.Index())

	assert.Equal(t, StepRetry, m.Apply(remote.Limited(5*time.Second, nil)))
	assert.Equal(t, 2, m.Index())
	assert.True(t, m.Retrying())

	assert.Equal(t, StepCreated, m.Apply(remote.Ok()))
	assert.False(t, m.Retrying())
	assert.Equal(t, StepSkipped, m.Apply(remote.Fail(remote.Failed, remote.ReasonUnknown, errors.New("x"))))
	assert.True(t, m.Done())
	assert.Equal(t, Completed, m.State())
	assert.Equal(t, 2, m.Created())
	assert.Equal(t, 1, m.Failed())
	assert.Equal(t, 1, m.RateLimits())
}

func TestMachineTerminalStates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		res  remote.Result
		want State
	}{
		{remote.Fail(remote.Restricted, remote.ReasonNone, nil), Restricted},
		{remote.Fail(remote.Fatal, remote.ReasonDeauthorized, nil), Invalidated},
		{remote.Fail(remote.Fatal, remote.ReasonBanned, nil), Invalidated},
		{remote.Fail(remote.Fatal, remote.ReasonCanceled, nil), Cancelled},
	}
	for _, tt := range tests {
		m := NewMachine(5)
		assert.Equal(t, StepStopped, m.Apply(tt.res))
		assert.Equal(t, tt.want, m.State())
		assert.Equal(t, tt.res.Kind, m.Last().Kind)
		assert.Equal(t, StepStopped, m.Apply(remote.Ok()), "terminal machine ignores results")
		assert.Equal(t, 0, m.Created())
	}
}

func TestMachineCancel(t *testing.T) {
	t.Parallel()
	m := NewMachine(2)
	m.Cancel()
	assert.Equal(t, Cancelled, m.State())

	done := NewMachine(0)
	done.Cancel()
	assert.Equal(t, Completed, done.State())
}
