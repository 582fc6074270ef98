package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultInvalidates(t *testing.T) {
	t.Parallel()
	assert.True(t, Fail(Fatal, ReasonBanned, nil).Invalidates())
	assert.True(t, Fail(Fatal, ReasonDeauthorized, nil).Invalidates())
	assert.False(t, Fail(Fatal, ReasonCanceled, nil).Invalidates())
	assert.False(t, Fail(Restricted, ReasonNone, nil).Invalidates())
	assert.False(t, Ok().Invalidates())
}

func TestResultString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok", Ok().String())
	assert.Equal(t, "rate_limited wait=5s", Limited(5*time.Second, nil).String())
	assert.Equal(t, "invalid_input/invalid_code: boom", Fail(InvalidInput, ReasonInvalidCode, errors.New("boom")).String())
}
