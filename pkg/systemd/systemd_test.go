package systemd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = Stopping()
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, Watchdog(context.Background()))
}
