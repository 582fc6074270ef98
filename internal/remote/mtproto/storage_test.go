package mtproto

import (
	"context"
	"testing"

	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemStorage(nil)

	_, err := s.LoadSession(ctx)
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, s.StoreSession(ctx, []byte("abc")))
	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'z'
	assert.Equal(t, []byte("abc"), s.bytes())
}

func TestFixedDeviceDefaults(t *testing.T) {
	t.Parallel()
	d := FixedDevice{Model: "Desktop"}.Device()
	assert.Equal(t, "Desktop", d.Model)
	assert.Equal(t, DefaultDevice.System, d.System)
	assert.Equal(t, DefaultDevice.AppVersion, d.AppVersion)
}
