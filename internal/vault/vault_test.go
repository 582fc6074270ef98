package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupbot/pkg/logx"
)

const testKey = "0123456789abcdef-test"

func newVault(t *testing.T, dir, key string) *Vault {
	t.Helper()
	v, err := New(dir, key, logx.Nop())
	require.NoError(t, err)
	return v
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	v := newVault(t, t.TempDir(), testKey)

	require.NoError(t, v.Save(7, "default", []byte("session-blob")))
	got, ok := v.Load(7, "default")
	require.True(t, ok)
	assert.Equal(t, []byte("session-blob"), got)

	require.NoError(t, v.Save(7, "default", []byte("replaced")))
	got, ok = v.Load(7, "default")
	require.True(t, ok)
	assert.Equal(t, []byte("replaced"), got)
}

func TestWrongKeyIsAbsent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, newVault(t, dir, testKey).Save(1, "main", []byte("x")))

	other := newVault(t, dir, "another-key-of-length-16")
	_, ok := other.Load(1, "main")
	assert.False(t, ok)
}

func TestRecordBoundToOwner(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	v := newVault(t, dir, testKey)
	require.NoError(t, v.Save(1, "main", []byte("x")))

	src := filepath.Join(dir, "user_1__main.session")
	dst := filepath.Join(dir, "user_2__main.session")
	raw, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, raw, 0o600))

	_, ok := v.Load(2, "main")
	assert.False(t, ok)
}

func TestEmptyAndMissingAreAbsent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	v := newVault(t, dir, testKey)

	_, ok := v.Load(3, "nope")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_3__empty.session"), nil, 0o600))
	_, ok = v.Load(3, "empty")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_3__junk.session"), []byte("garbage"), 0o600))
	_, ok = v.Load(3, "junk")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	v := newVault(t, t.TempDir(), testKey)
	require.NoError(t, v.Save(5, "a", []byte("x")))

	removed, err := v.Delete(5, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = v.Delete(5, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLabels(t *testing.T) {
	t.Parallel()
	v := newVault(t, t.TempDir(), testKey)
	require.NoError(t, v.Save(10, "work phone", []byte("1")))
	require.NoError(t, v.Save(10, "alpha", []byte("2")))
	require.NoError(t, v.Save(100, "other", []byte("3")))
	require.NoError(t, v.Save(1, "prefix", []byte("4")))

	labels, err := v.Labels(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "work phone"}, labels)

	got, ok := v.Load(10, "work phone")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got)
}

func TestSanitizeLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "default", SanitizeLabel("default"))
	assert.Equal(t, "my-acc_1", SanitizeLabel("my-acc_1"))

	a := SanitizeLabel("a b")
	b := SanitizeLabel("a/b")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, "a_b", a)
	assert.NotContains(t, a, "/")
}

func TestShortKeyRejected(t *testing.T) {
	t.Parallel()
	_, err := New(t.TempDir(), "short", logx.Nop())
	assert.ErrorIs(t, err, ErrKey)
}
