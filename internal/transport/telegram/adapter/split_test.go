package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortIsUnchanged(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitText("hello", 10))
	assert.Equal(t, []string{""}, splitText("", 10))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	got := splitText("aaaaaaa\nbbbbbbb\nccc", 10)
	assert.Equal(t, []string{"aaaaaaa", "bbbbbbb", "ccc"}, got)
}

func TestSplitTextHardCutsLongLines(t *testing.T) {
	t.Parallel()
	got := splitText(strings.Repeat("é", 25), 10)
	require.Len(t, got, 3)
	assert.Equal(t, strings.Repeat("é", 10), got[0])
	assert.Equal(t, strings.Repeat("é", 5), got[2])
}
