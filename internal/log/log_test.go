package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackend_LevelFilter(t *testing.T) {
	require := require.New(t)
	var buf bytes.Buffer
	b, err := NewWriter(&buf, "NOTICE")
	require.NoError(err)

	l := b.GetLogger("security")
	l.Debugf("hidden %d", 1)
	l.Warningf("decrypt failed for %s", "m1")

	out := buf.String()
	require.NotContains(out, "hidden")
	require.Contains(out, "WARN security: decrypt failed for m1")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("", "LOUD", false)
	require.Error(t, err)
	require.True(t, ValidLevel("debug"))
	require.False(t, ValidLevel("LOUD"))
}
