package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 7, 8, 9, 123_456_789, time.FixedZone("PST", -8*3600))
	require.Equal(t, "2024-03-05T15:08:09.123Z", formatRFC3339Millis(ts))
}

func TestLogger_DropsEmptyStrings(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Info("hello", "empty", "", "kept", "value")

	out := buf.String()
	require.Contains(t, out, "hello")
	require.Contains(t, out, "kept")
	require.NotContains(t, out, "empty")
}

func TestLogger_VerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	NewWithWriter(&quiet, false).Debug("debug line")
	NewWithWriter(&verbose, true).Debug("debug line")

	require.Empty(t, quiet.String())
	require.Contains(t, verbose.String(), "debug line")
}
