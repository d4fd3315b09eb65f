package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureAndGet(t *testing.T) {
	var buf bytes.Buffer
	Configure(LevelDebug, &buf)

	l := Get("transport")
	l.Debug("spawned worker", "profile", "a2dp-source")

	out := buf.String()
	require.Contains(t, out, "spawned worker")
	require.Contains(t, out, "profile")
}

func TestConfigureFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(LevelError, &buf)

	l := Get("hfp")
	l.Debug("should not appear")
	l.Error("should appear")

	out := buf.String()
	require.False(t, strings.Contains(out, "should not appear"))
	require.True(t, strings.Contains(out, "should appear"))
}

func TestSameSubsystemReturnsSameLogger(t *testing.T) {
	Configure(LevelInfo, &bytes.Buffer{})
	a := Get("a2dp")
	b := Get("a2dp")
	require.Same(t, a, b)
}
