package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	assert.True(t, l.IsZero())
	l.Info("ignored", String("k", "v"))
	assert.False(t, Nop().IsZero())
	assert.False(t, l.With(String("comp", "x")).IsZero())
}

func TestServiceWritesRotatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.With(String("comp", "engine")).Debug("routine.fired", String("routine", "r1"), Int("actions", 2))

	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, svc.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `"comp":"engine"`)
	assert.Contains(t, out, `"routine":"r1"`)
	assert.Contains(t, out, `"message":"kept"`)
	assert.False(t, strings.Contains(out, "dropped"))
	assert.Contains(t, out, `"caller":"logging_test.go:`)
}

func TestLevels(t *testing.T) {
	t.Parallel()

	for _, lvl := range []string{"trace", "DEBUG", "info", "warning", "error"} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("loud"))
	assert.False(t, ValidLevel(""))
}
