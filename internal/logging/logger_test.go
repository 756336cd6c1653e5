package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	InitializeWith(zap.New(core), cats)
	t.Cleanup(func() { InitializeWith(nil, nil) })
	return logs
}

func TestCategoryLoggerNamesEntries(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryRecognize).Info("backend %s rejected", "local")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "recognize", entries[0].LoggerName)
	assert.Equal(t, "backend local rejected", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestDisabledCategoryIsNoop(t *testing.T) {
	logs := observe(t, map[string]bool{"vision": false})

	Vision("should not appear")
	Renewal("should appear")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "renewal", entries[0].LoggerName)
	assert.False(t, IsCategoryEnabled(CategoryVision))
	assert.True(t, IsCategoryEnabled(CategoryBoot))
}

func TestUninitializedLoggerDoesNotPanic(t *testing.T) {
	InitializeWith(nil, nil)
	l := Get(CategoryBoot)
	l.Info("nothing")
	l.WithContext(map[string]interface{}{"k": "v"}).Warn("nothing")
	l.StructuredLog("error", "nothing", nil)
}

func TestWithContextAttachesFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryRecognize).WithContext(map[string]interface{}{"backend": "remote"}).Warn("rejected")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "remote", entries[0].ContextMap()["backend"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestStructuredLogLevels(t *testing.T) {
	logs := observe(t, nil)
	l := Get(CategoryRenewal)

	l.StructuredLog("debug", "d", map[string]interface{}{"a": 1})
	l.StructuredLog("warning", "w", nil)
	l.StructuredLog("error", "e", nil)
	l.StructuredLog("other", "i", nil)

	var levels []zapcore.Level
	for _, e := range logs.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.WarnLevel, zapcore.ErrorLevel, zapcore.InfoLevel}, levels)
}

func TestInitializeWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vpsrenew.log")
	require.NoError(t, Initialize(Options{Level: "debug", File: path}))
	t.Cleanup(func() { InitializeWith(nil, nil) })

	Boot("hello %d", 42)
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello 42"`)
	assert.Contains(t, string(data), `"logger":"boot"`)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Options{Level: "loud"})
	assert.Error(t, err)
}
