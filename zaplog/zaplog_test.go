package zaplog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/zaplog"
)

func TestLoggerForwardsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zaplog.New(zap.New(core))

	l.Warn("outbox mutation rescheduled", "id", "r1", "attempts", 2)
	outbox.LogReporter{Logger: l}.Report(t.Context(), errors.New("denied"), outbox.ErrorContext{
		RecordID: "r2", MutationType: "user.profile", DedupeKey: "user.profile:u1", Class: outbox.ClassPermanent,
	})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "r1", entries[0].ContextMap()["id"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["attempts"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "user.profile:u1", entries[1].ContextMap()["dedupe_key"])
	assert.Equal(t, "permanent", entries[1].ContextMap()["class"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zaplog.ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, zaplog.ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, zaplog.ParseLevel(""))
}

func TestBuild(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		l, err := zaplog.Build(zaplog.Config{Env: env, Level: "error", Service: "outboxd"})
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	}
}
