package logger

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func messages(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestLogBuffer_RingOrder(t *testing.T) {
	lb := NewLogBuffer(3)
	assert.Empty(t, lb.Recent(0))

	for i := 1; i <= 5; i++ {
		lb.Add(LogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	assert.Equal(t, []string{"m3", "m4", "m5"}, messages(lb.Recent(0)))
	assert.Equal(t, []string{"m4", "m5"}, messages(lb.Recent(2)))
	assert.Equal(t, uint64(5), lb.Total())
}

func TestLogBuffer_PartialFill(t *testing.T) {
	lb := NewLogBuffer(4)
	lb.Add(LogEntry{Message: "a"})
	lb.Add(LogEntry{Message: "b"})

	assert.Equal(t, []string{"b"}, messages(lb.Recent(1)))
	assert.Len(t, lb.Recent(10), 2)
}

func TestBufferCore_RecordsWarningsWithFields(t *testing.T) {
	lb := NewLogBuffer(10)
	log := zap.New(lb.Core(zapcore.WarnLevel)).Named("orchestrator").With(zap.Uint("pool_id", 3))

	log.Info("not recorded")
	log.Error("Pool action failed", zap.String("action", "payout"), zap.Error(errors.New("blockhash expired")))

	got := lb.Recent(0)
	require.Len(t, got, 1)
	assert.Equal(t, "ERROR", got[0].Level)
	assert.Equal(t, "orchestrator", got[0].Logger)
	assert.Equal(t, "payout", got[0].Fields["action"])
	assert.EqualValues(t, 3, got[0].Fields["pool_id"])
	assert.Equal(t, "blockhash expired", got[0].Fields["error"])
}

func TestLogger_RecentBuffer(t *testing.T) {
	var console bytes.Buffer
	l := newWithConsole(&Config{LogFile: filepath.Join(t.TempDir(), "k.log"), RecentSize: 5}, zapcore.AddSync(&console))
	l.Info("started")
	l.Warn("endpoint marked unhealthy")
	require.NoError(t, l.Close())

	require.NotNil(t, l.Recent())
	assert.Equal(t, []string{"endpoint marked unhealthy"}, messages(l.Recent().Recent(0)))

	plain := newWithConsole(&Config{LogFile: filepath.Join(t.TempDir(), "p.log")}, zapcore.AddSync(&console))
	assert.Nil(t, plain.Recent())
	require.NoError(t, plain.Close())
}
