package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("job stored", String("job", "42"), Int("reposts", 13))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "job stored", line["message"])
	assert.Equal(t, "test", line["comp"])
	assert.Equal(t, "42", line["job"])
	assert.EqualValues(t, 13, line["reposts"])
	assert.Contains(t, line["caller"], "logx_test.go:")
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	zero.Info("dropped")
	Nop().Error("dropped")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARNING ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.Disabled, parseLevel("off", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud", zerolog.InfoLevel))
}

func TestFormatLogLine(t *testing.T) {
	text := formatLogLine([]byte(`{"level":"error","message":"repost failed","time":"x","caller":"a.go:1","job":"7","err":"boom"}`))
	assert.Equal(t, "[ERROR] repost failed\nerr: boom\njob: 7", text)

	assert.Equal(t, "not json", formatLogLine([]byte("not json\n")))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}

func TestTelegramSinkForwardsAboveMinLevel(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []string
		chat int64
	)
	send := func(_ context.Context, chatID int64, text string) error {
		mu.Lock()
		defer mu.Unlock()
		chat = chatID
		got = append(got, text)
		return nil
	}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, send, 99)
	defer svc.Close()

	log.Info("routine")
	log.Warn("store save failed", String("path", "/tmp/x"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(99), chat)
	assert.Equal(t, "[WARN] store save failed\npath: /tmp/x", got[0])
}

func TestApplyDisablesTelegramSink(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	send := func(context.Context, int64, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}
	svc, log := New(Config{Level: "info", Telegram: TelegramConfig{Enabled: true}}, send, 1)
	defer svc.Close()

	svc.Apply(Config{Level: "info"})
	log.Error("after disable")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}
