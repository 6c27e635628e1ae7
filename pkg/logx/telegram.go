package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tgMaxMessage = 3500
	tgMaxValue   = 600
)

// telegramSink is a zerolog.LevelWriter that queues formatted lines for a
// background sender. It never blocks the caller; excess lines are dropped.
type telegramSink struct {
	send   Sender
	chatID int64
	queue  chan string

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTelegramSink(send Sender, chatID int64) *telegramSink {
	return &telegramSink{
		send:     send,
		chatID:   chatID,
		queue:    make(chan string, 256),
		minLevel: zerolog.Disabled,
		limiter:  limiterFor(1),
	}
}

func (t *telegramSink) configure(floor zerolog.Level, perSec int) {
	t.mu.Lock()
	t.minLevel = floor
	t.limiter = limiterFor(perSec)
	t.mu.Unlock()
}

func (t *telegramSink) start() {
	t.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.loop(ctx)
		}()
	})
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			// A failed send cannot be logged here without feeding back into this sink.
			_ = t.send(sctx, t.chatID, text)
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	floor, lim := t.minLevel, t.limiter
	t.mu.Unlock()

	if floor == zerolog.Disabled || level < floor || !lim.Allow() {
		return len(p), nil
	}
	if text := formatLogLine(p); text != "" {
		select {
		case t.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// formatLogLine renders one JSON log line as plain chat text:
// a level tag and message, then the remaining fields sorted by key.
func formatLogLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), tgMaxMessage)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(m[k]), tgMaxValue))
	}
	return clip(b.String(), tgMaxMessage)
}

func clip(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n < 10 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
