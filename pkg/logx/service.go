package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./reposter.log
}

// TelegramConfig forwards lines at or above MinLevel to the admin chat.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string // default warn
	RatePerSec int    // default 1
}

// Sender delivers one forwarded log line to a private chat.
type Sender func(ctx context.Context, chatID int64, text string) error

// Service owns the log sinks. Apply swaps them at runtime; Loggers handed
// out by the Service pick up the new sinks on their next call.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	tg   *telegramSink
}

// New builds the service with cfg applied. send and chatID feed the
// Telegram sink; either may be zero to disable it.
func New(cfg Config, send Sender, chatID int64) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if send != nil && chatID != 0 {
		s.tg = newTelegramSink(send, chatID)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sink set. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	prevFile := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./reposter.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	if s.tg != nil {
		if cfg.Telegram.Enabled {
			s.tg.configure(parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel), cfg.Telegram.RatePerSec)
			s.tg.start()
			sinks = append(sinks, s.tg)
		} else {
			s.tg.configure(zerolog.Disabled, 1)
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	zl := newRoot(zerolog.MultiLevelWriter(sinks...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)

	// Swap first so no writer is left pointing at a closed file.
	if prevFile != nil {
		_ = prevFile.Close()
	}
}

// Close stops the Telegram sink and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	tg := s.tg
	s.mu.Unlock()

	if tg != nil {
		tg.stop()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func limiterFor(perSec int) *rate.Limiter {
	if perSec < 1 {
		perSec = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}
