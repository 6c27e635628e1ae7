// Package publish delivers job text to the target channel through a
// transport.Sender, pacing sends with a token bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	kit "reposter/internal/transport"
	logx "reposter/pkg/logx"
)

const DefaultRatePerMinute = 20

type Config struct {
	// RatePerMinute caps sends to the destination; <= 0 disables pacing.
	RatePerMinute int
	// Burst defaults to 1.
	Burst int
}

// Channel publishes to a Telegram chat named by id or @username.
type Channel struct {
	sender  kit.Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, sender kit.Sender, log logx.Logger) (*Channel, error) {
	if sender == nil {
		return nil, errors.New("publish: sender is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Channel{sender: sender, log: log}
	if cfg.RatePerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}
	return p, nil
}

// Send makes one delivery attempt. Link previews are disabled.
func (p *Channel) Send(ctx context.Context, destination, content string) error {
	to, err := ParseDestination(destination)
	if err != nil {
		return err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish: rate wait: %w", err)
		}
	}
	start := time.Now()
	ref, err := p.sender.SendText(ctx, to, content, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		return err
	}
	p.log.Debug("published",
		logx.String("dest", destination),
		logx.Int("message_id", ref.MessageID),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

// ParseDestination accepts a numeric chat id (e.g. -1001234567890) or a
// public username with or without the leading @.
func ParseDestination(s string) (kit.ChatTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return kit.ChatTarget{}, errors.New("publish: empty destination")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id == 0 {
			return kit.ChatTarget{}, errors.New("publish: chat id 0 is invalid")
		}
		return kit.ChatTarget{ChatID: id}, nil
	}
	name := strings.TrimPrefix(s, "@")
	if !validUsername(name) {
		return kit.ChatTarget{}, fmt.Errorf("publish: invalid destination %q", s)
	}
	return kit.ChatTarget{Username: "@" + name}, nil
}

// Telegram usernames: 5..32 of [A-Za-z0-9_], starting with a letter.
func validUsername(s string) bool {
	if len(s) < 5 || len(s) > 32 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return false
		}
	}
	return true
}
