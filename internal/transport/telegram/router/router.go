package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "reposter/internal/runtime/supervisor"
	kit "reposter/internal/transport"
	logx "reposter/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

const (
	msgUnknownCommand = "Unknown command. Try /help"
	msgOwnerOnly      = "Sorry, this command is for the administrator only."
	msgBusy           = "Busy, try again in a moment."
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Hidden      bool          // not listed in /help or the Telegram menu
	Timeout     time.Duration // optional per-command deadline
	Handle      HandlerFunc
}

type Request struct {
	Update    kit.Update
	ChatID    int64
	FromID    int64
	MessageID int
	Command   string

	// Text is everything after the command word, line breaks kept.
	Text string
	// Args is Text split into shell-like tokens.
	Args []string

	ReqID  string
	Logger logx.Logger

	sender kit.Sender
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, kit.ChatTarget{ChatID: r.ChatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Router dispatches incoming commands to a bounded worker pool.
type Router struct {
	mu             sync.RWMutex
	byName         map[string]*Command
	ordered        []Command
	owners         []int64
	botName        string
	defaultTimeout time.Duration

	log    logx.Logger
	sender kit.Sender

	jobs    chan func()
	workers int
}

type Option func(*Router)

// WithWorkers sets the worker pool size. Default is max(2, NumCPU).
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithQueue sets the pending job capacity. Default 256.
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

// WithBotUsername makes the router ignore commands addressed to other bots
// (e.g. /listjobs@other_bot in a group).
func WithBotUsername(name string) Option {
	return func(r *Router) { r.botName = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

// WithDefaultTimeout bounds commands without their own Timeout.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.defaultTimeout = d } }

func New(log logx.Logger, sender kit.Sender, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		byName: map[string]*Command{},
		owners: append([]int64(nil), owners...),
		log:    log,
		sender: sender,
		jobs:   make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = max(2, runtime.NumCPU())
	}
	return r
}

// SetCommands replaces the command registry. /help is always added.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	helper := Command{
		Name:        "help",
		Description: "show available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	}
	all := append(append([]Command(nil), cmds...), helper)

	byName := map[string]*Command{}
	// Capacity is fixed up front so element pointers stay valid.
	ordered := make([]Command, 0, len(all))
	for i := range all {
		c := all[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[name]; dup {
			continue
		}
		c.Name = name
		ordered = append(ordered, c)
		byName[name] = &ordered[len(ordered)-1]
	}
	r.mu.Lock()
	r.byName = byName
	r.ordered = ordered
	r.mu.Unlock()

	if up, ok := r.sender.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(ordered)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// DispatchLoop consumes updates until ctx is done or updates is closed, then
// drains the worker pool for up to 3 seconds.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, mention, rest, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	if mention != "" && r.botName != "" && !strings.EqualFold(mention, r.botName) {
		return
	}

	r.mu.RLock()
	cmd := r.byName[word]
	r.mu.RUnlock()

	reply := func(text string) {
		if _, err := r.sender.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, text, nil); err != nil {
			r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
	}
	if cmd == nil {
		reply(msgUnknownCommand)
		return
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		r.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		reply(msgOwnerOnly)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:    up,
		ChatID:    msg.ChatID,
		FromID:    msg.FromID,
		MessageID: msg.ID,
		Command:   cmd.Name,
		Text:      rest,
		Args:      tokenizeCommandLine(rest),
		ReqID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWRequestLog(),
		MWReplyOnError(),
		MWPanicRecover(),
		MWTimeout(timeout),
	)

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		reply(msgBusy)
	}
}

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := r.ordered
	r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
