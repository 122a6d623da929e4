package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "tagbot/internal/runtime/supervisor"
	kit "tagbot/internal/transport"
	logx "tagbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args is the raw text after the command word, trimmed. Line breaks
	// inside it are preserved.
	Args  string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML reply to the request's message.
func (r *Request) Reply(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Observer sees every incoming message before command routing.
type Observer func(ctx context.Context, m *kit.Message)

type CommandManager struct {
	mu       sync.RWMutex
	cmds     map[string]*Command // name and alias -> command
	ordered  []Command
	observer Observer
	extra    []Middleware

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, workers int) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers < 1 {
		workers = 4
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		workers: workers,
		jobs:    make(chan func(), 256),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

func (m *CommandManager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
}

// Use appends middleware that runs after request logging and before panic
// recovery, so it sees a panic as an error.
func (m *CommandManager) Use(mw ...Middleware) {
	m.mu.Lock()
	m.extra = append(m.extra, mw...)
	m.mu.Unlock()
}

// tryEnqueue is a panic-safe enqueue (the jobs channel may be closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry installs the command set, plus a generated /help, and
// pushes the command menu when the adapter supports it. spawn runs the
// menu update; when nil it runs on a plain goroutine.
func (m *CommandManager) SetRegistry(cmds []Command, spawn func(name string, fn func(ctx context.Context) error)) {
	if _, ok := findCommand(cmds, "help"); !ok {
		cmds = append(cmds, Command{
			Name:        "help",
			Description: "show available commands",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, m.helpText())
			},
		})
	}

	table := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cp := &c
		table[name] = cp
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, exists := table[a]; !exists {
					table[a] = cp
				}
			}
		}
		ordered = append(ordered, c)
	}

	m.mu.Lock()
	m.cmds = table
	m.ordered = ordered
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenu(ordered)
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	if spawn != nil {
		spawn("telegram.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

func findCommand(cmds []Command, name string) (Command, bool) {
	for _, c := range cmds {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Commands run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message

	m.mu.RLock()
	observe := m.observer
	m.mu.RUnlock()
	if observe != nil {
		observe(root, msg)
	}

	word, addressee, args, ok := splitCommand(msg.Text)
	if !ok || !m.addressedToSelf(addressee) {
		return
	}
	m.mu.RLock()
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		// Groups carry commands meant for other bots; stay quiet.
		return
	}
	m.enqueueCommand(root, up, *cmd, args)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, args string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Chat(msg.ChatID, msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	m.mu.RLock()
	chain := make([]Middleware, 0, len(m.extra)+3)
	chain = append(chain, MWRequestLog(m.log))
	chain = append(chain, m.extra...)
	chain = append(chain, MWPanicRecover(m.log), MWTimeout(cmd.Timeout))
	m.mu.RUnlock()
	final := Chain(cmd.Handle, chain...)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_ = req.Reply(root, "⏳ Busy, try again in a moment.")
	}
}

// splitCommand parses "/word@bot rest". addressee is the "bot" part, empty
// when the command names no bot. It reports false for non-commands.
func splitCommand(text string) (word, addressee, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", "", false
	}
	head, rest := text, ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		head, rest = text[:i], text[i+1:]
	}
	head = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head, addressee = head[:i], head[i+1:]
	}
	head = strings.ToLower(head)
	if head == "" {
		return "", "", "", false
	}
	return head, addressee, strings.TrimSpace(rest), true
}

// addressedToSelf reports whether a "/cmd@name" command is ours. Commands
// without a name are. When the adapter cannot name the bot, named commands
// are left to whoever they name.
func (m *CommandManager) addressedToSelf(addressee string) bool {
	if addressee == "" {
		return true
	}
	namer, ok := m.adapter.(kit.SelfNamer)
	if !ok {
		return false
	}
	self := namer.SelfUsername()
	return self != "" && strings.EqualFold(self, addressee)
}

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
