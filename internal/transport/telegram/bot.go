// Package telegram is an optional remote control for the daemon: owners can trigger a backup
// and query status, and the bot can act as a perform-backup sink that posts to a chat.
package telegram

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	"skyback/internal/notify"
	rtsup "skyback/internal/runtime/supervisor"
	"skyback/internal/scheduler"
	"skyback/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	commandTimeout     = 15 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	ChatID       int64
	ThreadID     int
	PollTimeout  time.Duration
	// Offline skips the getMe handshake. Sends still need the network.
	Offline bool
}

// Controls is what the bot operates on. *scheduler.Scheduler satisfies it.
type Controls interface {
	BackupNow(ctx context.Context) (notify.Event, error)
	Report(ctx context.Context) (scheduler.Report, error)
}

type Bot struct {
	cfg  Config
	ctl  Controls
	log  logx.Logger
	bot  *tele.Bot
	owns map[int64]struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var menu = []tele.Command{
	{Text: "backup_now", Description: "Request a backup now"},
	{Text: "status", Description: "Backup settings and scheduler state"},
}

func New(cfg Config, ctl Controls, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if ctl == nil {
		return nil, errors.New("telegram: controls are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))

	b := &Bot{
		cfg:  cfg,
		ctl:  ctl,
		log:  log,
		owns: make(map[int64]struct{}, len(cfg.OwnerUserIDs)),
	}
	for _, id := range cfg.OwnerUserIDs {
		b.owns[id] = struct{}{}
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	b.bot = tb
	b.registerHandlers()
	return b, nil
}

func (b *Bot) isOwner(id int64) bool {
	_, ok := b.owns[id]
	return ok
}

func (b *Bot) registerHandlers() {
	b.bot.Use(b.recoverMW, b.ownerMW)
	for _, cmd := range []string{"/start", "/help", "/backup_now", "/status"} {
		b.bot.Handle(cmd, func(c tele.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			return c.Send(b.reply(ctx, cmd), &tele.SendOptions{ThreadID: threadOf(c)})
		})
	}
}

// ownerMW drops updates from anyone not listed in owner_user_ids.
func (b *Bot) ownerMW(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		u := c.Sender()
		if u == nil || !b.isOwner(u.ID) {
			var id int64
			if u != nil {
				id = u.ID
			}
			b.log.Debug("ignoring update from non-owner", logx.Int64("from_id", id))
			return nil
		}
		return next(c)
	}
}

func (b *Bot) recoverMW(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = errors.Newf("panic: %v", r)
			}
		}()
		return next(c)
	}
}

// reply runs one command and returns the text to send back.
func (b *Bot) reply(ctx context.Context, cmd string) string {
	switch cmd {
	case "/backup_now":
		ev, err := b.ctl.BackupNow(ctx)
		if err != nil {
			return "Backup request failed: " + err.Error()
		}
		b.log.Info("backup requested via telegram", logx.String("event_id", ev.ID))
		return "Backup requested (event " + ev.ID + ")."
	case "/status":
		r, err := b.ctl.Report(ctx)
		if err != nil {
			return "Status unavailable: " + err.Error()
		}
		return FormatReport(r) + b.pollStatus()
	default:
		return helpText()
	}
}

func (b *Bot) pollStatus() string {
	b.runMu.Lock()
	sup := b.sup
	b.runMu.Unlock()
	if sup == nil {
		return ""
	}
	return formatPollStats(sup.Stats())
}

func threadOf(c tele.Context) int {
	if m := c.Message(); m != nil {
		return m.ThreadID
	}
	return 0
}

// Start polls in the background until ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	b.running = true
	b.sup = rtsup.New(ctx,
		rtsup.WithLogger(b.log),
		// Telegram trouble must not take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	sup := b.sup

	sup.Go0("telegram.menu", func(context.Context) {
		if err := b.bot.SetCommands(menu); err != nil {
			b.log.Warn("set bot commands failed", logx.Err(err))
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.bot.Stop()
	})
	// telebot's Start can return on its own; restart it while the context is live.
	sup.GoRestart0("telegram.poll", func(context.Context) {
		b.log.Info("polling started")
		b.bot.Start()
		b.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop never blocks longer than a short grace window; the long poll may still be in flight.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	wasRunning := b.running
	b.running = false
	b.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			b.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		b.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

// Sink posts perform-backup events to the configured chat. Delivery means Telegram accepted
// the message; whoever reads the chat runs the backup.
func (b *Bot) Sink() notify.Sink {
	return notify.SinkFunc(func(ctx context.Context, ev notify.Event) error {
		if b.cfg.ChatID == 0 {
			return errors.Wrap(notify.ErrNoReceiver, "telegram chat_id not set")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.bot.Send(&tele.Chat{ID: b.cfg.ChatID}, FormatEvent(ev), &tele.SendOptions{ThreadID: b.cfg.ThreadID})
		if err != nil {
			return errors.Wrap(err, "telegram send")
		}
		return nil
	})
}
