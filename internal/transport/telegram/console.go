package telegram

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pewsched/internal/eventbus"
	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	// ChatID receives notifications. 0 means the first owner's private chat.
	ChatID      int64
	PollTimeout time.Duration
	RatePerSec  int
}

const (
	defaultPollTimeout = 10 * time.Second
	handlerTimeout     = 10 * time.Second
	eventBuffer        = 64
	confirmUnique      = "confirm"
)

type deliverFunc func(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) error

// Console is the operator bot. Only owner accounts are answered.
type Console struct {
	cfg     Config
	log     logx.Logger
	sched   Scheduler
	bus     eventbus.Bus
	limiter *rate.Limiter

	bot     *tele.Bot
	deliver deliverFunc

	mu  sync.Mutex
	sup *rtsup.Supervisor
	ctx context.Context
}

// New connects to the Bot API and registers the handlers. Polling starts
// with Start.
func New(cfg Config, sched Scheduler, bus eventbus.Bus, log logx.Logger) (*Console, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.OwnerUserIDs) == 0 {
		return nil, errors.New("telegram needs at least one owner user id")
	}
	c := newConsole(cfg, sched, bus, log)
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: c.cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			c.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	c.bot = b
	c.deliver = c.send
	c.registerHandlers()
	return c, nil
}

func newConsole(cfg Config, sched Scheduler, bus eventbus.Bus, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &Console{
		cfg:     cfg,
		log:     log.Component("telegram"),
		sched:   sched,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec+2),
		ctx:     context.Background(),
	}
}

func (c *Console) isOwner(id int64) bool { return slices.Contains(c.cfg.OwnerUserIDs, id) }

// target is where notifications go.
func (c *Console) target() int64 {
	if c.cfg.ChatID != 0 {
		return c.cfg.ChatID
	}
	if len(c.cfg.OwnerUserIDs) > 0 {
		return c.cfg.OwnerUserIDs[0]
	}
	return 0
}

func (c *Console) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Console) registerHandlers() {
	c.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(tc tele.Context) error {
			u := tc.Sender()
			if u == nil || !c.isOwner(u.ID) {
				if u != nil {
					c.log.Debug("ignored update from non-owner", logx.Int64("from_id", u.ID))
				}
				return nil
			}
			return next(tc)
		}
	})

	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		ctx, cancel := context.WithTimeout(c.runContext(), handlerTimeout)
		defer cancel()
		start := time.Now()
		text := tc.Text()
		reply := run(ctx, c.sched, text)
		c.log.Debug("command handled", logx.String("text", truncRunes(text, 64)), logx.Duration("dur", time.Since(start)))
		for _, chunk := range splitText(reply, textLimit) {
			if err := tc.Send(chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}); err != nil {
				return err
			}
		}
		return nil
	})

	c.bot.Handle(&tele.Btn{Unique: confirmUnique}, func(tc tele.Context) error {
		ctx, cancel := context.WithTimeout(c.runContext(), handlerTimeout)
		defer cancel()
		id := strings.TrimSpace(tc.Data())
		resp := "confirmed"
		if err := c.sched.Do(ctx, scheduler.Confirm{ID: id}); err != nil {
			resp = err.Error()
		}
		return tc.Respond(&tele.CallbackResponse{Text: truncRunes(resp, 180)})
	})
}

// Start begins long polling and event forwarding.
func (c *Console) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sup != nil {
		c.mu.Unlock()
		return nil
	}
	c.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(c.log),
		// the console must not take the scheduler down
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.ctx = sup.Context()
	c.mu.Unlock()

	if err := c.bot.SetCommands(botCommands()); err != nil {
		c.log.Warn("set bot commands failed", logx.Err(err))
	}

	events, unsub := c.bus.Subscribe(eventBuffer)
	sup.Go0("telegram.events", func(ctx context.Context) {
		defer unsub()
		c.forwardEvents(ctx, events)
	})
	sup.Go0("telegram.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		c.bot.Stop()
	})
	sup.GoRestart("telegram.poll", func(ctx context.Context) error {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop ends polling. It waits at most two seconds or until ctx is done.
func (c *Console) Stop(ctx context.Context) error {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		return err
	}
	return nil
}

func botCommands() []tele.Command {
	out := make([]tele.Command, 0, len(commands)+1)
	for _, cmd := range commands {
		out = append(out, tele.Command{Text: cmd.Name, Description: cmd.Description})
	}
	return append(out, tele.Command{Text: "help", Description: "list commands"})
}

func (c *Console) forwardEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, ok := renderEvent(ev)
			if !ok {
				continue
			}
			var markup *tele.ReplyMarkup
			if p, isEntry := ev.Data.(scheduler.EntryEvent); isEntry && ev.Type == eventbus.TypeConfirmRequired {
				markup = confirmMarkup(p.ID)
			}
			if err := c.deliver(ctx, c.target(), text, markup); err != nil && ctx.Err() == nil {
				c.log.Warn("event notification failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

func confirmMarkup(id string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(m.Row(m.Data("Confirm", confirmUnique, id)))
	return m
}

// Notify sends a log line to the notification chat. It implements
// logx.Notifier.
func (c *Console) Notify(ctx context.Context, text string) error {
	return c.deliver(ctx, c.target(), "<pre>"+esc(text)+"</pre>", nil)
}

func (c *Console) send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) error {
	if chatID == 0 {
		return errors.New("telegram: no chat to notify")
	}
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range splitText(text, textLimit) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
		if i == 0 && markup != nil {
			opt.ReplyMarkup = markup
		}
		if _, err := c.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

var _ logx.Notifier = (*Console)(nil)
