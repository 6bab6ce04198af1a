package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "bookbot/internal/runtime/supervisor"
	kit "bookbot/internal/transport"
	logx "bookbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (tests, local bot api servers).
	APIURL string
}

// Adapter turns Telegram long-poll updates into kit.Updates and sends
// plain-text replies.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	// sink is the channel handlers forward to; nil while stopped.
	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	menuMu   sync.Mutex
	menuHash uint64
}

// New validates the token against the Bot API (getMe) and registers the
// command handlers. Polling starts with Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log}

	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Poller:  &tele.LongPoller{Timeout: poll},
		OnError: a.onError,
	})
	if err != nil {
		return nil, err
	}
	a.bot = b

	b.Handle("/start", a.forward(kit.UpdateStart, nil))
	b.Handle("/search", a.forward(kit.UpdateMessage, func(c tele.Context, msg *kit.Message) bool {
		// The command word is not part of the query.
		msg.Text = c.Message().Payload
		msg.Args = c.Args()
		return true
	}))
	b.Handle(tele.OnText, a.forward(kit.UpdateMessage, func(_ tele.Context, msg *kit.Message) bool {
		// Unknown commands fall through to OnText; only plain text is a search.
		return !strings.HasPrefix(msg.Text, "/")
	}))
	return a, nil
}

// forward builds a handler that converts the message and routes it as kind.
// shape may adjust the message or veto routing by returning false.
func (a *Adapter) forward(kind kit.UpdateKind, shape func(tele.Context, *kit.Message) bool) tele.HandlerFunc {
	return func(c tele.Context) error {
		msg := toMessage(c)
		if msg == nil {
			return nil
		}
		if shape != nil && !shape(c, msg) {
			return nil
		}
		a.route(kit.Update{Kind: kind, Message: msg})
		return nil
	}
}

// onError receives handler and poller failures from telebot.
func (a *Adapter) onError(err error, c tele.Context) {
	if err == nil {
		return
	}
	up := kit.Update{Kind: kit.UpdateError, Err: err}
	if c != nil {
		up.Message = toMessage(c)
	}
	a.route(up)
}

func toMessage(c tele.Context) *kit.Message {
	m := c.Message()
	if m == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ThreadID: m.ThreadID, Text: m.Text}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return msg
}

func (a *Adapter) setSink(out chan<- kit.Update) {
	if out == nil {
		a.sink.Store(nil)
		return
	}
	a.sink.Store(&out)
}

// route never blocks the poller; a full channel counts as a drop.
func (a *Adapter) route(up kit.Update) {
	out := a.sink.Load()
	if out == nil {
		return
	}
	select {
	case *out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.setSink(out)
	// Poller trouble is logged and retried; it never cancels the app.
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup = sup

	sup.Go0("updates.drops", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

func (a *Adapter) reportDrops(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

// Stop cancels polling and waits up to two seconds, or the ctx deadline if
// sooner, for the poll loop to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.setSink(nil)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("poller failed before stop", logx.Err(err))
	}
	return nil
}

// SendText sends text as one or more plain messages and returns the first.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	send := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		send.DisableWebPagePreview = opt.DisablePreview
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := a.bot.Send(chat, chunk, send)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
		}
	}
	return first, nil
}

// UpdateMenuCommands publishes the command menu (setMyCommands) unless the
// same list was already published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: d})
		h.Write([]byte(c.Command + "\x00" + d + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
