// Package telegram delivers notifications to a Telegram chat. Each
// notification is a message with an inline "Open" button; pressing it counts
// as a click and deleting the message dismisses it.
package telegram

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"image/png"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushgate/internal/presenter"
	"pushgate/pkg/logx"
)

const openUnique = "nopen"

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// api is the part of *tele.Bot the presenter sends through.
type api interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

type Presenter struct {
	cfg Config
	api api
	bot *tele.Bot
	log logx.Logger

	mu   sync.Mutex
	byID map[string]*notification

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Open creates the bot and starts polling for button presses.
func Open(cfg Config, log logx.Logger) (*Presenter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	p := newPresenter(b, cfg, log)
	p.bot = b
	b.Handle(&tele.Btn{Unique: openUnique}, func(c tele.Context) error {
		p.click(c.Data())
		return c.Respond()
	})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Info("polling started", logx.Int64("chat_id", cfg.ChatID))
		b.Start() // blocks until Stop
	}()
	return p, nil
}

func newPresenter(a api, cfg Config, log logx.Logger) *Presenter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Presenter{cfg: cfg, api: a, log: log, byID: make(map[string]*notification)}
}

// Close stops polling. Messages already sent stay in the chat.
func (p *Presenter) Close() error {
	p.stopOnce.Do(func() {
		if p.bot != nil {
			p.bot.Stop()
		}
		p.wg.Wait()
	})
	return nil
}

type notification struct {
	p     *Presenter
	d     presenter.Delegate
	msg   *tele.Message
	shown bool
}

func (p *Presenter) CreateNotification(d presenter.Delegate) presenter.Notification {
	if d == nil || d.ID() == "" {
		return nil
	}
	return &notification{p: p, d: d}
}

func (p *Presenter) LookupNotification(id string) presenter.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.byID[id]; ok {
		return n
	}
	return nil
}

func (p *Presenter) click(id string) bool {
	p.mu.Lock()
	n, ok := p.byID[id]
	p.mu.Unlock()
	if !ok {
		p.log.Debug("button for unknown notification", logx.String("id", id))
		return false
	}
	n.d.NotificationClicked()
	return true
}

func formatText(opts presenter.ShowOptions) string {
	var b strings.Builder
	if opts.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(opts.Title))
		b.WriteString("</b>")
	}
	if opts.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(html.EscapeString(opts.Body))
	}
	return b.String()
}

func (n *notification) Show(opts presenter.ShowOptions) {
	p := n.p
	p.mu.Lock()
	if n.shown {
		p.mu.Unlock()
		return
	}
	n.shown = true
	p.mu.Unlock()

	id := n.d.ID()
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(rm.Data("Open", openUnique, id)))
	sendOpt := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		ThreadID:            p.cfg.ThreadID,
		DisableNotification: opts.Silent,
		ReplyMarkup:         rm,
	}

	var what interface{} = formatText(opts)
	if opts.Icon != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, opts.Icon); err == nil {
			what = &tele.Photo{File: tele.FromReader(&buf), Caption: formatText(opts)}
		} else {
			p.log.Debug("icon encode failed; sending text", logx.String("id", id), logx.Err(err))
		}
	}

	msg, err := p.api.Send(&tele.Chat{ID: p.cfg.ChatID}, what, sendOpt)
	if err != nil {
		p.log.Warn("telegram send failed", logx.String("id", id), logx.Err(err))
		n.d.NotificationFailed()
		n.d.NotificationDestroyed()
		return
	}

	p.mu.Lock()
	n.msg = msg
	old := p.byID[id]
	p.byID[id] = n
	p.mu.Unlock()
	if old != nil && old != n {
		old.d.NotificationDestroyed()
	}
	n.d.NotificationDisplayed()
}

func (n *notification) Dismiss() {
	p := n.p
	id := n.d.ID()
	p.mu.Lock()
	cur, ok := p.byID[id]
	if !ok || cur != n {
		p.mu.Unlock()
		return
	}
	delete(p.byID, id)
	msg := n.msg
	p.mu.Unlock()

	if msg != nil {
		if err := p.api.Delete(msg); err != nil {
			p.log.Warn("telegram delete failed", logx.String("id", id), logx.Err(err))
		}
	}
	n.d.NotificationClosed()
	n.d.NotificationDestroyed()
}
