package telegram

import (
	"errors"
	"image"
	"reflect"
	"strconv"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"pushgate/internal/presenter"
	"pushgate/pkg/logx"
)

type fakeAPI struct {
	mu      sync.Mutex
	fail    error
	sent    []interface{}
	opts    []*tele.SendOptions
	deleted []int
}

func (a *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return nil, a.fail
	}
	a.sent = append(a.sent, what)
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			a.opts = append(a.opts, so)
		}
	}
	return &tele.Message{ID: len(a.sent), Chat: &tele.Chat{ID: 42}}, nil
}

func (a *fakeAPI) Delete(msg tele.Editable) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, _ := msg.MessageSig()
	n, err := strconv.Atoi(id)
	if err != nil {
		return err
	}
	a.deleted = append(a.deleted, n)
	return nil
}

type recordingDelegate struct {
	id string

	mu    sync.Mutex
	calls []string
}

func (d *recordingDelegate) record(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
}

func (d *recordingDelegate) ID() string             { return d.id }
func (d *recordingDelegate) NotificationDisplayed() { d.record("displayed") }
func (d *recordingDelegate) NotificationClicked()   { d.record("clicked") }
func (d *recordingDelegate) NotificationClosed()    { d.record("closed") }
func (d *recordingDelegate) NotificationFailed()    { d.record("failed") }
func (d *recordingDelegate) NotificationDestroyed() { d.record("destroyed") }

func (d *recordingDelegate) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func TestShowClickDismiss(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	p := newPresenter(api, Config{ChatID: 42, ThreadID: 7}, logx.Nop())
	d := &recordingDelegate{id: "n1"}
	n := p.CreateNotification(d)
	n.Show(presenter.ShowOptions{Title: "Hi <you>", Body: "B", Silent: true})

	if got := api.sent[0]; got != "<b>Hi &lt;you&gt;</b>\nB" {
		t.Fatalf("sent = %q", got)
	}
	so := api.opts[0]
	if !so.DisableNotification || so.ThreadID != 7 || so.ParseMode != tele.ModeHTML || so.ReplyMarkup == nil {
		t.Fatalf("send options = %+v", so)
	}
	if !p.click("n1") || p.click("other") {
		t.Fatal("click should hit only live notifications")
	}
	p.LookupNotification("n1").Dismiss()
	n.Dismiss()

	if !reflect.DeepEqual(api.deleted, []int{1}) {
		t.Fatalf("deleted = %v", api.deleted)
	}
	want := []string{"displayed", "clicked", "closed", "destroyed"}
	if got := d.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestShowWithIconSendsPhoto(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	p := newPresenter(api, Config{ChatID: 42}, logx.Nop())
	p.CreateNotification(&recordingDelegate{id: "n1"}).Show(presenter.ShowOptions{
		Title: "T", Icon: image.NewNRGBA(image.Rect(0, 0, 4, 4)),
	})
	photo, ok := api.sent[0].(*tele.Photo)
	if !ok || photo.Caption != "<b>T</b>" {
		t.Fatalf("sent = %#v", api.sent[0])
	}
}

func TestSendFailure(t *testing.T) {
	t.Parallel()
	p := newPresenter(&fakeAPI{fail: errors.New("blocked")}, Config{ChatID: 42}, logx.Nop())
	d := &recordingDelegate{id: "n1"}
	p.CreateNotification(d).Show(presenter.ShowOptions{Title: "T"})
	if got := d.Calls(); !reflect.DeepEqual(got, []string{"failed", "destroyed"}) {
		t.Fatalf("calls = %v", got)
	}
	if p.LookupNotification("n1") != nil {
		t.Fatal("failed notification should not be live")
	}
}

func TestOpenValidates(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token should fail")
	}
	if _, err := Open(Config{Token: "x"}, logx.Nop()); err == nil {
		t.Fatal("missing chat id should fail")
	}
}
