package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pushgate/internal/correlation"
	"pushgate/internal/eventbus"
	"pushgate/internal/notification"
	"pushgate/internal/permission"
	"pushgate/internal/presenter"
	"pushgate/internal/presenter/headless"
	"pushgate/internal/scriptevents"
	"pushgate/pkg/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv   *Server
	disp  *notification.Dispatcher
	head  *headless.Presenter
	host  *presenter.Host
	sink  *scriptevents.BusSink
	tabs  *scriptevents.TabDirectory
	store correlation.Store
	diag  <-chan eventbus.Event
}

func setup(t *testing.T, auth permission.Authority) *testEnv {
	t.Helper()
	bus := eventbus.New()
	diagCh, unsub := bus.Subscribe(256)
	env := &testEnv{
		head:  headless.New(logx.Nop()),
		sink:  scriptevents.NewBusSink(bus),
		tabs:  scriptevents.NewTabDirectory(),
		store: correlation.NewMemory(time.Minute, 0, nil),
		diag:  diagCh,
	}
	env.host = presenter.NewHost(env.head)
	env.disp = notification.New(notification.Options{
		Store:      env.store,
		Gate:       permission.NewGate(auth, logx.Nop()),
		Presenters: env.host,
		Sink:       env.sink,
		Tabs:       env.tabs,
		Bus:        bus,
	})
	env.disp.Start(context.Background())
	env.srv = New(Deps{
		Service:    env.disp,
		Tabs:       env.tabs,
		Sink:       env.sink,
		Presenters: env.host,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		env.disp.Stop(ctx)
		unsub()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestIngressThenDisplay(t *testing.T) {
	t.Parallel()
	env := setup(t, permission.AllowAll{})

	w := env.do(t, http.MethodPost, "/v1/permission/ingress", gin.H{"origin": "https://x", "requester": 7})
	if w.Code != http.StatusOK {
		t.Fatalf("ingress status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	key, _ := resp["key"].(string)
	if resp["status"] != "granted" || key == "" {
		t.Fatalf("ingress = %v", resp)
	}

	var icon bytes.Buffer
	if err := png.Encode(&icon, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	w = env.do(t, http.MethodPost, "/v1/notifications", gin.H{
		"id": "n1", "origin": "https://x", "title": "T", "body": "B",
		"requester": key, "icon_png": base64.StdEncoding.EncodeToString(icon.Bytes()),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("display status = %d: %s", w.Code, w.Body.String())
	}
	ev, ok := eventbus.Wait(env.diag, notification.EventShown, 2*time.Second)
	if !ok {
		t.Fatal("notification not shown")
	}
	if got := ev.Data.(notification.DispatchEvent).Requester; got != 7 {
		t.Fatalf("requester = %d, want 7", got)
	}
	opts, ok := env.head.Options("n1")
	if !ok || opts.Title != "T" || opts.Icon == nil {
		t.Fatalf("shown options = %+v", opts)
	}

	w = env.do(t, http.MethodPost, "/v1/notifications/n1/click", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("click status = %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/v1/notifications/n1", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("close status = %d", w.Code)
	}
	if _, ok := eventbus.Wait(env.diag, notification.EventClosed, 2*time.Second); !ok {
		t.Fatal("notification not closed")
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	env := setup(t, permission.AllowAll{})
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "ingress without origin", method: http.MethodPost, path: "/v1/permission/ingress", body: gin.H{"requester": 1}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "bad icon", method: http.MethodPost, path: "/v1/notifications", body: gin.H{"origin": "https://x", "icon_png": "!!"}, status: http.StatusBadRequest, code: "bad_icon"},
		{name: "bad requester id", method: http.MethodPut, path: "/v1/requesters/abc/tab", body: gin.H{"tab": 1}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "missing tab", method: http.MethodPut, path: "/v1/requesters/1/tab", body: gin.H{}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "click unknown", method: http.MethodPost, path: "/v1/notifications/nope/click", status: http.StatusNotFound, code: "not_found"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			errObj, _ := decode(t, w)["error"].(map[string]any)
			if errObj["code"] != tt.code || errObj["message"] == "" {
				t.Fatalf("error = %v", errObj)
			}
		})
	}
}

func TestDecisionAndPersistent(t *testing.T) {
	t.Parallel()
	env := setup(t, permissionDenyAll{})

	w := env.do(t, http.MethodPost, "/v1/permission/decision", gin.H{"origin": "https://x", "requester": 1})
	if got := decode(t, w)["status"]; got != "denied" {
		t.Fatalf("decision = %v", got)
	}
	if w := env.do(t, http.MethodPost, "/v1/notifications/persistent", gin.H{"origin": "https://x"}); w.Code != http.StatusAccepted {
		t.Fatalf("persistent display = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/v1/notifications/persistent/p1", nil); w.Code != http.StatusAccepted {
		t.Fatalf("persistent close = %d", w.Code)
	}
	resp := decode(t, env.do(t, http.MethodGet, "/v1/notifications", nil))
	if ids, _ := resp["ids"].([]any); len(ids) != 0 || resp["supports_sync"] != false {
		t.Fatalf("list = %v", resp)
	}
	if len(env.head.Live()) != 0 {
		t.Fatal("presenter should be untouched")
	}
}

type permissionDenyAll struct{}

func (permissionDenyAll) Check(context.Context, permission.Query) permission.Status {
	return permission.Denied
}

func (permissionDenyAll) RequestPermission(_ context.Context, _ permission.Query, cb func(permission.Status)) {
	cb(permission.Denied)
}

func TestClickRequiresHeadless(t *testing.T) {
	t.Parallel()
	env := setup(t, permission.AllowAll{})
	env.host.Swap(nil)
	w := env.do(t, http.MethodPost, "/v1/notifications/n1/click", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if health := decode(t, env.do(t, http.MethodGet, "/v1/health", nil)); health["presenter"] != false {
		t.Fatalf("health = %v", health)
	}
}

func TestTabsFlowIntoEvents(t *testing.T) {
	t.Parallel()
	env := setup(t, permission.AllowAll{})
	if w := env.do(t, http.MethodPut, "/v1/requesters/7/tab", gin.H{"tab": 42}); w.Code != http.StatusNoContent {
		t.Fatalf("set tab = %d", w.Code)
	}
	if tab, ok := env.tabs.Tab(7); !ok || tab != 42 {
		t.Fatalf("tab = %d, %v", tab, ok)
	}
	if w := env.do(t, http.MethodDelete, "/v1/requesters/7/tab", nil); w.Code != http.StatusNoContent {
		t.Fatalf("forget tab = %d", w.Code)
	}
	if _, ok := env.tabs.Tab(7); ok {
		t.Fatal("tab should be forgotten")
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	env := setup(t, permission.AllowAll{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.srv.Handler().ServeHTTP(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.sink.Available() {
		if time.Now().After(deadline) {
			t.Fatal("stream never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := env.sink.Emit(context.Background(), scriptevents.Event{Name: scriptevents.Clicked, NotificationID: "n9"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	// Give the handler a moment to write before ending the stream.
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event:notification-clicked") || !strings.Contains(body, `"notification_id":"n9"`) {
		t.Fatalf("stream body = %q", body)
	}
	if env.sink.Available() {
		t.Fatal("runtime should detach when the stream ends")
	}
}
