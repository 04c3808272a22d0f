package permission

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pushgate/pkg/logx"
)

// scriptedAuthority answers every request with each of answers, in order.
type scriptedAuthority struct {
	answers []Status
	async   bool
	calls   atomic.Int32
}

func (a *scriptedAuthority) Check(context.Context, Query) Status { return a.answers[0] }

func (a *scriptedAuthority) RequestPermission(_ context.Context, _ Query, cb func(Status)) {
	a.calls.Add(1)
	run := func() {
		for _, s := range a.answers {
			cb(s)
		}
	}
	if a.async {
		go run()
		return
	}
	run()
}

func TestDecisionResolvesOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		answers []Status
		async   bool
		want    bool
	}{
		{name: "granted", answers: []Status{Granted}, want: true},
		{name: "denied", answers: []Status{Denied}, want: false},
		{name: "ask", answers: []Status{Other}, want: false},
		{name: "granted then denied", answers: []Status{Granted, Denied}, want: true},
		{name: "denied then granted", answers: []Status{Denied, Granted}, want: false},
		{name: "async granted twice", answers: []Status{Granted, Granted}, async: true, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := &scriptedAuthority{answers: tt.answers, async: tt.async}
			g := NewGate(auth, logx.Nop())
			d := g.Request(context.Background(), Query{Origin: "https://x"})

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			got, err := d.Wait(ctx)
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if got != tt.want || d.Granted() != tt.want {
				t.Fatalf("granted = %v, want %v", got, tt.want)
			}
			if n := auth.calls.Load(); n != 1 {
				t.Fatalf("authority asked %d times, want 1", n)
			}
		})
	}
}

func TestDecisionCountsDuplicateAnswers(t *testing.T) {
	t.Parallel()
	g := NewGate(&scriptedAuthority{answers: []Status{Granted, Denied, Granted}}, logx.Nop())
	d := g.Request(context.Background(), Query{Origin: "https://x"})
	if !d.Granted() {
		t.Fatal("expected granted")
	}
	if n := g.Duplicates(); n != 2 {
		t.Fatalf("Duplicates = %d, want 2", n)
	}
}

type silentAuthority struct{}

func (silentAuthority) Check(context.Context, Query) Status                    { return Other }
func (silentAuthority) RequestPermission(context.Context, Query, func(Status)) {}

func TestUnresolvedDecision(t *testing.T) {
	t.Parallel()
	d := NewGate(silentAuthority{}, logx.Nop()).Request(context.Background(), Query{})
	if _, ok := d.Status(); ok {
		t.Fatal("decision should be pending")
	}
	if d.Granted() {
		t.Fatal("pending decision must not be granted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.Wait(ctx); err == nil {
		t.Fatal("Wait should time out")
	}
}

func TestNilAuthorityAnswersOther(t *testing.T) {
	t.Parallel()
	g := NewGate(nil, logx.Nop())
	if s := g.Check(context.Background(), Query{}); s != Other {
		t.Fatalf("Check = %v", s)
	}
	if s, ok := g.Request(context.Background(), Query{}).Status(); !ok || s != Other {
		t.Fatalf("Request = %v, %v", s, ok)
	}
	if d := Resolved(Granted); !d.Granted() {
		t.Fatal("Resolved(Granted) should be granted")
	}
}

func TestSetAuthority(t *testing.T) {
	t.Parallel()
	g := NewGate(AllowAll{}, logx.Nop())
	if !g.Request(context.Background(), Query{}).Granted() {
		t.Fatal("allow-all should grant")
	}
	g.SetAuthority(&scriptedAuthority{answers: []Status{Denied}})
	if g.Request(context.Background(), Query{}).Granted() {
		t.Fatal("swapped authority should deny")
	}
	if s := g.Check(context.Background(), Query{}); s != Denied {
		t.Fatalf("Check = %v, want denied", s)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	tests := map[string]Status{"granted": Granted, "DENIED": Denied, "": Other, "ask": Other}
	for in, want := range tests {
		got, err := ParseStatus(in)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("maybe"); err == nil {
		t.Fatal("expected error")
	}
}
