package presenter

import "testing"

type closingPresenter struct{ closed bool }

func (*closingPresenter) CreateNotification(Delegate) Notification { return nil }
func (*closingPresenter) LookupNotification(string) Notification   { return nil }
func (p *closingPresenter) Close() error                           { p.closed = true; return nil }

func TestHostSwap(t *testing.T) {
	t.Parallel()
	var h Host
	if h.Get() != nil {
		t.Fatal("zero Host should hold no presenter")
	}
	a := &closingPresenter{}
	if old := h.Swap(a); old != nil {
		t.Fatalf("Swap returned %v", old)
	}
	if h.Get() != a {
		t.Fatal("Get should return the installed presenter")
	}
	if err := h.Close(); err != nil || !a.closed {
		t.Fatalf("Close = %v, closed = %v", err, a.closed)
	}
	if h.Get() != nil {
		t.Fatal("Close should uninstall the presenter")
	}
	var nilHost *Host
	if nilHost.Get() != nil {
		t.Fatal("nil Host should hold no presenter")
	}
}
