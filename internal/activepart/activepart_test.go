package activepart

import (
	"errors"
	"testing"
	"time"
)

func newTestPart(t *testing.T) *Part {
	t.Helper()
	p := New("test", nil, DefaultFlags())
	p.WaitTime = 10 * time.Millisecond
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestGoOnlineOffline(t *testing.T) {
	p := newTestPart(t)
	if err := p.GoOnline(true); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}
	if got := p.Snapshot().UseState; got != UseStateOnline {
		t.Fatalf("UseState = %v, want online", got)
	}
	if err := p.GoOffline(); err != nil {
		t.Fatalf("GoOffline: %v", err)
	}
	if got := p.Snapshot().UseState; got != UseStateOffline {
		t.Fatalf("UseState = %v, want offline", got)
	}
}

func TestGoOnlineFailureSetsAttemptOnlineFailed(t *testing.T) {
	p := New("test", nil, DefaultFlags())
	p.WaitTime = 10 * time.Millisecond
	p.GoOnlineHandler = func(bool) error { return errors.New("boom") }
	p.Start()
	defer p.Stop()

	if err := p.GoOnline(true); err == nil {
		t.Fatalf("expected GoOnline to fail")
	}
	if got := p.Snapshot().UseState; got != UseStateAttemptOnlineFailed {
		t.Fatalf("UseState = %v, want attempt_online_failed", got)
	}
}

func TestSubmitAfterStopFails(t *testing.T) {
	p := New("test", nil, DefaultFlags())
	p.Start()
	p.Stop()
	if _, err := p.Submit("noop", func() (string, error) { return "", nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Submit after Stop: got %v, want ErrQueueClosed", err)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	p := newTestPart(t)
	ch := p.Subscribe()
	<-ch // initial snapshot
	if err := p.GoOnline(true); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-ch:
			if s.UseState == UseStateOnline {
				return
			}
		case <-deadline:
			t.Fatalf("never observed online transition")
		}
	}
}

func TestEnterBusyMarksOnlineBusy(t *testing.T) {
	p := newTestPart(t)
	if err := p.GoOnline(true); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}
	release := p.EnterBusy()
	if got := p.Snapshot().UseState; got != UseStateOnlineBusy {
		t.Fatalf("UseState = %v, want online_busy", got)
	}
	release()
	if got := p.Snapshot().UseState; got != UseStateOnline {
		t.Fatalf("UseState = %v, want online after release", got)
	}
}
