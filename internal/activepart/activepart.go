// Package activepart implements the lifecycle scaffold the client and
// server engines sit on: a single worker goroutine draining a bounded
// action queue, a periodic service hook, a published immutable base-state
// snapshot, and a scoped busy-counter guard. It is the Go idiom's answer to
// the teacher corpus's thread-plus-channel worker loops, generalized into a
// reusable substrate rather than hand-rolled per engine.
package activepart

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UseState is the part's high-level lifecycle state.
type UseState int

const (
	UseStateNotAttempted UseState = iota
	UseStateAttemptOnline
	UseStateOnline
	UseStateOnlineUninitialized
	UseStateOnlineBusy
	UseStateAttemptOnlineFailed
	UseStateOffline
	UseStateMainThreadFailed
)

func (s UseState) String() string {
	switch s {
	case UseStateAttemptOnline:
		return "attempt_online"
	case UseStateOnline:
		return "online"
	case UseStateOnlineUninitialized:
		return "online_uninitialized"
	case UseStateOnlineBusy:
		return "online_busy"
	case UseStateAttemptOnlineFailed:
		return "attempt_online_failed"
	case UseStateOffline:
		return "offline"
	case UseStateMainThreadFailed:
		return "main_thread_failed"
	default:
		return "not_attempted"
	}
}

// ConnState is the part's connection-level state, orthogonal to UseState.
type ConnState int

const (
	ConnStateNotAttempted ConnState = iota
	ConnStateConnecting
	ConnStateConnected
	ConnStateConnectionFailed
	ConnStateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateConnectionFailed:
		return "connection_failed"
	case ConnStateDisconnected:
		return "disconnected"
	default:
		return "not_attempted"
	}
}

// BaseState is the externally visible, immutable health snapshot of a part.
type BaseState struct {
	UseState   UseState
	ConnState  ConnState
	ActionName string
	LastReason string
	Timestamp  time.Time
}

func (b BaseState) IsOnline() bool {
	return b.UseState == UseStateOnline || b.UseState == UseStateOnlineUninitialized || b.UseState == UseStateOnlineBusy
}
func (b BaseState) IsBusy() bool        { return b.UseState == UseStateOnlineBusy }
func (b BaseState) IsConnecting() bool  { return b.ConnState == ConnStateConnecting }
func (b BaseState) IsConnected() bool   { return b.ConnState == ConnStateConnected }
func (b BaseState) IsDefined() bool     { return b.UseState != UseStateNotAttempted }

// Flags configures the go-online/go-offline policy and failure handling,
// per spec §4.5.
type Flags struct {
	BaseMethodsSucceed bool

	GoOnlineUpdatesUseState             bool
	AcceptCustomChangeFromAttemptOnline bool
	GoOfflineUpdatesUseState            bool

	// GoOnlineFailureSetsAttemptOnlineFailed resolves Open Question 1: on a
	// failed go-online, set attempt_online_failed (true, the default) or
	// leave use_state at online (false).
	GoOnlineFailureSetsAttemptOnlineFailed bool

	MainThreadFailedOnPanic bool
}

// DefaultFlags matches the spec's stated defaults.
func DefaultFlags() Flags {
	return Flags{
		BaseMethodsSucceed:                     true,
		GoOnlineUpdatesUseState:                true,
		AcceptCustomChangeFromAttemptOnline:    true,
		GoOfflineUpdatesUseState:               true,
		GoOnlineFailureSetsAttemptOnlineFailed: true,
		MainThreadFailedOnPanic:                true,
	}
}

var (
	ErrQueueClosed = errors.New("activepart: action queue closed")
	ErrQueueFull   = errors.New("activepart: action queue full")
)

// ActionResult is what a submitted action resolves to.
type ActionResult struct {
	Value string
	Err   error
}

// ActionFunc is the deferred work a submitted action performs on the
// worker goroutine.
type ActionFunc func() (string, error)

// Action is a client-visible handle for a queued unit of work.
type Action struct {
	Name string
	run  ActionFunc
	done chan ActionResult

	cancelled int32
}

// NewAction creates a standalone action handle carrying only a name and a
// cancellation flag, for callers that need a cancellable handle on a unit
// of in-flight work without routing it through a Part's queue (e.g. the
// client engine's currently running function, per spec's request_cancel
// contract).
func NewAction(name string) *Action {
	return &Action{Name: name, done: make(chan ActionResult, 1)}
}

// Wait blocks until the action has been run by the worker and returns its
// result.
func (a *Action) Wait() ActionResult { return <-a.done }

// Cancel requests cooperative cancellation of this action. The code
// driving the action is expected to poll Cancelled at its own wake points
// and abandon the work; Cancel does not itself interrupt anything.
func (a *Action) Cancel() { atomic.StoreInt32(&a.cancelled, 1) }

// Cancelled reports whether Cancel has been called.
func (a *Action) Cancelled() bool { return atomic.LoadInt32(&a.cancelled) != 0 }

// Part is an active part: one worker goroutine, one action queue, one
// published base state.
type Part struct {
	Name   string
	Logger *zap.Logger
	Flags  Flags

	// MaxActionsPerPass bounds how many queued actions the worker drains
	// before calling MainLoopService and waiting again (1..100).
	MaxActionsPerPass int
	// WaitTime bounds how long the worker waits for a notification or a
	// new action between passes (0..500ms; 100ms default).
	WaitTime time.Duration
	// MainLoopService is called once per worker pass; the server engine
	// hangs its per-connection state machine off this hook.
	MainLoopService func()
	// GoOnlineHandler/GoOfflineHandler implement the part-specific side of
	// go-online/go-offline; nil means "succeed immediately" iff
	// Flags.BaseMethodsSucceed, else "not implemented".
	GoOnlineHandler  func(andInitialize bool) error
	GoOfflineHandler func() error

	mu          sync.Mutex
	state       BaseState
	queueClosed bool
	observers   []chan BaseState

	queue  chan *Action
	notify chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	busy   int64
}

// New constructs a stopped Part; call Start to launch its worker.
func New(name string, logger *zap.Logger, flags Flags) *Part {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxActions := 16
	waitTime := 100 * time.Millisecond
	return &Part{
		Name:              name,
		Logger:            logger.With(zap.String("part", name)),
		Flags:             flags,
		MaxActionsPerPass: maxActions,
		WaitTime:          waitTime,
		state:             BaseState{Timestamp: time.Now()},
		queue:             make(chan *Action, 256),
		notify:            make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start launches the worker goroutine. Call once.
func (p *Part) Start() {
	go p.loop()
}

// Snapshot returns the current published base state.
func (p *Part) Snapshot() BaseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers an observer channel that receives published
// base-state transitions, starting with the current state. The channel
// buffers 32 snapshots; publishing never blocks, so while an observer's
// buffer is full, further snapshots are dropped for that observer.
func (p *Part) Subscribe() <-chan BaseState {
	ch := make(chan BaseState, 32)
	p.mu.Lock()
	p.observers = append(p.observers, ch)
	ch <- p.state
	p.mu.Unlock()
	return ch
}

func (p *Part) publishLocked(use UseState, conn ConnState, actionName, reason string) {
	p.state = BaseState{
		UseState:   use,
		ConnState:  conn,
		ActionName: actionName,
		LastReason: reason,
		Timestamp:  time.Now(),
	}
	p.Logger.Debug("base state transition",
		zap.String("use_state", use.String()),
		zap.String("conn_state", conn.String()),
		zap.String("action", actionName),
		zap.String("reason", reason))
	for _, ch := range p.observers {
		select {
		case ch <- p.state:
		default:
		}
	}
}

func (p *Part) publish(use UseState, conn ConnState, actionName, reason string) {
	p.mu.Lock()
	p.publishLocked(use, conn, actionName, reason)
	p.mu.Unlock()
}

func (p *Part) refreshBusyLocked() {
	busy := atomic.LoadInt64(&p.busy) != 0 || len(p.queue) != 0
	s := p.state
	switch {
	case busy && s.UseState == UseStateOnline:
		p.publishLocked(UseStateOnlineBusy, s.ConnState, s.ActionName, s.LastReason)
	case !busy && s.UseState == UseStateOnlineBusy:
		p.publishLocked(UseStateOnline, s.ConnState, "", s.LastReason)
	}
}

// EnterBusy increments the busy counter and returns a release func that
// decrements it; the release is safe to call exactly once, including from
// a defer on a panicking goroutine.
func (p *Part) EnterBusy() func() {
	atomic.AddInt64(&p.busy, 1)
	p.mu.Lock()
	p.refreshBusyLocked()
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.AddInt64(&p.busy, -1)
			p.mu.Lock()
			p.refreshBusyLocked()
			p.mu.Unlock()
		})
	}
}

// Submit enqueues an action for the worker to run. It fails with
// ErrQueueClosed after Stop, or ErrQueueFull if the queue is saturated.
func (p *Part) Submit(name string, run ActionFunc) (*Action, error) {
	p.mu.Lock()
	closed := p.queueClosed
	p.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}
	act := &Action{Name: name, run: run, done: make(chan ActionResult, 1)}
	select {
	case p.queue <- act:
		select {
		case p.notify <- struct{}{}:
		default:
		}
		return act, nil
	default:
		return nil, ErrQueueFull
	}
}

// GoOnline submits the go-online action and waits for it to complete.
func (p *Part) GoOnline(andInitialize bool) error {
	act, err := p.Submit("go_online", func() (string, error) {
		return "", p.runGoOnline(andInitialize)
	})
	if err != nil {
		return err
	}
	return act.Wait().Err
}

func (p *Part) runGoOnline(andInitialize bool) error {
	if p.Flags.GoOnlineUpdatesUseState {
		p.publish(UseStateAttemptOnline, ConnStateConnecting, "go_online", "")
	}
	var err error
	if p.GoOnlineHandler != nil {
		err = p.GoOnlineHandler(andInitialize)
	} else if !p.Flags.BaseMethodsSucceed {
		err = errors.New("activepart: go_online not implemented")
	}

	if !p.Flags.GoOnlineUpdatesUseState {
		return err
	}
	s := p.Snapshot()
	if p.Flags.AcceptCustomChangeFromAttemptOnline && s.UseState != UseStateAttemptOnline {
		return err
	}
	if err != nil {
		if p.Flags.GoOnlineFailureSetsAttemptOnlineFailed {
			p.publish(UseStateAttemptOnlineFailed, ConnStateConnectionFailed, "go_online", err.Error())
		} else {
			p.publish(UseStateOnline, ConnStateConnectionFailed, "go_online", err.Error())
		}
		return err
	}
	if !andInitialize {
		p.publish(UseStateOnlineUninitialized, ConnStateConnected, "go_online", "")
	} else {
		p.publish(UseStateOnline, ConnStateConnected, "go_online", "")
	}
	return nil
}

// GoOffline submits the go-offline action and waits for it to complete.
func (p *Part) GoOffline() error {
	act, err := p.Submit("go_offline", func() (string, error) {
		return "", p.runGoOffline()
	})
	if err != nil {
		return err
	}
	return act.Wait().Err
}

func (p *Part) runGoOffline() error {
	if p.Flags.GoOfflineUpdatesUseState {
		p.publish(UseStateOffline, ConnStateDisconnected, "go_offline", "")
	}
	if p.GoOfflineHandler != nil {
		return p.GoOfflineHandler()
	}
	if !p.Flags.BaseMethodsSucceed {
		return errors.New("activepart: go_offline not implemented")
	}
	return nil
}

// Stop disables the queue, signals the worker, and waits for it to exit.
func (p *Part) Stop() {
	p.mu.Lock()
	if p.queueClosed {
		p.mu.Unlock()
		return
	}
	p.queueClosed = true
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

func (p *Part) loop() {
	defer close(p.done)
	defer p.recoverPanic()
	for {
		select {
		case <-p.stopCh:
			p.drainOnStop()
			return
		default:
		}

		for n := 0; n < p.MaxActionsPerPass; n++ {
			select {
			case act := <-p.queue:
				p.runAction(act)
			default:
				n = p.MaxActionsPerPass
			}
		}

		if p.MainLoopService != nil {
			p.MainLoopService()
		}

		select {
		case <-p.stopCh:
			p.drainOnStop()
			return
		case <-p.notify:
		case <-time.After(p.WaitTime):
		}
	}
}

func (p *Part) drainOnStop() {
	for {
		select {
		case act := <-p.queue:
			act.done <- ActionResult{Err: ErrQueueClosed}
		default:
			return
		}
	}
}

func (p *Part) runAction(act *Action) {
	release := p.EnterBusy()
	defer release()
	p.mu.Lock()
	s := p.state
	p.publishLocked(s.UseState, s.ConnState, act.Name, s.LastReason)
	p.mu.Unlock()

	value, err := act.run()
	act.done <- ActionResult{Value: value, Err: err}

	p.mu.Lock()
	s = p.state
	p.publishLocked(s.UseState, s.ConnState, "", s.LastReason)
	p.mu.Unlock()
}

func (p *Part) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	p.mu.Lock()
	p.queueClosed = true
	reason := zap.Any("panic", r)
	p.Logger.Error("active part worker panicked", reason)
	if p.Flags.MainThreadFailedOnPanic {
		p.publishLocked(UseStateMainThreadFailed, p.state.ConnState, "", "panic recovered")
	}
	p.mu.Unlock()
}
