// Package client implements the Modbus client transaction engine: it
// drives a single function object against a transport with retry, timeout,
// flush and transaction-ID correlation policy, per spec §4.3.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/modbusd/modbusd/internal/activepart"
	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/function"
	"github.com/modbusd/modbusd/internal/transport"
)

// txCounter is the process-global MBAP transaction-ID source, shared by
// every client engine; it skips zero on overflow.
var txCounter uint32

func nextTransactionID() uint16 {
	for {
		id := uint16(atomic.AddUint32(&txCounter, 1))
		if id != 0 {
			return id
		}
	}
}

// DefaultMaxTries returns the spec's default retry budget for a transport:
// 1 for stream transports, 3 for datagram.
func DefaultMaxTries(t transport.Transport) int {
	if t.IsDatagram() {
		return 3
	}
	return 1
}

// Engine drives one function at a time against a transport. A single
// Engine must not run two functions concurrently; Run serializes callers.
type Engine struct {
	Transport         transport.Transport
	Framing           codec.Framing
	UnitOrAddress     byte
	FlushPeriod       time.Duration
	NominalSpinPeriod time.Duration

	mu                 sync.Mutex
	nextCallNeedsFlush bool

	actionMu sync.Mutex
	action   *activepart.Action
}

// NewEngine constructs a client engine bound to transport t.
func NewEngine(t transport.Transport, framing codec.Framing, unitOrAddress byte) *Engine {
	return &Engine{
		Transport:         t,
		Framing:           framing,
		UnitOrAddress:     unitOrAddress,
		NominalSpinPeriod: 20 * time.Millisecond,
	}
}

// Cancel requests cancellation of whatever function is currently running
// against this engine. Per spec §5, the read loop observes this the next
// time it wakes and abandons the request, leaving the transport to be
// flushed on the next call; Cancel is a no-op if nothing is running.
func (e *Engine) Cancel() {
	e.actionMu.Lock()
	act := e.action
	e.actionMu.Unlock()
	if act != nil {
		act.Cancel()
	}
}

// Run executes fn to completion and returns true iff it ended succeeded.
// fn.State always describes the outcome in full on return.
func (e *Engine) Run(fn *function.Function) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	act := activepart.NewAction("run_function")
	e.actionMu.Lock()
	e.action = act
	e.actionMu.Unlock()
	defer func() {
		e.actionMu.Lock()
		e.action = nil
		e.actionMu.Unlock()
	}()

	fn.Start()

	if e.nextCallNeedsFlush && e.FlushPeriod > 0 {
		_ = e.Transport.Flush(e.FlushPeriod)
	}
	e.nextCallNeedsFlush = false

	var tid uint16
	if e.Framing == codec.FramingMBAP {
		tid = nextTransactionID()
	}
	if err := fn.Request.PrepareRequestForSend(tid, e.UnitOrAddress); err != nil {
		fn.Fail(function.ErrKindSetup, "invalid_setup: "+err.Error(), false)
		return false
	}

	if !e.Transport.IsConnected() {
		fn.Fail(function.ErrKindLocal, "not_connected", false)
		e.nextCallNeedsFlush = true
		return false
	}

	maxTries := fn.MaxTries
	if maxTries <= 0 {
		maxTries = DefaultMaxTries(e.Transport)
	}

	var (
		lastKind     function.ErrorKind
		lastDesc     string
		lastFromPeer bool
	)

	for try := 1; try <= maxTries; try++ {
		fn.CurrentTry = try

		if try > 1 && e.FlushPeriod > 0 {
			_ = e.Transport.Flush(e.FlushPeriod)
		}

		if err := e.Transport.WriteAll(fn.Request.Bytes()); err != nil {
			lastKind, lastDesc, lastFromPeer = function.ErrKindLocal, "write_failed: "+err.Error(), false
			continue
		}

		ok, retry := e.readUntilDecoded(fn, act, &lastKind, &lastDesc, &lastFromPeer)
		if ok {
			return true
		}
		if !retry {
			return false
		}
	}

	fn.Fail(lastKind, lastDesc, lastFromPeer)
	e.nextCallNeedsFlush = true
	return false
}

// readUntilDecoded runs the bounded read loop for a single try. It returns
// (true, _) on success, (false, true) when the caller should retry, and
// (false, false) when the function has already reached its final failed
// state (a peer exception, or a cancellation, neither of which is ever
// retried).
func (e *Engine) readUntilDecoded(fn *function.Function, act *activepart.Action, lastKind *function.ErrorKind, lastDesc *string, lastFromPeer *bool) (bool, bool) {
	deadline := time.Now().Add(fn.TimeLimit)
	buf := make([]byte, 0, 264)
	scratch := make([]byte, 264)
	gotAnyBytes := false

	for {
		// Checked on every wake of the read loop, per spec's
		// request_cancel contract: abandon the request and leave the
		// transport to be flushed before the next call.
		if act.Cancelled() {
			fn.Fail(function.ErrKindLocal, "cancelled", false)
			e.nextCallNeedsFlush = true
			return false, false
		}

		readDeadline := time.Now().Add(e.NominalSpinPeriod)
		if readDeadline.After(deadline) {
			readDeadline = deadline
		}
		n, err := e.Transport.ReadSome(scratch, readDeadline)
		if err != nil {
			*lastKind, *lastDesc, *lastFromPeer = function.ErrKindLocal, "read_failed: "+err.Error(), false
			return false, true
		}
		if n > 0 {
			gotAnyBytes = true
			buf = append(buf, scratch[:n]...)
		}

		decoded, res := codec.AttemptDecodeResponse(fn.Request, buf)
		switch res.Outcome {
		case codec.Complete:
			if decoded.HasException {
				fn.Fail(function.ErrKindPeer, decoded.Exception.String(), true)
				return false, false
			}
			fn.Response = decoded
			fn.Succeed()
			return true, false
		case codec.Fatal:
			*lastKind, *lastDesc, *lastFromPeer = function.ErrKindLocal, "decode_fatal: "+res.Err.Error(), false
			return false, true
		case codec.NeedMore:
			if e.Transport.IsDatagram() && gotAnyBytes {
				*lastKind, *lastDesc, *lastFromPeer = function.ErrKindLocal, "incomplete_datagram", false
				return false, true
			}
			if time.Now().After(deadline) {
				if gotAnyBytes {
					*lastDesc = "timeout_partial_response"
				} else {
					*lastDesc = "timeout_no_response"
				}
				*lastKind, *lastFromPeer = function.ErrKindLocal, false
				return false, true
			}
			// keep reading within the same try
		}
	}
}
