package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/modbusd/modbusd/internal/activepart"
	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/transport"
)

// connState is the per-connection state machine of spec §4.4, distinct
// from the active-part's own UseState/ConnState.
type connState int

const (
	connIdle connState = iota
	connAccumulating
	connResponding
)

// DefaultTimeLimit bounds how long a partially accumulated request may sit
// on a stream transport before being discarded.
const DefaultTimeLimit = 3 * time.Second

// DefaultSpinPeriod bounds each individual ReadSome call the engine issues
// from its active-part worker pass.
const DefaultSpinPeriod = 20 * time.Millisecond

// Engine listens for requests on one transport and replies, built on top of
// an activepart.Part whose MainLoopService hook runs the state machine.
type Engine struct {
	Transport     transport.Transport
	Framing       codec.Framing
	UnitOrAddress byte
	RespondToAll  bool
	TimeLimit     time.Duration
	SpinPeriod    time.Duration
	Handler       Handler
	Logger        *zap.Logger

	Part *activepart.Part

	state           connState
	buf             []byte
	bufferFillStart time.Time
	pendingResponse *codec.ADU
	scratch         [264]byte
}

// NewEngine constructs a server engine and the active part that drives it.
// Call Start to begin servicing the transport.
func NewEngine(t transport.Transport, framing codec.Framing, unitOrAddress byte, handler Handler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		Transport:     t,
		Framing:       framing,
		UnitOrAddress: unitOrAddress,
		TimeLimit:     DefaultTimeLimit,
		SpinPeriod:    DefaultSpinPeriod,
		Handler:       handler,
		Logger:        logger.With(zap.String("handler", handler.Name())),
	}
	e.Part = activepart.New(handler.Name(), e.Logger, activepart.DefaultFlags())
	e.Part.MainLoopService = e.tick
	e.Part.GoOnlineHandler = func(bool) error { return e.Transport.Connect() }
	e.Part.GoOfflineHandler = func() error { return e.Transport.Disconnect() }
	return e
}

// Start launches the underlying active part's worker goroutine and then
// drives it online, which invokes GoOnlineHandler (e.Transport.Connect)
// on the worker goroutine. The transport is not actually connected until
// this call returns.
func (e *Engine) Start() error {
	e.Part.Start()
	return e.Part.GoOnline(true)
}

// Stop gracefully stops the underlying active part.
func (e *Engine) Stop() { e.Part.Stop() }

// tick is the active-part's main_loop_service hook: it runs the handler's
// own service tick, then advances the connection state machine by at most
// one read or one write.
func (e *Engine) tick() {
	e.Handler.Service()
	switch e.state {
	case connIdle, connAccumulating:
		e.readAndDecode()
	case connResponding:
		e.writeResponse()
	}
}

func (e *Engine) readAndDecode() {
	deadline := time.Now().Add(e.SpinPeriod)
	n, err := e.Transport.ReadSome(e.scratch[:], deadline)
	if err != nil {
		e.Logger.Warn("server read failed", zap.Error(err))
		return
	}
	if n == 0 {
		e.checkAccumulationTimeout()
		return
	}

	if e.state == connIdle {
		e.state = connAccumulating
		e.bufferFillStart = time.Now()
		e.buf = e.buf[:0]
	}
	e.buf = append(e.buf, e.scratch[:n]...)

	req, res := codec.AttemptDecodeRequest(e.Framing, e.buf)
	switch res.Outcome {
	case codec.NeedMore:
		if e.Transport.IsDatagram() {
			e.Logger.Warn("incomplete datagram request discarded")
			e.resetIdle()
			return
		}
		e.checkAccumulationTimeout()
	case codec.Fatal:
		e.Logger.Warn("request decode_fatal", zap.Error(res.Err))
		e.resetIdle()
	case codec.Complete:
		resp := Dispatch(req, e.Handler, e.RespondToAll, e.UnitOrAddress)
		if resp == nil {
			e.resetIdle()
			return
		}
		e.pendingResponse = resp
		e.state = connResponding
	}
}

func (e *Engine) checkAccumulationTimeout() {
	if e.state == connAccumulating && time.Since(e.bufferFillStart) > e.TimeLimit {
		e.Logger.Warn("accumulation timed out, discarding buffer")
		e.resetIdle()
	}
}

func (e *Engine) writeResponse() {
	resp := e.pendingResponse
	e.pendingResponse = nil
	if resp == nil {
		e.resetIdle()
		return
	}
	if err := e.Transport.WriteAll(resp.Bytes()); err != nil {
		e.Logger.Warn("server write failed", zap.Error(err))
	}
	e.resetIdle()
}

func (e *Engine) resetIdle() {
	e.state = connIdle
	e.buf = e.buf[:0]
}
