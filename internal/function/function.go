// Package function implements the Modbus function object: a stateful
// container pairing a request ADU with a response ADU, shared by the
// client and server engines.
package function

import (
	"time"

	"github.com/modbusd/modbusd/internal/codec"
)

// State is the function's completion state machine.
type State int

const (
	StateReady State = iota
	StateInProgress
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateInProgress:
		return "in_progress"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a failed function's cause, per spec §7.
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	ErrKindLocal
	ErrKindPeer
	ErrKindSetup
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindLocal:
		return "local"
	case ErrKindPeer:
		return "peer"
	case ErrKindSetup:
		return "setup"
	default:
		return "none"
	}
}

// Error is the structured failure reason attached to a failed function.
type Error struct {
	Kind           ErrorKind
	Description    string
	ReportedByPeer bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Kind.String() + ": " + e.Description
}

// Function pairs a request ADU with its response ADU and tracks the
// client engine's run() state across tries.
type Function struct {
	Request  *codec.ADU
	Response *codec.ADU

	TimeLimit time.Duration
	MaxTries  int

	CurrentTry int
	State      State
	Err        *Error

	LastTransitionAt time.Time
	LastSuccessAt    time.Time
}

// New creates a function object for fc in the given framing, with both
// request and response ADUs allocated up front so the engine can reuse
// them across retries.
func New(framing codec.Framing, fc codec.FunctionCode, timeLimit time.Duration, maxTries int) (*Function, error) {
	req, err := codec.NewADU(codec.RoleRequest, framing, fc)
	if err != nil {
		return nil, err
	}
	resp, err := codec.NewADU(codec.RoleResponse, framing, fc)
	if err != nil {
		return nil, err
	}
	return &Function{
		Request:   req,
		Response:  resp,
		TimeLimit: timeLimit,
		MaxTries:  maxTries,
		State:     StateReady,
	}, nil
}

func (f *Function) transition(s State) {
	f.State = s
	f.LastTransitionAt = time.Now()
}

// Start marks the function in_progress and resets the try counter; called
// once per run() invocation, not once per try.
func (f *Function) Start() {
	f.CurrentTry = 0
	f.Err = nil
	f.transition(StateInProgress)
}

// Succeed marks the function succeeded and stamps LastSuccessAt.
func (f *Function) Succeed() {
	f.transition(StateSucceeded)
	f.LastSuccessAt = f.LastTransitionAt
	f.Err = nil
}

// Fail marks the function failed with the given structured reason.
func (f *Function) Fail(kind ErrorKind, description string, reportedByPeer bool) {
	f.transition(StateFailed)
	f.Err = &Error{Kind: kind, Description: description, ReportedByPeer: reportedByPeer}
}

// Succeeded reports whether the function's last run ended in success,
// matching the client engine's run() contract.
func (f *Function) Succeeded() bool { return f.State == StateSucceeded }
