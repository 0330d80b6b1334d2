// Package faults implements the error taxonomy used across transwacom's
// session, capture, and emulation layers so that every collaborator can
// react to a failure by kind rather than by string-matching.
package faults

import "fmt"

// Kind classifies an error the way the session engine and UI layer need to
// react to it (see base spec §7).
type Kind string

const (
	// Transient is a transport hiccup or short timeout; the session drains
	// and the failure is surfaced, but the peer is not blamed.
	Transient Kind = "transient"
	// Refused means a peer policy declined the session.
	Refused Kind = "refused"
	// Protocol means a malformed or unknown-type message was received;
	// the peer is not trusted further this process run.
	Protocol Kind = "protocol"
	// Resource means a grab failed, uinput was unavailable, or a port was
	// busy; never retried silently.
	Resource Kind = "resource"
	// Permission means the OS denied access to a device node.
	Permission Kind = "permission"
	// Config means the on-disk configuration was unreadable or malformed;
	// defaults are applied in memory and a warning is surfaced.
	Config Kind = "config"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without parsing messages.
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "hostcapture.grab"
	Peer string // peer name, when known; empty otherwise
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s: %s (peer=%s): %v", e.Kind, e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for the given kind/op/cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPeer attaches a peer identity to an existing fault for UI reporting.
func (e *Error) WithPeer(peer string) *Error {
	e2 := *e
	e2.Peer = peer
	return &e2
}

// Sentinel causes used across packages; wrapped into an *Error by the
// component that first observes them.
var (
	ErrDeviceBusy      = fmt.Errorf("device busy")
	ErrNotFound        = fmt.Errorf("device not found")
	ErrUnsupported     = fmt.Errorf("no capability overlap")
	ErrRefusedPolicy   = fmt.Errorf("refused by peer policy")
	ErrRefusedTimeout  = fmt.Errorf("authorization timed out")
	ErrRefusedDisabled = fmt.Errorf("device kind disabled")
	ErrProtocolVersion = fmt.Errorf("incompatible protocol major version")
	ErrProtocolType    = fmt.Errorf("unknown message type")
	ErrFrameTooLarge   = fmt.Errorf("message exceeds 64KiB frame limit")
	ErrLivenessTimeout = fmt.Errorf("no inbound traffic within liveness window")
)
