// Package wire implements the transwacom session protocol framing: four
// newline-terminated JSON message kinds carried over a reliable byte
// stream (base spec §4.3). It has no notion of sockets — Reader and Encode
// take any io.Reader/io.Writer, so the session engine drives them over a
// net.Conn and the session tests over a net.Pipe.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"transwacom/internal/faults"
)

// MaxFrameSize is the maximum encoded size of a single message, including
// its trailing newline (base spec §4.3: "Messages exceeding 64 KiB are a
// protocol violation").
const MaxFrameSize = 64 * 1024

// ProtocolVersion is the version this build implements. Only the major
// component before '.' is checked on handshake (base spec §9, second open
// question: mismatching majors are Protocol errors, minor differences
// ignored).
const ProtocolVersion = "1.0"

// Type identifies which of the four message kinds a frame carries.
type Type string

const (
	TypeHandshake    Type = "handshake"
	TypeAuthResponse Type = "auth_response"
	TypeEvent        Type = "event"
	TypeBye          Type = "bye"
)

// AxisRange describes one absolute axis's reconstruction parameters,
// required to build a faithful virtual device (base spec §3, CapabilityProfile).
type AxisRange struct {
	Min        int `json:"min"`
	Max        int `json:"max"`
	Resolution int `json:"resolution"`
}

// CapabilityProfile is the portable subset of a PhysicalDevice carried in
// the handshake (base spec §3).
type CapabilityProfile struct {
	Kind         string               `json:"kind"`
	DisplayName  string               `json:"display_name"`
	Capabilities []string             `json:"capabilities"`
	Axes         map[string]AxisRange `json:"axes,omitempty"`
}

// Handshake is sent Host -> Consumer to open a session.
type Handshake struct {
	Type     Type                `json:"type"`
	HostName string              `json:"host_name"`
	HostID   string              `json:"host_id"`
	Version  string              `json:"version"`
	Devices  []CapabilityProfile `json:"devices"`
}

// AuthResponse is sent Consumer -> Host once the peer policy decision (or
// UI prompt) resolves.
type AuthResponse struct {
	Type         Type   `json:"type"`
	Accepted     bool   `json:"accepted"`
	ConsumerName string `json:"consumer_name"`
	ConsumerID   string `json:"consumer_id"`
	Reason       string `json:"reason,omitempty"`
}

// Event is one input event within a batch. Code is the symbolic axis/button
// name (see internal/evdevcodes); Ts is a monotonic float seconds.
type Event struct {
	Code  string  `json:"code"`
	Value int     `json:"value"`
	Ts    float64 `json:"ts"`
}

// EventBatch is sent Host -> Consumer. A frame may carry 1..N events (or,
// for a liveness keepalive, zero); the last element of a logical batch is
// SYN_REPORT.
type EventBatch struct {
	Type       Type    `json:"type"`
	DeviceType string  `json:"device_type"`
	Events     []Event `json:"events"`
}

// Bye is advisory teardown notice sent by either side. The receiver must
// still run its own full teardown regardless of whether it arrives.
type Bye struct {
	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// envelope is decoded first to dispatch on Type without double-parsing the
// whole message twice for every caller.
type envelope struct {
	Type Type `json:"type"`
}

// Encode marshals a message value (one of Handshake, AuthResponse,
// EventBatch, Bye) and enforces the frame-size limit before it is ever
// written; callers must set the Type field themselves so it round-trips.
func Encode(w io.Writer, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return faults.New(faults.Protocol, "wire.Encode", err)
	}
	if len(data)+1 > MaxFrameSize {
		return faults.New(faults.Protocol, "wire.Encode", faults.ErrFrameTooLarge)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return faults.New(faults.Transient, "wire.Encode", err)
	}
	return nil
}

// Reader decodes newline-delimited JSON frames from an underlying stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for frame-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, MaxFrameSize)}
}

// ReadFrame reads one newline-terminated frame and returns it decoded into
// one of *Handshake, *AuthResponse, *EventBatch, *Bye. Unknown top-level
// keys are ignored by encoding/json already; an unknown Type is a Protocol
// fault (base spec §4.3, forward-compat rule).
func (r *Reader) ReadFrame() (any, int, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, 0, io.EOF
		}
		if err == bufio.ErrBufferFull {
			return nil, 0, faults.New(faults.Protocol, "wire.ReadFrame", faults.ErrFrameTooLarge)
		}
		return nil, 0, faults.New(faults.Transient, "wire.ReadFrame", err)
	}
	n := len(line)
	if n > MaxFrameSize {
		return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", faults.ErrFrameTooLarge)
	}

	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", err)
	}

	var msg any
	switch env.Type {
	case TypeHandshake:
		var m Handshake
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", err)
		}
		msg = &m
	case TypeAuthResponse:
		var m AuthResponse
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", err)
		}
		msg = &m
	case TypeEvent:
		var m EventBatch
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", err)
		}
		msg = &m
	case TypeBye:
		var m Bye
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", err)
		}
		msg = &m
	default:
		return nil, n, faults.New(faults.Protocol, "wire.ReadFrame", fmt.Errorf("%w: %q", faults.ErrProtocolType, env.Type))
	}
	return msg, n, nil
}

// MajorVersion returns the portion of a "MAJOR.MINOR" version string before
// the dot, used to enforce the major-version compatibility rule.
func MajorVersion(version string) string {
	for i, c := range version {
		if c == '.' {
			return version[:i]
		}
	}
	return version
}
