// Package hostws is a vm.HostAdapter that delegates every memory
// transaction to a remote peer over a websocket connection, and pushes
// SendRead/SendEnd/SendAbort notifications back down the same connection.
// It plays the role spec.md's glossary describes for the original project's
// SNES-bridge transport: the VM runs embedded in a process that has no
// direct memory access of its own, and reaches the actual device only
// through messages exchanged with a companion process.
package hostws

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alttpo/iovm1/vm"
	"github.com/alttpo/iovm1/vmerr"
)

// DefaultTimeout is the WAIT_WHILE_* deadline applied when a procedure's
// TIM register is left at zero.
const DefaultTimeout = 5 * time.Second

// wireMsg is the single envelope type exchanged over the connection. Only
// the fields relevant to msg.Type are populated; this mirrors the teacher's
// api.Message tagged-union approach rather than one Go type per message.
type wireMsg struct {
	Type   string `json:"type"`
	Target byte   `json:"target,omitempty"`
	Addr   uint32 `json:"addr,omitempty"`
	Len    uint32 `json:"len,omitempty"`
	Value  byte   `json:"value,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Adapter implements vm.HostAdapter over a single *websocket.Conn. It is
// safe to use from only one VM's Exec loop at a time; wrap it per-VM rather
// than sharing it across concurrent procedures.
type Adapter struct {
	Conn *websocket.Conn

	deadline time.Time
}

// NewAdapter wraps an already-established websocket connection.
func NewAdapter(conn *websocket.Conn) *Adapter {
	return &Adapter{Conn: conn}
}

// OnOpcode implements vm.HostAdapter by issuing exactly one request/response
// round trip per invocation, matching the cooperative contract spec.md §4.4
// requires of every adapter regardless of transport.
func (a *Adapter) OnOpcode(v *vm.VM, cs *vm.CallbackState) {
	switch {
	case cs.O == vm.OpRead:
		a.doRead(v, cs)
	case cs.O == vm.OpWrite:
		a.doWrite(v, cs)
	case cs.O.IsWait():
		a.doWait(v, cs)
	}
}

func (a *Adapter) roundTrip(req wireMsg) (wireMsg, error) {
	if err := a.Conn.WriteJSON(req); err != nil {
		return wireMsg{}, fmt.Errorf("hostws: write %s: %w", req.Type, err)
	}
	var resp wireMsg
	if err := a.Conn.ReadJSON(&resp); err != nil {
		return wireMsg{}, fmt.Errorf("hostws: read %s response: %w", req.Type, err)
	}
	return resp, nil
}

func (a *Adapter) doRead(v *vm.VM, cs *vm.CallbackState) {
	resp, err := a.roundTrip(wireMsg{Type: "read_req", Target: cs.T, Addr: cs.A, Len: cs.Len})
	if err != nil {
		v.Fail(vmerr.TransportError)
		return
	}
	if resp.Error != "" {
		v.Fail(decodeDeviceError(resp.Error))
		return
	}

	if cs.V {
		cs.A += uint32(len(resp.Data))
	}
	cs.Complete = true
	a.SendRead(v, cs.Len, resp.Data)
}

func (a *Adapter) doWrite(v *vm.VM, cs *vm.CallbackState) {
	payload := make([]byte, cs.Len)
	got := cs.Program.ReadAt(cs.P, payload)
	payload = payload[:got]

	resp, err := a.roundTrip(wireMsg{Type: "write_req", Target: cs.T, Addr: cs.A, Data: payload})
	if err != nil {
		v.Fail(vmerr.TransportError)
		return
	}
	if resp.Error != "" {
		v.Fail(decodeDeviceError(resp.Error))
		return
	}

	cs.P += got
	if cs.V {
		cs.A += uint32(got)
	}
	cs.Complete = true
}

func (a *Adapter) doWait(v *vm.VM, cs *vm.CallbackState) {
	resp, err := a.roundTrip(wireMsg{Type: "peek_req", Target: cs.T, Addr: cs.A})
	if err != nil {
		v.Fail(vmerr.TransportError)
		return
	}
	if resp.Error != "" {
		v.Fail(decodeDeviceError(resp.Error))
		return
	}

	b := resp.Value & cs.Msk
	if !vm.Evaluate(cs.O.Comparison(), b, cs.Cmp) {
		cs.Complete = true
	}
	// else: leave Complete false; VM.Exec consults TimerElapsed next.
}

// decodeDeviceError maps the remote peer's error string to a vmerr.Code.
// Unrecognised strings fall back to TransportError rather than guessing.
func decodeDeviceError(s string) vmerr.Code {
	switch s {
	case "undefined":
		return vmerr.MemoryChipUndefined
	case "out_of_range":
		return vmerr.MemoryChipAddressOutOfRange
	case "not_readable":
		return vmerr.MemoryChipNotReadable
	case "not_writable":
		return vmerr.MemoryChipNotWritable
	default:
		return vmerr.TransportError
	}
}

// TimerReset implements vm.HostAdapter with a wall-clock deadline: Tim is
// interpreted as milliseconds, defaulting to DefaultTimeout when zero,
// since a network peer has no notion of VM step ticks.
func (a *Adapter) TimerReset(v *vm.VM) {
	timeout := DefaultTimeout
	if t := v.CallbackState().Tim; t != 0 {
		timeout = time.Duration(t) * time.Millisecond
	}
	a.deadline = time.Now().Add(timeout)
}

// TimerElapsed implements vm.HostAdapter.
func (a *Adapter) TimerElapsed(v *vm.VM) bool {
	return time.Now().After(a.deadline)
}

// TimerCleanup implements vm.HostAdapter.
func (a *Adapter) TimerCleanup(v *vm.VM) {
	a.deadline = time.Time{}
}

// SendEnd implements vm.HostAdapter by pushing a terminal notification to
// the remote peer.
func (a *Adapter) SendEnd(v *vm.VM) {
	_ = a.Conn.WriteJSON(wireMsg{Type: "end", Error: v.LastError().String()})
}

// SendAbort implements vm.HostAdapter.
func (a *Adapter) SendAbort(v *vm.VM) {
	_ = a.Conn.WriteJSON(wireMsg{Type: "abort", Error: v.LastError().String()})
}

// SendRead implements vm.HostAdapter by forwarding the bytes gathered by a
// completed READ down the same connection used to fetch them.
func (a *Adapter) SendRead(v *vm.VM, requestedLen uint32, data []byte) {
	_ = a.Conn.WriteJSON(wireMsg{Type: "read", Len: requestedLen, Data: data})
}
