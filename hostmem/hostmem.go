// Package hostmem is a reference vm.HostAdapter backed by fixed, named,
// permissioned in-memory targets. It plays the role spec.md §1 places
// explicitly outside the VM core's scope (the physical memory controller),
// and is the test double for the hostmem and vmmonitor suites (package vm's
// own suite uses an inline scripted adapter instead).
package hostmem

import (
	"github.com/alttpo/iovm1/vm"
	"github.com/alttpo/iovm1/vmerr"
)

// Permission is a bitmask of what a Target allows.
type Permission byte

const (
	PermNone  Permission = 0
	PermRead  Permission = 1 << 0
	PermWrite Permission = 1 << 1
)

// Target is one named, permissioned memory region, addressed by its low
// 6-bit target id (Channel.Target()) from within a procedure.
type Target struct {
	Name        string
	Data        []byte
	Permissions Permission
}

// Adapter implements vm.HostAdapter against a fixed table of Targets,
// indexed by target id. Every READ/WRITE completes synchronously within a
// single OnOpcode call: there is no asynchronous DMA to model for an
// in-process memory region, so Complete is true on the one invocation a
// transaction needs. WAIT_WHILE_* polls one byte per invocation, exactly
// as spec.md §4.4's cooperative contract expects.
type Adapter struct {
	Targets map[byte]*Target

	// Ticks is how many OnOpcode invocations a WAIT_WHILE_* transaction
	// may take before TimerElapsed reports true. It stands in for
	// spec.md's host wall-clock/frame timer (explicitly out of the VM
	// core's scope, spec.md §1).
	Ticks int

	ticksLeft int
}

// NewAdapter constructs an Adapter with an empty target table and a
// generous default tick budget.
func NewAdapter() *Adapter {
	return &Adapter{Targets: make(map[byte]*Target), Ticks: 1 << 20}
}

// AddTarget registers a named target under id.
func (a *Adapter) AddTarget(id byte, name string, size int, perm Permission) *Target {
	t := &Target{Name: name, Data: make([]byte, size), Permissions: perm}
	a.Targets[id] = t
	return t
}

func (a *Adapter) target(v *vm.VM, id byte) (*Target, bool) {
	t, ok := a.Targets[id]
	if !ok {
		v.Fail(vmerr.MemoryChipUndefined)
		return nil, false
	}
	return t, true
}

// OnOpcode implements vm.HostAdapter.
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

func (a *Adapter) doRead(v *vm.VM, cs *vm.CallbackState) {
	t, ok := a.target(v, cs.T)
	if !ok {
		return
	}
	if t.Permissions&PermRead == 0 {
		v.Fail(vmerr.MemoryChipNotReadable)
		return
	}
	addr, n := int(cs.A), int(cs.Len)
	if addr < 0 || n < 0 || addr+n > len(t.Data) {
		v.Fail(vmerr.MemoryChipAddressOutOfRange)
		return
	}

	buf := make([]byte, n)
	copy(buf, t.Data[addr:addr+n])

	if cs.V {
		cs.A += uint32(n)
	}
	cs.Complete = true
}

func (a *Adapter) doWrite(v *vm.VM, cs *vm.CallbackState) {
	t, ok := a.target(v, cs.T)
	if !ok {
		return
	}
	if t.Permissions&PermWrite == 0 {
		v.Fail(vmerr.MemoryChipNotWritable)
		return
	}
	addr, n := int(cs.A), int(cs.Len)
	if addr < 0 || n < 0 || addr+n > len(t.Data) {
		v.Fail(vmerr.MemoryChipAddressOutOfRange)
		return
	}

	payload := make([]byte, n)
	got := cs.Program.ReadAt(cs.P, payload)
	copy(t.Data[addr:addr+n], payload[:got])

	cs.P += got
	if cs.V {
		cs.A += uint32(got)
	}
	cs.Complete = true
}

func (a *Adapter) doWait(v *vm.VM, cs *vm.CallbackState) {
	t, ok := a.target(v, cs.T)
	if !ok {
		return
	}
	if t.Permissions&PermRead == 0 {
		v.Fail(vmerr.MemoryChipNotReadable)
		return
	}
	addr := int(cs.A)
	if addr < 0 || addr >= len(t.Data) {
		v.Fail(vmerr.MemoryChipAddressOutOfRange)
		return
	}

	b := t.Data[addr] & cs.Msk
	if !vm.Evaluate(cs.O.Comparison(), b, cs.Cmp) {
		cs.Complete = true
	}
	// else: leave Complete false; VM.Exec consults TimerElapsed next.
}

// TimerReset implements vm.HostAdapter.
func (a *Adapter) TimerReset(v *vm.VM) {
	if a.Ticks <= 0 {
		a.ticksLeft = 1 << 20
		return
	}
	a.ticksLeft = a.Ticks
}

// TimerElapsed implements vm.HostAdapter: one tick is consumed per call.
func (a *Adapter) TimerElapsed(v *vm.VM) bool {
	if a.ticksLeft <= 0 {
		return true
	}
	a.ticksLeft--
	return false
}

// TimerCleanup implements vm.HostAdapter.
func (a *Adapter) TimerCleanup(v *vm.VM) {
	a.ticksLeft = 0
}

// SendEnd implements vm.HostAdapter as a no-op; embedders observe
// termination via VM.GetExecState()/VM.LastError() instead. Wrap this
// adapter (see vmmonitor.Decorate) to observe the event.
func (a *Adapter) SendEnd(v *vm.VM) {}

// SendAbort implements vm.HostAdapter as a no-op for the same reason.
func (a *Adapter) SendAbort(v *vm.VM) {}

// SendRead implements vm.HostAdapter as a no-op; callers that need the
// transferred bytes read them back from the relevant Target directly,
// since in this in-process adapter the "client" and the "device" share
// memory.
func (a *Adapter) SendRead(v *vm.VM, requestedLen uint32, data []byte) {}
