package vm

import "github.com/alttpo/iovm1/vmerr"

// VM is one IOVM1 virtual machine instance (spec.md §3). It owns no heap
// resources: the program buffer is a non-owning view, and neither Exec nor
// any of its helpers allocate on the hot path.
type VM struct {
	state   ExecState
	lastErr vmerr.Code

	regs RegisterFile
	cs   CallbackState
	prog Program
	off  int

	adapter  HostAdapter
	userdata any
}

// NewVM constructs an uninitialised VM and immediately Inits it, mirroring
// the teacher's NewVM()/Reset() pairing.
func NewVM(adapter HostAdapter) *VM {
	v := &VM{adapter: adapter}
	v.Init()
	return v
}

// Init zeroes all registers, clears callback state, and sets state to INIT
// (spec.md §4.6).
func (v *VM) Init() {
	v.regs.reset()
	v.cs = CallbackState{}
	v.prog = Program{}
	v.off = 0
	v.lastErr = vmerr.Success
	v.state = StateInit
}

// Load binds a read-only procedure buffer to the VM. Legal only from INIT;
// re-loading requires ExecReset first is not possible since ExecReset
// cannot return to INIT — re-loading a fresh procedure requires a new Init.
func (v *VM) Load(proc []byte) error {
	if v.state != StateInit {
		return vmerr.InvalidOperationForState
	}
	if proc == nil {
		return vmerr.OutOfRange
	}
	v.prog = Program{code: proc}
	v.state = StateLoaded
	return nil
}

// ExecReset restarts execution from the beginning of the loaded procedure.
// Legal only when state < EXECUTE_NEXT or state >= ENDED (spec.md §3);
// attempting it mid-instruction fails without mutating any state.
func (v *VM) ExecReset() error {
	if v.state.running() {
		return vmerr.InvalidOperationForState
	}
	v.state = StateReset
	return nil
}

// GetExecState returns the current state without side effects.
func (v *VM) GetExecState() ExecState {
	return v.state
}

// LastError returns the most recently recorded error code.
func (v *VM) LastError() vmerr.Code {
	return v.lastErr
}

// SetUserdata stores embedder-owned scratch, threaded through to adapter
// calls via the VM reference rather than a record back-pointer (spec.md §9).
func (v *VM) SetUserdata(userdata any) {
	v.userdata = userdata
}

// GetUserdata returns the embedder scratch previously set by SetUserdata.
func (v *VM) GetUserdata() any {
	return v.userdata
}

// SetAdapter installs the host adapter at runtime, in place of statically
// linking the callback (spec.md §6.1 optional callback-installation call).
func (v *VM) SetAdapter(adapter HostAdapter) {
	v.adapter = adapter
}

// Exec is the step driver (spec.md §4.4). It decodes and executes
// register-setting opcodes inline, many per call, and invokes the host
// adapter at most once per call: for the transaction already suspended
// when it is called, or else for the first I/O opcode it meets. When that
// invocation completes the transaction, execution continues up to the next
// I/O opcode, which is left for the following call.
func (v *VM) Exec() error {
	invoked := false
	if v.state == StateResumeCallback {
		invoked = true
		if err := v.resumeCallback(); err != nil {
			return err
		}
		if v.state != StateExecuteNext {
			return nil
		}
	} else {
		switch {
		case v.state < StateLoaded:
			v.lastErr = vmerr.InvalidOperationForState
			return v.lastErr
		case v.state == StateEnded:
			return nil
		case v.state == StateErrored:
			return v.lastErr
		case v.state == StateLoaded || v.state == StateReset:
			v.off = 0
			v.cs = CallbackState{}
			v.state = StateExecuteNext
		}
	}

	for v.state == StateExecuteNext {
		if v.off >= v.prog.Len() {
			v.endOK()
			return nil
		}

		x := v.prog.byteAt(v.off)
		v.off++

		op, channel, reserved := decodeInst(x)
		if reserved {
			return v.failHost(vmerr.UnknownOpcode)
		}

		switch {
		case op == OpEnd:
			v.endOK()
			return nil
		case op >= OpSetA8 && op <= OpSetTim:
			if err := v.execSetOpcode(op, channel); err != nil {
				return err
			}
		case op == OpRead || op == OpWrite || op.IsWait():
			if invoked {
				// The adapter already ran during this call; leave this
				// opcode to be decoded again by the next Exec.
				v.off--
				return nil
			}
			invoked = true
			v.beginIO(op, channel)
			if err := v.resumeCallback(); err != nil {
				return err
			}
			if v.state != StateExecuteNext {
				return nil
			}
		default:
			return v.failHost(vmerr.UnknownOpcode)
		}
	}
	return nil
}

func (v *VM) endOK() {
	v.state = StateEnded
	v.lastErr = vmerr.Success
	if v.adapter != nil {
		v.adapter.SendEnd(v)
	}
}

// Fail lets a host adapter report a host-level error (spec.md §4.5: the
// callback-state record carries no error field of its own, so the adapter
// reports failures through the VM reference it already receives — the
// same re-architecture that replaces the record's VM back-pointer with an
// explicit parameter, spec.md §9). It transitions the VM to ERRORED and
// performs the usual terminal notifications. Call it from within
// HostAdapter.OnOpcode instead of leaving CallbackState.Complete false
// forever.
func (v *VM) Fail(code vmerr.Code) error {
	return v.failHost(code)
}

// failHost records a terminal error, transitions to ERRORED, and notifies
// the adapter (spec.md §7: exactly one SendEnd per terminal transition,
// plus SendAbort for the abort/timeout family).
func (v *VM) failHost(code vmerr.Code) error {
	v.lastErr = code
	v.state = StateErrored
	if v.adapter != nil {
		if code == vmerr.TimedOut || code == vmerr.Aborted {
			v.adapter.SendAbort(v)
		}
		v.adapter.SendEnd(v)
	}
	return code
}

// readImm returns a sub-slice of the program buffer of length n starting
// at the current offset, advancing the offset. It never allocates: the
// returned slice aliases the program's own backing array.
func (v *VM) readImm(n int) ([]byte, error) {
	if v.off+n > v.prog.Len() {
		return nil, v.failHost(vmerr.OutOfRange)
	}
	b := v.prog.code[v.off : v.off+n]
	v.off += n
	return b, nil
}

// execSetOpcode applies a register-setting opcode's effect inline and
// advances the program offset past its operand bytes (spec.md §4.1).
func (v *VM) execSetOpcode(op Opcode, channel int) error {
	ch := &v.regs[channel]
	switch op {
	case OpSetA8:
		b, err := v.readImm(1)
		if err != nil {
			return err
		}
		ch.A = uint32(b[0])
	case OpSetA16:
		b, err := v.readImm(2)
		if err != nil {
			return err
		}
		ch.A = uint32(le16(b[0], b[1]))
	case OpSetA24:
		b, err := v.readImm(3)
		if err != nil {
			return err
		}
		ch.A = le24(b[0], b[1], b[2])
	case OpSetTV:
		b, err := v.readImm(1)
		if err != nil {
			return err
		}
		ch.TV = b[0]
	case OpSetLen:
		b, err := v.readImm(2)
		if err != nil {
			return err
		}
		l := uint32(le16(b[0], b[1]))
		if l == 0 {
			l = 65536
		}
		ch.Len = l
	case OpSetCmpMsk:
		b, err := v.readImm(2)
		if err != nil {
			return err
		}
		ch.Cmp = b[0]
		ch.Msk = b[1]
	case OpSetTim:
		b, err := v.readImm(4)
		if err != nil {
			return err
		}
		ch.Tim = le32(b[0], b[1], b[2], b[3])
	}
	return nil
}

// beginIO populates the callback-state record for an I/O opcode and
// transitions to RESUME_CALLBACK (spec.md §4.3, §4.5).
func (v *VM) beginIO(op Opcode, channel int) {
	ch := &v.regs[channel]
	v.cs = CallbackState{
		Initial: true,
		P:       v.off,
		Program: &v.prog,
		O:       op,
		C:       channel,
		T:       ch.Target(),
		V:       ch.AutoAdvance(),
		A:       ch.A,
		Len:     ch.Len,
		Tim:     ch.Tim,
		Cmp:     ch.Cmp,
		Msk:     ch.Msk,
	}
	v.state = StateResumeCallback
	if op.IsWait() {
		v.adapter.TimerReset(v)
	}
}

// resumeCallback invokes the adapter exactly once for the transaction
// suspended in v.cs. Used both to initiate a transaction (called right
// after beginIO) and to resume one across later Exec calls.
func (v *VM) resumeCallback() error {
	v.adapter.OnOpcode(v, &v.cs)
	v.cs.Initial = false

	if v.state == StateErrored {
		// The adapter reported a host-level error via VM.Fail from within
		// OnOpcode; that already performed the terminal transition.
		return v.lastErr
	}

	if !v.cs.Complete {
		if v.cs.O.IsWait() && v.adapter.TimerElapsed(v) {
			v.adapter.TimerCleanup(v)
			return v.failHost(vmerr.TimedOut)
		}
		v.state = StateResumeCallback
		return nil
	}

	if v.cs.O.IsWait() {
		v.adapter.TimerCleanup(v)
	}
	v.applyPostCommit()
	v.state = StateExecuteNext
	return nil
}

// applyPostCommit writes the transaction's results back into the channel
// register file and, for WRITE, advances the program offset past the
// payload the adapter consumed (spec.md §4.5).
func (v *VM) applyPostCommit() {
	ch := &v.regs[v.cs.C]
	switch v.cs.O {
	case OpRead:
		if v.cs.V {
			ch.A = v.cs.A
		}
	case OpWrite:
		if v.cs.V {
			ch.A = v.cs.A
		}
		v.off = v.cs.P
	}
}

// Channel returns a copy of a channel's registers, for inspection by
// embedders and the monitor TUI. Index must be in [0, ChannelCount).
func (v *VM) Channel(i int) Channel {
	return v.regs[i]
}

// CallbackState returns a pointer to the VM's live callback-state record,
// for adapters that want to inspect it outside of OnOpcode (e.g. a
// decorating adapter used by the monitor).
func (v *VM) CallbackState() *CallbackState {
	return &v.cs
}

// ProgramOffset returns the current program cursor, m.off in spec.md's
// terms.
func (v *VM) ProgramOffset() int {
	return v.off
}
