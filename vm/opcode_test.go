package vm

import "testing"

func TestDecodeInst_SplitsOpcodeChannelReserved(t *testing.T) {
	cases := []struct {
		x        byte
		op       Opcode
		channel  int
		reserved bool
	}{
		{encodeInst(OpEnd, 0), OpEnd, 0, false},
		{encodeInst(OpSetA8, 1), OpSetA8, 1, false},
		{encodeInst(OpWaitWhileGTE, 2), OpWaitWhileGTE, 2, false},
		{0xC0, OpEnd, 0, true}, // reserved bits set
	}
	for _, c := range cases {
		op, ch, reserved := decodeInst(c.x)
		if reserved != c.reserved {
			t.Fatalf("x=0x%02X: reserved got %v want %v", c.x, reserved, c.reserved)
		}
		if reserved {
			continue
		}
		if op != c.op || ch != c.channel {
			t.Fatalf("x=0x%02X: got op=%v ch=%d want op=%v ch=%d", c.x, op, ch, c.op, c.channel)
		}
	}
}

func TestEncodeInst_RoundTrips(t *testing.T) {
	for op := OpEnd; op <= OpWaitWhileGTE; op++ {
		for ch := 0; ch < ChannelCount; ch++ {
			x := encodeInst(op, ch)
			gotOp, gotCh, reserved := decodeInst(x)
			if reserved {
				t.Fatalf("encodeInst(%v, %d) set reserved bits", op, ch)
			}
			if gotOp != op || gotCh != ch {
				t.Fatalf("round trip failed: op=%v ch=%d -> got op=%v ch=%d", op, ch, gotOp, gotCh)
			}
		}
	}
}

func TestOpcodeIsWait(t *testing.T) {
	for op := OpEnd; op <= OpWrite; op++ {
		if op.IsWait() {
			t.Fatalf("%v should not be a wait opcode", op)
		}
	}
	for op := OpWaitWhileNEQ; op <= OpWaitWhileGTE; op++ {
		if !op.IsWait() {
			t.Fatalf("%v should be a wait opcode", op)
		}
	}
}

func TestOpcodeComparisonMapping(t *testing.T) {
	cases := map[Opcode]Comparison{
		OpWaitWhileNEQ: CmpNEQ,
		OpWaitWhileEQ:  CmpEQ,
		OpWaitWhileLT:  CmpLT,
		OpWaitWhileGT:  CmpGT,
		OpWaitWhileLTE: CmpLTE,
		OpWaitWhileGTE: CmpGTE,
	}
	for op, want := range cases {
		if got := op.Comparison(); got != want {
			t.Fatalf("%v.Comparison() = %v, want %v", op, got, want)
		}
	}
}

func TestLittleEndianHelpers(t *testing.T) {
	if got := le16(0x34, 0x12); got != 0x1234 {
		t.Fatalf("le16 = 0x%X, want 0x1234", got)
	}
	if got := le24(0x00, 0x10, 0xF5); got != 0xF51000 {
		t.Fatalf("le24 = 0x%X, want 0xF51000", got)
	}
	if got := le32(0x01, 0x00, 0x00, 0x00); got != 1 {
		t.Fatalf("le32 = %d, want 1", got)
	}
}
