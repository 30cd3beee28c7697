package hostmem_test

import (
	"testing"

	"github.com/alttpo/iovm1/hostmem"
	"github.com/alttpo/iovm1/vm"
	"github.com/alttpo/iovm1/vmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeInstByte(op vm.Opcode, channel int) byte {
	return byte(op&0x0F) | byte((channel&0x03)<<4)
}

func newAdapterWithTarget(perm hostmem.Permission, size int) *hostmem.Adapter {
	a := hostmem.NewAdapter()
	t := a.AddTarget(0, "wram", size, perm)
	for i := range t.Data {
		t.Data[i] = byte(i)
	}
	return a
}

func TestRead_TransfersBytesAndAutoAdvances(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead|hostmem.PermWrite, 64)
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetA16, 0), 0x00, 0x00,
		encodeInstByte(vm.OpSetTV, 0), 0x80, // target 0, auto-advance
		encodeInstByte(vm.OpSetLen, 0), 0x08, 0x00,
		encodeInstByte(vm.OpRead, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	require.NoError(t, v.Exec())
	assert.Equal(t, vm.StateEnded, v.GetExecState())
	assert.Equal(t, uint32(8), v.Channel(0).A)
}

func TestRead_NotReadableTarget_Fails(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermWrite, 64)
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetLen, 0), 0x01, 0x00,
		encodeInstByte(vm.OpRead, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	err := v.Exec()
	assert.ErrorIs(t, err, vmerr.MemoryChipNotReadable)
	assert.Equal(t, vm.StateErrored, v.GetExecState())
}

func TestWrite_NotWritableTarget_Fails(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead, 64)
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetLen, 0), 0x01, 0x00,
		encodeInstByte(vm.OpWrite, 0), 0xFF,
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	err := v.Exec()
	assert.ErrorIs(t, err, vmerr.MemoryChipNotWritable)
	assert.Equal(t, vm.StateErrored, v.GetExecState())
}

func TestUndefinedTarget_Fails(t *testing.T) {
	a := hostmem.NewAdapter()
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetLen, 0), 0x01, 0x00,
		encodeInstByte(vm.OpRead, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	err := v.Exec()
	assert.ErrorIs(t, err, vmerr.MemoryChipUndefined)
}

func TestAddressOutOfRange_Fails(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead, 4)
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetA8, 0), 0x02,
		encodeInstByte(vm.OpSetLen, 0), 0x04, 0x00,
		encodeInstByte(vm.OpRead, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	err := v.Exec()
	assert.ErrorIs(t, err, vmerr.MemoryChipAddressOutOfRange)
}

func TestWaitWhileNEQ_PollsUntilMatch(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead, 4)
	a.Targets[0].Data[0] = 0x05
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetCmpMsk, 0), 0x05, 0xFF,
		encodeInstByte(vm.OpWaitWhileNEQ, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	require.NoError(t, v.Exec())
	assert.Equal(t, vm.StateEnded, v.GetExecState())
}

func TestWaitWhileNEQ_TimesOut(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead, 4)
	a.Ticks = 3
	a.Targets[0].Data[0] = 0x00 // never matches cmp below
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetCmpMsk, 0), 0x05, 0xFF,
		encodeInstByte(vm.OpWaitWhileNEQ, 0),
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	// One OnOpcode poll per Exec call: keep stepping while suspended.
	err := v.Exec()
	for err == nil && v.GetExecState() == vm.StateResumeCallback {
		err = v.Exec()
	}
	assert.ErrorIs(t, err, vmerr.TimedOut)
	assert.Equal(t, vm.StateErrored, v.GetExecState())
}

func TestWrite_ConsumesPayloadFromProgram(t *testing.T) {
	a := newAdapterWithTarget(hostmem.PermRead|hostmem.PermWrite, 64)
	v := vm.NewVM(a)
	program := []byte{
		encodeInstByte(vm.OpSetLen, 0), 0x03, 0x00,
		encodeInstByte(vm.OpWrite, 0), 0x11, 0x22, 0x33,
		byte(vm.OpEnd),
	}
	require.NoError(t, v.Load(program))
	require.NoError(t, v.Exec())
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, a.Targets[0].Data[:3])
}
