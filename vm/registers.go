package vm

// Channel is one of the VM's independent register slots. A single
// instruction byte selects which channel an opcode operates on.
type Channel struct {
	A   uint32 // 24-bit working address
	TV  byte   // low 6 bits: memory-target id; bit 6: reserved; bit 7: auto-advance
	Len uint32 // transfer length; SETLEN stores 65536 for an operand of 0, so 0 only appears before any SETLEN
	Cmp byte   // comparison value for WAIT_WHILE_*
	Msk byte   // comparison mask for WAIT_WHILE_*
	Tim uint32 // timeout, in host-timer ticks
}

// Target returns the low 6 bits of TV: the memory-target identifier.
func (c *Channel) Target() byte {
	return c.TV & 0x3F
}

// AutoAdvance reports whether bit 7 of TV is set, i.e. whether a completed
// READ or WRITE should advance the channel's address register.
func (c *Channel) AutoAdvance() bool {
	return c.TV&0x80 != 0
}

// reset restores a channel to its power-on values (spec.md §3).
func (c *Channel) reset() {
	*c = Channel{Msk: 0xFF}
}

// RegisterFile is the fixed array of channel registers. No dynamic growth:
// the channel count is fixed at compile time by the channels revision.
type RegisterFile [ChannelCount]Channel

// reset restores every channel to its initial values.
func (r *RegisterFile) reset() {
	for i := range r {
		r[i].reset()
	}
}
