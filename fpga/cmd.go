/*Package fpga implements the command words understood by the FPGA bridge
and a link that carries them over one byte stream.

Every command is one or more 32-bit big-endian words.  The upper 16 bits
of a word are the opcode, the lower 16 the payload.  A status read is answered
with one 4-byte block; bytes 2 and 3 of the block are the high and low byte of
the requested register.

Commands are built as byte slices and concatenated by the caller so a logical
operation leaves the host as a single burst.
*/
package fpga

import (
	"encoding/binary"
)

const (
	opWriteRegister = 0x0020
	opReadRegister  = 0x8020
	opReadStatus    = 0x8000
	opSendPulse     = 0x000b
	opMemAddrLow    = 0x0010
	opMemAddrHigh   = 0x0011
	opMemDataLow    = 0x0012
	opMemDataHigh   = 0x0013

	// NRegisters is the number of config (and status) registers
	NRegisters = 16

	// ReplySize is the size in bytes of the reply to a single read
	ReplySize = 4

	nibblesPerWord = 8
)

// Encoder is the set of commands the bridge word protocols need.
// Cmd is the concrete encoder.
type Encoder interface {
	WriteRegister(addr uint8, val uint16) []byte
	SendPulse(mask uint16) []byte
	ReadStatus(addr uint8) []byte
	WriteMemory(addr uint32, nibbles []uint8) []byte
}

// Cmd encodes commands for the bridge.  The zero value is ready to use.
type Cmd struct{}

var _ Encoder = Cmd{}

func word(op, payload uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b, op)
	binary.BigEndian.PutUint16(b[2:], payload)
	return b
}

// WriteRegister sets config register addr (0..15) to val
func (Cmd) WriteRegister(addr uint8, val uint16) []byte {
	return word(opWriteRegister|uint16(addr&0xf), val)
}

// ReadRegister reads back config register addr (0..15).  The reply has the same
// shape as a status read.
func (Cmd) ReadRegister(addr uint8) []byte {
	return word(opReadRegister|uint16(addr&0xf), 0)
}

// SendPulse raises, for one clock, every pulse line whose bit is set in mask
func (Cmd) SendPulse(mask uint16) []byte {
	return word(opSendPulse, mask)
}

// ReadStatus reads status register addr (0..15)
func (Cmd) ReadStatus(addr uint8) []byte {
	return word(opReadStatus|uint16(addr&0xf), 0)
}

// WriteMemory loads nibbles into the bridge memory starting at 32-bit word addr.
// Nibbles are packed eight to a word with PackNibbles.
func (c Cmd) WriteMemory(addr uint32, nibbles []uint8) []byte {
	return c.WriteMemoryWords(addr, PackNibbles(nibbles))
}

// WriteMemoryWords loads already packed 32-bit words starting at addr
func (Cmd) WriteMemoryWords(addr uint32, words []uint32) []byte {
	out := make([]byte, 0, 8+8*len(words))
	out = append(out, word(opMemAddrLow, uint16(addr))...)
	out = append(out, word(opMemAddrHigh, uint16(addr>>16))...)
	for _, w := range words {
		// the store happens on the low half, the address then increments
		out = append(out, word(opMemDataHigh, uint16(w>>16))...)
		out = append(out, word(opMemDataLow, uint16(w))...)
	}
	return out
}

// PackNibbles packs 4-bit values eight to a 32-bit word, nibble j of a
// word in bits 4j..4j+3.  Values are masked to 4 bits; a short final word
// is zero padded.
func PackNibbles(nibbles []uint8) []uint32 {
	out := make([]uint32, (len(nibbles)+nibblesPerWord-1)/nibblesPerWord)
	for i, n := range nibbles {
		out[i/nibblesPerWord] |= uint32(n&0xf) << (4 * uint(i%nibblesPerWord))
	}
	return out
}
