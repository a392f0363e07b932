// Package fpgatest provides an in-memory FPGA bridge for tests.
package fpgatest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/topmetal/tmsctl/fpga"
)

// Op is one decoded command word
type Op struct {
	Code    uint16
	Payload uint16
}

// IsWrite reports if the op is a config register write
func (o Op) IsWrite() bool { return o.Code&0xfff0 == 0x0020 }

// IsPulse reports if the op is a pulse
func (o Op) IsPulse() bool { return o.Code == 0x000b }

// Bridge decodes the bursts it is sent and answers status reads.
// A pulse whose mask intersects Mirror copies the config registers into the
// status registers, the way the shift register gateware exposes what it
// shifted; FlipBits then inverts the listed bits of the mirrored image.
type Bridge struct {
	mu sync.Mutex

	Regs   [fpga.NRegisters]uint16
	Status [fpga.NRegisters]uint16
	Mem    map[uint32]uint32
	Ops    []Op

	// Bursts counts the calls to Send and Query
	Bursts int

	Mirror   uint16
	FlipBits []int

	// Err, when set, fails every call with it
	Err error

	// Withhold drops this many bytes off the end of every reply
	Withhold int

	// OnPulse is called with the mask of every pulse after mirroring.  It runs
	// with b locked, so it may set fields of b but not call its methods.
	OnPulse func(b *Bridge, mask uint16)

	memAddr uint32
	memHigh uint16
}

// New returns a Bridge that mirrors on the shift register pulse 0x01
func New() *Bridge {
	return &Bridge{Mirror: 0x01, Mem: map[uint32]uint32{}}
}

var _ fpga.Transport = (*Bridge)(nil)

// Send decodes and applies burst
func (b *Bridge) Send(burst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.Bursts++
	_, err := b.apply(burst)
	return err
}

// Query applies burst and answers its reads
func (b *Bridge) Query(burst []byte, nReads int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	b.Bursts++
	reply, err := b.apply(burst)
	if err != nil {
		return nil, err
	}
	if len(reply) != nReads*fpga.ReplySize {
		return reply, fmt.Errorf("fpgatest: burst holds %d reads, caller expects %d", len(reply)/fpga.ReplySize, nReads)
	}
	if b.Withhold > 0 {
		n := len(reply) - b.Withhold
		if n < 0 {
			n = 0
		}
		return reply[:n], fmt.Errorf("%w: want %d bytes, got %d", fpga.ErrProtocolFraming, len(reply), n)
	}
	return reply, nil
}

func (b *Bridge) apply(burst []byte) ([]byte, error) {
	if len(burst)%4 != 0 {
		return nil, fmt.Errorf("fpgatest: burst of %d bytes is not whole words", len(burst))
	}
	var reply []byte
	for i := 0; i < len(burst); i += 4 {
		op := Op{binary.BigEndian.Uint16(burst[i:]), binary.BigEndian.Uint16(burst[i+2:])}
		b.Ops = append(b.Ops, op)
		addr := op.Code & 0xf
		switch {
		case op.IsWrite():
			b.Regs[addr] = op.Payload
		case op.IsPulse():
			if op.Payload&b.Mirror != 0 {
				b.Status = b.Regs
				for _, bit := range b.FlipBits {
					b.Status[bit/16] ^= 1 << uint(bit%16)
				}
			}
			if b.OnPulse != nil {
				b.OnPulse(b, op.Payload)
			}
		case op.Code&0xfff0 == 0x8000:
			reply = append(reply, 0, 0, byte(b.Status[addr]>>8), byte(b.Status[addr]))
		case op.Code&0xfff0 == 0x8020:
			reply = append(reply, 0, 0, byte(b.Regs[addr]>>8), byte(b.Regs[addr]))
		case op.Code == 0x0010:
			b.memAddr = b.memAddr&0xffff0000 | uint32(op.Payload)
		case op.Code == 0x0011:
			b.memAddr = b.memAddr&0xffff | uint32(op.Payload)<<16
		case op.Code == 0x0013:
			b.memHigh = op.Payload
		case op.Code == 0x0012:
			b.Mem[b.memAddr] = uint32(b.memHigh)<<16 | uint32(op.Payload)
			b.memAddr++
		default:
			return reply, fmt.Errorf("fpgatest: unknown opcode %#04x", op.Code)
		}
	}
	return reply, nil
}

// Writes returns the payloads of the register writes to addr, in order
func (b *Bridge) Writes(addr uint8) []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint16
	for _, op := range b.Ops {
		if op.IsWrite() && uint8(op.Code&0xf) == addr {
			out = append(out, op.Payload)
		}
	}
	return out
}

// Pulses returns the masks of every pulse, in order
func (b *Bridge) Pulses() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint16
	for _, op := range b.Ops {
		if op.IsPulse() {
			out = append(out, op.Payload)
		}
	}
	return out
}

// Reset forgets the recorded ops
func (b *Bridge) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Ops = nil
	b.Bursts = 0
}
