/*Package bridge moves wide values between the host and chip-side registers
through the 16-bit config and status registers of the FPGA bridge.

Protocol is the generic word-at-a-time transfer: split a value into 16-bit
words, write each word to consecutive config registers, latch them all with
one pulse, and later reassemble a value from status registers.
ShiftRegister adds read-back validation for the chip's configuration shift
register.  SPIFrame ferries 32-bit frames to SPI peripherals as two
independently latched halves.

None of the types here lock the link; callers that share one must serialize.
*/
package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/fpga"
)

const (
	// WordWidth is the width of one config or status register
	WordWidth = 16

	// ClkDivWidth is the width of the clock divisor field above the data
	ClkDivWidth = 6
)

// ErrRegisterRange is returned for reads past the last status register
var ErrRegisterRange = errors.New("status registers out of range")

// Protocol writes and reads a value of Width data bits through the
// config and status registers
type Protocol struct {
	Enc  fpga.Encoder
	Link fpga.Transport

	// Width is the number of data bits
	Width uint

	// Selector is the pulse mask that latches the written words
	Selector uint16

	// Settle is the time to wait between the latch pulse and reading status.
	// It is a lower bound on the shift; there is no completion signal.
	Settle time.Duration

	Log *zap.Logger
}

func (p *Protocol) log() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

// Words returns the number of 16-bit words that hold the data and the
// clock divisor, ceil((Width+6)/16)
func (p *Protocol) Words() int {
	return int((p.Width + ClkDivWidth + WordWidth - 1) / WordWidth)
}

func (p *Protocol) mask() *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), p.Width)
	return m.Sub(m, big.NewInt(1))
}

// Combine places clkDiv (6 bits) immediately above the Width low bits of vec
func (p *Protocol) Combine(vec *big.Int, clkDiv uint8) *big.Int {
	out := new(big.Int).SetUint64(uint64(clkDiv & 0x3f))
	out.Lsh(out, p.Width)
	return out.Or(out, new(big.Int).And(vec, p.mask()))
}

// Burst returns the commands Send issues: one register write per word,
// register k holding bits 16k..16k+15, then one pulse
func (p *Protocol) Burst(vec *big.Int, clkDiv uint8) []byte {
	combined := p.Combine(vec, clkDiv)
	n := p.Words()
	out := make([]byte, 0, 4*(n+1))
	word := new(big.Int)
	m16 := big.NewInt(0xffff)
	for k := 0; k < n; k++ {
		word.Rsh(combined, uint(WordWidth*k))
		word.And(word, m16)
		out = append(out, p.Enc.WriteRegister(uint8(k), uint16(word.Uint64()))...)
	}
	return append(out, p.Enc.SendPulse(p.Selector)...)
}

// Send writes vec with clock divisor clkDiv and latches it, in one burst
func (p *Protocol) Send(vec *big.Int, clkDiv uint8) error {
	return p.Link.Send(p.Burst(vec, clkDiv))
}

// Receive reads status registers base..base+count-1 and reassembles them,
// the register at base+k holding bits 16k..16k+15.  Reads are issued from the
// highest address down.
func (p *Protocol) Receive(base uint8, count int) (*big.Int, error) {
	return Receive(p.Enc, p.Link, base, count)
}

// Receive is Protocol.Receive for callers without a Protocol
func Receive(enc fpga.Encoder, link fpga.Transport, base uint8, count int) (*big.Int, error) {
	if count < 1 || int(base)+count > fpga.NRegisters {
		return nil, fmt.Errorf("%w: %d registers from %d", ErrRegisterRange, count, base)
	}
	burst := make([]byte, 0, 4*count)
	for i := 0; i < count; i++ {
		burst = append(burst, enc.ReadStatus(base+uint8(count-1-i))...)
	}
	reply, err := link.Query(burst, count)
	if err != nil {
		return nil, err
	}
	if len(reply) < fpga.ReplySize*count {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", fpga.ErrProtocolFraming, fpga.ReplySize*count, len(reply))
	}
	ret := new(big.Int)
	tmp := new(big.Int)
	for i := 0; i < count; i++ {
		w := uint64(reply[i*4+2])<<8 | uint64(reply[i*4+3])
		tmp.SetUint64(w)
		tmp.Lsh(tmp, uint(WordWidth*(count-1-i)))
		ret.Or(ret, tmp)
	}
	return ret, nil
}
