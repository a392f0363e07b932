package bridge

import (
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/topmetal"
)

const (
	// SRSelector is the pulse that starts a shift register transfer
	SRSelector = 0x01

	// DefaultSettle is the wait between the latch and the read-back for a
	// 130-bit chain at clock divisor 7
	DefaultSettle = 500 * time.Millisecond
)

// Result is the outcome of one shift register transfer
type Result struct {
	Sent     *big.Int
	ReadBack *big.Int

	// Valid is the bit one above the data width in the read-back
	Valid bool

	// Match is ReadBack == Sent, masked to the data width
	Match bool

	// Fingerprint is the CRC-16 of the sent vector
	Fingerprint uint16
}

func (r Result) String() string {
	return fmt.Sprintf("sent %x read back %x valid %t match %t crc %04x",
		r.Sent, r.ReadBack, r.Valid, r.Match, r.Fingerprint)
}

// ShiftRegister writes the chip configuration shift register and reads back
// what it absorbed
type ShiftRegister struct {
	Protocol
}

// NewShiftRegister returns a ShiftRegister of width data bits with the
// standard selector and settle time
func NewShiftRegister(link fpga.Transport, width uint, log *zap.Logger) *ShiftRegister {
	return &ShiftRegister{Protocol{
		Enc:      fpga.Cmd{},
		Link:     link,
		Width:    width,
		Selector: SRSelector,
		Settle:   DefaultSettle,
		Log:      log,
	}}
}

// TransferAndValidate sends vec, waits the settle time and reads the chain
// back.  A mismatch is reported in the Result and logged; it is not an error
// and is not retried.  Errors are transport or framing failures.
func (s *ShiftRegister) TransferAndValidate(vec *big.Int, clkDiv uint8) (Result, error) {
	mask := s.mask()
	res := Result{
		Sent:        new(big.Int).And(vec, mask),
		Fingerprint: topmetal.Fingerprint(vec, s.Width),
	}
	if err := s.Send(vec, clkDiv); err != nil {
		return res, err
	}
	time.Sleep(s.Settle)
	all, err := s.Receive(0, s.Words())
	if err != nil {
		return res, err
	}
	res.ReadBack = new(big.Int).And(all, mask)
	res.Valid = all.Bit(int(s.Width)) == 1
	res.Match = res.ReadBack.Cmp(res.Sent) == 0
	log := s.log().With(zap.String("sent", res.Sent.Text(16)), zap.String("crc", fmt.Sprintf("%04x", res.Fingerprint)))
	if !res.Match {
		log.Warn("shift register read-back mismatch",
			zap.String("readBack", res.ReadBack.Text(16)), zap.Bool("valid", res.Valid))
	} else {
		log.Debug("shift register transfer", zap.Bool("valid", res.Valid))
	}
	return res, nil
}

// Confirm transfers vec twice and reports the second result; the first
// transfer flushes whatever the chain held before
func (s *ShiftRegister) Confirm(vec *big.Int, clkDiv uint8) (Result, error) {
	if _, err := s.TransferAndValidate(vec, clkDiv); err != nil {
		return Result{}, err
	}
	return s.TransferAndValidate(vec, clkDiv)
}
