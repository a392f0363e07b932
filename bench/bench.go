/*Package bench ties the converters and the configuration shift register of
one Topmetal-S 1 mm test board to a single bridge link, and holds the bias
settings used to bring a chip up.

A Board owns no lock.  Callers that share one between goroutines, such as
the tuner, serialize access themselves.
*/
package bench

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/ti"
	"github.com/topmetal/tmsctl/topmetal"
)

const (
	// SDMClockReg is the config register gating the sigma-delta clock
	SDMClockReg = 9

	// SDMClockOn and SDMClockOff are the values written to SDMClockReg
	SDMClockOn  = 0x01
	SDMClockOff = 0x02

	// BufferRefChannel is the DAC8568 channel driving DAC_BufferX2_VREF
	BufferRefChannel = 6

	// BufferRefVolts is the buffer reference used outside the tuner
	BufferRefVolts = 1.2

	// Ref2Channel is the DAC8568 channel driving Ref2
	Ref2Channel = 7

	// Ref2Volts is the Ref2 level
	Ref2Volts = 1.65

	// DefaultClkDiv divides the shift register clock by 2^7
	DefaultClkDiv = 7
)

// NBiases is the number of bias voltages set on a board
const NBiases = 7

// BiasNames names the biases in order.  The first six are both on-chip DAC
// inputs and DAC8568 channels 0..5; DAC_BufferX2_VREF is DAC8568 channel 6.
var BiasNames = [NBiases]string{"VBIASN", "VBIASP", "VCASN", "VCASP", "VDIS", "VREF", "DAC_BufferX2_VREF"}

// Biases are bias voltages in BiasNames order
type Biases [NBiases]float64

// DefaultBiases is the operating point a chip is brought up at
var DefaultBiases = Biases{1.38, 1.55, 1.45, 1.35, 1.58, 2.68, 1.2}

// Codes returns the on-chip DAC codes of b under cal
func (b Biases) Codes(cal topmetal.Calibration) [NBiases]uint16 {
	var out [NBiases]uint16
	for i, v := range b {
		out[i] = cal.VoltToCode(v)
	}
	return out
}

// Board is the test board behind one bridge link
type Board struct {
	Link fpga.Transport
	SR   *bridge.ShiftRegister
	DAC  *ti.DAC8568
	ADC  *ti.ADS124S0X
	Log  *zap.Logger
}

// NewBoard returns a board with a shift register of width bits
func NewBoard(link fpga.Transport, width uint, log *zap.Logger) *Board {
	if log == nil {
		log = zap.NewNop()
	}
	return &Board{
		Link: link,
		SR:   bridge.NewShiftRegister(link, width, log),
		DAC:  ti.NewDAC8568(link),
		ADC:  ti.NewADS124S0X(link),
		Log:  log,
	}
}

// PowerUp enables the DAC8568 reference and sets the buffer reference
func (b *Board) PowerUp() error {
	if err := b.DAC.TurnOn2V5Ref(); err != nil {
		return err
	}
	return b.DAC.SetVoltage(BufferRefChannel, BufferRefVolts)
}

// SetSDMClock writes v, SDMClockOn or SDMClockOff, to the SDM clock register
func (b *Board) SetSDMClock(v uint16) error {
	return b.Link.Send(fpga.Cmd{}.WriteRegister(SDMClockReg, v))
}

// Single brings a chip up standalone: board powered, SDM clock on, bench
// switches, biases from the calibration except VDIS, which is driven
// externally by the DAC8568, then one transfer
func (b *Board) Single(cfg *topmetal.Config, clkDiv uint8) (bridge.Result, error) {
	if err := b.PowerUp(); err != nil {
		return bridge.Result{}, err
	}
	if err := b.SetSDMClock(SDMClockOn); err != nil {
		return bridge.Result{}, err
	}
	topmetal.BenchSwitches.Apply(cfg)
	codes := DefaultBiases.Codes(cfg.Cal)
	for _, i := range []int{0, 1, 2, 3, 5} {
		cfg.SetDAC(i, uint32(codes[i]))
	}
	if err := b.DAC.SetVoltage(4, DefaultBiases[4]); err != nil {
		return bridge.Result{}, err
	}
	return b.SR.TransferAndValidate(cfg.Vector(), clkDiv)
}

// ApplyBiases drives the chip at the bench operating point with the given
// on-chip DAC codes and DAC8568 voltages.  codes and volts are set
// independently; volts[6] has no on-chip counterpart.
func (b *Board) ApplyBiases(cfg *topmetal.Config, volts Biases, codes [NBiases]uint16, clkDiv uint8) (bridge.Result, error) {
	topmetal.BenchSwitches.Apply(cfg)
	if err := b.DAC.TurnOn2V5Ref(); err != nil {
		return bridge.Result{}, err
	}
	if err := b.DAC.SetVoltage(Ref2Channel, Ref2Volts); err != nil {
		return bridge.Result{}, err
	}
	chs := make([]int, NBiases)
	for i := range chs {
		chs[i] = i
		if i < 6 {
			cfg.SetDAC(i, uint32(codes[i]))
		}
	}
	if err := b.DAC.OutputMulti(chs, volts[:]); err != nil {
		return bridge.Result{}, fmt.Errorf("bias outputs: %w", err)
	}
	return b.SR.TransferAndValidate(cfg.Vector(), clkDiv)
}
