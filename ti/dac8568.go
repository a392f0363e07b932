/*Package ti drives Texas Instruments converters wired to the FPGA bridge's
SPI masters: the DAC8568 octal 16-bit DAC and the ADS124S0X 24-bit ADC.

Every SPI frame crosses the bridge as two 16-bit halves, each written to
one config register and clocked out by its own pulse (see bridge.SPIFrame).
*/
package ti

import (
	"errors"
	"fmt"
	"math"

	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/util"
)

// ErrBadChannel is returned for a channel the converter does not have
var ErrBadChannel = errors.New("channel out of range")

const (
	// DAC8568Selector is the pulse mask of the DAC8568 SPI master
	DAC8568Selector = 1 << 1

	// DAC8568Channels is the number of outputs
	DAC8568Channels = 8

	// DAC8568Vref is the full scale of the internal reference
	DAC8568Vref = 2.5

	dacWriteUpdate = 0x03
	dacRefOn       = 0x08000001
)

// DAC8568 is the octal DAC on the carrier board.  It uses a linear model
// against its own reference, unrelated to the on-chip bias DAC calibration.
type DAC8568 struct {
	SPI bridge.SPIFrame
}

// NewDAC8568 returns a DAC8568 on config register 0 and pulse 1<<1
func NewDAC8568(link fpga.Transport) *DAC8568 {
	return &DAC8568{SPI: bridge.SPIFrame{Enc: fpga.Cmd{}, Link: link, Reg: 0, Selector: DAC8568Selector}}
}

// Code returns the code for v, round(v/2.5*65536) clamped to [0, 65535]
func (d *DAC8568) Code(v float64) uint16 {
	return uint16(util.Clamp(math.Round(v/DAC8568Vref*65536), 0, math.MaxUint16))
}

// CodeFrame returns the write-and-update frame for channel ch
func CodeFrame(ch int, code uint16) uint32 {
	return dacWriteUpdate<<24 | uint32(ch&0xf)<<20 | uint32(code)<<4
}

func checkDACChannel(ch int) error {
	if ch < 0 || ch >= DAC8568Channels {
		return fmt.Errorf("%w: DAC8568 channel %d", ErrBadChannel, ch)
	}
	return nil
}

// SetVoltage writes and updates channel ch to v volts
func (d *DAC8568) SetVoltage(ch int, v float64) error {
	return d.SetCode(ch, d.Code(v))
}

// SetCode writes and updates channel ch to code
func (d *DAC8568) SetCode(ch int, code uint16) error {
	if err := checkDACChannel(ch); err != nil {
		return err
	}
	return d.SPI.WriteSPI(CodeFrame(ch, code))
}

// TurnOn2V5Ref enables the internal 2.5 V reference
func (d *DAC8568) TurnOn2V5Ref() error {
	return d.SPI.WriteSPI(dacRefOn)
}

// Output implements daq.DAC
func (d *DAC8568) Output(ch int, v float64) error {
	return d.SetVoltage(ch, v)
}

// OutputDN16 implements daq.DAC
func (d *DAC8568) OutputDN16(ch int, dn uint16) error {
	return d.SetCode(ch, dn)
}

// OutputMulti writes several channels in one burst
func (d *DAC8568) OutputMulti(chs []int, vs []float64) error {
	if len(chs) != len(vs) {
		return fmt.Errorf("%d channels and %d voltages", len(chs), len(vs))
	}
	dns := make([]uint16, len(vs))
	for i, v := range vs {
		dns[i] = d.Code(v)
	}
	return d.OutputMultiDN16(chs, dns)
}

// OutputMultiDN16 writes several channels' codes in one burst
func (d *DAC8568) OutputMultiDN16(chs []int, dns []uint16) error {
	if len(chs) != len(dns) {
		return fmt.Errorf("%d channels and %d codes", len(chs), len(dns))
	}
	frames := make([]uint32, len(chs))
	for i, ch := range chs {
		if err := checkDACChannel(ch); err != nil {
			return err
		}
		frames[i] = CodeFrame(ch, dns[i])
	}
	return d.SPI.WriteFrames(frames...)
}
