package ti

import (
	"fmt"
	"time"

	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/fpga"
)

// ADS124S0X commands, sent in the top byte of a frame
const (
	CmdReset = 0x06
	CmdStart = 0x08
	CmdStop  = 0x0a
	CmdRData = 0x12

	opRREG = 0x20
	opWREG = 0x40
)

// ADS124S0X registers used here
const (
	RegInpMux = 0x02
	RegPGA    = 0x03
	RegDataRt = 0x04
	RegRef    = 0x05
	RegSysMon = 0x09
)

const (
	// ADS124S0XSelector is the pulse mask of the ADC SPI master
	ADS124S0XSelector = 1 << 2

	// ADS124S0XStatusReg is the first status register holding captured DIN
	ADS124S0XStatusReg = 9

	// TempChannel selects the internal temperature sensor in SelectChannel
	TempChannel = -1

	// resetWait covers the 4096 clock cycles of a reset at 4.096 MHz
	resetWait = 5 * time.Millisecond
)

// ReadRegFrame is the RREG frame for n registers starting at addr.
// n of zero reads one.
func ReadRegFrame(addr uint8, n int) uint32 {
	if n < 1 {
		n = 1
	}
	return uint32(opRREG|addr&0x1f)<<24 | uint32((n-1)&0x1f)<<16
}

// WriteRegFrame is the WREG frame writing d1 to addr and, when n is 2, d2
// to addr+1.  n is clamped to 1..2.
func WriteRegFrame(addr uint8, d1, d2 uint8, n int) uint32 {
	if n < 1 {
		n = 1
	}
	if n > 2 {
		n = 2
	}
	return uint32(opWREG|addr&0x1f)<<24 | uint32((n-1)&0x1f)<<16 | uint32(d1)<<8 | uint32(d2)
}

// CommandFrame is the frame of a single-byte command
func CommandFrame(cmd uint8) uint32 {
	return uint32(cmd) << 24
}

// ADS124S0X is the housekeeping ADC.  The bridge captures the bytes the ADC
// shifts out during a frame into two status registers.
type ADS124S0X struct {
	SPI bridge.SPIFrame

	// StatusReg is the status register of the low 16 captured bits
	StatusReg uint8

	// AcqDelay is the time a caller waits between selecting a channel and
	// reading it, one conversion of the 20 SPS filter with margin
	AcqDelay time.Duration

	// ReadDelay is the time between a frame and reading the captured bits
	ReadDelay time.Duration

	Vref float64
	Gain float64
	Mode Mode
}

// NewADS124S0X returns an ADC on config register 0, pulse 1<<2 and status
// registers 9..10
func NewADS124S0X(link fpga.Transport) *ADS124S0X {
	return &ADS124S0X{
		SPI:       bridge.SPIFrame{Enc: fpga.Cmd{}, Link: link, Reg: 0, Selector: ADS124S0XSelector},
		StatusReg: ADS124S0XStatusReg,
		AcqDelay:  200 * time.Millisecond,
		ReadDelay: time.Millisecond,
		Vref:      2.5,
		Gain:      1,
		Mode:      Single,
	}
}

// Reset resets the ADC and waits for it to come back
func (a *ADS124S0X) Reset() error {
	if err := a.SPI.WriteSPI(CommandFrame(CmdReset)); err != nil {
		return err
	}
	time.Sleep(resetWait)
	return nil
}

// Initialize selects the low-latency filter at 20 SPS and the internal
// 2.5 V reference, then starts conversions
func (a *ADS124S0X) Initialize() error {
	return a.SPI.WriteFrames(
		WriteRegFrame(RegDataRt, 0x14, 0x3a, 2),
		CommandFrame(CmdStart))
}

// SelectChannel routes AIN[ch] against AINCOM through the bypassed PGA, or
// for TempChannel the internal temperature sensor (129 mV at 25 C) at gain 1
func (a *ADS124S0X) SelectChannel(ch int) error {
	if ch == TempChannel {
		return a.SPI.WriteFrames(
			WriteRegFrame(RegSysMon, 0x50, 0, 1),
			WriteRegFrame(RegPGA, 0x08, 0, 1))
	}
	if ch < 0 || ch > 0xb {
		return fmt.Errorf("%w: ADS124S0X input %d", ErrBadChannel, ch)
	}
	return a.SPI.WriteFrames(
		WriteRegFrame(RegSysMon, 0x10, 0, 1),
		WriteRegFrame(RegPGA, 0x00, 0, 1),
		WriteRegFrame(RegInpMux, uint8(ch&0xf)<<4|0x0c, 0, 1))
}

// Restart stops and restarts conversions
func (a *ADS124S0X) Restart() error {
	return a.SPI.WriteFrames(CommandFrame(CmdStop), CommandFrame(CmdStart))
}

// ReadReg sends an RREG frame for n registers at addr; the register contents
// are then available from RecvDin
func (a *ADS124S0X) ReadReg(addr uint8, n int) error {
	return a.SPI.WriteSPI(ReadRegFrame(addr, n))
}

// WriteReg writes d1 (and d2 when n is 2) starting at addr
func (a *ADS124S0X) WriteReg(addr uint8, d1, d2 uint8, n int) error {
	return a.SPI.WriteSPI(WriteRegFrame(addr, d1, d2, n))
}

// RecvDin returns the 32 bits captured from the ADC during the last frame
func (a *ADS124S0X) RecvDin() (uint32, error) {
	time.Sleep(a.ReadDelay)
	v, err := bridge.Receive(a.SPI.Enc, a.SPI.Link, a.StatusReg, 2)
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint64()), nil
}

// RecvData issues RDATA and returns the captured conversion result
func (a *ADS124S0X) RecvData() (uint32, error) {
	if err := a.SPI.WriteSPI(CommandFrame(CmdRData)); err != nil {
		return 0, err
	}
	return a.RecvDin()
}

// Measure selects ch, waits AcqDelay and reads one conversion.  The code
// is returned with its conversion to volts with the ADC's Vref, Gain and Mode.
func (a *ADS124S0X) Measure(ch int) (uint32, float64, error) {
	if err := a.SelectChannel(ch); err != nil {
		return 0, 0, err
	}
	time.Sleep(a.AcqDelay)
	code, err := a.RecvData()
	if err != nil {
		return 0, 0, err
	}
	return code, ADCVolt(code, 0, a.Gain, a.Vref, a.Mode), nil
}

// Temperature measures the die temperature in Celsius
func (a *ADS124S0X) Temperature() (float64, error) {
	code, _, err := a.Measure(TempChannel)
	if err != nil {
		return 0, err
	}
	return ADCTemp(code), nil
}
