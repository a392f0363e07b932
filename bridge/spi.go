package bridge

import (
	"github.com/topmetal/tmsctl/fpga"
)

// SPIFrame sends 32-bit SPI frames through one config register
type SPIFrame struct {
	Enc  fpga.Encoder
	Link fpga.Transport

	// Reg is the config register the peripheral's SPI master reads
	Reg uint8

	// Selector is the pulse that clocks one half out
	Selector uint16
}

// Frame returns the commands for v: the high half written and pulsed,
// then the low half written and pulsed
func (s SPIFrame) Frame(v uint32) []byte {
	out := make([]byte, 0, 16)
	out = append(out, s.Enc.WriteRegister(s.Reg, uint16(v>>16))...)
	out = append(out, s.Enc.SendPulse(s.Selector)...)
	out = append(out, s.Enc.WriteRegister(s.Reg, uint16(v))...)
	return append(out, s.Enc.SendPulse(s.Selector)...)
}

// WriteSPI sends one frame
func (s SPIFrame) WriteSPI(v uint32) error {
	return s.Link.Send(s.Frame(v))
}

// WriteFrames sends several frames in one burst
func (s SPIFrame) WriteFrames(vs ...uint32) error {
	out := make([]byte, 0, 16*len(vs))
	for _, v := range vs {
		out = append(out, s.Frame(v)...)
	}
	return s.Link.Send(out)
}
