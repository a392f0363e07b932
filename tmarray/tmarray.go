/*Package tmarray configures the pixel array modules of the TMIIa gateware:
the SRAM that holds per-pixel trim data and the array scan sequencer.

Both are driven through the same bridge as the shift register.  The SRAM is
loaded with memory write commands, the scan module through four config
registers latched by one pulse.
*/
package tmarray

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/topmetal/tmsctl/fpga"
)

const (
	// Pixels is the number of nibbles of trim data for the full array, 45x216
	Pixels = 45 * 216

	// ScanReg is the first of the four config registers of the array scan module
	ScanReg = 11

	// ScanSelector latches the array scan configuration
	ScanSelector = 0x04

	// MemLoadSelector hands loaded memory words to the JTAG engine
	MemLoadSelector = 0x0c
)

// SRAMConfig loads nibbles into the SRAM starting at word startAddr in one burst
func SRAMConfig(link fpga.Transport, startAddr uint32, nibbles []uint8) error {
	return link.Send(fpga.Cmd{}.WriteMemory(startAddr, nibbles))
}

// ArrayScan is the configuration of the array scan sequencer
type ArrayScan struct {
	// ClkDiv divides the clock while the array is scanned
	ClkDiv uint8 `yaml:"clkDiv" koanf:"clkDiv"`

	// WrClkDiv divides the clock while data is written into the pixels
	WrClkDiv uint8 `yaml:"wrClkDiv" koanf:"wrClkDiv"`

	// StopAddr is the pixel where a scan stops
	StopAddr uint16 `yaml:"stopAddr" koanf:"stopAddr"`

	TrigRate  uint16 `yaml:"trigRate" koanf:"trigRate"`
	TrigDelay uint16 `yaml:"trigDelay" koanf:"trigDelay"`

	StopClkS bool `yaml:"stopClkS" koanf:"stopClkS"`
	KeepWE   bool `yaml:"keepWE" koanf:"keepWE"`
}

// DefaultArrayScan is the bring-up setting of the sequencer
var DefaultArrayScan = ArrayScan{
	ClkDiv:    7,
	WrClkDiv:  14,
	StopAddr:  1,
	TrigRate:  4,
	TrigDelay: 1,
	KeepWE:    true,
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Register packs the configuration into the 64-bit config register
func (a ArrayScan) Register() uint64 {
	return uint64(a.TrigDelay)<<48 |
		uint64(a.TrigRate)<<32 |
		uint64(a.StopAddr)<<16 |
		b2u(a.KeepWE)<<9 |
		b2u(a.StopClkS)<<8 |
		uint64(a.WrClkDiv&0xf)<<4 |
		uint64(a.ClkDiv&0xf)
}

// Burst writes the register to ScanReg..ScanReg+3, low half-word first,
// then latches it
func (a ArrayScan) Burst() []byte {
	var enc fpga.Cmd
	reg := a.Register()
	var out []byte
	for i := uint8(0); i < 4; i++ {
		out = append(out, enc.WriteRegister(ScanReg+i, uint16(reg>>(16*i)))...)
	}
	return append(out, enc.SendPulse(ScanSelector)...)
}

// Apply sends the configuration
func (a ArrayScan) Apply(link fpga.Transport) error {
	return link.Send(a.Burst())
}

// ReadWords parses whitespace separated hexadecimal words, with or without
// a 0x prefix
func ReadWords(r io.Reader) ([]uint32, error) {
	var out []uint32
	scn := bufio.NewScanner(r)
	scn.Split(bufio.ScanWords)
	for scn.Scan() {
		tok := strings.TrimPrefix(strings.ToLower(scn.Text()), "0x")
		w, err := strconv.ParseUint(tok, 16, 32)
		if err != nil {
			return out, fmt.Errorf("word %d: %w", len(out), err)
		}
		out = append(out, uint32(w))
	}
	return out, scn.Err()
}

// LoadWordFile reads a word file, see ReadWords
func LoadWordFile(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadWords(f)
}

// MemLoad writes words to memory from addr and hands them to the JTAG engine
func MemLoad(link fpga.Transport, addr uint32, words []uint32) error {
	var enc fpga.Cmd
	if err := link.Send(enc.WriteMemoryWords(addr, words)); err != nil {
		return err
	}
	return link.Send(enc.SendPulse(MemLoadSelector))
}
