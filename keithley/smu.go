// Package keithley provides an interface to the Keithley 2450 source-measure
// unit that powers the probe card
package keithley

import (
	"fmt"
	"time"

	"github.com/topmetal/tmsctl/scpi"
)

const (
	// DefaultVolts is the supply voltage of the probe card
	DefaultVolts = 7.0

	// DefaultILimit is the current compliance in amps
	DefaultILimit = 0.2

	// PowerUpWait is how long the chip is given after VoltOn
	PowerUpWait = 2 * time.Second

	loopUntilEvent = `:TRIG:LOAD "LoopUntilEvent", COMM, 100`
)

// SMU2450 is a Keithley 2450 reached over its raw SCPI socket (port 5025)
type SMU2450 struct {
	*scpi.SCPI
}

// NewSMU2450 returns an SMU at addr, host:port
func NewSMU2450(addr string) *SMU2450 {
	return &SMU2450{scpi.NewTCP(addr, time.Second)}
}

// VoltOnScript sources v volts with a current limit of iLimit amps and
// measures current on auto range, under a trigger model that loops until
// a communication event
func VoltOnScript(v, iLimit float64) []string {
	return []string{
		":ABORT",
		`:TRIG:LOAD "EMPTY"`,
		`:SENS:FUNC "CURR:DC"`,
		":SENS:CURR:RANG:AUTO ON",
		":SENS:CURR:RSEN OFF",
		":SOUR:FUNC VOLT",
		fmt.Sprintf(":SOUR:VOLT %f", v),
		fmt.Sprintf(":SOUR:VOLT:ILIM %f", iLimit),
		":OUTP ON",
		loopUntilEvent,
		":INIT",
	}
}

// VoltOffScript turns the output off and restarts the idle trigger model
func VoltOffScript() []string {
	return []string{
		":ABORT",
		`:TRIG:LOAD "EMPTY"`,
		":OUTP OFF",
		loopUntilEvent,
		":INIT",
	}
}

func (s *SMU2450) run(script []string) error {
	for _, line := range script {
		if err := s.Write(line); err != nil {
			return fmt.Errorf("SMU2450 %q: %w", line, err)
		}
	}
	return nil
}

// VoltOn turns the source on at v volts limited to iLimit amps
func (s *SMU2450) VoltOn(v, iLimit float64) error {
	return s.run(VoltOnScript(v, iLimit))
}

// VoltOff turns the source off
func (s *SMU2450) VoltOff() error {
	return s.run(VoltOffScript())
}
