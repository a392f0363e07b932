package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/theckman/yacspin"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/fpga"
	"github.com/topmetal/tmsctl/scan"
	"github.com/topmetal/tmsctl/topmetal"
)

// connect dials the bridge and returns the board behind it with the
// configured delays
func connect(c Config, width uint) (*fpga.Link, *bench.Board, error) {
	link, err := fpga.Dial(c.Control, c.Timeout)
	if err != nil {
		return nil, nil, err
	}
	board := bench.NewBoard(link, width, log)
	board.SR.Settle = settleDelay(c)
	board.ADC.AcqDelay = c.AcqDelay
	return link, board, nil
}

// settleDelay is the configured wait between the latch and the read-back.
// It cannot be turned off; zero or less gives the default.
func settleDelay(c Config) time.Duration {
	if c.SettleDelay <= 0 {
		return bridge.DefaultSettle
	}
	return c.SettleDelay
}

// chipConfig returns the configuration of the 1 mm chip, or of the layout
// file when one is configured
func chipConfig(c Config) (*topmetal.Config, error) {
	if c.Layout == "" {
		return topmetal.NewTMS1mm(), nil
	}
	l, err := topmetal.LoadLayout(c.Layout)
	if err != nil {
		return nil, err
	}
	return topmetal.New(l, nil)
}

// interruptible returns a context cancelled on SIGINT
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// scanWriter opens the output of a scan named name under the configured
// prefix.  Text files are appended to, FITS files are created.
func scanWriter(c Config, name string, dat func(*os.File) scan.Writer) (scan.Writer, string, error) {
	if dir := filepath.Dir(c.Scan.Prefix + name); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, "", err
		}
	}
	switch c.Scan.Format {
	case "", "dat":
		fn := c.Scan.Prefix + name + ".dat"
		f, err := scan.AppendFile(fn)
		if err != nil {
			return nil, "", err
		}
		return dat(f), fn, nil
	case "fits":
		fn := c.Scan.Prefix + name + ".fits"
		f, err := os.Create(fn)
		if err != nil {
			return nil, "", err
		}
		return scan.NewFITSWriter(f), fn, nil
	default:
		return nil, "", fmt.Errorf("unknown scan format %q, want dat or fits", c.Scan.Format)
	}
}

// newSpinner returns a started spinner, or nil when verbose logging would
// garble it
func newSpinner(msg string) *yacspin.Spinner {
	if verbose {
		return nil
	}
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
		StopColors:        []string{"fgGreen"},
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil
	}
	if err = s.Start(); err != nil {
		return nil
	}
	return s
}

// spinMessage updates s, which may be nil
func spinMessage(s *yacspin.Spinner, format string, a ...interface{}) {
	if s != nil {
		s.Message(fmt.Sprintf(format, a...))
	}
}

// spinStop stops s, which may be nil, as failed when err is not nil
func spinStop(s *yacspin.Spinner, err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		return
	}
	s.Stop()
}
