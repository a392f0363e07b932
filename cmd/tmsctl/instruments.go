package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/topmetal/tmsctl/keithley"
	"github.com/topmetal/tmsctl/rigol"
)

var fungenCmd = &cobra.Command{
	Use:   "fungen",
	Short: "Program the DG1022 with the exponential tail pulse",
	Long: `fungen sets the DG1022 output levels, uploads an arbitrary waveform that
holds full scale for --xp points and then decays as exp(-alpha*i), and turns
the output on.  The generator is found on USB, or at the configured LAN
address when no USB device is present.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		f := cmd.Flags()
		freq, _ := f.GetFloat64("freq")
		xp, _ := f.GetInt("xp")
		np, _ := f.GetInt("np")
		alpha, _ := f.GetFloat64("alpha")
		lo, _ := f.GetFloat64("low")
		hi, _ := f.GetFloat64("high")

		gen, err := rigol.Open(c.FunGen, log)
		if err != nil {
			return err
		}
		defer gen.Close()
		if err = gen.SetLevels(lo, hi); err != nil {
			return err
		}
		if err = gen.SetupTailPulse(freq, xp, np, alpha); err != nil {
			return err
		}
		if err = gen.TurnOnOutput(); err != nil {
			return err
		}
		log.Info("tail pulse", zap.Float64("hz", freq), zap.Int("xp", xp), zap.Int("np", np), zap.Float64("alpha", alpha))
		return nil
	},
}

var smuCmd = &cobra.Command{
	Use:       "smu on|off",
	Short:     "Switch the probe card supply",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		smu := keithley.NewSMU2450(c.SMU)
		defer smu.Close()
		switch args[0] {
		case "on":
			v, _ := cmd.Flags().GetFloat64("volts")
			i, _ := cmd.Flags().GetFloat64("ilimit")
			return smu.VoltOn(v, i)
		case "off":
			return smu.VoltOff()
		}
		return fmt.Errorf("unknown state %q", args[0])
	},
}

func init() {
	f := fungenCmd.Flags()
	f.Float64("freq", 100, "repetition rate in Hz")
	f.Int("xp", 64, "points held at full scale")
	f.Int("np", 1024, "waveform points")
	f.Float64("alpha", 0.01, "decay per point")
	f.Float64("low", 0, "low level in volts")
	f.Float64("high", 0.1, "high level in volts")

	smuCmd.Flags().Float64("volts", keithley.DefaultVolts, "supply voltage")
	smuCmd.Flags().Float64("ilimit", keithley.DefaultILimit, "current limit in amps")
	rootCmd.AddCommand(fungenCmd, smuCmd)
}
