/*Command tmsctl brings up and characterizes Topmetal-S chips through the
FPGA bridge: single chip setup, probe card and DAC scans, the live tuner,
raw shift register transfers, the TMIIa array modules and the bench
instruments.

Settings come from tmsctl.yml in the working directory, with defaults for
anything it omits; see "tmsctl mkconf".
*/
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	yml "gopkg.in/yaml.v2"

	"github.com/topmetal/tmsctl/bench"
	"github.com/topmetal/tmsctl/bridge"
	"github.com/topmetal/tmsctl/rigol"
	"github.com/topmetal/tmsctl/tmarray"
	"github.com/topmetal/tmsctl/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "tmsctl.yml"
	k              = koanf.New(".")

	verbose bool
	log     = zap.NewNop()
)

// TunerConfig configures the tuner service
type TunerConfig struct {
	Addr string `yaml:"addr" koanf:"addr"`

	Refresh time.Duration `yaml:"refresh" koanf:"refresh"`

	// MaxRate is the most shift register transfers per second, 0 for no limit
	MaxRate float64 `yaml:"maxRate" koanf:"maxRate"`
}

// ScanConfig configures the probe card scan and scan output
type ScanConfig struct {
	Lower int `yaml:"lower" koanf:"lower"`
	Upper int `yaml:"upper" koanf:"upper"`
	Step  int `yaml:"step" koanf:"step"`

	// Prefix is prepended to data file names, e.g. a directory
	Prefix string `yaml:"prefix" koanf:"prefix"`

	// Format is dat or fits
	Format string `yaml:"format" koanf:"format"`
}

// Config is the tmsctl configuration
type Config struct {
	// Control is the host:port of the FPGA bridge
	Control string `yaml:"control" koanf:"control"`

	// Timeout bounds connects and every bridge read and write
	Timeout time.Duration `yaml:"timeout" koanf:"timeout"`

	// SMU is the host:port of the Keithley 2450
	SMU string `yaml:"smu" koanf:"smu"`

	// DMM is the serial port of the HP 34401A
	DMM string `yaml:"dmm" koanf:"dmm"`

	FunGen rigol.Config `yaml:"fungen" koanf:"fungen"`

	ClkDiv      uint8         `yaml:"clkDiv" koanf:"clkDiv"`
	SettleDelay time.Duration `yaml:"settleDelay" koanf:"settleDelay"`
	AcqDelay    time.Duration `yaml:"acqDelay" koanf:"acqDelay"`

	// Layout is a layout file for a chip variant, empty for the 1 mm chip
	Layout string `yaml:"layout" koanf:"layout"`

	Tuner     TunerConfig       `yaml:"tuner" koanf:"tuner"`
	Scan      ScanConfig        `yaml:"scan" koanf:"scan"`
	ArrayScan tmarray.ArrayScan `yaml:"arrayScan" koanf:"arrayScan"`
}

// DefaultConfig is the bench as it is usually cabled
var DefaultConfig = Config{
	Control:     "192.168.2.3:1024",
	Timeout:     5 * time.Second,
	SMU:         "192.168.2.100:5025",
	DMM:         "/dev/ttyUSB0",
	FunGen:      rigol.DefaultConfig,
	ClkDiv:      bench.DefaultClkDiv,
	SettleDelay: bridge.DefaultSettle,
	AcqDelay:    200 * time.Millisecond,
	Tuner: TunerConfig{
		Addr:    ":8000",
		Refresh: 500 * time.Millisecond,
		MaxRate: 10,
	},
	Scan: ScanConfig{
		Lower:  0,
		Upper:  58000,
		Step:   2000,
		Prefix: "data/",
		Format: "dat",
	},
	ArrayScan: tmarray.DefaultArrayScan,
}

func setupconfig() error {
	k.Load(structs.Provider(DefaultConfig, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return fmt.Errorf("error loading config: %w", err)
		}
	}
	return nil
}

func config() (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

var rootCmd = &cobra.Command{
	Use:   "tmsctl",
	Short: "Topmetal-S bring-up and characterization",
	Long: `tmsctl talks to a Topmetal-S test board through its FPGA bridge, and to
the bench instruments around it: the Keithley 2450 SMU powering a probe card,
the HP 34401A meter used by the DAC scan and the Rigol DG1022 pulser.

Settings are read from tmsctl.yml; "tmsctl mkconf" writes the defaults.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := util.NewLogger(verbose)
		if err != nil {
			return err
		}
		log = l
		return setupconfig()
	},
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "Write the effective configuration to " + ConfigFileName,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		f, err := os.Create(ConfigFileName)
		if err != nil {
			return err
		}
		defer f.Close()
		return yml.NewEncoder(f).Encode(c)
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		return yml.NewEncoder(os.Stdout).Encode(c)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tmsctl version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(mkconfCmd, confCmd, versionCmd)
}

func main() {
	err := rootCmd.Execute()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "tmsctl:", err)
		os.Exit(1)
	}
}
