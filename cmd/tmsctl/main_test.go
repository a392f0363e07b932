package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf"

	"github.com/topmetal/tmsctl/bridge"
)

func TestConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "tmsctl.yml")
	body := "control: 127.0.0.1:11024\nsettleDelay: 50ms\nscan:\n  step: 500\n  format: fits\n"
	if err := os.WriteFile(fn, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	ConfigFileName, k = fn, koanf.New(".")
	if err := setupconfig(); err != nil {
		t.Fatal(err)
	}
	c, err := config()
	if err != nil {
		t.Fatal(err)
	}
	if c.Control != "127.0.0.1:11024" || c.SettleDelay != 50*time.Millisecond {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.Scan.Step != 500 || c.Scan.Format != "fits" || c.Scan.Upper != 58000 {
		t.Errorf("expected the scan section merged over defaults, got %+v", c.Scan)
	}
	if c.SMU != DefaultConfig.SMU || c.ArrayScan != DefaultConfig.ArrayScan {
		t.Errorf("expected defaults for omitted keys, got %+v", c)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	ConfigFileName, k = filepath.Join(t.TempDir(), "absent.yml"), koanf.New(".")
	if err := setupconfig(); err != nil {
		t.Fatal(err)
	}
	c, err := config()
	if err != nil {
		t.Fatal(err)
	}
	if c.Control != DefaultConfig.Control || c.Tuner.Refresh != DefaultConfig.Tuner.Refresh {
		t.Errorf("expected defaults, got %+v", c)
	}
}

func TestTrimHex(t *testing.T) {
	for in, want := range map[string]string{"0x1e240": "1e240", "1E240": "1E240", "0X": "0X"} {
		if got := trimHex(in); got != want {
			t.Errorf("trimHex(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSettleDelayHasFloor(t *testing.T) {
	for in, want := range map[time.Duration]time.Duration{
		0:                     bridge.DefaultSettle,
		-time.Second:          bridge.DefaultSettle,
		50 * time.Millisecond: 50 * time.Millisecond,
	} {
		if got := settleDelay(Config{SettleDelay: in}); got != want {
			t.Errorf("settleDelay %v: expected %v, got %v", in, want, got)
		}
	}
}
