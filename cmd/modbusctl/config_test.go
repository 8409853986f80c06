package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestResolveDialConfig_FlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("MODBUSCTL_TRANSPORT", "serial")
	t.Setenv("MODBUSCTL_TIMEOUT", "9s")

	v := viper.New()
	bindDialFlags(v)

	explicit := map[string]bool{"transport": true}
	in := dialConfig{Transport: "tcp", Framing: "mbap", Unit: 1, Timeout: 3 * time.Second}

	got := resolveDialConfig(v, in, explicit)
	if got.Transport != "tcp" {
		t.Fatalf("expected the explicitly-set flag to win, got %q", got.Transport)
	}
	if got.Timeout != 9*time.Second {
		t.Fatalf("expected the environment override for an unset flag, got %v", got.Timeout)
	}
}

func TestResolveDialConfig_DefaultsWhenNothingSet(t *testing.T) {
	v := viper.New()
	bindDialFlags(v)

	got := resolveDialConfig(v, dialConfig{}, map[string]bool{})
	if got.Transport != "tcp" || got.Framing != "mbap" || got.Unit != 1 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestParseUint16(t *testing.T) {
	n, err := parseUint16("512")
	if err != nil || n != 512 {
		t.Fatalf("parseUint16(512) = %d, %v", n, err)
	}
	if _, err := parseUint16("not-a-number"); err == nil {
		t.Fatalf("expected an error for a non-numeric address")
	}
}

func TestParseFraming(t *testing.T) {
	if _, err := parseFraming("rtu"); err != nil {
		t.Fatalf("parseFraming(rtu): %v", err)
	}
	if _, err := parseFraming("mbap"); err != nil {
		t.Fatalf("parseFraming(mbap): %v", err)
	}
	if _, err := parseFraming("ascii"); err == nil {
		t.Fatalf("expected an error for an unsupported framing")
	}
}
