package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// dialConfig describes the one transport modbusctl talks to. Flags set on
// the command line take precedence; MODBUSCTL_* environment variables fill
// in anything no flag set explicitly.
type dialConfig struct {
	Transport string
	Address   string
	Baud      int
	Framing   string
	Unit      uint8
	Timeout   time.Duration
}

func bindDialFlags(v *viper.Viper) {
	v.SetEnvPrefix("MODBUSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("transport", "tcp")
	v.SetDefault("framing", "mbap")
	v.SetDefault("unit", 1)
	v.SetDefault("timeout", 3*time.Second)
}

// resolveDialConfig merges whatever was passed on the CLI with viper's view
// of the environment, CLI flags winning whenever explicit marks them as set
// on the command line.
func resolveDialConfig(v *viper.Viper, flags dialConfig, explicit map[string]bool) dialConfig {
	cfg := flags
	if !explicit["transport"] {
		cfg.Transport = v.GetString("transport")
	}
	if !explicit["address"] && v.IsSet("address") {
		cfg.Address = v.GetString("address")
	}
	if !explicit["baud"] && v.IsSet("baud") {
		cfg.Baud = v.GetInt("baud")
	}
	if !explicit["framing"] {
		cfg.Framing = v.GetString("framing")
	}
	if !explicit["unit"] {
		cfg.Unit = uint8(v.GetUint32("unit"))
	}
	if !explicit["timeout"] {
		cfg.Timeout = v.GetDuration("timeout")
	}
	return cfg
}
