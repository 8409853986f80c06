package main

import (
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level modbusd daemon configuration: one or more
// listeners, logging, and ring-store persistence for the default data
// table. Precedence, highest to lowest: CLI flags, MODBUSD_* environment
// variables, the YAML config file, then the defaults below.
type Config struct {
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Listeners []ListenerConfig `mapstructure:"listeners" yaml:"listeners"`
	Ring      RingConfig       `mapstructure:"ring" yaml:"ring"`
}

// LoggingConfig controls the zap logger built in main.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// ListenerConfig describes one server engine: a transport to listen or
// dial on, the framing it speaks, and the address filter spec §4.4 applies
// to inbound requests.
type ListenerConfig struct {
	Name          string        `mapstructure:"name" yaml:"name"`
	Transport     string        `mapstructure:"transport" yaml:"transport"` // tcp | udp | serial
	Address       string        `mapstructure:"address" yaml:"address"`
	Baud          int           `mapstructure:"baud" yaml:"baud"`
	Framing       string        `mapstructure:"framing" yaml:"framing"` // rtu | mbap
	UnitOrAddress uint8         `mapstructure:"unit_or_address" yaml:"unit_or_address"`
	RespondToAll  bool          `mapstructure:"respond_to_all" yaml:"respond_to_all"`
	TimeLimit     time.Duration `mapstructure:"time_limit" yaml:"time_limit"`
}

// RingConfig configures the persistent ring store backing the default data
// table. An empty Dir disables persistence entirely.
type RingConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	Base           string `mapstructure:"base" yaml:"base"`
	Alphabet       string `mapstructure:"alphabet" yaml:"alphabet"`
	AutoCreatePath bool   `mapstructure:"auto_create_path" yaml:"auto_create_path"`
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Listeners: []ListenerConfig{
			{
				Name:          "default",
				Transport:     "tcp",
				Address:       ":502",
				Framing:       "mbap",
				UnitOrAddress: 1,
				RespondToAll:  true,
				TimeLimit:     3 * time.Second,
			},
		},
		Ring: RingConfig{
			Dir:            "",
			Base:           "modbusd-table",
			Alphabet:       "ab",
			AutoCreatePath: true,
		},
	}
}

// loadConfig reads cfgFile (if non-empty) or searches the working directory
// and /etc/modbusd for modbusd.yaml, layers MODBUSD_* environment
// variables on top, and falls back to defaultConfig for anything unset.
func loadConfig(cfgFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("modbusd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/modbusd")
	}

	v.SetEnvPrefix("MODBUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("ring.base", def.Ring.Base)
	v.SetDefault("ring.alphabet", def.Ring.Alphabet)
	v.SetDefault("ring.auto_create_path", def.Ring.AutoCreatePath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, pkgerrors.Wrap(err, "modbusd: read config file")
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, pkgerrors.Wrap(err, "modbusd: decode config")
	}
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = def.Listeners
	}
	return cfg, nil
}
