// Command modbusctl is a one-shot Modbus client: it dials a single
// transport, runs one function through internal/client.Engine, prints the
// result, and exits.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/modbusd/modbusd/internal/client"
	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/function"
	"github.com/modbusd/modbusd/internal/transport"
)

var (
	flags    dialConfig
	viperCfg = viper.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "modbusctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	bindDialFlags(viperCfg)

	root := &cobra.Command{
		Use:           "modbusctl",
		Short:         "One-shot Modbus client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.Transport, "transport", "tcp", "tcp | udp | serial")
	pf.StringVar(&flags.Address, "address", "", "host:port, or serial port name")
	pf.IntVar(&flags.Baud, "baud", 19200, "baud rate (serial transport only)")
	pf.StringVar(&flags.Framing, "framing", "mbap", "rtu | mbap")
	pf.Uint8Var(&flags.Unit, "unit", 1, "RTU slave address or MBAP unit id")
	pf.DurationVar(&flags.Timeout, "timeout", 3*time.Second, "per-try response timeout")

	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newAddrCmd())
	return root
}

func explicitFlags(cmd *cobra.Command) map[string]bool {
	explicit := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		explicit[f.Name] = true
	})
	return explicit
}

func dial(cmd *cobra.Command) (transport.Transport, dialConfig, error) {
	cfg := resolveDialConfig(viperCfg, flags, explicitFlags(cmd))
	if cfg.Address == "" {
		return nil, cfg, fmt.Errorf("modbusctl: --address is required")
	}

	var t transport.Transport
	switch cfg.Transport {
	case "tcp":
		t = transport.NewTCP(cfg.Address, cfg.Timeout)
	case "udp":
		t = transport.NewUDP(cfg.Address)
	case "serial":
		t = transport.NewSerial(cfg.Address, cfg.Baud)
	default:
		return nil, cfg, fmt.Errorf("modbusctl: unknown transport %q", cfg.Transport)
	}
	if err := t.Connect(); err != nil {
		return nil, cfg, err
	}
	return t, cfg, nil
}

func parseFraming(s string) (codec.Framing, error) {
	switch s {
	case "rtu":
		return codec.FramingRTU, nil
	case "mbap":
		return codec.FramingMBAP, nil
	default:
		return 0, fmt.Errorf("modbusctl: unknown framing %q", s)
	}
}

func runFunction(cfg dialConfig, t transport.Transport, fc codec.FunctionCode, header [4]uint16, itemCount int, payload func(req *codec.ADU) bool) (*function.Function, error) {
	framing, err := parseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}
	fn, err := function.New(framing, fc, cfg.Timeout, client.DefaultMaxTries(t))
	if err != nil {
		return nil, err
	}
	fn.Request.Header = header
	fn.Request.ItemCount = itemCount
	if payload != nil && !payload(fn.Request) {
		return nil, fmt.Errorf("modbusctl: failed to encode request payload")
	}

	eng := client.NewEngine(t, framing, cfg.Unit)
	eng.Run(fn)
	return fn, nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
