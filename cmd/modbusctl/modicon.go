package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modbusd/modbusd/internal/addressspace"
	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/function"
)

func newAddrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "addr <modicon-address> <count>",
		Short: "Read a block starting at a 5/6-digit Modicon absolute address (0xxxx/1xxxx/3xxxx/4xxxx)",
		Args:  cobra.ExactArgs(2),
		RunE:  runAddr,
	}
}

func runAddr(cmd *cobra.Command, args []string) error {
	absolute, err := parseUint32(args[0])
	if err != nil {
		return fmt.Errorf("modbusctl: invalid modicon address: %w", err)
	}
	count, err := parseUint16(args[1])
	if err != nil {
		return fmt.Errorf("modbusctl: invalid count: %w", err)
	}

	address, fc, err := addressspace.Relative(absolute)
	if err != nil {
		return fmt.Errorf("modbusctl: %w", err)
	}

	t, cfg, err := dial(cmd)
	if err != nil {
		return err
	}
	defer t.Disconnect()

	fn, err := runFunction(cfg, t, fc, [4]uint16{address, count}, 0, nil)
	if err != nil {
		return err
	}
	if !fn.Succeeded() {
		return fmt.Errorf("modbusctl: read failed: %v", fn.Err)
	}

	switch fc {
	case codec.FCReadCoils, codec.FCReadDiscreteInputs:
		bits := make([]bool, count)
		if !function.GetDiscretes(fn.Response, bits, 0, int(count)) {
			return fmt.Errorf("modbusctl: malformed response payload")
		}
		for i, b := range bits {
			modiconAddr, _ := addressspace.Absolute(fc, address+uint16(i))
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %v\n", modiconAddr, b)
		}
	default:
		vals := make([]uint16, count)
		if !function.GetRegisters(fn.Response, vals, 0, int(count)) {
			return fmt.Errorf("modbusctl: malformed response payload")
		}
		for i, v := range vals {
			modiconAddr, _ := addressspace.Absolute(fc, address+uint16(i))
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %d\n", modiconAddr, v)
		}
	}
	return nil
}
