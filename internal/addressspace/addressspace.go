// Package addressspace converts between Modicon's traditional 5/6-digit
// absolute register numbering (0-, 1-, 3-, 4-prefixed) and the 0-based
// relative addresses that actually go on the wire, plus the function code
// each prefix implies.
package addressspace

import (
	"fmt"

	"github.com/modbusd/modbusd/internal/codec"
)

// Relative maps an absolute Modicon address to a (relative address, FC)
// pair: 0xxxx -> coils (FC 0x01), 1xxxx -> discretes (FC 0x02), 3xxxx ->
// input registers (FC 0x04), 4xxxx -> holding registers (FC 0x03).
func Relative(absolute uint32) (uint16, codec.FunctionCode, error) {
	switch {
	case absolute < 100000:
		return uint16(absolute), codec.FCReadCoils, nil
	case absolute >= 100000 && absolute < 165536:
		return uint16(absolute - 100000), codec.FCReadDiscreteInputs, nil
	case absolute >= 300000 && absolute < 365536:
		return uint16(absolute - 300000), codec.FCReadInputRegisters, nil
	case absolute >= 400000 && absolute < 465536:
		return uint16(absolute - 400000), codec.FCReadHoldingRegisters, nil
	default:
		return 0, 0, fmt.Errorf("addressspace: %d is not a valid Modicon address", absolute)
	}
}

// Absolute is the inverse of Relative: given a relative address and the FC
// that addresses it, returns the Modicon absolute address.
func Absolute(fc codec.FunctionCode, relative uint16) (uint32, error) {
	switch fc {
	case codec.FCReadCoils, codec.FCWriteSingleCoil, codec.FCWriteMultipleCoils:
		return uint32(relative), nil
	case codec.FCReadDiscreteInputs:
		return uint32(relative) + 100000, nil
	case codec.FCReadInputRegisters:
		return uint32(relative) + 300000, nil
	case codec.FCReadHoldingRegisters, codec.FCWriteSingleRegister, codec.FCWriteMultipleRegisters,
		codec.FCMaskWriteRegister, codec.FCReadWriteMultiRegs:
		return uint32(relative) + 400000, nil
	default:
		return 0, fmt.Errorf("addressspace: FC 0x%02X has no Modicon address mapping", byte(fc))
	}
}
