package server

import (
	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/function"
)

// Dispatch runs the full dispatch algorithm of spec §4.4 step 2-7 against a
// decoded request, returning the response ADU to send, or nil to mean
// "ignore" (either the address filter dropped it or the handler asked to).
func Dispatch(req *codec.ADU, handler Handler, respondToAll bool, unitOrAddress byte) *codec.ADU {
	if !respondToAll && !addressMatches(req, unitOrAddress) {
		return nil
	}

	switch req.Info.FC {
	case codec.FCReadCoils:
		return dispatchReadDigital(req, handler.ReadCoils, codec.MaxReadDiscretes)
	case codec.FCReadDiscreteInputs:
		return dispatchReadDigital(req, handler.ReadDiscretes, codec.MaxReadDiscretes)
	case codec.FCReadHoldingRegisters:
		return dispatchReadRegisters(req, handler.ReadHoldingRegisters, codec.MaxReadRegisters)
	case codec.FCReadInputRegisters:
		return dispatchReadRegisters(req, handler.ReadInputRegisters, codec.MaxReadRegisters)
	case codec.FCWriteSingleCoil:
		return dispatchWriteSingleCoil(req, handler)
	case codec.FCWriteSingleRegister:
		return dispatchWriteSingleRegister(req, handler)
	case codec.FCWriteMultipleCoils:
		return dispatchWriteMultipleCoils(req, handler)
	case codec.FCWriteMultipleRegisters:
		return dispatchWriteMultipleRegisters(req, handler)
	case codec.FCMaskWriteRegister:
		return dispatchMaskWriteRegister(req, handler)
	case codec.FCReadWriteMultiRegs:
		return dispatchReadWriteMultipleRegisters(req, handler)
	default:
		return exceptionResponse(req, codec.ExIllegalFunction)
	}
}

func addressMatches(req *codec.ADU, unitOrAddress byte) bool {
	if req.Framing == codec.FramingMBAP {
		return req.MBAP.UnitID == unitOrAddress
	}
	return req.RTUAddress == unitOrAddress
}

// exceptionResponse builds and finalizes an exception reply for req.
func exceptionResponse(req *codec.ADU, code codec.ExceptionCode) *codec.ADU {
	resp, err := codec.NewADU(codec.RoleResponse, req.Framing, req.Info.FC)
	if err != nil {
		return nil
	}
	if err := resp.PrepareExceptionResponseForSend(req, code); err != nil {
		return nil
	}
	return resp
}

// successResponse builds a non-exception reply, echoing header and
// whatever payload the caller wrote via accessors, and finalizes it.
func successResponse(req *codec.ADU, itemCount int, header [4]uint16, fill func(resp *codec.ADU) bool) *codec.ADU {
	resp, err := codec.NewADU(codec.RoleResponse, req.Framing, req.Info.FC)
	if err != nil {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	resp.ItemCount = itemCount
	resp.Header = header
	if fill != nil && !fill(resp) {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	if err := resp.PrepareResponseForSend(req); err != nil {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	return resp
}

func dispatchReadDigital(req *codec.ADU, read func(address, count uint16) ([]bool, codec.ExceptionCode), maxCount int) *codec.ADU {
	address, count := req.Header[0], req.Header[1]
	if count == 0 || int(count) > maxCount {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	bits, ex, panicked := callReadDigital(read, address, count)
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, int(count), [4]uint16{}, func(resp *codec.ADU) bool {
		return function.SetDiscretes(resp, bits, 0, int(count))
	})
}

func dispatchReadRegisters(req *codec.ADU, read func(address, count uint16) ([]uint16, codec.ExceptionCode), maxCount int) *codec.ADU {
	address, count := req.Header[0], req.Header[1]
	if count == 0 || int(count) > maxCount {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	vals, ex, panicked := callReadRegisters(read, address, count)
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, int(count), [4]uint16{}, func(resp *codec.ADU) bool {
		return function.SetRegisters(resp, vals, 0, int(count))
	})
}

func dispatchWriteSingleCoil(req *codec.ADU, handler Handler) *codec.ADU {
	address, raw := req.Header[0], req.Header[1]
	if raw != 0xFF00 && raw != 0x0000 {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	ex, panicked := callWrite(func() codec.ExceptionCode {
		return handler.WriteSingleCoil(address, raw == 0xFF00)
	})
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, 0, req.Header, nil)
}

func dispatchWriteSingleRegister(req *codec.ADU, handler Handler) *codec.ADU {
	address, value := req.Header[0], req.Header[1]
	ex, panicked := callWrite(func() codec.ExceptionCode {
		return handler.WriteSingleRegister(address, value)
	})
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, 0, req.Header, nil)
}

func dispatchWriteMultipleCoils(req *codec.ADU, handler Handler) *codec.ADU {
	address, count := req.Header[0], req.Header[1]
	if count == 0 || int(count) > codec.MaxWriteCoils {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	bits := make([]bool, count)
	if !function.GetDiscretes(req, bits, 0, int(count)) {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	ex, panicked := callWrite(func() codec.ExceptionCode {
		return handler.WriteMultipleCoils(address, bits)
	})
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, 0, [4]uint16{address, count}, nil)
}

func dispatchWriteMultipleRegisters(req *codec.ADU, handler Handler) *codec.ADU {
	address, count := req.Header[0], req.Header[1]
	if count == 0 || int(count) > codec.MaxWriteRegisters {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	vals := make([]uint16, count)
	if !function.GetRegisters(req, vals, 0, int(count)) {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	ex, panicked := callWrite(func() codec.ExceptionCode {
		return handler.WriteMultipleRegisters(address, vals)
	})
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, 0, [4]uint16{address, count}, nil)
}

func dispatchMaskWriteRegister(req *codec.ADU, handler Handler) *codec.ADU {
	address, andMask, orMask := req.Header[0], req.Header[1], req.Header[2]
	ex, panicked := callWrite(func() codec.ExceptionCode {
		return handler.MaskWriteRegister(address, andMask, orMask)
	})
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, 0, req.Header, nil)
}

func dispatchReadWriteMultipleRegisters(req *codec.ADU, handler Handler) *codec.ADU {
	rAddr, rCount, wAddr, wCount := req.Header[0], req.Header[1], req.Header[2], req.Header[3]
	if rCount == 0 || int(rCount) > codec.MaxReadRegisters || int(wCount) > codec.MaxRWWriteRegs {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	writeVals := make([]uint16, wCount)
	if wCount > 0 && !function.GetRegisters(req, writeVals, 0, int(wCount)) {
		return exceptionResponse(req, codec.ExIllegalDataValue)
	}
	var (
		readVals []uint16
		ex       codec.ExceptionCode
		panicked bool
	)
	func() {
		defer func() {
			if recover() != nil {
				panicked = true
			}
		}()
		readVals, ex = handler.ReadWriteMultipleRegisters(rAddr, rCount, wAddr, writeVals)
	}()
	if panicked {
		return exceptionResponse(req, codec.ExSlaveDeviceFailure)
	}
	if ex == IgnoreRequest {
		return nil
	}
	if ex != codec.NoException {
		return exceptionResponse(req, ex)
	}
	return successResponse(req, int(rCount), [4]uint16{}, func(resp *codec.ADU) bool {
		return function.SetRegisters(resp, readVals, 0, int(rCount))
	})
}

func callReadDigital(read func(address, count uint16) ([]bool, codec.ExceptionCode), address, count uint16) (bits []bool, ex codec.ExceptionCode, panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	bits, ex = read(address, count)
	return
}

func callReadRegisters(read func(address, count uint16) ([]uint16, codec.ExceptionCode), address, count uint16) (vals []uint16, ex codec.ExceptionCode, panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	vals, ex = read(address, count)
	return
}

func callWrite(write func() codec.ExceptionCode) (ex codec.ExceptionCode, panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	ex = write()
	return
}
