// Package codec implements bit-exact encode/decode of Modbus ADUs and PDUs:
// RTU (CRC-16 framed) and MBAP (TCP/UDP, length-prefixed) framings over the
// standard function-code set. It knows nothing about transports or I/O.
package codec

import "fmt"

// FunctionCode is the one-byte Modbus function selector (FC in the spec).
type FunctionCode byte

// Function codes. FC 0x08 diagnostics is declared here but has no fcTable
// entry; it and every other code without one (FC 0x2B MEI among them) are
// rejected by the codec with ErrInvalidFC -- see FCInfoFor.
const (
	FCReadCoils              FunctionCode = 0x01
	FCReadDiscreteInputs     FunctionCode = 0x02
	FCReadHoldingRegisters   FunctionCode = 0x03
	FCReadInputRegisters     FunctionCode = 0x04
	FCWriteSingleCoil        FunctionCode = 0x05
	FCWriteSingleRegister    FunctionCode = 0x06
	FCDiagnostics            FunctionCode = 0x08 // declared, never implemented; see spec Open Question 3
	FCWriteMultipleCoils     FunctionCode = 0x0F
	FCWriteMultipleRegisters FunctionCode = 0x10
	FCMaskWriteRegister      FunctionCode = 0x16
	FCReadWriteMultiRegs     FunctionCode = 0x17

	// ExceptionBit is OR'd into the request FC to form an exception reply.
	ExceptionBit FunctionCode = 0x80
)

// ExceptionCode is the single byte that follows an exception-flagged FC.
type ExceptionCode byte

// NoException means "no exception occurred" -- never placed on the wire.
const NoException ExceptionCode = 0

const (
	ExIllegalFunction                    ExceptionCode = 0x01
	ExIllegalDataAddress                 ExceptionCode = 0x02
	ExIllegalDataValue                   ExceptionCode = 0x03
	ExSlaveDeviceFailure                 ExceptionCode = 0x04
	ExAcknowledge                        ExceptionCode = 0x05
	ExSlaveDeviceBusy                    ExceptionCode = 0x06
	ExMemoryParityError                  ExceptionCode = 0x08
	ExGatewayPathUnavailable             ExceptionCode = 0x0A
	ExGatewayTargetFailedToRespond       ExceptionCode = 0x0B
)

var exceptionNames = map[ExceptionCode]string{
	ExIllegalFunction:              "illegal function",
	ExIllegalDataAddress:           "illegal data address",
	ExIllegalDataValue:             "illegal data value",
	ExSlaveDeviceFailure:           "slave device failure",
	ExAcknowledge:                  "acknowledge",
	ExSlaveDeviceBusy:              "slave device busy",
	ExMemoryParityError:            "memory parity error",
	ExGatewayPathUnavailable:       "gateway path unavailable",
	ExGatewayTargetFailedToRespond: "gateway target device failed to respond",
}

func (e ExceptionCode) String() string {
	if name, ok := exceptionNames[e]; ok {
		return name
	}
	return fmt.Sprintf("exception 0x%02X", byte(e))
}

// FCInfo is the derived, stateless descriptor of a function code's shape.
// Offsets are measured from the start of the PDU (index 0 == the FC byte
// itself), matching the layout table in spec §6.
type FCInfo struct {
	FC FunctionCode

	DoesRead   bool
	DoesWrite  bool
	IsDigital  bool
	IsRegister bool
	IsSingle   bool

	RequestHeaderBytes  int // header bytes after the FC byte, before any data-byte-count/payload
	ResponseHeaderBytes int

	// Offsets of the data-byte-count field within the PDU; 0 means absent.
	// A real offset is never 0 because index 0 is always the FC byte.
	ReqDataByteCountOffset int
	RspDataByteCountOffset int
}

var fcTable = map[FunctionCode]FCInfo{
	FCReadCoils: {
		FC: FCReadCoils, DoesRead: true, IsDigital: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 0,
		RspDataByteCountOffset: 1,
	},
	FCReadDiscreteInputs: {
		FC: FCReadDiscreteInputs, DoesRead: true, IsDigital: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 0,
		RspDataByteCountOffset: 1,
	},
	FCReadHoldingRegisters: {
		FC: FCReadHoldingRegisters, DoesRead: true, IsRegister: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 0,
		RspDataByteCountOffset: 1,
	},
	FCReadInputRegisters: {
		FC: FCReadInputRegisters, DoesRead: true, IsRegister: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 0,
		RspDataByteCountOffset: 1,
	},
	FCWriteSingleCoil: {
		FC: FCWriteSingleCoil, DoesWrite: true, IsDigital: true, IsSingle: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 4,
	},
	FCWriteSingleRegister: {
		FC: FCWriteSingleRegister, DoesWrite: true, IsRegister: true, IsSingle: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 4,
	},
	FCWriteMultipleCoils: {
		FC: FCWriteMultipleCoils, DoesWrite: true, IsDigital: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 4,
		ReqDataByteCountOffset: 5,
	},
	FCWriteMultipleRegisters: {
		FC: FCWriteMultipleRegisters, DoesWrite: true, IsRegister: true,
		RequestHeaderBytes: 4, ResponseHeaderBytes: 4,
		ReqDataByteCountOffset: 5,
	},
	FCMaskWriteRegister: {
		FC: FCMaskWriteRegister, DoesWrite: true, IsRegister: true, IsSingle: true,
		RequestHeaderBytes: 6, ResponseHeaderBytes: 6,
	},
	FCReadWriteMultiRegs: {
		FC: FCReadWriteMultiRegs, DoesRead: true, DoesWrite: true, IsRegister: true,
		RequestHeaderBytes: 8, ResponseHeaderBytes: 0,
		ReqDataByteCountOffset: 9,
		RspDataByteCountOffset: 1,
	},
}

// FCInfoFor looks up the descriptor for fc. ok is false for any function
// code not in fcTable (including 0x08 diagnostics and 0x2B MEI). NewADU and
// the decoders fail such codes with ErrInvalidFC; the server engine treats
// that as a fatal decode and discards the request without sending an
// IllegalFunction exception.
func FCInfoFor(fc FunctionCode) (FCInfo, bool) {
	info, ok := fcTable[fc]
	return info, ok
}

// Modbus protocol bounds, spec §6 "Bounds".
const (
	MaxReadDiscretes  = 2000
	MaxReadRegisters  = 125
	MaxWriteCoils     = 1968
	MaxWriteRegisters = 123
	MaxRWWriteRegs    = 121

	// MaxPDUSize is 256 - 3 bytes of RTU overhead (address + 2 CRC bytes).
	MaxPDUSize = 253
)
