package codec

import "github.com/pkg/errors"

// Role distinguishes a request ADU from the response ADU paired with it.
type Role int

const (
	RoleRequest Role = iota
	RoleResponse
)

// Framing selects the wire framing wrapping the PDU.
type Framing int

const (
	FramingRTU Framing = iota
	FramingMBAP
)

// maxBufSize is large enough for either framing's worst case (260 for
// MBAP) with a little headroom.
const maxBufSize = 264

// MBAPHeader holds the seven bytes that precede the PDU on a TCP/UDP frame.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
}

// ADU is an Application Data Unit: framing metadata plus the PDU bytes,
// wrapping a fixed-capacity buffer mutated in place across retries. An ADU
// is owned exclusively by the function object (or, on the server side, by
// the connection's in-flight request/response slot) for its lifetime.
type ADU struct {
	Role    Role
	Framing Framing
	Info    FCInfo

	// Header holds up to four framing-independent 16-bit words whose
	// meaning depends on Info.FC: address, count/value, a secondary
	// address/mask, and a secondary count -- see spec §6 PDU table.
	Header [4]uint16

	// ItemCount is the element count governing this ADU's own payload
	// size: coils/registers on a read response, registers on a
	// WriteMultipleRegisters/WriteMultipleCoils request, or the relevant
	// side's register count on ReadWriteMultipleRegisters.
	ItemCount int

	// ByteCount is the parsed/encoded data-byte-count field's value, 0 if
	// the FC has none.
	ByteCount int

	Exception    ExceptionCode
	HasException bool

	MBAP       MBAPHeader
	RTUAddress byte

	buf      [maxBufSize]byte
	length   int // total valid bytes currently in buf
	pduSize  int // size of the PDU (FC + header + data); 0 until known
}

// NewADU constructs an ADU for the given role/framing/function code. It
// returns ErrInvalidFC if fc is not one of the supported codes (FC 0x08 and
// FC 0x2B included -- spec Non-goals / Open Question 3).
func NewADU(role Role, framing Framing, fc FunctionCode) (*ADU, error) {
	info, ok := FCInfoFor(fc)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidFC, "fc=0x%02X", byte(fc))
	}
	return &ADU{
		Role:    role,
		Framing: framing,
		Info:    info,
	}, nil
}

// PDUStart is the offset within buf where the PDU (FC byte onward) begins:
// 1 for RTU (after the address byte), 7 for MBAP (after the MBAP header).
func (a *ADU) PDUStart() int {
	if a.Framing == FramingMBAP {
		return 7
	}
	return 1
}

// PDUSize returns the size of the PDU once it has been encoded or decoded,
// 0 otherwise.
func (a *ADU) PDUSize() int { return a.pduSize }

// ADUSize is the total on-wire frame length: PDUStart()+PDUSize()+CRC
// overhead (2 bytes for RTU, 0 for MBAP, since MBAP carries no trailer).
func (a *ADU) ADUSize() int {
	if a.pduSize == 0 {
		return 0
	}
	n := a.PDUStart() + a.pduSize
	if a.Framing == FramingRTU {
		n += 2
	}
	return n
}

// Bytes returns the valid prefix of the underlying buffer -- the full
// encoded (or so-far-accumulated) ADU.
func (a *ADU) Bytes() []byte { return a.buf[:a.length] }

// dataByteCountOffset returns this ADU's role-appropriate "is there a
// byte-count field" offset (0 == absent), matching FCInfo's
// ReqDataByteCountOffset/RspDataByteCountOffset.
func (a *ADU) dataByteCountOffset() int {
	if a.Role == RoleResponse {
		return a.Info.RspDataByteCountOffset
	}
	return a.Info.ReqDataByteCountOffset
}

// headerBytes returns this ADU's role-appropriate fixed header length.
func (a *ADU) headerBytes() int {
	if a.Role == RoleResponse {
		return a.Info.ResponseHeaderBytes
	}
	return a.Info.RequestHeaderBytes
}

// PayloadOffset is the absolute buffer offset where this ADU's payload
// (packed coil bits or big-endian registers) begins, per spec §4.2.
func (a *ADU) PayloadOffset() int {
	off := a.PDUStart() + 1 + a.headerBytes()
	if a.dataByteCountOffset() != 0 {
		off++
	}
	return off
}

// PayloadLen is the number of payload bytes implied by ItemCount and the
// FC's digital/register nature. It is 0 whenever this role has no
// data-byte-count field -- i.e. single-coil/register/mask-write FCs, and
// the non-counted side of a read -- matching dataByteCountOffset().
func (a *ADU) PayloadLen() int {
	if a.dataByteCountOffset() == 0 {
		return 0
	}
	if a.Info.IsDigital {
		return (a.ItemCount + 7) / 8
	}
	return a.ItemCount * 2
}

// Payload returns a mutable view over this ADU's payload region, sized for
// PayloadLen(). Callers (the function object's accessors) must not write
// past this slice.
func (a *ADU) Payload() []byte {
	off := a.PayloadOffset()
	n := a.PayloadLen()
	return a.buf[off : off+n]
}

// reset clears length/pduSize/exception bookkeeping, keeping Info/Role/
// Framing/Header/ItemCount so the caller can re-lay-out the same logical
// request/response before re-encoding (retry path).
func (a *ADU) reset() {
	a.length = 0
	a.pduSize = 0
	a.Exception = NoException
	a.HasException = false
	a.ByteCount = 0
}
