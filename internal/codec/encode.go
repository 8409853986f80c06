package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// headerWordCount returns how many of Header[0:4] are significant on the
// wire for this ADU's role, derived from the fixed header byte count.
func (a *ADU) headerWordCount() int { return a.headerBytes() / 2 }

func writeHeaderWords(dst []byte, words []uint16) {
	for i, w := range words {
		binary.BigEndian.PutUint16(dst[i*2:], w)
	}
}

func readHeaderWords(src []byte, out *[4]uint16, n int) {
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(src[i*2:])
	}
}

// layoutPDU writes the FC byte, header words, and (if present) the
// data-byte-count field into buf at PDUStart(); it assumes the payload (if
// any) has already been written via a.Payload() by the caller. Returns the
// resulting PDU size.
func (a *ADU) layoutPDU() (int, error) {
	start := a.PDUStart()
	headerWords := a.headerWordCount()
	headerBytes := headerWords * 2
	bcOffset := a.dataByteCountOffset()

	payloadLen := a.PayloadLen()
	pduSize := 1 + headerBytes + payloadLen
	if bcOffset != 0 {
		pduSize++
	}
	if start+pduSize > maxBufSize {
		return 0, errors.Wrap(ErrBufferTooLargeForADU, "encode")
	}
	if pduSize > MaxPDUSize {
		return 0, errors.Wrap(ErrBufferTooLargeForADU, "encode: PDU exceeds 253 bytes")
	}

	a.buf[start] = byte(a.Info.FC)
	writeHeaderWords(a.buf[start+1:], a.Header[:headerWords])
	if bcOffset != 0 {
		a.ByteCount = payloadLen
		a.buf[start+bcOffset] = byte(payloadLen)
	}
	a.pduSize = pduSize
	return pduSize, nil
}

// PrepareRequestForSend lays out a request ADU: FC byte, header words,
// optional data-byte-count, and whatever payload the caller already wrote
// via Payload(). For RTU framing it writes the address byte and appends
// the CRC-16 trailer; for MBAP it writes the seven-byte header using
// transactionID, protocol id 0, and the computed length.
func (a *ADU) PrepareRequestForSend(transactionID uint16, unitOrAddress byte) error {
	if a.Role != RoleRequest {
		return errors.New("codec: PrepareRequestForSend called on a non-request ADU")
	}
	pduSize, err := a.layoutPDU()
	if err != nil {
		return err
	}
	start := a.PDUStart()

	switch a.Framing {
	case FramingRTU:
		a.RTUAddress = unitOrAddress
		a.buf[0] = unitOrAddress
		total := start + pduSize
		crc := CRC16Of(a.buf[:total])
		a.buf[total] = byte(crc)      // low byte first
		a.buf[total+1] = byte(crc >> 8)
		a.length = total + 2
	case FramingMBAP:
		a.MBAP = MBAPHeader{
			TransactionID: transactionID,
			ProtocolID:    0,
			Length:        uint16(pduSize + 1),
			UnitID:        unitOrAddress,
		}
		binary.BigEndian.PutUint16(a.buf[0:], a.MBAP.TransactionID)
		binary.BigEndian.PutUint16(a.buf[2:], a.MBAP.ProtocolID)
		binary.BigEndian.PutUint16(a.buf[4:], a.MBAP.Length)
		a.buf[6] = a.MBAP.UnitID
		a.length = start + pduSize
	}
	return nil
}

// PrepareResponseForSend copies addressing from req (UnitID for MBAP, RTU
// address for RTU) and encodes a normal response: header words/echo plus
// whatever payload the caller wrote via Payload().
func (a *ADU) PrepareResponseForSend(req *ADU) error {
	if a.Role != RoleResponse {
		return errors.New("codec: PrepareResponseForSend called on a non-response ADU")
	}
	pduSize, err := a.layoutPDU()
	if err != nil {
		return err
	}
	start := a.PDUStart()

	switch a.Framing {
	case FramingRTU:
		a.RTUAddress = req.RTUAddress
		a.buf[0] = a.RTUAddress
		total := start + pduSize
		crc := CRC16Of(a.buf[:total])
		a.buf[total] = byte(crc)
		a.buf[total+1] = byte(crc >> 8)
		a.length = total + 2
	case FramingMBAP:
		a.MBAP = MBAPHeader{
			TransactionID: req.MBAP.TransactionID,
			ProtocolID:    0,
			Length:        uint16(pduSize + 1),
			UnitID:        req.MBAP.UnitID,
		}
		binary.BigEndian.PutUint16(a.buf[0:], a.MBAP.TransactionID)
		binary.BigEndian.PutUint16(a.buf[2:], a.MBAP.ProtocolID)
		binary.BigEndian.PutUint16(a.buf[4:], a.MBAP.Length)
		a.buf[6] = a.MBAP.UnitID
		a.length = start + pduSize
	}
	return nil
}

// PrepareExceptionResponseForSend encodes `[FC|0x80] [exceptionCode]` as the
// entire PDU, with addressing copied from req exactly as in a normal
// response.
func (a *ADU) PrepareExceptionResponseForSend(req *ADU, code ExceptionCode) error {
	if a.Role != RoleResponse {
		return errors.New("codec: PrepareExceptionResponseForSend called on a non-response ADU")
	}
	start := a.PDUStart()
	a.buf[start] = byte(a.Info.FC) | byte(ExceptionBit)
	a.buf[start+1] = byte(code)
	a.pduSize = 2
	a.Exception = code
	a.HasException = true

	switch a.Framing {
	case FramingRTU:
		a.RTUAddress = req.RTUAddress
		a.buf[0] = a.RTUAddress
		total := start + 2
		crc := CRC16Of(a.buf[:total])
		a.buf[total] = byte(crc)
		a.buf[total+1] = byte(crc >> 8)
		a.length = total + 2
	case FramingMBAP:
		a.MBAP = MBAPHeader{
			TransactionID: req.MBAP.TransactionID,
			ProtocolID:    0,
			Length:        3,
			UnitID:        req.MBAP.UnitID,
		}
		binary.BigEndian.PutUint16(a.buf[0:], a.MBAP.TransactionID)
		binary.BigEndian.PutUint16(a.buf[2:], a.MBAP.ProtocolID)
		binary.BigEndian.PutUint16(a.buf[4:], a.MBAP.Length)
		a.buf[6] = a.MBAP.UnitID
		a.length = start + 2
	}
	return nil
}
