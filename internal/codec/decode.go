package codec

import "encoding/binary"

// expectedPayloadBytes mirrors ADU.PayloadLen's digital/register rule for a
// given item count, used to validate a parsed data-byte-count field before
// an ADU exists to ask.
func expectedPayloadBytes(info FCInfo, itemCount int) int {
	if info.IsDigital {
		return (itemCount + 7) / 8
	}
	return itemCount * 2
}

// requestItemCount derives the element count governing a request's own
// payload (write FCs) or the count it asks for (read FCs), from the
// already-parsed header words.
func requestItemCount(info FCInfo, header [4]uint16) int {
	switch {
	case info.FC == FCReadWriteMultiRegs:
		return int(header[3]) // write-side count, for this role's payload
	case info.DoesWrite && !info.IsSingle:
		return int(header[1])
	case info.DoesRead:
		return int(header[1])
	default:
		return 1
	}
}

// responseItemCount derives the element count governing a response's own
// payload, from the matching request's header words.
func responseItemCount(info FCInfo, req *ADU) int {
	if info.FC == FCReadWriteMultiRegs {
		return int(req.Header[1]) // read-side count
	}
	if info.DoesRead {
		return int(req.Header[1])
	}
	if info.DoesWrite && !info.IsSingle {
		return int(req.Header[1]) // echoed count
	}
	return 1
}

// AttemptDecodeRequest tries to parse a request PDU from data, which holds
// everything read from the wire so far starting at the frame boundary (the
// RTU address byte, or the first byte of the MBAP header). It never
// retains a reference to data; on Complete the ADU's own buffer holds a
// copy. framing selects which header AttemptDecodeRequest expects.
func AttemptDecodeRequest(framing Framing, data []byte) (*ADU, DecodeResult) {
	if framing == FramingMBAP {
		return attemptDecodeMBAPRequest(data)
	}
	return attemptDecodeRTURequest(data)
}

func attemptDecodeRTURequest(data []byte) (*ADU, DecodeResult) {
	if len(data) < 2 {
		return nil, needMore()
	}
	fc := FunctionCode(data[1])
	info, ok := FCInfoFor(fc)
	if !ok {
		return nil, fatal(ErrInvalidFC)
	}

	headerBytes := info.RequestHeaderBytes
	minHeaderEnd := 2 + headerBytes
	if len(data) < minHeaderEnd {
		return nil, needMore()
	}

	var header [4]uint16
	readHeaderWords(data[2:], &header, headerBytes/2)

	var pduSize, itemCount, byteCount int
	if offset := info.ReqDataByteCountOffset; offset != 0 {
		absIdx := 1 + offset
		if len(data) <= absIdx {
			return nil, needMore()
		}
		byteCount = int(data[absIdx])
		itemCount = requestItemCount(info, header)
		if byteCount != expectedPayloadBytes(info, itemCount) {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		pduSize = 1 + headerBytes + 1 + byteCount
	} else {
		itemCount = requestItemCount(info, header)
		pduSize = 1 + headerBytes
	}

	totalNeeded := 1 + pduSize + 2
	if len(data) < totalNeeded {
		return nil, needMore()
	}
	if len(data) > totalNeeded {
		return nil, fatal(ErrExtraBytesAfterPDU)
	}

	computed := CRC16Of(data[:totalNeeded-2])
	received := uint16(data[totalNeeded-1])<<8 | uint16(data[totalNeeded-2])
	if computed != received {
		return nil, fatal(ErrCRCMismatch)
	}

	a := &ADU{Role: RoleRequest, Framing: FramingRTU, Info: info}
	a.RTUAddress = data[0]
	a.Header = header
	a.ItemCount = itemCount
	a.ByteCount = byteCount
	a.pduSize = pduSize
	a.length = totalNeeded
	copy(a.buf[:totalNeeded], data[:totalNeeded])
	return a, complete()
}

func attemptDecodeMBAPRequest(data []byte) (*ADU, DecodeResult) {
	if len(data) < 7 {
		return nil, needMore()
	}
	tid := binary.BigEndian.Uint16(data[0:])
	pid := binary.BigEndian.Uint16(data[2:])
	length := binary.BigEndian.Uint16(data[4:])
	unit := data[6]

	if pid != 0 {
		return nil, fatal(ErrMBAPProtocolMismatch)
	}
	pduSize := int(length) - 1
	if pduSize < 1 || 7+pduSize > maxBufSize {
		return nil, fatal(ErrMBAPLengthMismatch)
	}
	totalNeeded := 7 + pduSize
	if len(data) < totalNeeded {
		return nil, needMore()
	}
	if len(data) > totalNeeded {
		return nil, fatal(ErrExtraBytesAfterPDU)
	}

	fc := FunctionCode(data[7])
	info, ok := FCInfoFor(fc)
	if !ok {
		return nil, fatal(ErrInvalidFC)
	}

	headerBytes := info.RequestHeaderBytes
	if 1+headerBytes > pduSize {
		return nil, fatal(ErrHeaderBytesMismatch)
	}
	var header [4]uint16
	readHeaderWords(data[8:], &header, headerBytes/2)

	var itemCount, byteCount int
	expectedSize := 1 + headerBytes
	if offset := info.ReqDataByteCountOffset; offset != 0 {
		absIdx := 7 + offset
		if absIdx >= totalNeeded {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		byteCount = int(data[absIdx])
		itemCount = requestItemCount(info, header)
		if byteCount != expectedPayloadBytes(info, itemCount) {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		expectedSize = 1 + headerBytes + 1 + byteCount
	} else {
		itemCount = requestItemCount(info, header)
	}
	if expectedSize != pduSize {
		return nil, fatal(ErrHeaderBytesMismatch)
	}

	a := &ADU{Role: RoleRequest, Framing: FramingMBAP, Info: info}
	a.MBAP = MBAPHeader{TransactionID: tid, ProtocolID: pid, Length: length, UnitID: unit}
	a.Header = header
	a.ItemCount = itemCount
	a.ByteCount = byteCount
	a.pduSize = pduSize
	a.length = totalNeeded
	copy(a.buf[:totalNeeded], data[:totalNeeded])
	return a, complete()
}

// AttemptDecodeResponse tries to parse a response PDU from data against the
// request ADU req that solicited it, validating FC/transaction/address
// agreement and the data-byte-count field against req's own header fields.
func AttemptDecodeResponse(req *ADU, data []byte) (*ADU, DecodeResult) {
	if req.Framing == FramingMBAP {
		return attemptDecodeMBAPResponse(req, data)
	}
	return attemptDecodeRTUResponse(req, data)
}

func attemptDecodeRTUResponse(req *ADU, data []byte) (*ADU, DecodeResult) {
	if len(data) < 2 {
		return nil, needMore()
	}
	fcByte := data[1]

	if fcByte&byte(ExceptionBit) != 0 {
		realFC := FunctionCode(fcByte &^ byte(ExceptionBit))
		if realFC != req.Info.FC {
			return nil, fatal(ErrFCMismatch)
		}
		totalNeeded := 1 + 2 + 2
		if len(data) < totalNeeded {
			return nil, needMore()
		}
		if len(data) > totalNeeded {
			return nil, fatal(ErrExtraBytesAfterPDU)
		}
		if err := verifyRTUFrame(data, totalNeeded); err != nil {
			return nil, fatal(err)
		}
		if req.RTUAddress != 0 && data[0] != req.RTUAddress {
			return nil, fatal(ErrAddressMismatch)
		}
		a := &ADU{Role: RoleResponse, Framing: FramingRTU, Info: req.Info}
		a.RTUAddress = data[0]
		a.HasException = true
		a.Exception = ExceptionCode(data[2])
		a.pduSize = 2
		a.length = totalNeeded
		copy(a.buf[:totalNeeded], data[:totalNeeded])
		return a, complete()
	}

	fc := FunctionCode(fcByte)
	if fc != req.Info.FC {
		return nil, fatal(ErrFCMismatch)
	}
	info := req.Info
	headerBytes := info.ResponseHeaderBytes
	minHeaderEnd := 2 + headerBytes
	if len(data) < minHeaderEnd {
		return nil, needMore()
	}
	var header [4]uint16
	readHeaderWords(data[2:], &header, headerBytes/2)

	var pduSize, itemCount, byteCount int
	itemCount = responseItemCount(info, req)
	if offset := info.RspDataByteCountOffset; offset != 0 {
		absIdx := 1 + offset
		if len(data) <= absIdx {
			return nil, needMore()
		}
		byteCount = int(data[absIdx])
		if byteCount != expectedPayloadBytes(info, itemCount) {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		pduSize = 1 + headerBytes + 1 + byteCount
	} else {
		pduSize = 1 + headerBytes
	}

	totalNeeded := 1 + pduSize + 2
	if len(data) < totalNeeded {
		return nil, needMore()
	}
	if len(data) > totalNeeded {
		return nil, fatal(ErrExtraBytesAfterPDU)
	}
	if err := verifyRTUFrame(data, totalNeeded); err != nil {
		return nil, fatal(err)
	}
	if req.RTUAddress != 0 && data[0] != req.RTUAddress {
		return nil, fatal(ErrAddressMismatch)
	}

	a := &ADU{Role: RoleResponse, Framing: FramingRTU, Info: info}
	a.RTUAddress = data[0]
	a.Header = header
	a.ItemCount = itemCount
	a.ByteCount = byteCount
	a.pduSize = pduSize
	a.length = totalNeeded
	copy(a.buf[:totalNeeded], data[:totalNeeded])
	return a, complete()
}

func verifyRTUFrame(data []byte, totalNeeded int) error {
	computed := CRC16Of(data[:totalNeeded-2])
	received := uint16(data[totalNeeded-1])<<8 | uint16(data[totalNeeded-2])
	if computed != received {
		return ErrCRCMismatch
	}
	return nil
}

func attemptDecodeMBAPResponse(req *ADU, data []byte) (*ADU, DecodeResult) {
	if len(data) < 7 {
		return nil, needMore()
	}
	tid := binary.BigEndian.Uint16(data[0:])
	pid := binary.BigEndian.Uint16(data[2:])
	length := binary.BigEndian.Uint16(data[4:])
	unit := data[6]

	if pid != 0 {
		return nil, fatal(ErrMBAPProtocolMismatch)
	}
	pduSize := int(length) - 1
	if pduSize < 1 || 7+pduSize > maxBufSize {
		return nil, fatal(ErrMBAPLengthMismatch)
	}
	totalNeeded := 7 + pduSize
	if len(data) < totalNeeded {
		return nil, needMore()
	}
	if len(data) > totalNeeded {
		return nil, fatal(ErrExtraBytesAfterPDU)
	}
	if tid != req.MBAP.TransactionID {
		return nil, fatal(ErrTransactionIDMismatch)
	}
	if unit != req.MBAP.UnitID {
		return nil, fatal(ErrAddressMismatch)
	}

	fcByte := data[7]
	if fcByte&byte(ExceptionBit) != 0 {
		realFC := FunctionCode(fcByte &^ byte(ExceptionBit))
		if realFC != req.Info.FC {
			return nil, fatal(ErrFCMismatch)
		}
		if pduSize != 2 {
			return nil, fatal(ErrMBAPLengthMismatch)
		}
		a := &ADU{Role: RoleResponse, Framing: FramingMBAP, Info: req.Info}
		a.MBAP = MBAPHeader{TransactionID: tid, ProtocolID: pid, Length: length, UnitID: unit}
		a.HasException = true
		a.Exception = ExceptionCode(data[8])
		a.pduSize = 2
		a.length = totalNeeded
		copy(a.buf[:totalNeeded], data[:totalNeeded])
		return a, complete()
	}

	fc := FunctionCode(fcByte)
	if fc != req.Info.FC {
		return nil, fatal(ErrFCMismatch)
	}
	info := req.Info
	headerBytes := info.ResponseHeaderBytes
	if 1+headerBytes > pduSize {
		return nil, fatal(ErrHeaderBytesMismatch)
	}
	var header [4]uint16
	readHeaderWords(data[8:], &header, headerBytes/2)

	itemCount := responseItemCount(info, req)
	expectedSize := 1 + headerBytes
	var byteCount int
	if offset := info.RspDataByteCountOffset; offset != 0 {
		absIdx := 7 + offset
		if absIdx >= totalNeeded {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		byteCount = int(data[absIdx])
		if byteCount != expectedPayloadBytes(info, itemCount) {
			return nil, fatal(ErrDataByteCountMismatch)
		}
		expectedSize = 1 + headerBytes + 1 + byteCount
	}
	if expectedSize != pduSize {
		return nil, fatal(ErrHeaderBytesMismatch)
	}

	a := &ADU{Role: RoleResponse, Framing: FramingMBAP, Info: info}
	a.MBAP = MBAPHeader{TransactionID: tid, ProtocolID: pid, Length: length, UnitID: unit}
	a.Header = header
	a.ItemCount = itemCount
	a.ByteCount = byteCount
	a.pduSize = pduSize
	a.length = totalNeeded
	copy(a.buf[:totalNeeded], data[:totalNeeded])
	return a, complete()
}
