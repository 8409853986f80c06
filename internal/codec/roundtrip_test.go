package codec

import (
	"reflect"
	"testing"
)

func buildRequest(t *testing.T, framing Framing, fc FunctionCode, header [4]uint16, itemCount int, payload []uint16, unitOrAddr byte, tid uint16) *ADU {
	t.Helper()
	req, err := NewADU(RoleRequest, framing, fc)
	if err != nil {
		t.Fatalf("NewADU(request, %v): %v", fc, err)
	}
	req.Header = header
	req.ItemCount = itemCount
	if payload != nil {
		PackRegisters(req.Payload(), payload)
	}
	if err := req.PrepareRequestForSend(tid, unitOrAddr); err != nil {
		t.Fatalf("PrepareRequestForSend(%v): %v", fc, err)
	}
	return req
}

func decodeRequest(t *testing.T, framing Framing, raw []byte) *ADU {
	t.Helper()
	got, res := AttemptDecodeRequest(framing, raw)
	if res.Outcome != Complete {
		t.Fatalf("AttemptDecodeRequest: outcome=%v err=%v", res.Outcome, res.Err)
	}
	return got
}

func TestRequestRoundTrip_ReadHoldingRegisters(t *testing.T) {
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x11, 42)
		decoded := decodeRequest(t, framing, req.Bytes())
		if decoded.Header != req.Header {
			t.Fatalf("header mismatch: got %v want %v", decoded.Header, req.Header)
		}
		if decoded.Info.FC != FCReadHoldingRegisters {
			t.Fatalf("fc mismatch: got 0x%02X", decoded.Info.FC)
		}
	}
}

func TestRequestResponseRoundTrip_ReadHoldingRegisters(t *testing.T) {
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x11, 7)
		decodedReq := decodeRequest(t, framing, req.Bytes())

		resp, err := NewADU(RoleResponse, framing, FCReadHoldingRegisters)
		if err != nil {
			t.Fatalf("NewADU(response): %v", err)
		}
		resp.ItemCount = 2
		PackRegisters(resp.Payload(), []uint16{0x1234, 0xABCD})
		if err := resp.PrepareResponseForSend(decodedReq); err != nil {
			t.Fatalf("PrepareResponseForSend: %v", err)
		}

		decodedResp, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
		got := UnpackRegisters(decodedResp.Payload(), 2)
		want := []uint16{0x1234, 0xABCD}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("payload mismatch: got %v want %v", got, want)
		}
	}
}

func TestRequestResponseRoundTrip_WriteSingleCoil(t *testing.T) {
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCWriteSingleCoil, [4]uint16{0x0013, 0xFF00}, 0, nil, 0x01, 1)
		decodedReq := decodeRequest(t, framing, req.Bytes())

		resp, _ := NewADU(RoleResponse, framing, FCWriteSingleCoil)
		resp.Header = [4]uint16{0x0013, 0xFF00}
		if err := resp.PrepareResponseForSend(decodedReq); err != nil {
			t.Fatalf("PrepareResponseForSend: %v", err)
		}

		decodedResp, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
		if decodedResp.Header != resp.Header {
			t.Fatalf("echoed header mismatch: got %v want %v", decodedResp.Header, resp.Header)
		}
	}
}

func TestRequestResponseRoundTrip_WriteMultipleRegisters(t *testing.T) {
	vals := []uint16{0x000A, 0x0102}
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCWriteMultipleRegisters, [4]uint16{0x0000, uint16(len(vals))}, len(vals), vals, 0x01, 9)
		decodedReq := decodeRequest(t, framing, req.Bytes())
		if decodedReq.ItemCount != len(vals) {
			t.Fatalf("request item count = %d, want %d", decodedReq.ItemCount, len(vals))
		}
		got := UnpackRegisters(decodedReq.Payload(), len(vals))
		if !reflect.DeepEqual(got, vals) {
			t.Fatalf("request payload mismatch: got %v want %v", got, vals)
		}

		resp, _ := NewADU(RoleResponse, framing, FCWriteMultipleRegisters)
		resp.Header = [4]uint16{0x0000, uint16(len(vals))}
		if err := resp.PrepareResponseForSend(decodedReq); err != nil {
			t.Fatalf("PrepareResponseForSend: %v", err)
		}
		decodedResp, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
		if decodedResp.Header[1] != uint16(len(vals)) {
			t.Fatalf("echoed count = %d, want %d", decodedResp.Header[1], len(vals))
		}
	}
}

func TestRequestResponseRoundTrip_MaskWriteRegister(t *testing.T) {
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCMaskWriteRegister, [4]uint16{0x0004, 0x00F2, 0x0025}, 0, nil, 0x01, 11)
		decodedReq := decodeRequest(t, framing, req.Bytes())
		if decodedReq.Header != [4]uint16{0x0004, 0x00F2, 0x0025, 0} {
			t.Fatalf("header mismatch: got %v", decodedReq.Header)
		}

		resp, _ := NewADU(RoleResponse, framing, FCMaskWriteRegister)
		resp.Header = decodedReq.Header
		if err := resp.PrepareResponseForSend(decodedReq); err != nil {
			t.Fatalf("PrepareResponseForSend: %v", err)
		}
		_, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
	}
}

func TestRequestResponseRoundTrip_ReadWriteMultipleRegisters(t *testing.T) {
	writeVals := []uint16{0x00FF}
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		header := [4]uint16{0x0003, 0x0006, 0x000E, uint16(len(writeVals))}
		req := buildRequest(t, framing, FCReadWriteMultiRegs, header, len(writeVals), writeVals, 0x01, 5)
		decodedReq := decodeRequest(t, framing, req.Bytes())

		resp, _ := NewADU(RoleResponse, framing, FCReadWriteMultiRegs)
		resp.ItemCount = 6
		readVals := []uint16{1, 2, 3, 4, 5, 6}
		PackRegisters(resp.Payload(), readVals)
		if err := resp.PrepareResponseForSend(decodedReq); err != nil {
			t.Fatalf("PrepareResponseForSend: %v", err)
		}
		decodedResp, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
		got := UnpackRegisters(decodedResp.Payload(), 6)
		if !reflect.DeepEqual(got, readVals) {
			t.Fatalf("read payload mismatch: got %v want %v", got, readVals)
		}
	}
}

func TestExceptionResponseRoundTrip(t *testing.T) {
	for _, framing := range []Framing{FramingRTU, FramingMBAP} {
		req := buildRequest(t, framing, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x01, 3)
		decodedReq := decodeRequest(t, framing, req.Bytes())

		resp, _ := NewADU(RoleResponse, framing, FCReadHoldingRegisters)
		if err := resp.PrepareExceptionResponseForSend(decodedReq, ExIllegalDataAddress); err != nil {
			t.Fatalf("PrepareExceptionResponseForSend: %v", err)
		}
		decodedResp, res := AttemptDecodeResponse(decodedReq, resp.Bytes())
		if res.Outcome != Complete {
			t.Fatalf("AttemptDecodeResponse: outcome=%v err=%v", res.Outcome, res.Err)
		}
		if !decodedResp.HasException || decodedResp.Exception != ExIllegalDataAddress {
			t.Fatalf("exception mismatch: has=%v code=%v", decodedResp.HasException, decodedResp.Exception)
		}
	}
}

func TestAttemptDecodeRequest_NeedMoreThenComplete(t *testing.T) {
	req := buildRequest(t, FramingRTU, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x01, 1)
	full := req.Bytes()
	for n := 0; n < len(full); n++ {
		_, res := AttemptDecodeRequest(FramingRTU, full[:n])
		if res.Outcome != NeedMore {
			t.Fatalf("with %d/%d bytes, outcome = %v, want NeedMore", n, len(full), res.Outcome)
		}
	}
	_, res := AttemptDecodeRequest(FramingRTU, full)
	if res.Outcome != Complete {
		t.Fatalf("with full frame, outcome = %v, want Complete", res.Outcome)
	}
}

func TestAttemptDecodeRequest_ExtraBytesIsFatal(t *testing.T) {
	req := buildRequest(t, FramingRTU, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x01, 1)
	withExtra := append(append([]byte{}, req.Bytes()...), 0xAA)
	_, res := AttemptDecodeRequest(FramingRTU, withExtra)
	if res.Outcome != Fatal {
		t.Fatalf("outcome = %v, want Fatal", res.Outcome)
	}
}

func TestAttemptDecodeRequest_BadCRCIsFatal(t *testing.T) {
	req := buildRequest(t, FramingRTU, FCReadHoldingRegisters, [4]uint16{0x0000, 0x0002}, 0, nil, 0x01, 1)
	raw := append([]byte{}, req.Bytes()...)
	raw[len(raw)-1] ^= 0xFF
	_, res := AttemptDecodeRequest(FramingRTU, raw)
	if res.Outcome != Fatal {
		t.Fatalf("outcome = %v, want Fatal", res.Outcome)
	}
}

func TestAttemptDecodeRequest_InvalidFunctionCode(t *testing.T) {
	// FC 0x08 (diagnostics) is declared but never implemented.
	raw := []byte{0x01, 0x08, 0x00, 0x00, 0x00, 0x00}
	_, res := AttemptDecodeRequest(FramingRTU, raw)
	if res.Outcome != Fatal {
		t.Fatalf("outcome = %v, want Fatal", res.Outcome)
	}
}
