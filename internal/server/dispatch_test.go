package server

import (
	"testing"

	"github.com/modbusd/modbusd/internal/codec"
)

type fakeHandler struct {
	name string

	readCoils     func(address, count uint16) ([]bool, codec.ExceptionCode)
	readDiscretes func(address, count uint16) ([]bool, codec.ExceptionCode)
	readHolding   func(address, count uint16) ([]uint16, codec.ExceptionCode)
	readInput     func(address, count uint16) ([]uint16, codec.ExceptionCode)

	writeSingleCoil func(address uint16, value bool) codec.ExceptionCode
	writeSingleReg  func(address, value uint16) codec.ExceptionCode
	writeMultiCoils func(address uint16, values []bool) codec.ExceptionCode
	writeMultiRegs  func(address uint16, values []uint16) codec.ExceptionCode
	maskWrite       func(address, andMask, orMask uint16) codec.ExceptionCode
	readWriteMulti  func(readAddress, readCount, writeAddress uint16, writeValues []uint16) ([]uint16, codec.ExceptionCode)

	serviceCalls int
}

func (h *fakeHandler) Name() string { return h.name }
func (h *fakeHandler) Service()     { h.serviceCalls++ }

func (h *fakeHandler) ReadCoils(address, count uint16) ([]bool, codec.ExceptionCode) {
	if h.readCoils != nil {
		return h.readCoils(address, count)
	}
	return nil, codec.ExIllegalFunction
}
func (h *fakeHandler) ReadDiscretes(address, count uint16) ([]bool, codec.ExceptionCode) {
	if h.readDiscretes != nil {
		return h.readDiscretes(address, count)
	}
	return nil, codec.ExIllegalFunction
}
func (h *fakeHandler) ReadHoldingRegisters(address, count uint16) ([]uint16, codec.ExceptionCode) {
	if h.readHolding != nil {
		return h.readHolding(address, count)
	}
	return nil, codec.ExIllegalFunction
}
func (h *fakeHandler) ReadInputRegisters(address, count uint16) ([]uint16, codec.ExceptionCode) {
	if h.readInput != nil {
		return h.readInput(address, count)
	}
	return nil, codec.ExIllegalFunction
}
func (h *fakeHandler) WriteSingleCoil(address uint16, value bool) codec.ExceptionCode {
	if h.writeSingleCoil != nil {
		return h.writeSingleCoil(address, value)
	}
	return codec.ExIllegalFunction
}
func (h *fakeHandler) WriteSingleRegister(address, value uint16) codec.ExceptionCode {
	if h.writeSingleReg != nil {
		return h.writeSingleReg(address, value)
	}
	return codec.ExIllegalFunction
}
func (h *fakeHandler) WriteMultipleCoils(address uint16, values []bool) codec.ExceptionCode {
	if h.writeMultiCoils != nil {
		return h.writeMultiCoils(address, values)
	}
	return codec.ExIllegalFunction
}
func (h *fakeHandler) WriteMultipleRegisters(address uint16, values []uint16) codec.ExceptionCode {
	if h.writeMultiRegs != nil {
		return h.writeMultiRegs(address, values)
	}
	return codec.ExIllegalFunction
}
func (h *fakeHandler) MaskWriteRegister(address, andMask, orMask uint16) codec.ExceptionCode {
	if h.maskWrite != nil {
		return h.maskWrite(address, andMask, orMask)
	}
	return codec.ExIllegalFunction
}
func (h *fakeHandler) ReadWriteMultipleRegisters(readAddress, readCount, writeAddress uint16, writeValues []uint16) ([]uint16, codec.ExceptionCode) {
	if h.readWriteMulti != nil {
		return h.readWriteMulti(readAddress, readCount, writeAddress, writeValues)
	}
	return nil, codec.ExIllegalFunction
}

func newRTURequest(t *testing.T, fc codec.FunctionCode, rtuAddr byte, header [4]uint16, itemCount int) *codec.ADU {
	t.Helper()
	req, err := codec.NewADU(codec.RoleRequest, codec.FramingRTU, fc)
	if err != nil {
		t.Fatalf("NewADU: %v", err)
	}
	req.RTUAddress = rtuAddr
	req.Header = header
	req.ItemCount = itemCount
	return req
}

func decodeResponse(t *testing.T, req, resp *codec.ADU) *codec.ADU {
	t.Helper()
	decoded, res := codec.AttemptDecodeResponse(req, resp.Bytes())
	if res.Outcome != codec.Complete {
		t.Fatalf("response did not decode: outcome=%v err=%v", res.Outcome, res.Err)
	}
	return decoded
}

func TestDispatch_ReadHoldingRegisters_Success(t *testing.T) {
	h := &fakeHandler{name: "plc", readHolding: func(address, count uint16) ([]uint16, codec.ExceptionCode) {
		if address != 10 || count != 3 {
			t.Fatalf("unexpected args address=%d count=%d", address, count)
		}
		return []uint16{11, 22, 33}, codec.NoException
	}}
	req := newRTURequest(t, codec.FCReadHoldingRegisters, 0x01, [4]uint16{10, 3}, 0)

	resp := Dispatch(req, h, true, 0x01)
	if resp == nil {
		t.Fatalf("expected a response")
	}
	decoded := decodeResponse(t, req, resp)
	if decoded.HasException {
		t.Fatalf("unexpected exception %v", decoded.Exception)
	}
	vals := make([]uint16, 3)
	if !decodedGetRegisters(decoded, vals) {
		t.Fatalf("GetRegisters failed")
	}
	if vals[0] != 11 || vals[1] != 22 || vals[2] != 33 {
		t.Fatalf("unexpected values %v", vals)
	}
}

func TestDispatch_AddressFilterDropsNonMatchingUnit(t *testing.T) {
	h := &fakeHandler{name: "plc", readHolding: func(uint16, uint16) ([]uint16, codec.ExceptionCode) {
		t.Fatalf("handler should not be called")
		return nil, codec.NoException
	}}
	req := newRTURequest(t, codec.FCReadHoldingRegisters, 0x02, [4]uint16{0, 1}, 0)

	resp := Dispatch(req, h, false, 0x01)
	if resp != nil {
		t.Fatalf("expected nil (ignored) response, got one")
	}
}

func TestDispatch_RespondToAllIgnoresAddressFilter(t *testing.T) {
	h := &fakeHandler{name: "plc", readHolding: func(uint16, uint16) ([]uint16, codec.ExceptionCode) {
		return []uint16{1}, codec.NoException
	}}
	req := newRTURequest(t, codec.FCReadHoldingRegisters, 0x02, [4]uint16{0, 1}, 0)

	resp := Dispatch(req, h, true, 0x01)
	if resp == nil {
		t.Fatalf("expected a response when respond_to_all is set")
	}
}

func TestDispatch_IgnoreRequestSentinelProducesNoReply(t *testing.T) {
	h := &fakeHandler{name: "plc", readCoils: func(uint16, uint16) ([]bool, codec.ExceptionCode) {
		return nil, IgnoreRequest
	}}
	req := newRTURequest(t, codec.FCReadCoils, 0x01, [4]uint16{0, 1}, 0)

	resp := Dispatch(req, h, true, 0x01)
	if resp != nil {
		t.Fatalf("expected nil response for IgnoreRequest")
	}
}

func TestDispatch_HandlerPanicYieldsSlaveDeviceFailure(t *testing.T) {
	h := &fakeHandler{name: "plc", writeSingleReg: func(uint16, uint16) codec.ExceptionCode {
		panic("boom")
	}}
	req := newRTURequest(t, codec.FCWriteSingleRegister, 0x01, [4]uint16{5, 99}, 0)

	resp := Dispatch(req, h, true, 0x01)
	if resp == nil {
		t.Fatalf("expected an exception response")
	}
	decoded := decodeResponse(t, req, resp)
	if !decoded.HasException || decoded.Exception != codec.ExSlaveDeviceFailure {
		t.Fatalf("expected slave_device_failure, got has=%v code=%v", decoded.HasException, decoded.Exception)
	}
}

func TestDispatch_ReadCoilsCountBeyondBoundIsIllegalDataValue(t *testing.T) {
	h := &fakeHandler{name: "plc", readCoils: func(uint16, uint16) ([]bool, codec.ExceptionCode) {
		t.Fatalf("handler should not be called once bounds are violated")
		return nil, codec.NoException
	}}
	req := newRTURequest(t, codec.FCReadCoils, 0x01, [4]uint16{0, codec.MaxReadDiscretes + 1}, 0)

	resp := Dispatch(req, h, true, 0x01)
	decoded := decodeResponse(t, req, resp)
	if !decoded.HasException || decoded.Exception != codec.ExIllegalDataValue {
		t.Fatalf("expected illegal_data_value, got has=%v code=%v", decoded.HasException, decoded.Exception)
	}
}

func TestDispatch_WriteMultipleCoils_EchoesAddressAndCount(t *testing.T) {
	var seen []bool
	h := &fakeHandler{name: "plc", writeMultiCoils: func(address uint16, values []bool) codec.ExceptionCode {
		seen = values
		return codec.NoException
	}}
	req := newRTURequest(t, codec.FCWriteMultipleCoils, 0x01, [4]uint16{100, 3}, 3)
	codec.PackBits(req.Payload(), []bool{true, false, true})

	resp := Dispatch(req, h, true, 0x01)
	if resp == nil {
		t.Fatalf("expected a response")
	}
	if len(seen) != 3 || !seen[0] || seen[1] || !seen[2] {
		t.Fatalf("handler saw unexpected values %v", seen)
	}
	decoded := decodeResponse(t, req, resp)
	if decoded.HasException {
		t.Fatalf("unexpected exception %v", decoded.Exception)
	}
	if decoded.Header[0] != 100 || decoded.Header[1] != 3 {
		t.Fatalf("response did not echo address/count: %v", decoded.Header)
	}
}

func decodedGetRegisters(adu *codec.ADU, dst []uint16) bool {
	vals := codec.UnpackRegisters(adu.Payload(), len(dst))
	copy(dst, vals)
	return true
}
