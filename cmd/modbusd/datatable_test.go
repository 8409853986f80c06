package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/modbusd/modbusd/internal/codec"
)

func TestDataTable_ReadWriteRoundTrip(t *testing.T) {
	d := newDataTable("t", zap.NewNop(), nil)

	if ex := d.WriteSingleRegister(10, 4242); ex != codec.NoException {
		t.Fatalf("WriteSingleRegister: %v", ex)
	}
	vals, ex := d.ReadHoldingRegisters(10, 1)
	if ex != codec.NoException || vals[0] != 4242 {
		t.Fatalf("ReadHoldingRegisters got %v ex=%v", vals, ex)
	}

	if ex := d.WriteSingleCoil(3, true); ex != codec.NoException {
		t.Fatalf("WriteSingleCoil: %v", ex)
	}
	bits, ex := d.ReadCoils(3, 1)
	if ex != codec.NoException || !bits[0] {
		t.Fatalf("ReadCoils got %v ex=%v", bits, ex)
	}
}

func TestDataTable_OutOfRangeIsIllegalDataAddress(t *testing.T) {
	d := newDataTable("t", zap.NewNop(), nil)

	if _, ex := d.ReadHoldingRegisters(65530, 10); ex != codec.ExIllegalDataAddress {
		t.Fatalf("expected illegal_data_address, got %v", ex)
	}
	if ex := d.WriteMultipleRegisters(65535, []uint16{1, 2}); ex != codec.ExIllegalDataAddress {
		t.Fatalf("expected illegal_data_address, got %v", ex)
	}
}

func TestDataTable_MaskWriteRegister(t *testing.T) {
	d := newDataTable("t", zap.NewNop(), nil)
	d.WriteSingleRegister(5, 0x0012)

	if ex := d.MaskWriteRegister(5, 0x00F2, 0x0025); ex != codec.NoException {
		t.Fatalf("MaskWriteRegister: %v", ex)
	}
	vals, _ := d.ReadHoldingRegisters(5, 1)
	if vals[0] != 0x0017 {
		t.Fatalf("expected 0x0017, got 0x%04X", vals[0])
	}
}

func TestDataTable_ReadWriteMultipleRegisters_WritesBeforeRead(t *testing.T) {
	d := newDataTable("t", zap.NewNop(), nil)
	d.WriteSingleRegister(0, 111)

	out, ex := d.ReadWriteMultipleRegisters(0, 1, 0, []uint16{222})
	if ex != codec.NoException {
		t.Fatalf("ReadWriteMultipleRegisters: %v", ex)
	}
	if out[0] != 222 {
		t.Fatalf("expected the read to observe the just-applied write, got %d", out[0])
	}
}

func TestDataTable_ServiceIsNoopWithoutStore(t *testing.T) {
	d := newDataTable("t", zap.NewNop(), nil)
	d.WriteSingleRegister(0, 1)
	d.Service() // must not panic with a nil store
}
