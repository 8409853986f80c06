package codec

import (
	"reflect"
	"testing"
)

func TestPackBits(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true}
	dst := make([]byte, (len(bits)+7)/8)
	PackBits(dst, bits)
	want := []byte{0x0D, 0x01}
	if !reflect.DeepEqual(dst, want) {
		t.Fatalf("PackBits(%v) = % X, want % X", bits, dst, want)
	}
}

func TestUnpackBits(t *testing.T) {
	src := []byte{0x0D, 0x01}
	got := UnpackBits(src, 9)
	want := []bool{true, false, true, true, false, false, false, false, true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnpackBits(% X, 9) = %v, want %v", src, got, want)
	}
}

func TestPackUnpackBitsRoundTrip(t *testing.T) {
	bits := []bool{false, true, false, true, true, true, false, true, false, false, true}
	dst := make([]byte, (len(bits)+7)/8)
	PackBits(dst, bits)
	got := UnpackBits(dst, len(bits))
	if !reflect.DeepEqual(got, bits) {
		t.Fatalf("round trip mismatch: got %v, want %v", got, bits)
	}
}

func TestPackUnpackRegistersRoundTrip(t *testing.T) {
	vals := []uint16{0x0000, 0xFFFF, 0x1234, 0xABCD}
	dst := make([]byte, len(vals)*2)
	PackRegisters(dst, vals)
	want := []byte{0x00, 0x00, 0xFF, 0xFF, 0x12, 0x34, 0xAB, 0xCD}
	if !reflect.DeepEqual(dst, want) {
		t.Fatalf("PackRegisters(%v) = % X, want % X", vals, dst, want)
	}
	got := UnpackRegisters(dst, len(vals))
	if !reflect.DeepEqual(got, vals) {
		t.Fatalf("UnpackRegisters round trip = %v, want %v", got, vals)
	}
}
