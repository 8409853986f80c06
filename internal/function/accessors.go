package function

import "github.com/modbusd/modbusd/internal/codec"

// SetDiscretes packs count booleans from bits[start:start+count] into adu's
// payload. It fails (returns false, no write performed) if adu is not a
// digital FC, if count exceeds the item count the ADU was prepared with, or
// if [start, start+count) is out of bounds for bits.
func SetDiscretes(adu *codec.ADU, bits []bool, start, count int) bool {
	if !adu.Info.IsDigital {
		return false
	}
	if count > adu.ItemCount {
		return false
	}
	if start < 0 || count < 0 || start+count > len(bits) {
		return false
	}
	codec.PackBits(adu.Payload(), bits[start:start+count])
	return true
}

// GetDiscretes unpacks count booleans from adu's payload into
// dst[start:start+count]. Same bounds rules as SetDiscretes.
func GetDiscretes(adu *codec.ADU, dst []bool, start, count int) bool {
	if !adu.Info.IsDigital {
		return false
	}
	if count > adu.ItemCount {
		return false
	}
	if start < 0 || count < 0 || start+count > len(dst) {
		return false
	}
	bits := codec.UnpackBits(adu.Payload(), count)
	copy(dst[start:start+count], bits)
	return true
}

// SetRegisters packs count 16-bit values from vals[start:start+count] into
// adu's payload as big-endian words. Same bounds rules as SetDiscretes,
// against IsRegister instead of IsDigital.
func SetRegisters(adu *codec.ADU, vals []uint16, start, count int) bool {
	if !adu.Info.IsRegister {
		return false
	}
	if count > adu.ItemCount {
		return false
	}
	if start < 0 || count < 0 || start+count > len(vals) {
		return false
	}
	codec.PackRegisters(adu.Payload(), vals[start:start+count])
	return true
}

// GetRegisters unpacks count big-endian 16-bit words from adu's payload
// into dst[start:start+count].
func GetRegisters(adu *codec.ADU, dst []uint16, start, count int) bool {
	if !adu.Info.IsRegister {
		return false
	}
	if count > adu.ItemCount {
		return false
	}
	if start < 0 || count < 0 || start+count > len(dst) {
		return false
	}
	vals := codec.UnpackRegisters(adu.Payload(), count)
	copy(dst[start:start+count], vals)
	return true
}
