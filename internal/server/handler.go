// Package server implements the Modbus server engine: a per-connection
// idle/accumulating/responding state machine driven by an activepart.Part,
// dispatching decoded requests to a user-supplied Handler, per spec §4.4/§6.
package server

import "github.com/modbusd/modbusd/internal/codec"

// IgnoreRequest is the sentinel exception code a Handler method returns to
// mean "produce no reply" -- never placed on the wire. It is distinct from
// every real exception code in fc.go.
const IgnoreRequest codec.ExceptionCode = 0xFF

// Handler is the server-side data-point interface: one method per FC on
// read, write, and read-write, each returning an exception code where
// codec.NoException means success and IgnoreRequest means "drop the
// request silently". Name is used in logs; Service is invoked once per
// active-part worker iteration regardless of whether a request arrived.
type Handler interface {
	Name() string
	Service()

	ReadCoils(address, count uint16) ([]bool, codec.ExceptionCode)
	ReadDiscretes(address, count uint16) ([]bool, codec.ExceptionCode)
	ReadHoldingRegisters(address, count uint16) ([]uint16, codec.ExceptionCode)
	ReadInputRegisters(address, count uint16) ([]uint16, codec.ExceptionCode)

	WriteSingleCoil(address uint16, value bool) codec.ExceptionCode
	WriteSingleRegister(address, value uint16) codec.ExceptionCode
	WriteMultipleCoils(address uint16, values []bool) codec.ExceptionCode
	WriteMultipleRegisters(address uint16, values []uint16) codec.ExceptionCode
	MaskWriteRegister(address, andMask, orMask uint16) codec.ExceptionCode

	ReadWriteMultipleRegisters(readAddress, readCount, writeAddress uint16, writeValues []uint16) ([]uint16, codec.ExceptionCode)
}
