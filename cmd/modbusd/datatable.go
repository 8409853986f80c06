package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/ring"
	"github.com/modbusd/modbusd/internal/server"
)

// addressSpaceSize is the full Modicon register/coil address range a data
// table exposes per type, independent of any single request's FC maxima.
const addressSpaceSize = 65536

// tableSnapshot is the persisted shape of a dataTable, saved and loaded
// through a ring.Store. SequenceNumber satisfies ring.Versioned.
type tableSnapshot struct {
	Seq       uint64   `json:"seq"`
	Coils     []bool   `json:"coils"`
	Discretes []bool   `json:"discretes"`
	Holding   []uint16 `json:"holding"`
	Input     []uint16 `json:"input"`
}

func (s *tableSnapshot) SequenceNumber() uint64     { return s.Seq }
func (s *tableSnapshot) SetSequenceNumber(n uint64) { s.Seq = n }

func newTableSnapshot() *tableSnapshot {
	return &tableSnapshot{
		Coils:     make([]bool, addressSpaceSize),
		Discretes: make([]bool, addressSpaceSize),
		Holding:   make([]uint16, addressSpaceSize),
		Input:     make([]uint16, addressSpaceSize),
	}
}

// dataTable is the default server.Handler: a fixed-size in-memory Modbus
// data table for each of the four object types, optionally persisted
// through a ring.Store so a restart resumes with the last saved values.
type dataTable struct {
	name   string
	logger *zap.Logger
	store  *ring.Store

	mu      sync.Mutex
	state   *tableSnapshot
	dirty   bool
	service int
}

// newDataTable loads the most recent snapshot from store (if given),
// falling back to a zeroed table on first run or if nothing validates.
func newDataTable(name string, logger *zap.Logger, store *ring.Store) *dataTable {
	d := &dataTable{name: name, logger: logger, store: store, state: newTableSnapshot()}
	if store == nil {
		return d
	}
	winner, errs := store.Load(func() ring.Versioned { return newTableSnapshot() })
	for _, e := range errs {
		logger.Warn("data table ring slot skipped", zap.Error(e))
	}
	if winner != nil {
		d.state = winner.(*tableSnapshot)
	}
	return d
}

func (d *dataTable) Name() string { return d.name }

// Service persists the table to the ring store when something has changed
// since the last save. It runs once per active-part worker iteration.
func (d *dataTable) Service() {
	if d.store == nil {
		return
	}
	d.mu.Lock()
	dirty := d.dirty
	d.dirty = false
	snap := d.state
	d.mu.Unlock()
	if !dirty {
		return
	}
	if err := d.store.Save(snap); err != nil {
		d.logger.Warn("data table save failed", zap.Error(err))
	}
}

func inRange(address uint16, count int) bool {
	return int(address)+count <= addressSpaceSize
}

func (d *dataTable) ReadCoils(address, count uint16) ([]bool, codec.ExceptionCode) {
	return d.readBits(d.state.Coils, address, count)
}

func (d *dataTable) ReadDiscretes(address, count uint16) ([]bool, codec.ExceptionCode) {
	return d.readBits(d.state.Discretes, address, count)
}

func (d *dataTable) readBits(table []bool, address, count uint16) ([]bool, codec.ExceptionCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, int(count)) {
		return nil, codec.ExIllegalDataAddress
	}
	out := make([]bool, count)
	copy(out, table[address:int(address)+int(count)])
	return out, codec.NoException
}

func (d *dataTable) ReadHoldingRegisters(address, count uint16) ([]uint16, codec.ExceptionCode) {
	return d.readRegisters(d.state.Holding, address, count)
}

func (d *dataTable) ReadInputRegisters(address, count uint16) ([]uint16, codec.ExceptionCode) {
	return d.readRegisters(d.state.Input, address, count)
}

func (d *dataTable) readRegisters(table []uint16, address, count uint16) ([]uint16, codec.ExceptionCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, int(count)) {
		return nil, codec.ExIllegalDataAddress
	}
	out := make([]uint16, count)
	copy(out, table[address:int(address)+int(count)])
	return out, codec.NoException
}

func (d *dataTable) WriteSingleCoil(address uint16, value bool) codec.ExceptionCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, 1) {
		return codec.ExIllegalDataAddress
	}
	d.state.Coils[address] = value
	d.dirty = true
	return codec.NoException
}

func (d *dataTable) WriteSingleRegister(address, value uint16) codec.ExceptionCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, 1) {
		return codec.ExIllegalDataAddress
	}
	d.state.Holding[address] = value
	d.dirty = true
	return codec.NoException
}

func (d *dataTable) WriteMultipleCoils(address uint16, values []bool) codec.ExceptionCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, len(values)) {
		return codec.ExIllegalDataAddress
	}
	copy(d.state.Coils[address:], values)
	d.dirty = true
	return codec.NoException
}

func (d *dataTable) WriteMultipleRegisters(address uint16, values []uint16) codec.ExceptionCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, len(values)) {
		return codec.ExIllegalDataAddress
	}
	copy(d.state.Holding[address:], values)
	d.dirty = true
	return codec.NoException
}

func (d *dataTable) MaskWriteRegister(address, andMask, orMask uint16) codec.ExceptionCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(address, 1) {
		return codec.ExIllegalDataAddress
	}
	current := d.state.Holding[address]
	d.state.Holding[address] = (current & andMask) | (orMask &^ andMask)
	d.dirty = true
	return codec.NoException
}

func (d *dataTable) ReadWriteMultipleRegisters(readAddress, readCount, writeAddress uint16, writeValues []uint16) ([]uint16, codec.ExceptionCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !inRange(readAddress, int(readCount)) || !inRange(writeAddress, len(writeValues)) {
		return nil, codec.ExIllegalDataAddress
	}
	// Writes commit before the read per the FC23 semantics in spec §4.2.
	copy(d.state.Holding[writeAddress:], writeValues)
	d.dirty = true
	out := make([]uint16, readCount)
	copy(out, d.state.Holding[readAddress:int(readAddress)+int(readCount)])
	return out, codec.NoException
}

var _ server.Handler = (*dataTable)(nil)
