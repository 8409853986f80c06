package main

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/modbusd/modbusd/internal/codec"
)

func TestRunTCPListener_ServesReadHoldingRegisters(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // free the port for runTCPListener to rebind; good enough for a test

	lc := ListenerConfig{
		Name:          "t",
		Transport:     "tcp",
		Address:       addr,
		Framing:       "mbap",
		UnitOrAddress: 1,
		RespondToAll:  true,
	}
	table := newDataTable("t", zap.NewNop(), nil)
	table.WriteSingleRegister(0, 99)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runListener(ctx, lc, table, zap.NewNop()) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, err := codec.NewADU(codec.RoleRequest, codec.FramingMBAP, codec.FCReadHoldingRegisters)
	if err != nil {
		t.Fatalf("NewADU: %v", err)
	}
	req.Header = [4]uint16{0, 1}
	if err := req.PrepareRequestForSend(7, 1); err != nil {
		t.Fatalf("PrepareRequestForSend: %v", err)
	}
	if _, err := conn.Write(req.Bytes()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	decoded, res := codec.AttemptDecodeResponse(req, buf[:n])
	if res.Outcome != codec.Complete {
		t.Fatalf("response did not decode: outcome=%v err=%v", res.Outcome, res.Err)
	}
	if decoded.HasException {
		t.Fatalf("unexpected exception %v", decoded.Exception)
	}
	vals := codec.UnpackRegisters(decoded.Payload(), 1)
	if vals[0] != 99 {
		t.Fatalf("expected register value 99, got %d", vals[0])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runListener did not return after cancellation")
	}
}
