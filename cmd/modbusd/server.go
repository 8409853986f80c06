package main

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modbusd/modbusd/internal/codec"
	"github.com/modbusd/modbusd/internal/ring"
	"github.com/modbusd/modbusd/internal/server"
	"github.com/modbusd/modbusd/internal/transport"
)

func parseFraming(s string) (codec.Framing, error) {
	switch s {
	case "rtu":
		return codec.FramingRTU, nil
	case "mbap":
		return codec.FramingMBAP, nil
	default:
		return 0, errors.Errorf("modbusd: unknown framing %q", s)
	}
}

// openRingStore builds the ring.Store backing the shared data table, or
// returns nil if persistence is disabled (an empty Dir).
func openRingStore(cfg RingConfig) (*ring.Store, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	return ring.New(ring.Options{
		Dir:            cfg.Dir,
		Base:           cfg.Base,
		Ext:            "json",
		Alphabet:       cfg.Alphabet,
		AutoCreatePath: cfg.AutoCreatePath,
	})
}

// runListener starts one configured listener and blocks until ctx is
// cancelled. TCP listens and spawns one server.Engine per accepted
// connection; UDP and serial each drive a single long-lived engine.
func runListener(ctx context.Context, lc ListenerConfig, handler server.Handler, logger *zap.Logger) error {
	framing, err := parseFraming(lc.Framing)
	if err != nil {
		return err
	}

	switch lc.Transport {
	case "tcp":
		return runTCPListener(ctx, lc, framing, handler, logger)
	case "udp":
		t := transport.NewUDP(lc.Address)
		return runEngine(ctx, t, framing, lc, handler, logger)
	case "serial":
		t := transport.NewSerial(lc.Address, lc.Baud)
		return runEngine(ctx, t, framing, lc, handler, logger)
	default:
		return errors.Errorf("modbusd: unknown transport %q", lc.Transport)
	}
}

func runEngine(ctx context.Context, t transport.Transport, framing codec.Framing, lc ListenerConfig, handler server.Handler, logger *zap.Logger) error {
	eng := server.NewEngine(t, framing, lc.UnitOrAddress, handler, logger.With(zap.String("listener", lc.Name)))
	if lc.TimeLimit > 0 {
		eng.TimeLimit = lc.TimeLimit
	}
	eng.RespondToAll = lc.RespondToAll
	if err := eng.Start(); err != nil {
		eng.Stop()
		return errors.Wrapf(err, "modbusd: listener %s failed to go online", lc.Name)
	}
	<-ctx.Done()
	eng.Stop()
	return nil
}

// runTCPListener accepts connections until ctx is cancelled, running each
// one on its own server.Engine under an errgroup so a single misbehaving
// connection cannot block the others or the listener's own shutdown.
func runTCPListener(ctx context.Context, lc ListenerConfig, framing codec.Framing, handler server.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", lc.Address)
	if err != nil {
		return errors.Wrapf(err, "modbusd: listen on %s", lc.Address)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				return g.Wait()
			default:
				logger.Warn("tcp accept failed", zap.Error(err))
				continue
			}
		}
		logger.Info("accepted connection", zap.String("listener", lc.Name), zap.String("remote", conn.RemoteAddr().String()))
		ct := transport.NewConnTransport(conn)
		g.Go(func() error {
			return runEngine(gctx, ct, framing, lc, handler, logger)
		})
	}
}
