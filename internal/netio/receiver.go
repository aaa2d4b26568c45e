package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/wsnsim/leach/internal/leach"
)

// ErrNoListeners indicates that Run was called without any listeners.
var ErrNoListeners = errors.New("receiver run: no listeners provided")

// Demuxer routes parsed LEACH control packets to the appropriate
// agent. This interface decouples the receiver from leach.Manager to
// avoid tight coupling between netio and leach packages.
type Demuxer interface {
	// Demux routes an AD/AD_REP/TT packet addressed by its own
	// wire-format destination field (AD is broadcast-addressed to
	// everyone but the origin).
	Demux(wire []byte, from netip.Addr) error

	// DemuxTo routes a MSG packet, which carries no destination
	// field of its own, to dst (the socket's own local address).
	DemuxTo(dst netip.Addr, wire []byte, from netip.Addr) error
}

// Receiver reads LEACH control packets from one or more Listeners and
// routes them to agents via a Demuxer.
//
// The Receiver handles:
//   - Buffer management via leach.PacketPool
//   - Packet kind discrimination via leach.PeekKind
//   - Context-aware graceful shutdown
type Receiver struct {
	demuxer Demuxer
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes packets to the given Demuxer.
func NewReceiver(demuxer Demuxer, logger *slog.Logger) *Receiver {
	return &Receiver{
		demuxer: demuxer,
		logger:  logger.With(slog.String("component", "netio.receiver")),
	}
}

// Run reads from all listeners concurrently until ctx is cancelled.
// Each listener gets its own goroutine. Run blocks until all listener
// goroutines complete (i.e., until ctx is cancelled and all reads
// return).
//
// Errors from individual packet reads are logged but do not stop the
// receiver. Only context cancellation terminates the loop.
func (r *Receiver) Run(ctx context.Context, listeners ...*Listener) error {
	if len(listeners) == 0 {
		return fmt.Errorf("receiver: %w", ErrNoListeners)
	}

	done := make(chan struct{}, len(listeners))

	for _, ln := range listeners {
		go func(l *Listener) {
			r.recvLoop(ctx, l)
			done <- struct{}{}
		}(ln)
	}

	// Wait for all goroutines to finish.
	for range len(listeners) {
		<-done
	}

	return nil
}

// recvLoop reads packets from a single Listener in a loop until ctx
// is cancelled. Each received packet is decoded and routed to the
// Demuxer. Errors from individual reads are logged but do not stop the
// loop; only context cancellation terminates it.
func (r *Receiver) recvLoop(ctx context.Context, ln *Listener) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := r.recvOne(ctx, ln); err != nil {
			// Context cancellation during read is expected at shutdown.
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("recv error", slog.String("error", err.Error()))
		}
	}
}

// recvOne performs a single receive-decode-demux cycle. The buffer
// from PacketPool is returned to the pool when recvOne returns; the
// Demuxer is handed a copy of the raw bytes.
func (r *Receiver) recvOne(ctx context.Context, ln *Listener) error {
	raw, meta, err := ln.Recv(ctx)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	defer func() {
		buf := raw[:cap(raw)]
		leach.PacketPool.Put(&buf)
	}()

	kind, err := leach.PeekKind(raw)
	if err != nil {
		r.logger.Debug("invalid LEACH packet",
			slog.String("src", meta.SrcAddr.String()),
			slog.String("error", err.Error()),
		)
		return nil // Drop invalid packets silently.
	}

	// Copy raw bytes since the pooled buffer is reused after this call.
	wire := make([]byte, len(raw))
	copy(wire, raw)

	var demuxErr error
	if kind == leach.KindMSG {
		demuxErr = r.demuxer.DemuxTo(ln.conn.LocalAddr().Addr(), wire, meta.SrcAddr)
	} else {
		demuxErr = r.demuxer.Demux(wire, meta.SrcAddr)
	}

	if demuxErr != nil {
		r.logger.Debug("demux failed",
			slog.String("src", meta.SrcAddr.String()),
			slog.String("kind", kind.String()),
			slog.String("error", demuxErr.Error()),
		)
	}

	return nil
}
