// Package relay implements the bidirectional byte-copy loop between a
// session's downstream socket and an already-dialled upstream connection,
// with connect/idle timeouts, an adaptive read buffer, byte counters and
// delayed-penalty firing on the first upstream byte.
package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/pkg/pool"
)

var bufPool = pool.NewLitePool(func() *[]byte {
	b := make([]byte, constants.DefaultBufSize*constants.MaxBufferMultiplier)
	return &b
})

// Relay implements ports.Relay.
type Relay struct{}

func New() *Relay { return &Relay{} }

// byteCounters are the per-direction accounting attached to one
// Forward invocation.
type byteCounters struct {
	up   atomic.Int64
	down atomic.Int64

	// downActivity is set by every D->U read and cleared by U->D so an
	// interactive request in flight resets the adaptive read buffer back
	// to bufsize, favouring responsiveness over bulk-download throughput.
	downActivity atomic.Bool
}

func (r *Relay) Forward(ctx context.Context, session *domain.Session, upstream net.Conn, opts ports.RelayOptions) domain.ForwardResult {
	bufSize := opts.BufSize
	if bufSize <= 0 {
		bufSize = constants.DefaultBufSize
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = constants.DefaultConnectTimeout
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = constants.DefaultIdleTimeout
	}
	if session.DstPort == constants.GooglePushPort {
		idleTimeout = 0
	}

	_ = upstream.SetReadDeadline(time.Now().Add(connectTimeout))

	counters := &byteCounters{}
	u2dErrCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(2)

	var payloadForwarded atomic.Bool

	go func() {
		defer wg.Done()
		u2dErrCh <- r.copyUpstreamToDownstream(session, upstream, opts, idleTimeout, counters, &payloadForwarded)
	}()

	go func() {
		defer wg.Done()
		// Result intentionally discarded: D->U is only ever unblocked by
		// the socket close below, never awaited on its own, so its error
		// carries no information Forward's caller needs.
		_ = r.copyDownstreamToUpstream(session, upstream, opts, counters)
	}()

	// The relay completes when U->D ends, matching the join on the
	// upstream-to-downstream direction alone; D->U keeps running until
	// the close below unblocks its read. Waiting on whichever side
	// finishes first would let a client's legal half-close of its write
	// side (U->D still has bytes to deliver) tear down the upstream
	// before the response is fully relayed.
	firstErr := <-u2dErrCh
	_ = upstream.Close()
	_ = session.Downstream.Close()
	wg.Wait()

	if !payloadForwarded.Load() && !session.ForwardStarted() {
		return domain.Fallback("no payload forwarded before upstream closed", true, opts.DelayedPenalty)
	}

	if firstErr != nil && !isPeerClose(firstErr) {
		return domain.ForwardResult{Outcome: domain.OutcomeCompleted, Reason: firstErr.Error()}
	}

	return domain.Completed()
}

func (r *Relay) copyUpstreamToDownstream(session *domain.Session, upstream net.Conn, opts ports.RelayOptions, idleTimeout time.Duration, counters *byteCounters, forwarded *atomic.Bool) error {
	bufPtr := bufPool.Get()
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	growFactor := 1
	maxFactor := constants.MaxBufferMultiplier
	baseSize := constants.DefaultBufSize
	if baseSize > len(buf) {
		baseSize = len(buf)
	}

	for {
		if counters.downActivity.CompareAndSwap(true, false) {
			growFactor = 1
		}

		readSize := baseSize * growFactor
		if readSize > len(buf) {
			readSize = len(buf)
		}

		n, err := upstream.Read(buf[:readSize])
		if n > 0 {
			chunk := buf[:n]
			if opts.Decrypt != nil {
				chunk = opts.Decrypt(chunk)
			}

			first := !session.ForwardStarted()
			if first {
				if idleTimeout > 0 {
					_ = upstream.SetReadDeadline(time.Now().Add(idleTimeout))
				} else {
					_ = upstream.SetReadDeadline(time.Time{})
				}
				session.StartForwarding()
				if opts.OnForwardStarted != nil {
					opts.OnForwardStarted()
				}
			}

			if _, werr := session.Downstream.Write(chunk); werr != nil {
				return werr
			}
			counters.down.Add(int64(len(chunk)))
			forwarded.Store(true)

			if growFactor < maxFactor {
				growFactor++
			}
		}

		if err != nil {
			return err
		}
	}
}

func (r *Relay) copyDownstreamToUpstream(session *domain.Session, upstream net.Conn, opts ports.RelayOptions, counters *byteCounters) error {
	bufPtr := bufPool.Get()
	defer bufPool.Put(bufPtr)
	buf := (*bufPtr)[:constants.DefaultBufSize]

	// peeked_data was already consumed off the real socket by the
	// front-door listener (or a protocol sniff); it must reach upstream
	// before anything newly read from Downstream does.
	if len(session.PeekedData) > 0 {
		chunk := session.PeekedData
		if opts.Encrypt != nil {
			chunk = opts.Encrypt(chunk)
		}
		if _, err := upstream.Write(chunk); err != nil {
			return err
		}
		counters.up.Add(int64(len(chunk)))
		counters.downActivity.Store(true)
	}

	for {
		n, err := session.Downstream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if opts.Encrypt != nil {
				chunk = opts.Encrypt(chunk)
			}
			if _, werr := upstream.Write(chunk); werr != nil {
				return werr
			}
			counters.up.Add(int64(len(chunk)))
			counters.downActivity.Store(true)
		}
		if err != nil {
			return err
		}
	}
}

// isPeerClose reports whether err is one of the known "transient peer
// close" socket errors, swallowed rather than surfaced as a real failure.
func isPeerClose(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EPIPE, syscall.ECONNRESET, syscall.ECONNABORTED:
			return true
		case 10053, 10054, 10057: // WSAECONNABORTED, WSAECONNRESET, WSAENOTCONN
			return true
		}
	}
	return false
}
