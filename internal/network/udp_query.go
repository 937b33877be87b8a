// Package network implements the A2S UDP query responder and a matching
// query client.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultWorkers is the number of goroutines reading the query socket.
const DefaultWorkers = 4

// readBufferSize is larger than any valid request.
const readBufferSize = 2048

// Consecutive read errors back off from readBackoffMin up to readBackoffMax.
const (
	readBackoffMin = 5 * time.Millisecond
	readBackoffMax = time.Second
)

// readErrorBackoff returns the pause after the n-th consecutive read error.
func readErrorBackoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := readBackoffMin
	for i := 1; i < n && d < readBackoffMax; i++ {
		d *= 2
	}
	if d > readBackoffMax {
		d = readBackoffMax
	}
	return d
}

// Handler builds the response for one datagram. A nil result means no reply.
// The packet slice is only valid for the duration of the call.
type Handler interface {
	Handle(packet []byte, from netip.AddrPort) []byte
}

// ResponderConfig describes where the responder listens.
type ResponderConfig struct {
	BindAddress string
	Port        int
	Workers     int
}

// ResponderStats is a snapshot of the responder's traffic counters.
type ResponderStats struct {
	Received    uint64 `json:"received"`
	Sent        uint64 `json:"sent"`
	Unanswered  uint64 `json:"unanswered"`
	ReadErrors  uint64 `json:"read_errors"`
	WriteErrors uint64 `json:"write_errors"`
}

// QueryResponder owns the A2S UDP socket. A fixed pool of workers reads
// from the same socket and replies to the sender of each datagram.
type QueryResponder struct {
	cfg     ResponderConfig
	handler Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	wg       sync.WaitGroup
	stopOnce sync.Once
	closing  chan struct{}

	received    atomic.Uint64
	sent        atomic.Uint64
	unanswered  atomic.Uint64
	readErrors  atomic.Uint64
	writeErrors atomic.Uint64
}

// NewQueryResponder creates a responder. Nothing is bound until Start.
func NewQueryResponder(cfg ResponderConfig, handler Handler) *QueryResponder {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &QueryResponder{
		cfg:     cfg,
		handler: handler,
		logger:  log.With().Str("component", "query_responder").Logger(),
		closing: make(chan struct{}),
	}
}

// Start binds the socket and launches the workers. It returns once the
// socket is bound; a bind failure is returned to the caller. Cancelling
// ctx stops the responder.
func (r *QueryResponder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.closing:
		return errors.New("query responder already stopped")
	default:
	}
	if r.conn != nil {
		return errors.New("query responder already started")
	}

	addr := net.JoinHostPort(r.cfg.BindAddress, strconv.Itoa(r.cfg.Port))

	// SO_REUSEADDR lets a restarted process rebind right away
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind query port %s: %w", addr, err)
	}
	r.conn = pc.(*net.UDPConn)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(r.conn)
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.closing:
		}
	}()

	r.logger.Info().
		Str("address", r.conn.LocalAddr().String()).
		Int("workers", r.cfg.Workers).
		Msg("A2S query responder started")
	return nil
}

func (r *QueryResponder) worker(conn *net.UDPConn) {
	defer r.wg.Done()

	// at most 5 read error warnings per second per worker
	errLog := r.logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second})

	buf := make([]byte, readBufferSize)
	failures := 0
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.readErrors.Add(1)
			failures++
			errLog.Warn().Err(err).Int("consecutive", failures).Msg("query socket read error")

			select {
			case <-r.closing:
				return
			case <-time.After(readErrorBackoff(failures)):
			}
			continue
		}
		failures = 0
		r.received.Add(1)

		resp := r.handler.Handle(buf[:n], from)
		if resp == nil {
			r.unanswered.Add(1)
			continue
		}

		if _, err := conn.WriteToUDPAddrPort(resp, from); err != nil {
			r.writeErrors.Add(1)
			r.logger.Warn().
				Err(err).
				Str("remote", from.String()).
				Msg("failed to send query response")
			continue
		}
		r.sent.Add(1)
	}
}

// Stop closes the socket and waits for the workers to exit. It may be
// called more than once and before Start.
func (r *QueryResponder) Stop() {
	r.stopOnce.Do(func() {
		close(r.closing)

		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("error closing query socket")
			}
		}
	})
	r.wg.Wait()

	r.mu.Lock()
	started := r.conn != nil
	r.mu.Unlock()
	if started {
		r.logger.Debug().Msg("A2S query responder stopped")
	}
}

// LocalAddr returns the bound address, or nil before Start.
func (r *QueryResponder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stats returns the traffic counters.
func (r *QueryResponder) Stats() ResponderStats {
	return ResponderStats{
		Received:    r.received.Load(),
		Sent:        r.sent.Load(),
		Unanswered:  r.unanswered.Load(),
		ReadErrors:  r.readErrors.Load(),
		WriteErrors: r.writeErrors.Load(),
	}
}

// SelfTest queries the responder over loopback with an A2S_INFO request.
func (r *QueryResponder) SelfTest(ctx context.Context) error {
	addr := r.LocalAddr()
	if addr == nil {
		return errors.New("self-test: responder not started")
	}

	target := loopbackTarget(addr.(*net.UDPAddr).AddrPort())
	client := NewQueryClient(5 * time.Second)
	info, err := client.Info(ctx, target.String())
	if err != nil {
		return fmt.Errorf("self-test failed: %w", err)
	}

	r.logger.Debug().
		Str("target", target.String()).
		Str("name", info.Name).
		Msg("query self-test passed")
	return nil
}

// loopbackTarget rewrites a wildcard bind address to IPv4 loopback, which
// dual-stack sockets also accept.
func loopbackTarget(ap netip.AddrPort) netip.AddrPort {
	ip := ap.Addr().Unmap()
	if ip.IsUnspecified() {
		ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	return netip.AddrPortFrom(ip, ap.Port())
}
