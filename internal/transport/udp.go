package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"beacon/internal/codec"
	"beacon/internal/logger"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultPort is the port every node listens and broadcasts on
	DefaultPort = 49497

	maxDatagram = 64 << 10
)

// UDPConfig configures the socket
type UDPConfig struct {
	BindAddress  string
	Port         int
	BindAttempts uint
	BindDelay    time.Duration
	BindMaxDelay time.Duration
}

func (c *UDPConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BindAttempts == 0 {
		c.BindAttempts = 5
	}
	if c.BindDelay == 0 {
		c.BindDelay = 200 * time.Millisecond
	}
	if c.BindMaxDelay == 0 {
		c.BindMaxDelay = 5 * time.Second
	}
}

// UDP is the broadcast-capable datagram transport
type UDP struct {
	cfg UDPConfig
	log logger.Logger
	mux *mux

	mu     sync.RWMutex
	conn   net.PacketConn
	closed bool
	wg     sync.WaitGroup
}

// NewUDP creates an unbound transport
func NewUDP(cfg UDPConfig, log logger.Logger) *UDP {
	cfg.applyDefaults()
	return &UDP{
		cfg: cfg,
		log: log.WithComponent("transport"),
		mux: newMux(),
	}
}

// Init binds the socket, retrying while the port is busy, and starts the
// read loop. Calling Init on an initialized transport is a no-op.
func (u *UDP) Init(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(u.cfg.BindAddress, strconv.Itoa(u.cfg.Port))
	lc := net.ListenConfig{Control: setSocketOptions}

	var conn net.PacketConn
	err := retry.Do(func() error {
		c, err := lc.ListenPacket(ctx, "udp4", addr)
		if err != nil {
			u.log.Warn().Err(err).Str("addr", addr).Msg("Bind failed, retrying")
			return err
		}
		conn = c
		return nil
	}, retry.Context(ctx), retry.Attempts(u.cfg.BindAttempts), retry.Delay(u.cfg.BindDelay), retry.MaxDelay(u.cfg.BindMaxDelay))
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	u.conn = conn
	u.closed = false
	u.wg.Add(1)
	go u.readLoop(conn)

	u.log.Info().Str("addr", conn.LocalAddr().String()).Msg("UDP transport listening")
	return nil
}

func (u *UDP) readLoop(conn net.PacketConn) {
	defer u.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warn().Err(err).Msg("Read failed")
			continue
		}

		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		if !u.mux.dispatch(buf[:n], udpAddr.IP.String(), udpAddr.Port) {
			u.log.Debug().Str("from", from.String()).Int("bytes", n).Msg("Dropped datagram")
		}
	}
}

// Send writes one framed datagram. A context deadline becomes the write deadline.
func (u *UDP) Send(ctx context.Context, data []byte, address string, port int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.mu.RLock()
	conn, closed := u.conn, u.closed
	u.mu.RUnlock()
	if closed {
		return ErrSocketClosed
	}
	if conn == nil {
		return ErrNotInitialized
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", address, err)
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil && errors.Is(err, net.ErrClosed) {
		return ErrSocketClosed
	}
	if _, err := conn.WriteTo(data, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// AddService registers the handler for a service byte
func (u *UDP) AddService(id byte, h Handler) {
	u.mux.add(id, h)
	u.log.Debug().Str("service", codec.ServiceName(id)).Msg("Service registered")
}

// RemoveService unregisters a service byte
func (u *UDP) RemoveService(id byte) {
	u.mux.remove(id)
}

// IsInitialized reports whether the socket is bound and open
func (u *UDP) IsInitialized() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.conn != nil
}

// LocalPort returns the bound port, useful when binding port 0
func (u *UDP) LocalPort() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return 0
	}
	if a, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// Close closes the socket and waits for the read loop
func (u *UDP) Close() error {
	u.mu.Lock()
	conn := u.conn
	if conn == nil || u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.conn = nil
	u.mu.Unlock()

	err := conn.Close()
	u.wg.Wait()
	return err
}
