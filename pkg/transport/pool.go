package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"lightapi/router/pkg/clock"
	"lightapi/router/pkg/routererr"
)

const (
	// DefaultPoolMaxSize is the per-destination connection cap.
	DefaultPoolMaxSize = 10

	// DefaultPoolIdleTimeout is how long a pooled connection may sit idle
	// before it is discarded instead of reused.
	DefaultPoolIdleTimeout = 60 * time.Second
)

// PoolConfig configures every per-destination pool.
type PoolConfig struct {
	MaxSize     int
	IdleTimeout time.Duration
}

// DefaultPoolConfig returns the production pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:     DefaultPoolMaxSize,
		IdleTimeout: DefaultPoolIdleTimeout,
	}
}

// PooledConn is an upstream stream owned exclusively by one request while
// leased from the pool.
type PooledConn struct {
	net.Conn
	id       uint64
	lastUsed time.Time
}

// ID returns the connection's identifier, unique among connections to the
// same destination.
func (p *PooledConn) ID() uint64 {
	return p.id
}

func (p *PooledConn) touch(now time.Time) {
	p.lastUsed = now
}

func (p *PooledConn) expired(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(p.lastUsed) > idleTimeout
}

// Pool is the keep-alive connection pool, partitioned by destination.
// Connections move between the per-destination idle queue and the leasing
// request; they are never aliased.
type Pool struct {
	config PoolConfig
	dialer Dialer
	clock  clock.Clock

	mu    sync.Mutex
	hosts map[ConnKey]*hostPool
}

type hostPool struct {
	idle chan *PooledConn

	mu     sync.Mutex
	live   int // connections dialed and not yet closed
	nextID uint64
}

// NewPool creates a pool dialing through dialer.
func NewPool(cfg PoolConfig, dialer Dialer, clk clock.Clock) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultPoolMaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultPoolIdleTimeout
	}
	if clk == nil {
		clk = clock.System
	}
	return &Pool{
		config: cfg,
		dialer: dialer,
		clock:  clk,
		hosts:  make(map[ConnKey]*hostPool),
	}
}

var (
	sharedOnce sync.Once
	sharedPool *Pool
)

// Shared returns the process-wide pool over the production dialer, created
// lazily on first use.
func Shared() *Pool {
	sharedOnce.Do(func() {
		sharedPool = NewPool(DefaultPoolConfig(), &NetDialer{}, clock.System)
	})
	return sharedPool
}

func (p *Pool) host(key ConnKey) *hostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.hosts[key]
	if !ok {
		hp = &hostPool{idle: make(chan *PooledConn, p.config.MaxSize)}
		p.hosts[key] = hp
	}
	return hp
}

// Acquire leases a connection for key: a pooled one when available and
// fresh, a newly dialed one while under the size cap, otherwise the first
// connection another request returns.
func (p *Pool) Acquire(ctx context.Context, key ConnKey) (*PooledConn, error) {
	hp := p.host(key)

	for {
		select {
		case conn := <-hp.idle:
			if freshened := p.freshen(hp, conn); freshened != nil {
				return freshened, nil
			}
			continue
		default:
		}

		if conn, dialed, err := p.dialUnderCap(ctx, key, hp); dialed {
			return conn, err
		}

		// At capacity: wait for a returned connection.
		select {
		case conn := <-hp.idle:
			if freshened := p.freshen(hp, conn); freshened != nil {
				return freshened, nil
			}
			// The waited-for connection had expired; its slot is free now,
			// so loop back and dial.
		case <-ctx.Done():
			return nil, routererr.Wrap(routererr.KindIO, "waiting for pooled connection", ctx.Err())
		}
	}
}

// freshen returns conn touched when it is still usable, or closes it and
// frees its slot when it sat idle too long.
func (p *Pool) freshen(hp *hostPool, conn *PooledConn) *PooledConn {
	now := p.clock.Now()
	if conn.expired(now, p.config.IdleTimeout) {
		conn.Close()
		hp.mu.Lock()
		hp.live--
		hp.mu.Unlock()
		return nil
	}
	conn.touch(now)
	return conn
}

// dialUnderCap dials a new connection if the destination is under its size
// cap. The second return value reports whether a dial was attempted.
func (p *Pool) dialUnderCap(ctx context.Context, key ConnKey, hp *hostPool) (*PooledConn, bool, error) {
	hp.mu.Lock()
	if hp.live >= p.config.MaxSize {
		hp.mu.Unlock()
		return nil, false, nil
	}
	hp.live++
	hp.nextID++
	id := hp.nextID
	hp.mu.Unlock()

	raw, err := p.dialer.DialContext(ctx, key)
	if err != nil {
		hp.mu.Lock()
		hp.live--
		hp.mu.Unlock()
		return nil, true, err
	}
	return &PooledConn{Conn: raw, id: id, lastUsed: p.clock.Now()}, true, nil
}

// Release returns a connection after a successful request cycle. When the
// queue is full the connection is dropped and its slot freed.
func (p *Pool) Release(key ConnKey, conn *PooledConn) {
	hp := p.host(key)
	conn.touch(p.clock.Now())
	select {
	case hp.idle <- conn:
	default:
		conn.Close()
		hp.mu.Lock()
		hp.live--
		hp.mu.Unlock()
	}
}

// Recycle discards a connection after a failure. The pool never observes a
// failed connection again.
func (p *Pool) Recycle(key ConnKey, conn *PooledConn) {
	hp := p.host(key)
	conn.Close()
	hp.mu.Lock()
	hp.live--
	hp.mu.Unlock()
}

// SweepExpired closes idle connections past the idle timeout across all
// destinations and returns how many were dropped. The maintenance scheduler
// runs this periodically; Acquire also drops expired connections lazily.
func (p *Pool) SweepExpired() int {
	p.mu.Lock()
	hosts := make([]*hostPool, 0, len(p.hosts))
	for _, hp := range p.hosts {
		hosts = append(hosts, hp)
	}
	p.mu.Unlock()

	now := p.clock.Now()
	dropped := 0
	for _, hp := range hosts {
		var keep []*PooledConn
	drain:
		for {
			select {
			case conn := <-hp.idle:
				if conn.expired(now, p.config.IdleTimeout) {
					conn.Close()
					hp.mu.Lock()
					hp.live--
					hp.mu.Unlock()
					dropped++
				} else {
					keep = append(keep, conn)
				}
			default:
				break drain
			}
		}
		for _, conn := range keep {
			select {
			case hp.idle <- conn:
			default:
				conn.Close()
				hp.mu.Lock()
				hp.live--
				hp.mu.Unlock()
			}
		}
	}
	return dropped
}

// Live returns the number of open connections for key (leased plus idle).
func (p *Pool) Live(key ConnKey) int {
	hp := p.host(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return hp.live
}
