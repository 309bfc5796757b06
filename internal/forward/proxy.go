package forward

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
)

// ProxyForwarder forwards TCP in-process: it listens on the host port and
// pipes each connection to the container address. Forwards live only as
// long as the process that created them.
type ProxyForwarder struct {
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewProxyForwarder creates an in-process forwarder.
func NewProxyForwarder() *ProxyForwarder {
	return &ProxyForwarder{DialTimeout: 5 * time.Second, Logger: logging.Component("proxy")}
}

func (p *ProxyForwarder) Name() string {
	return config.BackendProxy
}

func (p *ProxyForwarder) Start(ctx context.Context, target Target, fwd port.PortForward) (io.Closer, error) {
	if fwd.Protocol != port.TCP {
		return nil, fmt.Errorf("%s backend forwards tcp only", p.Name())
	}
	if target.IPAddress == "" {
		return nil, fmt.Errorf("container %s has no IP address", target.ContainerID)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fwd.HostAddr())
	if err != nil {
		return nil, err
	}

	pl := &proxyListener{
		listener: ln,
		upstream: net.JoinHostPort(target.IPAddress, strconv.Itoa(fwd.TargetPort)),
		timeout:  p.DialTimeout,
		logger:   p.Logger,
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}
	pl.wg.Add(1)
	go pl.acceptLoop()
	return pl, nil
}

func (p *ProxyForwarder) Active(ctx context.Context, target Target) ([]Active, error) {
	return nil, nil
}

// proxyListener owns one listening socket and its open connections.
type proxyListener struct {
	listener net.Listener
	upstream string
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (pl *proxyListener) acceptLoop() {
	defer pl.wg.Done()
	for {
		conn, err := pl.listener.Accept()
		if err != nil {
			select {
			case <-pl.closed:
				return
			default:
				// transient error
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		pl.wg.Add(1)
		go pl.handle(conn)
	}
}

func (pl *proxyListener) track(c net.Conn) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	select {
	case <-pl.closed:
		return false
	default:
	}
	pl.conns[c] = struct{}{}
	return true
}

func (pl *proxyListener) untrack(c net.Conn) {
	pl.mu.Lock()
	delete(pl.conns, c)
	pl.mu.Unlock()
}

func (pl *proxyListener) handle(local net.Conn) {
	defer pl.wg.Done()
	defer local.Close()

	remote, err := net.DialTimeout("tcp", pl.upstream, pl.timeout)
	if err != nil {
		pl.logger.Debug("upstream dial failed", "upstream", pl.upstream, "error", err)
		return
	}
	defer remote.Close()

	if !pl.track(local) || !pl.track(remote) {
		return
	}
	defer pl.untrack(local)
	defer pl.untrack(remote)

	var g errgroup.Group
	g.Go(func() error { return pipe(remote, local) })
	g.Go(func() error { return pipe(local, remote) })
	if err := g.Wait(); err != nil {
		pl.logger.Debug("connection ended", "upstream", pl.upstream, "error", err)
	}
}

// pipe copies src to dst and half-closes dst when src is drained.
func pipe(dst, src net.Conn) error {
	_, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	} else {
		_ = dst.Close()
	}
	return err
}

// Close stops accepting, drops open connections and waits for the
// handlers to finish.
func (pl *proxyListener) Close() error {
	var err error
	pl.once.Do(func() {
		pl.mu.Lock()
		close(pl.closed)
		for c := range pl.conns {
			_ = c.Close()
		}
		pl.mu.Unlock()
		err = pl.listener.Close()
		pl.wg.Wait()
	})
	return err
}

var _ Forwarder = (*ProxyForwarder)(nil)
