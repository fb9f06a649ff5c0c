package transport

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/bean/storage"
)

// TCP is a work queue server that keeps its jobs in a storage.Store.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	reuseport    bool
	listeners    []*TCPListener

	store      storage.Store
	maxJobSize int
	stats      *serverStats

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	// Without SO_REUSEPORT only one listener can bind the address
	if !options.Reuseport {
		numListeners = 1
	} else if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	maxJobSize := options.MaxJobSize
	if maxJobSize <= 0 {
		maxJobSize = storage.DefaultMaxJobSize
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		reuseport:    options.Reuseport,
		listeners:    make([]*TCPListener, 0, numListeners),
		store:        options.Store,
		maxJobSize:   maxJobSize,
		stats:        newServerStats(),
		log:          log,
	}
}

// Start binds every listener and starts accepting connections. When the
// configured port is 0 the first listener picks the port and the others
// share it.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	for i := 0; i < w.numListeners; i++ {
		if err := w.startListener(ctx); err != nil {
			return multierr.Append(err, w.Close())
		}
	}

	return nil
}

// Addr is the address the server is listening on, valid after Start.
func (w *TCP) Addr() string {
	return w.addr
}

func (w *TCP) Store() storage.Store {
	return w.store
}

// Stats returns the server statistics reported by the stats command.
func (w *TCP) Stats() map[string]interface{} {
	stats := w.store.Stats()
	w.stats.addTo(stats)
	return stats
}

func (w *TCP) startListener(ctx context.Context) error {
	var (
		l   net.Listener
		err error
	)

	if w.reuseport {
		l, err = reuseport.Listen("tcp", w.addr)
	} else {
		l, err = net.Listen("tcp", w.addr)
	}
	if err != nil {
		return err
	}

	// The first listener resolves port 0, the rest must join it.
	w.addr = l.Addr().String()

	listener := NewTCPListener(
		ctx,
		l,
		w,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			w.log.Error("Failed to listen", zap.Error(err))
		}
	}()

	return nil
}

// Close immediately closes all listeners and connections.
func (w *TCP) Close() (err error) {
	w.log.Info("Stopping TCP server")
	if w.cancel != nil {
		w.cancel()
	}

	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	w.stopWaiter.Wait()
	w.log.Info("TCP server stopped")

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	server   *TCP
	log      *zap.Logger

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	server *TCP,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		server:      server,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

// Close stops accepting and closes every active connection.
func (t *TCPListener) Close() (err error) {
	if lerr := t.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		err = multierr.Append(err, lerr)
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Listen accepts connections until the listener is closed, then waits for
// the connections it accepted to finish.
func (t *TCPListener) Listen() error {
	defer func() {
		t.log.Info("Waiting for connections to stop")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.server, t.log.Named("conn"))
		t.addConn(tcpConn)

		t.connWaiter.Add(1)
		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}
