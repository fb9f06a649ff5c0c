package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/luma/bean/protocol"
	"github.com/luma/bean/storage"
)

const (
	maxTubeName = 200

	// Characters allowed in tube names besides letters and digits.
	tubeNameSymbols = "-+/;.$_()"

	writeQueueSize = 127
)

var errBadFormat = errors.New("bad format")

// TCPConn serves one client. Requests are handled one at a time, in order,
// so responses leave in the order the commands arrived.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	id     string
	conn   net.Conn
	server *TCP
	store  storage.Store

	writeQueue chan []byte

	using    string
	watching []string
	producer bool
	worker   bool

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	server *TCP,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)
	id := uuid.NewString()

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		id:         id,
		conn:       conn,
		server:     server,
		store:      server.store,
		writeQueue: make(chan []byte, writeQueueSize),
		using:      storage.DefaultTube,
		watching:   []string{storage.DefaultTube},
		log:        log.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String())),
	}
}

// Close stops the read and write loops and closes the socket.
func (t *TCPConn) Close() (err error) {
	t.closeOnce.Do(func() {
		t.cancel()

		// Unblocks a read loop waiting on the socket
		err = t.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})

	return err
}

// Start runs the connection until the client goes away or Close is called.
func (t *TCPConn) Start() {
	t.server.stats.connOpened()
	t.store.AcquireTube(t.using)
	for _, tube := range t.watching {
		t.store.AcquireTube(tube)
	}

	defer t.cleanup()

	if !t.isRunning() {
		return
	}

	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()

		// Only the read loop writes to the queue. Closing it lets the write
		// loop flush the last responses and exit.
		defer close(t.writeQueue)
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
}

func (t *TCPConn) cleanup() {
	if err := t.Close(); err != nil {
		t.log.Warn("Failed to close connection cleanly", zap.Error(err))
	}

	if released := t.store.ReleaseAll(t.id); released > 0 {
		t.log.Info("Released reservations of departed client", zap.Int("jobs", released))
	}

	t.store.ReleaseTube(t.using)
	for _, tube := range t.watching {
		t.store.ReleaseTube(tube)
	}

	t.server.stats.connClosed(t.producer, t.worker)
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer log.Debug("Read loop exited")

	r := bufio.NewReader(t.conn)

	for t.isRunning() {
		req, err := protocol.ReadRequest(r, t.server.maxJobSize)
		if err != nil {
			if !t.handleReadError(log, err) {
				return
			}
			continue
		}

		t.server.stats.command(req.Verb,
			req.Verb == protocol.Put && !t.producer,
			isReserve(req.Verb) && !t.worker)

		if err := t.handle(req); err != nil {
			log.Warn("Failed to handle request",
				zap.Stringer("verb", req.Verb),
				zap.Error(err))
			return
		}
	}
}

// handleReadError answers a malformed request. It returns false when the
// connection cannot continue.
func (t *TCPConn) handleReadError(log *zap.Logger, err error) bool {
	var status protocol.Status

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		log.Debug("Client went away", zap.Error(err))
		return false

	case errors.Is(err, protocol.ErrInvalidCommand):
		status = protocol.StatusUnknownCmd

	case errors.Is(err, protocol.ErrJobTooBig):
		status = protocol.StatusJobTooBig

	case errors.Is(err, protocol.ErrExpectedCRLF):
		status = protocol.StatusExpectedCRLF

	case errors.Is(err, protocol.ErrMalformedRequest):
		status = protocol.StatusBadFormat

	default:
		log.Warn("Failed to read client request", zap.Error(err))
		_ = t.status(protocol.StatusBadFormat)
		return false
	}

	log.Debug("Rejected client request", zap.String("status", string(status)), zap.Error(err))

	return t.status(status) == nil
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer log.Debug("Write loop exited")

	for {
		select {
		case <-t.ctx.Done():
			return

		// These are responses from client requests handled by the read loop
		case data, ok := <-t.writeQueue:
			if !ok {
				// Our read loop has terminated, we should too
				return
			}

			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write from write queue", zap.Error(err))

				// Closing the socket also stops the read loop
				if err := t.Close(); err != nil {
					log.Warn("Failed to close connection", zap.Error(err))
				}
				return
			}
		}
	}
}

// Write queues data for the write loop. Write! Write! Write!
func (t *TCPConn) Write(data []byte) (int, error) {
	select {
	case t.writeQueue <- data:
		return len(data), nil

	case <-t.ctx.Done():
		return 0, net.ErrClosed
	}
}

func (t *TCPConn) handle(req *protocol.Request) error {
	switch req.Verb {
	case protocol.Put:
		return t.handlePut(req)

	case protocol.Use:
		name, err := tubeArg(req.Args)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		t.store.AcquireTube(name)
		t.store.ReleaseTube(t.using)
		t.using = name
		return t.status(protocol.StatusUsing, name)

	case protocol.Reserve:
		return t.handleReserve(-1)

	case protocol.ReserveWithTimeout:
		secs, err := uintArg(req.Args, 0, 1)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		return t.handleReserve(time.Duration(secs) * time.Second)

	case protocol.ReserveJob:
		id, err := uintArg(req.Args, 0, 1)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		job, err := t.store.ReserveJob(t.id, id)
		if err != nil {
			return t.storeError(err)
		}
		return t.body(protocol.StatusReserved, job.Body, strconv.FormatUint(job.ID, 10))

	case protocol.Delete:
		return t.handleJobCommand(req, 1, protocol.StatusDeleted, func(id uint64, _ []uint64) error {
			return t.store.Delete(t.id, id)
		})

	case protocol.Release:
		return t.handleJobCommand(req, 3, protocol.StatusReleased, func(id uint64, rest []uint64) error {
			return t.store.Release(t.id, id, uint32(rest[0]), time.Duration(rest[1])*time.Second)
		})

	case protocol.Bury:
		return t.handleJobCommand(req, 2, protocol.StatusBuried, func(id uint64, rest []uint64) error {
			return t.store.Bury(t.id, id, uint32(rest[0]))
		})

	case protocol.Touch:
		return t.handleJobCommand(req, 1, protocol.StatusTouched, func(id uint64, _ []uint64) error {
			return t.store.Touch(t.id, id)
		})

	case protocol.KickJob:
		return t.handleJobCommand(req, 1, protocol.StatusKicked, func(id uint64, _ []uint64) error {
			return t.store.KickJob(id)
		})

	case protocol.Watch:
		name, err := tubeArg(req.Args)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		if !t.isWatching(name) {
			t.store.AcquireTube(name)
			t.watching = append(t.watching, name)
		}
		return t.status(protocol.StatusWatching, strconv.Itoa(len(t.watching)))

	case protocol.Ignore:
		name, err := tubeArg(req.Args)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		if t.isWatching(name) {
			if len(t.watching) == 1 {
				return t.status(protocol.StatusNotIgnored)
			}
			t.unwatch(name)
			t.store.ReleaseTube(name)
		}
		return t.status(protocol.StatusWatching, strconv.Itoa(len(t.watching)))

	case protocol.Peek:
		id, err := uintArg(req.Args, 0, 1)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		job, err := t.store.Peek(id)
		return t.found(job, err)

	case protocol.PeekReady:
		return t.found(t.store.PeekState(t.using, storage.Ready))

	case protocol.PeekDelayed:
		return t.found(t.store.PeekState(t.using, storage.Delayed))

	case protocol.PeekBuried:
		return t.found(t.store.PeekState(t.using, storage.Buried))

	case protocol.Kick:
		bound, err := uintArg(req.Args, 0, 1)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		n, err := t.store.Kick(t.using, int(bound))
		if err != nil {
			return t.storeError(err)
		}
		return t.status(protocol.StatusKicked, strconv.Itoa(n))

	case protocol.StatsJob:
		id, err := uintArg(req.Args, 0, 1)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		stats, err := t.store.StatsJob(id)
		if err != nil {
			return t.storeError(err)
		}
		return t.yaml(stats)

	case protocol.StatsTube:
		name, err := tubeArg(req.Args)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		stats, err := t.store.StatsTube(name)
		if err != nil {
			return t.storeError(err)
		}
		return t.yaml(stats)

	case protocol.Stats:
		return t.yaml(t.server.Stats())

	case protocol.ListTubes:
		return t.yaml(t.store.Tubes())

	case protocol.ListTubeUsed:
		return t.status(protocol.StatusUsing, t.using)

	case protocol.ListTubesWatched:
		return t.yaml(t.watching)

	case protocol.PauseTube:
		if len(req.Args) != 2 {
			return t.status(protocol.StatusBadFormat)
		}
		name, err := tubeArg(req.Args[:1])
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		secs, err := uintArg(req.Args, 1, 2)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		if err := t.store.PauseTube(name, time.Duration(secs)*time.Second); err != nil {
			return t.storeError(err)
		}
		return t.status(protocol.StatusPaused)

	default:
		return t.status(protocol.StatusUnknownCmd)
	}
}

func (t *TCPConn) handlePut(req *protocol.Request) error {
	pri, err := uintArg(req.Args, 0, 4)
	if err != nil || pri > 1<<32-1 {
		return t.status(protocol.StatusBadFormat)
	}

	delay, err := uintArg(req.Args, 1, 4)
	if err != nil {
		return t.status(protocol.StatusBadFormat)
	}

	ttr, err := uintArg(req.Args, 2, 4)
	if err != nil {
		return t.status(protocol.StatusBadFormat)
	}

	t.producer = true

	id, err := t.store.Put(t.using, uint32(pri), time.Duration(delay)*time.Second, time.Duration(ttr)*time.Second, req.Body)
	if err != nil {
		return t.storeError(err)
	}

	return t.status(protocol.StatusInserted, strconv.FormatUint(id, 10))
}

func (t *TCPConn) handleReserve(timeout time.Duration) error {
	t.worker = true

	job, err := t.store.Reserve(t.ctx, t.id, t.watching, timeout)
	if err != nil {
		return t.storeError(err)
	}

	return t.body(protocol.StatusReserved, job.Body, strconv.FormatUint(job.ID, 10))
}

// handleJobCommand parses "<id> [<n> ...]" where nargs counts the id, runs fn
// and answers success or the store's error.
func (t *TCPConn) handleJobCommand(req *protocol.Request, nargs int, success protocol.Status, fn func(id uint64, rest []uint64) error) error {
	values := make([]uint64, nargs)
	for i := range values {
		v, err := uintArg(req.Args, i, nargs)
		if err != nil {
			return t.status(protocol.StatusBadFormat)
		}
		values[i] = v
	}

	if err := fn(values[0], values[1:]); err != nil {
		return t.storeError(err)
	}

	return t.status(success)
}

func (t *TCPConn) storeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return t.status(protocol.StatusNotFound)
	case errors.Is(err, storage.ErrTimedOut):
		return t.status(protocol.StatusTimedOut)
	case errors.Is(err, storage.ErrDeadlineSoon):
		return t.status(protocol.StatusDeadlineSoon)
	case errors.Is(err, storage.ErrJobTooBig):
		return t.status(protocol.StatusJobTooBig)
	case errors.Is(err, storage.ErrClosed):
		return t.status(protocol.StatusDraining)
	case errors.Is(err, context.Canceled):
		// The connection is going away, nobody is left to answer.
		return err
	default:
		t.log.Error("Store failed", zap.Error(err))
		return t.status(protocol.StatusInternalError)
	}
}

func (t *TCPConn) status(status protocol.Status, fields ...string) error {
	return protocol.WriteStatus(t, status, fields...)
}

func (t *TCPConn) body(status protocol.Status, body []byte, fields ...string) error {
	return protocol.WriteBody(t, status, body, fields...)
}

func (t *TCPConn) found(job storage.Job, err error) error {
	if err != nil {
		return t.storeError(err)
	}
	return t.body(protocol.StatusFound, job.Body, strconv.FormatUint(job.ID, 10))
}

func (t *TCPConn) yaml(v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return t.body(protocol.StatusOK, append([]byte("---\n"), b...))
}

func (t *TCPConn) isWatching(name string) bool {
	for _, w := range t.watching {
		if w == name {
			return true
		}
	}
	return false
}

func (t *TCPConn) unwatch(name string) {
	for i, w := range t.watching {
		if w == name {
			t.watching = append(t.watching[:i], t.watching[i+1:]...)
			return
		}
	}
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}

func isReserve(verb protocol.Verb) bool {
	return verb == protocol.Reserve || verb == protocol.ReserveWithTimeout || verb == protocol.ReserveJob
}

// uintArg parses args[i] as an unsigned integer, requiring exactly n args.
func uintArg(args []string, i, n int) (uint64, error) {
	if len(args) != n {
		return 0, errBadFormat
	}
	return strconv.ParseUint(args[i], 10, 64)
}

func tubeArg(args []string) (string, error) {
	if len(args) != 1 || !validTubeName(args[0]) {
		return "", errBadFormat
	}
	return args[0], nil
}

func validTubeName(name string) bool {
	if name == "" || len(name) > maxTubeName || name[0] == '-' {
		return false
	}

	for _, r := range name {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && !strings.ContainsRune(tubeNameSymbols, r) {
			return false
		}
	}

	return true
}
