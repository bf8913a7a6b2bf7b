// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package replicawire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/replicawire/internal/pool"
	"github.com/nishisan-dev/replicawire/internal/wire"
)

// ConnectionLostHandler is notified whenever the pool fails to
// establish a new connection to the master.
type ConnectionLostHandler func(error)

// connCtx is one pooled TCP connection: the C5 pool's Resource, reused
// across many SendRequest calls until it goes bad. Go's net.Conn has no
// "is this still connected" query, so liveness is tracked explicitly —
// any read/write failure on the connection marks it broken, and Alive
// reports that flag rather than probing the socket.
type connCtx struct {
	conn   net.Conn
	out    *bufio.Writer
	scratch []byte

	broken atomic.Bool
}

const connScratchSize = 1 << 20 // 1 MiB, reused across requests on one connCtx

func (c *connCtx) Alive() bool {
	return !c.broken.Load()
}

func (c *connCtx) Close() error {
	return c.conn.Close()
}

func (c *connCtx) markBroken() {
	c.broken.Store(true)
}

// Client is a pooled, blocking client for the master/slave wire
// protocol: SendRequest borrows a connection from the pool, sends one
// request, and returns a Response whose Close returns the connection.
type Client struct {
	pool *pool.Pool

	internalVersion byte
	appVersion      byte
	maxFrameLen     int
	defaultTimeout  time.Duration

	storeIDGetter StoreIDGetter
	logger        *slog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Address string

	MaxActive int
	MaxIdle   int

	ConnectTimeout time.Duration // default 5s
	DefaultTimeout time.Duration // default per-frame read timeout
	MaxFrameLength int           // default wire.DefaultMaxFrameLength
	RecvBufferSize int           // 0 disables SO_RCVBUF tuning

	InternalVersion byte
	AppVersion      byte

	// StoreIDGetter resolves this client's own store identity for
	// kinds that set RequestKind.ShouldCheckStoreID with no explicit
	// expected id. Defaults to one that always returns
	// ErrStoreIDUnsupported.
	StoreIDGetter StoreIDGetter

	ConnectionLost ConnectionLostHandler
	Logger         *slog.Logger
}

// NewClient dials no connections itself; they are created lazily (and
// pooled) on first use via the pool's Factory.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("replicawire: ClientOptions.Address is required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.MaxFrameLength <= 0 {
		opts.MaxFrameLength = wire.DefaultMaxFrameLength
	}
	if opts.StoreIDGetter == nil {
		opts.StoreIDGetter = unsupportedStoreIDGetter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "replicawire.client")

	factory := func(ctx context.Context) (pool.Resource, error) {
		d := net.Dialer{Timeout: opts.ConnectTimeout}
		conn, err := d.DialContext(ctx, "tcp", opts.Address)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", opts.Address, err)
		}
		if opts.RecvBufferSize > 0 {
			if err := applyRecvBuffer(conn, opts.RecvBufferSize); err != nil {
				logger.Warn("failed to tune SO_RCVBUF", "error", err)
			}
		}
		return &connCtx{
			conn:    conn,
			out:     bufio.NewWriter(conn),
			scratch: make([]byte, connScratchSize),
		}, nil
	}

	p, err := pool.New(factory, pool.Options{
		MaxActive: opts.MaxActive,
		MaxIdle:   opts.MaxIdle,
		ConnLost:  opts.ConnectionLost,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		pool:            p,
		internalVersion: opts.InternalVersion,
		appVersion:      opts.AppVersion,
		maxFrameLen:     opts.MaxFrameLength,
		defaultTimeout:  opts.DefaultTimeout,
		storeIDGetter:   opts.StoreIDGetter,
		logger:          logger,
	}, nil
}

// Shutdown closes every pooled connection and rejects further Acquire
// calls. Responses already in flight are unaffected until Closed.
func (c *Client) Shutdown() {
	c.pool.Close(true)
}

// Stats reports the underlying pool's occupancy, useful for autoscale
// decisions.
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// Resize adjusts the pool's MaxActive at runtime.
func (c *Client) Resize(maxActive int) error {
	return c.pool.Resize(maxActive)
}

// SendRequest sends one request of the given kind over a pooled
// connection and returns its Response. expected, if non-nil, overrides
// the client's StoreIDGetter for a ShouldCheckStoreID comparison; pass
// nil to use the client's own StoreIDGetter (or skip the check
// entirely for kinds that don't set ShouldCheckStoreID).
//
// SendRequest is a standalone generic function, not a Client method,
// because Go methods cannot carry their own type parameters.
func SendRequest[R any](ctx context.Context, c *Client, kind RequestKind, sc SlaveContext, ser Serializer, deser Deserializer[R], expected *StoreID) (*Response[R], error) {
	res, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, commErr(KindConnect, err)
	}
	cc := res.(*connCtx)

	dispose := func() {
		cc.markBroken()
		c.pool.Dispose(cc)
	}
	release := func() {
		c.pool.Release(cc)
	}

	if err := setWriteDeadline(cc.conn, c.writeTimeout(kind)); err != nil {
		dispose()
		return nil, commErr(KindTransport, err)
	}

	cw := wire.NewChunkWriter(cc.out, c.maxFrameLen)
	if err := cw.Begin(c.internalVersion, c.appVersion); err != nil {
		dispose()
		return nil, commErr(KindProtocol, err)
	}
	if err := cw.WriteU8(kind.ID); err != nil {
		dispose()
		return nil, commErr(KindTransport, err)
	}
	if err := writeSlaveContext(cw, sc); err != nil {
		dispose()
		return nil, wrapIfUnwrapped(err)
	}
	if err := ser(cw, cc.scratch); err != nil {
		dispose()
		return nil, commErr(KindProtocol, err)
	}
	if err := cw.Done(); err != nil {
		dispose()
		return nil, commErr(KindProtocol, err)
	}
	if err := cc.out.Flush(); err != nil {
		dispose()
		return nil, commErr(KindTransport, err)
	}

	readTimeout := c.readTimeout(kind)
	cr := wire.NewChunkReader(cc.conn, readTimeout, c.internalVersion, c.appVersion, c.maxFrameLen)

	value, err := deser(cr, cc.scratch)
	if err != nil {
		dispose()
		return nil, wrapReadErr(err)
	}

	storeID, err := readStoreID(cr)
	if err != nil {
		dispose()
		return nil, wrapReadErr(err)
	}

	if kind.ShouldCheckStoreID {
		want := expected
		if want == nil {
			id, err := c.storeIDGetter.StoreID()
			if err != nil {
				dispose()
				return nil, commErr(KindInvariant, err)
			}
			want = &id
		}
		if !storeID.Equal(*want) {
			dispose()
			return nil, commErr(KindStoreMismatch, ErrStoreMismatch)
		}
	}

	names, err := readTxStreamHeader(cr)
	if err != nil {
		dispose()
		return nil, wrapReadErr(err)
	}

	return &Response[R]{
		value:   value,
		storeID: storeID,
		stream:  newTransactionStream(cr, names),
		release: release,
		dispose: dispose,
	}, nil
}

func (c *Client) writeTimeout(kind RequestKind) time.Duration {
	if kind.ReadTimeoutOverride > 0 {
		return kind.ReadTimeoutOverride
	}
	return c.defaultTimeout
}

func (c *Client) readTimeout(kind RequestKind) time.Duration {
	if kind.ReadTimeoutOverride > 0 {
		return kind.ReadTimeoutOverride
	}
	return c.defaultTimeout
}

func setWriteDeadline(conn net.Conn, d time.Duration) error {
	if d <= 0 {
		return conn.SetWriteDeadline(time.Time{})
	}
	return conn.SetWriteDeadline(time.Now().Add(d))
}

// wrapIfUnwrapped passes already-classified *CommError values through
// unchanged, and wraps anything else as a transport failure.
func wrapIfUnwrapped(err error) error {
	var ce *CommError
	if errors.As(err, &ce) {
		return ce
	}
	return commErr(KindTransport, err)
}

// wrapReadErr classifies a ChunkReader failure for the CommError
// taxonomy.
func wrapReadErr(err error) error {
	switch {
	case errors.Is(err, wire.ErrTimeout):
		return commErr(KindTimeout, err)
	case errors.Is(err, wire.ErrVersionMismatch), errors.Is(err, wire.ErrMalformedChunk), errors.Is(err, wire.ErrFrameTooLarge):
		return commErr(KindProtocol, err)
	default:
		return commErr(KindTransport, err)
	}
}
