package replicawire

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/replicawire/internal/pool"
	"github.com/nishisan-dev/replicawire/internal/wire"
)

const (
	testInternalVersion = 1
	testAppVersion      = 1
	testMaxFrameLen     = 4096
)

// pipeFactory returns a Factory that hands out connCtx instances backed
// by one end of a net.Pipe, invoking serverFn in a goroutine on the
// other end for every Acquire.
func pipeFactory(t *testing.T, serverFn func(conn net.Conn)) pool.Factory {
	t.Helper()
	return func(ctx context.Context) (pool.Resource, error) {
		clientConn, serverConn := net.Pipe()
		go serverFn(serverConn)
		return &connCtx{
			conn:    clientConn,
			out:     bufio.NewWriter(clientConn),
			scratch: make([]byte, connScratchSize),
		}, nil
	}
}

func newTestClient(t *testing.T, serverFn func(conn net.Conn)) *Client {
	t.Helper()
	p, err := pool.New(pipeFactory(t, serverFn), pool.Options{MaxActive: 2, MaxIdle: 2})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() { p.Close(true) })
	return &Client{
		pool:            p,
		internalVersion: testInternalVersion,
		appVersion:      testAppVersion,
		maxFrameLen:     testMaxFrameLen,
		defaultTimeout:  5 * time.Second,
		storeIDGetter:   unsupportedStoreIDGetter{},
	}
}

// readRequest decodes exactly what SendRequest writes: kind byte,
// SlaveContext, then whatever the serializer appended.
func readRequest(t *testing.T, cr *wire.ChunkReader) (kind byte, sc SlaveContext) {
	t.Helper()
	var err error
	kind, err = cr.ReadU8()
	if err != nil {
		t.Fatalf("reading kind: %v", err)
	}
	sc.SessionID, err = cr.ReadU64()
	if err != nil {
		t.Fatalf("reading session id: %v", err)
	}
	mid, err := cr.ReadI32()
	if err != nil {
		t.Fatalf("reading machine id: %v", err)
	}
	sc.MachineID = mid
	eid, err := cr.ReadI32()
	if err != nil {
		t.Fatalf("reading event id: %v", err)
	}
	sc.EventIdentifier = eid
	n, err := cr.ReadU8()
	if err != nil {
		t.Fatalf("reading datasource count: %v", err)
	}
	for i := 0; i < int(n); i++ {
		name, err := cr.ReadString()
		if err != nil {
			t.Fatalf("reading tx datasource: %v", err)
		}
		txID, err := cr.ReadI64()
		if err != nil {
			t.Fatalf("reading tx id: %v", err)
		}
		sc.LastAppliedTxs = append(sc.LastAppliedTxs, TxRef{Datasource: name, TxID: txID})
	}
	return kind, sc
}

// writeEmptyResponse writes a minimal well-formed response: an int64
// primary value, a store id, and a zero-datasource, zero-transaction
// tx-stream (a single terminating 0x00 byte).
func writeEmptyResponse(t *testing.T, cw *wire.ChunkWriter, value int64, id StoreID) {
	t.Helper()
	if err := cw.WriteI64(value); err != nil {
		t.Fatalf("writing value: %v", err)
	}
	if err := writeStoreID(cw, id); err != nil {
		t.Fatalf("writing store id: %v", err)
	}
	if err := cw.WriteU8(0); err != nil { // zero datasources
		t.Fatalf("writing datasource count: %v", err)
	}
	if err := cw.WriteU8(0); err != nil { // end of tx stream
		t.Fatalf("writing tx stream terminator: %v", err)
	}
}

func int64Deserializer(cr *wire.ChunkReader, _ []byte) (int64, error) {
	return cr.ReadI64()
}

func TestSendRequest_RoundTrip(t *testing.T) {
	const wantValue = int64(42)
	wantID := StoreID{CreationTime: 1, RandomID: 2, StoreVersion: 3}

	serverFn := func(conn net.Conn) {
		cr := wire.NewChunkReader(conn, time.Second, testInternalVersion, testAppVersion, testMaxFrameLen)
		readRequest(t, cr)

		cw := wire.NewChunkWriter(conn, testMaxFrameLen)
		if err := cw.Begin(testInternalVersion, testAppVersion); err != nil {
			t.Errorf("server Begin: %v", err)
			return
		}
		writeEmptyResponse(t, cw, wantValue, wantID)
		if err := cw.Done(); err != nil {
			t.Errorf("server Done: %v", err)
		}
	}

	c := newTestClient(t, serverFn)
	kind := RequestKind{ID: 0x01}
	ser := func(cw *wire.ChunkWriter, _ []byte) error { return nil }

	resp, err := SendRequest[int64](context.Background(), c, kind, SlaveContext{SessionID: 7}, ser, int64Deserializer, nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	defer resp.Close()

	if resp.Value() != wantValue {
		t.Fatalf("Value() = %d, want %d", resp.Value(), wantValue)
	}
	if !resp.StoreID().Equal(wantID) {
		t.Fatalf("StoreID() = %+v, want %+v", resp.StoreID(), wantID)
	}
	tx, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Transactions().Next(): %v", err)
	}
	if tx != nil {
		t.Fatalf("expected an empty transaction stream, got %+v", tx)
	}
}

func TestSendRequest_StoreMismatchDisposesConnection(t *testing.T) {
	actual := StoreID{CreationTime: 1, RandomID: 1, StoreVersion: 1}
	expected := StoreID{CreationTime: 9, RandomID: 9, StoreVersion: 9}

	serverFn := func(conn net.Conn) {
		cr := wire.NewChunkReader(conn, time.Second, testInternalVersion, testAppVersion, testMaxFrameLen)
		readRequest(t, cr)

		cw := wire.NewChunkWriter(conn, testMaxFrameLen)
		_ = cw.Begin(testInternalVersion, testAppVersion)
		writeEmptyResponse(t, cw, 1, actual)
		_ = cw.Done()
	}

	c := newTestClient(t, serverFn)
	kind := RequestKind{ID: 0x01, ShouldCheckStoreID: true}
	ser := func(cw *wire.ChunkWriter, _ []byte) error { return nil }

	_, err := SendRequest[int64](context.Background(), c, kind, SlaveContext{}, ser, int64Deserializer, &expected)
	var ce *CommError
	if !errors.As(err, &ce) || ce.Kind != KindStoreMismatch {
		t.Fatalf("got %v, want a KindStoreMismatch CommError", err)
	}
	if !errors.Is(err, ErrStoreMismatch) {
		t.Fatalf("errors.Is(err, ErrStoreMismatch) = false")
	}

	if stats := c.Stats(); stats.Idle != 0 {
		t.Fatalf("a store-mismatch response must dispose its connection, idle=%d", stats.Idle)
	}
}

func TestSendRequest_TransactionStream(t *testing.T) {
	wantID := StoreID{CreationTime: 5, RandomID: 6, StoreVersion: 7}

	serverFn := func(conn net.Conn) {
		cr := wire.NewChunkReader(conn, time.Second, testInternalVersion, testAppVersion, testMaxFrameLen)
		readRequest(t, cr)

		cw := wire.NewChunkWriter(conn, testMaxFrameLen)
		_ = cw.Begin(testInternalVersion, testAppVersion)
		if err := cw.WriteI64(0); err != nil {
			t.Errorf("writing value: %v", err)
		}
		if err := writeStoreID(cw, wantID); err != nil {
			t.Errorf("writing store id: %v", err)
		}
		if err := cw.WriteU8(1); err != nil { // one datasource name
			t.Errorf("writing datasource count: %v", err)
		}
		if err := cw.WriteString("db1"); err != nil {
			t.Errorf("writing datasource name: %v", err)
		}

		// One transaction against datasource index 1 ("db1"), payload
		// smaller than one block.
		if err := cw.WriteU8(1); err != nil {
			t.Errorf("writing tx datasource index: %v", err)
		}
		if err := cw.WriteI64(100); err != nil {
			t.Errorf("writing tx id: %v", err)
		}
		bw := wire.NewBlockLogWriter(cw)
		if _, err := bw.Write([]byte("payload")); err != nil {
			t.Errorf("writing block payload: %v", err)
		}
		if err := bw.Close(); err != nil {
			t.Errorf("closing block writer: %v", err)
		}

		if err := cw.WriteU8(0); err != nil { // end of tx stream
			t.Errorf("writing tx stream terminator: %v", err)
		}
		if err := cw.Done(); err != nil {
			t.Errorf("server Done: %v", err)
		}
	}

	c := newTestClient(t, serverFn)
	kind := RequestKind{ID: 0x02}
	ser := func(cw *wire.ChunkWriter, _ []byte) error { return nil }

	resp, err := SendRequest[int64](context.Background(), c, kind, SlaveContext{}, ser, int64Deserializer, nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	defer resp.Close()

	tx, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if tx == nil {
		t.Fatal("expected one transaction, got none")
	}
	if tx.Datasource != "db1" || tx.TxID != 100 {
		t.Fatalf("got %+v, want datasource=db1 tx_id=100", tx)
	}
	got, err := io.ReadAll(tx.Payload)
	if err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("payload = %q, want %q", got, "payload")
	}

	tx2, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Next (second call): %v", err)
	}
	if tx2 != nil {
		t.Fatalf("expected stream to be exhausted, got %+v", tx2)
	}
}

// TestSendRequest_TwoDatasourceStream covers a transaction stream
// naming two datasources, where the first transaction's payload is
// shorter than one block and the second's is exactly two full blocks
// (2*wire.BlockDataSize bytes) — the edge case BlockLogWriter's
// one-block lookahead exists to handle, since a naive encoder would
// have no bytes left for a terminal block in that case.
func TestSendRequest_TwoDatasourceStream(t *testing.T) {
	wantID := StoreID{CreationTime: 11, RandomID: 12, StoreVersion: 13}
	shortPayload := bytes.Repeat([]byte{0xAA}, 10)
	exactPayload := bytes.Repeat([]byte{0xBB}, 2*wire.BlockDataSize)

	serverFn := func(conn net.Conn) {
		cr := wire.NewChunkReader(conn, time.Second, testInternalVersion, testAppVersion, testMaxFrameLen)
		readRequest(t, cr)

		cw := wire.NewChunkWriter(conn, testMaxFrameLen)
		_ = cw.Begin(testInternalVersion, testAppVersion)
		if err := cw.WriteI64(0); err != nil {
			t.Errorf("writing value: %v", err)
		}
		if err := writeStoreID(cw, wantID); err != nil {
			t.Errorf("writing store id: %v", err)
		}
		if err := cw.WriteU8(2); err != nil { // two datasource names
			t.Errorf("writing datasource count: %v", err)
		}
		if err := cw.WriteString("nioneo"); err != nil {
			t.Errorf("writing datasource name: %v", err)
		}
		if err := cw.WriteString("lucene"); err != nil {
			t.Errorf("writing datasource name: %v", err)
		}

		// Transaction 1: datasource index 1 ("nioneo"), sub-block payload.
		if err := cw.WriteU8(1); err != nil {
			t.Errorf("writing tx1 datasource index: %v", err)
		}
		if err := cw.WriteI64(42); err != nil {
			t.Errorf("writing tx1 id: %v", err)
		}
		bw1 := wire.NewBlockLogWriter(cw)
		if _, err := bw1.Write(shortPayload); err != nil {
			t.Errorf("writing tx1 payload: %v", err)
		}
		if err := bw1.Close(); err != nil {
			t.Errorf("closing tx1 block writer: %v", err)
		}

		// Transaction 2: datasource index 2 ("lucene"), payload an exact
		// multiple of BlockDataSize.
		if err := cw.WriteU8(2); err != nil {
			t.Errorf("writing tx2 datasource index: %v", err)
		}
		if err := cw.WriteI64(7); err != nil {
			t.Errorf("writing tx2 id: %v", err)
		}
		bw2 := wire.NewBlockLogWriter(cw)
		if _, err := bw2.Write(exactPayload); err != nil {
			t.Errorf("writing tx2 payload: %v", err)
		}
		if err := bw2.Close(); err != nil {
			t.Errorf("closing tx2 block writer: %v", err)
		}

		if err := cw.WriteU8(0); err != nil { // end of tx stream
			t.Errorf("writing tx stream terminator: %v", err)
		}
		if err := cw.Done(); err != nil {
			t.Errorf("server Done: %v", err)
		}
	}

	c := newTestClient(t, serverFn)
	kind := RequestKind{ID: 0x02}
	ser := func(cw *wire.ChunkWriter, _ []byte) error { return nil }

	resp, err := SendRequest[int64](context.Background(), c, kind, SlaveContext{}, ser, int64Deserializer, nil)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	defer resp.Close()

	tx1, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Next (tx1): %v", err)
	}
	if tx1 == nil {
		t.Fatal("expected a first transaction, got none")
	}
	if tx1.Datasource != "nioneo" || tx1.TxID != 42 {
		t.Fatalf("tx1 = %+v, want datasource=nioneo tx_id=42", tx1)
	}
	got1, err := io.ReadAll(tx1.Payload)
	if err != nil {
		t.Fatalf("reading tx1 payload: %v", err)
	}
	if !bytes.Equal(got1, shortPayload) {
		t.Fatalf("tx1 payload mismatch: got %d bytes, want %d", len(got1), len(shortPayload))
	}

	tx2, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Next (tx2): %v", err)
	}
	if tx2 == nil {
		t.Fatal("expected a second transaction, got none")
	}
	if tx2.Datasource != "lucene" || tx2.TxID != 7 {
		t.Fatalf("tx2 = %+v, want datasource=lucene tx_id=7", tx2)
	}
	got2, err := io.ReadAll(tx2.Payload)
	if err != nil {
		t.Fatalf("reading tx2 payload: %v", err)
	}
	if !bytes.Equal(got2, exactPayload) {
		t.Fatalf("tx2 payload mismatch: got %d bytes, want %d", len(got2), len(exactPayload))
	}

	tx3, err := resp.Transactions().Next()
	if err != nil {
		t.Fatalf("Next (third call): %v", err)
	}
	if tx3 != nil {
		t.Fatalf("expected stream to be exhausted, got %+v", tx3)
	}
}

// TestSendRequest_ReadTimeout covers a server that sends the first
// chunk of its response and then stalls indefinitely: SendRequest must
// fail with a KindTimeout CommError once the per-kind read timeout
// elapses, and must dispose (never release) the connection.
func TestSendRequest_ReadTimeout(t *testing.T) {
	// A small frame length means a single WriteI64 call already exceeds
	// one frame's capacity, forcing one "more" frame onto the wire
	// before the server goroutine returns without ever calling Done —
	// exactly the "first chunk, then stall" scenario.
	const stallFrameLen = 8

	serverFn := func(conn net.Conn) {
		cr := wire.NewChunkReader(conn, time.Second, testInternalVersion, testAppVersion, testMaxFrameLen)
		readRequest(t, cr)

		cw := wire.NewChunkWriter(conn, stallFrameLen)
		if err := cw.Begin(testInternalVersion, testAppVersion); err != nil {
			t.Errorf("server Begin: %v", err)
			return
		}
		if err := cw.WriteI64(0); err != nil {
			t.Errorf("writing value: %v", err)
		}
		// No further writes, no Done(): the connection now stalls.
	}

	c := newTestClient(t, serverFn)
	kind := RequestKind{ID: 0x01, ReadTimeoutOverride: time.Second}
	ser := func(cw *wire.ChunkWriter, _ []byte) error { return nil }

	start := time.Now()
	_, err := SendRequest[int64](context.Background(), c, kind, SlaveContext{}, ser, int64Deserializer, nil)
	elapsed := time.Since(start)

	var ce *CommError
	if !errors.As(err, &ce) || ce.Kind != KindTimeout {
		t.Fatalf("got %v, want a KindTimeout CommError", err)
	}
	if elapsed < time.Second || elapsed >= 2*time.Second {
		t.Fatalf("elapsed = %v, want >= 1s and < 2s", elapsed)
	}
	if stats := c.Stats(); stats.Idle != 0 {
		t.Fatalf("a timed-out response must dispose its connection, idle=%d", stats.Idle)
	}
}
