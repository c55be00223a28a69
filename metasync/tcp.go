package metasync

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/pkg/ioutil"
	"github.com/kfsvr/metavr/pkg/netutil"
	"github.com/kfsvr/metavr/pkg/xlog"
)

var syncLogger = xlog.NewLogger("metasync", xlog.INFO)

// headerLen is the fixed size of the wire header: 3 uint64s for the
// checkpoint's LogSeq (epoch, view, seq) followed by an int64 byte
// length.
const headerLen = 3*8 + 8

// TCPSync is the default MetaDataSync: one TCP connection per pull,
// the checkpoint streamed as a fixed header followed by exactly
// Length bytes, written through a PageWriter so large checkpoints
// don't pin an unbounded buffer.
//
// (etcd raftsnap.Message carried over rafthttp's pipeline handler,
// narrowed to a dedicated request/response pair instead of being
// multiplexed over the general raft message stream)
type TCPSync struct {
	dialTimeout time.Duration
}

// NewTCPSync constructs a TCPSync with a default 10s dial timeout.
func NewTCPSync() *TCPSync {
	return &TCPSync{dialTimeout: 10 * time.Second}
}

func (s *TCPSync) Pull(ctx context.Context, primaryAddr string, sink CheckpointSink) (logseq.LogSeq, error) {
	conn, err := net.DialTimeout("tcp", primaryAddr, s.dialTimeout)
	if err != nil {
		return logseq.LogSeq{}, fmt.Errorf("metasync: dial %s: %w", primaryAddr, err)
	}
	conn = netutil.NewListenerKeepAliveConn(conn)
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	at, sz, err := readHeader(conn)
	if err != nil {
		return logseq.LogSeq{}, fmt.Errorf("metasync: read header: %w", err)
	}

	r := ioutil.NewExactReadCloser(conn, sz)
	defer r.Close()
	if err := sink.InstallCheckpoint(r, sz, at); err != nil {
		return logseq.LogSeq{}, fmt.Errorf("metasync: install checkpoint: %w", err)
	}
	syncLogger.Infof("pulled checkpoint from %s at %s (%d bytes)", primaryAddr, at, sz)
	return at, nil
}

func (s *TCPSync) Serve(ctx context.Context, conn CloserConn, src CheckpointSource) error {
	rc, sz, at, err := src.OpenCheckpoint()
	if err != nil {
		return fmt.Errorf("metasync: open checkpoint: %w", err)
	}
	defer rc.Close()

	if err := writeHeader(conn, at, sz); err != nil {
		return fmt.Errorf("metasync: write header: %w", err)
	}

	pw := ioutil.NewPageWriter(conn, 4096)
	if _, err := io.CopyN(pw, rc, sz); err != nil {
		return fmt.Errorf("metasync: stream checkpoint: %w", err)
	}
	if err := pw.Flush(); err != nil {
		return fmt.Errorf("metasync: flush: %w", err)
	}
	syncLogger.Infof("served checkpoint at %s (%d bytes)", at, sz)
	return nil
}

func writeHeader(w io.Writer, at logseq.LogSeq, sz int64) error {
	var buf [headerLen]byte
	binary.BigEndian.PutUint64(buf[0:8], at.Epoch)
	binary.BigEndian.PutUint64(buf[8:16], at.View)
	binary.BigEndian.PutUint64(buf[16:24], at.Seq)
	binary.BigEndian.PutUint64(buf[24:32], uint64(sz))
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (logseq.LogSeq, int64, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return logseq.LogSeq{}, 0, err
	}
	at := logseq.LogSeq{
		Epoch: binary.BigEndian.Uint64(buf[0:8]),
		View:  binary.BigEndian.Uint64(buf[8:16]),
		Seq:   binary.BigEndian.Uint64(buf[16:24]),
	}
	sz := int64(binary.BigEndian.Uint64(buf[24:32]))
	return at, sz, nil
}
